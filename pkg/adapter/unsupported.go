package adapter

import (
	"context"

	"github.com/redbco/redb-desk/pkg/dbcapabilities"
)

// UnsupportedSchemaOperator answers every schema operation with UnsupportedOperation.
// Adapters embed it and override what they support.
type UnsupportedSchemaOperator struct {
	Backend dbcapabilities.Kind
}

func (u UnsupportedSchemaOperator) ListNamespaces(ctx context.Context) ([]Namespace, error) {
	return nil, NewUnsupportedOperationError(u.Backend, string(dbcapabilities.OpListNamespaces), "")
}

func (u UnsupportedSchemaOperator) ListContainers(ctx context.Context, namespace string, opts ListOptions) ([]Container, error) {
	return nil, NewUnsupportedOperationError(u.Backend, string(dbcapabilities.OpListContainers), "")
}

func (u UnsupportedSchemaOperator) ManageSchema(ctx context.Context, req SchemaRequest) (*SchemaResult, error) {
	return nil, NewUnsupportedOperationError(u.Backend, string(dbcapabilities.OpManageSchema), "")
}

// UnsupportedDataOperator answers every data operation with UnsupportedOperation.
type UnsupportedDataOperator struct {
	Backend dbcapabilities.Kind
}

func (u UnsupportedDataOperator) Read(ctx context.Context, req ReadRequest) (*ReadResult, error) {
	return nil, NewUnsupportedOperationError(u.Backend, string(dbcapabilities.OpRead), "")
}

func (u UnsupportedDataOperator) Write(ctx context.Context, req WriteRequest) (*WriteResult, error) {
	return nil, NewUnsupportedOperationError(u.Backend, string(dbcapabilities.OpWrite), "")
}

func (u UnsupportedDataOperator) Update(ctx context.Context, req UpdateRequest) (*WriteResult, error) {
	return nil, NewUnsupportedOperationError(u.Backend, string(dbcapabilities.OpUpdate), "")
}

func (u UnsupportedDataOperator) Delete(ctx context.Context, req DeleteRequest) (*WriteResult, error) {
	return nil, NewUnsupportedOperationError(u.Backend, string(dbcapabilities.OpDelete), "")
}

func (u UnsupportedDataOperator) Aggregate(ctx context.Context, req AggregateRequest) (*ReadResult, error) {
	return nil, NewUnsupportedOperationError(u.Backend, string(dbcapabilities.OpAggregate), "")
}

func (u UnsupportedDataOperator) Explain(ctx context.Context, req ExplainRequest) (map[string]interface{}, error) {
	return nil, NewUnsupportedOperationError(u.Backend, string(dbcapabilities.OpExplain), "")
}

// UnsupportedMetadataOperator answers every metadata operation with UnsupportedOperation.
type UnsupportedMetadataOperator struct {
	Backend dbcapabilities.Kind
}

func (u UnsupportedMetadataOperator) ServerStats(ctx context.Context) (map[string]interface{}, error) {
	return nil, NewUnsupportedOperationError(u.Backend, string(dbcapabilities.OpServerStats), "")
}

func (u UnsupportedMetadataOperator) GetVersion(ctx context.Context) (string, error) {
	return "", NewUnsupportedOperationError(u.Backend, string(dbcapabilities.OpVersion), "")
}

func (u UnsupportedMetadataOperator) ExecuteCommand(ctx context.Context, command string) (interface{}, error) {
	return nil, NewUnsupportedOperationError(u.Backend, string(dbcapabilities.OpRawCommand), "")
}

// UnsupportedPubSubOperator is returned by connections without channels.
type UnsupportedPubSubOperator struct {
	Backend dbcapabilities.Kind
}

func (u UnsupportedPubSubOperator) Subscribe(ctx context.Context, channels []string, sink MessageSink) error {
	return NewUnsupportedOperationError(u.Backend, string(dbcapabilities.OpSubscribe), "backend has no pub/sub channels")
}

func (u UnsupportedPubSubOperator) Unsubscribe(ctx context.Context, channels []string) error {
	return NewUnsupportedOperationError(u.Backend, string(dbcapabilities.OpUnsubscribe), "backend has no pub/sub channels")
}

func (u UnsupportedPubSubOperator) UnsubscribeAll(ctx context.Context) error {
	return NewUnsupportedOperationError(u.Backend, string(dbcapabilities.OpUnsubscribeAll), "backend has no pub/sub channels")
}

func (u UnsupportedPubSubOperator) Publish(ctx context.Context, channel, payload string) (int64, error) {
	return 0, NewUnsupportedOperationError(u.Backend, string(dbcapabilities.OpPublish), "backend has no pub/sub channels")
}

func (u UnsupportedPubSubOperator) Channels() []string { return nil }

// UnsupportedConsumerOperator is returned by connections without topics.
type UnsupportedConsumerOperator struct {
	Backend dbcapabilities.Kind
}

func (u UnsupportedConsumerOperator) ConsumeMessages(ctx context.Context, req ConsumeRequest) ([]BrokerMessage, error) {
	return nil, NewUnsupportedOperationError(u.Backend, string(dbcapabilities.OpConsumeMessages), "backend has no topics")
}

// IsUnsupportedOperator checks if an operator is one of the unsupported nil objects.
func IsUnsupportedOperator(op interface{}) bool {
	switch op.(type) {
	case UnsupportedSchemaOperator, *UnsupportedSchemaOperator,
		UnsupportedDataOperator, *UnsupportedDataOperator,
		UnsupportedMetadataOperator, *UnsupportedMetadataOperator,
		UnsupportedPubSubOperator, *UnsupportedPubSubOperator,
		UnsupportedConsumerOperator, *UnsupportedConsumerOperator:
		return true
	default:
		return false
	}
}
