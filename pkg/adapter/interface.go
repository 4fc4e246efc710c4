package adapter

import (
	"context"
	"net"

	"github.com/redbco/redb-desk/pkg/dbcapabilities"
)

// Adapter creates connections for one backend kind.
type Adapter interface {
	Kind() dbcapabilities.Kind
	Capabilities() dbcapabilities.Capability

	// Connect opens a client through transport and verifies it with a
	// round trip. The transport stays owned by the caller.
	Connect(ctx context.Context, profile ConnectionProfile, transport Transport) (Connection, error)
}

// Transport is the network path to a backend: either the backend itself or
// the local end of an SSH tunnel.
type Transport interface {
	// Address is the host:port a client should dial.
	Address() string
	Host() string
	Port() int

	// DialContext reaches arbitrary addresses over the same path. Log
	// brokers need it because brokers advertise their own addresses.
	DialContext(ctx context.Context, network, address string) (net.Conn, error)

	// Tunneled reports whether traffic is forwarded over SSH.
	Tunneled() bool
	Close() error
}

// Connection is a live client for one connection profile.
type Connection interface {
	ID() string
	Kind() dbcapabilities.Kind
	IsConnected() bool

	Ping(ctx context.Context) error
	Close() error

	SchemaOperations() SchemaOperator
	DataOperations() DataOperator
	MetadataOperations() MetadataOperator
	PubSubOperations() PubSubOperator
	ConsumerOperations() ConsumerOperator

	// Raw returns the underlying driver client.
	Raw() interface{}
	Profile() ConnectionProfile
	Adapter() Adapter
}

// SchemaOperator lists and manages namespaces and containers.
type SchemaOperator interface {
	ListNamespaces(ctx context.Context) ([]Namespace, error)
	ListContainers(ctx context.Context, namespace string, opts ListOptions) ([]Container, error)
	ManageSchema(ctx context.Context, req SchemaRequest) (*SchemaResult, error)
}

// DataOperator handles record level operations.
type DataOperator interface {
	Read(ctx context.Context, req ReadRequest) (*ReadResult, error)
	Write(ctx context.Context, req WriteRequest) (*WriteResult, error)
	Update(ctx context.Context, req UpdateRequest) (*WriteResult, error)
	Delete(ctx context.Context, req DeleteRequest) (*WriteResult, error)
	Aggregate(ctx context.Context, req AggregateRequest) (*ReadResult, error)
	Explain(ctx context.Context, req ExplainRequest) (map[string]interface{}, error)
}

// MetadataOperator handles server introspection.
type MetadataOperator interface {
	ServerStats(ctx context.Context) (map[string]interface{}, error)
	GetVersion(ctx context.Context) (string, error)

	// ExecuteCommand runs a backend-native command line or document.
	ExecuteCommand(ctx context.Context, command string) (interface{}, error)
}

// MessageSink receives pub/sub messages. It is called from the adapter's
// receive goroutine and must not block for long.
type MessageSink func(ChannelMessage)

// PubSubOperator manages channel subscriptions on one connection.
type PubSubOperator interface {
	Subscribe(ctx context.Context, channels []string, sink MessageSink) error
	Unsubscribe(ctx context.Context, channels []string) error
	UnsubscribeAll(ctx context.Context) error
	Publish(ctx context.Context, channel, payload string) (int64, error)
	Channels() []string
}

// ConsumerOperator reads bounded batches from a topic without consumer group state.
type ConsumerOperator interface {
	ConsumeMessages(ctx context.Context, req ConsumeRequest) ([]BrokerMessage, error)
}
