package kafka

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
	"github.com/segmentio/kafka-go"
)

var messageColumns = []string{"topic", "partition", "offset", "key", "value", "headers", "timestamp"}

// DataOps implements adapter.DataOperator for Kafka. Records are
// append-only, so Update, Aggregate and Explain stay unsupported.
type DataOps struct {
	adapter.UnsupportedDataOperator
	conn *Connection
}

// Read consumes up to Limit messages from the topic named by Container.
func (d *DataOps) Read(ctx context.Context, req adapter.ReadRequest) (*adapter.ReadResult, error) {
	if req.Container == "" {
		return nil, adapter.NewValidationError("container", "topic is required")
	}
	msgs, err := (&ConsumerOps{conn: d.conn}).ConsumeMessages(ctx, adapter.ConsumeRequest{
		Topic:         req.Container,
		Limit:         req.Limit,
		FromBeginning: req.FromBeginning,
	})
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]interface{}, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, m.Row())
	}
	return adapter.NewReadResult(messageColumns, rows, 0), nil
}

// Write produces Messages to the topic. A string Value is shorthand for a
// single unkeyed message. Messages pinned to a partition bypass the
// balancer.
func (d *DataOps) Write(ctx context.Context, req adapter.WriteRequest) (*adapter.WriteResult, error) {
	op := string(dbcapabilities.OpWrite)
	if err := d.conn.checkOpen(); err != nil {
		return nil, err
	}
	if req.Container == "" {
		return nil, adapter.NewValidationError("container", "topic is required")
	}
	messages := req.Messages
	if len(messages) == 0 {
		if s, ok := req.Value.(string); ok {
			messages = []adapter.ProduceMessage{{Value: s}}
		}
	}
	if len(messages) == 0 {
		return nil, adapter.NewValidationError("messages", "at least one message is required")
	}

	var balanced []kafka.Message
	pinned := map[int][]kafka.Record{}
	now := time.Now()
	for _, m := range messages {
		if m.Partition != nil {
			if *m.Partition < 0 {
				return nil, adapter.NewValidationError("partition", "partition must not be negative")
			}
			pinned[*m.Partition] = append(pinned[*m.Partition], toRecord(m, now))
			continue
		}
		balanced = append(balanced, toMessage(req.Container, m))
	}

	if len(balanced) > 0 {
		writer, err := d.conn.producer()
		if err != nil {
			return nil, err
		}
		if err := writer.WriteMessages(ctx, balanced...); err != nil {
			return nil, wrapErr(op, err)
		}
	}
	if err := d.producePinned(ctx, req.Container, pinned); err != nil {
		return nil, err
	}
	return &adapter.WriteResult{Affected: int64(len(messages))}, nil
}

func (d *DataOps) producePinned(ctx context.Context, topic string, pinned map[int][]kafka.Record) error {
	op := string(dbcapabilities.OpWrite)
	partitions := make([]int, 0, len(pinned))
	for p := range pinned {
		partitions = append(partitions, p)
	}
	sort.Ints(partitions)

	for _, p := range partitions {
		res, err := d.conn.client.Produce(ctx, &kafka.ProduceRequest{
			Topic:        topic,
			Partition:    p,
			RequiredAcks: kafka.RequireAll,
			Records:      kafka.NewRecordReader(pinned[p]...),
		})
		if err != nil {
			return wrapErr(op, err)
		}
		if res.Error != nil {
			return wrapErr(op, res.Error)
		}
		if len(res.RecordErrors) > 0 {
			indices := make([]int, 0, len(res.RecordErrors))
			for idx := range res.RecordErrors {
				indices = append(indices, idx)
			}
			sort.Ints(indices)
			first := indices[0]
			return wrapErr(op, fmt.Errorf("record %d on partition %d: %w", first, p, res.RecordErrors[first]))
		}
	}
	return nil
}

// Delete removes the topic named by Container.
func (d *DataOps) Delete(ctx context.Context, req adapter.DeleteRequest) (*adapter.WriteResult, error) {
	if err := d.conn.checkOpen(); err != nil {
		return nil, err
	}
	if req.Container == "" {
		return nil, adapter.NewValidationError("container", "topic is required")
	}
	if err := deleteTopic(ctx, d.conn, req.Container); err != nil {
		return nil, err
	}
	return &adapter.WriteResult{Affected: 1}, nil
}

func toMessage(topic string, m adapter.ProduceMessage) kafka.Message {
	msg := kafka.Message{Topic: topic, Value: []byte(m.Value), Headers: toHeaders(m.Headers)}
	if m.Key != "" {
		msg.Key = []byte(m.Key)
	}
	return msg
}

func toRecord(m adapter.ProduceMessage, now time.Time) kafka.Record {
	rec := kafka.Record{
		Time:    now,
		Value:   kafka.NewBytes([]byte(m.Value)),
		Headers: toHeaders(m.Headers),
	}
	if m.Key != "" {
		rec.Key = kafka.NewBytes([]byte(m.Key))
	}
	return rec
}

// toHeaders converts headers in key order.
func toHeaders(headers map[string]string) []kafka.Header {
	if len(headers) == 0 {
		return nil
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]kafka.Header, 0, len(keys))
	for _, k := range keys {
		out = append(out, kafka.Header{Key: k, Value: []byte(headers[k])})
	}
	return out
}
