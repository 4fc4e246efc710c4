package kafka

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

// ConsumerOps reads bounded batches from a topic. It never joins a
// consumer group or commits offsets, so reading is side-effect free.
type ConsumerOps struct {
	conn *Connection
}

// partitionRange is the half-open offset range [start, end) to read from
// one partition.
type partitionRange struct {
	partition int
	start     int64
	end       int64
}

// ConsumeMessages returns up to Limit messages. From the beginning it reads
// the oldest messages; otherwise the newest. Either way the result is
// ordered oldest first. An empty topic yields an empty list.
func (c *ConsumerOps) ConsumeMessages(ctx context.Context, req adapter.ConsumeRequest) ([]adapter.BrokerMessage, error) {
	op := string(dbcapabilities.OpConsumeMessages)
	if err := c.conn.checkOpen(); err != nil {
		return nil, err
	}
	if req.Topic == "" {
		return nil, adapter.NewValidationError("topic", "topic is required")
	}
	if req.Limit < 0 {
		return nil, adapter.NewValidationError("limit", "limit must not be negative")
	}
	limit := req.Limit
	if limit == 0 {
		limit = adapter.DefaultReadLimit
	}
	if limit > c.conn.adapter.maxMessages {
		limit = c.conn.adapter.maxMessages
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.conn.adapter.consumeTimeout
	}
	// Stop reading before the caller's deadline so a partial batch can
	// still be returned.
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining > deadlineHeadroom {
			remaining -= deadlineHeadroom
		} else {
			remaining /= 2
		}
		if remaining < timeout {
			timeout = remaining
		}
	}

	ranges, err := c.plan(ctx, req.Topic, limit, req.FromBeginning)
	if err != nil {
		return nil, err
	}
	if len(ranges) == 0 {
		return []adapter.BrokerMessage{}, nil
	}

	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make([][]adapter.BrokerMessage, len(ranges))
	g, gctx := errgroup.WithContext(readCtx)
	for i, r := range ranges {
		g.Go(func() error {
			msgs, err := c.readPartition(gctx, req.Topic, r)
			results[i] = msgs
			return err
		})
	}
	if err := g.Wait(); err != nil {
		// The read deadline bounds the peek; what arrived before it is the result.
		if !(errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil) {
			return nil, wrapErr(op, err)
		}
	}
	return mergeMessages(results, limit, req.FromBeginning), nil
}

// plan looks up partition watermarks and picks the range to read from each.
func (c *ConsumerOps) plan(ctx context.Context, topic string, limit int, fromBeginning bool) ([]partitionRange, error) {
	op := string(dbcapabilities.OpConsumeMessages)
	meta, err := c.conn.client.Metadata(ctx, &kafka.MetadataRequest{Topics: []string{topic}})
	if err != nil {
		return nil, wrapErr(op, err)
	}
	var partitions []kafka.Partition
	for _, t := range meta.Topics {
		if t.Name != topic {
			continue
		}
		if t.Error != nil {
			return nil, wrapErr(op, t.Error)
		}
		partitions = t.Partitions
	}
	if len(partitions) == 0 {
		return nil, adapter.NewDatabaseError(kind, op, fmt.Errorf("topic %q not found", topic)).
			WithCode(fmt.Sprint(int(kafka.UnknownTopicOrPartition)))
	}

	req := &kafka.ListOffsetsRequest{Topics: map[string][]kafka.OffsetRequest{}}
	for _, p := range partitions {
		req.Topics[topic] = append(req.Topics[topic], kafka.FirstOffsetOf(p.ID), kafka.LastOffsetOf(p.ID))
	}
	res, err := c.conn.client.ListOffsets(ctx, req)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	offsets := res.Topics[topic]
	for _, p := range offsets {
		if p.Error != nil {
			return nil, wrapErr(op, p.Error)
		}
	}
	return planRanges(offsets, limit, fromBeginning), nil
}

// planRanges bounds every partition to at most limit messages: the first
// ones from the low watermark, or the last ones before the high watermark.
func planRanges(offsets []kafka.PartitionOffsets, limit int, fromBeginning bool) []partitionRange {
	n := int64(limit)
	var ranges []partitionRange
	for _, p := range offsets {
		r := partitionRange{partition: p.Partition, start: p.FirstOffset, end: p.LastOffset}
		if fromBeginning {
			if r.end > r.start+n {
				r.end = r.start + n
			}
		} else if r.start < r.end-n {
			r.start = r.end - n
		}
		if r.start < 0 || r.start >= r.end {
			continue
		}
		ranges = append(ranges, r)
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].partition < ranges[j].partition })
	return ranges
}

func (c *ConsumerOps) readPartition(ctx context.Context, topic string, r partitionRange) ([]adapter.BrokerMessage, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   c.conn.config.brokers,
		Topic:     topic,
		Partition: r.partition,
		Dialer:    c.conn.config.dialer,
		MinBytes:  1,
		MaxBytes:  10 << 20,
		MaxWait:   250 * time.Millisecond,
	})
	defer reader.Close()

	if err := reader.SetOffset(r.start); err != nil {
		return nil, err
	}
	msgs := make([]adapter.BrokerMessage, 0, r.end-r.start)
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			return msgs, err
		}
		if m.Offset >= r.end {
			return msgs, nil
		}
		msgs = append(msgs, toBrokerMessage(m))
		// Compacted topics have offset gaps, so compare instead of counting.
		if m.Offset >= r.end-1 {
			return msgs, nil
		}
	}
}

// mergeMessages orders messages across partitions by timestamp and keeps
// the oldest or the newest limit of them.
func mergeMessages(parts [][]adapter.BrokerMessage, limit int, fromBeginning bool) []adapter.BrokerMessage {
	merged := []adapter.BrokerMessage{}
	for _, p := range parts {
		merged = append(merged, p...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Partition != b.Partition {
			return a.Partition < b.Partition
		}
		return a.Offset < b.Offset
	})
	if len(merged) > limit {
		if fromBeginning {
			merged = merged[:limit]
		} else {
			merged = merged[len(merged)-limit:]
		}
	}
	return merged
}

func toBrokerMessage(m kafka.Message) adapter.BrokerMessage {
	msg := adapter.BrokerMessage{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       string(m.Key),
		Value:     string(m.Value),
		Timestamp: m.Time.UTC(),
	}
	if len(m.Headers) > 0 {
		msg.Headers = make(map[string]string, len(m.Headers))
		for _, h := range m.Headers {
			msg.Headers[h.Key] = string(h.Value)
		}
	}
	return msg
}
