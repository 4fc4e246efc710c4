package kafka

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
	"github.com/segmentio/kafka-go"
)

const (
	defaultPartitions        = 1
	defaultReplicationFactor = 1
)

// SchemaOps implements adapter.SchemaOperator for Kafka. Topics are the
// containers; there are no namespaces.
type SchemaOps struct {
	conn *Connection
}

// ListNamespaces always returns an empty list.
func (s *SchemaOps) ListNamespaces(ctx context.Context) ([]adapter.Namespace, error) {
	if err := s.conn.checkOpen(); err != nil {
		return nil, err
	}
	return []adapter.Namespace{}, nil
}

// ListContainers lists topics with partition, replication and message
// counts. Internal topics are hidden unless asked for.
func (s *SchemaOps) ListContainers(ctx context.Context, namespace string, opts adapter.ListOptions) ([]adapter.Container, error) {
	op := string(dbcapabilities.OpListContainers)
	if err := s.conn.checkOpen(); err != nil {
		return nil, err
	}
	meta, err := s.conn.client.Metadata(ctx, &kafka.MetadataRequest{})
	if err != nil {
		return nil, wrapErr(op, err)
	}

	topics := selectTopics(meta.Topics, opts)
	counts := s.messageCounts(ctx, topics)

	containers := make([]adapter.Container, 0, len(topics))
	for _, t := range topics {
		stats := map[string]interface{}{
			"partitions":        len(t.Partitions),
			"replicationFactor": replicationFactor(t),
			"internal":          t.Internal,
		}
		if n, ok := counts[t.Name]; ok {
			stats["messages"] = n
		}
		containers = append(containers, adapter.Container{Name: t.Name, Type: "topic", Stats: stats})
	}
	return containers, nil
}

// selectTopics filters by prefix and visibility, sorts by name and applies
// the limit.
func selectTopics(all []kafka.Topic, opts adapter.ListOptions) []kafka.Topic {
	out := make([]kafka.Topic, 0, len(all))
	for _, t := range all {
		if t.Error != nil {
			continue
		}
		if !opts.IncludeInternal && (t.Internal || strings.HasPrefix(t.Name, "__")) {
			continue
		}
		if opts.Pattern != "" && !strings.HasPrefix(t.Name, opts.Pattern) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

func replicationFactor(t kafka.Topic) int {
	rf := 0
	for _, p := range t.Partitions {
		if len(p.Replicas) > rf {
			rf = len(p.Replicas)
		}
	}
	return rf
}

// messageCounts sums high minus low watermarks per topic. Counts are
// best effort; a failed offset lookup leaves them out.
func (s *SchemaOps) messageCounts(ctx context.Context, topics []kafka.Topic) map[string]int64 {
	if len(topics) == 0 {
		return nil
	}
	req := &kafka.ListOffsetsRequest{Topics: map[string][]kafka.OffsetRequest{}}
	for _, t := range topics {
		for _, p := range t.Partitions {
			req.Topics[t.Name] = append(req.Topics[t.Name], kafka.FirstOffsetOf(p.ID), kafka.LastOffsetOf(p.ID))
		}
	}
	res, err := s.conn.client.ListOffsets(ctx, req)
	if err != nil {
		return nil
	}
	counts := make(map[string]int64, len(res.Topics))
	for topic, partitions := range res.Topics {
		var total int64
		for _, p := range partitions {
			if p.Error == nil && p.LastOffset > p.FirstOffset {
				total += p.LastOffset - p.FirstOffset
			}
		}
		counts[topic] = total
	}
	return counts
}

// ManageSchema creates or deletes topics and alters topic configuration.
func (s *SchemaOps) ManageSchema(ctx context.Context, req adapter.SchemaRequest) (*adapter.SchemaResult, error) {
	op := string(dbcapabilities.OpManageSchema)
	if err := s.conn.checkOpen(); err != nil {
		return nil, err
	}
	if req.Target == "" {
		return nil, adapter.NewValidationError("target", "topic name is required")
	}

	switch req.Action {
	case adapter.ActionCreateContainer:
		if err := s.createTopic(ctx, req); err != nil {
			return nil, err
		}
		return &adapter.SchemaResult{Action: req.Action, Target: req.Target, Message: fmt.Sprintf("topic %s created", req.Target)}, nil

	case adapter.ActionDropContainer:
		if err := deleteTopic(ctx, s.conn, req.Target); err != nil {
			return nil, err
		}
		return &adapter.SchemaResult{Action: req.Action, Target: req.Target, Message: fmt.Sprintf("topic %s deleted", req.Target)}, nil

	case adapter.ActionAlterConfig:
		if err := s.alterConfig(ctx, req); err != nil {
			return nil, err
		}
		return &adapter.SchemaResult{Action: req.Action, Target: req.Target, Message: fmt.Sprintf("%d settings updated on %s", len(req.Config), req.Target)}, nil
	}
	return nil, adapter.NewUnsupportedOperationError(kind, op, fmt.Sprintf("schema action %q", req.Action))
}

func (s *SchemaOps) createTopic(ctx context.Context, req adapter.SchemaRequest) error {
	op := string(dbcapabilities.OpManageSchema)
	partitions, replication := req.Partitions, req.ReplicationFactor
	if partitions < 0 || replication < 0 {
		return adapter.NewValidationError("partitions", "partitions and replication factor must be positive")
	}
	if partitions == 0 {
		partitions = defaultPartitions
	}
	if replication == 0 {
		replication = defaultReplicationFactor
	}

	res, err := s.conn.client.CreateTopics(ctx, &kafka.CreateTopicsRequest{
		Topics: []kafka.TopicConfig{{
			Topic:             req.Target,
			NumPartitions:     partitions,
			ReplicationFactor: replication,
			ConfigEntries:     configEntries(req.Config),
		}},
	})
	if err != nil {
		return wrapErr(op, err)
	}
	if _, err := firstError(res.Errors); err != nil {
		return wrapErr(op, err)
	}
	return nil
}

func deleteTopic(ctx context.Context, conn *Connection, topic string) error {
	op := string(dbcapabilities.OpDelete)
	res, err := conn.client.DeleteTopics(ctx, &kafka.DeleteTopicsRequest{Topics: []string{topic}})
	if err != nil {
		return wrapErr(op, err)
	}
	if _, err := firstError(res.Errors); err != nil {
		return wrapErr(op, err)
	}
	return nil
}

func (s *SchemaOps) alterConfig(ctx context.Context, req adapter.SchemaRequest) error {
	op := string(dbcapabilities.OpManageSchema)
	if len(req.Config) == 0 {
		return adapter.NewValidationError("config", "at least one setting is required")
	}
	configs := make([]kafka.IncrementalAlterConfigsRequestConfig, 0, len(req.Config))
	for _, e := range configEntries(req.Config) {
		configs = append(configs, kafka.IncrementalAlterConfigsRequestConfig{
			Name:            e.ConfigName,
			Value:           e.ConfigValue,
			ConfigOperation: kafka.ConfigOperationSet,
		})
	}

	res, err := s.conn.client.IncrementalAlterConfigs(ctx, &kafka.IncrementalAlterConfigsRequest{
		Resources: []kafka.IncrementalAlterConfigsRequestResource{{
			ResourceType: kafka.ResourceTypeTopic,
			ResourceName: req.Target,
			Configs:      configs,
		}},
	})
	if err != nil {
		return wrapErr(op, err)
	}
	for _, r := range res.Resources {
		if r.Error != nil {
			return wrapErr(op, r.Error)
		}
	}
	return nil
}

// configEntries converts settings in name order.
func configEntries(cfg map[string]string) []kafka.ConfigEntry {
	names := make([]string, 0, len(cfg))
	for name := range cfg {
		names = append(names, name)
	}
	sort.Strings(names)
	entries := make([]kafka.ConfigEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, kafka.ConfigEntry{ConfigName: name, ConfigValue: cfg[name]})
	}
	return entries
}
