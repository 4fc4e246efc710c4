package kafka

import (
	"context"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
	"github.com/segmentio/kafka-go"
)

// MetadataOps implements adapter.MetadataOperator for Kafka. Brokers do not
// report a product version and accept no command language, so GetVersion
// and ExecuteCommand are unsupported.
type MetadataOps struct {
	adapter.UnsupportedMetadataOperator
	conn *Connection
}

// ServerStats reports brokers, the controller and partition health.
func (m *MetadataOps) ServerStats(ctx context.Context) (map[string]interface{}, error) {
	if err := m.conn.checkOpen(); err != nil {
		return nil, err
	}
	meta, err := m.conn.client.Metadata(ctx, &kafka.MetadataRequest{})
	if err != nil {
		return nil, wrapErr(string(dbcapabilities.OpServerStats), err)
	}
	return clusterStats(meta), nil
}

func clusterStats(meta *kafka.MetadataResponse) map[string]interface{} {
	brokers := make([]map[string]interface{}, 0, len(meta.Brokers))
	for _, b := range meta.Brokers {
		broker := map[string]interface{}{"id": b.ID, "host": b.Host, "port": b.Port}
		if b.Rack != "" {
			broker["rack"] = b.Rack
		}
		brokers = append(brokers, broker)
	}

	var topics, internal, partitions, underReplicated, offline int
	for _, t := range meta.Topics {
		if t.Internal {
			internal++
		} else {
			topics++
		}
		for _, p := range t.Partitions {
			partitions++
			if len(p.Isr) < len(p.Replicas) {
				underReplicated++
			}
			if p.Leader.Host == "" || len(p.OfflineReplicas) > 0 {
				offline++
			}
		}
	}

	return map[string]interface{}{
		"clusterId":  meta.ClusterID,
		"controller": meta.Controller.ID,
		"brokers":    brokers,
		"topics": map[string]interface{}{
			"count":    topics,
			"internal": internal,
		},
		"partitions": map[string]interface{}{
			"count":           partitions,
			"underReplicated": underReplicated,
			"offline":         offline,
		},
	}
}
