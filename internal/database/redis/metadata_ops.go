package redis

import (
	"context"
	"errors"
	"strings"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
	"github.com/redis/go-redis/v9"
)

// MetadataOps implements adapter.MetadataOperator for Redis.
type MetadataOps struct {
	conn *Connection
}

// statsSections are the INFO sections reported by ServerStats.
var statsSections = []string{"server", "clients", "memory", "persistence", "stats", "replication", "keyspace"}

// ServerStats returns the parsed INFO sections with numeric values
// converted. Plain INFO is used because multi-section INFO needs Redis 7.
func (m *MetadataOps) ServerStats(ctx context.Context) (map[string]interface{}, error) {
	client, err := m.conn.client("")
	if err != nil {
		return nil, err
	}
	info, err := client.Info(ctx).Result()
	if err != nil {
		return nil, wrapErr(string(dbcapabilities.OpServerStats), err)
	}

	parsed := parseInfo(info)
	stats := make(map[string]interface{}, len(statsSections)+2)
	for _, name := range statsSections {
		fields, ok := parsed[name]
		if !ok {
			continue
		}
		section := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			if name == "keyspace" {
				section[k] = parseKeyspaceLine(v)
				continue
			}
			section[k] = infoValue(v)
		}
		stats[name] = section
	}
	if repl, ok := parsed["replication"]; ok {
		stats["role"] = repl["role"]
	}
	if server, ok := parsed["server"]; ok {
		stats["version"] = server["redis_version"]
	}
	return stats, nil
}

// GetVersion returns redis_version from INFO server.
func (m *MetadataOps) GetVersion(ctx context.Context) (string, error) {
	client, err := m.conn.client("")
	if err != nil {
		return "", err
	}
	info, err := client.Info(ctx, "server").Result()
	if err != nil {
		return "", wrapErr(string(dbcapabilities.OpVersion), err)
	}
	version := parseInfo(info)["server"]["redis_version"]
	if version == "" {
		return "", adapter.NewDatabaseError(kind, string(dbcapabilities.OpVersion), errors.New("redis_version missing from INFO"))
	}
	return strings.TrimSpace(version), nil
}

// ExecuteCommand runs a redis-cli style command line on the default index.
func (m *MetadataOps) ExecuteCommand(ctx context.Context, command string) (interface{}, error) {
	args, err := commandArgs(command)
	if err != nil {
		return nil, err
	}
	client, err := m.conn.client("")
	if err != nil {
		return nil, err
	}
	val, err := client.Do(ctx, args...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(string(dbcapabilities.OpRawCommand), err)
	}
	return convertReply(val), nil
}
