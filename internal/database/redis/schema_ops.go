package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
	"github.com/redis/go-redis/v9"
)

// SchemaOps implements adapter.SchemaOperator for Redis.
type SchemaOps struct {
	conn *Connection
}

// ListNamespaces lists indices holding keys, plus the default index.
func (s *SchemaOps) ListNamespaces(ctx context.Context) ([]adapter.Namespace, error) {
	client, err := s.conn.client("")
	if err != nil {
		return nil, err
	}
	info, err := client.Info(ctx, "keyspace").Result()
	if err != nil {
		return nil, wrapErr(string(dbcapabilities.OpListNamespaces), err)
	}

	indices := map[int]map[string]interface{}{s.conn.defaultDB: {"keys": int64(0)}}
	for name, value := range parseInfo(info)["keyspace"] {
		if !strings.HasPrefix(name, "db") {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimPrefix(name, "db"))
		if err != nil {
			continue
		}
		indices[idx] = parseKeyspaceLine(value)
	}

	order := make([]int, 0, len(indices))
	for idx := range indices {
		order = append(order, idx)
	}
	sort.Ints(order)

	namespaces := make([]adapter.Namespace, 0, len(order))
	for _, idx := range order {
		namespaces = append(namespaces, adapter.Namespace{Name: strconv.Itoa(idx), Stats: indices[idx]})
	}
	return namespaces, nil
}

// ListContainers scans keys matching a glob, stopping at the limit. Type
// and TTL are fetched in one pipeline per batch.
func (s *SchemaOps) ListContainers(ctx context.Context, namespace string, opts adapter.ListOptions) ([]adapter.Container, error) {
	op := string(dbcapabilities.OpListContainers)
	client, err := s.conn.client(namespace)
	if err != nil {
		return nil, err
	}

	pattern := opts.Pattern
	if pattern == "" {
		pattern = "*"
	}
	limit := s.conn.adapter.maxScanKeys
	if opts.Limit > 0 && opts.Limit < limit {
		limit = opts.Limit
	}
	ns := namespace
	if ns == "" {
		ns = strconv.Itoa(s.conn.defaultDB)
	}

	containers := []adapter.Container{}
	var cursor uint64
	for {
		if err := ctx.Err(); err != nil {
			return nil, adapter.WrapError(kind, op, err)
		}
		keys, next, err := client.Scan(ctx, cursor, pattern, int64(s.conn.adapter.scanCount)).Result()
		if err != nil {
			return nil, wrapErr(op, err)
		}
		if remaining := limit - len(containers); len(keys) > remaining {
			keys = keys[:remaining]
		}
		batch, err := describeKeys(ctx, client, keys, ns)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		containers = append(containers, batch...)

		cursor = next
		if cursor == 0 || len(containers) >= limit {
			break
		}
	}
	sort.Slice(containers, func(i, j int) bool { return containers[i].Name < containers[j].Name })
	return containers, nil
}

func describeKeys(ctx context.Context, client *redis.Client, keys []string, namespace string) ([]adapter.Container, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	types := make([]*redis.StatusCmd, len(keys))
	ttls := make([]*redis.DurationCmd, len(keys))
	_, err := client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			types[i] = pipe.Type(ctx, key)
			ttls[i] = pipe.TTL(ctx, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]adapter.Container, 0, len(keys))
	for i, key := range keys {
		keyType := types[i].Val()
		if keyType == "none" {
			// Expired between SCAN and TYPE.
			continue
		}
		out = append(out, adapter.Container{
			Name:      key,
			Namespace: namespace,
			Type:      keyType,
			Stats:     map[string]interface{}{"ttlSeconds": ttlSeconds(ttls[i].Val())},
		})
	}
	return out, nil
}

// ttlSeconds reports -1 for keys without expiry.
func ttlSeconds(ttl time.Duration) int64 {
	if ttl < 0 {
		return -1
	}
	return int64(ttl / time.Second)
}

// ManageSchema flushes an index or renames a key.
func (s *SchemaOps) ManageSchema(ctx context.Context, req adapter.SchemaRequest) (*adapter.SchemaResult, error) {
	op := string(dbcapabilities.OpManageSchema)
	client, err := s.conn.client(req.Namespace)
	if err != nil {
		return nil, err
	}

	switch req.Action {
	case adapter.ActionFlushNamespace:
		if err := client.FlushDB(ctx).Err(); err != nil {
			return nil, wrapErr(op, err)
		}
		return &adapter.SchemaResult{
			Action:  req.Action,
			Target:  strconv.Itoa(client.Options().DB),
			Message: fmt.Sprintf("index %d flushed", client.Options().DB),
		}, nil

	case adapter.ActionRenameContainer:
		if req.Target == "" || req.NewName == "" {
			return nil, adapter.NewValidationError("target", "key and new name are required")
		}
		if err := client.Rename(ctx, req.Target, req.NewName).Err(); err != nil {
			return nil, wrapErr(op, err)
		}
		return &adapter.SchemaResult{
			Action:  req.Action,
			Target:  req.Target,
			Message: fmt.Sprintf("key %s renamed to %s", req.Target, req.NewName),
		}, nil
	}
	return nil, adapter.NewUnsupportedOperationError(kind, op, fmt.Sprintf("schema action %q", req.Action))
}
