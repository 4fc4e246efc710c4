package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
	"github.com/redis/go-redis/v9"
)

// Value types accepted by Write and Update.
const (
	TypeString = "string"
	TypeList   = "list"
	TypeSet    = "set"
	TypeZSet   = "zset"
	TypeHash   = "hash"
)

// DataOps implements adapter.DataOperator for Redis. Explain has no
// meaning here and falls through to the embedded operator.
type DataOps struct {
	adapter.UnsupportedDataOperator
	conn *Connection
}

// Read returns one key as rows shaped by its type, or runs Query as a
// command line.
func (d *DataOps) Read(ctx context.Context, req adapter.ReadRequest) (*adapter.ReadResult, error) {
	op := string(dbcapabilities.OpRead)
	client, err := d.conn.client(req.Namespace)
	if err != nil {
		return nil, err
	}
	if req.Query != "" {
		return runCommand(ctx, client, req.Query, op)
	}
	if req.Container == "" {
		return nil, adapter.NewValidationError("container", "key is required")
	}

	limit := req.Limit
	if limit <= 0 {
		limit = adapter.DefaultReadLimit
	}
	key := req.Container
	start, stop := int64(req.Skip), int64(req.Skip+limit)

	keyType, err := client.Type(ctx, key).Result()
	if err != nil {
		return nil, wrapErr(op, err)
	}

	var (
		columns []string
		rows    []map[string]interface{}
	)
	switch keyType {
	case "none":
		return adapter.NewReadResult([]string{"key", "value"}, nil, limit), nil

	case TypeString:
		val, err := client.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, wrapErr(op, err)
		}
		ttl, _ := client.TTL(ctx, key).Result()
		columns = []string{"key", "type", "ttlSeconds", "value"}
		rows = []map[string]interface{}{{"key": key, "type": keyType, "ttlSeconds": ttlSeconds(ttl), "value": val}}

	case TypeList:
		vals, err := client.LRange(ctx, key, start, stop).Result()
		if err != nil {
			return nil, wrapErr(op, err)
		}
		columns = []string{"index", "value"}
		for i, v := range vals {
			rows = append(rows, map[string]interface{}{"index": req.Skip + i, "value": v})
		}

	case TypeSet:
		members, err := client.SMembers(ctx, key).Result()
		if err != nil {
			return nil, wrapErr(op, err)
		}
		sort.Strings(members)
		columns = []string{"member"}
		for _, m := range window(members, req.Skip, limit+1) {
			rows = append(rows, map[string]interface{}{"member": m})
		}

	case TypeZSet:
		vals, err := client.ZRangeWithScores(ctx, key, start, stop).Result()
		if err != nil {
			return nil, wrapErr(op, err)
		}
		columns = []string{"member", "score"}
		for _, z := range vals {
			rows = append(rows, map[string]interface{}{"member": fmt.Sprint(z.Member), "score": z.Score})
		}

	case TypeHash:
		fields, err := client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, wrapErr(op, err)
		}
		names := make([]string, 0, len(fields))
		for f := range fields {
			names = append(names, f)
		}
		sort.Strings(names)
		columns = []string{"field", "value"}
		for _, f := range window(names, req.Skip, limit+1) {
			rows = append(rows, map[string]interface{}{"field": f, "value": fields[f]})
		}

	case "stream":
		entries, err := client.XRangeN(ctx, key, "-", "+", int64(req.Skip+limit+1)).Result()
		if err != nil {
			return nil, wrapErr(op, err)
		}
		columns = []string{"id", "values"}
		for i, e := range entries {
			if i < req.Skip {
				continue
			}
			rows = append(rows, map[string]interface{}{"id": e.ID, "values": e.Values})
		}

	default:
		return nil, adapter.NewUnsupportedOperationError(kind, op, fmt.Sprintf("reading keys of type %s", keyType))
	}
	return adapter.NewReadResult(columns, rows, limit), nil
}

func window(items []string, skip, n int) []string {
	if skip >= len(items) {
		return nil
	}
	items = items[skip:]
	if len(items) > n {
		items = items[:n]
	}
	return items
}

// Write sets the key to Value as ValueType, replacing whatever the key
// held before.
func (d *DataOps) Write(ctx context.Context, req adapter.WriteRequest) (*adapter.WriteResult, error) {
	op := string(dbcapabilities.OpWrite)
	client, err := d.conn.client(req.Namespace)
	if err != nil {
		return nil, err
	}
	if req.Container == "" {
		return nil, adapter.NewValidationError("container", "key is required")
	}
	valueType, err := resolveType(req.ValueType, req.Value)
	if err != nil {
		return nil, err
	}

	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, req.Container)
		if err := queueWrite(ctx, pipe, req.Container, valueType, req.Value); err != nil {
			return err
		}
		if req.TTL > 0 {
			pipe.Expire(ctx, req.Container, req.TTL)
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return &adapter.WriteResult{Affected: 1}, nil
}

// Update replaces an existing key. A missing key is left alone and reported
// as zero matches. The key is watched so a concurrent delete aborts the
// transaction.
func (d *DataOps) Update(ctx context.Context, req adapter.UpdateRequest) (*adapter.WriteResult, error) {
	op := string(dbcapabilities.OpUpdate)
	client, err := d.conn.client(req.Namespace)
	if err != nil {
		return nil, err
	}
	if req.Container == "" {
		return nil, adapter.NewValidationError("container", "key is required")
	}
	value := req.Value
	if value == nil && len(req.Patch) > 0 {
		value = req.Patch
	}
	valueType, err := resolveType(req.ValueType, value)
	if err != nil {
		return nil, err
	}

	key := req.Container
	result := &adapter.WriteResult{}
	err = client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		keepTTL := req.TTL == 0
		var ttl time.Duration
		if keepTTL {
			ttl, err = tx.PTTL(ctx, key).Result()
			if err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			if err := queueWrite(ctx, pipe, key, valueType, value); err != nil {
				return err
			}
			switch {
			case req.TTL > 0:
				pipe.Expire(ctx, key, req.TTL)
			case keepTTL && ttl > 0:
				pipe.PExpire(ctx, key, ttl)
			}
			return nil
		})
		if err == nil {
			result.Matched, result.Affected = 1, 1
		}
		return err
	}, key)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, adapter.NewDatabaseError(kind, op, err).WithCode("WATCH")
		}
		return nil, wrapErr(op, err)
	}
	return result, nil
}

// Delete removes Keys, or the Container key.
func (d *DataOps) Delete(ctx context.Context, req adapter.DeleteRequest) (*adapter.WriteResult, error) {
	client, err := d.conn.client(req.Namespace)
	if err != nil {
		return nil, err
	}
	keys := req.Keys
	if len(keys) == 0 && req.Container != "" {
		keys = []string{req.Container}
	}
	if len(keys) == 0 {
		return nil, adapter.NewValidationError("keys", "at least one key is required")
	}
	n, err := client.Del(ctx, keys...).Result()
	if err != nil {
		return nil, wrapErr(string(dbcapabilities.OpDelete), err)
	}
	return &adapter.WriteResult{Affected: n, Matched: n}, nil
}

// Aggregate only runs raw commands; there is no query language to aggregate with.
func (d *DataOps) Aggregate(ctx context.Context, req adapter.AggregateRequest) (*adapter.ReadResult, error) {
	op := string(dbcapabilities.OpAggregate)
	if req.Query == "" {
		return nil, adapter.NewUnsupportedOperationError(kind, op, "only raw commands can be aggregated")
	}
	client, err := d.conn.client(req.Namespace)
	if err != nil {
		return nil, err
	}
	return runCommand(ctx, client, req.Query, op)
}

func runCommand(ctx context.Context, client *redis.Client, line, op string) (*adapter.ReadResult, error) {
	args, err := commandArgs(line)
	if err != nil {
		return nil, err
	}
	val, err := client.Do(ctx, args...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, wrapErr(op, err)
	}
	return adapter.NewReadResult([]string{"result"}, []map[string]interface{}{{"result": convertReply(val)}}, 0), nil
}

// resolveType picks the value type, inferring it from the Go shape of value
// when not given.
func resolveType(valueType string, value interface{}) (string, error) {
	if value == nil {
		return "", adapter.NewValidationError("value", "value is required")
	}
	if valueType != "" {
		switch valueType {
		case TypeString, TypeList, TypeSet, TypeZSet, TypeHash:
			return valueType, nil
		}
		return "", adapter.NewValidationError("valueType", fmt.Sprintf("unknown type %q", valueType))
	}
	switch value.(type) {
	case []interface{}, []string:
		return TypeList, nil
	case map[string]interface{}, map[string]string:
		return TypeHash, nil
	default:
		return TypeString, nil
	}
}

func queueWrite(ctx context.Context, pipe redis.Pipeliner, key, valueType string, value interface{}) error {
	switch valueType {
	case TypeString:
		s, err := stringValue(value)
		if err != nil {
			return err
		}
		pipe.Set(ctx, key, s, 0)

	case TypeList, TypeSet:
		items, err := listValue(value)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return adapter.NewValidationError("value", valueType+" value must not be empty")
		}
		if valueType == TypeList {
			pipe.RPush(ctx, key, items...)
		} else {
			pipe.SAdd(ctx, key, items...)
		}

	case TypeHash:
		fields, err := mapValue(value)
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return adapter.NewValidationError("value", "hash value must not be empty")
		}
		pipe.HSet(ctx, key, fields)

	case TypeZSet:
		members, err := zsetValue(value)
		if err != nil {
			return err
		}
		pipe.ZAdd(ctx, key, members...)
	}
	return nil
}

func stringValue(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int, int64, int32, bool:
		return fmt.Sprint(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", adapter.NewValidationError("value", fmt.Sprintf("cannot encode value: %v", err))
		}
		return string(data), nil
	}
}

func listValue(value interface{}) ([]interface{}, error) {
	switch v := value.(type) {
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			s, err := stringValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = s
		}
		return out, nil
	case []string:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out, nil
	}
	return nil, adapter.NewValidationError("value", "expected a list")
}

func mapValue(value interface{}) (map[string]interface{}, error) {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for field, item := range v {
			s, err := stringValue(item)
			if err != nil {
				return nil, err
			}
			out[field] = s
		}
		return out, nil
	case map[string]string:
		out := make(map[string]interface{}, len(v))
		for field, item := range v {
			out[field] = item
		}
		return out, nil
	}
	return nil, adapter.NewValidationError("value", "expected an object")
}

// zsetValue accepts {"member": score} or [{"member": m, "score": s}].
func zsetValue(value interface{}) ([]redis.Z, error) {
	var members []redis.Z
	switch v := value.(type) {
	case map[string]interface{}:
		names := make([]string, 0, len(v))
		for m := range v {
			names = append(names, m)
		}
		sort.Strings(names)
		for _, m := range names {
			score, ok := toFloat(v[m])
			if !ok {
				return nil, adapter.NewValidationError("value", fmt.Sprintf("score for %q must be a number", m))
			}
			members = append(members, redis.Z{Member: m, Score: score})
		}
	case []interface{}:
		for _, item := range v {
			entry, ok := item.(map[string]interface{})
			if !ok {
				return nil, adapter.NewValidationError("value", "zset entries must be objects with member and score")
			}
			score, ok := toFloat(entry["score"])
			if !ok {
				return nil, adapter.NewValidationError("value", "zset score must be a number")
			}
			members = append(members, redis.Z{Member: fmt.Sprint(entry["member"]), Score: score})
		}
	default:
		return nil, adapter.NewValidationError("value", "expected a member to score object")
	}
	if len(members) == 0 {
		return nil, adapter.NewValidationError("value", "zset value must not be empty")
	}
	return members, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
