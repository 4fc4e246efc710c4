package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
)

// DataOps implements adapter.DataOperator for PostgreSQL.
type DataOps struct {
	conn *Connection
}

// Read runs a filtered SELECT, or Query with Args when set. One extra row is
// requested to report HasMore.
func (d *DataOps) Read(ctx context.Context, req adapter.ReadRequest) (*adapter.ReadResult, error) {
	op := string(dbcapabilities.OpRead)
	limit := req.Limit
	if limit <= 0 {
		limit = adapter.DefaultReadLimit
	}

	var (
		query string
		args  []interface{}
		err   error
	)
	if req.Query != "" {
		query, args = req.Query, req.Args
	} else {
		if req.Container == "" {
			return nil, adapter.NewValidationError("container", "table name or query is required")
		}
		query, args, err = buildSelect(req, limit+1)
		if err != nil {
			return nil, err
		}
	}

	pool, err := d.conn.pool(ctx, req.Namespace)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	columns, result, err := collectRows(rows, limit+1)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return adapter.NewReadResult(columns, result, limit), nil
}

// Write inserts every record in one transaction.
func (d *DataOps) Write(ctx context.Context, req adapter.WriteRequest) (*adapter.WriteResult, error) {
	op := string(dbcapabilities.OpWrite)
	if req.Container == "" {
		return nil, adapter.NewValidationError("container", "table name is required")
	}
	if len(req.Records) == 0 {
		return nil, adapter.NewValidationError("records", "at least one row is required")
	}

	pool, err := d.conn.pool(ctx, req.Namespace)
	if err != nil {
		return nil, err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	var affected int64
	for _, row := range req.Records {
		query, values := buildInsert(req.Container, row)
		tag, err := tx.Exec(ctx, query, values...)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		affected += tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, wrapErr(op, err)
	}
	return &adapter.WriteResult{Affected: affected}, nil
}

// Update sets Patch on matching rows.
func (d *DataOps) Update(ctx context.Context, req adapter.UpdateRequest) (*adapter.WriteResult, error) {
	if req.Container == "" {
		return nil, adapter.NewValidationError("container", "table name is required")
	}
	if len(req.Filter) == 0 && !req.All {
		return nil, adapter.NewValidationError("filter", "an empty filter updates every row; set all to confirm")
	}
	if len(req.Patch) == 0 {
		return nil, adapter.NewValidationError("patch", "no columns to set")
	}
	query, args, err := buildUpdate(req.Container, req.Patch, req.Filter)
	if err != nil {
		return nil, err
	}
	return d.exec(ctx, req.Namespace, string(dbcapabilities.OpUpdate), query, args)
}

// Delete removes matching rows.
func (d *DataOps) Delete(ctx context.Context, req adapter.DeleteRequest) (*adapter.WriteResult, error) {
	if req.Container == "" {
		return nil, adapter.NewValidationError("container", "table name is required")
	}
	if len(req.Filter) == 0 && !req.All {
		return nil, adapter.NewValidationError("filter", "an empty filter deletes every row; set all to confirm")
	}
	query, args, err := buildDelete(req.Container, req.Filter)
	if err != nil {
		return nil, err
	}
	return d.exec(ctx, req.Namespace, string(dbcapabilities.OpDelete), query, args)
}

func (d *DataOps) exec(ctx context.Context, namespace, op, query string, args []interface{}) (*adapter.WriteResult, error) {
	pool, err := d.conn.pool(ctx, namespace)
	if err != nil {
		return nil, err
	}
	tag, err := pool.Exec(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return &adapter.WriteResult{Affected: tag.RowsAffected(), Matched: tag.RowsAffected()}, nil
}

// Aggregate runs an aggregate SQL statement and returns every row.
func (d *DataOps) Aggregate(ctx context.Context, req adapter.AggregateRequest) (*adapter.ReadResult, error) {
	op := string(dbcapabilities.OpAggregate)
	if strings.TrimSpace(req.Query) == "" {
		if len(req.Pipeline) > 0 {
			return nil, adapter.NewUnsupportedOperationError(kind, op, "pipelines are a document-store feature, send SQL in query")
		}
		return nil, adapter.NewValidationError("query", "aggregate SQL is required")
	}

	pool, err := d.conn.pool(ctx, req.Namespace)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, req.Query, req.Args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	columns, result, err := collectRows(rows, 0)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return adapter.NewReadResult(columns, result, 0), nil
}

// Explain returns the JSON plan. With Analyze the statement really runs,
// inside a transaction that is always rolled back.
func (d *DataOps) Explain(ctx context.Context, req adapter.ExplainRequest) (map[string]interface{}, error) {
	op := string(dbcapabilities.OpExplain)

	statement, args := req.Query, req.Args
	if statement == "" {
		if req.Container == "" {
			return nil, adapter.NewValidationError("query", "a query or a table is required")
		}
		var err error
		statement, args, err = buildSelect(adapter.ReadRequest{Container: req.Container, Filter: req.Filter}, 0)
		if err != nil {
			return nil, err
		}
	}

	pool, err := d.conn.pool(ctx, req.Namespace)
	if err != nil {
		return nil, err
	}
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	var raw []byte
	if err := tx.QueryRow(ctx, explainStatement(statement, req.Analyze), args...).Scan(&raw); err != nil {
		return nil, wrapErr(op, err)
	}
	return parseExplain(raw)
}

// parseExplain unwraps EXPLAIN (FORMAT JSON) output and adds a summary.
func parseExplain(raw []byte) (map[string]interface{}, error) {
	var plans []map[string]interface{}
	if err := json.Unmarshal(raw, &plans); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("empty plan")
	}

	out := plans[0]
	summary := map[string]interface{}{}
	if plan, ok := out["Plan"].(map[string]interface{}); ok {
		summary["nodeType"] = plan["Node Type"]
		summary["totalCost"] = plan["Total Cost"]
		summary["planRows"] = plan["Plan Rows"]
		if v, ok := plan["Actual Rows"]; ok {
			summary["actualRows"] = v
		}
	}
	for src, dst := range map[string]string{"Planning Time": "planningTimeMs", "Execution Time": "executionTimeMs"} {
		if v, ok := out[src]; ok {
			summary[dst] = v
		}
	}
	out["summary"] = summary
	return out, nil
}
