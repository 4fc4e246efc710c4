package database

import (
	"context"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
)

// Read returns a page of records as *adapter.ReadResult.
func (m *Manager) Read(ctx context.Context, id string, req adapter.ReadRequest) adapter.Result {
	return m.run(ctx, id, dbcapabilities.OpRead, func(ctx context.Context, s *Session) (interface{}, error) {
		return s.Conn.DataOperations().Read(ctx, req)
	})
}

// Write inserts records, sets a key or produces messages.
func (m *Manager) Write(ctx context.Context, id string, req adapter.WriteRequest) adapter.Result {
	return m.run(ctx, id, dbcapabilities.OpWrite, func(ctx context.Context, s *Session) (interface{}, error) {
		return s.Conn.DataOperations().Write(ctx, req)
	})
}

// Update modifies matching records.
func (m *Manager) Update(ctx context.Context, id string, req adapter.UpdateRequest) adapter.Result {
	return m.run(ctx, id, dbcapabilities.OpUpdate, func(ctx context.Context, s *Session) (interface{}, error) {
		return s.Conn.DataOperations().Update(ctx, req)
	})
}

// Delete removes matching records, keys or a topic.
func (m *Manager) Delete(ctx context.Context, id string, req adapter.DeleteRequest) adapter.Result {
	return m.run(ctx, id, dbcapabilities.OpDelete, func(ctx context.Context, s *Session) (interface{}, error) {
		return s.Conn.DataOperations().Delete(ctx, req)
	})
}

// Aggregate runs a pipeline or aggregate query.
func (m *Manager) Aggregate(ctx context.Context, id string, req adapter.AggregateRequest) adapter.Result {
	return m.run(ctx, id, dbcapabilities.OpAggregate, func(ctx context.Context, s *Session) (interface{}, error) {
		return s.Conn.DataOperations().Aggregate(ctx, req)
	})
}

// Explain returns the query plan.
func (m *Manager) Explain(ctx context.Context, id string, req adapter.ExplainRequest) adapter.Result {
	return m.run(ctx, id, dbcapabilities.OpExplain, func(ctx context.Context, s *Session) (interface{}, error) {
		return s.Conn.DataOperations().Explain(ctx, req)
	})
}
