package database

import (
	"context"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
)

// ListNamespaces lists databases or indices. System namespaces are flagged.
func (m *Manager) ListNamespaces(ctx context.Context, id string) adapter.Result {
	return m.run(ctx, id, dbcapabilities.OpListNamespaces, func(ctx context.Context, s *Session) (interface{}, error) {
		namespaces, err := s.Conn.SchemaOperations().ListNamespaces(ctx)
		if err != nil {
			return nil, err
		}
		for i := range namespaces {
			if dbcapabilities.IsSystemNamespace(s.Kind(), namespaces[i].Name) {
				namespaces[i].System = true
			}
		}
		return namespaces, nil
	})
}

// ListContainers lists collections, tables, keys or topics of namespace.
func (m *Manager) ListContainers(ctx context.Context, id, namespace string, opts adapter.ListOptions) adapter.Result {
	return m.run(ctx, id, dbcapabilities.OpListContainers, func(ctx context.Context, s *Session) (interface{}, error) {
		return s.Conn.SchemaOperations().ListContainers(ctx, namespace, opts)
	})
}

// ManageSchema applies one structural change.
func (m *Manager) ManageSchema(ctx context.Context, id string, req adapter.SchemaRequest) adapter.Result {
	return m.run(ctx, id, dbcapabilities.OpManageSchema, func(ctx context.Context, s *Session) (interface{}, error) {
		if req.Action == "" {
			return nil, adapter.NewValidationError("action", "schema action is required")
		}
		return s.Conn.SchemaOperations().ManageSchema(ctx, req)
	})
}
