package postgres

import (
	"context"
	"fmt"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
)

// SchemaOps implements adapter.SchemaOperator for PostgreSQL.
type SchemaOps struct {
	conn *Connection
}

const listDatabasesQuery = `
SELECT d.datname,
       d.datistemplate,
       CASE WHEN has_database_privilege(d.datname, 'CONNECT')
            THEN pg_database_size(d.datname) END AS size_bytes,
       pg_encoding_to_char(d.encoding) AS encoding
FROM pg_database d
WHERE d.datallowconn
ORDER BY d.datname`

// ListNamespaces lists databases that accept connections.
func (s *SchemaOps) ListNamespaces(ctx context.Context) ([]adapter.Namespace, error) {
	pool, err := s.conn.pool(ctx, "")
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listDatabasesQuery)
	if err != nil {
		return nil, wrapErr(string(dbcapabilities.OpListNamespaces), err)
	}
	defer rows.Close()

	namespaces := []adapter.Namespace{}
	for rows.Next() {
		var (
			name     string
			template bool
			size     *int64
			encoding string
		)
		if err := rows.Scan(&name, &template, &size, &encoding); err != nil {
			return nil, wrapErr(string(dbcapabilities.OpListNamespaces), err)
		}
		stats := map[string]interface{}{"encoding": encoding}
		if size != nil {
			stats["sizeBytes"] = *size
		}
		namespaces = append(namespaces, adapter.Namespace{
			Name:   name,
			System: template || dbcapabilities.IsSystemNamespace(kind, name),
			Stats:  stats,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(string(dbcapabilities.OpListNamespaces), err)
	}
	return namespaces, nil
}

const listTablesQuery = `
SELECT n.nspname,
       c.relname,
       c.relkind::text,
       GREATEST(c.reltuples, 0)::bigint AS estimated_rows,
       pg_total_relation_size(c.oid) AS total_bytes
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('r', 'p', 'v', 'm', 'f')
  AND ($1 OR (n.nspname NOT IN ('pg_catalog', 'information_schema') AND n.nspname NOT LIKE 'pg\_toast%'))
  AND ($2 = '' OR c.relname LIKE $2 || '%' OR n.nspname || '.' || c.relname LIKE $2 || '%')
ORDER BY n.nspname, c.relname
LIMIT $3`

var relkindNames = map[string]string{
	"r": "table",
	"p": "partitioned table",
	"v": "view",
	"m": "materialized view",
	"f": "foreign table",
}

// ListContainers lists tables and views. Tables outside the public schema
// are named schema.table.
func (s *SchemaOps) ListContainers(ctx context.Context, namespace string, opts adapter.ListOptions) ([]adapter.Container, error) {
	pool, err := s.conn.pool(ctx, namespace)
	if err != nil {
		return nil, err
	}

	var limit *int
	if opts.Limit > 0 {
		limit = &opts.Limit
	}
	rows, err := pool.Query(ctx, listTablesQuery, opts.IncludeInternal, opts.Pattern, limit)
	if err != nil {
		return nil, wrapErr(string(dbcapabilities.OpListContainers), err)
	}
	defer rows.Close()

	database := pool.Config().ConnConfig.Database
	containers := []adapter.Container{}
	for rows.Next() {
		var (
			schema, name, relkind string
			estimated, size       int64
		)
		if err := rows.Scan(&schema, &name, &relkind, &estimated, &size); err != nil {
			return nil, wrapErr(string(dbcapabilities.OpListContainers), err)
		}
		if schema != "public" {
			name = schema + "." + name
		}
		containers = append(containers, adapter.Container{
			Name:      name,
			Namespace: database,
			Type:      relkindNames[relkind],
			Stats: map[string]interface{}{
				"schema":        schema,
				"estimatedRows": estimated,
				"totalBytes":    size,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(string(dbcapabilities.OpListContainers), err)
	}
	return containers, nil
}

// ManageSchema runs DDL and maintenance statements.
func (s *SchemaOps) ManageSchema(ctx context.Context, req adapter.SchemaRequest) (*adapter.SchemaResult, error) {
	op := string(dbcapabilities.OpManageSchema)

	var (
		statement string
		err       error
	)
	switch req.Action {
	case adapter.ActionVacuum, adapter.ActionAnalyze, adapter.ActionReindex:
	case adapter.ActionCreateContainer, adapter.ActionDropContainer, adapter.ActionRenameContainer,
		adapter.ActionCreateIndex, adapter.ActionDropIndex:
		if req.Target == "" {
			return nil, adapter.NewValidationError("target", "table name is required")
		}
	default:
		return nil, adapter.NewUnsupportedOperationError(kind, op, fmt.Sprintf("schema action %q", req.Action))
	}

	pool, err := s.conn.pool(ctx, req.Namespace)
	if err != nil {
		return nil, err
	}

	switch req.Action {
	case adapter.ActionCreateContainer:
		statement, err = buildCreateTable(req.Target, req.Columns)
	case adapter.ActionDropContainer:
		statement = "DROP TABLE " + quoteQualified(req.Target)
	case adapter.ActionRenameContainer:
		if req.NewName == "" {
			return nil, adapter.NewValidationError("newName", "new table name is required")
		}
		statement = buildRename(req.Target, req.NewName)
	case adapter.ActionCreateIndex:
		statement, err = buildCreateIndex(req.Target, req.Index)
	case adapter.ActionDropIndex:
		if req.Index == nil || req.Index.Name == "" {
			return nil, adapter.NewValidationError("index.name", "index name is required")
		}
		statement = buildDropIndex(req.Target, req.Index.Name)
	default:
		statement, err = buildMaintenance(req.Action, req.Target, pool.Config().ConnConfig.Database)
	}
	if err != nil {
		return nil, err
	}

	tag, err := pool.Exec(ctx, statement)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return &adapter.SchemaResult{
		Action:  req.Action,
		Target:  req.Target,
		Message: tag.String(),
	}, nil
}
