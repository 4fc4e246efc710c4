package postgres

import (
	"context"
	"strings"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
)

// MetadataOps implements adapter.MetadataOperator for PostgreSQL.
type MetadataOps struct {
	conn *Connection
}

const connectionStatesQuery = `
SELECT COALESCE(state, 'background') AS state, count(*)
FROM pg_stat_activity
GROUP BY 1`

const databaseCountersQuery = `
SELECT COALESCE(sum(xact_commit), 0)::bigint,
       COALESCE(sum(xact_rollback), 0)::bigint,
       COALESCE(sum(blks_hit), 0)::bigint,
       COALESCE(sum(blks_read), 0)::bigint,
       COALESCE(sum(deadlocks), 0)::bigint,
       COALESCE(sum(temp_bytes), 0)::bigint
FROM pg_stat_database`

const serverInfoQuery = `
SELECT current_setting('server_version'),
       current_setting('max_connections')::int,
       pg_is_in_recovery(),
       EXTRACT(EPOCH FROM now() - pg_postmaster_start_time())::bigint`

// ServerStats reports connection states, cache hit ratio and transaction
// counters.
func (m *MetadataOps) ServerStats(ctx context.Context) (map[string]interface{}, error) {
	op := string(dbcapabilities.OpServerStats)
	pool, err := m.conn.pool(ctx, "")
	if err != nil {
		return nil, err
	}

	var (
		version          string
		maxConnections   int
		inRecovery       bool
		uptimeSeconds    int64
		commits, rolls   int64
		hits, reads      int64
		deadlocks, tempB int64
	)
	if err := pool.QueryRow(ctx, serverInfoQuery).Scan(&version, &maxConnections, &inRecovery, &uptimeSeconds); err != nil {
		return nil, wrapErr(op, err)
	}
	if err := pool.QueryRow(ctx, databaseCountersQuery).Scan(&commits, &rolls, &hits, &reads, &deadlocks, &tempB); err != nil {
		return nil, wrapErr(op, err)
	}

	rows, err := pool.Query(ctx, connectionStatesQuery)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()
	states := map[string]interface{}{}
	var total int64
	for rows.Next() {
		var (
			state string
			count int64
		)
		if err := rows.Scan(&state, &count); err != nil {
			return nil, wrapErr(op, err)
		}
		states[state] = count
		total += count
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}

	role := "primary"
	if inRecovery {
		role = "standby"
	}
	return map[string]interface{}{
		"version":       version,
		"uptimeSeconds": uptimeSeconds,
		"role":          role,
		"connections": map[string]interface{}{
			"total":  total,
			"max":    maxConnections,
			"states": states,
		},
		"cacheHitRatio": cacheHitRatio(hits, reads),
		"transactions": map[string]interface{}{
			"commits":   commits,
			"rollbacks": rolls,
			"deadlocks": deadlocks,
		},
		"tempBytes": tempB,
	}, nil
}

func cacheHitRatio(hits, reads int64) float64 {
	if hits+reads == 0 {
		return 0
	}
	return float64(hits) / float64(hits+reads)
}

// GetVersion returns server_version.
func (m *MetadataOps) GetVersion(ctx context.Context) (string, error) {
	pool, err := m.conn.pool(ctx, "")
	if err != nil {
		return "", err
	}
	var version string
	if err := pool.QueryRow(ctx, "SHOW server_version").Scan(&version); err != nil {
		return "", wrapErr(string(dbcapabilities.OpVersion), err)
	}
	return version, nil
}

// ExecuteCommand runs one SQL statement. Statements returning rows yield a
// ReadResult; others report their command tag.
func (m *MetadataOps) ExecuteCommand(ctx context.Context, command string) (interface{}, error) {
	op := string(dbcapabilities.OpRawCommand)
	if strings.TrimSpace(command) == "" {
		return nil, adapter.NewValidationError("command", "command is empty")
	}
	pool, err := m.conn.pool(ctx, "")
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, command)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	if len(rows.FieldDescriptions()) == 0 {
		for rows.Next() {
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, wrapErr(op, err)
		}
		tag := rows.CommandTag()
		return map[string]interface{}{
			"command":      tag.String(),
			"rowsAffected": tag.RowsAffected(),
		}, nil
	}

	columns, result, err := collectRows(rows, 0)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return adapter.NewReadResult(columns, result, 0), nil
}
