package mongodb

import (
	"context"
	"strings"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// MetadataOps implements adapter.MetadataOperator for MongoDB.
type MetadataOps struct {
	conn *Connection
}

// serverStatusSections are copied from serverStatus into ServerStats.
var serverStatusSections = []string{
	"host", "version", "process", "uptime", "connections", "opcounters",
	"mem", "network", "repl", "storageEngine",
}

// ServerStats summarises serverStatus.
func (m *MetadataOps) ServerStats(ctx context.Context) (map[string]interface{}, error) {
	if !m.conn.IsConnected() {
		return nil, adapter.NewClosedError(kind)
	}
	var status bson.M
	cmd := bson.D{{Key: "serverStatus", Value: 1}}
	if err := m.conn.client.Database("admin").RunCommand(ctx, cmd).Decode(&status); err != nil {
		return nil, wrapErr(string(dbcapabilities.OpServerStats), err)
	}

	converted := convertValue(status).(map[string]interface{})
	stats := make(map[string]interface{}, len(serverStatusSections)+1)
	for _, key := range serverStatusSections {
		if v, ok := converted[key]; ok {
			stats[key] = v
		}
	}
	role := "standalone"
	if repl, ok := converted["repl"].(map[string]interface{}); ok {
		switch {
		case repl["isWritablePrimary"] == true || repl["ismaster"] == true:
			role = "primary"
		case repl["secondary"] == true:
			role = "secondary"
		default:
			role = "member"
		}
	}
	stats["role"] = role
	return stats, nil
}

// GetVersion returns the server version from buildInfo.
func (m *MetadataOps) GetVersion(ctx context.Context) (string, error) {
	if !m.conn.IsConnected() {
		return "", adapter.NewClosedError(kind)
	}
	var info struct {
		Version string `bson:"version"`
	}
	cmd := bson.D{{Key: "buildInfo", Value: 1}}
	if err := m.conn.client.Database("admin").RunCommand(ctx, cmd).Decode(&info); err != nil {
		return "", wrapErr(string(dbcapabilities.OpVersion), err)
	}
	return info.Version, nil
}

// ExecuteCommand runs a database command written as extended JSON against
// the default database. A bare word such as "ping" runs {ping: 1}.
func (m *MetadataOps) ExecuteCommand(ctx context.Context, command string) (interface{}, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, adapter.NewValidationError("command", "command is empty")
	}

	var cmd bson.D
	if strings.HasPrefix(command, "{") {
		doc, err := parseExtJSON("command", command)
		if err != nil {
			return nil, err
		}
		cmd = doc
	} else {
		fields := strings.Fields(command)
		if len(fields) != 1 {
			return nil, adapter.NewValidationError("command", "expected a JSON command document or a single command name")
		}
		cmd = bson.D{{Key: fields[0], Value: 1}}
	}

	db, err := m.conn.database("")
	if err != nil {
		return nil, err
	}
	var out bson.M
	if err := db.RunCommand(ctx, cmd).Decode(&out); err != nil {
		return nil, wrapErr(string(dbcapabilities.OpRawCommand), err)
	}
	return convertValue(out), nil
}
