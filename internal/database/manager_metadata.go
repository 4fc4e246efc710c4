package database

import (
	"context"
	"strings"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
)

// ServerStats returns backend-specific server statistics.
func (m *Manager) ServerStats(ctx context.Context, id string) adapter.Result {
	return m.run(ctx, id, dbcapabilities.OpServerStats, func(ctx context.Context, s *Session) (interface{}, error) {
		return s.Conn.MetadataOperations().ServerStats(ctx)
	})
}

// Version returns the server version string.
func (m *Manager) Version(ctx context.Context, id string) adapter.Result {
	return m.run(ctx, id, dbcapabilities.OpVersion, func(ctx context.Context, s *Session) (interface{}, error) {
		version, err := s.Conn.MetadataOperations().GetVersion(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"version": version}, nil
	})
}

// RawCommand runs a backend-native command.
func (m *Manager) RawCommand(ctx context.Context, id, command string) adapter.Result {
	return m.run(ctx, id, dbcapabilities.OpRawCommand, func(ctx context.Context, s *Session) (interface{}, error) {
		if strings.TrimSpace(command) == "" {
			return nil, adapter.NewValidationError("command", "command is empty")
		}
		return s.Conn.MetadataOperations().ExecuteCommand(ctx, command)
	})
}

// Ping checks a live session.
func (m *Manager) Ping(ctx context.Context, id string) adapter.Result {
	return m.run(ctx, id, "ping", func(ctx context.Context, s *Session) (interface{}, error) {
		if err := s.Conn.Ping(ctx); err != nil {
			return nil, err
		}
		return map[string]interface{}{"ok": true}, nil
	})
}

// Capabilities describes the backend of id: from the live session when
// there is one, else from the stored profile.
func (m *Manager) Capabilities(ctx context.Context, id string) adapter.Result {
	var kind dbcapabilities.Kind
	if s, err := m.sessions.Get(id); err == nil {
		kind = s.Kind()
	} else if m.profiles != nil {
		profile, perr := m.profiles.Get(ctx, id)
		if perr != nil {
			return adapter.Fail(perr)
		}
		kind = profile.Kind
	} else {
		return adapter.Fail(err)
	}

	capability, ok := dbcapabilities.ForKind(kind)
	if !ok {
		return adapter.Fail(adapter.NewValidationError("kind", "unknown backend kind "+string(kind)))
	}
	return adapter.OK(capability)
}
