package database

import (
	"context"
	"time"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
)

// Connect opens (or replaces) the session for id. The result data is a
// SessionInfo.
func (m *Manager) Connect(ctx context.Context, id string, profile adapter.ConnectionProfile) adapter.Result {
	start := time.Now()
	session, err := m.sessions.Connect(ctx, id, profile)
	m.metrics.observe(string(profile.Kind), string(dbcapabilities.OpConnect), err, time.Since(start))
	if err != nil {
		m.safeLog("error", "Failed to connect %s: %v", id, err)
		return adapter.Fail(err)
	}
	return adapter.OK(session.Info())
}

// ConnectStored connects id using the stored profile of the same id.
func (m *Manager) ConnectStored(ctx context.Context, id string) adapter.Result {
	if m.profiles == nil {
		return adapter.Fail(adapter.NewValidationError("id", "no profile store configured"))
	}
	profile, err := m.profiles.Get(ctx, id)
	if err != nil {
		return adapter.Fail(err)
	}
	return m.Connect(ctx, id, profile)
}

// Disconnect closes the session for id. Unknown ids succeed with
// {"disconnected": false}.
func (m *Manager) Disconnect(ctx context.Context, id string) adapter.Result {
	existed := m.sessions.Disconnect(ctx, id)
	return adapter.OK(map[string]interface{}{"id": id, "disconnected": existed})
}

// DisconnectAll closes every session.
func (m *Manager) DisconnectAll(ctx context.Context) {
	m.sessions.DisconnectAll(ctx)
}

// TestConnection checks that profile can be reached without keeping a
// session.
func (m *Manager) TestConnection(ctx context.Context, profile adapter.ConnectionProfile) adapter.Result {
	start := time.Now()
	latency, err := m.sessions.Probe(ctx, profile)
	m.metrics.observe(string(profile.Kind), "test", err, time.Since(start))
	if err != nil {
		return adapter.Fail(err)
	}
	return adapter.OK(map[string]interface{}{
		"ok":        true,
		"kind":      profile.Kind,
		"latencyMs": latency.Milliseconds(),
	})
}

// ListSessions returns a SessionInfo per live session.
func (m *Manager) ListSessions() adapter.Result {
	sessions := m.sessions.List()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return adapter.OK(infos)
}
