package database

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/health"
)

const healthPingTimeout = 5 * time.Second

// HealthReport is the outcome of HealthCheck.
type HealthReport struct {
	Status      health.Status   `json:"status"`
	Checks      []*health.Check `json:"checks"`
	LastHealthy time.Time       `json:"lastHealthy"`
}

// HealthCheck pings every live session concurrently. A failing session
// makes the report degraded (or unhealthy when all fail); the result
// itself is always successful.
func (m *Manager) HealthCheck(ctx context.Context) adapter.Result {
	var g errgroup.Group
	for _, s := range m.sessions.List() {
		g.Go(func() error {
			m.health.RunCheck(s.ID, func() error {
				pingCtx, cancel := context.WithTimeout(ctx, healthPingTimeout)
				defer cancel()
				return m.sessions.guarded(s.Kind(), "ping", s.ID, func() error { return s.Conn.Ping(pingCtx) })
			})
			return nil
		})
	}
	_ = g.Wait()

	report := HealthReport{
		Status:      m.health.GetOverallStatus(),
		Checks:      m.health.GetAllChecks(),
		LastHealthy: m.health.GetLastHealthyTime(),
	}
	if report.Status != health.StatusHealthy {
		m.safeLog("warn", "Health check status: %s", report.Status)
	}
	return adapter.OK(report)
}
