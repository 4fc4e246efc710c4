package database

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/redbco/redb-desk/internal/streaming"
	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
	"github.com/redbco/redb-desk/pkg/health"
	"github.com/redbco/redb-desk/pkg/logger"
)

const defaultOperationTimeout = 30 * time.Second

// ProfileStore resolves stored connection profiles, secrets included.
type ProfileStore interface {
	Get(ctx context.Context, id string) (adapter.ConnectionProfile, error)
}

// Manager routes normalized operations to the session that owns a
// connection id. Every method returns an adapter.Result; driver errors and
// adapter panics never escape it.
type Manager struct {
	sessions *SessionManager
	hub      *streaming.Hub
	profiles ProfileStore
	health   *health.Checker

	operationTimeout time.Duration
	metrics          *Metrics
	logger           *logger.Logger
}

// NewManager creates a router over sessions. Session teardown drops the
// hub's listeners for that connection.
func NewManager(sessions *SessionManager, hub *streaming.Hub) *Manager {
	m := &Manager{
		sessions:         sessions,
		hub:              hub,
		health:           health.NewChecker(),
		operationTimeout: defaultOperationTimeout,
	}
	if hub != nil {
		sessions.OnClose(hub.CloseConnection)
	}
	sessions.OnClose(m.health.Remove)
	return m
}

// SetLogger sets the logger for the manager and its session manager
func (m *Manager) SetLogger(logger *logger.Logger) {
	m.logger = logger
	m.sessions.SetLogger(logger)
}

// SetProfileStore enables ConnectStored and stored-profile capabilities.
func (m *Manager) SetProfileStore(store ProfileStore) {
	m.profiles = store
}

// SetOperationTimeout bounds operations whose context has no deadline.
func (m *Manager) SetOperationTimeout(d time.Duration) {
	if d > 0 {
		m.operationTimeout = d
	}
}

// SetMetrics enables operation metrics.
func (m *Manager) SetMetrics(metrics *Metrics) {
	m.metrics = metrics
	m.sessions.SetMetrics(metrics)
}

// Sessions returns the underlying session manager.
func (m *Manager) Sessions() *SessionManager {
	return m.sessions
}

// safeLog safely logs a message if logger is available
func (m *Manager) safeLog(level string, format string, args ...interface{}) {
	if m.logger != nil {
		switch level {
		case "info":
			m.logger.Info(format, args...)
		case "error":
			m.logger.Error(format, args...)
		case "warn":
			m.logger.Warn(format, args...)
		case "debug":
			m.logger.Debug(format, args...)
		}
	}
}

// operationFunc is one routed call against a live session.
type operationFunc func(ctx context.Context, s *Session) (interface{}, error)

// run resolves the session for id and executes fn under the operation
// timeout. Panics are reported as BackendError.
func (m *Manager) run(ctx context.Context, id string, op dbcapabilities.Operation, fn operationFunc) adapter.Result {
	start := time.Now()
	session, err := m.sessions.Get(id)
	if err != nil {
		m.metrics.observe("", string(op), err, time.Since(start))
		return adapter.Fail(err)
	}
	kind := session.Kind()

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	data, err := m.call(ctx, session, op, fn)
	if err != nil {
		err = adapter.WrapError(kind, string(op), err)
		m.safeLog("debug", "Operation %s on %s failed: %v", op, id, err)
	}
	m.metrics.observe(string(kind), string(op), err, time.Since(start))

	if err != nil {
		return adapter.Fail(err)
	}
	return adapter.OK(data)
}

func (m *Manager) call(ctx context.Context, s *Session, op dbcapabilities.Operation, fn operationFunc) (data interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.safeLog("error", "Recovered panic in %s on %s: %v\n%s", op, s.ID, r, debug.Stack())
			data = nil
			err = adapter.NewDatabaseError(s.Kind(), string(op), fmt.Errorf("internal adapter error: %v", r))
		}
	}()
	return fn(ctx, s)
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.operationTimeout)
}
