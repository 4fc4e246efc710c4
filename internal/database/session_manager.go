package database

import (
	"context"
	"fmt"
	"net"
	"runtime/debug"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
	"github.com/redbco/redb-desk/pkg/logger"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultDisconnectTimeout = 5 * time.Second
)

// TransportOpener opens the network path for a profile. *tunnel.Negotiator
// implements it.
type TransportOpener interface {
	Open(ctx context.Context, profile adapter.ConnectionProfile) (adapter.Transport, error)
}

// CloseHook runs before a session's client is closed.
type CloseHook func(id string)

// Session is one live connection: the profile it was opened with, the
// adapter connection and the transport underneath it.
type Session struct {
	ID        string
	Profile   adapter.ConnectionProfile
	Conn      adapter.Connection
	Transport adapter.Transport
	CreatedAt time.Time
}

// Kind returns the backend kind of the session.
func (s *Session) Kind() dbcapabilities.Kind {
	return s.Profile.Kind
}

// LocalPort is the local end of the SSH tunnel, or 0 for direct sessions.
func (s *Session) LocalPort() int {
	if s.Transport == nil || !s.Transport.Tunneled() {
		return 0
	}
	return s.Transport.Port()
}

// SessionInfo is the caller-facing summary of a session.
type SessionInfo struct {
	ID        string              `json:"id"`
	Name      string              `json:"name,omitempty"`
	Kind      dbcapabilities.Kind `json:"kind"`
	Target    string              `json:"target"`
	Tunneled  bool                `json:"tunneled"`
	LocalPort int                 `json:"localPort,omitempty"`
	Connected bool                `json:"connected"`
	CreatedAt time.Time           `json:"createdAt"`
}

// Info summarizes the session.
func (s *Session) Info() SessionInfo {
	host, port, _ := s.Profile.Target()
	return SessionInfo{
		ID:        s.ID,
		Name:      s.Profile.Name,
		Kind:      s.Kind(),
		Target:    targetAddress(host, port),
		Tunneled:  s.LocalPort() != 0,
		LocalPort: s.LocalPort(),
		Connected: s.Conn.IsConnected(),
		CreatedAt: s.CreatedAt,
	}
}

// SessionManager keeps at most one live session per connection id.
// Connect and Disconnect for the same id are serialized; different ids
// proceed in parallel.
type SessionManager struct {
	registry *adapter.Registry
	opener   TransportOpener

	mu       sync.RWMutex
	sessions map[string]*Session

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	hooks             []CloseHook
	connectTimeout    time.Duration
	disconnectTimeout time.Duration
	metrics           *Metrics
	logger            *logger.Logger
}

// NewSessionManager creates a session manager.
func NewSessionManager(registry *adapter.Registry, opener TransportOpener) *SessionManager {
	return &SessionManager{
		registry:          registry,
		opener:            opener,
		sessions:          make(map[string]*Session),
		locks:             make(map[string]*sync.Mutex),
		connectTimeout:    defaultConnectTimeout,
		disconnectTimeout: defaultDisconnectTimeout,
	}
}

// SetLogger sets the logger for the session manager
func (sm *SessionManager) SetLogger(logger *logger.Logger) {
	sm.logger = logger
}

// SetConnectTimeout bounds transport setup plus the adapter's connect.
func (sm *SessionManager) SetConnectTimeout(d time.Duration) {
	if d > 0 {
		sm.connectTimeout = d
	}
}

// SetDisconnectTimeout bounds how long Disconnect waits for teardown.
func (sm *SessionManager) SetDisconnectTimeout(d time.Duration) {
	if d > 0 {
		sm.disconnectTimeout = d
	}
}

// SetMetrics records the active session gauge.
func (sm *SessionManager) SetMetrics(m *Metrics) {
	sm.metrics = m
}

// OnClose registers a hook run at the start of every session teardown.
func (sm *SessionManager) OnClose(hook CloseHook) {
	sm.hooks = append(sm.hooks, hook)
}

// safeLog safely logs a message if logger is available
func (sm *SessionManager) safeLog(level string, format string, args ...interface{}) {
	if sm.logger != nil {
		switch level {
		case "info":
			sm.logger.Info(format, args...)
		case "error":
			sm.logger.Error(format, args...)
		case "warn":
			sm.logger.Warn(format, args...)
		case "debug":
			sm.logger.Debug(format, args...)
		}
	}
}

func (sm *SessionManager) lockFor(id string) *sync.Mutex {
	sm.locksMu.Lock()
	defer sm.locksMu.Unlock()

	l, ok := sm.locks[id]
	if !ok {
		l = &sync.Mutex{}
		sm.locks[id] = l
	}
	return l
}

// Connect opens a session for id. An existing session for id is closed
// first. The profile is copied, so later edits by the caller do not
// affect the session.
func (sm *SessionManager) Connect(ctx context.Context, id string, profile adapter.ConnectionProfile) (*Session, error) {
	if id == "" {
		return nil, adapter.NewValidationError("id", "connection id is required")
	}
	profile = profile.Clone()
	profile.ID = id
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	l := sm.lockFor(id)
	l.Lock()
	defer l.Unlock()

	if old := sm.take(id); old != nil {
		sm.safeLog("info", "Replacing existing session %s", id)
		sm.closeSession(ctx, old)
	}

	connectCtx, cancel := context.WithTimeout(ctx, sm.connectTimeout)
	defer cancel()

	host, port, _ := profile.Target()
	sm.safeLog("info", "Connecting %s (kind: %s, target: %s, tunnel: %t)",
		id, profile.Kind, targetAddress(host, port), profile.TunnelEnabled())

	transport, err := sm.opener.Open(connectCtx, profile)
	if err != nil {
		sm.safeLog("warn", "Failed to open transport for %s: %v", id, err)
		return nil, connectError(profile, host, port, err)
	}

	conn, err := sm.openConnection(connectCtx, profile, transport)
	if err != nil {
		if cerr := transport.Close(); cerr != nil {
			sm.safeLog("warn", "Failed to close transport for %s: %v", id, cerr)
		}
		sm.safeLog("warn", "Failed to connect %s: %v", id, err)
		return nil, connectError(profile, host, port, err)
	}

	session := &Session{
		ID:        id,
		Profile:   profile,
		Conn:      conn,
		Transport: transport,
		CreatedAt: time.Now().UTC(),
	}

	sm.mu.Lock()
	sm.sessions[id] = session
	count := len(sm.sessions)
	sm.mu.Unlock()
	sm.metrics.setSessions(count)

	sm.safeLog("info", "Connected %s", id)
	return session, nil
}

// openConnection runs the adapter's connect. A panic in the adapter is
// reported as a BackendError.
func (sm *SessionManager) openConnection(ctx context.Context, profile adapter.ConnectionProfile, transport adapter.Transport) (conn adapter.Connection, err error) {
	err = sm.guarded(profile.Kind, string(dbcapabilities.OpConnect), profile.ID, func() error {
		var cerr error
		conn, cerr = sm.registry.Connect(ctx, profile, transport)
		return cerr
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// guarded runs fn and turns a panic in it into a BackendError for op.
func (sm *SessionManager) guarded(backend dbcapabilities.Kind, op, id string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			sm.safeLog("error", "Recovered panic in %s on %s: %v\n%s", op, id, r, debug.Stack())
			err = adapter.NewDatabaseError(backend, op, fmt.Errorf("internal adapter error: %v", r))
		}
	}()
	return fn()
}

func targetAddress(host string, port int) string {
	if port == 0 {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// connectError keeps typed errors and reports anything else from the
// connect phase as a connection failure.
func connectError(profile adapter.ConnectionProfile, host string, port int, err error) error {
	switch adapter.KindOf(err) {
	case adapter.KindBackend:
		return adapter.NewConnectionError(profile.Kind, host, port, err)
	default:
		return adapter.WrapError(profile.Kind, string(dbcapabilities.OpConnect), err)
	}
}

// Disconnect closes the session for id: close hooks first, then the backend
// client, then the transport. Close failures are logged. It reports whether
// a session existed.
func (sm *SessionManager) Disconnect(ctx context.Context, id string) bool {
	l := sm.lockFor(id)
	l.Lock()
	defer l.Unlock()

	session := sm.take(id)
	if session == nil {
		return false
	}
	sm.closeSession(ctx, session)
	sm.safeLog("info", "Disconnected %s", id)
	return true
}

// DisconnectAll closes every session concurrently.
func (sm *SessionManager) DisconnectAll(ctx context.Context) {
	var g errgroup.Group
	for _, id := range sm.IDs() {
		g.Go(func() error {
			sm.Disconnect(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

// take removes and returns the session for id.
func (sm *SessionManager) take(id string) *Session {
	sm.mu.Lock()
	session, ok := sm.sessions[id]
	if ok {
		delete(sm.sessions, id)
	}
	count := len(sm.sessions)
	sm.mu.Unlock()

	if ok {
		sm.metrics.setSessions(count)
	}
	return session
}

// closeSession tears s down in order. Close hooks run before it returns,
// so they never touch state of a session that replaces s. Closing the
// client and transport keeps running in the background when it outlives
// the disconnect timeout or ctx.
func (sm *SessionManager) closeSession(ctx context.Context, s *Session) {
	for _, hook := range sm.hooks {
		hook(s.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, sm.disconnectTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		err := sm.guarded(s.Kind(), string(dbcapabilities.OpDisconnect), s.ID, s.Conn.Close)
		if err != nil {
			sm.safeLog("warn", "Error closing client for %s: %v", s.ID, err)
		}
		if s.Transport != nil {
			if err := s.Transport.Close(); err != nil {
				sm.safeLog("warn", "Error closing transport for %s: %v", s.ID, err)
			}
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sm.safeLog("warn", "Teardown of %s did not finish in time, continuing in background", s.ID)
	}
}

// Get returns the live session for id, or a ConnectionError when there is none.
func (sm *SessionManager) Get(id string) (*Session, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, ok := sm.sessions[id]
	if !ok {
		return nil, adapter.NewNoSessionError(id)
	}
	return session, nil
}

// IDs returns the ids of all live sessions in sorted order.
func (sm *SessionManager) IDs() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	ids := make([]string, 0, len(sm.sessions))
	for id := range sm.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns all live sessions sorted by id.
func (sm *SessionManager) List() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sessions := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions
}

// Probe opens a throwaway connection for profile, pings it and tears it
// down without registering a session. It returns the round trip time.
func (sm *SessionManager) Probe(ctx context.Context, profile adapter.ConnectionProfile) (time.Duration, error) {
	profile = profile.Clone()
	if profile.ID == "" {
		profile.ID = "probe"
	}
	if err := profile.Validate(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, sm.connectTimeout)
	defer cancel()

	host, port, _ := profile.Target()
	transport, err := sm.opener.Open(ctx, profile)
	if err != nil {
		return 0, connectError(profile, host, port, err)
	}
	defer func() {
		if err := transport.Close(); err != nil {
			sm.safeLog("warn", "Failed to close probe transport: %v", err)
		}
	}()

	conn, err := sm.openConnection(ctx, profile, transport)
	if err != nil {
		return 0, connectError(profile, host, port, err)
	}
	defer func() {
		if err := sm.guarded(profile.Kind, string(dbcapabilities.OpDisconnect), profile.ID, conn.Close); err != nil {
			sm.safeLog("warn", "Failed to close probe connection: %v", err)
		}
	}()

	start := time.Now()
	if err := sm.guarded(profile.Kind, "ping", profile.ID, func() error { return conn.Ping(ctx) }); err != nil {
		return 0, connectError(profile, host, port, err)
	}
	return time.Since(start), nil
}
