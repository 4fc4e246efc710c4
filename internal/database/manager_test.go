package database

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbco/redb-desk/internal/streaming"
	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
	"github.com/redbco/redb-desk/pkg/health"
)

type managerFixture struct {
	rec      *recorder
	opener   *fakeOpener
	docs     *fakeAdapter
	kv       *fakeAdapter
	broker   *fakeAdapter
	hub      *streaming.Hub
	manager  *Manager
	metrics  *Metrics
	registry *prometheus.Registry
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	rec := &recorder{}
	f := &managerFixture{
		rec:      rec,
		opener:   &fakeOpener{rec: rec},
		docs:     &fakeAdapter{kind: dbcapabilities.KindDocument, rec: rec},
		kv:       &fakeAdapter{kind: dbcapabilities.KindKeyValue, rec: rec},
		broker:   &fakeAdapter{kind: dbcapabilities.KindLogBroker, rec: rec},
		hub:      streaming.NewHub(),
		registry: prometheus.NewRegistry(),
	}
	sessions := NewSessionManager(adapter.NewRegistry(f.docs, f.kv, f.broker), f.opener)
	f.manager = NewManager(sessions, f.hub)
	f.metrics = NewMetrics(f.registry)
	f.manager.SetMetrics(f.metrics)
	t.Cleanup(func() {
		f.manager.DisconnectAll(context.Background())
		f.hub.Close()
	})
	return f
}

func (f *managerFixture) connect(t *testing.T, id string, kind dbcapabilities.Kind) {
	t.Helper()
	res := f.manager.Connect(context.Background(), id, adapter.ConnectionProfile{Kind: kind, Host: "backend.internal"})
	require.True(t, res.Success, "connect failed: %v", res.Err())
}

func TestManager_ConnectResult(t *testing.T) {
	f := newManagerFixture(t)

	res := f.manager.Connect(context.Background(), "c1", adapter.ConnectionProfile{Kind: dbcapabilities.KindDocument, Host: "mongo"})
	require.True(t, res.Success)
	info, ok := res.Data.(SessionInfo)
	require.True(t, ok)
	assert.Equal(t, "c1", info.ID)
	assert.Equal(t, dbcapabilities.KindDocument, info.Kind)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.sessions))

	res = f.manager.Disconnect(context.Background(), "c1")
	require.True(t, res.Success)
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.sessions))
}

func TestManager_NoSession(t *testing.T) {
	f := newManagerFixture(t)

	res := f.manager.Read(context.Background(), "ghost", adapter.ReadRequest{Container: "users"})
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, adapter.KindConnection, res.Error.Kind)
}

func TestManager_Read(t *testing.T) {
	f := newManagerFixture(t)
	f.connect(t, "c1", dbcapabilities.KindDocument)

	res := f.manager.Read(context.Background(), "c1", adapter.ReadRequest{Container: "users", Limit: 2})
	require.True(t, res.Success)
	page := res.Data.(*adapter.ReadResult)
	assert.Equal(t, 2, page.Count)
	assert.True(t, page.HasMore)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.operations.WithLabelValues("document", "read", "ok")))
}

func TestManager_DriverErrorsAreNormalized(t *testing.T) {
	f := newManagerFixture(t)
	f.connect(t, "c1", dbcapabilities.KindDocument)

	res := f.manager.Read(context.Background(), "c1", adapter.ReadRequest{Container: "fail"})
	assert.False(t, res.Success)
	assert.Equal(t, adapter.KindBackend, res.Error.Kind)
	assert.Contains(t, res.Error.Message, "driver failure")
}

func TestManager_PanicBecomesBackendError(t *testing.T) {
	f := newManagerFixture(t)
	f.connect(t, "c1", dbcapabilities.KindDocument)

	var res adapter.Result
	assert.NotPanics(t, func() {
		res = f.manager.Read(context.Background(), "c1", adapter.ReadRequest{Container: "panic"})
	})
	assert.False(t, res.Success)
	assert.Equal(t, adapter.KindBackend, res.Error.Kind)
	assert.Contains(t, res.Error.Message, "driver exploded")
}

func TestManager_OperationTimeout(t *testing.T) {
	f := newManagerFixture(t)
	f.connect(t, "c1", dbcapabilities.KindDocument)
	f.manager.SetOperationTimeout(50 * time.Millisecond)

	start := time.Now()
	res := f.manager.Read(context.Background(), "c1", adapter.ReadRequest{Container: "slow"})
	assert.False(t, res.Success)
	assert.Equal(t, adapter.KindTimeout, res.Error.Kind)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.operations.WithLabelValues("document", "read", string(adapter.KindTimeout))))
}

func TestManager_Unsupported(t *testing.T) {
	f := newManagerFixture(t)
	f.connect(t, "c1", dbcapabilities.KindDocument)

	res := f.manager.Update(context.Background(), "c1", adapter.UpdateRequest{Container: "users"})
	assert.Equal(t, adapter.KindUnsupported, res.Error.Kind)

	res = f.manager.ConsumeMessages(context.Background(), "c1", "topic", 10, true)
	assert.Equal(t, adapter.KindUnsupported, res.Error.Kind)

	res = f.manager.Version(context.Background(), "c1")
	assert.Equal(t, adapter.KindUnsupported, res.Error.Kind)
}

func TestManager_ListNamespacesFlagsSystem(t *testing.T) {
	f := newManagerFixture(t)
	f.connect(t, "c1", dbcapabilities.KindDocument)

	res := f.manager.ListNamespaces(context.Background(), "c1")
	require.True(t, res.Success)
	namespaces := res.Data.([]adapter.Namespace)
	require.Len(t, namespaces, 2)
	assert.True(t, namespaces[0].System)
	assert.False(t, namespaces[1].System)
}

func TestManager_Validation(t *testing.T) {
	f := newManagerFixture(t)
	f.connect(t, "c1", dbcapabilities.KindKeyValue)
	ctx := context.Background()

	assert.Equal(t, adapter.KindValidation, f.manager.ManageSchema(ctx, "c1", adapter.SchemaRequest{}).Error.Kind)
	assert.Equal(t, adapter.KindValidation, f.manager.RawCommand(ctx, "c1", "  ").Error.Kind)
	assert.Equal(t, adapter.KindValidation, f.manager.Publish(ctx, "c1", "", "x").Error.Kind)
}

func TestManager_SubscribeDeliversToListeners(t *testing.T) {
	f := newManagerFixture(t)
	f.connect(t, "kv", dbcapabilities.KindKeyValue)
	ctx := context.Background()

	var (
		mu       sync.Mutex
		received []adapter.ChannelMessage
	)
	unregister := f.manager.OnMessage("kv", func(msg adapter.ChannelMessage) {
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
	})
	defer unregister()

	res := f.manager.Subscribe(ctx, "kv", []string{"news"})
	require.True(t, res.Success)

	for _, payload := range []string{"a", "b", "c"} {
		require.True(t, f.manager.Publish(ctx, "kv", "news", payload).Success)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, payload := range []string{"a", "b", "c"} {
		assert.Equal(t, payload, received[i].Payload)
		assert.Equal(t, "kv", received[i].ConnectionID)
	}
}

func TestManager_DisconnectRemovesListeners(t *testing.T) {
	f := newManagerFixture(t)
	f.connect(t, "kv", dbcapabilities.KindKeyValue)

	f.manager.OnMessage("kv", func(adapter.ChannelMessage) {})
	assert.Equal(t, 1, f.hub.ListenerCount("kv"))

	f.manager.Disconnect(context.Background(), "kv")
	assert.Equal(t, 0, f.hub.ListenerCount("kv"))
}

func TestManager_ReplaceKeepsNewListenersAfterSlowTeardown(t *testing.T) {
	f := newManagerFixture(t)
	f.manager.Sessions().SetDisconnectTimeout(20 * time.Millisecond)
	gate := make(chan struct{})
	f.kv.closeGate = gate
	f.connect(t, "kv", dbcapabilities.KindKeyValue)
	f.kv.closeGate = nil

	f.manager.OnMessage("kv", func(adapter.ChannelMessage) {})
	f.connect(t, "kv", dbcapabilities.KindKeyValue)
	assert.Equal(t, 0, f.hub.ListenerCount("kv"))

	f.manager.OnMessage("kv", func(adapter.ChannelMessage) {})
	close(gate)
	assert.Eventually(t, func() bool { return f.kv.connections()[0].closed.Load() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.hub.ListenerCount("kv"))
}

func TestManager_ConnectPanicIsContained(t *testing.T) {
	f := newManagerFixture(t)
	f.docs.connectPanic = "driver exploded during connect"
	ctx := context.Background()

	var res adapter.Result
	require.NotPanics(t, func() {
		res = f.manager.Execute(ctx, Call{
			ConnectionID: "c1",
			Operation:    dbcapabilities.OpConnect,
			Args:         json.RawMessage(`{"kind":"document","host":"h"}`),
		})
	})
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, adapter.KindConnection, res.Error.Kind)
	assert.Contains(t, res.Error.Message, "driver exploded during connect")

	transports := f.opener.opened()
	require.Len(t, transports, 1)
	assert.True(t, transports[0].closed.Load())
	assert.Empty(t, f.manager.Sessions().IDs())

	require.NotPanics(t, func() {
		res = f.manager.TestConnection(ctx, adapter.ConnectionProfile{Kind: dbcapabilities.KindDocument, Host: "h"})
	})
	assert.False(t, res.Success)
	transports = f.opener.opened()
	require.Len(t, transports, 2)
	assert.True(t, transports[1].closed.Load())
}

func TestManager_ConsumeEmptyTopic(t *testing.T) {
	f := newManagerFixture(t)
	f.connect(t, "k", dbcapabilities.KindLogBroker)

	res := f.manager.ConsumeMessages(context.Background(), "k", "empty", 10, false)
	require.True(t, res.Success)
	assert.Equal(t, []adapter.BrokerMessage{}, res.Data)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"data":[]}`, string(raw))
}

func TestManager_Capabilities(t *testing.T) {
	f := newManagerFixture(t)
	f.connect(t, "k", dbcapabilities.KindLogBroker)

	res := f.manager.Capabilities(context.Background(), "k")
	require.True(t, res.Success)
	capability := res.Data.(dbcapabilities.Capability)
	assert.True(t, capability.Supports(dbcapabilities.OpConsumeMessages))
	assert.False(t, capability.Supports(dbcapabilities.OpSubscribe))

	f.manager.SetProfileStore(staticProfiles{
		"stored": {Kind: dbcapabilities.KindRelational, Host: "pg"},
	})
	res = f.manager.Capabilities(context.Background(), "stored")
	require.True(t, res.Success)
	assert.Equal(t, dbcapabilities.KindRelational, res.Data.(dbcapabilities.Capability).Kind)
}

func TestManager_ConnectStored(t *testing.T) {
	f := newManagerFixture(t)

	res := f.manager.ConnectStored(context.Background(), "stored")
	assert.Equal(t, adapter.KindValidation, res.Error.Kind)

	f.manager.SetProfileStore(staticProfiles{
		"stored": {Kind: dbcapabilities.KindDocument, Host: "mongo"},
	})
	res = f.manager.ConnectStored(context.Background(), "stored")
	require.True(t, res.Success)

	res = f.manager.ConnectStored(context.Background(), "unknown")
	assert.False(t, res.Success)
}

func TestManager_TestConnection(t *testing.T) {
	f := newManagerFixture(t)

	res := f.manager.TestConnection(context.Background(), adapter.ConnectionProfile{Kind: dbcapabilities.KindDocument, Host: "mongo"})
	require.True(t, res.Success)
	assert.Empty(t, f.manager.Sessions().IDs())
}

func TestManager_HealthCheck(t *testing.T) {
	f := newManagerFixture(t)
	f.connect(t, "good", dbcapabilities.KindDocument)
	f.connect(t, "bad", dbcapabilities.KindKeyValue)

	session, err := f.manager.Sessions().Get("bad")
	require.NoError(t, err)
	session.Conn.(*fakeConn).pingErr = adapter.NewConnectionError(dbcapabilities.KindKeyValue, "backend.internal", 6379, errors.New("connection refused"))

	res := f.manager.HealthCheck(context.Background())
	require.True(t, res.Success)
	report := res.Data.(HealthReport)
	assert.Equal(t, health.StatusDegraded, report.Status)
	require.Len(t, report.Checks, 2)
	assert.Equal(t, "bad", report.Checks[0].Name)
	assert.Equal(t, health.StatusUnhealthy, report.Checks[0].Status)

	f.manager.Disconnect(context.Background(), "bad")
	report = f.manager.HealthCheck(context.Background()).Data.(HealthReport)
	assert.Equal(t, health.StatusHealthy, report.Status)
}

type staticProfiles map[string]adapter.ConnectionProfile

func (s staticProfiles) Get(ctx context.Context, id string) (adapter.ConnectionProfile, error) {
	profile, ok := s[id]
	if !ok {
		return adapter.ConnectionProfile{}, adapter.NewValidationError("id", "unknown profile "+id)
	}
	return profile, nil
}
