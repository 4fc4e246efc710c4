package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
)

type sessionFixture struct {
	rec     *recorder
	opener  *fakeOpener
	adapter *fakeAdapter
	sm      *SessionManager
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	rec := &recorder{}
	f := &sessionFixture{
		rec:     rec,
		opener:  &fakeOpener{rec: rec},
		adapter: &fakeAdapter{kind: dbcapabilities.KindDocument, rec: rec},
	}
	f.sm = NewSessionManager(adapter.NewRegistry(f.adapter), f.opener)
	f.sm.OnClose(func(id string) { rec.add("hook:" + id) })
	return f
}

func docProfile() adapter.ConnectionProfile {
	return adapter.ConnectionProfile{Kind: dbcapabilities.KindDocument, Host: "db.internal"}
}

func TestSessionManager_ConnectAndGet(t *testing.T) {
	f := newSessionFixture(t)

	session, err := f.sm.Connect(context.Background(), "c1", docProfile())
	require.NoError(t, err)
	assert.Equal(t, "c1", session.ID)
	assert.Equal(t, "c1", session.Profile.ID)
	assert.Equal(t, dbcapabilities.KindDocument, session.Kind())
	assert.Equal(t, 0, session.LocalPort())

	got, err := f.sm.Get("c1")
	require.NoError(t, err)
	assert.Same(t, session, got)

	info := session.Info()
	assert.Equal(t, "db.internal:27017", info.Target)
	assert.False(t, info.Tunneled)
	assert.True(t, info.Connected)
}

func TestSessionManager_GetWithoutSession(t *testing.T) {
	f := newSessionFixture(t)

	_, err := f.sm.Get("missing")
	require.Error(t, err)
	assert.Equal(t, adapter.KindConnection, adapter.KindOf(err))
}

func TestSessionManager_ProfileIsCopied(t *testing.T) {
	f := newSessionFixture(t)
	profile := docProfile()
	profile.Options = map[string]string{"appName": "one"}

	session, err := f.sm.Connect(context.Background(), "c1", profile)
	require.NoError(t, err)

	profile.Options["appName"] = "two"
	assert.Equal(t, "one", session.Profile.Options["appName"])
}

func TestSessionManager_TunneledLocalPort(t *testing.T) {
	f := newSessionFixture(t)
	f.opener.tunneled = true

	session, err := f.sm.Connect(context.Background(), "c1", docProfile())
	require.NoError(t, err)
	assert.Equal(t, 40001, session.LocalPort())
	assert.True(t, session.Info().Tunneled)
}

func TestSessionManager_ReplaceClosesOldSessionFirst(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	first, err := f.sm.Connect(ctx, "c1", docProfile())
	require.NoError(t, err)
	second, err := f.sm.Connect(ctx, "c1", docProfile())
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.False(t, first.Conn.IsConnected())
	assert.True(t, second.Conn.IsConnected())
	assert.Equal(t, []string{"hook:c1", "conn:c1", "transport:c1"}, f.rec.list())
	assert.Equal(t, []string{"c1"}, f.sm.IDs())
}

func TestSessionManager_DisconnectOrder(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.sm.Connect(ctx, "c1", docProfile())
	require.NoError(t, err)

	assert.True(t, f.sm.Disconnect(ctx, "c1"))
	assert.Equal(t, []string{"hook:c1", "conn:c1", "transport:c1"}, f.rec.list())

	_, err = f.sm.Get("c1")
	assert.Equal(t, adapter.KindConnection, adapter.KindOf(err))

	// Unknown ids are a no-op.
	assert.False(t, f.sm.Disconnect(ctx, "c1"))
	assert.Len(t, f.rec.list(), 3)
}

func TestSessionManager_ConnectFailureClosesTransport(t *testing.T) {
	f := newSessionFixture(t)
	f.adapter.connectErr = errors.New("auth failed")

	_, err := f.sm.Connect(context.Background(), "c1", docProfile())
	require.Error(t, err)
	assert.Equal(t, adapter.KindConnection, adapter.KindOf(err))

	transports := f.opener.opened()
	require.Len(t, transports, 1)
	assert.True(t, transports[0].closed.Load())
	assert.Empty(t, f.sm.IDs())
}

func TestSessionManager_TunnelFailureKeepsKind(t *testing.T) {
	f := newSessionFixture(t)
	f.opener.err = adapter.NewTunnelError(adapter.StageAuth, "bastion", 22, errors.New("denied"))

	_, err := f.sm.Connect(context.Background(), "c1", docProfile())
	require.Error(t, err)
	assert.Equal(t, adapter.KindTunnel, adapter.KindOf(err))
	assert.Empty(t, f.adapter.connections(), "no adapter connect after a tunnel failure")
	assert.Empty(t, f.sm.IDs())
}

func TestSessionManager_ConnectPanicClosesTransport(t *testing.T) {
	f := newSessionFixture(t)
	f.adapter.connectPanic = "driver exploded during connect"

	var err error
	require.NotPanics(t, func() {
		_, err = f.sm.Connect(context.Background(), "c1", docProfile())
	})
	require.Error(t, err)
	assert.Equal(t, adapter.KindConnection, adapter.KindOf(err))
	assert.Contains(t, err.Error(), "internal adapter error")

	transports := f.opener.opened()
	require.Len(t, transports, 1)
	assert.True(t, transports[0].closed.Load())
	assert.Empty(t, f.sm.IDs())

	require.NotPanics(t, func() {
		_, err = f.sm.Probe(context.Background(), docProfile())
	})
	require.Error(t, err)
	transports = f.opener.opened()
	require.Len(t, transports, 2)
	assert.True(t, transports[1].closed.Load())
}

func TestSessionManager_HooksRunBeforeSlowTeardownReturns(t *testing.T) {
	f := newSessionFixture(t)
	f.sm.SetDisconnectTimeout(20 * time.Millisecond)
	gate := make(chan struct{})
	f.adapter.closeGate = gate

	_, err := f.sm.Connect(context.Background(), "c1", docProfile())
	require.NoError(t, err)

	assert.True(t, f.sm.Disconnect(context.Background(), "c1"))
	assert.Equal(t, []string{"hook:c1"}, f.rec.list())

	close(gate)
	assert.Eventually(t, func() bool { return len(f.rec.list()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"hook:c1", "conn:c1", "transport:c1"}, f.rec.list())
}

func TestSessionManager_InvalidProfile(t *testing.T) {
	f := newSessionFixture(t)

	_, err := f.sm.Connect(context.Background(), "", docProfile())
	assert.Equal(t, adapter.KindValidation, adapter.KindOf(err))

	_, err = f.sm.Connect(context.Background(), "c1", adapter.ConnectionProfile{Kind: "graph", Host: "x"})
	assert.Equal(t, adapter.KindValidation, adapter.KindOf(err))
	assert.Empty(t, f.opener.opened())
}

func TestSessionManager_ConcurrentIDs(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	ids := []string{"a", "b", "c", "d", "e", "f"}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.sm.Connect(ctx, id, docProfile())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, ids, f.sm.IDs())

	f.sm.DisconnectAll(ctx)
	assert.Empty(t, f.sm.IDs())
	assert.Len(t, f.rec.list(), 3*len(ids))
}

func TestSessionManager_Probe(t *testing.T) {
	f := newSessionFixture(t)

	_, err := f.sm.Probe(context.Background(), docProfile())
	require.NoError(t, err)
	assert.Empty(t, f.sm.IDs())

	transports := f.opener.opened()
	require.Len(t, transports, 1)
	assert.True(t, transports[0].closed.Load())
	assert.Equal(t, []string{"conn:probe", "transport:probe"}, f.rec.list())
}
