package database

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
)

// recorder collects teardown events in order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeTransport struct {
	id       string
	host     string
	port     int
	tunneled bool
	rec      *recorder
	closed   atomic.Bool
}

func (t *fakeTransport) Address() string { return net.JoinHostPort(t.host, strconv.Itoa(t.port)) }
func (t *fakeTransport) Host() string    { return t.host }
func (t *fakeTransport) Port() int       { return t.port }
func (t *fakeTransport) Tunneled() bool  { return t.tunneled }

func (t *fakeTransport) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return nil, errors.New("fake transport does not dial")
}

func (t *fakeTransport) Close() error {
	t.closed.Store(true)
	t.rec.add("transport:" + t.id)
	return nil
}

type fakeOpener struct {
	rec      *recorder
	err      error
	tunneled bool

	mu         sync.Mutex
	transports []*fakeTransport
}

func (o *fakeOpener) Open(ctx context.Context, profile adapter.ConnectionProfile) (adapter.Transport, error) {
	if o.err != nil {
		return nil, o.err
	}
	host, port, _ := profile.Target()
	t := &fakeTransport{id: profile.ID, host: host, port: port, tunneled: o.tunneled, rec: o.rec}
	if o.tunneled {
		t.host, t.port = "127.0.0.1", 40001
	}
	o.mu.Lock()
	o.transports = append(o.transports, t)
	o.mu.Unlock()
	return t, nil
}

func (o *fakeOpener) opened() []*fakeTransport {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*fakeTransport(nil), o.transports...)
}

type fakeAdapter struct {
	kind         dbcapabilities.Kind
	rec          *recorder
	connectErr   error
	connectPanic string

	// closeGate, when set, makes Close on new connections wait for it.
	closeGate chan struct{}

	mu    sync.Mutex
	conns []*fakeConn
}

func (a *fakeAdapter) Kind() dbcapabilities.Kind { return a.kind }

func (a *fakeAdapter) Capabilities() dbcapabilities.Capability {
	c, _ := dbcapabilities.ForKind(a.kind)
	return c
}

func (a *fakeAdapter) Connect(ctx context.Context, profile adapter.ConnectionProfile, transport adapter.Transport) (adapter.Connection, error) {
	if a.connectPanic != "" {
		panic(a.connectPanic)
	}
	if a.connectErr != nil {
		return nil, a.connectErr
	}
	c := &fakeConn{id: profile.ID, kind: a.kind, profile: profile, adapter: a, rec: a.rec, closeGate: a.closeGate}
	a.mu.Lock()
	a.conns = append(a.conns, c)
	a.mu.Unlock()
	return c, nil
}

func (a *fakeAdapter) connections() []*fakeConn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*fakeConn(nil), a.conns...)
}

type fakeConn struct {
	id        string
	kind      dbcapabilities.Kind
	profile   adapter.ConnectionProfile
	adapter   *fakeAdapter
	rec       *recorder
	closed    atomic.Bool
	pingErr   error
	closeGate chan struct{}
	pubsub    fakePubSub
}

func (c *fakeConn) ID() string                { return c.id }
func (c *fakeConn) Kind() dbcapabilities.Kind { return c.kind }
func (c *fakeConn) IsConnected() bool         { return !c.closed.Load() }

func (c *fakeConn) Ping(ctx context.Context) error { return c.pingErr }

func (c *fakeConn) Close() error {
	if c.closeGate != nil {
		<-c.closeGate
	}
	c.closed.Store(true)
	c.rec.add("conn:" + c.id)
	return nil
}

func (c *fakeConn) SchemaOperations() adapter.SchemaOperator { return fakeSchema{c} }
func (c *fakeConn) DataOperations() adapter.DataOperator     { return fakeData{c: c} }

func (c *fakeConn) MetadataOperations() adapter.MetadataOperator {
	return adapter.UnsupportedMetadataOperator{Backend: c.kind}
}

func (c *fakeConn) PubSubOperations() adapter.PubSubOperator { return &c.pubsub }

func (c *fakeConn) ConsumerOperations() adapter.ConsumerOperator {
	if c.kind != dbcapabilities.KindLogBroker {
		return adapter.UnsupportedConsumerOperator{Backend: c.kind}
	}
	return fakeConsumer{}
}

func (c *fakeConn) Raw() interface{}                   { return nil }
func (c *fakeConn) Profile() adapter.ConnectionProfile { return c.profile }
func (c *fakeConn) Adapter() adapter.Adapter           { return c.adapter }

type fakeSchema struct{ c *fakeConn }

func (s fakeSchema) ListNamespaces(ctx context.Context) ([]adapter.Namespace, error) {
	return []adapter.Namespace{{Name: "admin"}, {Name: "app"}}, nil
}

func (s fakeSchema) ListContainers(ctx context.Context, namespace string, opts adapter.ListOptions) ([]adapter.Container, error) {
	return []adapter.Container{{Name: "users", Namespace: namespace, Type: "collection"}}, nil
}

func (s fakeSchema) ManageSchema(ctx context.Context, req adapter.SchemaRequest) (*adapter.SchemaResult, error) {
	return &adapter.SchemaResult{Action: req.Action, Target: req.Target}, nil
}

// fakeData reacts to magic container names.
type fakeData struct {
	adapter.UnsupportedDataOperator
	c *fakeConn
}

func (d fakeData) Read(ctx context.Context, req adapter.ReadRequest) (*adapter.ReadResult, error) {
	switch req.Container {
	case "panic":
		panic("driver exploded")
	case "fail":
		return nil, errors.New("driver failure")
	case "slow":
		<-ctx.Done()
		return nil, ctx.Err()
	}
	rows := []map[string]interface{}{{"id": 1}, {"id": 2}, {"id": 3}}
	return adapter.NewReadResult([]string{"id"}, rows, req.Limit), nil
}

func (d fakeData) Write(ctx context.Context, req adapter.WriteRequest) (*adapter.WriteResult, error) {
	return &adapter.WriteResult{Affected: int64(len(req.Records))}, nil
}

type fakeConsumer struct{}

func (fakeConsumer) ConsumeMessages(ctx context.Context, req adapter.ConsumeRequest) ([]adapter.BrokerMessage, error) {
	if req.Topic == "empty" {
		return nil, nil
	}
	return []adapter.BrokerMessage{{Topic: req.Topic, Value: "v"}}, nil
}

type fakePubSub struct {
	mu       sync.Mutex
	sink     adapter.MessageSink
	channels []string
}

func (p *fakePubSub) Subscribe(ctx context.Context, channels []string, sink adapter.MessageSink) error {
	if len(channels) == 0 {
		return adapter.NewValidationError("channels", "at least one channel is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = sink
	p.channels = append(p.channels, channels...)
	return nil
}

func (p *fakePubSub) Unsubscribe(ctx context.Context, channels []string) error { return nil }

func (p *fakePubSub) UnsubscribeAll(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = nil
	return nil
}

func (p *fakePubSub) Publish(ctx context.Context, channel, payload string) (int64, error) {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink == nil {
		return 0, nil
	}
	sink(adapter.ChannelMessage{Channel: channel, Payload: payload})
	return 1, nil
}

func (p *fakePubSub) Channels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.channels...)
}
