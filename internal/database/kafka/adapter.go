package kafka

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
	"github.com/segmentio/kafka-go"
)

const (
	kind = dbcapabilities.KindLogBroker

	defaultConsumeTimeout = 10 * time.Second
	maxConsumeLimit       = 10000
	deadlineHeadroom      = time.Second
)

// Adapter implements adapter.Adapter for Kafka.
type Adapter struct {
	consumeTimeout time.Duration
	maxMessages    int
}

// Option configures the adapter.
type Option func(*Adapter)

// WithConsumeTimeout bounds ConsumeMessages calls that do not set their own timeout.
func WithConsumeTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.consumeTimeout = d
		}
	}
}

// WithMaxMessages caps the limit of a single ConsumeMessages call.
func WithMaxMessages(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.maxMessages = n
		}
	}
}

// NewAdapter creates a new Kafka adapter.
func NewAdapter(opts ...Option) *Adapter {
	a := &Adapter{consumeTimeout: defaultConsumeTimeout, maxMessages: maxConsumeLimit}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Kind returns the backend kind served by this adapter.
func (a *Adapter) Kind() dbcapabilities.Kind {
	return kind
}

// Capabilities returns the capabilities metadata for Kafka.
func (a *Adapter) Capabilities() dbcapabilities.Capability {
	return dbcapabilities.MustGet(dbcapabilities.Kafka)
}

// Connect builds a client over transport and fetches cluster metadata.
// Every broker connection, including the ones to advertised broker
// addresses, is dialed through transport.DialContext.
func (a *Adapter) Connect(ctx context.Context, profile adapter.ConnectionProfile, transport adapter.Transport) (adapter.Connection, error) {
	cfg, err := newClientConfig(profile, transport)
	if err != nil {
		return nil, err
	}

	client := &kafka.Client{
		Addr:      kafka.TCP(cfg.brokers...),
		Timeout:   requestTimeout,
		Transport: cfg.transport,
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if _, err := client.Metadata(pingCtx, &kafka.MetadataRequest{}); err != nil {
		cfg.transport.CloseIdleConnections()
		return nil, adapter.NewConnectionError(kind, transport.Host(), transport.Port(), err)
	}

	return &Connection{
		id:        profile.ID,
		profile:   profile.Clone(),
		adapter:   a,
		config:    cfg,
		client:    client,
		connected: 1,
	}, nil
}

// Connection implements adapter.Connection for Kafka.
type Connection struct {
	id      string
	profile adapter.ConnectionProfile
	adapter *Adapter
	config  *clientConfig
	client  *kafka.Client

	mu        sync.Mutex
	writer    *kafka.Writer
	connected int32
}

func (c *Connection) ID() string                         { return c.id }
func (c *Connection) Kind() dbcapabilities.Kind          { return kind }
func (c *Connection) IsConnected() bool                  { return atomic.LoadInt32(&c.connected) == 1 }
func (c *Connection) Raw() interface{}                   { return c.client }
func (c *Connection) Profile() adapter.ConnectionProfile { return c.profile }
func (c *Connection) Adapter() adapter.Adapter           { return c.adapter }

// Ping fetches broker metadata.
func (c *Connection) Ping(ctx context.Context) error {
	if !c.IsConnected() {
		return adapter.NewClosedError(kind)
	}
	_, err := c.client.Metadata(ctx, &kafka.MetadataRequest{})
	return wrapErr("ping", err)
}

// Close flushes the producer and drops idle broker connections. Calling it
// twice is a no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	if !atomic.CompareAndSwapInt32(&c.connected, 1, 0) {
		c.mu.Unlock()
		return nil
	}
	writer := c.writer
	c.writer = nil
	c.mu.Unlock()

	var err error
	if writer != nil {
		err = writer.Close()
	}
	c.config.transport.CloseIdleConnections()
	return err
}

func (c *Connection) SchemaOperations() adapter.SchemaOperator {
	return &SchemaOps{conn: c}
}

func (c *Connection) DataOperations() adapter.DataOperator {
	return &DataOps{UnsupportedDataOperator: adapter.UnsupportedDataOperator{Backend: kind}, conn: c}
}

func (c *Connection) MetadataOperations() adapter.MetadataOperator {
	return &MetadataOps{UnsupportedMetadataOperator: adapter.UnsupportedMetadataOperator{Backend: kind}, conn: c}
}

func (c *Connection) PubSubOperations() adapter.PubSubOperator {
	return adapter.UnsupportedPubSubOperator{Backend: kind}
}

func (c *Connection) ConsumerOperations() adapter.ConsumerOperator {
	return &ConsumerOps{conn: c}
}

func (c *Connection) checkOpen() error {
	if !c.IsConnected() {
		return adapter.NewClosedError(kind)
	}
	return nil
}

// producer returns the connection's shared writer, creating it on first
// use. Messages carry their own topic so one writer serves every topic.
func (c *Connection) producer() (*kafka.Writer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.IsConnected() {
		return nil, adapter.NewClosedError(kind)
	}
	if c.writer == nil {
		c.writer = &kafka.Writer{
			Addr:                   kafka.TCP(c.config.brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           10 * time.Millisecond,
			WriteTimeout:           requestTimeout,
			AllowAutoTopicCreation: false,
			Transport:              c.config.transport,
		}
	}
	return c.writer, nil
}
