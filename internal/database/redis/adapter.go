package redis

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
	"github.com/redis/go-redis/v9"
)

const (
	kind = dbcapabilities.KindKeyValue

	defaultScanCount   = 100
	defaultMaxScanKeys = 1000
)

// Adapter implements adapter.Adapter for Redis.
type Adapter struct {
	scanCount   int
	maxScanKeys int
}

// Option configures the adapter.
type Option func(*Adapter)

// WithScanLimits sets the SCAN COUNT hint and the cap on keys returned by
// one listing.
func WithScanLimits(maxKeys, count int) Option {
	return func(a *Adapter) {
		if maxKeys > 0 {
			a.maxScanKeys = maxKeys
		}
		if count > 0 {
			a.scanCount = count
		}
	}
}

// NewAdapter creates a new Redis adapter.
func NewAdapter(opts ...Option) *Adapter {
	a := &Adapter{scanCount: defaultScanCount, maxScanKeys: defaultMaxScanKeys}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Kind returns the backend kind served by this adapter.
func (a *Adapter) Kind() dbcapabilities.Kind {
	return kind
}

// Capabilities returns the capabilities metadata for Redis.
func (a *Adapter) Capabilities() dbcapabilities.Capability {
	return dbcapabilities.MustGet(dbcapabilities.Redis)
}

// Connect creates a client for the profile's index and sends PING.
func (a *Adapter) Connect(ctx context.Context, profile adapter.ConnectionProfile, transport adapter.Transport) (adapter.Connection, error) {
	opts, err := clientOptions(profile, transport)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, adapter.NewConnectionError(kind, transport.Host(), transport.Port(), err)
	}

	conn := &Connection{
		id:        profile.ID,
		profile:   profile.Clone(),
		adapter:   a,
		base:      opts,
		defaultDB: opts.DB,
		clients:   map[int]*redis.Client{opts.DB: client},
		connected: 1,
	}
	conn.pubsub = &PubSubOps{conn: conn, channels: map[string]struct{}{}}
	return conn, nil
}

// Connection implements adapter.Connection for Redis. Each numeric index
// other than the default gets its own client on first use.
type Connection struct {
	id        string
	profile   adapter.ConnectionProfile
	adapter   *Adapter
	base      *redis.Options
	defaultDB int
	pubsub    *PubSubOps

	mu        sync.Mutex
	clients   map[int]*redis.Client
	connected int32
}

func (c *Connection) ID() string                         { return c.id }
func (c *Connection) Kind() dbcapabilities.Kind          { return kind }
func (c *Connection) IsConnected() bool                  { return atomic.LoadInt32(&c.connected) == 1 }
func (c *Connection) Profile() adapter.ConnectionProfile { return c.profile }
func (c *Connection) Adapter() adapter.Adapter           { return c.adapter }

// Raw returns the client of the default index.
func (c *Connection) Raw() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clients[c.defaultDB]
}

// Ping sends PING on the default index.
func (c *Connection) Ping(ctx context.Context) error {
	client, err := c.client("")
	if err != nil {
		return err
	}
	return wrapErr("ping", client.Ping(ctx).Err())
}

// Close drops subscriptions and closes every client. Calling it twice is a no-op.
func (c *Connection) Close() error {
	if !atomic.CompareAndSwapInt32(&c.connected, 1, 0) {
		return nil
	}
	c.pubsub.close()

	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for idx, client := range c.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.clients, idx)
	}
	return firstErr
}

func (c *Connection) SchemaOperations() adapter.SchemaOperator {
	return &SchemaOps{conn: c}
}

func (c *Connection) DataOperations() adapter.DataOperator {
	return &DataOps{UnsupportedDataOperator: adapter.UnsupportedDataOperator{Backend: kind}, conn: c}
}

func (c *Connection) MetadataOperations() adapter.MetadataOperator {
	return &MetadataOps{conn: c}
}

func (c *Connection) PubSubOperations() adapter.PubSubOperator {
	return c.pubsub
}

func (c *Connection) ConsumerOperations() adapter.ConsumerOperator {
	return adapter.UnsupportedConsumerOperator{Backend: kind}
}

// client returns the client for a numeric index, creating it when needed.
func (c *Connection) client(namespace string) (*redis.Client, error) {
	if !c.IsConnected() {
		return nil, adapter.NewClosedError(kind)
	}
	idx := c.defaultDB
	if namespace != "" {
		n, err := strconv.Atoi(namespace)
		if err != nil || n < 0 {
			return nil, adapter.NewValidationError("namespace", "must be a non-negative database index")
		}
		idx = n
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[idx]; ok {
		return client, nil
	}
	opts := *c.base
	opts.DB = idx
	client := redis.NewClient(&opts)
	c.clients[idx] = client
	return client, nil
}
