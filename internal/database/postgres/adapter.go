package postgres

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
)

const kind = dbcapabilities.KindRelational

// Adapter implements adapter.Adapter for PostgreSQL.
type Adapter struct{}

// NewAdapter creates a new PostgreSQL adapter.
func NewAdapter() *Adapter {
	return &Adapter{}
}

// Kind returns the backend kind served by this adapter.
func (a *Adapter) Kind() dbcapabilities.Kind {
	return kind
}

// Capabilities returns the capabilities metadata for PostgreSQL.
func (a *Adapter) Capabilities() dbcapabilities.Capability {
	return dbcapabilities.MustGet(dbcapabilities.PostgreSQL)
}

// Connect opens a pool on the profile's database and pings it.
func (a *Adapter) Connect(ctx context.Context, profile adapter.ConnectionProfile, transport adapter.Transport) (adapter.Connection, error) {
	cfg, err := poolConfig(profile, transport)
	if err != nil {
		return nil, err
	}

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return nil, adapter.NewConnectionError(kind, transport.Host(), transport.Port(), err)
	}

	database := cfg.ConnConfig.Database
	return &Connection{
		id:        profile.ID,
		profile:   profile.Clone(),
		adapter:   a,
		base:      cfg,
		defaultDB: database,
		pools:     map[string]*pgxpool.Pool{database: pool},
		connected: 1,
	}, nil
}

func openPool(ctx context.Context, cfg *pgxpool.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Connection implements adapter.Connection for PostgreSQL. PostgreSQL binds
// a session to one database, so every namespace other than the default gets
// its own pool, opened on first use.
type Connection struct {
	id        string
	profile   adapter.ConnectionProfile
	adapter   *Adapter
	base      *pgxpool.Config
	defaultDB string

	mu        sync.Mutex
	pools     map[string]*pgxpool.Pool
	connected int32
}

func (c *Connection) ID() string                         { return c.id }
func (c *Connection) Kind() dbcapabilities.Kind          { return kind }
func (c *Connection) IsConnected() bool                  { return atomic.LoadInt32(&c.connected) == 1 }
func (c *Connection) Profile() adapter.ConnectionProfile { return c.profile }
func (c *Connection) Adapter() adapter.Adapter           { return c.adapter }

// Raw returns the pool of the default database.
func (c *Connection) Raw() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pools[c.defaultDB]
}

// Ping checks the default database.
func (c *Connection) Ping(ctx context.Context) error {
	pool, err := c.pool(ctx, "")
	if err != nil {
		return err
	}
	if err := pool.Ping(ctx); err != nil {
		return wrapErr("ping", err)
	}
	return nil
}

// Close closes every pool. Calling it twice is a no-op.
func (c *Connection) Close() error {
	if !atomic.CompareAndSwapInt32(&c.connected, 1, 0) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, pool := range c.pools {
		pool.Close()
		delete(c.pools, name)
	}
	return nil
}

func (c *Connection) SchemaOperations() adapter.SchemaOperator {
	return &SchemaOps{conn: c}
}

func (c *Connection) DataOperations() adapter.DataOperator {
	return &DataOps{conn: c}
}

func (c *Connection) MetadataOperations() adapter.MetadataOperator {
	return &MetadataOps{conn: c}
}

func (c *Connection) PubSubOperations() adapter.PubSubOperator {
	return adapter.UnsupportedPubSubOperator{Backend: kind}
}

func (c *Connection) ConsumerOperations() adapter.ConsumerOperator {
	return adapter.UnsupportedConsumerOperator{Backend: kind}
}

// pool returns the pool for namespace, opening it when needed.
func (c *Connection) pool(ctx context.Context, namespace string) (*pgxpool.Pool, error) {
	if !c.IsConnected() {
		return nil, adapter.NewClosedError(kind)
	}
	if namespace == "" {
		namespace = c.defaultDB
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if pool, ok := c.pools[namespace]; ok {
		return pool, nil
	}

	cfg := c.base.Copy()
	cfg.ConnConfig.Database = namespace
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return nil, wrapErr("connect", err)
	}
	c.pools[namespace] = pool
	return pool, nil
}
