package mongodb

import (
	"context"
	"sync/atomic"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const kind = dbcapabilities.KindDocument

// Adapter implements adapter.Adapter for MongoDB.
type Adapter struct{}

// NewAdapter creates a new MongoDB adapter.
func NewAdapter() *Adapter {
	return &Adapter{}
}

// Kind returns the backend kind served by this adapter.
func (a *Adapter) Kind() dbcapabilities.Kind {
	return kind
}

// Capabilities returns the capabilities metadata for MongoDB.
func (a *Adapter) Capabilities() dbcapabilities.Capability {
	return dbcapabilities.MustGet(dbcapabilities.MongoDB)
}

// Connect establishes a client through transport and pings it.
func (a *Adapter) Connect(ctx context.Context, profile adapter.ConnectionProfile, transport adapter.Transport) (adapter.Connection, error) {
	opts, defaultDB, err := clientOptions(profile, transport)
	if err != nil {
		return nil, err
	}

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, adapter.NewConnectionError(kind, transport.Host(), transport.Port(), err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, pingReadPref(transport)); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, adapter.NewConnectionError(kind, transport.Host(), transport.Port(), err)
	}

	return &Connection{
		id:        profile.ID,
		client:    client,
		profile:   profile.Clone(),
		adapter:   a,
		defaultDB: defaultDB,
		connected: 1,
	}, nil
}

// Connection implements adapter.Connection for MongoDB.
type Connection struct {
	id        string
	client    *mongo.Client
	profile   adapter.ConnectionProfile
	adapter   *Adapter
	defaultDB string
	connected int32
}

func (c *Connection) ID() string                         { return c.id }
func (c *Connection) Kind() dbcapabilities.Kind          { return kind }
func (c *Connection) IsConnected() bool                  { return atomic.LoadInt32(&c.connected) == 1 }
func (c *Connection) Raw() interface{}                   { return c.client }
func (c *Connection) Profile() adapter.ConnectionProfile { return c.profile }
func (c *Connection) Adapter() adapter.Adapter           { return c.adapter }

// Ping checks the primary is reachable.
func (c *Connection) Ping(ctx context.Context) error {
	if !c.IsConnected() {
		return adapter.NewClosedError(kind)
	}
	if err := c.client.Ping(ctx, readpref.PrimaryPreferred()); err != nil {
		return wrapErr("ping", err)
	}
	return nil
}

// Close disconnects the client. Calling it twice is a no-op.
func (c *Connection) Close() error {
	if !atomic.CompareAndSwapInt32(&c.connected, 1, 0) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return c.client.Disconnect(ctx)
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

// database resolves a namespace, falling back to the profile default.
func (c *Connection) database(namespace string) (*mongo.Database, error) {
	if !c.IsConnected() {
		return nil, adapter.NewClosedError(kind)
	}
	if namespace == "" {
		namespace = c.defaultDB
	}
	if namespace == "" {
		return nil, adapter.NewValidationError("namespace", "no database selected and the profile has no default")
	}
	return c.client.Database(namespace), nil
}

func (c *Connection) collection(namespace, container string) (*mongo.Collection, error) {
	if container == "" {
		return nil, adapter.NewValidationError("container", "collection name is required")
	}
	db, err := c.database(namespace)
	if err != nil {
		return nil, err
	}
	return db.Collection(container), nil
}
