package dbcapabilities

import "strings"

// Kind is the backend family a connection profile targets. The operation
// router dispatches on Kind, never on a product name.
type Kind string

const (
	KindDocument   Kind = "document"
	KindRelational Kind = "relational"
	KindKeyValue   Kind = "keyvalue"
	KindLogBroker  Kind = "logbroker"
)

// DatabaseID is the canonical identifier of the product implementing a Kind.
type DatabaseID string

const (
	MongoDB    DatabaseID = "mongodb"
	PostgreSQL DatabaseID = "postgres"
	Redis      DatabaseID = "redis"
	Kafka      DatabaseID = "kafka"
)

// Operation names one entry of the normalized operation contract.
type Operation string

const (
	OpConnect        Operation = "connect"
	OpDisconnect     Operation = "disconnect"
	OpListNamespaces Operation = "listNamespaces"
	OpListContainers Operation = "listContainers"
	OpRead           Operation = "read"
	OpWrite          Operation = "write"
	OpUpdate         Operation = "update"
	OpDelete         Operation = "delete"
	OpAggregate      Operation = "aggregate"
	OpManageSchema   Operation = "manageSchema"
	OpExplain        Operation = "explain"
	OpServerStats    Operation = "serverStats"
	OpRawCommand     Operation = "rawCommand"
	OpVersion        Operation = "version"

	// Streaming operations.
	OpSubscribe       Operation = "subscribe"
	OpUnsubscribe     Operation = "unsubscribe"
	OpUnsubscribeAll  Operation = "unsubscribeAll"
	OpPublish         Operation = "publish"
	OpConsumeMessages Operation = "consumeMessages"
)

// Capability describes what a backend supports in a way callers can consume uniformly.
type Capability struct {
	// Human-friendly product name, e.g., "PostgreSQL".
	Name string `json:"name"`

	// Canonical ID, e.g., "postgres".
	ID DatabaseID `json:"id"`

	// Backend family served by this product.
	Kind Kind `json:"kind"`

	// Port used when a profile or URI omits one.
	DefaultPort int `json:"defaultPort"`

	// Whether the server exposes built-in namespaces and their typical names.
	HasSystemDatabase bool     `json:"hasSystemDatabase"`
	SystemDatabases   []string `json:"systemDatabases,omitempty"`

	// What a namespace and a container are called for this backend.
	NamespaceNoun string `json:"namespaceNoun,omitempty"`
	ContainerNoun string `json:"containerNoun"`

	// Operations that produce a result other than UnsupportedOperation.
	Operations []Operation `json:"operations"`

	// URI schemes accepted by ParseConnectionString.
	Schemes []string `json:"schemes"`

	// Common aliases that map to this backend.
	Aliases []string `json:"aliases,omitempty"`
}

var baseOperations = []Operation{OpConnect, OpDisconnect, OpListNamespaces, OpListContainers, OpServerStats}

func withBase(ops ...Operation) []Operation {
	out := make([]Operation, 0, len(baseOperations)+len(ops))
	out = append(out, baseOperations...)
	return append(out, ops...)
}

// All is a registry of capabilities keyed by the canonical database ID.
var All = map[DatabaseID]Capability{
	MongoDB: {
		Name:              "MongoDB",
		ID:                MongoDB,
		Kind:              KindDocument,
		DefaultPort:       27017,
		HasSystemDatabase: true,
		SystemDatabases:   []string{"admin", "local", "config"},
		NamespaceNoun:     "database",
		ContainerNoun:     "collection",
		Operations: withBase(OpRead, OpWrite, OpUpdate, OpDelete, OpAggregate,
			OpManageSchema, OpExplain, OpRawCommand, OpVersion),
		Schemes: []string{"mongodb", "mongodb+srv"},
		Aliases: []string{"mongo"},
	},
	PostgreSQL: {
		Name:              "PostgreSQL",
		ID:                PostgreSQL,
		Kind:              KindRelational,
		DefaultPort:       5432,
		HasSystemDatabase: true,
		SystemDatabases:   []string{"postgres"},
		NamespaceNoun:     "database",
		ContainerNoun:     "table",
		Operations: withBase(OpRead, OpWrite, OpUpdate, OpDelete, OpAggregate,
			OpManageSchema, OpExplain, OpRawCommand, OpVersion),
		Schemes: []string{"postgres", "postgresql"},
		Aliases: []string{"postgresql", "pgsql", "pg"},
	},
	Redis: {
		Name:              "Redis",
		ID:                Redis,
		Kind:              KindKeyValue,
		DefaultPort:       6379,
		HasSystemDatabase: false,
		NamespaceNoun:     "index",
		ContainerNoun:     "key",
		Operations: withBase(OpRead, OpWrite, OpUpdate, OpDelete, OpAggregate,
			OpManageSchema, OpRawCommand, OpVersion, OpSubscribe, OpUnsubscribe, OpUnsubscribeAll, OpPublish),
		Schemes: []string{"redis", "rediss"},
		Aliases: []string{"valkey"},
	},
	Kafka: {
		Name:          "Apache Kafka",
		ID:            Kafka,
		Kind:          KindLogBroker,
		DefaultPort:   9092,
		ContainerNoun: "topic",
		Operations:    withBase(OpRead, OpWrite, OpDelete, OpManageSchema, OpConsumeMessages),
		Schemes:       []string{"kafka"},
		Aliases:       []string{"apache-kafka", "redpanda"},
	},
}

// byKind maps every Kind to the product that implements it.
var byKind = map[Kind]DatabaseID{
	KindDocument:   MongoDB,
	KindRelational: PostgreSQL,
	KindKeyValue:   Redis,
	KindLogBroker:  Kafka,
}

// Kinds returns all backend kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindDocument, KindRelational, KindKeyValue, KindLogBroker}
}

// ParseID converts a free-form name (ID, alias, scheme or kind) into a canonical DatabaseID.
func ParseID(name string) (DatabaseID, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return "", false
	}
	if _, ok := All[DatabaseID(n)]; ok {
		return DatabaseID(n), true
	}
	if id, ok := byKind[Kind(n)]; ok {
		return id, true
	}
	for id, c := range All {
		for _, a := range c.Aliases {
			if a == n {
				return id, true
			}
		}
		for _, s := range c.Schemes {
			if s == n {
				return id, true
			}
		}
	}
	return "", false
}

// ParseKind converts a kind name or any product name/alias into a Kind.
func ParseKind(name string) (Kind, bool) {
	id, ok := ParseID(name)
	if !ok {
		return "", false
	}
	return All[id].Kind, true
}

// IDs returns the list of all known database IDs.
func IDs() []DatabaseID {
	out := make([]DatabaseID, 0, len(All))
	for id := range All {
		out = append(out, id)
	}
	return out
}

// Get returns capabilities for the given ID and a boolean indicating existence.
func Get(id DatabaseID) (Capability, bool) {
	c, ok := All[id]
	return c, ok
}

// MustGet returns capabilities for the given ID and panics if not found.
func MustGet(id DatabaseID) Capability {
	c, ok := Get(id)
	if !ok {
		panic("dbcapabilities: unknown database id: " + string(id))
	}
	return c
}

// ForKind returns the capabilities of the product serving a Kind.
func ForKind(k Kind) (Capability, bool) {
	id, ok := byKind[k]
	if !ok {
		return Capability{}, false
	}
	return Get(id)
}

// Supports reports whether op yields something other than UnsupportedOperation.
func (c Capability) Supports(op Operation) bool {
	for _, o := range c.Operations {
		if o == op {
			return true
		}
	}
	return false
}

// IsSystemNamespace reports whether name is one of the backend's built-in namespaces.
func IsSystemNamespace(k Kind, name string) bool {
	c, ok := ForKind(k)
	if !ok || !c.HasSystemDatabase {
		return false
	}
	return isSystemDatabase(name, c.SystemDatabases)
}

func isSystemDatabase(name string, systemDBs []string) bool {
	for _, s := range systemDBs {
		if strings.EqualFold(name, s) {
			return true
		}
	}
	return false
}
