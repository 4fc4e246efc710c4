package adapter

import "time"

// DefaultReadLimit caps reads that do not set a limit.
const DefaultReadLimit = 100

// Namespace is a database, schema or numeric index.
type Namespace struct {
	Name   string                 `json:"name"`
	System bool                   `json:"system,omitempty"`
	Stats  map[string]interface{} `json:"stats,omitempty"`
}

// Container is a collection, table, key or topic inside a namespace.
type Container struct {
	Name      string                 `json:"name"`
	Namespace string                 `json:"namespace,omitempty"`
	Type      string                 `json:"type"`
	Stats     map[string]interface{} `json:"stats,omitempty"`
}

// ListOptions narrows ListContainers.
type ListOptions struct {
	// Pattern is a glob for key-value backends and a prefix elsewhere.
	Pattern string `json:"pattern,omitempty"`
	// Limit caps the number of returned containers; 0 uses the adapter default.
	Limit int `json:"limit,omitempty"`
	// IncludeInternal lists broker-internal topics and system tables.
	IncludeInternal bool `json:"includeInternal,omitempty"`
}

// SortField orders results by one field.
type SortField struct {
	Field      string `json:"field"`
	Descending bool   `json:"descending,omitempty"`
}

// ReadRequest reads records from a container.
//
// Filter is a field map. Values may be plain (equality) or operator maps
// such as {"$gt": 5}. Query, when set, is run as-is instead: SQL for the
// relational backend, an extended-JSON filter for the document backend, a
// command line for the key-value backend.
type ReadRequest struct {
	Namespace  string                 `json:"namespace,omitempty"`
	Container  string                 `json:"container"`
	Filter     map[string]interface{} `json:"filter,omitempty"`
	Query      string                 `json:"query,omitempty"`
	Args       []interface{}          `json:"args,omitempty"`
	Projection []string               `json:"projection,omitempty"`
	Sort       []SortField            `json:"sort,omitempty"`
	Limit      int                    `json:"limit,omitempty"`
	Skip       int                    `json:"skip,omitempty"`

	// FromBeginning selects the earliest offset on log brokers.
	FromBeginning bool `json:"fromBeginning,omitempty"`
}

// ProduceMessage is one record to append to a topic.
type ProduceMessage struct {
	Key       string            `json:"key,omitempty"`
	Value     string            `json:"value"`
	Headers   map[string]string `json:"headers,omitempty"`
	Partition *int              `json:"partition,omitempty"`
}

// WriteRequest inserts records, sets a key or produces messages.
type WriteRequest struct {
	Namespace string                   `json:"namespace,omitempty"`
	Container string                   `json:"container"`
	Records   []map[string]interface{} `json:"records,omitempty"`

	// Key-value writes.
	Value     interface{}   `json:"value,omitempty"`
	ValueType string        `json:"valueType,omitempty"`
	TTL       time.Duration `json:"ttl,omitempty"`

	// Log broker writes.
	Messages []ProduceMessage `json:"messages,omitempty"`
}

// UpdateRequest modifies matching records or overwrites a key.
type UpdateRequest struct {
	Namespace string                 `json:"namespace,omitempty"`
	Container string                 `json:"container"`
	Filter    map[string]interface{} `json:"filter,omitempty"`
	Patch     map[string]interface{} `json:"patch,omitempty"`

	// Value replaces the whole key on key-value backends.
	Value     interface{}   `json:"value,omitempty"`
	ValueType string        `json:"valueType,omitempty"`
	TTL       time.Duration `json:"ttl,omitempty"`

	// All must be set to update every record when Filter is empty.
	All bool `json:"all,omitempty"`
}

// DeleteRequest removes matching records, keys or a topic.
type DeleteRequest struct {
	Namespace string                 `json:"namespace,omitempty"`
	Container string                 `json:"container"`
	Filter    map[string]interface{} `json:"filter,omitempty"`
	Keys      []string               `json:"keys,omitempty"`

	// All must be set to delete every record when Filter is empty.
	All bool `json:"all,omitempty"`
}

// AggregateRequest runs a pipeline (document) or an aggregate statement.
type AggregateRequest struct {
	Namespace string                   `json:"namespace,omitempty"`
	Container string                   `json:"container,omitempty"`
	Pipeline  []map[string]interface{} `json:"pipeline,omitempty"`
	Query     string                   `json:"query,omitempty"`
	Args      []interface{}            `json:"args,omitempty"`
}

// ExplainRequest asks the planner how a read would run.
type ExplainRequest struct {
	Namespace string                   `json:"namespace,omitempty"`
	Container string                   `json:"container,omitempty"`
	Filter    map[string]interface{}   `json:"filter,omitempty"`
	Pipeline  []map[string]interface{} `json:"pipeline,omitempty"`
	Query     string                   `json:"query,omitempty"`
	Args      []interface{}            `json:"args,omitempty"`

	// Analyze executes the statement to collect actual timings.
	Analyze bool `json:"analyze,omitempty"`
}

// SchemaAction names a structural change.
type SchemaAction string

const (
	ActionCreateContainer SchemaAction = "create_container"
	ActionDropContainer   SchemaAction = "drop_container"
	ActionRenameContainer SchemaAction = "rename_container"
	ActionCreateIndex     SchemaAction = "create_index"
	ActionDropIndex       SchemaAction = "drop_index"
	ActionFlushNamespace  SchemaAction = "flush_namespace"
	ActionAlterConfig     SchemaAction = "alter_config"
	ActionVacuum          SchemaAction = "vacuum"
	ActionAnalyze         SchemaAction = "analyze"
	ActionReindex         SchemaAction = "reindex"
)

// ColumnDefinition describes a relational column.
type ColumnDefinition struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable,omitempty"`
	PrimaryKey bool   `json:"primaryKey,omitempty"`
	Default    string `json:"default,omitempty"`
}

// IndexDefinition describes an index on a container.
type IndexDefinition struct {
	Name   string      `json:"name,omitempty"`
	Fields []SortField `json:"fields"`
	Unique bool        `json:"unique,omitempty"`
}

// SchemaRequest is one structural change on a container or namespace.
type SchemaRequest struct {
	Action    SchemaAction       `json:"action"`
	Namespace string             `json:"namespace,omitempty"`
	Target    string             `json:"target,omitempty"`
	NewName   string             `json:"newName,omitempty"`
	Columns   []ColumnDefinition `json:"columns,omitempty"`
	Index     *IndexDefinition   `json:"index,omitempty"`

	// Log broker topic settings.
	Partitions        int               `json:"partitions,omitempty"`
	ReplicationFactor int               `json:"replicationFactor,omitempty"`
	Config            map[string]string `json:"config,omitempty"`
}

// ReadResult is a page of records.
type ReadResult struct {
	Columns []string                 `json:"columns,omitempty"`
	Rows    []map[string]interface{} `json:"rows"`
	Count   int                      `json:"count"`
	HasMore bool                     `json:"hasMore,omitempty"`
}

// NewReadResult wraps rows, never returning a nil slice.
func NewReadResult(columns []string, rows []map[string]interface{}, limit int) *ReadResult {
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	res := &ReadResult{Columns: columns, Rows: rows}
	if limit > 0 && len(rows) > limit {
		res.Rows = rows[:limit]
		res.HasMore = true
	}
	res.Count = len(res.Rows)
	return res
}

// WriteResult reports the effect of a write, update or delete.
type WriteResult struct {
	Affected    int64         `json:"affected"`
	Matched     int64         `json:"matched,omitempty"`
	InsertedIDs []interface{} `json:"insertedIds,omitempty"`
}

// SchemaResult reports a structural change.
type SchemaResult struct {
	Action  SchemaAction `json:"action"`
	Target  string       `json:"target,omitempty"`
	Message string       `json:"message,omitempty"`
}

// ChannelMessage is a pub/sub message.
type ChannelMessage struct {
	ConnectionID string    `json:"connectionId"`
	Channel      string    `json:"channel"`
	Pattern      string    `json:"pattern,omitempty"`
	Payload      string    `json:"payload"`
	Timestamp    time.Time `json:"timestamp"`
}

// ConsumeRequest bounds a topic read.
type ConsumeRequest struct {
	Topic         string        `json:"topic"`
	Limit         int           `json:"limit"`
	FromBeginning bool          `json:"fromBeginning"`
	Timeout       time.Duration `json:"timeout,omitempty"`
}

// BrokerMessage is a record read from a topic.
type BrokerMessage struct {
	Topic     string            `json:"topic"`
	Partition int               `json:"partition"`
	Offset    int64             `json:"offset"`
	Key       string            `json:"key,omitempty"`
	Value     string            `json:"value"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Row flattens a message into a ReadResult row.
func (m BrokerMessage) Row() map[string]interface{} {
	row := map[string]interface{}{
		"topic":     m.Topic,
		"partition": m.Partition,
		"offset":    m.Offset,
		"key":       m.Key,
		"value":     m.Value,
		"timestamp": m.Timestamp,
	}
	if len(m.Headers) > 0 {
		row["headers"] = m.Headers
	}
	return row
}
