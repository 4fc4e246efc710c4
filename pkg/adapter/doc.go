// Package adapter defines the uniform contract every backend adapter implements.
//
// A backend is addressed by its dbcapabilities.Kind (document, relational,
// keyvalue, logbroker). Each adapter turns a ConnectionProfile plus an open
// Transport into a Connection, and the Connection exposes its operations
// through operator interfaces:
//
//   - SchemaOperator: namespaces, containers and schema management
//   - DataOperator: read, write, update, delete, aggregate and explain
//   - MetadataOperator: server statistics, version and raw commands
//   - PubSubOperator: push delivery for backends with channels
//   - ConsumerOperator: bounded reads from log-structured topics
//
// Every operator method exists for every backend. Operations that have no
// meaning for a backend return an *UnsupportedOperationError; adapters get
// that behavior by embedding the Unsupported* operators and overriding what
// they implement.
//
// # Usage
//
//	reg := adapter.NewRegistry(mongodb.NewAdapter(), postgres.NewAdapter())
//
//	conn, err := reg.Connect(ctx, profile, transport)
//	if err != nil {
//	    return adapter.Fail(err)
//	}
//	defer conn.Close()
//
//	rows, err := conn.DataOperations().Read(ctx, adapter.ReadRequest{
//	    Namespace: "shop",
//	    Container: "orders",
//	    Filter:    map[string]interface{}{"status": "open"},
//	    Limit:     50,
//	})
//
// # Errors
//
// Errors leaving an adapter are one of the typed errors in errors.go or wrap a
// driver error in a *DatabaseError carrying the native code. Normalize maps
// any error onto the closed ErrorKind taxonomy used in Result.
package adapter
