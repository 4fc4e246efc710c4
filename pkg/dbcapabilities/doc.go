// Package dbcapabilities describes the backend kinds the data-access layer
// talks to: which product serves each kind, its default port, its built-in
// namespaces and which normalized operations it answers.
//
// Example:
//
//	c, _ := dbcapabilities.ForKind(dbcapabilities.KindRelational)
//	fmt.Println(c.Name, c.DefaultPort) // PostgreSQL 5432
//
//	kind, ok := dbcapabilities.ParseKind("mongo") // document, true
//
// ParseConnectionString turns a backend URI into ConnectionDetails that can
// seed a connection profile.
package dbcapabilities
