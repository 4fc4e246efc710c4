package mongodb

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
)

type stubTransport struct {
	host     string
	port     int
	tunneled bool
}

func (s stubTransport) Address() string { return net.JoinHostPort(s.host, strconv.Itoa(s.port)) }
func (s stubTransport) Host() string    { return s.host }
func (s stubTransport) Port() int       { return s.port }
func (s stubTransport) Tunneled() bool  { return s.tunneled }
func (s stubTransport) Close() error    { return nil }

func (s stubTransport) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, address)
}

func TestClientOptionsDirectHost(t *testing.T) {
	profile := adapter.ConnectionProfile{
		ID:       "m1",
		Kind:     dbcapabilities.KindDocument,
		Host:     "db.internal",
		Port:     27017,
		Username: "app",
		Password: "secret",
		Database: "shop",
	}
	opts, defaultDB, err := clientOptions(profile, stubTransport{host: "db.internal", port: 27017})
	if err != nil {
		t.Fatalf("clientOptions returned error: %v", err)
	}
	if defaultDB != "shop" {
		t.Errorf("Expected default database shop, got %q", defaultDB)
	}
	if len(opts.Hosts) != 1 || opts.Hosts[0] != "db.internal:27017" {
		t.Errorf("Unexpected hosts %v", opts.Hosts)
	}
	if opts.Auth == nil || opts.Auth.Username != "app" || opts.Auth.AuthSource != "admin" {
		t.Errorf("Unexpected credential %#v", opts.Auth)
	}
	if opts.Direct != nil && *opts.Direct {
		t.Error("Direct connection should not be forced without a tunnel")
	}
}

func TestClientOptionsTunneledURI(t *testing.T) {
	profile := adapter.ConnectionProfile{
		ID:   "m2",
		Kind: dbcapabilities.KindDocument,
		URI:  "mongodb://user:pw@10.0.0.5:27017,10.0.0.6:27017/orders?replicaSet=rs0",
	}
	opts, defaultDB, err := clientOptions(profile, stubTransport{host: "127.0.0.1", port: 40111, tunneled: true})
	if err != nil {
		t.Fatalf("clientOptions returned error: %v", err)
	}
	if defaultDB != "orders" {
		t.Errorf("Expected default database from URI path, got %q", defaultDB)
	}
	if len(opts.Hosts) != 1 || opts.Hosts[0] != "127.0.0.1:40111" {
		t.Errorf("Expected the local forward as the only host, got %v", opts.Hosts)
	}
	if opts.Direct == nil || !*opts.Direct {
		t.Error("Expected a direct connection through the tunnel")
	}
	if opts.Auth == nil || opts.Auth.Username != "user" {
		t.Errorf("Expected URI credentials to be kept, got %#v", opts.Auth)
	}
}

func TestClientOptionsRejectsSRVThroughTunnel(t *testing.T) {
	profile := adapter.ConnectionProfile{
		ID:   "m3",
		Kind: dbcapabilities.KindDocument,
		URI:  "mongodb+srv://cluster0.example.net/app",
	}
	_, _, err := clientOptions(profile, stubTransport{host: "127.0.0.1", port: 40112, tunneled: true})
	if adapter.KindOf(err) != adapter.KindValidation {
		t.Fatalf("Expected validation error, got %v", err)
	}
}

func TestClientOptionsDefaultsDatabase(t *testing.T) {
	profile := adapter.ConnectionProfile{ID: "m4", Kind: dbcapabilities.KindDocument, Host: "localhost"}
	_, defaultDB, err := clientOptions(profile, stubTransport{host: "localhost", port: 27017})
	if err != nil {
		t.Fatalf("clientOptions returned error: %v", err)
	}
	if defaultDB != "test" {
		t.Errorf("Expected fallback database test, got %q", defaultDB)
	}
}
