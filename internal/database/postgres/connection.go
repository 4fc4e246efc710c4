package postgres

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redbco/redb-desk/pkg/adapter"
)

const (
	pingTimeout     = 10 * time.Second
	appName         = "redb-desk"
	defaultMaxConns = 4
	defaultDatabase = "postgres"
)

// connString renders a postgres:// URL for a host based profile.
func connString(profile adapter.ConnectionProfile, host string, port int) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + profile.Database,
	}
	if profile.Username != "" {
		u.User = url.UserPassword(profile.Username, profile.Password)
	}

	q := url.Values{}
	q.Set("sslmode", profile.Option("sslmode", "prefer"))
	for _, key := range []string{"sslrootcert", "sslcert", "sslkey"} {
		if v := profile.Option(key, ""); v != "" {
			q.Set(key, v)
		}
	}
	q.Set("application_name", appName)
	u.RawQuery = q.Encode()
	return u.String()
}

// poolConfig builds the pool configuration for profile. Through a tunnel
// the dial target becomes the local forward while TLS still verifies the
// real host name.
func poolConfig(profile adapter.ConnectionProfile, transport adapter.Transport) (*pgxpool.Config, error) {
	dsn := profile.URI
	if dsn == "" {
		host, port, err := profile.Target()
		if err != nil {
			return nil, err
		}
		dsn = connString(profile, host, port)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, adapter.NewValidationError("uri", fmt.Sprintf("invalid connection string: %v", err))
	}

	if profile.URI != "" && profile.Username != "" && cfg.ConnConfig.User == "" {
		cfg.ConnConfig.User = profile.Username
	}
	if profile.URI != "" && profile.Password != "" && cfg.ConnConfig.Password == "" {
		cfg.ConnConfig.Password = profile.Password
	}
	if profile.Database != "" {
		cfg.ConnConfig.Database = profile.Database
	}
	if cfg.ConnConfig.Database == "" {
		cfg.ConnConfig.Database = defaultDatabase
	}

	if transport.Tunneled() {
		cfg.ConnConfig.Host = transport.Host()
		cfg.ConnConfig.Port = uint16(transport.Port())
		// sslmode=prefer keeps a plaintext fallback; point it at the forward too.
		for _, fb := range cfg.ConnConfig.Fallbacks {
			fb.Host = transport.Host()
			fb.Port = uint16(transport.Port())
		}
	}

	cfg.ConnConfig.ConnectTimeout = pingTimeout
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = appName
	}

	cfg.MaxConns = defaultMaxConns
	if v := profile.Option("maxConns", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, adapter.NewValidationError("options.maxConns", "must be a positive integer")
		}
		cfg.MaxConns = int32(n)
	}
	cfg.MinConns = 0
	cfg.MaxConnIdleTime = 5 * time.Minute
	return cfg, nil
}
