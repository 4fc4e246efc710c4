package redis

import (
	"crypto/tls"
	"fmt"
	"strconv"
	"time"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// clientOptions builds client options from a URI or host fields. Through a
// tunnel the address becomes the local forward and TLS keeps verifying the
// real host name.
func clientOptions(profile adapter.ConnectionProfile, transport adapter.Transport) (*redis.Options, error) {
	var opts *redis.Options
	if profile.URI != "" {
		parsed, err := redis.ParseURL(profile.URI)
		if err != nil {
			return nil, adapter.NewValidationError("uri", fmt.Sprintf("invalid redis URI: %v", err))
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: transport.Address()}
	}

	if opts.Username == "" {
		opts.Username = profile.Username
	}
	if opts.Password == "" {
		opts.Password = profile.Password
	}
	if profile.Database != "" {
		idx, err := strconv.Atoi(profile.Database)
		if err != nil || idx < 0 {
			return nil, adapter.NewValidationError("database", "must be a non-negative database index")
		}
		opts.DB = idx
	}

	if opts.TLSConfig == nil && profile.Option("tls", "false") == "true" {
		host, _, _ := profile.Target()
		opts.TLSConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			ServerName:         host,
			InsecureSkipVerify: profile.Option("tlsInsecure", "false") == "true",
		}
	}

	if transport.Tunneled() {
		opts.Addr = transport.Address()
	}
	opts.DialTimeout = pingTimeout
	return opts, nil
}
