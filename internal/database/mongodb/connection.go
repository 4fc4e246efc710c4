package mongodb

import (
	"crypto/tls"
	"strings"
	"time"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const (
	pingTimeout = 10 * time.Second
	appName     = "redb-desk"
)

// clientOptions builds driver options for profile. When the transport is a
// tunnel the seed list is replaced by the local forward and the driver is
// told not to discover other members, since their advertised addresses are
// not reachable from here.
func clientOptions(profile adapter.ConnectionProfile, transport adapter.Transport) (*options.ClientOptions, string, error) {
	opts := options.Client().
		SetAppName(appName).
		SetConnectTimeout(pingTimeout).
		SetServerSelectionTimeout(pingTimeout)

	defaultDB := profile.Database

	if profile.URI != "" {
		if strings.HasPrefix(profile.URI, "mongodb+srv://") && transport.Tunneled() {
			return nil, "", adapter.NewValidationError("uri", "mongodb+srv URIs cannot be used through an SSH tunnel, list the hosts instead")
		}
		opts.ApplyURI(profile.URI)
		if err := opts.Validate(); err != nil {
			return nil, "", adapter.NewValidationError("uri", err.Error())
		}
		if defaultDB == "" {
			if details, err := dbcapabilities.ParseConnectionString(profile.URI); err == nil {
				defaultDB = details.DatabaseName
			}
		}
	}

	if profile.URI == "" || transport.Tunneled() {
		opts.SetHosts([]string{transport.Address()})
	}
	if transport.Tunneled() || profile.Option("directConnection", "false") == "true" {
		opts.SetDirect(true)
	} else if rs := profile.Option("replicaSet", ""); rs != "" {
		opts.SetReplicaSet(rs)
	}

	if opts.Auth == nil && profile.Username != "" {
		opts.SetAuth(options.Credential{
			Username:      profile.Username,
			Password:      profile.Password,
			AuthSource:    profile.Option("authSource", "admin"),
			AuthMechanism: profile.Option("authMechanism", ""),
		})
	}

	if opts.TLSConfig == nil && profile.Option("tls", "false") == "true" {
		opts.SetTLSConfig(&tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: profile.Option("tlsInsecure", "false") == "true",
		})
	}
	if opts.TLSConfig != nil && transport.Tunneled() {
		// Certificates name the real host, not the local forward.
		if host, _, err := profile.Target(); err == nil {
			opts.TLSConfig.ServerName = host
		}
	}

	if defaultDB == "" {
		defaultDB = "test"
	}
	return opts, defaultDB, nil
}

// pingReadPref accepts a secondary when connected directly to one member.
func pingReadPref(transport adapter.Transport) *readpref.ReadPref {
	if transport.Tunneled() {
		return readpref.PrimaryPreferred()
	}
	return readpref.Primary()
}
