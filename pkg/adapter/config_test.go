package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbco/redb-desk/pkg/dbcapabilities"
)

func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name    string
		profile ConnectionProfile
		field   string
	}{
		{
			name:    "valid relational",
			profile: ConnectionProfile{ID: "c1", Kind: dbcapabilities.KindRelational, Host: "db", Port: 5432},
		},
		{
			name:    "missing id",
			profile: ConnectionProfile{Kind: dbcapabilities.KindRelational, Host: "db"},
			field:   "id",
		},
		{
			name:    "unknown kind",
			profile: ConnectionProfile{ID: "c1", Kind: "graph", Host: "db"},
			field:   "kind",
		},
		{
			name:    "no address",
			profile: ConnectionProfile{ID: "c1", Kind: dbcapabilities.KindDocument},
			field:   "host",
		},
		{
			name:    "bad key-value index",
			profile: ConnectionProfile{ID: "c1", Kind: dbcapabilities.KindKeyValue, Host: "r", Database: "cache"},
			field:   "database",
		},
		{
			name: "broker settings on non-broker",
			profile: ConnectionProfile{ID: "c1", Kind: dbcapabilities.KindDocument, Host: "m",
				Broker: &BrokerSecurityConfig{TLS: &TLSConfig{Enabled: true}}},
			field: "broker",
		},
		{
			name: "unknown sasl",
			profile: ConnectionProfile{ID: "c1", Kind: dbcapabilities.KindLogBroker, Brokers: []string{"k:9092"},
				Broker: &BrokerSecurityConfig{SASL: &SASLConfig{Mechanism: "GSSAPI"}}},
			field: "broker.sasl.mechanism",
		},
		{
			name: "tunnel without credentials",
			profile: ConnectionProfile{ID: "c1", Kind: dbcapabilities.KindRelational, Host: "db",
				SSHTunnel: &SSHTunnelConfig{Enabled: true, Host: "bastion", Username: "ops"}},
			field: "sshTunnel",
		},
		{
			name: "disabled tunnel is ignored",
			profile: ConnectionProfile{ID: "c1", Kind: dbcapabilities.KindRelational, Host: "db",
				SSHTunnel: &SSHTunnelConfig{Enabled: false}},
		},
		{
			name: "srv cannot be tunneled",
			profile: ConnectionProfile{ID: "c1", Kind: dbcapabilities.KindDocument, URI: "mongodb+srv://u:p@cluster.example.net/",
				SSHTunnel: &SSHTunnelConfig{Enabled: true, Host: "bastion", Username: "ops", Password: "pw"}},
			field: "uri",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestProfileTarget(t *testing.T) {
	host, port, err := ConnectionProfile{Kind: dbcapabilities.KindKeyValue, Host: "cache"}.Target()
	require.NoError(t, err)
	assert.Equal(t, "cache", host)
	assert.Equal(t, 6379, port)

	host, port, err = ConnectionProfile{Kind: dbcapabilities.KindDocument, URI: "mongodb://u:p@m1:27018,m2/db"}.Target()
	require.NoError(t, err)
	assert.Equal(t, "m1", host)
	assert.Equal(t, 27018, port)

	host, port, err = ConnectionProfile{Kind: dbcapabilities.KindLogBroker, Brokers: []string{"k1", "k2:9093"}}.Target()
	require.NoError(t, err)
	assert.Equal(t, "k1", host)
	assert.Equal(t, 9092, port)
}

func TestProfileCloneIsDeep(t *testing.T) {
	p := ConnectionProfile{
		ID:        "c1",
		Brokers:   []string{"a"},
		Options:   map[string]string{"k": "v"},
		SSHTunnel: &SSHTunnelConfig{Host: "bastion"},
		Broker:    &BrokerSecurityConfig{SASL: &SASLConfig{Username: "u"}},
	}
	c := p.Clone()
	c.Brokers[0] = "b"
	c.Options["k"] = "changed"
	c.SSHTunnel.Host = "other"
	c.Broker.SASL.Username = "x"

	assert.Equal(t, "a", p.Brokers[0])
	assert.Equal(t, "v", p.Options["k"])
	assert.Equal(t, "bastion", p.SSHTunnel.Host)
	assert.Equal(t, "u", p.Broker.SASL.Username)
}

func TestProfileRedacted(t *testing.T) {
	p := ConnectionProfile{
		Password:  "pw",
		URI:       "postgres://app:secret@db:5432/shop",
		SSHTunnel: &SSHTunnelConfig{Password: "sshpw", PrivateKey: "-----BEGIN"},
	}
	r := p.Redacted()
	assert.NotContains(t, r.URI, "secret")
	assert.Contains(t, r.URI, "app:")
	assert.NotEqual(t, "pw", r.Password)
	assert.NotEqual(t, "sshpw", r.SSHTunnel.Password)
	assert.NotEqual(t, "-----BEGIN", r.SSHTunnel.PrivateKey)
	assert.Equal(t, "pw", p.Password)
}

func TestTLSConfigBuildDisabled(t *testing.T) {
	cfg, err := (&TLSConfig{Enabled: false}).Build()
	require.NoError(t, err)
	assert.Nil(t, cfg)

	var nilCfg *TLSConfig
	cfg, err = nilCfg.Build()
	require.NoError(t, err)
	assert.Nil(t, cfg)

	_, err = (&TLSConfig{Enabled: true, CAFile: "/does/not/exist.pem"}).Build()
	assert.True(t, IsValidationError(err))
}
