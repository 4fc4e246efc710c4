package adapter

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redbco/redb-desk/pkg/dbcapabilities"
)

// ConnectionProfile is the durable description of how to reach one backend.
// A session keeps its own copy; edits only affect later connects.
type ConnectionProfile struct {
	ID   string              `json:"id"`
	Name string              `json:"name,omitempty"`
	Kind dbcapabilities.Kind `json:"kind"`

	// Address: Host/Port, a full URI, or a broker list.
	Host    string   `json:"host,omitempty"`
	Port    int      `json:"port,omitempty"`
	URI     string   `json:"uri,omitempty"`
	Brokers []string `json:"brokers,omitempty"`

	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// Database is the default namespace: database name, or numeric index for key-value.
	Database string `json:"database,omitempty"`

	SSHTunnel *SSHTunnelConfig      `json:"sshTunnel,omitempty"`
	Broker    *BrokerSecurityConfig `json:"broker,omitempty"`

	Options map[string]string `json:"options,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// SSHTunnelConfig describes an SSH bastion. When both PrivateKey and Password
// are set the key is tried first.
type SSHTunnelConfig struct {
	Enabled    bool   `json:"enabled"`
	Host       string `json:"host"`
	Port       int    `json:"port,omitempty"`
	Username   string `json:"username"`
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"privateKey,omitempty"` // PEM
	KeyFile    string `json:"keyFile,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
}

// BrokerSecurityConfig carries log-broker TLS and SASL settings.
type BrokerSecurityConfig struct {
	TLS  *TLSConfig  `json:"tls,omitempty"`
	SASL *SASLConfig `json:"sasl,omitempty"`
}

// TLSConfig describes client TLS settings.
type TLSConfig struct {
	Enabled            bool   `json:"enabled"`
	CAFile             string `json:"caFile,omitempty"`
	CertFile           string `json:"certFile,omitempty"`
	KeyFile            string `json:"keyFile,omitempty"`
	ServerName         string `json:"serverName,omitempty"`
	InsecureSkipVerify bool   `json:"insecureSkipVerify,omitempty"`
}

// SASL mechanisms accepted by the log broker adapter.
const (
	SASLPlain       = "PLAIN"
	SASLScramSHA256 = "SCRAM-SHA-256"
	SASLScramSHA512 = "SCRAM-SHA-512"
)

// SASLConfig describes broker SASL authentication.
type SASLConfig struct {
	Mechanism string `json:"mechanism"`
	Username  string `json:"username"`
	Password  string `json:"password,omitempty"`
}

// TunnelEnabled reports whether connects must go through SSH.
func (p ConnectionProfile) TunnelEnabled() bool {
	return p.SSHTunnel != nil && p.SSHTunnel.Enabled
}

// Capability returns the capability entry of the profile's kind.
func (p ConnectionProfile) Capability() (dbcapabilities.Capability, bool) {
	return dbcapabilities.ForKind(p.Kind)
}

// Target resolves the host and port the transport must reach. For URIs and
// broker lists it is the first listed host.
func (p ConnectionProfile) Target() (string, int, error) {
	capability, ok := p.Capability()
	if !ok {
		return "", 0, NewValidationError("kind", fmt.Sprintf("unknown backend kind %q", p.Kind))
	}

	switch {
	case p.Host != "":
		port := p.Port
		if port == 0 {
			port = capability.DefaultPort
		}
		return p.Host, port, nil
	case p.URI != "":
		details, err := dbcapabilities.ParseConnectionString(p.URI)
		if err != nil {
			return "", 0, NewValidationError("uri", err.Error())
		}
		if details.SRV {
			return details.Host, 0, nil
		}
		return details.Host, details.Port, nil
	case len(p.Brokers) > 0:
		return splitHostPort(p.Brokers[0], capability.DefaultPort)
	default:
		return "", 0, NewValidationError("host", "one of host, uri or brokers is required")
	}
}

func splitHostPort(addr string, defaultPort int) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		if strings.Contains(err.Error(), "missing port") {
			return addr, defaultPort, nil
		}
		return "", 0, NewValidationError("address", err.Error())
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, NewValidationError("address", fmt.Sprintf("invalid port %q", portStr))
	}
	return host, port, nil
}

// Validate checks the profile before any network activity.
func (p ConnectionProfile) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return NewValidationError("id", "connection id is required")
	}
	if _, ok := p.Capability(); !ok {
		return NewValidationError("kind", fmt.Sprintf("unknown backend kind %q", p.Kind))
	}
	if p.Port < 0 || p.Port > 65535 {
		return NewValidationError("port", fmt.Sprintf("port %d out of range", p.Port))
	}

	host, _, err := p.Target()
	if err != nil {
		return err
	}
	if host == "" {
		return NewValidationError("host", "host is empty")
	}

	if p.Kind == dbcapabilities.KindKeyValue && p.Database != "" {
		if n, err := strconv.Atoi(p.Database); err != nil || n < 0 {
			return NewValidationError("database", "key-value database must be a non-negative index")
		}
	}
	if p.Broker != nil && p.Kind != dbcapabilities.KindLogBroker {
		return NewValidationError("broker", "TLS/SASL broker settings apply to log brokers only")
	}
	if p.Broker != nil && p.Broker.SASL != nil {
		switch strings.ToUpper(p.Broker.SASL.Mechanism) {
		case SASLPlain, SASLScramSHA256, SASLScramSHA512:
		default:
			return NewValidationError("broker.sasl.mechanism", fmt.Sprintf("unsupported mechanism %q", p.Broker.SASL.Mechanism))
		}
	}

	if p.TunnelEnabled() {
		t := p.SSHTunnel
		if t.Host == "" {
			return NewValidationError("sshTunnel.host", "tunnel host is required")
		}
		if t.Username == "" {
			return NewValidationError("sshTunnel.username", "tunnel username is required")
		}
		if t.Password == "" && t.PrivateKey == "" && t.KeyFile == "" {
			return NewValidationError("sshTunnel", "a password or private key is required")
		}
		if p.URI != "" && strings.HasPrefix(strings.ToLower(p.URI), "mongodb+srv://") {
			return NewValidationError("uri", "SRV connection strings cannot be tunneled")
		}
	}
	return nil
}

// Clone returns a deep copy so a session's profile cannot be mutated by the caller.
func (p ConnectionProfile) Clone() ConnectionProfile {
	c := p
	if p.Brokers != nil {
		c.Brokers = append([]string(nil), p.Brokers...)
	}
	if p.Options != nil {
		c.Options = make(map[string]string, len(p.Options))
		for k, v := range p.Options {
			c.Options[k] = v
		}
	}
	if p.SSHTunnel != nil {
		t := *p.SSHTunnel
		c.SSHTunnel = &t
	}
	if p.Broker != nil {
		b := BrokerSecurityConfig{}
		if p.Broker.TLS != nil {
			t := *p.Broker.TLS
			b.TLS = &t
		}
		if p.Broker.SASL != nil {
			s := *p.Broker.SASL
			b.SASL = &s
		}
		c.Broker = &b
	}
	return c
}

const redacted = "********"

// Redacted returns a copy with every secret masked, for logging.
func (p ConnectionProfile) Redacted() ConnectionProfile {
	c := p.Clone()
	if c.Password != "" {
		c.Password = redacted
	}
	if c.URI != "" {
		c.URI = redactURI(c.URI)
	}
	if c.SSHTunnel != nil {
		if c.SSHTunnel.Password != "" {
			c.SSHTunnel.Password = redacted
		}
		if c.SSHTunnel.PrivateKey != "" {
			c.SSHTunnel.PrivateKey = redacted
		}
		if c.SSHTunnel.Passphrase != "" {
			c.SSHTunnel.Passphrase = redacted
		}
	}
	if c.Broker != nil && c.Broker.SASL != nil && c.Broker.SASL.Password != "" {
		c.Broker.SASL.Password = redacted
	}
	return c
}

func redactURI(uri string) string {
	schemeEnd := strings.Index(uri, "://")
	at := strings.LastIndex(uri, "@")
	if schemeEnd < 0 || at < schemeEnd {
		return uri
	}
	userInfo := uri[schemeEnd+3 : at]
	if i := strings.Index(userInfo, ":"); i >= 0 {
		return uri[:schemeEnd+3] + userInfo[:i] + ":" + redacted + uri[at:]
	}
	return uri
}

// Option returns a profile option or def.
func (p ConnectionProfile) Option(key, def string) string {
	if v, ok := p.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// Build creates a *tls.Config, or nil when TLS is disabled.
func (c *TLSConfig) Build() (*tls.Config, error) {
	if c == nil || !c.Enabled {
		return nil, nil
	}

	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec // opt-in per profile
	}

	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, NewValidationError("tls.caFile", err.Error())
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, NewValidationError("tls.caFile", "no certificates found")
		}
		cfg.RootCAs = pool
	}

	if c.CertFile != "" || c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, NewValidationError("tls.certFile", err.Error())
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}
