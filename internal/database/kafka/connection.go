package kafka

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

const (
	pingTimeout    = 10 * time.Second
	requestTimeout = 30 * time.Second
	clientID       = "redb-desk"
)

// clientConfig holds what every kafka-go entry point needs: the admin and
// producer Transport, and the Dialer used by partition readers.
type clientConfig struct {
	brokers   []string
	tls       *tls.Config
	mechanism sasl.Mechanism
	transport *kafka.Transport
	dialer    *kafka.Dialer
}

func newClientConfig(profile adapter.ConnectionProfile, transport adapter.Transport) (*clientConfig, error) {
	brokers, err := brokerAddrs(profile)
	if err != nil {
		return nil, err
	}

	cfg := &clientConfig{brokers: brokers}
	if profile.Broker != nil {
		if cfg.tls, err = profile.Broker.TLS.Build(); err != nil {
			return nil, err
		}
		if cfg.mechanism, err = saslMechanism(profile.Broker.SASL); err != nil {
			return nil, err
		}
	}

	cfg.transport = &kafka.Transport{
		Dial:        transport.DialContext,
		DialTimeout: pingTimeout,
		IdleTimeout: time.Minute,
		MetadataTTL: 30 * time.Second,
		ClientID:    clientID,
		TLS:         cfg.tls,
		SASL:        cfg.mechanism,
	}
	cfg.dialer = &kafka.Dialer{
		ClientID:      clientID,
		Timeout:       pingTimeout,
		DualStack:     true,
		TLS:           cfg.tls,
		SASLMechanism: cfg.mechanism,
		DialFunc:      transport.DialContext,
	}
	return cfg, nil
}

// brokerAddrs resolves the bootstrap list from Brokers, Host/Port or a
// kafka:// URI, in that order.
func brokerAddrs(profile adapter.ConnectionProfile) ([]string, error) {
	defaultPort := dbcapabilities.MustGet(dbcapabilities.Kafka).DefaultPort

	var raw []string
	switch {
	case len(profile.Brokers) > 0:
		raw = profile.Brokers
	case profile.Host != "":
		port := profile.Port
		if port == 0 {
			port = defaultPort
		}
		raw = []string{net.JoinHostPort(profile.Host, strconv.Itoa(port))}
	case profile.URI != "":
		details, err := dbcapabilities.ParseConnectionString(profile.URI)
		if err != nil {
			return nil, adapter.NewValidationError("uri", err.Error())
		}
		raw = details.Hosts
	}

	brokers := make([]string, 0, len(raw))
	for _, b := range raw {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(b); err != nil {
			b = net.JoinHostPort(b, strconv.Itoa(defaultPort))
		}
		brokers = append(brokers, b)
	}
	if len(brokers) == 0 {
		return nil, adapter.NewValidationError("brokers", "at least one broker address is required")
	}
	return brokers, nil
}

func saslMechanism(cfg *adapter.SASLConfig) (sasl.Mechanism, error) {
	if cfg == nil {
		return nil, nil
	}
	switch strings.ToUpper(cfg.Mechanism) {
	case adapter.SASLPlain:
		return plain.Mechanism{Username: cfg.Username, Password: cfg.Password}, nil
	case adapter.SASLScramSHA256:
		m, err := scram.Mechanism(scram.SHA256, cfg.Username, cfg.Password)
		if err != nil {
			return nil, adapter.NewValidationError("broker.sasl", err.Error())
		}
		return m, nil
	case adapter.SASLScramSHA512:
		m, err := scram.Mechanism(scram.SHA512, cfg.Username, cfg.Password)
		if err != nil {
			return nil, adapter.NewValidationError("broker.sasl", err.Error())
		}
		return m, nil
	}
	return nil, adapter.NewValidationError("broker.sasl.mechanism", fmt.Sprintf("unsupported mechanism %q", cfg.Mechanism))
}
