package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/logger"
)

const (
	defaultSSHPort   = 22
	defaultTimeout   = 10 * time.Second
	defaultKeepAlive = 30 * time.Second
)

// Negotiator opens the transport a connection profile asks for: a direct
// path to the backend or a local port forwarded over SSH.
type Negotiator struct {
	timeout        time.Duration
	keepAlive      time.Duration
	knownHostsFile string
	logger         *logger.Logger
	dialer         *net.Dialer
}

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithTimeout bounds SSH dial, handshake and the forward probe.
func WithTimeout(d time.Duration) Option {
	return func(n *Negotiator) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// WithKeepAlive sets the SSH keepalive interval; 0 disables keepalives.
func WithKeepAlive(d time.Duration) Option {
	return func(n *Negotiator) { n.keepAlive = d }
}

// WithKnownHosts verifies bastion host keys against an OpenSSH known_hosts file.
func WithKnownHosts(path string) Option {
	return func(n *Negotiator) { n.knownHostsFile = path }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(n *Negotiator) { n.logger = l }
}

// NewNegotiator creates a Negotiator.
func NewNegotiator(opts ...Option) *Negotiator {
	n := &Negotiator{
		timeout:   defaultTimeout,
		keepAlive: defaultKeepAlive,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.dialer = &net.Dialer{Timeout: n.timeout, KeepAlive: 30 * time.Second}
	return n
}

func (n *Negotiator) safeLog(level string, format string, args ...interface{}) {
	if n.logger == nil {
		return
	}
	switch level {
	case "debug":
		n.logger.Debugf(format, args...)
	case "warn":
		n.logger.Warnf(format, args...)
	case "error":
		n.logger.Errorf(format, args...)
	default:
		n.logger.Infof(format, args...)
	}
}

// Open returns the transport for profile. With an enabled SSH tunnel the
// returned transport listens on 127.0.0.1 and forwards to the profile's
// target; failures are *adapter.TunnelError and leave nothing open.
func (n *Negotiator) Open(ctx context.Context, profile adapter.ConnectionProfile) (adapter.Transport, error) {
	host, port, err := profile.Target()
	if err != nil {
		return nil, err
	}

	if !profile.TunnelEnabled() {
		return &Direct{host: host, port: port, dialer: n.dialer}, nil
	}

	cfg := profile.SSHTunnel
	sshPort := cfg.Port
	if sshPort == 0 {
		sshPort = defaultSSHPort
	}
	if port == 0 {
		return nil, adapter.NewTunnelError(adapter.StageConfig, cfg.Host, sshPort,
			errors.New("target port is unknown; SRV addresses cannot be forwarded"))
	}

	clientConfig, err := n.clientConfig(cfg, sshPort)
	if err != nil {
		return nil, err
	}

	client, err := n.dialSSH(ctx, cfg.Host, sshPort, clientConfig)
	if err != nil {
		return nil, err
	}

	target := net.JoinHostPort(host, strconv.Itoa(port))
	if err := n.probe(ctx, client, target); err != nil {
		client.Close()
		return nil, adapter.NewTunnelError(adapter.StageForward, cfg.Host, sshPort,
			fmt.Errorf("bastion cannot reach %s: %w", target, err))
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		client.Close()
		return nil, adapter.NewTunnelError(adapter.StageBind, cfg.Host, sshPort, err)
	}

	t := newSSHTunnel(client, listener, target, cfg.Host, sshPort, n.logger)
	t.start(n.keepAlive)

	n.safeLog("info", "SSH tunnel established: (bastion: %s:%d, target: %s, local: %s)",
		cfg.Host, sshPort, target, t.Address())
	return t, nil
}

// clientConfig builds the SSH client config. A private key is offered before
// the password; the password is offered both as "password" and
// "keyboard-interactive" since many bastions only enable the latter.
func (n *Negotiator) clientConfig(cfg *adapter.SSHTunnelConfig, sshPort int) (*ssh.ClientConfig, error) {
	methods, err := authMethods(cfg)
	if err != nil {
		return nil, adapter.NewTunnelError(adapter.StageConfig, cfg.Host, sshPort, err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // verified when a known_hosts file is configured
	if n.knownHostsFile != "" {
		hostKeyCallback, err = knownhosts.New(n.knownHostsFile)
		if err != nil {
			return nil, adapter.NewTunnelError(adapter.StageConfig, cfg.Host, sshPort,
				fmt.Errorf("load known_hosts: %w", err))
		}
	}

	return &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         n.timeout,
	}, nil
}

func authMethods(cfg *adapter.SSHTunnelConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	keyPEM := []byte(cfg.PrivateKey)
	if len(keyPEM) == 0 && cfg.KeyFile != "" {
		b, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		keyPEM = b
	}
	if len(keyPEM) > 0 {
		signer, err := parseSigner(keyPEM, cfg.Passphrase)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if cfg.Password != "" {
		password := cfg.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		return nil, errors.New("no SSH credentials configured")
	}
	return methods, nil
}

func parseSigner(keyPEM []byte, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(keyPEM, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return signer, nil
	}
	signer, err := ssh.ParsePrivateKey(keyPEM)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, errors.New("private key is encrypted and no passphrase was given")
		}
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// dialSSH connects and authenticates, honoring ctx and the negotiator timeout.
func (n *Negotiator) dialSSH(ctx context.Context, host string, port int, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	dialCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	conn, err := n.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, adapter.NewTunnelError(adapter.StageDial, host, port, err)
	}

	deadline, _ := dialCtx.Deadline()
	_ = conn.SetDeadline(deadline)

	// NewClientConn does not watch ctx; closing the socket unblocks it.
	stop := context.AfterFunc(dialCtx, func() { conn.Close() })
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	stop()
	if err != nil {
		conn.Close()
		if isAuthFailure(err) {
			return nil, adapter.NewTunnelError(adapter.StageAuth, host, port, err)
		}
		return nil, adapter.NewTunnelError(adapter.StageDial, host, port, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(c, chans, reqs), nil
}

func isAuthFailure(err error) bool {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "no supported methods remain")
}

// probe opens and closes one forwarded connection so an unreachable target
// is reported as a tunnel failure instead of a backend connect failure.
func (n *Negotiator) probe(ctx context.Context, client *ssh.Client, target string) error {
	probeCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	conn, err := client.DialContext(probeCtx, "tcp", target)
	if err != nil {
		return err
	}
	return conn.Close()
}
