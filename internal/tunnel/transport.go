package tunnel

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/redbco/redb-desk/pkg/logger"
)

// Direct is the transport used when no tunnel is configured.
type Direct struct {
	host   string
	port   int
	dialer *net.Dialer
}

func (d *Direct) Address() string { return net.JoinHostPort(d.host, strconv.Itoa(d.port)) }
func (d *Direct) Host() string    { return d.host }
func (d *Direct) Port() int       { return d.port }
func (d *Direct) Tunneled() bool  { return false }
func (d *Direct) Close() error    { return nil }

// DialContext dials the address directly.
func (d *Direct) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := d.dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	return dialer.DialContext(ctx, network, address)
}

// SSHTunnel forwards a local 127.0.0.1 port to a target behind an SSH bastion.
type SSHTunnel struct {
	client   *ssh.Client
	listener net.Listener
	target   string
	bastion  string
	logger   *logger.Logger

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

func newSSHTunnel(client *ssh.Client, listener net.Listener, target, bastionHost string, bastionPort int, l *logger.Logger) *SSHTunnel {
	return &SSHTunnel{
		client:   client,
		listener: listener,
		target:   target,
		bastion:  net.JoinHostPort(bastionHost, strconv.Itoa(bastionPort)),
		logger:   l,
		conns:    make(map[net.Conn]struct{}),
		stopChan: make(chan struct{}),
	}
}

func (t *SSHTunnel) Address() string { return t.listener.Addr().String() }
func (t *SSHTunnel) Host() string    { return "127.0.0.1" }
func (t *SSHTunnel) Tunneled() bool  { return true }

// Port is the local forwarded port.
func (t *SSHTunnel) Port() int {
	if addr, ok := t.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Target is the host:port the bastion forwards to.
func (t *SSHTunnel) Target() string { return t.target }

// DialContext opens a stream to address through the bastion.
func (t *SSHTunnel) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return t.client.DialContext(ctx, network, address)
}

func (t *SSHTunnel) start(keepAlive time.Duration) {
	t.wg.Add(1)
	go t.acceptLoop()

	if keepAlive > 0 {
		t.wg.Add(1)
		go t.keepAliveLoop(keepAlive)
	}
}

func (t *SSHTunnel) acceptLoop() {
	defer t.wg.Done()
	for {
		local, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.stopChan:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.logf("warn", "Failed to accept tunnel connection: (local: %s, error: %v)", t.Address(), err)
			continue
		}

		t.wg.Add(1)
		go t.forward(local)
	}
}

func (t *SSHTunnel) forward(local net.Conn) {
	defer t.wg.Done()

	remote, err := t.client.Dial("tcp", t.target)
	if err != nil {
		t.logf("error", "Failed to open forwarded channel: (target: %s, error: %v)", t.target, err)
		local.Close()
		return
	}

	if !t.track(local, remote) {
		local.Close()
		remote.Close()
		return
	}
	defer t.untrack(local, remote)

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(local, remote)
		done <- struct{}{}
	}()

	// Either side finishing ends the pair.
	<-done
	local.Close()
	remote.Close()
	<-done
}

func (t *SSHTunnel) track(conns ...net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.stopChan:
		return false
	default:
	}
	for _, c := range conns {
		t.conns[c] = struct{}{}
	}
	return true
}

func (t *SSHTunnel) untrack(conns ...net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range conns {
		delete(t.conns, c)
	}
}

func (t *SSHTunnel) keepAliveLoop(interval time.Duration) {
	defer t.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopChan:
			return
		case <-ticker.C:
			if _, _, err := t.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				t.logf("warn", "SSH keepalive failed: (bastion: %s, error: %v)", t.bastion, err)
				return
			}
		}
	}
}

// Close stops accepting, closes forwarded connections and the SSH client.
// It is safe to call more than once.
func (t *SSHTunnel) Close() error {
	var err error
	t.once.Do(func() {
		t.mu.Lock()
		close(t.stopChan)
		for c := range t.conns {
			c.Close()
		}
		t.mu.Unlock()

		if lerr := t.listener.Close(); lerr != nil && !errors.Is(lerr, net.ErrClosed) {
			err = lerr
		}
		if cerr := t.client.Close(); cerr != nil && err == nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
		t.wg.Wait()
		t.logf("debug", "SSH tunnel closed: (bastion: %s, target: %s)", t.bastion, t.target)
	})
	return err
}

func (t *SSHTunnel) logf(level, format string, args ...interface{}) {
	if t.logger == nil {
		return
	}
	switch level {
	case "debug":
		t.logger.Debugf(format, args...)
	case "warn":
		t.logger.Warnf(format, args...)
	case "error":
		t.logger.Errorf(format, args...)
	default:
		t.logger.Infof(format, args...)
	}
}
