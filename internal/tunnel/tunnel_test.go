package tunnel

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
)

// sshServer is a minimal bastion that accepts direct-tcpip channels.
type sshServer struct {
	addr       string
	password   string
	authorized ssh.PublicKey
}

func startSSHServer(t *testing.T, password string, authorized ssh.PublicKey) *sshServer {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(hostKey)
	require.NoError(t, err)

	srv := &sshServer{password: password, authorized: authorized}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if srv.password != "" && string(pass) == srv.password {
				return nil, nil
			}
			return nil, errors.New("password rejected")
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if srv.authorized != nil && bytes.Equal(key.Marshal(), srv.authorized.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("key rejected")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	srv.addr = ln.Addr().String()

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSH(nc, cfg)
		}
	}()
	return srv
}

func serveSSH(nc net.Conn, cfg *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		nc.Close()
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "direct-tcpip" {
			_ = newCh.Reject(ssh.UnknownChannelType, "only direct-tcpip")
			continue
		}
		var payload struct {
			Host     string
			Port     uint32
			OrigHost string
			OrigPort uint32
		}
		if err := ssh.Unmarshal(newCh.ExtraData(), &payload); err != nil {
			_ = newCh.Reject(ssh.Prohibited, "bad payload")
			continue
		}
		target, err := net.Dial("tcp", net.JoinHostPort(payload.Host, strconv.Itoa(int(payload.Port))))
		if err != nil {
			_ = newCh.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			target.Close()
			continue
		}
		go ssh.DiscardRequests(chReqs)
		go func() {
			_, _ = io.Copy(ch, target)
			ch.Close()
		}()
		go func() {
			_, _ = io.Copy(target, ch)
			target.Close()
		}()
	}
}

func startEchoServer(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}()
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func splitAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func tunneledProfile(targetHost string, targetPort int, bastion string, bastionPort int) adapter.ConnectionProfile {
	return adapter.ConnectionProfile{
		ID:   "c1",
		Kind: dbcapabilities.KindRelational,
		Host: targetHost,
		Port: targetPort,
		SSHTunnel: &adapter.SSHTunnelConfig{
			Enabled:  true,
			Host:     bastion,
			Port:     bastionPort,
			Username: "ops",
		},
	}
}

func echoThrough(t *testing.T, addr string) {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(2 * time.Second))

	_, err = c.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(c, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
}

func TestOpenDirect(t *testing.T) {
	n := NewNegotiator()
	tr, err := n.Open(context.Background(), adapter.ConnectionProfile{
		ID: "c1", Kind: dbcapabilities.KindKeyValue, Host: "cache.internal",
	})
	require.NoError(t, err)
	assert.False(t, tr.Tunneled())
	assert.Equal(t, "cache.internal:6379", tr.Address())
	assert.NoError(t, tr.Close())
}

func TestOpenForwardsWithPassword(t *testing.T) {
	echoHost, echoPort := startEchoServer(t)
	srv := startSSHServer(t, "hunter2", nil)
	bHost, bPort := splitAddr(t, srv.addr)

	p := tunneledProfile(echoHost, echoPort, bHost, bPort)
	p.SSHTunnel.Password = "hunter2"

	tr, err := NewNegotiator(WithTimeout(3*time.Second), WithKeepAlive(0)).Open(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, tr.Tunneled())
	assert.Equal(t, "127.0.0.1", tr.Host())
	assert.NotZero(t, tr.Port())
	assert.NotEqual(t, echoPort, tr.Port())

	echoThrough(t, tr.Address())

	// DialContext reaches the target without the local listener.
	c, err := tr.DialContext(context.Background(), "tcp", net.JoinHostPort(echoHost, strconv.Itoa(echoPort)))
	require.NoError(t, err)
	c.Close()

	addr := tr.Address()
	require.NoError(t, tr.Close())
	assert.NoError(t, tr.Close())

	_, err = net.DialTimeout("tcp", addr, 500*time.Millisecond)
	assert.Error(t, err, "local port must be released after close")
}

func TestOpenPrefersPrivateKey(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	echoHost, echoPort := startEchoServer(t)
	// The bastion rejects every password; only the key works.
	srv := startSSHServer(t, "", sshPub)
	bHost, bPort := splitAddr(t, srv.addr)

	p := tunneledProfile(echoHost, echoPort, bHost, bPort)
	p.SSHTunnel.Password = "wrong"
	p.SSHTunnel.PrivateKey = string(pem.EncodeToMemory(block))

	tr, err := NewNegotiator(WithTimeout(3*time.Second), WithKeepAlive(0)).Open(context.Background(), p)
	require.NoError(t, err)
	defer tr.Close()

	echoThrough(t, tr.Address())
}

func TestOpenAuthFailure(t *testing.T) {
	echoHost, echoPort := startEchoServer(t)
	srv := startSSHServer(t, "right", nil)
	bHost, bPort := splitAddr(t, srv.addr)

	p := tunneledProfile(echoHost, echoPort, bHost, bPort)
	p.SSHTunnel.Password = "wrong"

	_, err := NewNegotiator(WithTimeout(3*time.Second)).Open(context.Background(), p)
	var te *adapter.TunnelError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, adapter.StageAuth, te.Stage)
	assert.Equal(t, adapter.KindTunnel, adapter.KindOf(err))
}

func TestOpenUnreachableBastion(t *testing.T) {
	p := tunneledProfile("db.internal", 5432, "127.0.0.1", closedPort(t))
	p.SSHTunnel.Password = "pw"

	start := time.Now()
	_, err := NewNegotiator(WithTimeout(2*time.Second)).Open(context.Background(), p)
	var te *adapter.TunnelError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, adapter.StageDial, te.Stage)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestOpenUnreachableTarget(t *testing.T) {
	srv := startSSHServer(t, "pw", nil)
	bHost, bPort := splitAddr(t, srv.addr)

	p := tunneledProfile("127.0.0.1", closedPort(t), bHost, bPort)
	p.SSHTunnel.Password = "pw"

	_, err := NewNegotiator(WithTimeout(2*time.Second)).Open(context.Background(), p)
	var te *adapter.TunnelError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, adapter.StageForward, te.Stage)
}

func TestOpenBadKey(t *testing.T) {
	p := tunneledProfile("db", 5432, "127.0.0.1", 22)
	p.SSHTunnel.PrivateKey = "not a key"

	_, err := NewNegotiator().Open(context.Background(), p)
	var te *adapter.TunnelError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, adapter.StageConfig, te.Stage)
}
