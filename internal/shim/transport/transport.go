// Package transport implements the plain-TCP and TLS-wrapped-TCP backends
// that move raw bytes between a guest component and a remote server. A
// transport knows nothing about wire protocols; protocol-aware health
// probes are layered on top by the protocol package.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"time"
)

// ErrClosed is returned by send/recv on a transport that has been closed.
var ErrClosed = errors.New("transport: closed")

// errPeekUnsupported is returned by peekByte when the connection's
// underlying type does not expose a raw file descriptor to peek.
var errPeekUnsupported = errors.New("transport: peek unsupported on this connection type")

// Backend is the contract every transport (and every protocol wrapper
// around a transport) implements. Dynamic dispatch is intentional here:
// plain TCP, TLS TCP, and protocol wrappers are all interchangeable from
// the pool manager's point of view, and the dispatch cost is negligible
// next to the syscall each operation makes.
type Backend interface {
	// Send writes all of b and returns the number of bytes written.
	Send(b []byte) (int, error)
	// Recv reads up to max bytes. It may return fewer than max, including
	// zero on EOF.
	Recv(max int) ([]byte, error)
	// Ping is a non-destructive liveness probe.
	Ping() bool
	// Close shuts down both directions; subsequent Send/Recv fail.
	Close() error
}

// Config tunes the socket-level behavior shared by every transport
// variant this package produces.
type Config struct {
	ConnectTimeout time.Duration
	RecvTimeout    time.Duration
	TLS            *TLSConfig
}

// TLSConfig is the shared, immutable TLS client configuration. Per
// spec.md §9 "Global state", this is the only process-wide state the shim
// layer carries; it is built once and shared read-only thereafter.
type TLSConfig struct {
	inner *tls.Config
}

// NewTLSConfigWithSystemRoots builds a TLSConfig that verifies server
// certificates against the host's system root CA pool.
func NewTLSConfigWithSystemRoots() *TLSConfig {
	return &TLSConfig{inner: &tls.Config{MinVersion: tls.VersionTLS12}}
}

// NewTLSConfigInsecure builds a TLSConfig that skips certificate
// verification. For testing only.
func NewTLSConfigInsecure() *TLSConfig {
	return &TLSConfig{inner: &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: true}}
}

func (c *TLSConfig) forServerName(serverName string) *tls.Config {
	cfg := c.inner.Clone()
	cfg.ServerName = serverName
	return cfg
}

// tcpBackend is a plain TCP stream transport.
type tcpBackend struct {
	conn        net.Conn
	raw         net.Conn // underlying plain TCP conn; equals conn unless TLS-wrapped
	recvTimeout time.Duration
	closed      bool
}

// DialTCP establishes a plain TCP connection, disables Nagle, and records
// the recv timeout, which Recv applies as a fresh read deadline on every
// call, per spec.md §4.1.
func DialTCP(ctx context.Context, addr string, cfg Config) (Backend, error) {
	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &tcpBackend{conn: conn, raw: conn, recvTimeout: cfg.RecvTimeout}, nil
}

// Dial establishes a transport to addr: plain TCP if cfg.TLS is nil,
// otherwise a TLS-wrapped stream using serverName as the SNI value.
func Dial(ctx context.Context, addr string, cfg Config, serverName string) (Backend, error) {
	backend, err := DialTCP(ctx, addr, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.TLS == nil {
		return backend, nil
	}
	tb := backend.(*tcpBackend)
	return WrapTLS(tb.conn, cfg.TLS, serverName, cfg.RecvTimeout)
}

// WrapTLS upgrades an already-established plain connection to TLS, using
// serverName as the SNI value (the pool key's hostname, per spec.md §4.3).
// The raw plain conn is retained alongside the TLS conn so Ping can peek
// the wire directly, the same way the Rust reference's tcp_stream() reaches
// past the TLS layer for its liveness probe regardless of transport kind.
func WrapTLS(conn net.Conn, tlsCfg *TLSConfig, serverName string, recvTimeout time.Duration) (Backend, error) {
	tc := tls.Client(conn, tlsCfg.forServerName(serverName))
	if err := tc.HandshakeContext(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &tcpBackend{conn: tc, raw: conn, recvTimeout: recvTimeout}, nil
}

func (t *tcpBackend) Send(b []byte) (int, error) {
	if t.closed {
		return 0, ErrClosed
	}
	total := 0
	for total < len(b) {
		n, err := t.conn.Write(b[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (t *tcpBackend) Recv(max int) ([]byte, error) {
	if t.closed {
		return nil, ErrClosed
	}
	if t.recvTimeout > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(t.recvTimeout))
	}
	buf := make([]byte, max)
	n, err := t.conn.Read(buf)
	if err != nil {
		if err == io.EOF {
			return buf[:n], nil
		}
		return buf[:n], err
	}
	return buf[:n], nil
}

// Ping peeks at the socket with a brief deadline: a zero-byte peek that
// reports EOF means the peer closed; a timeout or would-block condition
// means the socket is alive but idle; any other error is treated as
// unhealthy. The peek is via MSG_PEEK (see peekByte), so a pending byte --
// e.g. a Postgres async notification arriving while the connection sits
// idle in the pool -- is observed but never consumed, leaving the stream
// cursor aligned for the next real read. Mirrors the Rust reference's
// stream.peek()-based liveness check.
func (t *tcpBackend) Ping() bool {
	if t.closed {
		return false
	}
	_ = t.raw.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	defer t.raw.SetReadDeadline(time.Time{})

	one := make([]byte, 1)
	n, err := peekByte(t.raw, one)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return false
	}
	return n > 0
}

func (t *tcpBackend) Close() error {
	t.closed = true
	return t.conn.Close()
}
