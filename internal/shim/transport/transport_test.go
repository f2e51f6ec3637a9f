package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"
)

// echoServer starts a local TCP listener that echoes every byte it reads
// back to the client, the same fixture shape the Rust reference's tcp.rs
// test suite uses for passthrough-fidelity tests.
func echoServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan struct{})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				io.Copy(c, c)
			}(conn)
		}
	}()
	return ln.Addr().String(), func() {
		close(done)
		ln.Close()
	}
}

func dial(t *testing.T, addr string) Backend {
	t.Helper()
	b, err := DialTCP(context.Background(), addr, Config{ConnectTimeout: time.Second, RecvTimeout: time.Second})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return b
}

func TestPassthroughFidelitySmallPayload(t *testing.T) {
	addr, stop := echoServer(t)
	defer stop()

	b := dial(t, addr)
	defer b.Close()

	msg := []byte("hello warpgrid")
	n, err := b.Send(msg)
	if err != nil || n != len(msg) {
		t.Fatalf("send: n=%d err=%v", n, err)
	}

	got := make([]byte, 0, len(msg))
	for len(got) < len(msg) {
		chunk, err := b.Recv(len(msg) - len(got))
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		got = append(got, chunk...)
	}
	if string(got) != string(msg) {
		t.Fatalf("got %q want %q", got, msg)
	}
}

func TestPassthroughFidelityLargePayload(t *testing.T) {
	addr, stop := echoServer(t)
	defer stop()

	b := dial(t, addr)
	defer b.Close()

	msg := make([]byte, 64*1024)
	for i := range msg {
		msg[i] = byte(i % 251)
	}
	if _, err := b.Send(msg); err != nil {
		t.Fatalf("send: %v", err)
	}

	got := make([]byte, 0, len(msg))
	for len(got) < len(msg) {
		chunk, err := b.Recv(4096)
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		if len(chunk) == 0 {
			t.Fatalf("unexpected empty chunk before full payload received")
		}
		got = append(got, chunk...)
	}
	for i := range msg {
		if got[i] != msg[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, got[i], msg[i])
		}
	}
}

func TestPingHealthyConnection(t *testing.T) {
	addr, stop := echoServer(t)
	defer stop()

	b := dial(t, addr)
	defer b.Close()

	if !b.Ping() {
		t.Fatal("expected healthy connection to ping true")
	}
}

func TestPingAfterClose(t *testing.T) {
	addr, stop := echoServer(t)
	defer stop()

	b := dial(t, addr)
	b.Close()

	if b.Ping() {
		t.Fatal("expected closed connection to ping false")
	}
}

func TestPingDoesNotConsumePendingByte(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		// Push an unsolicited byte, e.g. a Postgres async notification
		// arriving while the connection sits idle in the pool.
		conn.Write([]byte{0x2a})
		<-make(chan struct{}) // keep the connection open
	}()

	b := dial(t, ln.Addr().String())
	defer b.Close()

	// Give the server a moment to write before we peek.
	time.Sleep(20 * time.Millisecond)

	if !b.Ping() {
		t.Fatal("expected a connection with a pending byte to ping true")
	}

	got, err := b.Recv(1)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if len(got) != 1 || got[0] != 0x2a {
		t.Fatalf("expected the peeked byte to still be readable, got %v", got)
	}
}

func TestSendRecvAfterCloseFails(t *testing.T) {
	addr, stop := echoServer(t)
	defer stop()

	b := dial(t, addr)
	b.Close()

	if _, err := b.Send([]byte("x")); err == nil {
		t.Fatal("expected send after close to fail")
	}
	if _, err := b.Recv(1); err == nil {
		t.Fatal("expected recv after close to fail")
	}
}

func TestTLSRoundTrip(t *testing.T) {
	cert, err := selfSignedCert("127.0.0.1")
	if err != nil {
		t.Fatalf("cert: %v", err)
	}

	ln, err := tlsListener(cert)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()

	plain, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	b, err := WrapTLS(plain, NewTLSConfigInsecure(), "127.0.0.1", time.Second)
	if err != nil {
		t.Fatalf("tls wrap: %v", err)
	}
	defer b.Close()

	msg := []byte("over tls")
	if _, err := b.Send(msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := b.Recv(len(msg))
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if string(got) != string(msg) {
		t.Fatalf("got %q want %q", got, msg)
	}
}
