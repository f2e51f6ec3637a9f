package dbproxy

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oriys/warpgrid/internal/shim/protocol"
	"github.com/oriys/warpgrid/internal/shim/transport"
)

// mockBackend is a scripted transport.Backend double, grounded on the
// Rust reference's MockBackend (db_proxy.rs tests).
type mockBackend struct {
	mu        sync.Mutex
	healthy   atomic.Bool
	closed    bool
	sendCalls int
}

func newMockBackend() *mockBackend {
	b := &mockBackend{}
	b.healthy.Store(true)
	return b
}

func (b *mockBackend) Send(data []byte) (int, error) {
	b.mu.Lock()
	b.sendCalls++
	b.mu.Unlock()
	return len(data), nil
}

func (b *mockBackend) Recv(max int) ([]byte, error) { return nil, nil }
func (b *mockBackend) Ping() bool                   { return b.healthy.Load() }
func (b *mockBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

var errConnectionRefused = errors.New("connection refused")

// mockFactory counts connects and can be told to fail, mirroring the Rust
// reference's MockFactory.
type mockFactory struct {
	connectCount atomic.Uint64
	shouldFail   atomic.Bool
	lastBackend  atomic.Pointer[mockBackend]
}

func (f *mockFactory) connects() uint64 { return f.connectCount.Load() }

func (f *mockFactory) Connect(ctx context.Context, key PoolKey, password string) (transport.Backend, error) {
	if f.shouldFail.Load() {
		return nil, errConnectionRefused
	}
	f.connectCount.Add(1)
	b := newMockBackend()
	f.lastBackend.Store(b)
	return b, nil
}

var _ transport.Backend = (*mockBackend)(nil)
var _ ConnectionFactory = (*mockFactory)(nil)

func testKey() PoolKey {
	return PoolKey{Host: "db.warp.local", Port: 5432, Database: "mydb", User: "app", Protocol: protocol.Postgres}
}

func testConfig() PoolConfig {
	return PoolConfig{
		MaxSize:             3,
		IdleTimeout:         300 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		ConnectTimeout:      200 * time.Millisecond,
		RecvTimeout:         30 * time.Second,
		DrainTimeout:        1 * time.Second,
		TLSEnabled:          false,
		VerifyCertificates:  false,
	}
}

func TestColdPoolCheckoutReleaseReuse(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 5
	f := &mockFactory{}
	m := NewManager(cfg, f)
	key := testKey()

	h1, err := m.Checkout(context.Background(), key, "")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if h1 == 0 {
		t.Fatal("expected nonzero handle")
	}
	if got := f.connects(); got != 1 {
		t.Fatalf("expected 1 factory connect, got %d", got)
	}
	if s := m.Stats(key); s != (PoolStats{Active: 1, Idle: 0, Total: 1}) {
		t.Fatalf("unexpected stats after checkout: %+v", s)
	}

	if err := m.Release(h1); err != nil {
		t.Fatalf("release: %v", err)
	}
	if s := m.Stats(key); s != (PoolStats{Active: 0, Idle: 1, Total: 1}) {
		t.Fatalf("unexpected stats after release: %+v", s)
	}

	h2, err := m.Checkout(context.Background(), key, "")
	if err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	if h2 == h1 {
		t.Fatal("expected a fresh handle on reuse")
	}
	if got := f.connects(); got != 1 {
		t.Fatalf("expected factory still invoked once on reuse, got %d", got)
	}
}

func TestExhaustionAndWaitCounter(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 2
	cfg.ConnectTimeout = 100 * time.Millisecond
	f := &mockFactory{}
	m := NewManager(cfg, f)
	key := testKey()

	if _, err := m.Checkout(context.Background(), key, ""); err != nil {
		t.Fatalf("checkout 1: %v", err)
	}
	if _, err := m.Checkout(context.Background(), key, ""); err != nil {
		t.Fatalf("checkout 2: %v", err)
	}

	start := time.Now()
	_, err := m.Checkout(context.Background(), key, "")
	elapsed := time.Since(start)

	if err == nil || !strings.Contains(err.Error(), "exhausted") {
		t.Fatalf("expected exhausted error, got %v", err)
	}
	if elapsed < 100*time.Millisecond || elapsed > 200*time.Millisecond {
		t.Fatalf("expected timeout around 100-150ms, got %v", elapsed)
	}
	if s := m.Stats(key); s.WaitCount != 1 {
		t.Fatalf("expected wait_count 1, got %d", s.WaitCount)
	}
}

func TestUnhealthyReleaseIsDestroyedAndReplaced(t *testing.T) {
	cfg := testConfig()
	f := &mockFactory{}
	m := NewManager(cfg, f)
	key := testKey()

	h1, err := m.Checkout(context.Background(), key, "")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	conn, err := m.lookupCheckedOut(h1)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	conn.Healthy = false
	if err := m.Release(h1); err != nil {
		t.Fatalf("release: %v", err)
	}
	if s := m.Stats(key); s != (PoolStats{Active: 0, Idle: 0, Total: 0}) {
		t.Fatalf("unhealthy release should destroy, not idle: %+v", s)
	}

	// Next checkout should dial a fresh connection.
	if _, err := m.Checkout(context.Background(), key, ""); err != nil {
		t.Fatalf("checkout after destroy: %v", err)
	}
	if got := f.connects(); got != 2 {
		t.Fatalf("expected 2 factory connects total, got %d", got)
	}
}

func TestInvalidHandleOnReleaseAndSend(t *testing.T) {
	m := NewManager(testConfig(), &mockFactory{})

	err := m.Release(999)
	if err == nil || !strings.Contains(err.Error(), "invalid handle: 999") {
		t.Fatalf("expected invalid handle error, got %v", err)
	}

	if _, err := m.Send(999, []byte("x")); err == nil || !strings.Contains(err.Error(), "invalid handle") {
		t.Fatalf("expected invalid handle error from send, got %v", err)
	}
}

func TestReapIdleEvictsExpiredConnections(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 10 * time.Millisecond
	f := &mockFactory{}
	m := NewManager(cfg, f)
	key := testKey()

	h, err := m.Checkout(context.Background(), key, "")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if err := m.Release(h); err != nil {
		t.Fatalf("release: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	m.ReapIdle()

	if s := m.Stats(key); s != (PoolStats{Active: 0, Idle: 0, Total: 0}) {
		t.Fatalf("expected reap to clear idle and total, got %+v", s)
	}
}

func TestHealthCheckIdleRemovesFailingConnections(t *testing.T) {
	cfg := testConfig()
	f := &mockFactory{}
	m := NewManager(cfg, f)
	key := testKey()

	h, err := m.Checkout(context.Background(), key, "")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if err := m.Release(h); err != nil {
		t.Fatalf("release: %v", err)
	}
	f.lastBackend.Load().healthy.Store(false)

	m.HealthCheckIdle()

	if s := m.Stats(key); s != (PoolStats{Active: 0, Idle: 0, Total: 0}) {
		t.Fatalf("expected failing idle connection removed, got %+v", s)
	}
}

func TestDrainSemantics(t *testing.T) {
	cfg := testConfig()
	cfg.DrainTimeout = 2 * time.Second
	f := &mockFactory{}
	m := NewManager(cfg, f)
	key := testKey()

	h, err := m.Checkout(context.Background(), key, "")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	drainDone := make(chan int, 1)
	go func() {
		drainDone <- m.Drain(drainCtx)
	}()

	time.Sleep(20 * time.Millisecond)
	_, err = m.Checkout(context.Background(), key, "")
	if err == nil || !strings.Contains(err.Error(), "draining") {
		t.Fatalf("expected draining error during drain, got %v", err)
	}

	if err := m.Release(h); err != nil {
		t.Fatalf("release during drain: %v", err)
	}

	select {
	case forced := <-drainDone:
		if forced != 0 {
			t.Fatalf("expected 0 force-closed after graceful release, got %d", forced)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not return after release")
	}
}

func TestDrainForceClosesAfterDeadline(t *testing.T) {
	cfg := testConfig()
	cfg.DrainTimeout = 30 * time.Millisecond
	f := &mockFactory{}
	m := NewManager(cfg, f)
	key := testKey()

	if _, err := m.Checkout(context.Background(), key, ""); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	forced := m.Drain(context.Background())
	if forced != 1 {
		t.Fatalf("expected 1 force-closed connection, got %d", forced)
	}
	if s := m.Stats(key); s.Total != 0 {
		t.Fatalf("expected total 0 after force-close, got %d", s.Total)
	}
}
