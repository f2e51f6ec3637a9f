package dbproxy

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/oriys/warpgrid/internal/shim/protocol"
)

func TestCheckoutHandlesMonotonicallyIncreasing(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 10
	m := NewManager(cfg, &mockFactory{})
	key := testKey()

	var prev uint64
	for i := 0; i < 5; i++ {
		h, err := m.Checkout(context.Background(), key, "")
		if err != nil {
			t.Fatalf("checkout %d: %v", i, err)
		}
		if h <= prev {
			t.Fatalf("handle %d not greater than previous %d", h, prev)
		}
		prev = h
	}
}

func TestDifferentKeysGetSeparatePools(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 1
	m := NewManager(cfg, &mockFactory{})

	key1 := testKey()
	key2 := PoolKey{Host: "other.warp.local", Port: 5432, Database: "mydb", User: "app", Protocol: protocol.Postgres}

	if _, err := m.Checkout(context.Background(), key1, ""); err != nil {
		t.Fatalf("checkout key1: %v", err)
	}
	if _, err := m.Checkout(context.Background(), key2, ""); err != nil {
		t.Fatalf("checkout key2 should succeed despite key1's pool being full: %v", err)
	}
}

func TestCheckoutFactoryFailureReleasesPermit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 1
	cfg.ConnectTimeout = 150 * time.Millisecond
	f := &mockFactory{}
	f.shouldFail.Store(true)
	m := NewManager(cfg, f)
	key := testKey()

	if _, err := m.Checkout(context.Background(), key, ""); err == nil {
		t.Fatal("expected factory failure to propagate")
	}

	f.shouldFail.Store(false)
	if _, err := m.Checkout(context.Background(), key, ""); err != nil {
		t.Fatalf("expected the permit released after the failed attempt to be reusable: %v", err)
	}
}

func TestReleaseSameHandleTwiceFails(t *testing.T) {
	m := NewManager(testConfig(), &mockFactory{})
	key := testKey()

	h, err := m.Checkout(context.Background(), key, "")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if err := m.Release(h); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := m.Release(h); err == nil || !strings.Contains(err.Error(), "invalid handle") {
		t.Fatalf("expected second release of the same handle to fail, got %v", err)
	}
}

func TestFullLifecycleCheckoutSendRecvRelease(t *testing.T) {
	m := NewManager(testConfig(), &mockFactory{})
	key := testKey()

	h, err := m.Checkout(context.Background(), key, "")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if _, err := m.Send(h, []byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := m.Recv(h, 64); err != nil {
		t.Fatalf("recv: %v", err)
	}
	if err := m.Release(h); err != nil {
		t.Fatalf("release: %v", err)
	}
	if s := m.Stats(key); s != (PoolStats{Active: 0, Idle: 1, Total: 1}) {
		t.Fatalf("unexpected stats at end of lifecycle: %+v", s)
	}
}

func TestMultiplePoolsIndependentStats(t *testing.T) {
	m := NewManager(testConfig(), &mockFactory{})
	key1 := testKey()
	key2 := PoolKey{Host: "other.warp.local", Port: 5432, Database: "mydb", User: "app", Protocol: protocol.Postgres}

	h1, err := m.Checkout(context.Background(), key1, "")
	if err != nil {
		t.Fatalf("checkout key1: %v", err)
	}
	if _, err := m.Checkout(context.Background(), key2, ""); err != nil {
		t.Fatalf("checkout key2: %v", err)
	}
	if err := m.Release(h1); err != nil {
		t.Fatalf("release key1: %v", err)
	}

	if s := m.Stats(key1); s != (PoolStats{Active: 0, Idle: 1, Total: 1}) {
		t.Fatalf("key1 stats leaked into key2: %+v", s)
	}
	if s := m.Stats(key2); s != (PoolStats{Active: 1, Idle: 0, Total: 1}) {
		t.Fatalf("key2 stats corrupted by key1 operations: %+v", s)
	}
}

func TestCheckoutReleaseCycleNoHandleLeak(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 2
	m := NewManager(cfg, &mockFactory{})
	key := testKey()

	for i := 0; i < 50; i++ {
		h, err := m.Checkout(context.Background(), key, "")
		if err != nil {
			t.Fatalf("iteration %d checkout: %v", i, err)
		}
		if err := m.Release(h); err != nil {
			t.Fatalf("iteration %d release: %v", i, err)
		}
	}
	if s := m.Stats(key); s.Total > 2 {
		t.Fatalf("expected total bounded by MaxSize, got %d", s.Total)
	}
}

func TestLogStatsDoesNotPanicAndReflectsCheckouts(t *testing.T) {
	cfg := testConfig()
	m := NewManager(cfg, &mockFactory{})
	key := testKey()

	h, err := m.Checkout(context.Background(), key, "")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	// LogStats must be safe to call with live checked-out connections and
	// must not itself mutate pool state.
	m.LogStats()

	if s := m.Stats(key); s != (PoolStats{Active: 1, Idle: 0, Total: 1}) {
		t.Fatalf("LogStats mutated pool state: %+v", s)
	}

	if err := m.Release(h); err != nil {
		t.Fatalf("release: %v", err)
	}
	m.LogStats()
}
