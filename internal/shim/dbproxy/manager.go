// Package dbproxy implements the database proxy shim's connection pool
// manager: per-key bounded pools, checkout/release, idle reaping, health
// checking, and cooperative draining, per spec.md §4.3-§4.4.
package dbproxy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oriys/warpgrid/internal/logging"
	"github.com/oriys/warpgrid/internal/metrics"
)

// ErrInvalidHandle is wrapped into the exact "invalid handle: N" message
// the guest sees -- matching this prefix is the only contract the guest
// relies on, per spec.md's error taxonomy.
var ErrInvalidHandle = errors.New("invalid handle")

// PoolStats reports checkout/idle/total counts and the cumulative wait
// count for a single pool key.
type PoolStats struct {
	Active    int
	Idle      int
	Total     int
	WaitCount uint64
}

// Manager manages connection pools keyed by PoolKey. Each unique key gets
// its own bounded pool; connections are reused via Release and reaped
// when idle too long. Lock order, whenever more than one lock is needed
// in a single operation, is always pools -> checkedOut -> waitCounts.
type Manager struct {
	poolsMu sync.Mutex
	pools   map[PoolKey]*pool

	checkedOutMu sync.Mutex
	checkedOut   map[uint64]*pooledConnection

	nextHandle atomic.Uint64

	waitMu     sync.Mutex
	waitCounts map[PoolKey]uint64

	config   PoolConfig
	factory  ConnectionFactory
	draining atomic.Bool
}

func NewManager(cfg PoolConfig, factory ConnectionFactory) *Manager {
	m := &Manager{
		pools:      make(map[PoolKey]*pool),
		checkedOut: make(map[uint64]*pooledConnection),
		waitCounts: make(map[PoolKey]uint64),
		config:     cfg,
		factory:    factory,
	}
	m.nextHandle.Store(1)
	return m
}

func (m *Manager) getOrCreatePool(key PoolKey) *pool {
	m.poolsMu.Lock()
	defer m.poolsMu.Unlock()
	p, ok := m.pools[key]
	if !ok {
		p = newPool(m.config.MaxSize)
		m.pools[key] = p
	}
	return p
}

// allocateHandle returns the next strictly monotonic handle id, starting
// at 1.
func (m *Manager) allocateHandle() uint64 {
	return m.nextHandle.Add(1) - 1
}

// Checkout acquires a connection for key, per spec.md §4.4's five-step
// algorithm: reject during drain, acquire a permit within ConnectTimeout,
// reuse a healthy idle connection if one is queued, discard and replace an
// unhealthy one without releasing the already-held permit, or dial a new
// connection via the factory.
func (m *Manager) Checkout(ctx context.Context, key PoolKey, password string) (uint64, error) {
	if m.draining.Load() {
		return 0, fmt.Errorf("connection pool draining")
	}

	p := m.getOrCreatePool(key)

	cctx, cancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
	defer cancel()

	if err := p.semaphore.Acquire(cctx, 1); err != nil {
		m.recordWait(key)
		if mm := metrics.Get(); mm != nil {
			mm.PoolWaitCount.WithLabelValues(key.String()).Inc()
		}
		return 0, fmt.Errorf("connection pool exhausted for %s:%d/%s (timeout: %s)",
			key.Host, key.Port, key.Database, m.config.ConnectTimeout)
	}

	handle := m.allocateHandle()

	if idle := p.popIdle(); idle != nil {
		if idle.Healthy {
			idle.LastUsed = time.Now()
			idle.ID = handle
			m.insertCheckedOut(handle, idle)
			if mm := metrics.Get(); mm != nil {
				mm.PoolCheckouts.WithLabelValues(key.String()).Inc()
			}
			logging.Op().Debug("reused idle connection from pool",
				"handle", handle, "host", key.Host, "port", key.Port, "database", key.Database)
			return handle, nil
		}
		// The permit acquired above stays held across this discard: falling
		// through to the factory call without releasing it is what keeps a
		// concurrent checkout from overshooting MaxSize.
		_ = idle.Backend.Close()
		p.decTotal()
		logging.Op().Debug("discarded unhealthy idle connection", "host", key.Host, "port", key.Port)
	}

	backend, err := m.factory.Connect(cctx, key, password)
	if err != nil {
		p.semaphore.Release(1)
		return 0, err
	}

	conn := &pooledConnection{
		ID:        handle,
		CreatedAt: time.Now(),
		LastUsed:  time.Now(),
		Healthy:   true,
		Key:       key,
		Backend:   backend,
	}
	p.incTotal()
	m.insertCheckedOut(handle, conn)
	if mm := metrics.Get(); mm != nil {
		mm.PoolCheckouts.WithLabelValues(key.String()).Inc()
	}
	logging.Op().Debug("created new connection",
		"handle", handle, "host", key.Host, "port", key.Port, "database", key.Database)
	return handle, nil
}

func (m *Manager) insertCheckedOut(handle uint64, conn *pooledConnection) {
	m.checkedOutMu.Lock()
	m.checkedOut[handle] = conn
	m.checkedOutMu.Unlock()
}

func (m *Manager) recordWait(key PoolKey) {
	m.waitMu.Lock()
	m.waitCounts[key]++
	m.waitMu.Unlock()
}

func (m *Manager) lookupCheckedOut(handle uint64) (*pooledConnection, error) {
	m.checkedOutMu.Lock()
	defer m.checkedOutMu.Unlock()
	conn, ok := m.checkedOut[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, handle)
	}
	return conn, nil
}

// Release returns a connection to its pool, or destroys it if unhealthy.
func (m *Manager) Release(handle uint64) error {
	m.checkedOutMu.Lock()
	conn, ok := m.checkedOut[handle]
	if ok {
		delete(m.checkedOut, handle)
	}
	m.checkedOutMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidHandle, handle)
	}

	p := m.getOrCreatePool(conn.Key)

	if !conn.Healthy {
		_ = conn.Backend.Close()
		p.decTotal()
		p.semaphore.Release(1)
		logging.Op().Debug("destroying unhealthy connection on release",
			"handle", handle, "host", conn.Key.Host)
		return nil
	}

	conn.LastUsed = time.Now()
	p.pushIdle(conn)
	p.semaphore.Release(1)
	idle, _ := p.stats()
	logging.Op().Debug("returned connection to pool",
		"handle", handle, "host", conn.Key.Host, "idle_count", idle)
	return nil
}

// Send writes data through a checked-out connection. A send error marks
// the connection unhealthy so it is destroyed rather than reused on
// release.
func (m *Manager) Send(handle uint64, data []byte) (int, error) {
	conn, err := m.lookupCheckedOut(handle)
	if err != nil {
		return 0, err
	}
	n, err := conn.Backend.Send(data)
	if err != nil {
		m.markUnhealthy(conn)
	}
	return n, err
}

// Recv reads up to max bytes from a checked-out connection.
func (m *Manager) Recv(handle uint64, max int) ([]byte, error) {
	conn, err := m.lookupCheckedOut(handle)
	if err != nil {
		return nil, err
	}
	b, err := conn.Backend.Recv(max)
	if err != nil {
		m.markUnhealthy(conn)
	}
	return b, err
}

func (m *Manager) markUnhealthy(conn *pooledConnection) {
	m.checkedOutMu.Lock()
	conn.Healthy = false
	m.checkedOutMu.Unlock()
}

func (m *Manager) snapshotPools() map[PoolKey]*pool {
	m.poolsMu.Lock()
	defer m.poolsMu.Unlock()
	out := make(map[PoolKey]*pool, len(m.pools))
	for k, p := range m.pools {
		out[k] = p
	}
	return out
}

// ReapIdle closes and evicts idle connections that have exceeded
// IdleTimeout. Idle connections hold no semaphore permit (Release already
// returned it), so no permit is released here.
func (m *Manager) ReapIdle() {
	for key, p := range m.snapshotPools() {
		p.mu.Lock()
		kept := p.idle[:0]
		reaped := 0
		for _, conn := range p.idle {
			if time.Since(conn.LastUsed) < m.config.IdleTimeout {
				kept = append(kept, conn)
				continue
			}
			_ = conn.Backend.Close()
			reaped++
		}
		p.idle = kept
		if reaped > 0 {
			p.total -= reaped
			if p.total < 0 {
				p.total = 0
			}
		}
		remaining := len(p.idle)
		p.mu.Unlock()

		if reaped > 0 {
			logging.Op().Debug("reaped idle connections",
				"host", key.Host, "port", key.Port, "database", key.Database,
				"reaped", reaped, "remaining_idle", remaining)
		}
	}
}

// HealthCheckIdle pings every idle connection and evicts the ones that
// fail. Like ReapIdle, it releases no permits: idle connections hold none.
func (m *Manager) HealthCheckIdle() {
	for key, p := range m.snapshotPools() {
		p.mu.Lock()
		kept := p.idle[:0]
		removed := 0
		for _, conn := range p.idle {
			if conn.Backend.Ping() {
				kept = append(kept, conn)
				continue
			}
			_ = conn.Backend.Close()
			removed++
		}
		p.idle = kept
		if removed > 0 {
			p.total -= removed
			if p.total < 0 {
				p.total = 0
			}
		}
		p.mu.Unlock()

		if removed > 0 {
			logging.Op().Debug("removed unhealthy idle connection", "host", key.Host, "port", key.Port)
		}
	}
}

// Stats reports active/idle/total/wait-count for a single pool key.
func (m *Manager) Stats(key PoolKey) PoolStats {
	m.poolsMu.Lock()
	p, ok := m.pools[key]
	m.poolsMu.Unlock()

	var idle, total int
	if ok {
		idle, total = p.stats()
	}

	m.checkedOutMu.Lock()
	active := 0
	for _, conn := range m.checkedOut {
		if conn.Key == key {
			active++
		}
	}
	m.checkedOutMu.Unlock()

	m.waitMu.Lock()
	wait := m.waitCounts[key]
	m.waitMu.Unlock()

	return PoolStats{Active: active, Idle: idle, Total: total, WaitCount: wait}
}

// LogStats emits one info-level log line per pool key currently tracked,
// and mirrors the same snapshot onto the Prometheus pool gauges -- the
// gauge-valued stats (active/idle/total are point-in-time occupancy, not
// monotonic counters) have no other natural place to be refreshed from.
func (m *Manager) LogStats() {
	mm := metrics.Get()
	for key := range m.snapshotPools() {
		s := m.Stats(key)
		logging.Op().Info("pool statistics",
			"host", key.Host, "port", key.Port, "database", key.Database, "user", key.User,
			"active", s.Active, "idle", s.Idle, "total", s.Total, "wait_count", s.WaitCount)
		if mm != nil {
			label := key.String()
			mm.PoolActive.WithLabelValues(label).Set(float64(s.Active))
			mm.PoolIdle.WithLabelValues(label).Set(float64(s.Idle))
			mm.PoolTotal.WithLabelValues(label).Set(float64(s.Total))
		}
	}
}

// Drain initiates cooperative shutdown: subsequent Checkout calls fail
// immediately with "draining", and Drain waits up to DrainTimeout for the
// checked-out set to empty. Any connections still checked out after the
// deadline are force-closed; the returned count is how many were.
func (m *Manager) Drain(ctx context.Context) int {
	m.draining.Store(true)

	deadline := time.Now().Add(m.config.DrainTimeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

waitLoop:
	for {
		m.checkedOutMu.Lock()
		remaining := len(m.checkedOut)
		m.checkedOutMu.Unlock()
		if remaining == 0 {
			return 0
		}
		if time.Now().After(deadline) {
			break waitLoop
		}
		select {
		case <-ctx.Done():
			break waitLoop
		case <-ticker.C:
		}
	}

	m.checkedOutMu.Lock()
	forced := make([]*pooledConnection, 0, len(m.checkedOut))
	for handle, conn := range m.checkedOut {
		forced = append(forced, conn)
		delete(m.checkedOut, handle)
	}
	m.checkedOutMu.Unlock()

	for _, conn := range forced {
		_ = conn.Backend.Close()
		p := m.getOrCreatePool(conn.Key)
		p.decTotal()
		p.semaphore.Release(1)
		if mm := metrics.Get(); mm != nil {
			mm.PoolForceClose.WithLabelValues(conn.Key.String()).Inc()
		}
	}

	if len(forced) > 0 {
		logging.Op().Info("drain force-closed connections", "count", len(forced))
	}
	return len(forced)
}
