package dbproxy

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// pool is the per-key bucket of idle connections plus the counting
// semaphore bounding checked-out connections to MaxSize (a permit is held
// only while a connection is checked out; idle connections hold none).
// x/sync/semaphore.Weighted was chosen over a channel-based semaphore
// because it exposes TryAcquire-free context-bound Acquire directly, and
// over jackc/puddle because the manager needs to hold a permit across an
// idle-connection health check and retry the factory call without ever
// releasing it -- puddle's resource wrapper ties acquisition to a single
// managed resource and cannot express that sequencing.
type pool struct {
	mu        sync.Mutex
	idle      []*pooledConnection
	total     int
	semaphore *semaphore.Weighted
}

func newPool(maxSize int) *pool {
	return &pool{semaphore: semaphore.NewWeighted(int64(maxSize))}
}

// popIdle removes and returns the most recently released idle connection,
// or nil if none are queued.
func (p *pool) popIdle() *pooledConnection {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.idle)
	if n == 0 {
		return nil
	}
	conn := p.idle[n-1]
	p.idle = p.idle[:n-1]
	return conn
}

func (p *pool) pushIdle(conn *pooledConnection) {
	p.mu.Lock()
	p.idle = append(p.idle, conn)
	p.mu.Unlock()
}

func (p *pool) incTotal() {
	p.mu.Lock()
	p.total++
	p.mu.Unlock()
}

func (p *pool) decTotal() {
	p.mu.Lock()
	if p.total > 0 {
		p.total--
	}
	p.mu.Unlock()
}

func (p *pool) stats() (idle, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle), p.total
}
