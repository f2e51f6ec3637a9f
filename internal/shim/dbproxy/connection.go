package dbproxy

import (
	"time"

	"github.com/oriys/warpgrid/internal/shim/transport"
)

// pooledConnection is a single live connection with tracking metadata, per
// spec.md §3's PooledConnection entity. It is mutated only by the manager:
// LastUsed on checkout/release, Healthy on a failed send/recv or probe.
type pooledConnection struct {
	ID        uint64
	CreatedAt time.Time
	LastUsed  time.Time
	Healthy   bool
	Key       PoolKey
	Backend   transport.Backend
}
