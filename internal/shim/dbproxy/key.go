package dbproxy

import (
	"fmt"

	"github.com/oriys/warpgrid/internal/shim/protocol"
)

// PoolKey is the immutable identity of a pool, per spec.md §3. Two keys are
// equal iff all attributes match -- a plain comparable struct gives us that
// for free as a map key.
type PoolKey struct {
	Host     string
	Port     uint16
	Database string
	User     string
	Protocol protocol.Kind
}

func (k PoolKey) String() string {
	return fmt.Sprintf("%s@%s:%d/%s[%s]", k.User, k.Host, k.Port, k.Database, k.Protocol)
}

// Addr returns the host:port form Connection Factory dials.
func (k PoolKey) Addr() string {
	return fmt.Sprintf("%s:%d", k.Host, k.Port)
}
