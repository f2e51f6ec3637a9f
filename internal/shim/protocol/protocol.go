// Package protocol wraps a transport.Backend with a protocol-aware health
// probe, per spec.md §4.2. Every operation other than Ping passes through
// byte-for-byte; the shim never parses, rewrites, or inspects wire-protocol
// payload bytes above the health-check command level.
package protocol

import (
	"github.com/oriys/warpgrid/internal/shim/transport"
)

// Kind identifies which protocol-aware probe a connection speaks.
type Kind int

const (
	Generic Kind = iota
	Postgres
	MySQL
	Redis
)

func (k Kind) String() string {
	switch k {
	case Postgres:
		return "postgres"
	case MySQL:
		return "mysql"
	case Redis:
		return "redis"
	default:
		return "generic"
	}
}

// Wrap returns a transport.Backend whose Ping performs the protocol-aware
// probe for kind; Send/Recv/Close pass through to inner unchanged.
func Wrap(inner transport.Backend, kind Kind) transport.Backend {
	switch kind {
	case MySQL:
		return &mysqlBackend{Backend: inner}
	case Redis:
		return &redisBackend{Backend: inner}
	default:
		// Postgres and Generic both defer to the transport's own ping,
		// per spec.md §4.2's probe table.
		return inner
	}
}
