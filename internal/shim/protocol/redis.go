package protocol

import (
	"github.com/oriys/warpgrid/internal/shim/transport"
)

const (
	redisPing = "PING\r\n"
	redisPong = "+PONG\r\n"
)

// redisBackend overrides Ping with the inline Redis PING/PONG exchange.
// Success requires the exact seven bytes "+PONG\r\n" -- anything else
// (including a partial match) is treated as a failed probe.
type redisBackend struct {
	transport.Backend
}

func (b *redisBackend) Ping() bool {
	if _, err := b.Backend.Send([]byte(redisPing)); err != nil {
		return false
	}
	reply, err := recvExactly(b.Backend, len(redisPong))
	if err != nil {
		return false
	}
	return string(reply) == redisPong
}
