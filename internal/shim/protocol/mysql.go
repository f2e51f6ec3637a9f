package protocol

import (
	"github.com/oriys/warpgrid/internal/shim/transport"
)

const comPing byte = 0x0e

// mysqlBackend overrides Ping with a MySQL COM_PING probe: a one-byte
// payload wrapped in a 3-byte little-endian length + 1-byte sequence
// header. The reply's 4-byte header is read first (to learn the payload
// length), then exactly that many payload bytes, so the stream cursor
// stays aligned for subsequent guest traffic -- a half-read reply would
// desynchronize the next packet the guest sends.
type mysqlBackend struct {
	transport.Backend
}

func (b *mysqlBackend) Ping() bool {
	packet := []byte{1, 0, 0, 0, comPing}
	if _, err := b.Backend.Send(packet); err != nil {
		return false
	}

	header, err := recvExactly(b.Backend, 4)
	if err != nil {
		return false
	}
	length := int(header[0]) | int(header[1])<<8 | int(header[2])<<16
	if length <= 0 {
		return false
	}

	payload, err := recvExactly(b.Backend, length)
	if err != nil {
		return false
	}
	return payload[0] == 0x00
}

// recvExactly reads exactly n bytes from b, looping over short reads.
func recvExactly(b transport.Backend, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		chunk, err := b.Recv(n - len(out))
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			return nil, transport.ErrClosed
		}
		out = append(out, chunk...)
	}
	return out, nil
}
