package dbproxy

import (
	"context"

	"github.com/oriys/warpgrid/internal/shim/protocol"
	"github.com/oriys/warpgrid/internal/shim/transport"
)

// ConnectionFactory produces a fresh backend for a PoolKey, per spec.md
// §4.3. The password parameter exists for interface symmetry only -- it is
// never interpreted, since the shim never speaks the wire protocol on the
// guest's behalf.
type ConnectionFactory interface {
	Connect(ctx context.Context, key PoolKey, password string) (transport.Backend, error)
}

// TCPConnectionFactory dials key.Addr() with the OS resolver (via
// net.Dialer, not the shim's own DNS chain -- see spec.md's note on async
// construction vs. sync hostname resolution), optionally wraps the stream
// in TLS using the hostname as SNI, and wraps the result in the
// protocol-aware probe backend the key's Protocol names.
type TCPConnectionFactory struct {
	Config    PoolConfig
	TLSConfig *transport.TLSConfig
}

func NewTCPConnectionFactory(cfg PoolConfig) *TCPConnectionFactory {
	f := &TCPConnectionFactory{Config: cfg}
	if cfg.TLSEnabled {
		if cfg.VerifyCertificates {
			f.TLSConfig = transport.NewTLSConfigWithSystemRoots()
		} else {
			f.TLSConfig = transport.NewTLSConfigInsecure()
		}
	}
	return f
}

func (f *TCPConnectionFactory) Connect(ctx context.Context, key PoolKey, _ string) (transport.Backend, error) {
	tcfg := transport.Config{
		ConnectTimeout: f.Config.ConnectTimeout,
		RecvTimeout:    f.Config.RecvTimeout,
		TLS:            f.TLSConfig,
	}

	backend, err := transport.Dial(ctx, key.Addr(), tcfg, key.Host)
	if err != nil {
		return nil, err
	}
	return protocol.Wrap(backend, key.Protocol), nil
}
