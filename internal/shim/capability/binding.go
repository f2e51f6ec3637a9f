// Package capability implements the guest-facing surface over the shim
// subsystem, per spec.md §4.10 / §6: the only layer a guest component can
// reach directly. It composes the DNS resolver, pool manager, and
// filesystem host behind named operations, opening an OpenTelemetry span
// and a Prometheus counter per call, matching the teacher's
// observability wiring for the host/guest boundary.
package capability

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/oriys/warpgrid/internal/metrics"
	"github.com/oriys/warpgrid/internal/observability"
	"github.com/oriys/warpgrid/internal/shim/dbproxy"
	"github.com/oriys/warpgrid/internal/shim/dnsresolve"
	"github.com/oriys/warpgrid/internal/shim/protocol"
	"github.com/oriys/warpgrid/internal/shim/vfs"
)

// AttrPoolKey and friends name the span/log attributes this package adds
// on top of observability's common Nova attributes.
var (
	AttrPoolKey   = attribute.Key("warpgrid.pool_key")
	AttrHandle    = attribute.Key("warpgrid.handle")
	AttrPath      = attribute.Key("warpgrid.path")
	AttrHostname  = attribute.Key("warpgrid.hostname")
	AttrRequestID = attribute.Key("warpgrid.request_id")
)

// Binding is the capability surface exposed to a single guest instance.
// The DNS resolver and pool manager are shared process-wide state; the
// filesystem host is per-instance, matching spec.md §4.8's "per-guest-
// instance state" note.
type Binding struct {
	Resolver   *dnsresolve.CachedResolver
	Pool       *dbproxy.Manager
	Filesystem *vfs.Host
}

// New builds a Binding over the given shared resolver/pool manager and
// per-instance filesystem host.
func New(resolver *dnsresolve.CachedResolver, pool *dbproxy.Manager, fs *vfs.Host) *Binding {
	return &Binding{Resolver: resolver, Pool: pool, Filesystem: fs}
}

func (b *Binding) traced(ctx context.Context, op string) (context.Context, func(err *error)) {
	reqID := uuid.New().String()
	ctx, span := observability.StartServerSpan(ctx, "capability."+op,
		AttrRequestID.String(reqID),
	)
	start := time.Now()
	return ctx, func(errp *error) {
		outcome := "ok"
		if errp != nil && *errp != nil {
			observability.SetSpanError(span, *errp)
			outcome = "error"
		} else {
			observability.SetSpanOK(span)
		}
		if m := metrics.Get(); m != nil {
			m.CapabilityCalls.WithLabelValues(op, outcome).Inc()
			m.CapabilityDuration.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))
		}
		span.End()
	}
}

// ResolveAddress implements the DNS capability's resolve-address
// operation, routed to the cached resolver's round-robin variant so
// consecutive calls from the same guest spread load across addresses,
// per spec.md §4.10.
func (b *Binding) ResolveAddress(ctx context.Context, hostname string) (addr string, err error) {
	ctx, end := b.traced(ctx, "resolve-address")
	defer end(&err)
	observability.SpanFromContext(ctx).SetAttributes(AttrHostname.String(hostname))

	ip, err := b.Resolver.ResolveRoundRobin(ctx, hostname)
	if err != nil {
		return "", err
	}
	return ip.String(), nil
}

// DBConnectConfig is the guest-supplied payload for the database proxy's
// connect operation, per spec.md §6. DSN, if set, is parsed via
// pgconn.ParseConfig to populate Host/Port/Database/User (a Postgres
// connection-string convenience form); explicit fields still win if both
// are set.
type DBConnectConfig struct {
	Host     string
	Port     uint16
	Database string
	User     string
	Password string
	Protocol protocol.Kind
	DSN      string
}

// DBConnect composes a PoolKey from cfg and checks out a connection via
// the pool manager, per spec.md §4.10's "connect(config) → u64".
func (b *Binding) DBConnect(ctx context.Context, cfg DBConnectConfig) (handle uint64, err error) {
	ctx, end := b.traced(ctx, "db-connect")
	defer end(&err)

	if cfg.DSN != "" {
		parsed, perr := parsePostgresDSN(cfg.DSN)
		if perr != nil {
			return 0, fmt.Errorf("parse postgres dsn: %w", perr)
		}
		if cfg.Host == "" {
			cfg.Host = parsed.Host
		}
		if cfg.Port == 0 {
			cfg.Port = parsed.Port
		}
		if cfg.Database == "" {
			cfg.Database = parsed.Database
		}
		if cfg.User == "" {
			cfg.User = parsed.User
		}
		if cfg.Password == "" {
			cfg.Password = parsed.Password
		}
	}

	key := dbproxy.PoolKey{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Database: cfg.Database,
		User:     cfg.User,
		Protocol: cfg.Protocol,
	}
	observability.SpanFromContext(ctx).SetAttributes(AttrPoolKey.String(key.String()))

	handle, err = b.Pool.Checkout(ctx, key, cfg.Password)
	return handle, err
}

// DBSend writes data through a checked-out database proxy connection.
func (b *Binding) DBSend(ctx context.Context, handle uint64, data []byte) (n int, err error) {
	ctx, end := b.traced(ctx, "db-send")
	defer end(&err)
	observability.SpanFromContext(ctx).SetAttributes(AttrHandle.Int64(int64(handle)))
	return b.Pool.Send(handle, data)
}

// DBRecv reads up to max bytes from a checked-out database proxy
// connection.
func (b *Binding) DBRecv(ctx context.Context, handle uint64, max int) (data []byte, err error) {
	ctx, end := b.traced(ctx, "db-recv")
	defer end(&err)
	observability.SpanFromContext(ctx).SetAttributes(AttrHandle.Int64(int64(handle)))
	return b.Pool.Recv(handle, max)
}

// DBClose releases a checked-out database proxy connection.
func (b *Binding) DBClose(ctx context.Context, handle uint64) (err error) {
	ctx, end := b.traced(ctx, "db-close")
	defer end(&err)
	observability.SpanFromContext(ctx).SetAttributes(AttrHandle.Int64(int64(handle)))
	return b.Pool.Release(handle)
}

// OpenVirtual implements the filesystem capability's open-virtual
// operation.
func (b *Binding) OpenVirtual(ctx context.Context, path string) (handle uint64, err error) {
	ctx, end := b.traced(ctx, "open-virtual")
	defer end(&err)
	observability.SpanFromContext(ctx).SetAttributes(AttrPath.String(path))
	return b.Filesystem.OpenVirtual(path)
}

// ReadVirtual implements the filesystem capability's read-virtual
// operation.
func (b *Binding) ReadVirtual(ctx context.Context, handle uint64, length int) (data []byte, err error) {
	ctx, end := b.traced(ctx, "read-virtual")
	defer end(&err)
	observability.SpanFromContext(ctx).SetAttributes(AttrHandle.Int64(int64(handle)))
	return b.Filesystem.ReadVirtual(handle, length)
}

// StatVirtual implements the filesystem capability's stat-virtual
// operation.
func (b *Binding) StatVirtual(ctx context.Context, path string) (stat vfs.Stat, err error) {
	ctx, end := b.traced(ctx, "stat-virtual")
	defer end(&err)
	observability.SpanFromContext(ctx).SetAttributes(AttrPath.String(path))
	return b.Filesystem.StatVirtual(path)
}

// CloseVirtual implements the filesystem capability's close-virtual
// operation.
func (b *Binding) CloseVirtual(ctx context.Context, handle uint64) (err error) {
	ctx, end := b.traced(ctx, "close-virtual")
	defer end(&err)
	observability.SpanFromContext(ctx).SetAttributes(AttrHandle.Int64(int64(handle)))
	return b.Filesystem.CloseVirtual(handle)
}
