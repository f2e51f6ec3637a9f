// Package shimconfig composes a deployment's ShimConfig from either a
// declarative YAML document or a typed pre-parsed struct, per spec.md
// §4.9. It is the single point where per-shim toggles and sub-configs
// turn into the concrete dbproxy.PoolConfig / dnsresolve.DnsCacheConfig
// the rest of the shim subsystem consumes.
package shimconfig

import (
	"net"
	"time"

	"github.com/oriys/warpgrid/internal/shim/dbproxy"
	"github.com/oriys/warpgrid/internal/shim/dnsresolve"
)

// knownShimKeys is the forward-compatibility allowlist: any other
// top-level key in the declarative document logs a warning instead of
// failing construction, per spec.md §4.9.
var knownShimKeys = map[string]bool{
	"filesystem":     true,
	"dns":            true,
	"signals":        true,
	"database_proxy": true,
	"threading":      true,
}

// DNSConfig is the filesystem-of-record for DNS shim tunables, mirroring
// original_source/config.rs's DnsConfig.
type DNSConfig struct {
	TTLSeconds uint64
	CacheSize  int
}

// DefaultDNSConfig matches spec.md §3's DnsCacheConfig defaults.
func DefaultDNSConfig() DNSConfig {
	return DNSConfig{TTLSeconds: 30, CacheSize: 1024}
}

// ToCacheConfig derives the dnsresolve.DnsCacheConfig the cached resolver
// is actually built from.
func (c DNSConfig) ToCacheConfig() dnsresolve.DnsCacheConfig {
	return dnsresolve.DnsCacheConfig{
		TTL:        time.Duration(c.TTLSeconds) * time.Second,
		MaxEntries: c.CacheSize,
	}
}

// FilesystemConfig carries the filesystem shim's sub-configuration:
// additional static content beyond WithDefaults(), plus the timezone name
// embedded by the zoneinfo prefix provider.
type FilesystemConfig struct {
	// ExtraVirtualPaths maps a virtual path to inline byte content, or to
	// an "s3://bucket/key" source string that the agent's serve command
	// (buildFileMap) resolves through a vfs.S3StaticLoader.
	ExtraVirtualPaths map[string]string
	TimezoneName      string
}

func DefaultFilesystemConfig() FilesystemConfig {
	return FilesystemConfig{ExtraVirtualPaths: map[string]string{}, TimezoneName: "UTC"}
}

// DatabaseProxyConfig carries the database-proxy shim's pool tunables,
// mirroring original_source/config.rs's DatabaseProxyConfig.
type DatabaseProxyConfig struct {
	PoolSize                  int
	IdleTimeoutSeconds        uint64
	HealthCheckIntervalSecond uint64
	ConnectTimeoutSeconds     uint64
	RecvTimeoutSeconds        uint64
}

func DefaultDatabaseProxyConfig() DatabaseProxyConfig {
	d := dbproxy.DefaultPoolConfig()
	return DatabaseProxyConfig{
		PoolSize:                  d.MaxSize,
		IdleTimeoutSeconds:        uint64(d.IdleTimeout.Seconds()),
		HealthCheckIntervalSecond: uint64(d.HealthCheckInterval.Seconds()),
		ConnectTimeoutSeconds:     uint64(d.ConnectTimeout.Seconds()),
		RecvTimeoutSeconds:        uint64(d.RecvTimeout.Seconds()),
	}
}

// ToPoolConfig derives the dbproxy.PoolConfig the pool manager is
// actually built from; TLS/verify flags keep their own defaults since no
// declarative field in spec.md §4.9 overrides them.
func (c DatabaseProxyConfig) ToPoolConfig() dbproxy.PoolConfig {
	p := dbproxy.DefaultPoolConfig()
	p.MaxSize = c.PoolSize
	p.IdleTimeout = time.Duration(c.IdleTimeoutSeconds) * time.Second
	p.HealthCheckInterval = time.Duration(c.HealthCheckIntervalSecond) * time.Second
	p.ConnectTimeout = time.Duration(c.ConnectTimeoutSeconds) * time.Second
	p.RecvTimeout = time.Duration(c.RecvTimeoutSeconds) * time.Second
	return p
}

// ShimConfig aggregates the enable flags, sub-configurations, service
// registry, hosts-file content, and guest environment for one deployment,
// per spec.md §4.9 / §3.
type ShimConfig struct {
	Filesystem     bool
	DNS            bool
	Signals        bool
	DatabaseProxy  bool
	Threading      bool

	FilesystemConfig    FilesystemConfig
	DNSConfig           DNSConfig
	DatabaseProxyConfig DatabaseProxyConfig

	// Derived views, recomputed whenever the corresponding sub-config
	// changes.
	DNSCacheConfig dnsresolve.DnsCacheConfig
	PoolConfig     dbproxy.PoolConfig

	ServiceRegistry map[string][]net.IP
	EtcHostsContent string
	Env             map[string]string
}

// Default returns a ShimConfig with every shim enabled and stock
// sub-configs, matching original_source/config.rs's Default impl.
func Default() ShimConfig {
	dnsCfg := DefaultDNSConfig()
	dbCfg := DefaultDatabaseProxyConfig()
	return ShimConfig{
		Filesystem:          true,
		DNS:                 true,
		Signals:             true,
		DatabaseProxy:       true,
		Threading:           true,
		FilesystemConfig:    DefaultFilesystemConfig(),
		DNSConfig:           dnsCfg,
		DatabaseProxyConfig: dbCfg,
		DNSCacheConfig:      dnsCfg.ToCacheConfig(),
		PoolConfig:          dbCfg.ToPoolConfig(),
		ServiceRegistry:     map[string][]net.IP{},
		Env:                 map[string]string{},
	}
}

// WithServiceRegistry returns a copy of c with its service registry
// replaced -- a fluent builder method per spec.md §4.9.
func (c ShimConfig) WithServiceRegistry(registry map[string][]net.IP) ShimConfig {
	c.ServiceRegistry = registry
	return c
}

// WithEtcHosts returns a copy of c with its hosts-file content replaced.
func (c ShimConfig) WithEtcHosts(content string) ShimConfig {
	c.EtcHostsContent = content
	return c
}

// WithPoolConfig returns a copy of c with its pool config replaced
// directly, bypassing DatabaseProxyConfig derivation.
func (c ShimConfig) WithPoolConfig(pool dbproxy.PoolConfig) ShimConfig {
	c.PoolConfig = pool
	return c
}
