package dnsresolve

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/oriys/warpgrid/internal/cache"
	"github.com/oriys/warpgrid/internal/logging"
)

// CachedResolver composes a Resolver and a DnsCache, per spec.md §4.6.
// Each hold of the cache mutex covers a single map lookup or insert (a
// miss takes it once for the lookup and once for the insert); the
// expensive resolver call always runs outside it.
type CachedResolver struct {
	resolver *Resolver
	mu       sync.Mutex
	cache    *DnsCache

	// l2 is an optional write-through mirror for the cache, e.g. a shared
	// Redis instance so a pool of agents can warm each other's caches. It
	// is never consulted as a source of truth -- a miss here just means
	// falling through to the resolver chain like any other cache miss.
	l2    cache.Cache
	l2TTL time.Duration
}

func NewCachedResolver(resolver *Resolver, cacheConfig DnsCacheConfig) *CachedResolver {
	return &CachedResolver{resolver: resolver, cache: NewDnsCache(cacheConfig)}
}

// WithL2Mirror attaches an optional secondary cache. Failures talking to
// it are logged and otherwise ignored -- the local in-memory cache and
// the resolver chain remain the correctness boundary.
func (c *CachedResolver) WithL2Mirror(l2 cache.Cache, ttl time.Duration) *CachedResolver {
	c.l2 = l2
	c.l2TTL = ttl
	return c
}

// Resolve checks the cache first; on miss, delegates to the chain and
// caches a non-empty result. Failed resolutions are never cached.
func (c *CachedResolver) Resolve(ctx context.Context, hostname string) ([]net.IP, error) {
	c.mu.Lock()
	addrs := c.cache.Get(hostname)
	c.mu.Unlock()
	if addrs != nil {
		return addrs, nil
	}

	if addrs := c.getFromL2(ctx, hostname); addrs != nil {
		c.mu.Lock()
		c.cache.Insert(hostname, addrs)
		c.mu.Unlock()
		return addrs, nil
	}

	addrs, err := c.resolver.Resolve(ctx, hostname)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache.Insert(hostname, addrs)
	c.mu.Unlock()
	c.putToL2(ctx, hostname, addrs)

	return addrs, nil
}

// ResolveRoundRobin behaves like Resolve but returns a single address,
// advancing the round-robin counter so consecutive callers spread load.
func (c *CachedResolver) ResolveRoundRobin(ctx context.Context, hostname string) (net.IP, error) {
	c.mu.Lock()
	if addr, ok := c.cache.GetRoundRobin(hostname); ok {
		c.mu.Unlock()
		return addr, nil
	}
	c.mu.Unlock()

	addrs, err := c.resolver.Resolve(ctx, hostname)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("HostNotFound: %s", hostname)
	}
	first := addrs[0]

	c.mu.Lock()
	c.cache.Insert(hostname, addrs)
	// The insert above creates a fresh entry with its counter at zero; we
	// must advance it once here so the next caller gets index 1, not the
	// same address we're about to return.
	_, _ = c.cache.GetRoundRobin(hostname)
	c.mu.Unlock()
	c.putToL2(ctx, hostname, addrs)

	return first, nil
}

func (c *CachedResolver) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Stats()
}

func (c *CachedResolver) getFromL2(ctx context.Context, hostname string) []net.IP {
	if c.l2 == nil {
		return nil
	}
	raw, err := c.l2.Get(ctx, l2Key(hostname))
	if err != nil {
		return nil
	}
	return decodeAddrs(string(raw))
}

func (c *CachedResolver) putToL2(ctx context.Context, hostname string, addrs []net.IP) {
	if c.l2 == nil {
		return
	}
	if err := c.l2.Set(ctx, l2Key(hostname), []byte(encodeAddrs(addrs)), c.l2TTL); err != nil {
		logging.Op().Debug("dns l2 mirror write failed", "hostname", hostname, "error", err)
	}
}

func l2Key(hostname string) string {
	return "warpgrid:dns:" + strings.ToLower(hostname)
}

func encodeAddrs(addrs []net.IP) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, ",")
}

func decodeAddrs(s string) []net.IP {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]net.IP, 0, len(parts))
	for _, p := range parts {
		if ip := net.ParseIP(p); ip != nil {
			out = append(out, ip)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
