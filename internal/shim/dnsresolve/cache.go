package dnsresolve

import (
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oriys/warpgrid/internal/logging"
	"github.com/oriys/warpgrid/internal/metrics"
)

// DnsCacheConfig tunes a DnsCache. Defaults: {30s, 1024}.
type DnsCacheConfig struct {
	TTL        time.Duration
	MaxEntries int
}

func DefaultDnsCacheConfig() DnsCacheConfig {
	return DnsCacheConfig{TTL: 30 * time.Second, MaxEntries: 1024}
}

// cacheEntry holds resolved addresses plus TTL/LRU/round-robin state. The
// round-robin counter and last-accessed timestamp are atomic so that, once
// a reference to the entry is obtained, address selection needs no lock.
type cacheEntry struct {
	addresses    []net.IP
	insertedAt   time.Time
	roundRobin   atomic.Uint64
	lastAccessed atomic.Int64
}

func newCacheEntry(addresses []net.IP) *cacheEntry {
	e := &cacheEntry{addresses: addresses, insertedAt: time.Now()}
	e.lastAccessed.Store(time.Now().UnixNano())
	return e
}

func (e *cacheEntry) expired(ttl time.Duration) bool {
	return time.Since(e.insertedAt) > ttl
}

func (e *cacheEntry) touch() {
	e.lastAccessed.Store(time.Now().UnixNano())
}

func (e *cacheEntry) nextRoundRobin() (net.IP, bool) {
	if len(e.addresses) == 0 {
		return nil, false
	}
	idx := e.roundRobin.Add(1) - 1
	return e.addresses[int(idx)%len(e.addresses)], true
}

// CacheStats reports cumulative hit/miss/eviction counts.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// DnsCache is a bounded, TTL-expiring, LRU-evicting cache of DNS
// resolutions. It is not internally synchronized: per spec.md §5's lock
// discipline, the caller (CachedResolver) wraps it in a single mutex held
// for exactly one map lookup or insert/evict.
type DnsCache struct {
	entries map[string]*cacheEntry
	config  DnsCacheConfig
	stats   CacheStats
}

func NewDnsCache(cfg DnsCacheConfig) *DnsCache {
	return &DnsCache{entries: make(map[string]*cacheEntry), config: cfg}
}

// Get returns all cached addresses for hostname, or nil on miss or TTL
// expiry. An expired entry is removed eagerly.
func (c *DnsCache) Get(hostname string) []net.IP {
	key := strings.ToLower(hostname)
	entry, ok := c.entries[key]
	if !ok {
		c.recordDecision(hostname, false)
		return nil
	}
	if entry.expired(c.config.TTL) {
		delete(c.entries, key)
		c.recordDecision(hostname, false)
		return nil
	}
	entry.touch()
	c.recordDecision(hostname, true)
	return entry.addresses
}

// GetRoundRobin returns the next address in rotation for hostname, or
// (nil, false) on miss, TTL expiry, or an empty address list.
func (c *DnsCache) GetRoundRobin(hostname string) (net.IP, bool) {
	key := strings.ToLower(hostname)
	entry, ok := c.entries[key]
	if !ok {
		c.recordDecision(hostname, false)
		return nil, false
	}
	if entry.expired(c.config.TTL) {
		delete(c.entries, key)
		c.recordDecision(hostname, false)
		return nil, false
	}
	entry.touch()
	c.recordDecision(hostname, true)
	return entry.nextRoundRobin()
}

// Insert adds or replaces the cache entry for hostname, evicting the
// least-recently-used entry first if the cache is at capacity.
func (c *DnsCache) Insert(hostname string, addresses []net.IP) {
	key := strings.ToLower(hostname)
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.config.MaxEntries {
		c.evictLRU()
	}
	c.entries[key] = newCacheEntry(addresses)
	if mm := metrics.Get(); mm != nil {
		mm.DNSCacheSize.Set(float64(len(c.entries)))
	}
}

// recordDecision tallies a hit or miss, mirrors the running counts onto
// the Prometheus counters, and emits the info-level metric event spec.md
// §4.6 requires for every lookup that reaches a decision.
func (c *DnsCache) recordDecision(hostname string, hit bool) {
	if hit {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	if mm := metrics.Get(); mm != nil {
		if hit {
			mm.DNSCacheHits.Inc()
		} else {
			mm.DNSCacheMisses.Inc()
		}
	}
	logging.Op().Info("dns cache lookup",
		"hostname", hostname, "hit", hit,
		"hits", c.stats.Hits, "misses", c.stats.Misses, "evictions", c.stats.Evictions)
}

func (c *DnsCache) evictLRU() {
	var lruKey string
	var lruTime int64
	found := false
	for k, e := range c.entries {
		t := e.lastAccessed.Load()
		if !found || t < lruTime {
			lruKey, lruTime, found = k, t, true
		}
	}
	if found {
		delete(c.entries, lruKey)
		c.stats.Evictions++
		if mm := metrics.Get(); mm != nil {
			mm.DNSCacheEvictions.Inc()
		}
	}
}

func (c *DnsCache) Stats() CacheStats {
	return c.stats
}
