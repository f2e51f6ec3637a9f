// Package dnsresolve implements the shim subsystem's DNS resolution
// chain: a service registry, a virtual hosts file, and the system
// resolver, composed with a TTL/LRU cache and round-robin selection, per
// spec.md §4.5-§4.6.
package dnsresolve

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/oriys/warpgrid/internal/logging"
)

// Resolver is the three-tier chain: service registry, then /etc/hosts,
// then system DNS. It is constructed once from immutable inputs and is
// read-only thereafter.
type Resolver struct {
	registry ServiceRegistry
	hosts    *EtcHosts
}

// NewResolver builds a Resolver from an operator-supplied service
// registry map and the content of a virtual /etc/hosts file.
func NewResolver(registry map[string][]net.IP, etcHostsContent string) *Resolver {
	return &Resolver{
		registry: NewServiceRegistry(registry),
		hosts:    ParseEtcHosts(etcHostsContent),
	}
}

// Resolve looks up hostname through the chain, stopping at the first tier
// that returns a non-empty result. Hostname comparisons are
// case-insensitive throughout.
func (r *Resolver) Resolve(ctx context.Context, hostname string) ([]net.IP, error) {
	lower := strings.ToLower(hostname)

	if addrs := r.registry.lookup(lower); len(addrs) > 0 {
		logging.Op().Debug("dns resolved via service registry", "hostname", hostname, "count", len(addrs))
		return addrs, nil
	}

	if addrs := r.hosts.Lookup(lower); len(addrs) > 0 {
		logging.Op().Debug("dns resolved via etc hosts", "hostname", hostname, "count", len(addrs))
		return addrs, nil
	}

	logging.Op().Debug("dns falling back to system dns", "hostname", hostname)
	addrs, err := net.DefaultResolver.LookupIP(ctx, "ip", lower)
	if err != nil || len(addrs) == 0 {
		logging.Op().Debug("system dns lookup failed", "hostname", hostname)
		return nil, fmt.Errorf("HostNotFound: %s", hostname)
	}
	logging.Op().Debug("dns resolved via system dns", "hostname", hostname, "count", len(addrs))
	return addrs, nil
}
