package dnsresolve

import (
	"net"
	"strings"
)

// ServiceRegistry is the highest-priority resolution tier: an injected,
// immutable hostname to addresses map representing known service
// endpoints. Keys are normalized to lowercase at construction so lookups
// never need to re-lowercase the whole map.
type ServiceRegistry map[string][]net.IP

// NewServiceRegistry builds a ServiceRegistry from an operator-supplied
// map, lowercasing every hostname key.
func NewServiceRegistry(m map[string][]net.IP) ServiceRegistry {
	r := make(ServiceRegistry, len(m))
	for host, addrs := range m {
		r[strings.ToLower(host)] = addrs
	}
	return r
}

func (r ServiceRegistry) lookup(lowerHostname string) []net.IP {
	return r[lowerHostname]
}
