package dnsresolve

import (
	"context"
	"net"
	"testing"
)

func TestResolverPrefersServiceRegistryOverHosts(t *testing.T) {
	r := NewResolver(
		map[string][]net.IP{"api.local": ips("10.0.0.1")},
		"10.0.0.9 api.local\n",
	)
	addrs, err := r.Resolve(context.Background(), "api.local")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(addrs) != 1 || !addrs[0].Equal(net.ParseIP("10.0.0.1")) {
		t.Fatalf("expected registry entry to win, got %v", addrs)
	}
}

func TestResolverFallsThroughEmptyRegistryEntryToHosts(t *testing.T) {
	r := NewResolver(
		map[string][]net.IP{"api.local": {}},
		"10.0.0.9 api.local\n",
	)
	addrs, err := r.Resolve(context.Background(), "api.local")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(addrs) != 1 || !addrs[0].Equal(net.ParseIP("10.0.0.9")) {
		t.Fatalf("expected an empty registry entry to fall through to hosts, got %v", addrs)
	}
}

func TestResolverHostnameComparisonIsCaseInsensitive(t *testing.T) {
	r := NewResolver(map[string][]net.IP{"API.Local": ips("10.0.0.1")}, "")
	addrs, err := r.Resolve(context.Background(), "api.local")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(addrs) != 1 {
		t.Fatalf("expected a case-insensitive registry hit, got %v", addrs)
	}
}

func TestResolverUnknownHostReturnsHostNotFound(t *testing.T) {
	r := NewResolver(map[string][]net.IP{}, "")
	if _, err := r.Resolve(context.Background(), "definitely-not-registered.invalid."); err == nil {
		t.Fatal("expected HostNotFound for an unregistered, unresolvable host")
	}
}
