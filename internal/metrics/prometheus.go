// Package metrics exposes a Prometheus registry for the shim subsystem:
// connection-pool occupancy, DNS cache hit/miss/eviction counters, and
// capability-binding call latencies. It mirrors the teacher's
// registry-plus-typed-collector-fields shape, trimmed to this module's
// domain.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for the shim subsystem.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Pool manager
	PoolActive     *prometheus.GaugeVec
	PoolIdle       *prometheus.GaugeVec
	PoolTotal      *prometheus.GaugeVec
	PoolWaitCount  *prometheus.CounterVec
	PoolCheckouts  *prometheus.CounterVec
	PoolForceClose *prometheus.CounterVec

	// DNS cache
	DNSCacheHits      prometheus.Counter
	DNSCacheMisses    prometheus.Counter
	DNSCacheEvictions prometheus.Counter
	DNSCacheSize      prometheus.Gauge

	// Capability binding
	CapabilityCalls    *prometheus.CounterVec
	CapabilityDuration *prometheus.HistogramVec
}

var defaultBuckets = []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem and returns it.
func InitPrometheus(namespace string, buckets []float64) *PrometheusMetrics {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		PoolActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_active_connections",
			Help: "Checked-out connections per pool key.",
		}, []string{"pool_key"}),
		PoolIdle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_idle_connections",
			Help: "Idle connections per pool key.",
		}, []string{"pool_key"}),
		PoolTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_total_connections",
			Help: "Total live connections per pool key.",
		}, []string{"pool_key"}),
		PoolWaitCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pool_wait_total",
			Help: "Checkout attempts that timed out waiting for a permit.",
		}, []string{"pool_key"}),
		PoolCheckouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pool_checkouts_total",
			Help: "Successful checkouts per pool key.",
		}, []string{"pool_key"}),
		PoolForceClose: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pool_force_closed_total",
			Help: "Connections force-closed by drain() per pool key.",
		}, []string{"pool_key"}),

		DNSCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "dns_cache_hits_total",
			Help: "DNS cache hits.",
		}),
		DNSCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "dns_cache_misses_total",
			Help: "DNS cache misses (including expired entries).",
		}),
		DNSCacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "dns_cache_evictions_total",
			Help: "DNS cache entries evicted for capacity.",
		}),
		DNSCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "dns_cache_entries",
			Help: "Current DNS cache entry count.",
		}),

		CapabilityCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "capability_calls_total",
			Help: "Capability binding calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		CapabilityDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "capability_call_duration_ms",
			Help:    "Capability binding call duration in milliseconds.",
			Buckets: buckets,
		}, []string{"operation"}),
	}

	registry.MustRegister(
		pm.PoolActive, pm.PoolIdle, pm.PoolTotal, pm.PoolWaitCount, pm.PoolCheckouts, pm.PoolForceClose,
		pm.DNSCacheHits, pm.DNSCacheMisses, pm.DNSCacheEvictions, pm.DNSCacheSize,
		pm.CapabilityCalls, pm.CapabilityDuration,
	)

	promMetrics = pm
	return pm
}

// Get returns the process-wide metrics instance, or nil if InitPrometheus
// has not been called.
func Get() *PrometheusMetrics {
	return promMetrics
}

// Handler returns the HTTP handler serving the Prometheus exposition format.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}
