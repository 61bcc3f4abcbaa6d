// Package metrics provides prometheus instrumentation for the tool-discovery
// subsystem: resolver cache behavior, provider cache churn, and search
// latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus collectors shared by the resolver and the
// search service.
type Metrics struct {
	// ResolverCacheHits counts resolved-config cache hits.
	ResolverCacheHits prometheus.Counter

	// ResolverCacheMisses counts resolved-config cache misses.
	ResolverCacheMisses prometheus.Counter

	// ResolverFailsafes counts resolutions that fell back to the fail-safe
	// configuration.
	ResolverFailsafes prometheus.Counter

	// SearchDuration observes end-to-end search latency per method.
	SearchDuration *prometheus.HistogramVec

	// ProviderCacheSize tracks the number of cached search providers.
	ProviderCacheSize prometheus.Gauge

	// ProviderCacheEvictions counts provider evictions (each one disposes
	// a provider).
	ProviderCacheEvictions prometheus.Counter
}

// New creates and registers all collectors. A nil registerer falls back to
// the default prometheus registry.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		ResolverCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "mcpmux_resolver_cache_hits_total",
			Help: "Resolved-config cache hits.",
		}),
		ResolverCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "mcpmux_resolver_cache_misses_total",
			Help: "Resolved-config cache misses.",
		}),
		ResolverFailsafes: factory.NewCounter(prometheus.CounterOpts{
			Name: "mcpmux_resolver_failsafe_total",
			Help: "Resolutions that returned the fail-safe configuration.",
		}),
		SearchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcpmux_search_duration_seconds",
			Help:    "End-to-end tool search latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		ProviderCacheSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mcpmux_provider_cache_size",
			Help: "Number of cached search providers.",
		}),
		ProviderCacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "mcpmux_provider_cache_evictions_total",
			Help: "Search providers evicted (and disposed) from the cache.",
		}),
	}
}
