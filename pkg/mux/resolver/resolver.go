// Package resolver collapses the namespace, endpoint, and per-tool
// configuration layers into the single inherit-free view the request path
// consumes, and caches that view per endpoint.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/mcpmux/mcpmux/pkg/logger"
	"github.com/mcpmux/mcpmux/pkg/mux"
	"github.com/mcpmux/mcpmux/pkg/mux/metrics"
)

// Store is the read surface the resolver needs. Implementations return
// mux.ErrNotFound (wrapped) for missing records.
type Store interface {
	// FindNamespace loads one namespace by UUID.
	FindNamespace(ctx context.Context, namespaceUUID string) (*mux.Namespace, error)

	// FindEndpoint loads one endpoint by UUID.
	FindEndpoint(ctx context.Context, endpointUUID string) (*mux.Endpoint, error)

	// FindToolDeferLoadingOverrides returns the namespace's explicit
	// per-tool defer-loading decisions keyed by public tool name. Inherit
	// mappings are absent from the map.
	FindToolDeferLoadingOverrides(ctx context.Context, namespaceUUID string) (map[string]bool, error)

	// FindToolSearchConfig loads the namespace's search tuning record, or
	// mux.ErrNotFound when none is stored.
	FindToolSearchConfig(ctx context.Context, namespaceUUID string) (*mux.ToolSearchConfig, error)
}

// Resolve computes the effective configuration from its layers. It is a
// pure function: endpoint and searchConfig may be nil, toolOverrides may be
// nil, and no argument is mutated.
func Resolve(
	ns *mux.Namespace,
	endpoint *mux.Endpoint,
	toolOverrides map[string]bool,
	searchConfig *mux.ToolSearchConfig,
) mux.ResolvedConfig {
	cfg := mux.ResolvedConfig{
		DeferLoadingEnabled: ns.DefaultDeferLoading,
		SearchMethod:        ns.DefaultSearchMethod,
		ToolVisibility:      ns.DefaultToolVisibility,
		ToolOverrides:       toolOverrides,
		MaxResults:          mux.DefaultMaxResults,
	}
	if cfg.SearchMethod == "" {
		cfg.SearchMethod = mux.SearchMethodNone
	}
	if cfg.ToolVisibility == "" {
		cfg.ToolVisibility = mux.VisibilityAll
	}
	if cfg.ToolOverrides == nil {
		cfg.ToolOverrides = map[string]bool{}
	}

	if endpoint != nil {
		switch endpoint.OverrideDeferLoading {
		case mux.DeferLoadingEnabled:
			cfg.DeferLoadingEnabled = true
		case mux.DeferLoadingDisabled:
			cfg.DeferLoadingEnabled = false
		}
		if !endpoint.OverrideSearchMethod.IsInherit() {
			cfg.SearchMethod = endpoint.OverrideSearchMethod.Method()
		}
		if !endpoint.OverrideToolVisibility.IsInherit() {
			cfg.ToolVisibility = endpoint.OverrideToolVisibility.Visibility()
		}
	}

	if searchConfig != nil {
		if searchConfig.MaxResults > 0 {
			cfg.MaxResults = searchConfig.MaxResults
		}
		cfg.ProviderConfig = searchConfig.ProviderConfig
	}

	return cfg
}

// CachedResolver caches resolved configurations per endpoint UUID.
// Concurrent resolutions for the same endpoint coalesce into one store
// fetch. Cached values are treated as immutable; invalidation is explicit.
type CachedResolver struct {
	store   Store
	metrics *metrics.Metrics

	mu    sync.RWMutex
	cache map[string]mux.ResolvedConfig

	// group coalesces concurrent fetches per cache key. Entries are
	// released after success and failure alike, so a failed fetch never
	// poisons later retries.
	group singleflight.Group
}

// Option configures a CachedResolver.
type Option func(*CachedResolver)

// WithMetrics attaches prometheus instrumentation to the resolver.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *CachedResolver) {
		r.metrics = m
	}
}

// New creates a resolver backed by the given store.
func New(store Store, opts ...Option) *CachedResolver {
	r := &CachedResolver{
		store: store,
		cache: make(map[string]mux.ResolvedConfig),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetResolvedConfig returns the effective configuration for one endpoint.
//
// Results are cached by endpoint UUID. When the namespace is missing or the
// store fetch fails, the fail-safe configuration is returned WITHOUT being
// cached, so the next call retries the store.
func (r *CachedResolver) GetResolvedConfig(ctx context.Context, namespaceUUID, endpointUUID string) mux.ResolvedConfig {
	key := cacheKey(namespaceUUID, endpointUUID)

	if cfg, ok := r.lookup(key); ok {
		if r.metrics != nil {
			r.metrics.ResolverCacheHits.Inc()
		}
		return cfg
	}
	if r.metrics != nil {
		r.metrics.ResolverCacheMisses.Inc()
	}

	result, err, _ := r.group.Do(key, func() (any, error) {
		// Another caller may have populated the cache while this one waited
		// on the flight.
		if cfg, ok := r.lookup(key); ok {
			return cfg, nil
		}

		cfg, err := r.fetch(ctx, namespaceUUID, endpointUUID)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.cache[key] = cfg
		r.mu.Unlock()
		return cfg, nil
	})
	if err != nil {
		logger.Warnw("config resolution failed, using fail-safe defaults",
			"namespace", namespaceUUID, "endpoint", endpointUUID, "error", err)
		if r.metrics != nil {
			r.metrics.ResolverFailsafes.Inc()
		}
		return mux.FailsafeResolvedConfig()
	}
	return result.(mux.ResolvedConfig)
}

// fetch loads all configuration layers and resolves them.
func (r *CachedResolver) fetch(ctx context.Context, namespaceUUID, endpointUUID string) (mux.ResolvedConfig, error) {
	ns, err := r.store.FindNamespace(ctx, namespaceUUID)
	if err != nil {
		return mux.ResolvedConfig{}, fmt.Errorf("load namespace %s: %w", namespaceUUID, err)
	}

	var endpoint *mux.Endpoint
	if endpointUUID != "" {
		endpoint, err = r.store.FindEndpoint(ctx, endpointUUID)
		if err != nil && !errors.Is(err, mux.ErrNotFound) {
			return mux.ResolvedConfig{}, fmt.Errorf("load endpoint %s: %w", endpointUUID, err)
		}
		// A missing endpoint resolves against namespace defaults alone.
	}

	overrides, err := r.store.FindToolDeferLoadingOverrides(ctx, namespaceUUID)
	if err != nil {
		return mux.ResolvedConfig{}, fmt.Errorf("load tool overrides for %s: %w", namespaceUUID, err)
	}

	searchConfig, err := r.store.FindToolSearchConfig(ctx, namespaceUUID)
	if err != nil && !errors.Is(err, mux.ErrNotFound) {
		return mux.ResolvedConfig{}, fmt.Errorf("load tool search config for %s: %w", namespaceUUID, err)
	}

	return Resolve(ns, endpoint, overrides, searchConfig), nil
}

// lookup reads the cache under the read lock.
func (r *CachedResolver) lookup(key string) (mux.ResolvedConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.cache[key]
	return cfg, ok
}

// Invalidate drops the cached configuration for one endpoint. The next
// GetResolvedConfig for that endpoint re-reads the store.
func (r *CachedResolver) Invalidate(endpointUUID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.cache {
		if keyEndpoint(key) == endpointUUID {
			delete(r.cache, key)
		}
	}
}

// InvalidateAll drops the cached configuration for every listed endpoint.
func (r *CachedResolver) InvalidateAll(endpointUUIDs []string) {
	for _, uuid := range endpointUUIDs {
		r.Invalidate(uuid)
	}
}

// Clear empties the whole cache.
func (r *CachedResolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]mux.ResolvedConfig)
}

// cacheKey builds the cache key for one (namespace, endpoint) pair. The
// endpoint UUID is the second segment so Invalidate can match on it; a
// request without an endpoint caches under the namespace alone.
func cacheKey(namespaceUUID, endpointUUID string) string {
	return namespaceUUID + "/" + endpointUUID
}

// keyEndpoint extracts the endpoint segment of a cache key.
func keyEndpoint(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[i+1:]
		}
	}
	return ""
}
