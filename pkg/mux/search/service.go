package search

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mcpmux/mcpmux/pkg/logger"
	"github.com/mcpmux/mcpmux/pkg/mux"
	"github.com/mcpmux/mcpmux/pkg/mux/metrics"
)

// noneReason annotates results returned when the resolved search method is
// NONE.
const noneReason = "Search disabled (method: NONE)"

// defaultProviderCacheSize bounds the provider cache. Providers are cheap
// for REGEX and BM25, but future providers may hold connections; eviction
// always disposes.
const defaultProviderCacheSize = 32

// Service is the search entry point used by the search_tools builtin. It
// resolves the configured method, maintains a bounded LRU cache of
// initialized providers keyed by (method, canonical config JSON), and
// delegates ranking to the provider.
type Service struct {
	registry *Registry
	metrics  *metrics.Metrics

	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used; values are *cacheEntry
	entries  map[string]*list.Element
}

// cacheEntry is one cached provider with its composite key.
type cacheEntry struct {
	key      string
	method   mux.SearchMethod
	provider Provider
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithProviderCacheSize overrides the provider cache capacity.
func WithProviderCacheSize(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithMetrics attaches prometheus instrumentation to the service.
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates a search service backed by the given registry.
func NewService(registry *Registry, opts ...ServiceOption) *Service {
	s := &Service{
		registry: registry,
		capacity: defaultProviderCacheSize,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search runs one query against the available tools under the resolved
// configuration.
//
// With method NONE every available tool comes back with a neutral score,
// capped at the effective max results. Any other method goes through a
// cached provider; its output is returned verbatim.
func (s *Service) Search(
	ctx context.Context, query Query, available []AvailableTool, cfg mux.ResolvedConfig,
) ([]Result, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.SearchDuration.WithLabelValues(string(cfg.SearchMethod)).Observe(time.Since(start).Seconds())
		}
	}()

	if query.MaxResults == 0 && cfg.MaxResults > 0 {
		query.MaxResults = cfg.MaxResults
	}

	if cfg.SearchMethod == mux.SearchMethodNone {
		limit := query.limit()
		if limit > len(available) {
			limit = len(available)
		}
		results := make([]Result, 0, limit)
		for _, at := range available[:limit] {
			results = append(results, Result{
				Tool:        at.Tool,
				ServerUUID:  at.ServerUUID,
				Score:       neutralScore,
				MatchReason: noneReason,
			})
		}
		return results, nil
	}

	provider, err := s.provider(cfg.SearchMethod, cfg.ProviderConfig)
	if err != nil {
		return nil, err
	}

	results, err := provider.Search(ctx, query, available)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", mux.ErrSearchFailed, cfg.SearchMethod, err)
	}
	return results, nil
}

// provider returns a cached provider for (method, config), creating and
// caching one on miss. The least recently used provider is evicted and
// disposed when the cache is full.
func (s *Service) provider(method mux.SearchMethod, config map[string]any) (Provider, error) {
	key, err := providerCacheKey(method, config)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		s.order.MoveToFront(elem)
		return elem.Value.(*cacheEntry).provider, nil
	}

	p, err := s.registry.Create(method, config)
	if err != nil {
		return nil, err
	}

	s.entries[key] = s.order.PushFront(&cacheEntry{key: key, method: method, provider: p})
	for s.order.Len() > s.capacity {
		s.evictLocked(s.order.Back())
	}
	if s.metrics != nil {
		s.metrics.ProviderCacheSize.Set(float64(s.order.Len()))
	}
	return p, nil
}

// evictLocked removes one entry and disposes its provider. Disposal errors
// are logged and swallowed; eviction must not fail a search.
func (s *Service) evictLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	entry := elem.Value.(*cacheEntry)
	s.order.Remove(elem)
	delete(s.entries, entry.key)
	if err := entry.provider.Dispose(); err != nil {
		logger.Warnw("provider dispose failed", "method", entry.method, "error", err)
	}
	if s.metrics != nil {
		s.metrics.ProviderCacheEvictions.Inc()
	}
}

// Clear disposes every cached provider.
func (s *Service) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.order.Len() > 0 {
		s.evictLocked(s.order.Back())
	}
	if s.metrics != nil {
		s.metrics.ProviderCacheSize.Set(0)
	}
}

// ClearMethod disposes only the cached providers of one method family.
func (s *Service) ClearMethod(method mux.SearchMethod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next *list.Element
	for elem := s.order.Front(); elem != nil; elem = next {
		next = elem.Next()
		if elem.Value.(*cacheEntry).method == method {
			s.evictLocked(elem)
		}
	}
	if s.metrics != nil {
		s.metrics.ProviderCacheSize.Set(float64(s.order.Len()))
	}
}

// Registry exposes the underlying provider registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// providerCacheKey builds the composite cache key. encoding/json writes map
// keys in sorted order, so equal configs always produce equal keys.
func providerCacheKey(method mux.SearchMethod, config map[string]any) (string, error) {
	if config == nil {
		return string(method) + ":null", nil
	}
	raw, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("%w: encode provider config: %w", mux.ErrInvalidInput, err)
	}
	return string(method) + ":" + string(raw), nil
}
