package resolver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpmux/mcpmux/pkg/mux"
)

// fakeStore is a scriptable Store for resolver tests.
type fakeStore struct {
	namespace    *mux.Namespace
	namespaceErr error

	endpoint    *mux.Endpoint
	endpointErr error

	overrides    map[string]bool
	overridesErr error

	searchConfig    *mux.ToolSearchConfig
	searchConfigErr error

	namespaceCalls atomic.Int64
}

func (f *fakeStore) FindNamespace(_ context.Context, _ string) (*mux.Namespace, error) {
	f.namespaceCalls.Add(1)
	return f.namespace, f.namespaceErr
}

func (f *fakeStore) FindEndpoint(_ context.Context, _ string) (*mux.Endpoint, error) {
	return f.endpoint, f.endpointErr
}

func (f *fakeStore) FindToolDeferLoadingOverrides(_ context.Context, _ string) (map[string]bool, error) {
	return f.overrides, f.overridesErr
}

func (f *fakeStore) FindToolSearchConfig(_ context.Context, _ string) (*mux.ToolSearchConfig, error) {
	return f.searchConfig, f.searchConfigErr
}

func testNamespace() *mux.Namespace {
	return &mux.Namespace{
		UUID:                  "ns-1",
		Name:                  "default",
		DefaultDeferLoading:   true,
		DefaultSearchMethod:   mux.SearchMethodBM25,
		DefaultToolVisibility: mux.VisibilityAll,
	}
}

func TestResolveNamespaceDefaults(t *testing.T) {
	t.Parallel()

	cfg := Resolve(testNamespace(), nil, nil, nil)

	assert.True(t, cfg.DeferLoadingEnabled)
	assert.Equal(t, mux.SearchMethodBM25, cfg.SearchMethod)
	assert.Equal(t, mux.VisibilityAll, cfg.ToolVisibility)
	assert.Equal(t, mux.DefaultMaxResults, cfg.MaxResults)
	assert.NotNil(t, cfg.ToolOverrides)
	assert.Empty(t, cfg.ToolOverrides)
}

func TestResolveZeroValueNamespaceFields(t *testing.T) {
	t.Parallel()

	cfg := Resolve(&mux.Namespace{UUID: "ns-1"}, nil, nil, nil)

	assert.False(t, cfg.DeferLoadingEnabled)
	assert.Equal(t, mux.SearchMethodNone, cfg.SearchMethod)
	assert.Equal(t, mux.VisibilityAll, cfg.ToolVisibility)
}

func TestResolveEndpointOverrides(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		endpoint *mux.Endpoint
		check    func(*testing.T, mux.ResolvedConfig)
	}{
		{
			name: "all inherit keeps namespace values",
			endpoint: &mux.Endpoint{
				OverrideDeferLoading:   mux.DeferLoadingInherit,
				OverrideSearchMethod:   mux.SearchOverrideInherit,
				OverrideToolVisibility: mux.VisibilityOverrideInherit,
			},
			check: func(t *testing.T, cfg mux.ResolvedConfig) {
				assert.True(t, cfg.DeferLoadingEnabled)
				assert.Equal(t, mux.SearchMethodBM25, cfg.SearchMethod)
				assert.Equal(t, mux.VisibilityAll, cfg.ToolVisibility)
			},
		},
		{
			name: "disable defer loading",
			endpoint: &mux.Endpoint{
				OverrideDeferLoading: mux.DeferLoadingDisabled,
			},
			check: func(t *testing.T, cfg mux.ResolvedConfig) {
				assert.False(t, cfg.DeferLoadingEnabled)
			},
		},
		{
			name: "override search method and visibility",
			endpoint: &mux.Endpoint{
				OverrideSearchMethod:   mux.SearchMethodOverride(mux.SearchMethodRegex),
				OverrideToolVisibility: mux.ToolVisibilityOverride(mux.VisibilitySearchOnly),
			},
			check: func(t *testing.T, cfg mux.ResolvedConfig) {
				assert.Equal(t, mux.SearchMethodRegex, cfg.SearchMethod)
				assert.Equal(t, mux.VisibilitySearchOnly, cfg.ToolVisibility)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.check(t, Resolve(testNamespace(), tt.endpoint, nil, nil))
		})
	}
}

func TestResolveSearchConfig(t *testing.T) {
	t.Parallel()

	cfg := Resolve(testNamespace(), nil, nil, &mux.ToolSearchConfig{
		MaxResults:     10,
		ProviderConfig: map[string]any{"k1": 1.5},
	})

	assert.Equal(t, 10, cfg.MaxResults)
	assert.Equal(t, map[string]any{"k1": 1.5}, cfg.ProviderConfig)
}

func TestCachedResolverCachesByEndpoint(t *testing.T) {
	t.Parallel()

	store := &fakeStore{namespace: testNamespace()}
	r := New(store)

	first := r.GetResolvedConfig(context.Background(), "ns-1", "ep-1")
	second := r.GetResolvedConfig(context.Background(), "ns-1", "ep-1")

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), store.namespaceCalls.Load())
}

func TestCachedResolverFailsafeNotCached(t *testing.T) {
	t.Parallel()

	store := &fakeStore{namespace: testNamespace(), namespaceErr: errors.New("connection refused")}
	r := New(store)

	cfg := r.GetResolvedConfig(context.Background(), "ns-1", "ep-1")

	assert.False(t, cfg.DeferLoadingEnabled)
	assert.Equal(t, mux.SearchMethodNone, cfg.SearchMethod)
	assert.Equal(t, mux.VisibilityAll, cfg.ToolVisibility)
	assert.Equal(t, mux.DefaultMaxResults, cfg.MaxResults)

	// Recovery path: once the store heals, the next call resolves for real.
	store.namespaceErr = nil
	cfg = r.GetResolvedConfig(context.Background(), "ns-1", "ep-1")
	assert.True(t, cfg.DeferLoadingEnabled)
	assert.Equal(t, mux.SearchMethodBM25, cfg.SearchMethod)
	assert.Equal(t, int64(2), store.namespaceCalls.Load())
}

func TestCachedResolverMissingEndpointUsesNamespaceDefaults(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		namespace:   testNamespace(),
		endpointErr: mux.ErrNotFound,
	}
	r := New(store)

	cfg := r.GetResolvedConfig(context.Background(), "ns-1", "ep-gone")

	assert.True(t, cfg.DeferLoadingEnabled)
	assert.Equal(t, mux.SearchMethodBM25, cfg.SearchMethod)
}

func TestCachedResolverInvalidate(t *testing.T) {
	t.Parallel()

	store := &fakeStore{namespace: testNamespace()}
	r := New(store)

	r.GetResolvedConfig(context.Background(), "ns-1", "ep-1")
	r.GetResolvedConfig(context.Background(), "ns-1", "ep-2")
	require.Equal(t, int64(2), store.namespaceCalls.Load())

	r.Invalidate("ep-1")

	r.GetResolvedConfig(context.Background(), "ns-1", "ep-2")
	assert.Equal(t, int64(2), store.namespaceCalls.Load(), "ep-2 should still be cached")

	r.GetResolvedConfig(context.Background(), "ns-1", "ep-1")
	assert.Equal(t, int64(3), store.namespaceCalls.Load(), "ep-1 should be re-resolved")
}

func TestCachedResolverClear(t *testing.T) {
	t.Parallel()

	store := &fakeStore{namespace: testNamespace()}
	r := New(store)

	r.GetResolvedConfig(context.Background(), "ns-1", "ep-1")
	r.Clear()
	r.GetResolvedConfig(context.Background(), "ns-1", "ep-1")

	assert.Equal(t, int64(2), store.namespaceCalls.Load())
}

func TestCachedResolverConcurrentAccess(t *testing.T) {
	t.Parallel()

	store := &fakeStore{namespace: testNamespace()}
	r := New(store)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cfg := r.GetResolvedConfig(context.Background(), "ns-1", "ep-1")
			assert.Equal(t, mux.SearchMethodBM25, cfg.SearchMethod)
		}()
	}
	wg.Wait()
}
