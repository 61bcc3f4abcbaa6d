package search

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpmux/mcpmux/pkg/mux"
)

// countingProvider tracks lifecycle calls for cache tests.
type countingProvider struct {
	disposed *atomic.Int64
}

func (*countingProvider) Name() mux.SearchMethod { return mux.SearchMethodEmbeddings }

func (*countingProvider) Initialize(map[string]any) error { return nil }

func (*countingProvider) Search(context.Context, Query, []AvailableTool) ([]Result, error) {
	return []Result{}, nil
}

func (p *countingProvider) Dispose() error {
	p.disposed.Add(1)
	return nil
}

// countingRegistry returns a registry whose EMBEDDINGS factory counts
// creations and disposals.
func countingRegistry(created, disposed *atomic.Int64) *Registry {
	r := NewRegistry()
	r.Register(mux.SearchMethodEmbeddings, func() Provider {
		created.Add(1)
		return &countingProvider{disposed: disposed}
	})
	return r
}

func serviceConfig(method mux.SearchMethod) mux.ResolvedConfig {
	return mux.ResolvedConfig{
		SearchMethod:   method,
		ToolVisibility: mux.VisibilityAll,
		MaxResults:     mux.DefaultMaxResults,
	}
}

func TestServiceSearchMethodNone(t *testing.T) {
	t.Parallel()

	s := NewService(NewRegistry())
	cfg := serviceConfig(mux.SearchMethodNone)
	cfg.MaxResults = 2

	results, err := s.Search(context.Background(), Query{Query: "file"}, toolPool(), cfg)
	require.NoError(t, err)

	require.Len(t, results, 2)
	for _, r := range results {
		assert.InDelta(t, 0.5, r.Score, 1e-9)
		assert.Equal(t, "Search disabled (method: NONE)", r.MatchReason)
	}
}

func TestServiceSearchDelegatesToProvider(t *testing.T) {
	t.Parallel()

	s := NewService(NewRegistry())
	results, err := s.Search(context.Background(), Query{Query: "file"},
		toolPool(), serviceConfig(mux.SearchMethodRegex))
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestServiceFillsMaxResultsFromConfig(t *testing.T) {
	t.Parallel()

	s := NewService(NewRegistry())
	cfg := serviceConfig(mux.SearchMethodRegex)
	cfg.MaxResults = 1

	results, err := s.Search(context.Background(), Query{Query: "file"}, toolPool(), cfg)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestServiceUnsupportedMethod(t *testing.T) {
	t.Parallel()

	s := NewService(NewRegistry())
	_, err := s.Search(context.Background(), Query{Query: "file"},
		toolPool(), serviceConfig(mux.SearchMethodEmbeddings))
	require.Error(t, err)
	assert.ErrorIs(t, err, mux.ErrUnsupportedMethod)
}

func TestServiceCachesProviderPerConfig(t *testing.T) {
	t.Parallel()

	var created, disposed atomic.Int64
	s := NewService(countingRegistry(&created, &disposed))
	cfg := serviceConfig(mux.SearchMethodEmbeddings)
	cfg.ProviderConfig = map[string]any{"model": "small"}

	for i := 0; i < 3; i++ {
		_, err := s.Search(context.Background(), Query{Query: "x"}, nil, cfg)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), created.Load())

	// A different config creates a second provider.
	cfg.ProviderConfig = map[string]any{"model": "large"}
	_, err := s.Search(context.Background(), Query{Query: "x"}, nil, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(2), created.Load())
}

func TestServiceLRUEvictionDisposes(t *testing.T) {
	t.Parallel()

	var created, disposed atomic.Int64
	s := NewService(countingRegistry(&created, &disposed), WithProviderCacheSize(2))
	cfg := serviceConfig(mux.SearchMethodEmbeddings)

	for _, model := range []string{"a", "b", "c"} {
		cfg.ProviderConfig = map[string]any{"model": model}
		_, err := s.Search(context.Background(), Query{Query: "x"}, nil, cfg)
		require.NoError(t, err)
	}

	assert.Equal(t, int64(3), created.Load())
	assert.Equal(t, int64(1), disposed.Load(), "oldest provider should be evicted and disposed")

	// "a" was evicted; using it again recreates it.
	cfg.ProviderConfig = map[string]any{"model": "a"}
	_, err := s.Search(context.Background(), Query{Query: "x"}, nil, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(4), created.Load())
}

func TestServiceClearDisposesAll(t *testing.T) {
	t.Parallel()

	var created, disposed atomic.Int64
	s := NewService(countingRegistry(&created, &disposed))
	cfg := serviceConfig(mux.SearchMethodEmbeddings)

	for _, model := range []string{"a", "b"} {
		cfg.ProviderConfig = map[string]any{"model": model}
		_, err := s.Search(context.Background(), Query{Query: "x"}, nil, cfg)
		require.NoError(t, err)
	}

	s.Clear()
	assert.Equal(t, int64(2), disposed.Load())
}

func TestServiceClearMethod(t *testing.T) {
	t.Parallel()

	var created, disposed atomic.Int64
	s := NewService(countingRegistry(&created, &disposed))

	_, err := s.Search(context.Background(), Query{Query: "x"}, nil,
		serviceConfig(mux.SearchMethodEmbeddings))
	require.NoError(t, err)
	_, err = s.Search(context.Background(), Query{Query: "file"}, toolPool(),
		serviceConfig(mux.SearchMethodRegex))
	require.NoError(t, err)

	s.ClearMethod(mux.SearchMethodEmbeddings)
	assert.Equal(t, int64(1), disposed.Load())

	// The REGEX provider is still cached and usable.
	_, err = s.Search(context.Background(), Query{Query: "file"}, toolPool(),
		serviceConfig(mux.SearchMethodRegex))
	require.NoError(t, err)
}

func TestProviderCacheKeyCanonical(t *testing.T) {
	t.Parallel()

	a, err := providerCacheKey(mux.SearchMethodBM25, map[string]any{"k1": 1.2, "b": 0.5})
	require.NoError(t, err)
	b, err := providerCacheKey(mux.SearchMethodBM25, map[string]any{"b": 0.5, "k1": 1.2})
	require.NoError(t, err)
	assert.Equal(t, a, b, "key order in the config must not matter")

	c, err := providerCacheKey(mux.SearchMethodBM25, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestRegistrySupportedMethods(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	assert.True(t, r.IsSupported(mux.SearchMethodNone))
	assert.True(t, r.IsSupported(mux.SearchMethodRegex))
	assert.True(t, r.IsSupported(mux.SearchMethodBM25))
	assert.False(t, r.IsSupported(mux.SearchMethodEmbeddings))

	assert.Equal(t, []mux.SearchMethod{
		mux.SearchMethodBM25,
		mux.SearchMethodNone,
		mux.SearchMethodRegex,
	}, r.List())
}

func TestRegistryCreateNoneFails(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry().Create(mux.SearchMethodNone, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, mux.ErrUnsupportedMethod)
}
