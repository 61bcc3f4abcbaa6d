package search

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mcpmux/mcpmux/pkg/mux"
)

// Factory builds a fresh, uninitialized provider.
type Factory func() Provider

// Registry maps search methods to provider factories.
//
// NONE is always reported as supported but carries no factory: it is a
// non-provider sentinel that the Service handles inline, and creating a
// provider for it is an error. EMBEDDINGS stays unsupported until a factory
// is registered for it.
type Registry struct {
	mu        sync.RWMutex
	factories map[mux.SearchMethod]Factory
}

// NewRegistry returns a registry with the built-in REGEX and BM25 providers
// registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[mux.SearchMethod]Factory)}
	r.Register(mux.SearchMethodRegex, NewRegexProvider)
	r.Register(mux.SearchMethodBM25, NewBM25Provider)
	return r
}

// Register installs a factory for the given method, replacing any previous
// registration.
func (r *Registry) Register(method mux.SearchMethod, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[method] = factory
}

// IsSupported reports whether the method can be used in a resolved config.
func (r *Registry) IsSupported(method mux.SearchMethod) bool {
	if method == mux.SearchMethodNone {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[method]
	return ok
}

// Create builds and initializes a provider for the method.
func (r *Registry) Create(method mux.SearchMethod, config map[string]any) (Provider, error) {
	if method == mux.SearchMethodNone {
		return nil, fmt.Errorf("%w: NONE is not a provider", mux.ErrUnsupportedMethod)
	}

	r.mu.RLock()
	factory, ok := r.factories[method]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", mux.ErrUnsupportedMethod, method)
	}

	p := factory()
	if err := p.Initialize(config); err != nil {
		return nil, fmt.Errorf("initialize %s provider: %w", method, err)
	}
	return p, nil
}

// List returns the supported methods, NONE included, in sorted order.
func (r *Registry) List() []mux.SearchMethod {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]mux.SearchMethod, 0, len(r.factories)+1)
	methods = append(methods, mux.SearchMethodNone)
	for m := range r.factories {
		methods = append(methods, m)
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })
	return methods
}
