package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/mcpmux/mcpmux/pkg/mux"
)

// MemoryStore is an in-memory Store. It is safe for concurrent use and is
// the default backing for tests and single-process deployments without a
// database file.
type MemoryStore struct {
	mu            sync.RWMutex
	namespaces    map[string]mux.Namespace
	endpoints     map[string]mux.Endpoint
	mappings      map[string]mux.ToolMapping // keyed by mapping UUID
	searchConfigs map[string]mux.ToolSearchConfig
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		namespaces:    make(map[string]mux.Namespace),
		endpoints:     make(map[string]mux.Endpoint),
		mappings:      make(map[string]mux.ToolMapping),
		searchConfigs: make(map[string]mux.ToolSearchConfig),
	}
}

// Close implements Store. The memory store holds no resources.
func (*MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) FindNamespace(_ context.Context, namespaceUUID string) (*mux.Namespace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.namespaces[namespaceUUID]
	if !ok {
		return nil, fmt.Errorf("namespace %s: %w", namespaceUUID, mux.ErrNotFound)
	}
	return &ns, nil
}

func (s *MemoryStore) FindEndpoint(_ context.Context, endpointUUID string) (*mux.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.endpoints[endpointUUID]
	if !ok {
		return nil, fmt.Errorf("endpoint %s: %w", endpointUUID, mux.ErrNotFound)
	}
	return &ep, nil
}

func (s *MemoryStore) FindToolDeferLoadingOverrides(_ context.Context, namespaceUUID string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	overrides := make(map[string]bool)
	for _, m := range s.mappings {
		if m.NamespaceUUID != namespaceUUID {
			continue
		}
		switch m.DeferLoading {
		case mux.DeferLoadingEnabled:
			overrides[m.PublicName()] = true
		case mux.DeferLoadingDisabled:
			overrides[m.PublicName()] = false
		}
	}
	return overrides, nil
}

func (s *MemoryStore) FindToolSearchConfig(_ context.Context, namespaceUUID string) (*mux.ToolSearchConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.searchConfigs[namespaceUUID]
	if !ok {
		return nil, fmt.Errorf("tool search config for namespace %s: %w", namespaceUUID, mux.ErrNotFound)
	}
	return &cfg, nil
}

func (s *MemoryStore) FindToolMapping(_ context.Context, namespaceUUID, serverUUID, toolUUID string) (*mux.ToolMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.mappings {
		if m.NamespaceUUID == namespaceUUID && m.ServerUUID == serverUUID && m.ToolUUID == toolUUID {
			return &m, nil
		}
	}
	return nil, fmt.Errorf("tool mapping (%s, %s, %s): %w", namespaceUUID, serverUUID, toolUUID, mux.ErrNotFound)
}

func (s *MemoryStore) ListToolMappings(_ context.Context, namespaceUUID string) ([]mux.ToolMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var mappings []mux.ToolMapping
	for _, m := range s.mappings {
		if m.NamespaceUUID == namespaceUUID {
			mappings = append(mappings, m)
		}
	}
	sort.Slice(mappings, func(i, j int) bool {
		return mappings[i].PublicName() < mappings[j].PublicName()
	})
	return mappings, nil
}

func (s *MemoryStore) EndpointsByNamespace(_ context.Context, namespaceUUID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endpointsOfLocked(namespaceUUID), nil
}

// endpointsOfLocked collects the endpoint UUIDs of one namespace. Callers
// hold at least the read lock.
func (s *MemoryStore) endpointsOfLocked(namespaceUUID string) []string {
	var uuids []string
	for _, ep := range s.endpoints {
		if ep.NamespaceUUID == namespaceUUID {
			uuids = append(uuids, ep.UUID)
		}
	}
	sort.Strings(uuids)
	return uuids
}

func (s *MemoryStore) CreateNamespace(_ context.Context, ns *mux.Namespace) error {
	if ns.UUID == "" {
		ns.UUID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.namespaces[ns.UUID]; exists {
		return fmt.Errorf("%w: namespace %s already exists", mux.ErrStore, ns.UUID)
	}
	s.namespaces[ns.UUID] = *ns
	return nil
}

func (s *MemoryStore) UpdateNamespace(_ context.Context, ns *mux.Namespace) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[ns.UUID]; !ok {
		return nil, fmt.Errorf("namespace %s: %w", ns.UUID, mux.ErrNotFound)
	}
	s.namespaces[ns.UUID] = *ns
	return s.endpointsOfLocked(ns.UUID), nil
}

func (s *MemoryStore) DeleteNamespace(_ context.Context, namespaceUUID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[namespaceUUID]; !ok {
		return nil, fmt.Errorf("namespace %s: %w", namespaceUUID, mux.ErrNotFound)
	}

	affected := s.endpointsOfLocked(namespaceUUID)
	delete(s.namespaces, namespaceUUID)
	delete(s.searchConfigs, namespaceUUID)
	for _, epUUID := range affected {
		delete(s.endpoints, epUUID)
	}
	for id, m := range s.mappings {
		if m.NamespaceUUID == namespaceUUID {
			delete(s.mappings, id)
		}
	}
	return affected, nil
}

func (s *MemoryStore) CreateEndpoint(_ context.Context, ep *mux.Endpoint) error {
	if ep.UUID == "" {
		ep.UUID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[ep.NamespaceUUID]; !ok {
		return fmt.Errorf("namespace %s: %w", ep.NamespaceUUID, mux.ErrNotFound)
	}
	if _, exists := s.endpoints[ep.UUID]; exists {
		return fmt.Errorf("%w: endpoint %s already exists", mux.ErrStore, ep.UUID)
	}
	s.endpoints[ep.UUID] = *ep
	return nil
}

func (s *MemoryStore) UpdateEndpoint(_ context.Context, ep *mux.Endpoint) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.endpoints[ep.UUID]
	if !ok {
		return nil, fmt.Errorf("endpoint %s: %w", ep.UUID, mux.ErrNotFound)
	}
	// Endpoints cannot move between namespaces.
	ep.NamespaceUUID = existing.NamespaceUUID
	s.endpoints[ep.UUID] = *ep
	return []string{ep.UUID}, nil
}

func (s *MemoryStore) CreateToolMapping(_ context.Context, m *mux.ToolMapping) error {
	if m.UUID == "" {
		m.UUID = uuid.NewString()
	}
	if m.DeferLoading == "" {
		m.DeferLoading = mux.DeferLoadingInherit
	}
	if m.Status == "" {
		m.Status = mux.MappingActive
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[m.NamespaceUUID]; !ok {
		return fmt.Errorf("namespace %s: %w", m.NamespaceUUID, mux.ErrNotFound)
	}

	sanitized := mux.SanitizeServerName(m.ServerName)
	for _, other := range s.mappings {
		if other.NamespaceUUID != m.NamespaceUUID {
			continue
		}
		if other.ServerUUID == m.ServerUUID && other.ToolUUID == m.ToolUUID {
			return fmt.Errorf("%w: mapping for (%s, %s) already exists in namespace %s",
				mux.ErrStore, m.ServerUUID, m.ToolUUID, m.NamespaceUUID)
		}
		// Distinct servers must not share a sanitized name: their tools
		// would collide in the public name space.
		if other.ServerUUID != m.ServerUUID && mux.SanitizeServerName(other.ServerName) == sanitized {
			return fmt.Errorf("%w: server name %q sanitizes to %q, already used by server %s in namespace %s",
				mux.ErrInvalidInput, m.ServerName, sanitized, other.ServerUUID, m.NamespaceUUID)
		}
	}

	s.mappings[m.UUID] = *m
	return nil
}

func (s *MemoryStore) UpdateToolDeferLoading(
	_ context.Context,
	namespaceUUID, toolUUID, serverUUID string,
	behavior mux.DeferLoadingBehavior,
) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, m := range s.mappings {
		if m.NamespaceUUID == namespaceUUID && m.ToolUUID == toolUUID && m.ServerUUID == serverUUID {
			m.DeferLoading = behavior
			s.mappings[id] = m
			return s.endpointsOfLocked(namespaceUUID), nil
		}
	}
	return nil, fmt.Errorf("tool mapping (%s, %s, %s): %w", namespaceUUID, serverUUID, toolUUID, mux.ErrNotFound)
}

func (s *MemoryStore) UpsertToolSearchConfig(_ context.Context, cfg *mux.ToolSearchConfig) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[cfg.NamespaceUUID]; !ok {
		return nil, fmt.Errorf("namespace %s: %w", cfg.NamespaceUUID, mux.ErrNotFound)
	}
	s.searchConfigs[cfg.NamespaceUUID] = *cfg
	return s.endpointsOfLocked(cfg.NamespaceUUID), nil
}
