// Package store defines the persistence contract for namespaces, endpoints,
// tool mappings, and tool-search configuration, and provides in-memory and
// SQLite-backed implementations.
//
// Every write that can change an endpoint's resolved configuration returns
// the UUIDs of the affected endpoints so the caller can invalidate the
// resolver cache.
package store

import (
	"context"

	"github.com/mcpmux/mcpmux/pkg/mux"
)

// Reader is the read surface consumed by the resolver and the config API.
// Missing records are reported as errors wrapping mux.ErrNotFound.
type Reader interface {
	// FindNamespace loads one namespace by UUID.
	FindNamespace(ctx context.Context, namespaceUUID string) (*mux.Namespace, error)

	// FindEndpoint loads one endpoint by UUID.
	FindEndpoint(ctx context.Context, endpointUUID string) (*mux.Endpoint, error)

	// FindToolDeferLoadingOverrides returns the namespace's explicit per-tool
	// defer-loading decisions keyed by public tool name. Mappings whose
	// behavior is INHERIT are absent.
	FindToolDeferLoadingOverrides(ctx context.Context, namespaceUUID string) (map[string]bool, error)

	// FindToolSearchConfig loads the namespace's search tuning record.
	FindToolSearchConfig(ctx context.Context, namespaceUUID string) (*mux.ToolSearchConfig, error)

	// FindToolMapping loads one mapping by its (namespace, server, tool) key.
	FindToolMapping(ctx context.Context, namespaceUUID, serverUUID, toolUUID string) (*mux.ToolMapping, error)

	// ListToolMappings returns every mapping in the namespace.
	ListToolMappings(ctx context.Context, namespaceUUID string) ([]mux.ToolMapping, error)

	// EndpointsByNamespace returns the UUIDs of every endpoint bound to the
	// namespace. Used to drive resolver-cache invalidation after writes.
	EndpointsByNamespace(ctx context.Context, namespaceUUID string) ([]string, error)
}

// Writer is the mutation surface. Updates return the endpoint UUIDs whose
// resolved configuration may have changed.
type Writer interface {
	// CreateNamespace persists a new namespace. A missing UUID is generated.
	CreateNamespace(ctx context.Context, ns *mux.Namespace) error

	// UpdateNamespace replaces a namespace's defaults.
	UpdateNamespace(ctx context.Context, ns *mux.Namespace) (affected []string, err error)

	// DeleteNamespace removes a namespace and cascades to its endpoints,
	// tool mappings, and tool-search config.
	DeleteNamespace(ctx context.Context, namespaceUUID string) (affected []string, err error)

	// CreateEndpoint persists a new endpoint. A missing UUID is generated.
	CreateEndpoint(ctx context.Context, ep *mux.Endpoint) error

	// UpdateEndpoint replaces an endpoint's overrides.
	UpdateEndpoint(ctx context.Context, ep *mux.Endpoint) (affected []string, err error)

	// CreateToolMapping persists a new tool mapping. A missing UUID is
	// generated. Two servers whose names sanitize identically would collide
	// in the public name space, so a mapping whose sanitized server name is
	// already taken by a different server in the namespace is rejected with
	// mux.ErrInvalidInput.
	CreateToolMapping(ctx context.Context, m *mux.ToolMapping) error

	// UpdateToolDeferLoading sets the per-tool defer-loading behavior of one
	// mapping identified by (namespace, server, tool).
	UpdateToolDeferLoading(
		ctx context.Context,
		namespaceUUID, toolUUID, serverUUID string,
		behavior mux.DeferLoadingBehavior,
	) (affected []string, err error)

	// UpsertToolSearchConfig creates or replaces the namespace's search
	// tuning record.
	UpsertToolSearchConfig(ctx context.Context, cfg *mux.ToolSearchConfig) (affected []string, err error)
}

// Store combines the read and write surfaces.
type Store interface {
	Reader
	Writer

	// Close releases the store's resources.
	Close() error
}
