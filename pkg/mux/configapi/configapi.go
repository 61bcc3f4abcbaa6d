// Package configapi exposes the tool-search configuration surface: reading
// and upserting a namespace's ToolSearchConfig and flipping per-tool
// defer-loading behavior. Every successful write invalidates the resolver
// cache for the affected endpoints.
package configapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcpmux/mcpmux/pkg/logger"
	"github.com/mcpmux/mcpmux/pkg/mux"
	"github.com/mcpmux/mcpmux/pkg/mux/store"
)

// Messages returned in Result.Message for expected failures.
const (
	msgNamespaceNotFound = "Namespace not found"
	msgToolNotFound      = "Tool not found in namespace"
	msgAccessDenied      = "Access denied"
)

// Invalidator receives the endpoint UUIDs whose resolved configuration a
// write may have changed. *resolver.CachedResolver satisfies it.
type Invalidator interface {
	InvalidateAll(endpointUUIDs []string)
}

// Authorizer decides whether a caller may manage a namespace. It is
// consulted before the store is written.
type Authorizer interface {
	CanManage(ctx context.Context, callerID string, ns *mux.Namespace) bool
}

// OwnershipAuthorizer is the default policy: namespaces without an owner are
// public and writable by anyone; owned namespaces only accept their owner.
type OwnershipAuthorizer struct{}

// CanManage implements Authorizer.
func (OwnershipAuthorizer) CanManage(_ context.Context, callerID string, ns *mux.Namespace) bool {
	return ns.OwnerID == "" || ns.OwnerID == callerID
}

// GetResult is the response shape of Get and Upsert.
type GetResult struct {
	Success bool                  `json:"success"`
	Data    *mux.ToolSearchConfig `json:"data,omitempty"`
	Message string                `json:"message,omitempty"`
}

// UpdateResult is the response shape of UpdateToolDeferLoading.
type UpdateResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// UpsertRequest carries one tool-search config write.
type UpsertRequest struct {
	NamespaceUUID  string         `json:"namespaceUuid"`
	MaxResults     int            `json:"maxResults"`
	ProviderConfig map[string]any `json:"providerConfig"`
	CallerID       string         `json:"-"`
}

// UpdateDeferLoadingRequest carries one per-tool defer-loading write.
type UpdateDeferLoadingRequest struct {
	NamespaceUUID string                   `json:"namespaceUuid"`
	ToolUUID      string                   `json:"toolUuid"`
	ServerUUID    string                   `json:"serverUuid"`
	DeferLoading  mux.DeferLoadingBehavior `json:"deferLoading"`
	CallerID      string                   `json:"-"`
}

// Service implements the config surface on top of a store.
type Service struct {
	store       store.Store
	authorizer  Authorizer
	invalidator Invalidator
}

// Option configures a Service.
type Option func(*Service)

// WithAuthorizer replaces the default ownership policy.
func WithAuthorizer(a Authorizer) Option {
	return func(s *Service) {
		s.authorizer = a
	}
}

// WithInvalidator wires resolver-cache invalidation into writes.
func WithInvalidator(inv Invalidator) Option {
	return func(s *Service) {
		s.invalidator = inv
	}
}

// NewService creates a config service backed by the given store.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:      st,
		authorizer: OwnershipAuthorizer{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the namespace's tool-search config. A namespace without a
// stored config yields success with no data; store failures yield a failed
// result, never an error.
func (s *Service) Get(ctx context.Context, namespaceUUID string) GetResult {
	cfg, err := s.store.FindToolSearchConfig(ctx, namespaceUUID)
	switch {
	case errors.Is(err, mux.ErrNotFound):
		return GetResult{Success: true}
	case err != nil:
		logger.Errorw("failed to load tool search config", "namespace", namespaceUUID, "error", err)
		return GetResult{Success: false, Message: err.Error()}
	default:
		return GetResult{Success: true, Data: cfg}
	}
}

// Upsert validates and stores the namespace's tool-search config. Expected
// validation and authorization failures come back as failed results; store
// errors (FK violations, connectivity) are re-raised to the caller.
func (s *Service) Upsert(ctx context.Context, req UpsertRequest) (GetResult, error) {
	if err := ValidateMaxResults(req.MaxResults); err != nil {
		return GetResult{Success: false, Message: err.Error()}, nil
	}
	if err := ValidateProviderConfig(req.ProviderConfig); err != nil {
		return GetResult{Success: false, Message: err.Error()}, nil
	}

	ns, err := s.store.FindNamespace(ctx, req.NamespaceUUID)
	if errors.Is(err, mux.ErrNotFound) {
		return GetResult{Success: false, Message: msgNamespaceNotFound}, nil
	}
	if err != nil {
		return GetResult{}, err
	}
	if !s.authorizer.CanManage(ctx, req.CallerID, ns) {
		return GetResult{Success: false, Message: msgAccessDenied}, nil
	}

	cfg := &mux.ToolSearchConfig{
		NamespaceUUID:  req.NamespaceUUID,
		MaxResults:     req.MaxResults,
		ProviderConfig: req.ProviderConfig,
	}
	affected, err := s.store.UpsertToolSearchConfig(ctx, cfg)
	if err != nil {
		return GetResult{}, err
	}
	s.invalidate(affected)
	return GetResult{Success: true, Data: cfg}, nil
}

// UpdateToolDeferLoading sets one tool mapping's defer-loading behavior.
// All failure modes are reported through the result.
func (s *Service) UpdateToolDeferLoading(ctx context.Context, req UpdateDeferLoadingRequest) UpdateResult {
	if !req.DeferLoading.Valid() {
		return UpdateResult{Success: false, Message: fmt.Sprintf("invalid defer_loading value %q", req.DeferLoading)}
	}

	ns, err := s.store.FindNamespace(ctx, req.NamespaceUUID)
	if errors.Is(err, mux.ErrNotFound) {
		return UpdateResult{Success: false, Message: msgNamespaceNotFound}
	}
	if err != nil {
		logger.Errorw("failed to load namespace", "namespace", req.NamespaceUUID, "error", err)
		return UpdateResult{Success: false, Message: err.Error()}
	}
	if !s.authorizer.CanManage(ctx, req.CallerID, ns) {
		return UpdateResult{Success: false, Message: msgAccessDenied}
	}

	affected, err := s.store.UpdateToolDeferLoading(ctx, req.NamespaceUUID, req.ToolUUID, req.ServerUUID, req.DeferLoading)
	if errors.Is(err, mux.ErrNotFound) {
		return UpdateResult{Success: false, Message: msgToolNotFound}
	}
	if err != nil {
		logger.Errorw("failed to update defer loading",
			"namespace", req.NamespaceUUID, "tool", req.ToolUUID, "error", err)
		return UpdateResult{Success: false, Message: err.Error()}
	}

	s.invalidate(affected)
	return UpdateResult{Success: true}
}

func (s *Service) invalidate(endpointUUIDs []string) {
	if s.invalidator != nil && len(endpointUUIDs) > 0 {
		s.invalidator.InvalidateAll(endpointUUIDs)
	}
}
