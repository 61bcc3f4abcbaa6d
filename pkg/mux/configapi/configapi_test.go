package configapi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpmux/mcpmux/pkg/mux"
	"github.com/mcpmux/mcpmux/pkg/mux/store"
)

// recordingInvalidator captures invalidation signals.
type recordingInvalidator struct {
	invalidated [][]string
}

func (r *recordingInvalidator) InvalidateAll(endpointUUIDs []string) {
	r.invalidated = append(r.invalidated, endpointUUIDs)
}

type fixture struct {
	service     *Service
	store       *store.MemoryStore
	invalidator *recordingInvalidator
	namespace   *mux.Namespace
	endpoint    *mux.Endpoint
}

func newFixture(t *testing.T, ownerID string) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()

	ns := &mux.Namespace{
		Name:                  "default",
		OwnerID:               ownerID,
		DefaultDeferLoading:   true,
		DefaultSearchMethod:   mux.SearchMethodBM25,
		DefaultToolVisibility: mux.VisibilityAll,
	}
	require.NoError(t, st.CreateNamespace(ctx, ns))

	ep := &mux.Endpoint{Name: "primary", NamespaceUUID: ns.UUID}
	require.NoError(t, st.CreateEndpoint(ctx, ep))

	require.NoError(t, st.CreateToolMapping(ctx, &mux.ToolMapping{
		NamespaceUUID: ns.UUID, ServerUUID: "srv-fs", ServerName: "filesystem",
		ToolUUID: "tool-1", ToolName: "read_file",
	}))

	inv := &recordingInvalidator{}
	return &fixture{
		service:     NewService(st, WithInvalidator(inv)),
		store:       st,
		invalidator: inv,
		namespace:   ns,
		endpoint:    ep,
	}
}

func TestGetMissingConfig(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	result := f.service.Get(context.Background(), f.namespace.UUID)

	assert.True(t, result.Success)
	assert.Nil(t, result.Data)
	assert.Empty(t, result.Message)
}

func TestUpsertAndGetRoundTrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	req := UpsertRequest{
		NamespaceUUID:  f.namespace.UUID,
		MaxResults:     10,
		ProviderConfig: map[string]any{"k1": 1.5},
	}

	result, err := f.service.Upsert(context.Background(), req)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, 10, result.Data.MaxResults)

	// Idempotence: repeating the upsert leaves the stored config unchanged.
	result, err = f.service.Upsert(context.Background(), req)
	require.NoError(t, err)
	require.True(t, result.Success)

	got := f.service.Get(context.Background(), f.namespace.UUID)
	require.True(t, got.Success)
	require.NotNil(t, got.Data)
	assert.Equal(t, 10, got.Data.MaxResults)
	assert.Equal(t, map[string]any{"k1": 1.5}, got.Data.ProviderConfig)
}

func TestUpsertValidatesMaxResults(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	for _, n := range []int{0, 21, -5} {
		result, err := f.service.Upsert(context.Background(), UpsertRequest{
			NamespaceUUID: f.namespace.UUID,
			MaxResults:    n,
		})
		require.NoError(t, err)
		assert.False(t, result.Success, "maxResults=%d must be rejected", n)
		assert.Contains(t, result.Message, "maxResults")
	}

	for _, n := range []int{1, 20} {
		result, err := f.service.Upsert(context.Background(), UpsertRequest{
			NamespaceUUID: f.namespace.UUID,
			MaxResults:    n,
		})
		require.NoError(t, err)
		assert.True(t, result.Success, "maxResults=%d must be accepted", n)
	}
}

func TestUpsertValidatesProviderConfig(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")

	tests := []struct {
		name   string
		config map[string]any
		valid  bool
	}{
		{"k1 in range", map[string]any{"k1": 3.0}, true},
		{"k1 too large", map[string]any{"k1": 3.1}, false},
		{"k1 negative", map[string]any{"k1": -0.1}, false},
		{"b in range", map[string]any{"b": 0.0}, true},
		{"b too large", map[string]any{"b": 1.5}, false},
		{"threshold in range", map[string]any{"similarity_threshold": 0.8}, true},
		{"threshold out of range", map[string]any{"similarity_threshold": 1.2}, false},
		{"non-numeric k1", map[string]any{"k1": "big"}, false},
		{"fields ok", map[string]any{"fields": []any{"name"}}, true},
		{"fields wrong type", map[string]any{"fields": "name"}, false},
		{"unknown keys pass", map[string]any{"custom_knob": 42}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.service.Upsert(context.Background(), UpsertRequest{
				NamespaceUUID:  f.namespace.UUID,
				MaxResults:     5,
				ProviderConfig: tt.config,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.valid, result.Success, "message: %s", result.Message)
		})
	}
}

func TestUpsertUnknownNamespace(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	result, err := f.service.Upsert(context.Background(), UpsertRequest{
		NamespaceUUID: "missing",
		MaxResults:    5,
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "Namespace not found", result.Message)
}

func TestUpsertInvalidatesEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	_, err := f.service.Upsert(context.Background(), UpsertRequest{
		NamespaceUUID: f.namespace.UUID,
		MaxResults:    5,
	})
	require.NoError(t, err)

	require.Len(t, f.invalidator.invalidated, 1)
	assert.Equal(t, []string{f.endpoint.UUID}, f.invalidator.invalidated[0])
}

func TestUpdateToolDeferLoading(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	result := f.service.UpdateToolDeferLoading(context.Background(), UpdateDeferLoadingRequest{
		NamespaceUUID: f.namespace.UUID,
		ToolUUID:      "tool-1",
		ServerUUID:    "srv-fs",
		DeferLoading:  mux.DeferLoadingDisabled,
	})

	require.True(t, result.Success, result.Message)
	require.Len(t, f.invalidator.invalidated, 1)

	m, err := f.store.FindToolMapping(context.Background(), f.namespace.UUID, "srv-fs", "tool-1")
	require.NoError(t, err)
	assert.Equal(t, mux.DeferLoadingDisabled, m.DeferLoading)
}

func TestUpdateToolDeferLoadingFailureMessages(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")

	result := f.service.UpdateToolDeferLoading(context.Background(), UpdateDeferLoadingRequest{
		NamespaceUUID: "missing",
		ToolUUID:      "tool-1",
		ServerUUID:    "srv-fs",
		DeferLoading:  mux.DeferLoadingEnabled,
	})
	assert.False(t, result.Success)
	assert.Equal(t, "Namespace not found", result.Message)

	result = f.service.UpdateToolDeferLoading(context.Background(), UpdateDeferLoadingRequest{
		NamespaceUUID: f.namespace.UUID,
		ToolUUID:      "missing",
		ServerUUID:    "srv-fs",
		DeferLoading:  mux.DeferLoadingEnabled,
	})
	assert.False(t, result.Success)
	assert.Equal(t, "Tool not found in namespace", result.Message)

	result = f.service.UpdateToolDeferLoading(context.Background(), UpdateDeferLoadingRequest{
		NamespaceUUID: f.namespace.UUID,
		ToolUUID:      "tool-1",
		ServerUUID:    "srv-fs",
		DeferLoading:  "SOMETIMES",
	})
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "SOMETIMES")
}

func TestOwnershipAuthorization(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "alice")

	result := f.service.UpdateToolDeferLoading(context.Background(), UpdateDeferLoadingRequest{
		NamespaceUUID: f.namespace.UUID,
		ToolUUID:      "tool-1",
		ServerUUID:    "srv-fs",
		DeferLoading:  mux.DeferLoadingEnabled,
		CallerID:      "mallory",
	})
	assert.False(t, result.Success)
	assert.Equal(t, "Access denied", result.Message)

	result = f.service.UpdateToolDeferLoading(context.Background(), UpdateDeferLoadingRequest{
		NamespaceUUID: f.namespace.UUID,
		ToolUUID:      "tool-1",
		ServerUUID:    "srv-fs",
		DeferLoading:  mux.DeferLoadingEnabled,
		CallerID:      "alice",
	})
	assert.True(t, result.Success)

	upsert, err := f.service.Upsert(context.Background(), UpsertRequest{
		NamespaceUUID: f.namespace.UUID,
		MaxResults:    5,
		CallerID:      "mallory",
	})
	require.NoError(t, err)
	assert.False(t, upsert.Success)
	assert.Equal(t, "Access denied", upsert.Message)
}

func TestPublicNamespaceAcceptsAnyCaller(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	result := f.service.UpdateToolDeferLoading(context.Background(), UpdateDeferLoadingRequest{
		NamespaceUUID: f.namespace.UUID,
		ToolUUID:      "tool-1",
		ServerUUID:    "srv-fs",
		DeferLoading:  mux.DeferLoadingEnabled,
		CallerID:      "anyone",
	})
	assert.True(t, result.Success)
}
