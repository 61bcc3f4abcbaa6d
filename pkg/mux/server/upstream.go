package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/mcpmux/mcpmux/pkg/mux"
	"github.com/mcpmux/mcpmux/pkg/mux/search"
	"github.com/mcpmux/mcpmux/pkg/mux/store"
)

// ToolSource supplies the advertised tool definitions of one upstream MCP
// server, keyed by the tool's raw (unprefixed) name.
type ToolSource interface {
	Definitions(ctx context.Context, serverUUID string) (map[string]mux.Tool, error)
}

// Dispatcher forwards one validated tool call to an upstream server.
type Dispatcher interface {
	Dispatch(ctx context.Context, serverUUID, toolName string, arguments map[string]any) (*mux.ToolCallResult, error)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, serverUUID, toolName string, arguments map[string]any) (*mux.ToolCallResult, error)

// Dispatch implements Dispatcher.
func (f DispatcherFunc) Dispatch(ctx context.Context, serverUUID, toolName string, arguments map[string]any) (*mux.ToolCallResult, error) {
	return f(ctx, serverUUID, toolName, arguments)
}

// Upstream is the aggregated view of a namespace's tools that the request
// path consumes.
type Upstream interface {
	// AvailableTools returns the namespace's active tools under their public
	// names.
	AvailableTools(ctx context.Context, namespaceUUID string) ([]search.AvailableTool, error)

	// CallTool dispatches a call addressed by public tool name.
	CallTool(ctx context.Context, namespaceUUID, publicName string, arguments map[string]any) (*mux.ToolCallResult, error)
}

// Aggregator builds the public tool pool from the store's active mappings
// joined with the upstream-advertised definitions.
type Aggregator struct {
	store      store.Reader
	source     ToolSource
	dispatcher Dispatcher
}

var _ Upstream = (*Aggregator)(nil)

// NewAggregator creates an aggregator over the given store, definitions
// source, and dispatcher.
func NewAggregator(st store.Reader, source ToolSource, dispatcher Dispatcher) *Aggregator {
	return &Aggregator{store: st, source: source, dispatcher: dispatcher}
}

// AvailableTools lists the namespace's active mappings with their public
// names. Inactive mappings are excluded. A mapping whose upstream definition
// is unknown still appears, with name only, so it stays discoverable and
// dispatchable.
func (a *Aggregator) AvailableTools(ctx context.Context, namespaceUUID string) ([]search.AvailableTool, error) {
	mappings, err := a.store.ListToolMappings(ctx, namespaceUUID)
	if err != nil {
		return nil, err
	}

	// Definitions are fetched once per server, not once per tool.
	definitions := make(map[string]map[string]mux.Tool)

	pool := make([]search.AvailableTool, 0, len(mappings))
	for _, m := range mappings {
		if m.Status != mux.MappingActive {
			continue
		}

		defs, ok := definitions[m.ServerUUID]
		if !ok {
			defs, err = a.source.Definitions(ctx, m.ServerUUID)
			if err != nil {
				return nil, fmt.Errorf("definitions for server %s: %w", m.ServerUUID, err)
			}
			definitions[m.ServerUUID] = defs
		}

		tool := mux.Tool{Name: m.PublicName()}
		if def, ok := defs[m.ToolName]; ok {
			tool.Description = def.Description
			tool.InputSchema = def.InputSchema
		}
		pool = append(pool, search.AvailableTool{Tool: tool, ServerUUID: m.ServerUUID})
	}
	return pool, nil
}

// CallTool resolves the public name back to its mapping and dispatches.
//
// Matching compares whole public names rather than re-splitting the input:
// a sanitized server name may itself contain the separator (underscores are
// word characters), so splitting on the first occurrence would misroute
// those tools.
func (a *Aggregator) CallTool(ctx context.Context, namespaceUUID, publicName string, arguments map[string]any) (*mux.ToolCallResult, error) {
	if _, _, ok := mux.SplitPublicToolName(publicName); !ok {
		return nil, fmt.Errorf("%w: tool name %q has no server prefix", mux.ErrInvalidInput, publicName)
	}

	mappings, err := a.store.ListToolMappings(ctx, namespaceUUID)
	if err != nil {
		return nil, err
	}
	for _, m := range mappings {
		if m.Status != mux.MappingActive {
			continue
		}
		if m.PublicName() == publicName {
			result, err := a.dispatcher.Dispatch(ctx, m.ServerUUID, m.ToolName, arguments)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", mux.ErrDispatchFailed, err)
			}
			return result, nil
		}
	}
	return nil, fmt.Errorf("tool %s in namespace %s: %w", publicName, namespaceUUID, mux.ErrNotFound)
}

// StaticSource is an in-memory ToolSource. It backs tests and deployments
// where upstream definitions are registered out of band.
type StaticSource struct {
	mu   sync.RWMutex
	defs map[string]map[string]mux.Tool
}

var _ ToolSource = (*StaticSource)(nil)

// NewStaticSource creates an empty source.
func NewStaticSource() *StaticSource {
	return &StaticSource{defs: make(map[string]map[string]mux.Tool)}
}

// Register records the advertised definitions of one server, replacing any
// previous set.
func (s *StaticSource) Register(serverUUID string, tools ...mux.Tool) {
	byName := make(map[string]mux.Tool, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[serverUUID] = byName
}

// Definitions implements ToolSource. Unknown servers yield an empty set.
func (s *StaticSource) Definitions(_ context.Context, serverUUID string) (map[string]mux.Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make(map[string]mux.Tool, len(s.defs[serverUUID]))
	for name, t := range s.defs[serverUUID] {
		defs[name] = t
	}
	return defs, nil
}
