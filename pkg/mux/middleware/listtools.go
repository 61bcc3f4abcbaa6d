// Package middleware post-processes advertise-tools responses: it injects
// the built-in virtual tools, applies defer_loading flags, and enforces the
// endpoint's tool visibility mode.
package middleware

import (
	"context"

	"github.com/mcpmux/mcpmux/pkg/logger"
	"github.com/mcpmux/mcpmux/pkg/mux"
	"github.com/mcpmux/mcpmux/pkg/mux/builtin"
)

// Advertiser transforms upstream tool lists for one proxy instance.
type Advertiser struct {
	// includeExecuteTool also advertises execute_tool next to search_tools,
	// for clients that cannot act on tool_reference blocks. execute_tool is
	// dispatchable either way.
	includeExecuteTool bool
}

// Option configures an Advertiser.
type Option func(*Advertiser)

// WithExecuteToolAdvertised makes the middleware advertise execute_tool
// whenever search_tools is advertised.
func WithExecuteToolAdvertised() Option {
	return func(a *Advertiser) {
		a.includeExecuteTool = true
	}
}

// NewAdvertiser creates an Advertiser. By default only search_tools is
// advertised.
func NewAdvertiser(opts ...Option) *Advertiser {
	a := &Advertiser{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply transforms the upstream tool list for one endpoint under its
// resolved configuration.
//
// The transformation never fails the advertise call: on context cancellation
// or any internal panic the upstream list is returned unchanged. Upstream
// tools are never mutated; flagging clones.
func (a *Advertiser) Apply(ctx context.Context, upstream []mux.Tool, cfg mux.ResolvedConfig) (result []mux.Tool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("advertise-tools middleware panic, returning upstream list: %v", r)
			result = upstream
		}
	}()

	if ctx.Err() != nil {
		logger.Debugw("advertise-tools aborted, returning upstream list", "error", ctx.Err())
		return upstream
	}

	tools := a.injectBuiltins(upstream, cfg)
	tools = applyDeferFlags(tools, cfg)
	return applyVisibility(tools, cfg)
}

// injectBuiltins appends search_tools (and optionally execute_tool) when
// deferred loading is on and a search method is configured. Builtins already
// present are not appended again, so re-applying the transform stays a
// no-op.
func (a *Advertiser) injectBuiltins(upstream []mux.Tool, cfg mux.ResolvedConfig) []mux.Tool {
	if !cfg.DeferLoadingEnabled || cfg.SearchMethod == mux.SearchMethodNone {
		return upstream
	}
	present := make(map[string]bool, 2)
	for _, t := range upstream {
		if builtin.IsBuiltin(t.Name) {
			present[t.Name] = true
		}
	}
	tools := make([]mux.Tool, 0, len(upstream)+2)
	tools = append(tools, upstream...)
	if !present[builtin.SearchToolsName] {
		tools = append(tools, builtin.SearchToolsDefinition())
	}
	if a.includeExecuteTool && !present[builtin.ExecuteToolName] {
		tools = append(tools, builtin.ExecuteToolDefinition())
	}
	return tools
}

// applyDeferFlags produces a new list with defer_loading set per tool.
// Built-ins are never flagged; an explicit per-tool override wins over the
// endpoint-level default. Re-application is a no-op.
func applyDeferFlags(tools []mux.Tool, cfg mux.ResolvedConfig) []mux.Tool {
	out := make([]mux.Tool, 0, len(tools))
	for _, t := range tools {
		if builtin.IsBuiltin(t.Name) {
			out = append(out, t)
			continue
		}

		flag := cfg.DeferLoadingEnabled
		if override, ok := cfg.ToolOverrides[t.Name]; ok {
			flag = override
		}
		if flag != t.DeferLoading {
			clone := t.Clone()
			clone.DeferLoading = flag
			t = clone
		}
		out = append(out, t)
	}
	return out
}

// applyVisibility drops everything but the built-ins in SEARCH_ONLY mode.
func applyVisibility(tools []mux.Tool, cfg mux.ResolvedConfig) []mux.Tool {
	if cfg.ToolVisibility != mux.VisibilitySearchOnly {
		return tools
	}
	out := make([]mux.Tool, 0, 2)
	for _, t := range tools {
		if builtin.IsBuiltin(t.Name) {
			out = append(out, t)
		}
	}
	return out
}
