package builtin

import (
	"context"
	"fmt"

	"github.com/mcpmux/mcpmux/pkg/mux"
	"github.com/mcpmux/mcpmux/pkg/mux/search"
)

// noDescription substitutes for tools advertised without a description.
const noDescription = "No description available"

// SearchToolsHandler answers search_tools calls by ranking the endpoint's
// available tools through the search service.
type SearchToolsHandler struct {
	service *search.Service
}

// NewSearchToolsHandler creates a handler backed by the given service.
func NewSearchToolsHandler(service *search.Service) *SearchToolsHandler {
	return &SearchToolsHandler{service: service}
}

// Handle runs one search_tools invocation. Provider failures propagate as
// errors; only argument problems produce isError results.
func (h *SearchToolsHandler) Handle(
	ctx context.Context,
	args map[string]any,
	available []search.AvailableTool,
	cfg mux.ResolvedConfig,
) (*mux.ToolCallResult, error) {
	query, ok := args["query"].(string)
	if !ok {
		return mux.ErrorResult(`Invalid arguments: "query" must be a string`), nil
	}

	maxResults := cfg.MaxResults
	if raw, present := args["max_results"]; present {
		n, ok := raw.(float64)
		if !ok || n < float64(mux.MinConfiguredResults) || n > float64(mux.MaxConfiguredResults) {
			return mux.ErrorResult(fmt.Sprintf(
				`Invalid arguments: "max_results" must be a number between %d and %d`,
				mux.MinConfiguredResults, mux.MaxConfiguredResults)), nil
		}
		maxResults = int(n)
	}

	results, err := h.service.Search(ctx, search.Query{
		Query:      query,
		MaxResults: maxResults,
	}, available, cfg)
	if err != nil {
		return nil, err
	}

	content := make([]mux.ContentBlock, 0, len(results))
	for _, r := range results {
		desc := r.Tool.Description
		if desc == "" {
			desc = noDescription
		}
		content = append(content, mux.ToolReferenceBlock(
			r.Tool.Name,
			fmt.Sprintf("%s (score: %.2f, %s)", desc, r.Score, r.MatchReason),
		))
	}
	return &mux.ToolCallResult{Content: content}, nil
}
