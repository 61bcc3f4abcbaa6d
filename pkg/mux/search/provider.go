// Package search implements ranked retrieval over aggregated tool pools.
//
// A Provider turns a query and a pool of available tools into an ordered
// list of scored results. Providers are created by the Registry from a
// search method and an opaque provider configuration, cached by the Service,
// and disposed on eviction. The NONE method is handled entirely in the
// Service; it never reaches a provider.
package search

import (
	"context"

	"github.com/mcpmux/mcpmux/pkg/mux"
)

// Default field set searched by the REGEX and BM25 providers.
var defaultFields = []string{"name", "description"}

// Neutral score assigned when ranking is not meaningful (empty query, or
// search disabled).
const neutralScore = 0.5

// emptyQueryReason annotates results produced by the shared empty-query
// policy.
const emptyQueryReason = "No search query provided"

// Query is one search request against a tool pool.
type Query struct {
	// Query is the user's search text. May be empty.
	Query string

	// MaxResults caps the result list. Zero means "use the configured cap";
	// the Service fills it in from the resolved config before dispatch.
	MaxResults int

	// NamespaceUUID and EndpointUUID identify the calling context. Providers
	// may use them for scoping or diagnostics; the built-in providers only
	// log them.
	NamespaceUUID string
	EndpointUUID  string
}

// limit returns the effective result cap for the query.
func (q Query) limit() int {
	if q.MaxResults > 0 {
		return q.MaxResults
	}
	return mux.DefaultMaxResults
}

// AvailableTool pairs a tool with the upstream server that provides it.
type AvailableTool struct {
	// Tool is the tool in its advertised form.
	Tool mux.Tool

	// ServerUUID identifies the providing upstream server.
	ServerUUID string
}

// Result is one scored search hit.
type Result struct {
	// Tool is the matched tool.
	Tool mux.Tool

	// ServerUUID identifies the providing upstream server.
	ServerUUID string

	// Score is the normalized relevance score in [0, 1].
	Score float64

	// MatchReason is a short human-readable explanation of the match.
	MatchReason string
}

// Provider is one pluggable retrieval strategy.
//
// Initialize must be idempotent for the same configuration. Search must not
// retain references to the tool slice between calls. Dispose releases any
// resources held by the provider; the built-in providers hold none.
type Provider interface {
	// Name identifies the provider's search method.
	Name() mux.SearchMethod

	// Initialize applies the provider configuration.
	Initialize(config map[string]any) error

	// Search ranks the available tools against the query. Results are
	// ordered by descending score, capped at the query's limit, and carry
	// only positive scores unless the query is empty.
	Search(ctx context.Context, query Query, available []AvailableTool) ([]Result, error)

	// Dispose releases provider resources.
	Dispose() error
}

// emptyQueryResults implements the empty-query policy shared by the REGEX
// and BM25 providers: the first limit tools, neutral score, fixed reason.
func emptyQueryResults(query Query, available []AvailableTool) []Result {
	limit := query.limit()
	if limit > len(available) {
		limit = len(available)
	}
	results := make([]Result, 0, limit)
	for _, at := range available[:limit] {
		results = append(results, Result{
			Tool:        at.Tool,
			ServerUUID:  at.ServerUUID,
			Score:       neutralScore,
			MatchReason: emptyQueryReason,
		})
	}
	return results
}

// fieldText extracts the searchable text of one tool field. Unknown fields
// yield no text and therefore never match.
func fieldText(t mux.Tool, field string) string {
	switch field {
	case "name":
		return t.Name
	case "description":
		return t.Description
	default:
		return ""
	}
}
