package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpmux/mcpmux/pkg/mux"
)

func toolPool() []AvailableTool {
	return []AvailableTool{
		{Tool: mux.Tool{Name: "filesystem__read_file", Description: "Read a file"}, ServerUUID: "srv-fs"},
		{Tool: mux.Tool{Name: "filesystem__write_file", Description: "Write a file"}, ServerUUID: "srv-fs"},
		{Tool: mux.Tool{Name: "web__fetch_url", Description: "Fetch URL"}, ServerUUID: "srv-web"},
	}
}

func resultNames(results []Result) []string {
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Tool.Name
	}
	return names
}

func requireSortedDescending(t *testing.T, results []Result) {
	t.Helper()
	for i := 1; i < len(results); i++ {
		require.LessOrEqual(t, results[i].Score, results[i-1].Score)
	}
	for _, r := range results {
		require.GreaterOrEqual(t, r.Score, 0.0)
		require.LessOrEqual(t, r.Score, 1.0)
	}
}

func newInitialized(t *testing.T, factory Factory, config map[string]any) Provider {
	t.Helper()
	p := factory()
	require.NoError(t, p.Initialize(config))
	return p
}

func TestRegexSearchLiteralQuery(t *testing.T) {
	t.Parallel()

	p := newInitialized(t, NewRegexProvider, nil)
	results, err := p.Search(context.Background(), Query{Query: "file", MaxResults: 5}, toolPool())
	require.NoError(t, err)

	require.Equal(t, []string{"filesystem__read_file", "filesystem__write_file"}, resultNames(results))
	requireSortedDescending(t, results)
	for _, r := range results {
		assert.Equal(t, "Matched in name, description", r.MatchReason)
	}
}

func TestRegexSearchCaseInsensitiveByDefault(t *testing.T) {
	t.Parallel()

	p := newInitialized(t, NewRegexProvider, nil)
	results, err := p.Search(context.Background(), Query{Query: "FILE"}, toolPool())
	require.NoError(t, err)
	assert.Len(t, results, 2)

	p = newInitialized(t, NewRegexProvider, map[string]any{"case_sensitive": true})
	results, err = p.Search(context.Background(), Query{Query: "FILE"}, toolPool())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRegexSearchEscapesMetacharacters(t *testing.T) {
	t.Parallel()

	pool := []AvailableTool{
		{Tool: mux.Tool{Name: "calc__eval", Description: "Evaluate a+b expressions"}},
		{Tool: mux.Tool{Name: "calc__sum", Description: "Add aab numbers"}},
	}

	p := newInitialized(t, NewRegexProvider, nil)
	results, err := p.Search(context.Background(), Query{Query: "a+b"}, pool)
	require.NoError(t, err)

	// "a+b" must match literally, not as the regex a-plus b.
	require.Len(t, results, 1)
	assert.Equal(t, "calc__eval", results[0].Tool.Name)
}

func TestRegexSearchConfiguredPattern(t *testing.T) {
	t.Parallel()

	p := newInitialized(t, NewRegexProvider, map[string]any{"pattern": `^filesystem__`})
	results, err := p.Search(context.Background(), Query{Query: "ignored"}, toolPool())
	require.NoError(t, err)

	assert.Equal(t, []string{"filesystem__read_file", "filesystem__write_file"}, resultNames(results))
}

func TestRegexSearchBadPatternFallsBackToLiteral(t *testing.T) {
	t.Parallel()

	p := newInitialized(t, NewRegexProvider, map[string]any{"pattern": `[unterminated`})
	results, err := p.Search(context.Background(), Query{Query: "fetch"}, toolPool())
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "web__fetch_url", results[0].Tool.Name)
}

func TestRegexSearchEmptyQueryPolicy(t *testing.T) {
	t.Parallel()

	p := newInitialized(t, NewRegexProvider, nil)
	results, err := p.Search(context.Background(), Query{Query: "   ", MaxResults: 2}, toolPool())
	require.NoError(t, err)

	require.Len(t, results, 2)
	for _, r := range results {
		assert.InDelta(t, 0.5, r.Score, 1e-9)
		assert.Equal(t, "No search query provided", r.MatchReason)
	}
}

func TestRegexSearchRespectsMaxResults(t *testing.T) {
	t.Parallel()

	p := newInitialized(t, NewRegexProvider, nil)
	results, err := p.Search(context.Background(), Query{Query: "e", MaxResults: 1}, toolPool())
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestRegexSearchCustomFields(t *testing.T) {
	t.Parallel()

	p := newInitialized(t, NewRegexProvider, map[string]any{"fields": []any{"description"}})
	results, err := p.Search(context.Background(), Query{Query: "filesystem"}, toolPool())
	require.NoError(t, err)

	// "filesystem" only appears in names, which are excluded.
	assert.Empty(t, results)
}

func TestRegexSearchUnknownFieldNeverMatches(t *testing.T) {
	t.Parallel()

	p := newInitialized(t, NewRegexProvider, map[string]any{"fields": []any{"keywords"}})
	results, err := p.Search(context.Background(), Query{Query: "file"}, toolPool())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRegexScoreComponents(t *testing.T) {
	t.Parallel()

	// Single name match at index 0 with length 4:
	// 0.6 + (0.20 - 0.003*0) + min(0.20, 0.02*4) = 0.88
	score := scoreFieldMatches([]fieldMatch{{field: "name", index: 0, length: 4}})
	assert.InDelta(t, 0.88, score, 1e-9)

	// Deep position hits the 0.05 floor.
	score = scoreFieldMatches([]fieldMatch{{field: "description", index: 100, length: 1}})
	assert.InDelta(t, 0.3+0.05+0.02, score, 1e-9)

	// Name plus description clamps at 1.
	score = scoreFieldMatches([]fieldMatch{
		{field: "name", index: 0, length: 20},
		{field: "description", index: 0, length: 20},
	})
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestRegexTieBreakKeepsPoolOrder(t *testing.T) {
	t.Parallel()

	pool := []AvailableTool{
		{Tool: mux.Tool{Name: "a__file", Description: "x"}},
		{Tool: mux.Tool{Name: "b__file", Description: "x"}},
	}

	p := newInitialized(t, NewRegexProvider, nil)
	results, err := p.Search(context.Background(), Query{Query: "file"}, pool)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.InDelta(t, results[0].Score, results[1].Score, 1e-9)
	assert.Equal(t, []string{"a__file", "b__file"}, resultNames(results))
}
