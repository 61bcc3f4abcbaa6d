package search

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/mcpmux/mcpmux/pkg/mux"
)

// BM25 parameter defaults.
const (
	defaultBM25K1 = 1.2
	defaultBM25B  = 0.75
)

// nonTokenChars splits text into tokens: lowercase, then break on runs of
// non-alphanumeric characters.
var nonTokenChars = regexp.MustCompile(`[^A-Za-z0-9]+`)

// BM25Config is the provider configuration accepted by the BM25 provider.
type BM25Config struct {
	// K1 controls term-frequency saturation. Valid range [0, 3].
	K1 *float64 `json:"k1,omitempty"`

	// B controls document-length normalization. Valid range [0, 1].
	B *float64 `json:"b,omitempty"`

	// Fields lists the tool fields indexed per document. Defaults to name
	// and description.
	Fields []string `json:"fields,omitempty"`
}

// bm25Provider ranks tools with Okapi BM25 over a per-query index. The
// index is rebuilt from the available tools on every call; pools are small
// enough that persisting an index buys nothing and risks staleness.
type bm25Provider struct {
	k1     float64
	b      float64
	fields []string
}

// NewBM25Provider returns an uninitialized BM25 provider.
func NewBM25Provider() Provider {
	return &bm25Provider{k1: defaultBM25K1, b: defaultBM25B}
}

func (*bm25Provider) Name() mux.SearchMethod {
	return mux.SearchMethodBM25
}

// Initialize decodes the opaque provider configuration, applying defaults
// for absent parameters.
func (p *bm25Provider) Initialize(config map[string]any) error {
	p.k1 = defaultBM25K1
	p.b = defaultBM25B
	p.fields = nil
	if config == nil {
		return nil
	}

	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("%w: encode bm25 config: %w", mux.ErrInvalidInput, err)
	}
	var cfg BM25Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("%w: decode bm25 config: %w", mux.ErrInvalidInput, err)
	}

	if cfg.K1 != nil {
		p.k1 = *cfg.K1
	}
	if cfg.B != nil {
		p.b = *cfg.B
	}
	p.fields = cfg.Fields
	return nil
}

func (*bm25Provider) Dispose() error {
	return nil
}

// tokenize lowercases the text and splits it on runs of non-alphanumeric
// characters, dropping empty tokens.
func tokenize(text string) []string {
	parts := nonTokenChars.Split(strings.ToLower(text), -1)
	tokens := parts[:0]
	for _, t := range parts {
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// bm25Document is the indexed form of one tool.
type bm25Document struct {
	available AvailableTool
	termFreq  map[string]int
	length    int
}

// Search builds a fresh index over the available tools and ranks them.
func (p *bm25Provider) Search(_ context.Context, query Query, available []AvailableTool) ([]Result, error) {
	if strings.TrimSpace(query.Query) == "" {
		return emptyQueryResults(query, available), nil
	}

	queryTokens := tokenize(query.Query)
	if len(queryTokens) == 0 {
		// Nothing tokenizable in the query, e.g. all punctuation.
		return []Result{}, nil
	}

	fields := p.fields
	if len(fields) == 0 {
		fields = defaultFields
	}

	docs := make([]bm25Document, 0, len(available))
	docFreq := make(map[string]int)
	var totalLength int
	for _, at := range available {
		parts := make([]string, 0, len(fields))
		for _, field := range fields {
			parts = append(parts, fieldText(at.Tool, field))
		}
		tokens := tokenize(strings.Join(parts, " "))

		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			tf[t]++
		}
		for t := range tf {
			docFreq[t]++
		}

		docs = append(docs, bm25Document{available: at, termFreq: tf, length: len(tokens)})
		totalLength += len(tokens)
	}

	if len(docs) == 0 || totalLength == 0 {
		return []Result{}, nil
	}
	avgdl := float64(totalLength) / float64(len(docs))

	n := float64(len(docs))
	idf := func(term string) float64 {
		df := float64(docFreq[term])
		return math.Log((n-df+0.5)/(df+0.5) + 1)
	}

	// Normalization denominator caps the raw score so normalized scores
	// land in [0, 1] regardless of pool size.
	norm := float64(len(queryTokens)) * math.Log(n+1) * (p.k1 + 1)

	results := make([]Result, 0, len(docs))
	for _, doc := range docs {
		var raw float64
		var matched []string
		seen := make(map[string]bool, len(queryTokens))
		for _, term := range queryTokens {
			tf := float64(doc.termFreq[term])
			if tf == 0 {
				continue
			}
			if !seen[term] {
				seen[term] = true
				matched = append(matched, term)
			}
			denom := tf + p.k1*(1-p.b+p.b*float64(doc.length)/avgdl)
			raw += idf(term) * (tf * (p.k1 + 1)) / denom
		}

		score := 0.0
		if norm > 0 {
			score = raw / norm
		}
		if score > 1 {
			score = 1
		}
		if score <= 0 {
			continue
		}

		results = append(results, Result{
			Tool:        doc.available.Tool,
			ServerUUID:  doc.available.ServerUUID,
			Score:       score,
			MatchReason: matchedTermsReason(matched),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if limit := query.limit(); len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// matchedTermsReason quotes up to three matched terms; longer matches
// collapse to a count.
func matchedTermsReason(matched []string) string {
	if len(matched) > 3 {
		return fmt.Sprintf("Matched %d terms", len(matched))
	}
	quoted := make([]string, len(matched))
	for i, t := range matched {
		quoted[i] = fmt.Sprintf("%q", t)
	}
	return "Matched " + strings.Join(quoted, ", ")
}
