package search

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mcpmux/mcpmux/pkg/logger"
	"github.com/mcpmux/mcpmux/pkg/mux"
)

// Scoring constants for the REGEX provider. A match accumulates a field
// weight, a position bonus that decays with the match index, and a length
// bonus that grows with the matched span; the sum is clamped to [0, 1].
const (
	regexNameWeight        = 0.6
	regexDescriptionWeight = 0.3

	regexPositionBonusBase  = 0.20
	regexPositionBonusDecay = 0.003
	regexPositionBonusFloor = 0.05

	regexLengthBonusPerChar = 0.02
	regexLengthBonusCap     = 0.20
)

// RegexConfig is the provider configuration accepted by the REGEX provider.
type RegexConfig struct {
	// Pattern is an explicit regular expression. When empty, the user query
	// is matched as a literal substring. A pattern that fails to compile
	// also falls back to the literal query rather than erroring.
	Pattern string `json:"pattern,omitempty"`

	// CaseSensitive disables the default case-insensitive matching.
	CaseSensitive bool `json:"case_sensitive,omitempty"`

	// Fields lists the tool fields to search. Defaults to name and
	// description.
	Fields []string `json:"fields,omitempty"`
}

// regexProvider matches tools by configured pattern or literal query
// substring and scores hits by field, position, and match length.
type regexProvider struct {
	cfg RegexConfig
}

// NewRegexProvider returns an uninitialized REGEX provider.
func NewRegexProvider() Provider {
	return &regexProvider{}
}

func (*regexProvider) Name() mux.SearchMethod {
	return mux.SearchMethodRegex
}

// Initialize decodes the opaque provider configuration. Unknown keys are
// tolerated; an invalid pattern is not rejected here because the search
// path falls back to literal matching.
func (p *regexProvider) Initialize(config map[string]any) error {
	if config == nil {
		p.cfg = RegexConfig{}
		return nil
	}
	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("%w: encode regex config: %w", mux.ErrInvalidInput, err)
	}
	var cfg RegexConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("%w: decode regex config: %w", mux.ErrInvalidInput, err)
	}
	p.cfg = cfg
	return nil
}

func (*regexProvider) Dispose() error {
	return nil
}

// fieldMatch records the single best match found in one field.
type fieldMatch struct {
	field  string
	index  int
	length int
}

// Search ranks the available tools against the query.
func (p *regexProvider) Search(_ context.Context, query Query, available []AvailableTool) ([]Result, error) {
	if strings.TrimSpace(query.Query) == "" {
		return emptyQueryResults(query, available), nil
	}

	re := p.compile(query.Query)
	fields := p.cfg.Fields
	if len(fields) == 0 {
		fields = defaultFields
	}

	results := make([]Result, 0, len(available))
	for _, at := range available {
		var matches []fieldMatch
		for _, field := range fields {
			text := fieldText(at.Tool, field)
			if text == "" {
				continue
			}
			loc := re.FindStringIndex(text)
			if loc == nil {
				continue
			}
			matches = append(matches, fieldMatch{field: field, index: loc[0], length: loc[1] - loc[0]})
		}
		if len(matches) == 0 {
			continue
		}
		results = append(results, Result{
			Tool:        at.Tool,
			ServerUUID:  at.ServerUUID,
			Score:       scoreFieldMatches(matches),
			MatchReason: matchedFieldsReason(matches),
		})
	}

	// Stable sort keeps the pool order for equal scores, so tools listed
	// earlier by upstream rank first on ties.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if limit := query.limit(); len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// compile builds the matcher for one search call. An explicitly configured
// pattern that fails to compile degrades to a literal substring match of
// the user query.
func (p *regexProvider) compile(query string) *regexp.Regexp {
	flags := "(?i)"
	if p.cfg.CaseSensitive {
		flags = ""
	}

	if p.cfg.Pattern != "" {
		re, err := regexp.Compile(flags + p.cfg.Pattern)
		if err == nil {
			return re
		}
		logger.Warnw("configured search pattern does not compile, falling back to literal query",
			"pattern", p.cfg.Pattern, "error", err)
	}

	// QuoteMeta escapes every regex metacharacter, so the query matches as
	// a literal substring.
	return regexp.MustCompile(flags + regexp.QuoteMeta(query))
}

// scoreFieldMatches accumulates the per-field contributions and clamps the
// total to [0, 1].
func scoreFieldMatches(matches []fieldMatch) float64 {
	var score float64
	for _, m := range matches {
		switch m.field {
		case "name":
			score += regexNameWeight
		case "description":
			score += regexDescriptionWeight
		}

		positionBonus := regexPositionBonusBase - regexPositionBonusDecay*float64(m.index)
		if positionBonus < regexPositionBonusFloor {
			positionBonus = regexPositionBonusFloor
		}
		score += positionBonus

		lengthBonus := regexLengthBonusPerChar * float64(m.length)
		if lengthBonus > regexLengthBonusCap {
			lengthBonus = regexLengthBonusCap
		}
		score += lengthBonus
	}

	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}

// matchedFieldsReason lists the distinct matched fields in match order,
// e.g. "Matched in name, description".
func matchedFieldsReason(matches []fieldMatch) string {
	fields := make([]string, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		if seen[m.field] {
			continue
		}
		seen[m.field] = true
		fields = append(fields, m.field)
	}
	return "Matched in " + strings.Join(fields, ", ")
}
