package configapi

import (
	"fmt"

	"github.com/mcpmux/mcpmux/pkg/mux"
)

// Provider-parameter bounds enforced on upsert.
const (
	bm25K1Min = 0.0
	bm25K1Max = 3.0
	bm25BMin  = 0.0
	bm25BMax  = 1.0

	similarityThresholdMin = 0.0
	similarityThresholdMax = 1.0
)

// ValidateMaxResults checks the configured result cap.
func ValidateMaxResults(n int) error {
	if n < mux.MinConfiguredResults || n > mux.MaxConfiguredResults {
		return fmt.Errorf("%w: maxResults must be between %d and %d, got %d",
			mux.ErrInvalidInput, mux.MinConfiguredResults, mux.MaxConfiguredResults, n)
	}
	return nil
}

// ValidateProviderConfig checks the known provider parameters. Unknown keys
// pass through untouched so configurations for future providers are not
// rejected. The EMBEDDINGS keys are validated even though the method is not
// implemented yet; stored configs must stay usable when it lands.
func ValidateProviderConfig(config map[string]any) error {
	if config == nil {
		return nil
	}

	if err := validateNumberInRange(config, "k1", bm25K1Min, bm25K1Max); err != nil {
		return err
	}
	if err := validateNumberInRange(config, "b", bm25BMin, bm25BMax); err != nil {
		return err
	}
	if err := validateNumberInRange(config, "similarity_threshold", similarityThresholdMin, similarityThresholdMax); err != nil {
		return err
	}

	if raw, present := config["fields"]; present {
		fields, ok := raw.([]any)
		if !ok {
			return fmt.Errorf("%w: fields must be an array of strings", mux.ErrInvalidInput)
		}
		for _, f := range fields {
			if _, ok := f.(string); !ok {
				return fmt.Errorf("%w: fields must be an array of strings", mux.ErrInvalidInput)
			}
		}
	}

	if raw, present := config["pattern"]; present {
		if _, ok := raw.(string); !ok {
			return fmt.Errorf("%w: pattern must be a string", mux.ErrInvalidInput)
		}
	}
	if raw, present := config["model"]; present {
		if _, ok := raw.(string); !ok {
			return fmt.Errorf("%w: model must be a string", mux.ErrInvalidInput)
		}
	}

	return nil
}

// validateNumberInRange checks an optional numeric key against [min, max].
func validateNumberInRange(config map[string]any, key string, min, max float64) error {
	raw, present := config[key]
	if !present {
		return nil
	}
	n, ok := toFloat(raw)
	if !ok {
		return fmt.Errorf("%w: %s must be a number", mux.ErrInvalidInput, key)
	}
	if n < min || n > max {
		return fmt.Errorf("%w: %s must be between %g and %g, got %g", mux.ErrInvalidInput, key, min, max, n)
	}
	return nil
}

// toFloat widens the numeric types a decoded JSON object or Go literal
// config may carry.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
