// Package pricing maps models to per-million-token rates and computes the
// dual costs (API-rate and resolved-billing-mode) a usage event carries.
package pricing

import (
	"log"
	"strings"
)

// ModelPricing holds USD rates per million tokens for one model.
type ModelPricing struct {
	InputPerMillion         float64 `json:"input_per_million"`
	OutputPerMillion        float64 `json:"output_per_million"`
	CacheReadPerMillion     float64 `json:"cache_read_per_million"`
	CacheCreationPerMillion float64 `json:"cache_creation_per_million"`
}

// DefaultTier is applied to unrecognized models. Sonnet rates are the middle
// of the family and the least wrong guess either direction.
var DefaultTier = ModelPricing{
	InputPerMillion:         3,
	OutputPerMillion:        15,
	CacheReadPerMillion:     0.3,
	CacheCreationPerMillion: 3.75,
}

var embeddedPricing = map[string]ModelPricing{
	"claude-opus-4-5-20251101": {InputPerMillion: 5, OutputPerMillion: 25, CacheReadPerMillion: 0.5, CacheCreationPerMillion: 6.25},
	"claude-opus-4-5":          {InputPerMillion: 5, OutputPerMillion: 25, CacheReadPerMillion: 0.5, CacheCreationPerMillion: 6.25},
	"claude-opus-4-1-20250805": {InputPerMillion: 15, OutputPerMillion: 75, CacheReadPerMillion: 1.5, CacheCreationPerMillion: 18.75},
	"claude-opus-4-1":          {InputPerMillion: 15, OutputPerMillion: 75, CacheReadPerMillion: 1.5, CacheCreationPerMillion: 18.75},
	"claude-opus-4-20250514":   {InputPerMillion: 15, OutputPerMillion: 75, CacheReadPerMillion: 1.5, CacheCreationPerMillion: 18.75},
	"claude-3-opus-20240229":   {InputPerMillion: 15, OutputPerMillion: 75, CacheReadPerMillion: 1.5, CacheCreationPerMillion: 18.75},

	"claude-sonnet-4-5-20250929": {InputPerMillion: 3, OutputPerMillion: 15, CacheReadPerMillion: 0.3, CacheCreationPerMillion: 3.75},
	"claude-sonnet-4-5":          {InputPerMillion: 3, OutputPerMillion: 15, CacheReadPerMillion: 0.3, CacheCreationPerMillion: 3.75},
	"claude-sonnet-4-20250514":   {InputPerMillion: 3, OutputPerMillion: 15, CacheReadPerMillion: 0.3, CacheCreationPerMillion: 3.75},
	"claude-3-7-sonnet-20250219": {InputPerMillion: 3, OutputPerMillion: 15, CacheReadPerMillion: 0.3, CacheCreationPerMillion: 3.75},
	"claude-3-5-sonnet-20241022": {InputPerMillion: 3, OutputPerMillion: 15, CacheReadPerMillion: 0.3, CacheCreationPerMillion: 3.75},

	"claude-haiku-4-5-20251001":  {InputPerMillion: 1, OutputPerMillion: 5, CacheReadPerMillion: 0.1, CacheCreationPerMillion: 1.25},
	"claude-haiku-4-5":           {InputPerMillion: 1, OutputPerMillion: 5, CacheReadPerMillion: 0.1, CacheCreationPerMillion: 1.25},
	"claude-3-5-haiku-20241022":  {InputPerMillion: 0.8, OutputPerMillion: 4, CacheReadPerMillion: 0.08, CacheCreationPerMillion: 1},
	"claude-3-haiku-20240307":    {InputPerMillion: 0.25, OutputPerMillion: 1.25, CacheReadPerMillion: 0.03, CacheCreationPerMillion: 0.3},
}

// Table resolves model pricing. Overrides take precedence over the embedded
// rates, letting deployments pin negotiated prices.
type Table struct {
	overrides map[string]ModelPricing
	// warned tracks models already logged so a large run warns once per model.
	warned map[string]bool
}

func NewTable() *Table {
	return &Table{
		overrides: make(map[string]ModelPricing),
		warned:    make(map[string]bool),
	}
}

func (t *Table) Override(model string, p ModelPricing) {
	t.overrides[normalizeModel(model)] = p
}

// Lookup resolves pricing for a model. Unknown models fall back to
// DefaultTier with a warning; lookup never fails.
func (t *Table) Lookup(model string) ModelPricing {
	norm := normalizeModel(model)
	if p, ok := t.overrides[norm]; ok {
		return p
	}
	if p, ok := embeddedPricing[model]; ok {
		return p
	}
	for name, p := range embeddedPricing {
		if normalizeModel(name) == norm {
			return p
		}
	}
	if !t.warned[model] {
		t.warned[model] = true
		log.Printf("pricing: unknown model %q, falling back to default tier", model)
	}
	return DefaultTier
}

func normalizeModel(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "-", "")
	name = strings.ReplaceAll(name, "_", "")
	return name
}
