package llm

import "strings"

// Price is a model's USD cost per million tokens.
type Price struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// PriceTable maps model names to prices. A key ending in "*" matches
// any model with that prefix.
type PriceTable map[string]Price

// DefaultPrices covers the hosted models the default configuration
// routes to.
var DefaultPrices = PriceTable{
	"claude-opus-4-20250514":   {InputPerMillion: 15.0, OutputPerMillion: 75.0},
	"claude-sonnet-4-20250514": {InputPerMillion: 3.0, OutputPerMillion: 15.0},
	"claude-haiku-3-20240307":  {InputPerMillion: 0.25, OutputPerMillion: 1.25},
	"claude-opus-*":            {InputPerMillion: 15.0, OutputPerMillion: 75.0},
	"claude-sonnet-*":          {InputPerMillion: 3.0, OutputPerMillion: 15.0},
	"gpt-4o-mini":              {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"gpt-4o":                   {InputPerMillion: 2.50, OutputPerMillion: 10.0},
}

// Cost prices one call. Models not in the table are treated as free
// (local models behind an OpenAI-compatible endpoint).
func (p PriceTable) Cost(model string, inputTokens, outputTokens int) float64 {
	entry, ok := p.lookup(model)
	if !ok {
		return 0
	}
	cost := float64(inputTokens) / 1_000_000.0 * entry.InputPerMillion
	cost += float64(outputTokens) / 1_000_000.0 * entry.OutputPerMillion
	return cost
}

func (p PriceTable) lookup(model string) (Price, bool) {
	if entry, ok := p[model]; ok {
		return entry, true
	}
	best, bestLen := Price{}, -1
	for key, entry := range p {
		prefix, ok := strings.CutSuffix(key, "*")
		if ok && strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = entry, len(prefix)
		}
	}
	return best, bestLen >= 0
}

// EstimateCost prices a call against DefaultPrices.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	return DefaultPrices.Cost(model, inputTokens, outputTokens)
}
