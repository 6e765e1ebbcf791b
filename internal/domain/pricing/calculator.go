package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"orgai/services/chat-api/internal/config"
)

var (
	perMillion  = decimal.NewFromInt(1_000_000)
	perThousand = decimal.NewFromInt(1_000)
)

// Usage captures the billable units consumed by one provider call.
type Usage struct {
	PromptTokens       int64
	CachedPromptTokens int64
	CompletionTokens   int64
	WebSearches        int64
}

// Add returns the element-wise sum of two usages.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:       u.PromptTokens + other.PromptTokens,
		CachedPromptTokens: u.CachedPromptTokens + other.CachedPromptTokens,
		CompletionTokens:   u.CompletionTokens + other.CompletionTokens,
		WebSearches:        u.WebSearches + other.WebSearches,
	}
}

// RateSource resolves per-model pricing.
type RateSource interface {
	Rates(model string) (config.ModelRates, bool)
}

// Calculator converts usage into money using catalog rates. Token rates are
// per one million tokens, search rates per one thousand calls. All
// arithmetic is decimal-exact.
type Calculator struct {
	rates RateSource
}

// NewCalculator creates a calculator backed by the given rate source.
func NewCalculator(rates RateSource) *Calculator {
	return &Calculator{rates: rates}
}

// Compute returns the exact cost of the given usage under the model's rates.
// Cached prompt tokens are billed at the cached rate and are assumed to be
// reported separately from PromptTokens.
func (c *Calculator) Compute(model string, usage Usage) (decimal.Decimal, error) {
	rates, ok := c.rates.Rates(model)
	if !ok {
		return decimal.Zero, fmt.Errorf("no pricing for model %q", model)
	}

	cost := decimal.NewFromInt(usage.PromptTokens).Mul(rates.PromptTokens).Div(perMillion)
	cost = cost.Add(decimal.NewFromInt(usage.CachedPromptTokens).Mul(rates.CachedPromptTokens).Div(perMillion))
	cost = cost.Add(decimal.NewFromInt(usage.CompletionTokens).Mul(rates.CompletionTokens).Div(perMillion))
	cost = cost.Add(decimal.NewFromInt(usage.WebSearches).Mul(rates.WebSearches).Div(perThousand))

	return cost, nil
}
