package pricing

import (
	"testing"

	"github.com/shopspring/decimal"

	"orgai/services/chat-api/internal/config"
)

type staticRates map[string]config.ModelRates

func (s staticRates) Rates(model string) (config.ModelRates, bool) {
	r, ok := s[model]
	return r, ok
}

func rates(prompt, cached, completion, web string) config.ModelRates {
	return config.ModelRates{
		PromptTokens:       decimal.RequireFromString(prompt),
		CachedPromptTokens: decimal.RequireFromString(cached),
		CompletionTokens:   decimal.RequireFromString(completion),
		WebSearches:        decimal.RequireFromString(web),
	}
}

func TestComputeExactCost(t *testing.T) {
	calc := NewCalculator(staticRates{
		"gpt-4o": rates("2.50", "1.25", "10.00", "25.00"),
	})

	tests := []struct {
		name  string
		usage Usage
		want  string
	}{
		{
			name:  "prompt and completion tokens",
			usage: Usage{PromptTokens: 1000, CompletionTokens: 350},
			want:  "0.006",
		},
		{
			name:  "cached tokens billed at cached rate",
			usage: Usage{PromptTokens: 1000, CachedPromptTokens: 1000},
			want:  "0.00375",
		},
		{
			name:  "web searches billed per thousand",
			usage: Usage{WebSearches: 2},
			want:  "0.05",
		},
		{
			name:  "zero usage costs nothing",
			usage: Usage{},
			want:  "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := calc.Compute("gpt-4o", tt.usage)
			if err != nil {
				t.Fatalf("Compute() error = %v", err)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("Compute() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestComputeUnknownModel(t *testing.T) {
	calc := NewCalculator(staticRates{})
	if _, err := calc.Compute("no-such-model", Usage{PromptTokens: 1}); err == nil {
		t.Fatal("Compute() should fail for unpriced model")
	}
}

func TestUsageAdd(t *testing.T) {
	a := Usage{PromptTokens: 10, CompletionTokens: 20, WebSearches: 1}
	b := Usage{PromptTokens: 5, CachedPromptTokens: 3, WebSearches: 2}
	got := a.Add(b)
	want := Usage{PromptTokens: 15, CachedPromptTokens: 3, CompletionTokens: 20, WebSearches: 3}
	if got != want {
		t.Errorf("Add() = %+v, want %+v", got, want)
	}
}
