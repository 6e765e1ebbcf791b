package config

import (
	"testing"

	"github.com/shopspring/decimal"
)

const testCatalogYAML = `
models:
  gpt-4o:
    prompt_tokens: "2.50"
    cached_prompt_tokens: "1.25"
    completion_tokens: "10.00"
    web_searches: "25.00"
  gpt-4o-mini:
    prompt_tokens: "0.15"
    completion_tokens: "0.60"
groups:
  engineering:
    user_max_weekly_spend: "10.00"
    members:
      - Alice@Example.com
      - bob@example.com
    reviewers:
      - lead@example.com
    presets:
      - id: general
        title: General Assistant
        model: gpt-4o
        temperature: 0.7
      - id: quick
        title: Quick Answers
        model: gpt-4o-mini
`

func TestParseCatalog(t *testing.T) {
	cat, err := ParseCatalog([]byte(testCatalogYAML))
	if err != nil {
		t.Fatalf("ParseCatalog() error = %v", err)
	}

	rates, ok := cat.Rates("gpt-4o")
	if !ok {
		t.Fatal("Rates(gpt-4o) not found")
	}
	if !rates.PromptTokens.Equal(decimal.RequireFromString("2.50")) {
		t.Errorf("prompt rate = %s, want 2.50", rates.PromptTokens)
	}
	miniRates, ok := cat.Rates("gpt-4o-mini")
	if !ok {
		t.Fatal("Rates(gpt-4o-mini) not found")
	}
	if !miniRates.CachedPromptTokens.IsZero() {
		t.Errorf("missing cached_prompt_tokens rate should default to zero, got %s", miniRates.CachedPromptTokens)
	}

	// Member lookup is case-insensitive
	group, ok := cat.GroupForUser("alice@example.com")
	if !ok {
		t.Fatal("GroupForUser(alice@example.com) not found")
	}
	if group.Name != "engineering" {
		t.Errorf("group = %q, want engineering", group.Name)
	}
	if !group.UserMaxWeeklySpend.Equal(decimal.RequireFromString("10.00")) {
		t.Errorf("weekly limit = %s, want 10.00", group.UserMaxWeeklySpend)
	}

	if _, ok := cat.GroupForUser("stranger@example.com"); ok {
		t.Error("GroupForUser(stranger) should not be found")
	}

	preset, ok := group.Preset("general")
	if !ok {
		t.Fatal("Preset(general) not found")
	}
	if preset.Model != "gpt-4o" {
		t.Errorf("preset model = %q, want gpt-4o", preset.Model)
	}

	if !group.IsReviewer("LEAD@example.com") {
		t.Error("IsReviewer should match case-insensitively")
	}
	if group.IsReviewer("alice@example.com") {
		t.Error("alice is a member, not a reviewer")
	}
}

func TestParseCatalogRejectsUnpricedModel(t *testing.T) {
	const bad = `
models:
  gpt-4o:
    prompt_tokens: "2.50"
groups:
  g:
    user_max_weekly_spend: "5"
    members: [a@example.com]
    presets:
      - id: p
        model: unknown-model
`
	if _, err := ParseCatalog([]byte(bad)); err == nil {
		t.Fatal("ParseCatalog() should reject preset with unpriced model")
	}
}

func TestParseCatalogRejectsDuplicateMembership(t *testing.T) {
	const bad = `
models:
  m:
    prompt_tokens: "1"
groups:
  a:
    user_max_weekly_spend: "5"
    members: [shared@example.com]
  b:
    user_max_weekly_spend: "5"
    members: [shared@example.com]
`
	if _, err := ParseCatalog([]byte(bad)); err == nil {
		t.Fatal("ParseCatalog() should reject user in two groups")
	}
}
