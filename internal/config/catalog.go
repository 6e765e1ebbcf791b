package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ModelRates holds per-unit prices for a single model. Token rates are per
// one million tokens, search rates per one thousand calls. Rates are kept as
// decimals so cost arithmetic stays exact.
type ModelRates struct {
	PromptTokens       decimal.Decimal
	CachedPromptTokens decimal.Decimal
	CompletionTokens   decimal.Decimal
	WebSearches        decimal.Decimal
}

// Preset is a preconfigured assistant a user can start a conversation from.
type Preset struct {
	ID               string  `yaml:"id"`
	Title            string  `yaml:"title"`
	Category         string  `yaml:"category"`
	Introduction     string  `yaml:"introduction"`
	Instructions     string  `yaml:"instructions"`
	Model            string  `yaml:"model"`
	Temperature      float32 `yaml:"temperature"`
	ReasoningEffort  string  `yaml:"reasoning_effort"`
	WebSearchEnabled bool    `yaml:"web_search_enabled"`
}

// UserGroup binds a set of users to a weekly spend limit, a reviewer list
// and the presets its members may use.
type UserGroup struct {
	Name               string
	UserMaxWeeklySpend decimal.Decimal
	Members            []string
	Reviewers          []string
	Presets            []Preset
}

// Catalog is the immutable deployment catalog: model pricing plus user
// groups. It is loaded once at startup and never mutated afterwards.
type Catalog struct {
	rates        map[string]ModelRates
	groups       map[string]*UserGroup
	groupByEmail map[string]*UserGroup
}

type rawRates struct {
	PromptTokens       string `yaml:"prompt_tokens"`
	CachedPromptTokens string `yaml:"cached_prompt_tokens"`
	CompletionTokens   string `yaml:"completion_tokens"`
	WebSearches        string `yaml:"web_searches"`
}

type rawGroup struct {
	UserMaxWeeklySpend string   `yaml:"user_max_weekly_spend"`
	Members            []string `yaml:"members"`
	Reviewers          []string `yaml:"reviewers"`
	Presets            []Preset `yaml:"presets"`
}

type rawCatalog struct {
	Models map[string]rawRates `yaml:"models"`
	Groups map[string]rawGroup `yaml:"groups"`
}

// LoadCatalog reads and validates the catalog YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses catalog YAML from memory.
func ParseCatalog(data []byte) (*Catalog, error) {
	var raw rawCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(raw.Models) == 0 {
		return nil, fmt.Errorf("catalog defines no models")
	}

	cat := &Catalog{
		rates:        make(map[string]ModelRates, len(raw.Models)),
		groups:       make(map[string]*UserGroup, len(raw.Groups)),
		groupByEmail: make(map[string]*UserGroup),
	}

	for model, r := range raw.Models {
		rates, err := parseRates(r)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", model, err)
		}
		cat.rates[model] = rates
	}

	for name, g := range raw.Groups {
		limit, err := parseDecimal(g.UserMaxWeeklySpend, "user_max_weekly_spend")
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", name, err)
		}
		if limit.IsNegative() {
			return nil, fmt.Errorf("group %q: user_max_weekly_spend must not be negative", name)
		}

		group := &UserGroup{
			Name:               name,
			UserMaxWeeklySpend: limit,
			Members:            normalizeEmails(g.Members),
			Reviewers:          normalizeEmails(g.Reviewers),
			Presets:            g.Presets,
		}

		for i, p := range group.Presets {
			if p.ID == "" {
				return nil, fmt.Errorf("group %q: preset %d has no id", name, i)
			}
			if _, ok := cat.rates[p.Model]; !ok {
				return nil, fmt.Errorf("group %q: preset %q uses unpriced model %q", name, p.ID, p.Model)
			}
		}

		cat.groups[name] = group
		for _, email := range group.Members {
			if other, ok := cat.groupByEmail[email]; ok {
				return nil, fmt.Errorf("user %q belongs to both %q and %q", email, other.Name, name)
			}
			cat.groupByEmail[email] = group
		}
	}

	return cat, nil
}

// Rates returns the pricing for a model.
func (c *Catalog) Rates(model string) (ModelRates, bool) {
	r, ok := c.rates[model]
	return r, ok
}

// GroupForUser returns the group a user belongs to.
func (c *Catalog) GroupForUser(email string) (*UserGroup, bool) {
	g, ok := c.groupByEmail[strings.ToLower(strings.TrimSpace(email))]
	return g, ok
}

// Group returns a group by name.
func (c *Catalog) Group(name string) (*UserGroup, bool) {
	g, ok := c.groups[name]
	return g, ok
}

// Preset returns a preset by ID within a group.
func (g *UserGroup) Preset(id string) (*Preset, bool) {
	for i := range g.Presets {
		if g.Presets[i].ID == id {
			return &g.Presets[i], true
		}
	}
	return nil, false
}

// IsReviewer reports whether the user reviews flagged conversations for
// this group.
func (g *UserGroup) IsReviewer(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, r := range g.Reviewers {
		if r == email {
			return true
		}
	}
	return false
}

func parseRates(r rawRates) (ModelRates, error) {
	var rates ModelRates
	var err error
	if rates.PromptTokens, err = parseDecimal(r.PromptTokens, "prompt_tokens"); err != nil {
		return rates, err
	}
	if rates.CachedPromptTokens, err = parseDecimal(r.CachedPromptTokens, "cached_prompt_tokens"); err != nil {
		return rates, err
	}
	if rates.CompletionTokens, err = parseDecimal(r.CompletionTokens, "completion_tokens"); err != nil {
		return rates, err
	}
	if rates.WebSearches, err = parseDecimal(r.WebSearches, "web_searches"); err != nil {
		return rates, err
	}
	return rates, nil
}

func parseDecimal(s, field string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

func normalizeEmails(emails []string) []string {
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}
