// Package plans loads the static per-tier quota and rate limits.
package plans

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bizmarket/analysis-pipeline/internal/domain/model"
)

//go:embed default_plans.yaml
var defaultPlansYAML []byte

// ErrEmptyCatalog is returned when a plans document defines no tiers.
var ErrEmptyCatalog = errors.New("plan catalog is empty")

// Catalog is an immutable lookup of plan limitations by tier.
type Catalog struct {
	plans    map[model.PlanTier]*model.PlanLimitations
	fallback model.PlanTier
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultPlansYAML)
}

// MustDefault is like Default but panics on error.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads a catalog from path, or returns the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plans file: %w", err)
	}
	return Parse(data)
}

// Parse builds a catalog from a YAML document keyed by tier name.
func Parse(data []byte) (*Catalog, error) {
	raw := map[string]*model.PlanLimitations{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse plans: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrEmptyCatalog
	}

	c := &Catalog{plans: make(map[model.PlanTier]*model.PlanLimitations, len(raw)), fallback: model.PlanFree}
	for name, p := range raw {
		var tier model.PlanTier
		if err := tier.UnmarshalText([]byte(name)); err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("plan %q has no limits", name)
		}
		if err := validate(tier, p); err != nil {
			return nil, err
		}
		p.Tier = tier
		c.plans[tier] = p
	}
	if _, ok := c.plans[model.PlanFree]; !ok {
		return nil, fmt.Errorf("plan catalog must define %q", model.PlanFree)
	}
	return c, nil
}

func validate(tier model.PlanTier, p *model.PlanLimitations) error {
	limits := map[string]int{
		"daily_analysis_limit":   p.DailyAnalysisLimit,
		"monthly_analysis_limit": p.MonthlyAnalysisLimit,
		"hourly_question_limit":  p.HourlyQuestionLimit,
		"daily_question_limit":   p.DailyQuestionLimit,
	}
	for name, v := range limits {
		if v < model.Unlimited {
			return fmt.Errorf("plan %q: %s must be >= -1", tier, name)
		}
	}
	for at, v := range p.FollowUpQuotas {
		if !at.Valid() {
			return fmt.Errorf("plan %q: unknown analysis type %q", tier, at)
		}
		if v < model.Unlimited {
			return fmt.Errorf("plan %q: follow-up quota for %s must be >= -1", tier, at)
		}
	}
	if p.CostAlertThreshold < 0 && p.CostAlertThreshold != model.Unlimited {
		return fmt.Errorf("plan %q: cost_alert_threshold must be >= 0 or -1", tier)
	}
	return nil
}

// Lookup returns the limitations for tier, falling back to the free tier.
func (c *Catalog) Lookup(tier model.PlanTier) *model.PlanLimitations {
	if p, ok := c.plans[tier]; ok {
		return p
	}
	return c.plans[c.fallback]
}

// Tiers returns the configured tiers in name order.
func (c *Catalog) Tiers() []model.PlanTier {
	out := make([]model.PlanTier, 0, len(c.plans))
	for t := range c.plans {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
