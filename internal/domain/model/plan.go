package model

import (
	"fmt"
	"strings"
)

// Unlimited marks a limit that is never enforced.
const Unlimited = -1

// PlanTier names a subscription plan.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type PlanTier string

const (
	PlanFree         PlanTier = "free"
	PlanStarter      PlanTier = "starter"
	PlanProfessional PlanTier = "professional"
	PlanEnterprise   PlanTier = "enterprise"
)

// Valid returns true if the tier is a known plan.
func (p PlanTier) Valid() bool {
	switch p {
	case PlanFree, PlanStarter, PlanProfessional, PlanEnterprise:
		return true
	default:
		return false
	}
}

// UnmarshalText implements encoding.TextUnmarshaler for PlanTier.
func (p *PlanTier) UnmarshalText(text []byte) error {
	v := PlanTier(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid plan tier: %q", string(text))
	}
	*p = v
	return nil
}

// Plan feature flags.
const (
	FeatureExportPDF     = "export_pdf"
	FeaturePriorityQueue = "priority_queue"
	FeatureAPIAccess     = "api_access"
	FeatureBuyerMatch    = "buyer_match"
)

// PlanLimitations is the static quota and rate configuration of a plan tier.
// Any numeric limit set to Unlimited is not enforced.
type PlanLimitations struct {
	Tier                 PlanTier             `yaml:"-"                      json:"tier"`
	FollowUpQuotas       map[AnalysisType]int `yaml:"follow_up_quotas"       json:"followUpQuotas"`
	DailyAnalysisLimit   int                  `yaml:"daily_analysis_limit"   json:"dailyAnalysisLimit"`
	MonthlyAnalysisLimit int                  `yaml:"monthly_analysis_limit" json:"monthlyAnalysisLimit"`
	HourlyQuestionLimit  int                  `yaml:"hourly_question_limit"  json:"hourlyQuestionLimit"`
	DailyQuestionLimit   int                  `yaml:"daily_question_limit"   json:"dailyQuestionLimit"`
	CostAlertThreshold   float64              `yaml:"cost_alert_threshold"   json:"costAlertThreshold"`
	Features             map[string]bool      `yaml:"features"               json:"features"`
}

// FollowUpQuota returns the daily follow-up quota for the analysis type.
// A type missing from the plan gets zero follow-ups.
func (p *PlanLimitations) FollowUpQuota(t AnalysisType) int {
	if p.FollowUpQuotas == nil {
		return 0
	}
	return p.FollowUpQuotas[t]
}

// HasFeature reports whether the plan enables the named feature.
func (p *PlanLimitations) HasFeature(name string) bool {
	return p.Features != nil && p.Features[name]
}

// IsEnterprise reports whether cost thresholds only warn for this plan.
func (p *PlanLimitations) IsEnterprise() bool {
	return p.Tier == PlanEnterprise
}

// Remaining returns how much of limit is left after used, or Unlimited.
func Remaining(limit, used int) int {
	if limit == Unlimited {
		return Unlimited
	}
	if used >= limit {
		return 0
	}
	return limit - used
}

// Exceeded reports whether used has reached a limit that is enforced.
func Exceeded(limit, used int) bool {
	return limit != Unlimited && used >= limit
}
