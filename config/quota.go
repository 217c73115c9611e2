package config

import (
	"strings"
	"time"
)

// QuotaConfig contains admission control configuration.
type QuotaConfig struct {
	// IPBurstLimit is the number of start requests one IP may make per IPBurstWindow.
	// Zero disables the burst guard.
	IPBurstLimit int `env:"RATE_IP_BURST_LIMIT" envDefault:"30"`

	// IPBurstWindow is the fixed window of the per-IP burst guard.
	IPBurstWindow time.Duration `env:"RATE_IP_BURST_WINDOW" envDefault:"1m"`

	// AnalysisCost is the estimated USD cost charged per analysis.
	AnalysisCost float64 `env:"QUOTA_ANALYSIS_COST" envDefault:"0.25"`

	// FollowUpCost is the estimated USD cost charged per follow-up question.
	FollowUpCost float64 `env:"QUOTA_FOLLOW_UP_COST" envDefault:"0.02"`

	// PlansFile overrides the embedded plan catalog with a YAML file.
	PlansFile string `env:"PLANS_FILE"`
}

// Sanitize applies guardrails to quota configuration values.
func (q *QuotaConfig) Sanitize() {
	if q.IPBurstLimit < 0 {
		q.IPBurstLimit = 0
	}
	if q.IPBurstWindow < time.Second {
		q.IPBurstWindow = time.Second
	}
	if q.AnalysisCost < 0 {
		q.AnalysisCost = 0
	}
	if q.FollowUpCost < 0 {
		q.FollowUpCost = 0
	}
	q.PlansFile = strings.TrimSpace(q.PlansFile)
}
