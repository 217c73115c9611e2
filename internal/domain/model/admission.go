package model

import "time"

// QuotaCheck is the outcome of a count-based quota check.
// Remaining values are Unlimited when the corresponding limit is not enforced.
type QuotaCheck struct {
	Allowed          bool      `json:"allowed"`
	Reason           string    `json:"reason,omitempty"`
	LimitType        LimitType `json:"limitType,omitempty"`
	DailyRemaining   int       `json:"dailyRemaining"`
	MonthlyRemaining int       `json:"monthlyRemaining"`
}

// RateLimitRequest carries the caller details needed for rate checks.
type RateLimitRequest struct {
	UserID    string
	Plan      *PlanLimitations
	IP        *string
	UserAgent *string
}

// RateLimitResult is the outcome of a rate check.
type RateLimitResult struct {
	Allowed    bool       `json:"allowed"`
	Reason     string     `json:"reason,omitempty"`
	LimitType  LimitType  `json:"limitType,omitempty"`
	RetryAfter *time.Time `json:"retryAfter,omitempty"`
	Warning    string     `json:"warning,omitempty"`
}

// AdmissionRequest is everything needed to admit an analysis start.
type AdmissionRequest struct {
	UserID       string
	Plan         *PlanLimitations
	AnalysisType AnalysisType
	IP           *string
	UserAgent    *string
}

// UsageSummary reports a user's consumption and remaining allowance.
type UsageSummary struct {
	Plan             PlanTier             `json:"plan"`
	AnalysesToday    int                  `json:"analysesToday"`
	AnalysesMonth    int                  `json:"analysesThisMonth"`
	QuestionsToday   int                  `json:"questionsToday"`
	CostToday        float64              `json:"costToday"`
	DailyRemaining   int                  `json:"dailyRemaining"`
	MonthlyRemaining int                  `json:"monthlyRemaining"`
	FollowUpsLeft    map[AnalysisType]int `json:"followUpsRemaining"`
}
