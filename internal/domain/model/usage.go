package model

import (
	"fmt"
	"time"
)

// UsageType distinguishes what a usage increment counts.
type UsageType string

const (
	UsageTypeAnalysis UsageType = "analysis"
	UsageTypeFollowUp UsageType = "follow_up"
)

// Valid returns true if the usage type is known.
func (u UsageType) Valid() bool {
	return u == UsageTypeAnalysis || u == UsageTypeFollowUp
}

// UsageRecord holds one user's counters for one UTC day.
type UsageRecord struct {
	UserID          string               `json:"userId"`
	Date            time.Time            `json:"date"`
	Analyses        map[AnalysisType]int `json:"analyses"`
	FollowUps       map[AnalysisType]int `json:"followUps"`
	HourlyQuestions map[string]int       `json:"hourlyQuestions"`
	QuestionsTotal  int                  `json:"questionsTotal"`
	AnalysesTotal   int                  `json:"analysesTotal"`
	CostTotal       float64              `json:"costTotal"`
}

// QuestionsInHour returns the question count recorded for the hour of t.
func (r *UsageRecord) QuestionsInHour(t time.Time) int {
	if r == nil || r.HourlyQuestions == nil {
		return 0
	}
	return r.HourlyQuestions[HourKey(t)]
}

// FollowUpsFor returns the follow-up count for the analysis type.
func (r *UsageRecord) FollowUpsFor(t AnalysisType) int {
	if r == nil || r.FollowUps == nil {
		return 0
	}
	return r.FollowUps[t]
}

// MonthlyUsageRecord holds one user's counters for one UTC calendar month.
type MonthlyUsageRecord struct {
	UserID         string               `json:"userId"`
	Month          time.Time            `json:"month"`
	Analyses       map[AnalysisType]int `json:"analyses"`
	FollowUps      map[AnalysisType]int `json:"followUps"`
	QuestionsTotal int                  `json:"questionsTotal"`
	AnalysesTotal  int                  `json:"analysesTotal"`
	CostTotal      float64              `json:"costTotal"`
}

// UsageIncrement describes one unit of consumption to record.
type UsageIncrement struct {
	UserID       string
	UsageType    UsageType
	AnalysisType AnalysisType
	Cost         float64
	At           time.Time
}

// UsageViolation is an audit record of a rejected request.
type UsageViolation struct {
	UserID    string    `json:"userId"`
	Plan      PlanTier  `json:"plan"`
	Action    string    `json:"action"`
	LimitType LimitType `json:"limitType"`
	Current   float64   `json:"current"`
	Limit     float64   `json:"limit"`
	IP        *string   `json:"ip,omitempty"`
	UserAgent *string   `json:"userAgent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// LimitType names the limit that rejected a request.
type LimitType string

const (
	LimitDailyAnalyses   LimitType = "daily_analyses"
	LimitMonthlyAnalyses LimitType = "monthly_analyses"
	LimitDailyFollowUps  LimitType = "daily_follow_ups"
	LimitHourlyQuestions LimitType = "hourly_questions"
	LimitDailyQuestions  LimitType = "daily_questions"
	LimitDailyCost       LimitType = "daily_cost"
	LimitIPBurst         LimitType = "ip_burst"
	LimitFeature         LimitType = "feature"
)

// UsageDay truncates t to its UTC calendar day.
func UsageDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// UsageMonth truncates t to the first day of its UTC calendar month.
func UsageMonth(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// HourKey returns the two-digit UTC hour bucket key for t.
func HourKey(t time.Time) string {
	return fmt.Sprintf("%02d", t.UTC().Hour())
}

// NextUTCHour returns the start of the UTC hour after t.
func NextUTCHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour).Add(time.Hour)
}

// NextUTCMidnight returns the start of the UTC day after t.
func NextUTCMidnight(t time.Time) time.Time {
	return UsageDay(t).AddDate(0, 0, 1)
}
