package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bizmarket/analysis-pipeline/internal/core"
	"github.com/bizmarket/analysis-pipeline/internal/data/pgxutil"
	"github.com/bizmarket/analysis-pipeline/internal/domain/model"
)

// UsageRepo stores per-user usage counters in day and month rows.
type UsageRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

var _ core.UsageRepository = (*UsageRepo)(nil)

// NewUsageRepo creates a new UsageRepo.
func NewUsageRepo(db *sql.DB, cfg RepoConfig) *UsageRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageRepo{DB: db, timeProvider: tp, logger: logger.With("component", "usage_repo")}
}

// Every AI request counts as one question in the hourly bucket and the daily total.
// $4 is 1 for an analysis, $5 is 1 for a follow-up.
const incrementDailySQL = `
  INSERT INTO usage_daily (
    user_id, usage_date, analyses, follow_ups, hourly_questions,
    analyses_total, questions_total, cost_total, created_at, updated_at
  )
  VALUES (
    $1, $2,
    CASE WHEN $4::integer > 0 THEN jsonb_build_object($3::text, $4::integer) ELSE '{}'::jsonb END,
    CASE WHEN $5::integer > 0 THEN jsonb_build_object($3::text, $5::integer) ELSE '{}'::jsonb END,
    jsonb_build_object($6::text, 1),
    $4::integer, 1, $7::numeric, $8, $8
  )
  ON CONFLICT (user_id, usage_date) DO UPDATE SET
    analyses = usage_daily.analyses || CASE WHEN $4::integer > 0
      THEN jsonb_build_object($3::text, COALESCE((usage_daily.analyses->>$3::text)::integer, 0) + $4::integer)
      ELSE '{}'::jsonb END,
    follow_ups = usage_daily.follow_ups || CASE WHEN $5::integer > 0
      THEN jsonb_build_object($3::text, COALESCE((usage_daily.follow_ups->>$3::text)::integer, 0) + $5::integer)
      ELSE '{}'::jsonb END,
    hourly_questions = usage_daily.hourly_questions ||
      jsonb_build_object($6::text, COALESCE((usage_daily.hourly_questions->>$6::text)::integer, 0) + 1),
    analyses_total = usage_daily.analyses_total + $4::integer,
    questions_total = usage_daily.questions_total + 1,
    cost_total = usage_daily.cost_total + $7::numeric,
    updated_at = $8`

const incrementMonthlySQL = `
  INSERT INTO usage_monthly (
    user_id, usage_month, analyses, follow_ups,
    analyses_total, questions_total, cost_total, created_at, updated_at
  )
  VALUES (
    $1, $2,
    CASE WHEN $4::integer > 0 THEN jsonb_build_object($3::text, $4::integer) ELSE '{}'::jsonb END,
    CASE WHEN $5::integer > 0 THEN jsonb_build_object($3::text, $5::integer) ELSE '{}'::jsonb END,
    $4::integer, 1, $6::numeric, $7, $7
  )
  ON CONFLICT (user_id, usage_month) DO UPDATE SET
    analyses = usage_monthly.analyses || CASE WHEN $4::integer > 0
      THEN jsonb_build_object($3::text, COALESCE((usage_monthly.analyses->>$3::text)::integer, 0) + $4::integer)
      ELSE '{}'::jsonb END,
    follow_ups = usage_monthly.follow_ups || CASE WHEN $5::integer > 0
      THEN jsonb_build_object($3::text, COALESCE((usage_monthly.follow_ups->>$3::text)::integer, 0) + $5::integer)
      ELSE '{}'::jsonb END,
    analyses_total = usage_monthly.analyses_total + $4::integer,
    questions_total = usage_monthly.questions_total + 1,
    cost_total = usage_monthly.cost_total + $6::numeric,
    updated_at = $7`

// Increment adds one unit of usage to the day and month rows in one transaction.
func (r *UsageRepo) Increment(ctx context.Context, inc model.UsageIncrement) error {
	if inc.UserID == "" {
		return errors.New("user id is required")
	}
	if !inc.UsageType.Valid() {
		return fmt.Errorf("invalid usage type: %q", inc.UsageType)
	}
	if !inc.AnalysisType.Valid() {
		return fmt.Errorf("invalid analysis type: %q", inc.AnalysisType)
	}
	if inc.Cost < 0 {
		return errors.New("cost must not be negative")
	}

	at := inc.At
	if at.IsZero() {
		at = r.timeProvider.Now()
	}
	at = at.UTC()

	var analysisDelta, followUpDelta int
	if inc.UsageType == model.UsageTypeAnalysis {
		analysisDelta = 1
	} else {
		followUpDelta = 1
	}

	return pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, incrementDailySQL,
				inc.UserID, model.UsageDay(at), string(inc.AnalysisType),
				analysisDelta, followUpDelta, model.HourKey(at), inc.Cost, at,
			); err != nil {
				return fmt.Errorf("increment daily usage: %w", err)
			}
			if _, err := tx.ExecContext(ctx, incrementMonthlySQL,
				inc.UserID, model.UsageMonth(at), string(inc.AnalysisType),
				analysisDelta, followUpDelta, inc.Cost, at,
			); err != nil {
				return fmt.Errorf("increment monthly usage: %w", err)
			}
			return nil
		},
	})
}

// GetDaily returns the user's counters for the UTC day containing at.
func (r *UsageRepo) GetDaily(ctx context.Context, userID string, at time.Time) (*model.UsageRecord, error) {
	day := model.UsageDay(at)
	rec := &model.UsageRecord{
		UserID:          userID,
		Date:            day,
		Analyses:        map[model.AnalysisType]int{},
		FollowUps:       map[model.AnalysisType]int{},
		HourlyQuestions: map[string]int{},
	}

	var analyses, followUps, hourly []byte
	err := r.DB.QueryRowContext(ctx, `
		SELECT analyses, follow_ups, hourly_questions, analyses_total, questions_total, cost_total::float8
		FROM usage_daily
		WHERE user_id = $1 AND usage_date = $2
	`, userID, day).Scan(&analyses, &followUps, &hourly, &rec.AnalysesTotal, &rec.QuestionsTotal, &rec.CostTotal)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get daily usage: %w", err)
	}
	if err := decodeCounters(analyses, &rec.Analyses); err != nil {
		return nil, err
	}
	if err := decodeCounters(followUps, &rec.FollowUps); err != nil {
		return nil, err
	}
	if err := decodeCounters(hourly, &rec.HourlyQuestions); err != nil {
		return nil, err
	}
	return rec, nil
}

// GetMonthly returns the user's counters for the UTC month containing at.
func (r *UsageRepo) GetMonthly(ctx context.Context, userID string, at time.Time) (*model.MonthlyUsageRecord, error) {
	month := model.UsageMonth(at)
	rec := &model.MonthlyUsageRecord{
		UserID:    userID,
		Month:     month,
		Analyses:  map[model.AnalysisType]int{},
		FollowUps: map[model.AnalysisType]int{},
	}

	var analyses, followUps []byte
	err := r.DB.QueryRowContext(ctx, `
		SELECT analyses, follow_ups, analyses_total, questions_total, cost_total::float8
		FROM usage_monthly
		WHERE user_id = $1 AND usage_month = $2
	`, userID, month).Scan(&analyses, &followUps, &rec.AnalysesTotal, &rec.QuestionsTotal, &rec.CostTotal)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get monthly usage: %w", err)
	}
	if err := decodeCounters(analyses, &rec.Analyses); err != nil {
		return nil, err
	}
	if err := decodeCounters(followUps, &rec.FollowUps); err != nil {
		return nil, err
	}
	return rec, nil
}

// RecordViolation appends a rejected request to usage_violations.
func (r *UsageRepo) RecordViolation(ctx context.Context, v model.UsageViolation) error {
	created := v.CreatedAt
	if created.IsZero() {
		created = r.timeProvider.Now()
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO usage_violations (user_id, plan, action, limit_type, current_value, limit_value, ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, v.UserID, string(v.Plan), v.Action, string(v.LimitType), v.Current, v.Limit, v.IP, v.UserAgent, created.UTC())
	if err != nil {
		return fmt.Errorf("record usage violation: %w", err)
	}
	return nil
}

// ListViolations returns the most recent violations for a user, newest first.
func (r *UsageRepo) ListViolations(ctx context.Context, userID string, limit int) ([]model.UsageViolation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `
		SELECT user_id, plan, action, limit_type, current_value::float8, limit_value::float8, ip, user_agent, created_at
		FROM usage_violations
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list usage violations: %w", err)
	}
	defer rows.Close()

	var out []model.UsageViolation
	for rows.Next() {
		var (
			v             model.UsageViolation
			plan, limitTy string
			ip, ua        sql.NullString
		)
		if err := rows.Scan(&v.UserID, &plan, &v.Action, &limitTy, &v.Current, &v.Limit, &ip, &ua, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage violation: %w", err)
		}
		v.Plan = model.PlanTier(plan)
		v.LimitType = model.LimitType(limitTy)
		v.IP = cloneNullableString(ip)
		v.UserAgent = cloneNullableString(ua)
		v.CreatedAt = v.CreatedAt.UTC()
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage violations: %w", err)
	}
	return out, nil
}

func decodeCounters[K ~string](raw []byte, dst *map[K]int) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode usage counters: %w", err)
	}
	return nil
}
