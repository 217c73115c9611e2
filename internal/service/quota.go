package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bizmarket/analysis-pipeline/config"
	"github.com/bizmarket/analysis-pipeline/internal/core"
	"github.com/bizmarket/analysis-pipeline/internal/data"
	"github.com/bizmarket/analysis-pipeline/internal/domain/model"
	apperrors "github.com/bizmarket/analysis-pipeline/internal/errors"
	"github.com/bizmarket/analysis-pipeline/internal/observability/metrics"
)

// Actions recorded on usage violations.
const (
	ActionStartAnalysis = "start_analysis"
	ActionFollowUp      = "follow_up"
)

// QuotaServiceOptions groups dependencies for QuotaService.
type QuotaServiceOptions struct {
	Usage         core.UsageRepository        // Required: usage counters
	Plans         core.PlanCatalog            // Required: static plan limits
	Subscriptions core.SubscriptionRepository // Optional: plan lookup when the caller's tier is unknown
	Burst         core.BurstLimiter           // Optional: per-IP burst guard
	Config        config.QuotaConfig
	TimeProvider  data.TimeProvider // Optional: defaults to the system clock
	Metrics       metrics.Sink      // Optional: metrics sink
	Logger        *slog.Logger      // Optional: structured logger
}

// QuotaService admits analysis and follow-up requests against the caller's plan and
// records consumption.
type QuotaService struct {
	usage         core.UsageRepository
	plans         core.PlanCatalog
	subscriptions core.SubscriptionRepository
	burst         core.BurstLimiter
	cfg           config.QuotaConfig
	timeProvider  data.TimeProvider
	metrics       metrics.Sink
	logger        *slog.Logger
}

// NewQuotaService constructs a new QuotaService.
func NewQuotaService(opts QuotaServiceOptions) (*QuotaService, error) {
	if opts.Usage == nil {
		return nil, errors.New("UsageRepository is required")
	}
	if opts.Plans == nil {
		return nil, errors.New("PlanCatalog is required")
	}
	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &QuotaService{
		usage:         opts.Usage,
		plans:         opts.Plans,
		subscriptions: opts.Subscriptions,
		burst:         opts.Burst,
		cfg:           opts.Config,
		timeProvider:  tp,
		metrics:       opts.Metrics,
		logger:        logger.With("component", "quota_service"),
	}, nil
}

// MustNewQuotaService constructs a new QuotaService and panics on error.
func MustNewQuotaService(opts QuotaServiceOptions) *QuotaService {
	svc, err := NewQuotaService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create QuotaService: %v", err))
	}
	return svc
}

// ResolvePlan returns the limitations for the caller. A valid tier hint (for example
// from a trusted gateway header) wins; otherwise the stored subscription is used and
// anything unknown falls back to the free plan.
func (s *QuotaService) ResolvePlan(ctx context.Context, userID, hint string) *model.PlanLimitations {
	var tier model.PlanTier
	if err := tier.UnmarshalText([]byte(hint)); err == nil {
		return s.plans.Lookup(tier)
	}
	if s.subscriptions == nil || strings.TrimSpace(userID) == "" {
		return s.plans.Lookup(model.PlanFree)
	}
	tier, err := s.subscriptions.PlanFor(ctx, userID)
	if err != nil {
		s.logger.WarnContext(ctx, "plan lookup failed, using free plan", "user_id", userID, "error", err)
		return s.plans.Lookup(model.PlanFree)
	}
	return s.plans.Lookup(tier)
}

// CanRunAnalysis checks today's and this month's analysis counts against the plan.
func (s *QuotaService) CanRunAnalysis(
	ctx context.Context,
	userID string,
	plan *model.PlanLimitations,
) (*model.QuotaCheck, error) {
	if err := requireCaller(userID, plan); err != nil {
		return nil, err
	}
	now := s.timeProvider.Now()

	daily, err := s.usage.GetDaily(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("read daily usage: %w", err)
	}
	monthly, err := s.usage.GetMonthly(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("read monthly usage: %w", err)
	}

	check := &model.QuotaCheck{
		Allowed:          true,
		DailyRemaining:   model.Remaining(plan.DailyAnalysisLimit, daily.AnalysesTotal),
		MonthlyRemaining: model.Remaining(plan.MonthlyAnalysisLimit, monthly.AnalysesTotal),
	}
	switch {
	case model.Exceeded(plan.DailyAnalysisLimit, daily.AnalysesTotal):
		check.Allowed = false
		check.LimitType = model.LimitDailyAnalyses
		check.Reason = fmt.Sprintf("Daily analysis limit of %d reached for the %s plan", plan.DailyAnalysisLimit, plan.Tier)
	case model.Exceeded(plan.MonthlyAnalysisLimit, monthly.AnalysesTotal):
		check.Allowed = false
		check.LimitType = model.LimitMonthlyAnalyses
		check.Reason = fmt.Sprintf("Monthly analysis limit of %d reached for the %s plan", plan.MonthlyAnalysisLimit, plan.Tier)
	}
	return check, nil
}

// CanUseFollowUp checks today's follow-up count for the analysis type against the plan.
// MonthlyRemaining is always Unlimited since follow-ups have no monthly quota.
func (s *QuotaService) CanUseFollowUp(
	ctx context.Context,
	userID string,
	analysisType model.AnalysisType,
	plan *model.PlanLimitations,
) (*model.QuotaCheck, error) {
	if err := requireCaller(userID, plan); err != nil {
		return nil, err
	}
	if !analysisType.Valid() {
		return nil, apperrors.ValidationField("analysisType", fmt.Sprintf("invalid analysis type: %q", analysisType))
	}

	daily, err := s.usage.GetDaily(ctx, userID, s.timeProvider.Now())
	if err != nil {
		return nil, fmt.Errorf("read daily usage: %w", err)
	}

	quota := plan.FollowUpQuota(analysisType)
	used := daily.FollowUpsFor(analysisType)
	check := &model.QuotaCheck{
		Allowed:          true,
		DailyRemaining:   model.Remaining(quota, used),
		MonthlyRemaining: model.Unlimited,
	}
	if model.Exceeded(quota, used) {
		check.Allowed = false
		check.LimitType = model.LimitDailyFollowUps
		check.Reason = fmt.Sprintf("Daily follow-up limit of %d reached for %s", quota, analysisType)
	}
	return check, nil
}

// CheckRateLimit applies the time-window limits: the per-IP burst guard, hourly and
// daily question limits, then the daily cost threshold. Enterprise plans only get a
// warning at the cost threshold. Every rejection is recorded as a usage violation.
func (s *QuotaService) CheckRateLimit(ctx context.Context, req model.RateLimitRequest) (*model.RateLimitResult, error) {
	return s.checkRateLimit(ctx, req, ActionStartAnalysis)
}

func (s *QuotaService) checkRateLimit(
	ctx context.Context,
	req model.RateLimitRequest,
	action string,
) (*model.RateLimitResult, error) {
	if err := requireCaller(req.UserID, req.Plan); err != nil {
		return nil, err
	}
	plan := req.Plan
	now := s.timeProvider.Now()

	if res := s.checkIPBurst(ctx, req, action); res != nil {
		return res, nil
	}

	daily, err := s.usage.GetDaily(ctx, req.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("read daily usage: %w", err)
	}

	if hourly := daily.QuestionsInHour(now); model.Exceeded(plan.HourlyQuestionLimit, hourly) {
		retry := model.NextUTCHour(now)
		s.recordViolation(ctx, req, action, model.LimitHourlyQuestions, float64(hourly), float64(plan.HourlyQuestionLimit))
		return &model.RateLimitResult{
			LimitType:  model.LimitHourlyQuestions,
			Reason:     fmt.Sprintf("Hourly limit of %d requests reached. Try again at the top of the hour.", plan.HourlyQuestionLimit),
			RetryAfter: &retry,
		}, nil
	}

	if model.Exceeded(plan.DailyQuestionLimit, daily.QuestionsTotal) {
		retry := model.NextUTCMidnight(now)
		s.recordViolation(ctx, req, action, model.LimitDailyQuestions, float64(daily.QuestionsTotal), float64(plan.DailyQuestionLimit))
		return &model.RateLimitResult{
			LimitType:  model.LimitDailyQuestions,
			Reason:     fmt.Sprintf("Daily limit of %d requests reached. Try again tomorrow.", plan.DailyQuestionLimit),
			RetryAfter: &retry,
		}, nil
	}

	result := &model.RateLimitResult{Allowed: true}
	if plan.CostAlertThreshold != model.Unlimited && daily.CostTotal >= plan.CostAlertThreshold {
		if plan.IsEnterprise() {
			result.Warning = fmt.Sprintf("Daily cost of $%.2f is above the $%.2f alert threshold", daily.CostTotal, plan.CostAlertThreshold)
			s.logger.WarnContext(ctx, "cost alert threshold exceeded",
				"user_id", req.UserID,
				"plan", plan.Tier,
				"cost_today", daily.CostTotal,
				"threshold", plan.CostAlertThreshold,
			)
			return result, nil
		}
		retry := model.NextUTCMidnight(now)
		s.recordViolation(ctx, req, action, model.LimitDailyCost, daily.CostTotal, plan.CostAlertThreshold)
		return &model.RateLimitResult{
			LimitType:  model.LimitDailyCost,
			Reason:     "Daily usage cost limit reached. Upgrade your plan or try again tomorrow.",
			RetryAfter: &retry,
		}, nil
	}
	return result, nil
}

// checkIPBurst returns a rejection when the caller's IP exceeded its burst window.
// Limiter failures are logged and the request proceeds.
func (s *QuotaService) checkIPBurst(
	ctx context.Context,
	req model.RateLimitRequest,
	action string,
) *model.RateLimitResult {
	if s.burst == nil || s.cfg.IPBurstLimit <= 0 || req.IP == nil || strings.TrimSpace(*req.IP) == "" {
		return nil
	}
	res, err := s.burst.Allow(ctx, "ip:"+strings.TrimSpace(*req.IP), s.cfg.IPBurstLimit, s.cfg.IPBurstWindow)
	if err != nil {
		s.logger.WarnContext(ctx, "ip burst check failed", "error", err)
		return nil
	}
	if res.Allowed {
		return nil
	}
	retry := res.ResetAt
	s.recordViolation(ctx, req, action, model.LimitIPBurst, float64(res.Count), float64(s.cfg.IPBurstLimit))
	return &model.RateLimitResult{
		LimitType:  model.LimitIPBurst,
		Reason:     "Too many requests from this address. Please slow down.",
		RetryAfter: &retry,
	}
}

// IncrementUsage records one analysis or follow-up with its cost. When inc.Cost is
// zero the configured per-request cost for the usage type is charged.
func (s *QuotaService) IncrementUsage(ctx context.Context, inc model.UsageIncrement) error {
	if strings.TrimSpace(inc.UserID) == "" {
		return apperrors.Unauthorized("user id is required")
	}
	if !inc.UsageType.Valid() {
		return apperrors.Validationf("invalid usage type: %q", inc.UsageType)
	}
	if inc.Cost == 0 {
		inc.Cost = s.CostOf(inc.UsageType)
	}
	if inc.At.IsZero() {
		inc.At = s.timeProvider.Now()
	}
	if err := s.usage.Increment(ctx, inc); err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	metrics.EmitUsageCost(s.metrics, string(inc.UsageType), string(inc.AnalysisType), inc.Cost)
	s.logger.DebugContext(ctx, "usage recorded",
		"user_id", inc.UserID,
		"usage_type", inc.UsageType,
		"analysis_type", inc.AnalysisType,
		"cost", inc.Cost,
	)
	return nil
}

// CostOf returns the configured cost of one request of the usage type.
func (s *QuotaService) CostOf(t model.UsageType) float64 {
	if t == model.UsageTypeFollowUp {
		return s.cfg.FollowUpCost
	}
	return s.cfg.AnalysisCost
}

// AdmitAnalysis runs the start-path checks in order: rate limits, analysis quota,
// then the plan feature gate. A rejection is returned as *apperrors.AdmissionError.
func (s *QuotaService) AdmitAnalysis(ctx context.Context, req model.AdmissionRequest) error {
	if !req.AnalysisType.Valid() {
		return apperrors.ValidationField("analysisType", fmt.Sprintf("invalid analysis type: %q", req.AnalysisType))
	}
	rateReq := model.RateLimitRequest{UserID: req.UserID, Plan: req.Plan, IP: req.IP, UserAgent: req.UserAgent}

	rate, err := s.checkRateLimit(ctx, rateReq, ActionStartAnalysis)
	if err != nil {
		return err
	}
	if !rate.Allowed {
		s.emitAdmission(ActionStartAnalysis, req.Plan, false, rate.LimitType)
		return apperrors.RateLimited(string(rate.LimitType), rate.Reason, rate.RetryAfter)
	}

	quota, err := s.CanRunAnalysis(ctx, req.UserID, req.Plan)
	if err != nil {
		return err
	}
	if !quota.Allowed {
		used, limit := s.analysisUsage(ctx, req, quota.LimitType)
		s.recordViolation(ctx, rateReq, ActionStartAnalysis, quota.LimitType, used, limit)
		s.emitAdmission(ActionStartAnalysis, req.Plan, false, quota.LimitType)
		return apperrors.QuotaExceeded(string(quota.LimitType), quota.Reason)
	}

	if req.AnalysisType == model.AnalysisTypeBuyerMatch && !req.Plan.HasFeature(model.FeatureBuyerMatch) {
		s.recordViolation(ctx, rateReq, ActionStartAnalysis, model.LimitFeature, 0, 0)
		s.emitAdmission(ActionStartAnalysis, req.Plan, false, model.LimitFeature)
		return apperrors.FeatureDisabled(model.FeatureBuyerMatch,
			fmt.Sprintf("Buyer matching is not included in the %s plan", req.Plan.Tier))
	}

	s.emitAdmission(ActionStartAnalysis, req.Plan, true, "")
	return nil
}

// AdmitFollowUp runs the follow-up checks: rate limits, then the per-type daily quota.
// On success it returns the quota check taken before the question is charged.
func (s *QuotaService) AdmitFollowUp(ctx context.Context, req model.AdmissionRequest) (*model.QuotaCheck, error) {
	if !req.AnalysisType.Valid() {
		return nil, apperrors.ValidationField("analysisType", fmt.Sprintf("invalid analysis type: %q", req.AnalysisType))
	}
	rateReq := model.RateLimitRequest{UserID: req.UserID, Plan: req.Plan, IP: req.IP, UserAgent: req.UserAgent}
	rate, err := s.checkRateLimit(ctx, rateReq, ActionFollowUp)
	if err != nil {
		return nil, err
	}
	if !rate.Allowed {
		s.emitAdmission(ActionFollowUp, req.Plan, false, rate.LimitType)
		return nil, apperrors.RateLimited(string(rate.LimitType), rate.Reason, rate.RetryAfter)
	}
	check, err := s.CanUseFollowUp(ctx, req.UserID, req.AnalysisType, req.Plan)
	if err != nil {
		return nil, err
	}
	if !check.Allowed {
		quota := req.Plan.FollowUpQuota(req.AnalysisType)
		s.recordViolation(ctx, rateReq, ActionFollowUp, check.LimitType, float64(quota-check.DailyRemaining), float64(quota))
		s.emitAdmission(ActionFollowUp, req.Plan, false, check.LimitType)
		return nil, apperrors.QuotaExceeded(string(check.LimitType), check.Reason)
	}
	s.emitAdmission(ActionFollowUp, req.Plan, true, "")
	return check, nil
}

// Summary reports the caller's consumption and remaining allowance.
func (s *QuotaService) Summary(
	ctx context.Context,
	userID string,
	plan *model.PlanLimitations,
) (*model.UsageSummary, error) {
	if err := requireCaller(userID, plan); err != nil {
		return nil, err
	}
	now := s.timeProvider.Now()
	daily, err := s.usage.GetDaily(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("read daily usage: %w", err)
	}
	monthly, err := s.usage.GetMonthly(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("read monthly usage: %w", err)
	}

	followUps := make(map[model.AnalysisType]int, len(model.AnalysisTypes()))
	for _, t := range model.AnalysisTypes() {
		followUps[t] = model.Remaining(plan.FollowUpQuota(t), daily.FollowUpsFor(t))
	}
	return &model.UsageSummary{
		Plan:             plan.Tier,
		AnalysesToday:    daily.AnalysesTotal,
		AnalysesMonth:    monthly.AnalysesTotal,
		QuestionsToday:   daily.QuestionsTotal,
		CostToday:        daily.CostTotal,
		DailyRemaining:   model.Remaining(plan.DailyAnalysisLimit, daily.AnalysesTotal),
		MonthlyRemaining: model.Remaining(plan.MonthlyAnalysisLimit, monthly.AnalysesTotal),
		FollowUpsLeft:    followUps,
	}, nil
}

// analysisUsage re-derives the counter behind a quota rejection for the audit record.
func (s *QuotaService) analysisUsage(
	ctx context.Context,
	req model.AdmissionRequest,
	limit model.LimitType,
) (float64, float64) {
	now := s.timeProvider.Now()
	if limit == model.LimitMonthlyAnalyses {
		if m, err := s.usage.GetMonthly(ctx, req.UserID, now); err == nil {
			return float64(m.AnalysesTotal), float64(req.Plan.MonthlyAnalysisLimit)
		}
		return 0, float64(req.Plan.MonthlyAnalysisLimit)
	}
	if d, err := s.usage.GetDaily(ctx, req.UserID, now); err == nil {
		return float64(d.AnalysesTotal), float64(req.Plan.DailyAnalysisLimit)
	}
	return 0, float64(req.Plan.DailyAnalysisLimit)
}

func (s *QuotaService) recordViolation(
	ctx context.Context,
	req model.RateLimitRequest,
	action string,
	limitType model.LimitType,
	current, limitValue float64,
) {
	s.logger.WarnContext(ctx, "usage limit exceeded",
		"user_id", req.UserID,
		"plan", req.Plan.Tier,
		"action", action,
		"limit_type", limitType,
		"current", current,
		"limit", limitValue,
	)
	err := s.usage.RecordViolation(ctx, model.UsageViolation{
		UserID:    req.UserID,
		Plan:      req.Plan.Tier,
		Action:    action,
		LimitType: limitType,
		Current:   current,
		Limit:     limitValue,
		IP:        req.IP,
		UserAgent: req.UserAgent,
		CreatedAt: s.timeProvider.Now(),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record usage violation", "user_id", req.UserID, "error", err)
	}
}

func (s *QuotaService) emitAdmission(action string, plan *model.PlanLimitations, allowed bool, limit model.LimitType) {
	metrics.EmitAdmission(s.metrics, metrics.AdmissionMetric{
		Action:    action,
		Allowed:   allowed,
		LimitType: string(limit),
		Plan:      string(plan.Tier),
	})
}

func requireCaller(userID string, plan *model.PlanLimitations) error {
	if strings.TrimSpace(userID) == "" {
		return apperrors.Unauthorized("user id is required")
	}
	if plan == nil {
		return apperrors.Internal("plan limitations are required")
	}
	return nil
}
