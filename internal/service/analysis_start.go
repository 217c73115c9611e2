package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bizmarket/analysis-pipeline/internal/domain/model"
	apperrors "github.com/bizmarket/analysis-pipeline/internal/errors"
)

// StartRequest is a caller's request to start an analysis.
type StartRequest struct {
	UserID       string
	PlanHint     string
	ListingID    string
	AnalysisType model.AnalysisType
	Parameters   json.RawMessage
	IP           *string
	UserAgent    *string
}

// StartResult is the job handle returned by Start.
type StartResult struct {
	Job    *model.AnalysisJob
	Reused bool
}

// AnalysisStartServiceOptions groups dependencies for AnalysisStartService.
type AnalysisStartServiceOptions struct {
	Jobs   *AnalysisJobService // Required
	Quota  *QuotaService       // Required
	Logger *slog.Logger        // Optional
}

// AnalysisStartService admits a start request and creates or reuses its job.
type AnalysisStartService struct {
	jobs   *AnalysisJobService
	quota  *QuotaService
	logger *slog.Logger
}

// NewAnalysisStartService constructs a new AnalysisStartService.
func NewAnalysisStartService(opts AnalysisStartServiceOptions) (*AnalysisStartService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("AnalysisJobService is required")
	}
	if opts.Quota == nil {
		return nil, errors.New("QuotaService is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisStartService{
		jobs:   opts.Jobs,
		quota:  opts.Quota,
		logger: logger.With("component", "analysis_start_service"),
	}, nil
}

// Start admits the request and enqueues the analysis. Only a newly created job is
// charged; a reused active job is returned as-is. Admission failures are returned as
// *errors.AdmissionError before any job exists.
func (s *AnalysisStartService) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	create := &model.CreateJobRequest{
		ListingID:    req.ListingID,
		AnalysisType: req.AnalysisType,
		Parameters:   req.Parameters,
	}
	if req.UserID != "" {
		uid := req.UserID
		create.UserID = &uid
	}
	if err := create.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, err.Error())
	}

	// Re-attaching to a live job is free and skips admission.
	if latest, err := s.jobs.GetLatestJob(ctx, create.ListingID, create.AnalysisType); err == nil && latest.Status.IsActive() {
		return &StartResult{Job: latest, Reused: true}, nil
	} else if err != nil && !apperrors.IsNotFound(err) {
		return nil, err
	}

	plan := s.quota.ResolvePlan(ctx, req.UserID, req.PlanHint)
	if err := s.quota.AdmitAnalysis(ctx, model.AdmissionRequest{
		UserID:       req.UserID,
		Plan:         plan,
		AnalysisType: req.AnalysisType,
		IP:           req.IP,
		UserAgent:    req.UserAgent,
	}); err != nil {
		return nil, err
	}

	job, reused, err := s.jobs.CreateJob(ctx, create)
	if err != nil {
		return nil, err
	}
	if reused {
		return &StartResult{Job: job, Reused: true}, nil
	}

	if err := s.quota.IncrementUsage(ctx, model.UsageIncrement{
		UserID:       req.UserID,
		UsageType:    model.UsageTypeAnalysis,
		AnalysisType: req.AnalysisType,
	}); err != nil {
		// The job is queued either way; a failed charge is only logged.
		s.logger.ErrorContext(ctx, "failed to record analysis usage",
			"user_id", req.UserID,
			"job_id", job.ID,
			"error", err,
		)
	}
	return &StartResult{Job: job}, nil
}

// FollowUpRequest asks to spend one follow-up question on an analysis type.
type FollowUpRequest struct {
	UserID       string
	PlanHint     string
	AnalysisType model.AnalysisType
	Cost         float64 // zero charges the configured follow-up cost
	IP           *string
	UserAgent    *string
}

// FollowUpGrant is an admitted follow-up and the allowance left after it.
type FollowUpGrant struct {
	AnalysisType   model.AnalysisType `json:"analysisType"`
	DailyRemaining int                `json:"dailyRemaining"`
}

// FollowUp admits and charges one follow-up question. Answering it is left to the
// caller. Unlike a start, a follow-up whose charge cannot be recorded is refused.
func (s *AnalysisStartService) FollowUp(ctx context.Context, req FollowUpRequest) (*FollowUpGrant, error) {
	if req.Cost < 0 {
		return nil, apperrors.ValidationField("cost", "cost must not be negative")
	}
	plan := s.quota.ResolvePlan(ctx, req.UserID, req.PlanHint)
	check, err := s.quota.AdmitFollowUp(ctx, model.AdmissionRequest{
		UserID:       req.UserID,
		Plan:         plan,
		AnalysisType: req.AnalysisType,
		IP:           req.IP,
		UserAgent:    req.UserAgent,
	})
	if err != nil {
		return nil, err
	}

	if err := s.quota.IncrementUsage(ctx, model.UsageIncrement{
		UserID:       req.UserID,
		UsageType:    model.UsageTypeFollowUp,
		AnalysisType: req.AnalysisType,
		Cost:         req.Cost,
	}); err != nil {
		return nil, fmt.Errorf("record follow-up usage: %w", err)
	}

	remaining := check.DailyRemaining
	if remaining != model.Unlimited {
		remaining = max(remaining-1, 0)
	}
	return &FollowUpGrant{AnalysisType: req.AnalysisType, DailyRemaining: remaining}, nil
}

// Plan exposes plan resolution for handlers that report usage.
func (s *AnalysisStartService) Plan(ctx context.Context, userID, hint string) *model.PlanLimitations {
	return s.quota.ResolvePlan(ctx, userID, hint)
}

// Usage returns the caller's usage summary.
func (s *AnalysisStartService) Usage(ctx context.Context, userID, hint string) (*model.UsageSummary, error) {
	summary, err := s.quota.Summary(ctx, userID, s.quota.ResolvePlan(ctx, userID, hint))
	if err != nil {
		return nil, fmt.Errorf("usage summary: %w", err)
	}
	return summary, nil
}
