// Package core declares the ports the analysis pipeline services depend on.
package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bizmarket/analysis-pipeline/internal/domain/model"
)

// AnalysisJobRepository defines persistence operations for analysis jobs.
// Every state transition is guarded by the current status; a transition that does
// not apply returns (false, nil) rather than an error.
type AnalysisJobRepository interface {
	// CreateOrGetActive returns the queued or processing job for the request's
	// (listing, type) pair when one exists, otherwise inserts a new queued job.
	// The boolean reports whether an existing job was returned.
	CreateOrGetActive(ctx context.Context, req *model.CreateJobRequest) (*model.AnalysisJob, bool, error)

	// GetByID returns the job or model.ErrJobNotFound.
	GetByID(ctx context.Context, id string) (*model.AnalysisJob, error)

	// GetLatest returns the most recently created job for the pair or model.ErrJobNotFound.
	GetLatest(ctx context.Context, listingID string, analysisType model.AnalysisType) (*model.AnalysisJob, error)

	// ClaimNext atomically moves the oldest queued job to processing.
	// Returns model.ErrNoJobsAvailable when the queue is empty.
	ClaimNext(ctx context.Context, step string) (*model.AnalysisJob, error)

	StartProcessing(ctx context.Context, id, step string) (bool, error)
	UpdateProgress(ctx context.Context, id string, progress int, step string) (bool, error)
	Complete(ctx context.Context, id string, result json.RawMessage) (bool, error)
	Fail(ctx context.Context, id, message string) (bool, error)
	Cancel(ctx context.Context, id string) (bool, error)

	// WaitForUpdate blocks until the job's visible state differs from seen or ctx is done.
	WaitForUpdate(ctx context.Context, id string, seen model.JobMark) error

	// Stats returns job counts by status.
	Stats(ctx context.Context) (*model.AnalysisJobStats, error)
}

// DeleteExpiredJobsParams groups parameters for DeleteExpired.
type DeleteExpiredJobsParams struct {
	MaxAge    time.Duration
	BatchSize int
}

// JobSweepRepository defines retention cleanup for finished analysis jobs.
type JobSweepRepository interface {
	// DeleteExpired deletes up to BatchSize completed, failed or cancelled jobs whose
	// completed_at is older than MaxAge. Queued and processing jobs are never touched.
	DeleteExpired(ctx context.Context, params DeleteExpiredJobsParams) (int64, error)

	// FailStaleProcessing fails up to batchSize processing jobs not updated within maxAge.
	FailStaleProcessing(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
}

// UsageRepository defines storage for per-user usage counters.
type UsageRepository interface {
	// GetDaily returns the counters for the UTC day containing at. A missing row is a zero record.
	GetDaily(ctx context.Context, userID string, at time.Time) (*model.UsageRecord, error)

	// GetMonthly returns the counters for the UTC month containing at. A missing row is a zero record.
	GetMonthly(ctx context.Context, userID string, at time.Time) (*model.MonthlyUsageRecord, error)

	// Increment atomically adds one unit (and its cost) to the day and month rows.
	Increment(ctx context.Context, inc model.UsageIncrement) error

	// RecordViolation appends a rejected request to the audit log.
	RecordViolation(ctx context.Context, v model.UsageViolation) error
}

// ListingRepository reads marketplace listings for analysis.
type ListingRepository interface {
	// GetListing returns the listing document or model.ErrListingNotFound.
	GetListing(ctx context.Context, id string) (*model.Listing, error)
}

// SubscriptionRepository resolves a user's plan tier.
type SubscriptionRepository interface {
	// PlanFor returns the active plan of the user, or model.PlanFree when none is stored.
	PlanFor(ctx context.Context, userID string) (model.PlanTier, error)
}

// BurstLimiter is a per-key fixed window counter.
type BurstLimiter interface {
	// Allow counts one hit for key and reports whether it is within limit for window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (BurstResult, error)
}

// BurstResult is the outcome of a BurstLimiter check.
type BurstResult struct {
	Allowed   bool
	Count     int64
	ResetAt   time.Time
	Remaining int64
}

// PlanCatalog looks up static plan limitations.
type PlanCatalog interface {
	Lookup(tier model.PlanTier) *model.PlanLimitations
}
