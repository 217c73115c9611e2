package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/bizmarket/analysis-pipeline/internal/core"
	"github.com/bizmarket/analysis-pipeline/internal/domain/model"
	apperrors "github.com/bizmarket/analysis-pipeline/internal/errors"
	obserrors "github.com/bizmarket/analysis-pipeline/internal/observability/errors"
	"github.com/bizmarket/analysis-pipeline/internal/observability/metrics"
	"github.com/bizmarket/analysis-pipeline/internal/observability/notify"
	"github.com/bizmarket/analysis-pipeline/internal/service/failurenotifier"
)

// StartingStep is the step label written when a worker claims a job.
const StartingStep = "Starting analysis"

const (
	defaultRetentionMaxAge = 24 * time.Hour
	defaultSweepBatchSize  = 1000

	// sharedReadTimeout bounds a coalesced job read, which runs detached from
	// the callers that joined it.
	sharedReadTimeout = 10 * time.Second
)

// AnalysisJobServiceOptions groups dependencies for AnalysisJobService.
type AnalysisJobServiceOptions struct {
	Repo    core.AnalysisJobRepository // Required: job store
	Sweeper core.JobSweepRepository    // Optional: enables retention cleanup
	Cache   core.SnapshotCache       // Optional: caches finished job snapshots
	Config  AnalysisJobServiceConfig   // Optional: tuning
	Metrics metrics.Sink               // Optional: metrics sink
	Notify  *failurenotifier.Service   // Optional: failure fan-out
	Logger  *slog.Logger               // Optional: structured logger
}

// AnalysisJobServiceConfig holds tunables for AnalysisJobService.
type AnalysisJobServiceConfig struct {
	CacheTTL        time.Duration // zero disables the finished-job cache
	RetentionMaxAge time.Duration // default 24h
	SweepBatchSize  int           // default 1000
}

// AnalysisJobService is the job queue: creation with deduplication, status reads,
// guarded state transitions, atomic claim and retention cleanup.
type AnalysisJobService struct {
	repo    core.AnalysisJobRepository
	sweeper core.JobSweepRepository
	cache   core.SnapshotCache
	cfg     AnalysisJobServiceConfig
	metrics metrics.Sink
	notify  *failurenotifier.Service
	logger  *slog.Logger

	polls singleflight.Group
}

// NewAnalysisJobService constructs a new AnalysisJobService.
func NewAnalysisJobService(opts AnalysisJobServiceOptions) (*AnalysisJobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("AnalysisJobRepository is required")
	}

	cfg := opts.Config
	if cfg.RetentionMaxAge <= 0 {
		cfg.RetentionMaxAge = defaultRetentionMaxAge
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = defaultSweepBatchSize
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "analysis_job_service")

	return &AnalysisJobService{
		repo:    opts.Repo,
		sweeper: opts.Sweeper,
		cache:   opts.Cache,
		cfg:     cfg,
		metrics: opts.Metrics,
		notify:  opts.Notify,
		logger:  logger,
	}, nil
}

// MustNewAnalysisJobService constructs a new AnalysisJobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewAnalysisJobService(opts AnalysisJobServiceOptions) *AnalysisJobService {
	svc, err := NewAnalysisJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create AnalysisJobService: %v", err))
	}
	return svc
}

// CreateJob enqueues an analysis, or returns the live job for the same listing and
// type unchanged. The boolean reports whether an existing job was reused.
func (s *AnalysisJobService) CreateJob(
	ctx context.Context,
	req *model.CreateJobRequest,
) (*model.AnalysisJob, bool, error) {
	if req == nil {
		return nil, false, apperrors.Validation("request body is required")
	}
	if err := req.Validate(); err != nil {
		return nil, false, apperrors.Wrap(err, apperrors.ErrCodeValidation, err.Error())
	}

	job, reused, err := s.repo.CreateOrGetActive(ctx, req)
	if err != nil {
		return nil, false, fmt.Errorf("create job: %w", apperrors.MapDBError(err))
	}

	transition := "create"
	if reused {
		transition = "reuse"
	}
	s.emit(job.AnalysisType, transition, metrics.ResultSuccess, nil)
	s.logger.InfoContext(ctx, "analysis job enqueued",
		"job_id", job.ID,
		"listing_id", job.ListingID,
		"analysis_type", job.AnalysisType,
		"status", job.Status,
		"reused", reused,
	)
	return job, reused, nil
}

// GetJob returns a job by id. Concurrent polls of the same id share one read,
// and finished jobs are served from cache when one is configured. The shared
// read is not tied to any caller, so one caller going away only ends its own wait.
func (s *AnalysisJobService) GetJob(ctx context.Context, id string) (*model.AnalysisJob, error) {
	id, err := normalizeJobID(id)
	if err != nil {
		return nil, err
	}

	if job := s.cachedJob(ctx, id); job != nil {
		return job, nil
	}

	ch := s.polls.DoChan(id, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedReadTimeout)
		defer cancel()
		return s.repo.GetByID(rctx, id)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, mapJobErr(res.Err, "get job")
	}
	job, ok := res.Val.(*model.AnalysisJob)
	if !ok || job == nil {
		return nil, apperrors.Internal("unexpected job lookup result")
	}
	// Joined callers share the pointer.
	cp := *job
	s.cacheJob(ctx, &cp)
	return &cp, nil
}

// CheckJob reads a job straight from the store, bypassing the cache and shared
// reads. Workers use it to notice cancellation between steps.
func (s *AnalysisJobService) CheckJob(ctx context.Context, id string) (*model.AnalysisJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapJobErr(err, "check job")
	}
	return job, nil
}

// GetLatestJob returns the most recently created job for the listing and type.
func (s *AnalysisJobService) GetLatestJob(
	ctx context.Context,
	listingID string,
	analysisType model.AnalysisType,
) (*model.AnalysisJob, error) {
	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		return nil, apperrors.ValidationField("listingId", "listingId is required")
	}
	if !analysisType.Valid() {
		return nil, apperrors.ValidationField("analysisType", fmt.Sprintf("invalid analysis type: %q", analysisType))
	}
	job, err := s.repo.GetLatest(ctx, listingID, analysisType)
	if err != nil {
		return nil, mapJobErr(err, "get latest job")
	}
	return job, nil
}

// StartProcessing moves a queued job to processing. Returns false when the job was not queued.
func (s *AnalysisJobService) StartProcessing(ctx context.Context, id, step string) (bool, error) {
	ok, err := s.repo.StartProcessing(ctx, id, step)
	if err != nil {
		return false, fmt.Errorf("start processing %s: %w", id, err)
	}
	return ok, nil
}

// UpdateProgress records progress clamped to [0,100]. Progress never decreases.
// Returns false when the job is no longer processing.
func (s *AnalysisJobService) UpdateProgress(ctx context.Context, id string, progress int, step string) (bool, error) {
	ok, err := s.repo.UpdateProgress(ctx, id, model.ClampProgress(progress), step)
	if err != nil {
		return false, fmt.Errorf("update progress %s: %w", id, err)
	}
	if ok {
		s.logger.DebugContext(ctx, "job progress", "job_id", id, "progress", progress, "step", step)
	}
	return ok, nil
}

// CompleteJob stores the result of a processing job. Returns false when the job was
// no longer processing, in which case the result is discarded.
func (s *AnalysisJobService) CompleteJob(ctx context.Context, id string, result json.RawMessage) (bool, error) {
	ok, err := s.repo.Complete(ctx, id, result)
	if err != nil {
		return false, fmt.Errorf("complete job %s: %w", id, err)
	}
	if ok {
		s.logger.InfoContext(ctx, "analysis job completed", "job_id", id)
	} else {
		s.logger.InfoContext(ctx, "discarded result of job that is no longer processing", "job_id", id)
	}
	return ok, nil
}

// FailJob records a failure on a queued or processing job and notifies failure sinks.
func (s *AnalysisJobService) FailJob(ctx context.Context, id, message string) (bool, error) {
	ok, err := s.repo.Fail(ctx, id, message)
	if err != nil {
		return false, fmt.Errorf("fail job %s: %w", id, err)
	}
	if !ok {
		return false, nil
	}

	s.logger.WarnContext(ctx, "analysis job failed", "job_id", id, "error", message)
	if s.notify.Enabled() {
		s.notifyFailure(ctx, id, message)
	}
	return true, nil
}

func (s *AnalysisJobService) notifyFailure(ctx context.Context, id, message string) {
	payload := notify.JobFailurePayload{
		JobID:      id,
		Error:      message,
		ErrorClass: "analysis_error",
		OccurredAt: time.Now().UTC(),
	}
	if job, err := s.repo.GetByID(ctx, id); err == nil {
		payload.AnalysisType = string(job.AnalysisType)
		payload.ListingID = job.ListingID
		if job.UserID != nil {
			payload.UserID = *job.UserID
		}
		if job.CompletedAt != nil {
			payload.OccurredAt = *job.CompletedAt
		}
		payload.Metadata = map[string]string{"last_step": job.CurrentStep}
	} else {
		s.logger.WarnContext(ctx, "failed to load job for failure notification", "job_id", id, "error", err)
	}
	s.notify.NotifyJobFailure(ctx, payload)
}

// CancelJob cancels a queued or processing job and returns its updated state.
// Cancelling a finished job returns the job unchanged with a Conflict error.
func (s *AnalysisJobService) CancelJob(ctx context.Context, id string) (*model.AnalysisJob, error) {
	id, err := normalizeJobID(id)
	if err != nil {
		return nil, err
	}

	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapJobErr(err, "cancel job")
	}
	if job.Status.IsTerminal() {
		return job, apperrors.Conflictf("analysis job is already %s", job.Status)
	}

	changed, err := s.repo.Cancel(ctx, id)
	if err != nil {
		s.emit(job.AnalysisType, "cancel", metrics.ResultError, err)
		return nil, fmt.Errorf("cancel job %s: %w", id, err)
	}

	job, err = s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapJobErr(err, "cancel job")
	}
	if !changed {
		// Finished between the read and the update.
		return job, apperrors.Conflictf("analysis job is already %s", job.Status)
	}

	s.emit(job.AnalysisType, "cancel", metrics.ResultSuccess, nil)
	s.logger.InfoContext(ctx, "analysis job cancelled", "job_id", id, "analysis_type", job.AnalysisType)
	return job, nil
}

// GetNextQueuedJob atomically claims the oldest queued job and moves it to processing.
// Returns model.ErrNoJobsAvailable when the queue is empty.
func (s *AnalysisJobService) GetNextQueuedJob(ctx context.Context) (*model.AnalysisJob, error) {
	job, err := s.repo.ClaimNext(ctx, StartingStep)
	if errors.Is(err, model.ErrNoJobsAvailable) {
		s.count("worker.claim", metrics.ResultNoop)
		return nil, err
	}
	if err != nil {
		s.count("worker.claim", metrics.ResultError)
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	s.count("worker.claim", metrics.ResultSuccess)
	s.emit(job.AnalysisType, "claim", metrics.ResultSuccess, nil)
	attrs := []any{"job_id", job.ID, "listing_id", job.ListingID, "analysis_type", job.AnalysisType}
	if job.StartedAt != nil {
		attrs = append(attrs, "queued_for", job.StartedAt.Sub(job.CreatedAt))
	}
	s.logger.InfoContext(ctx, "analysis job claimed", attrs...)
	return job, nil
}

// CleanupOldJobs deletes finished jobs older than the retention window, batch by batch,
// and returns how many were removed. Queued and processing jobs are never touched.
func (s *AnalysisJobService) CleanupOldJobs(ctx context.Context) (int64, error) {
	if s.sweeper == nil {
		return 0, errors.New("job sweeper is not configured")
	}
	var total int64
	for {
		n, err := s.sweeper.DeleteExpired(ctx, core.DeleteExpiredJobsParams{
			MaxAge:    s.cfg.RetentionMaxAge,
			BatchSize: s.cfg.SweepBatchSize,
		})
		if err != nil {
			return total, fmt.Errorf("delete expired jobs: %w", err)
		}
		total += n
		if n < int64(s.cfg.SweepBatchSize) {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
	if total > 0 {
		s.logger.InfoContext(ctx, "deleted expired analysis jobs", "count", total, "max_age", s.cfg.RetentionMaxAge)
	}
	return total, nil
}

// FailAbandonedJobs fails processing jobs that have not reported progress within maxAge.
func (s *AnalysisJobService) FailAbandonedJobs(ctx context.Context, maxAge time.Duration) (int64, error) {
	if s.sweeper == nil {
		return 0, errors.New("job sweeper is not configured")
	}
	if maxAge <= 0 {
		return 0, nil
	}
	var total int64
	for {
		n, err := s.sweeper.FailStaleProcessing(ctx, maxAge, s.cfg.SweepBatchSize)
		if err != nil {
			return total, fmt.Errorf("fail abandoned jobs: %w", err)
		}
		total += n
		if n < int64(s.cfg.SweepBatchSize) {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
	if total > 0 {
		s.logger.WarnContext(ctx, "failed abandoned analysis jobs", "count", total, "max_age", maxAge)
	}
	return total, nil
}

// WaitForChange blocks until the job's visible state differs from seen or ctx is done.
func (s *AnalysisJobService) WaitForChange(ctx context.Context, id string, seen model.JobMark) error {
	id, err := normalizeJobID(id)
	if err != nil {
		return err
	}
	return s.repo.WaitForUpdate(ctx, id, seen)
}

// Stats returns job counts by status.
func (s *AnalysisJobService) Stats(ctx context.Context) (*model.AnalysisJobStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return stats, nil
}

func (s *AnalysisJobService) cachedJob(ctx context.Context, id string) *model.AnalysisJob {
	if s.cache == nil || s.cfg.CacheTTL <= 0 {
		return nil
	}
	raw, ok, err := s.cache.Lookup(ctx, jobCacheKey(id))
	if err != nil {
		s.logger.DebugContext(ctx, "job cache read failed", "job_id", id, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	var job model.AnalysisJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil
	}
	return &job
}

// cacheJob stores finished jobs only; their state can no longer change.
func (s *AnalysisJobService) cacheJob(ctx context.Context, job *model.AnalysisJob) {
	if s.cache == nil || s.cfg.CacheTTL <= 0 || !job.Status.IsTerminal() {
		return
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return
	}
	if err := s.cache.Store(ctx, jobCacheKey(job.ID), raw, s.cfg.CacheTTL); err != nil {
		s.logger.DebugContext(ctx, "job cache write failed", "job_id", job.ID, "error", err)
	}
}

func jobCacheKey(id string) string {
	return "job:" + id
}

func (s *AnalysisJobService) emit(t model.AnalysisType, transition, result string, err error) {
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		AnalysisType: string(t),
		Transition:   transition,
		Result:       result,
		Err:          err,
	})
}

func (s *AnalysisJobService) count(name, result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Count(name, 1, map[string]string{"result": result})
}

func normalizeJobID(id string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", apperrors.ValidationField("id", "invalid job id")
	}
	return parsed.String(), nil
}

func mapJobErr(err error, op string) error {
	if errors.Is(err, model.ErrJobNotFound) {
		return apperrors.Wrap(err, apperrors.ErrCodeNotFound, "analysis job not found")
	}
	if apperrors.GetCode(err) != "" {
		return err
	}
	return apperrors.Wrapf(err, apperrors.ErrCodeInternal, "%s failed (%s)", op, obserrors.Classify(err))
}
