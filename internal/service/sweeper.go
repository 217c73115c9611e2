package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bizmarket/analysis-pipeline/config"
	"github.com/bizmarket/analysis-pipeline/internal/domain/model"
	obserrors "github.com/bizmarket/analysis-pipeline/internal/observability/errors"
	"github.com/bizmarket/analysis-pipeline/internal/observability/metrics"
)

// JobMaintainer is the subset of AnalysisJobService the sweeper drives.
type JobMaintainer interface {
	FailAbandonedJobs(ctx context.Context, maxAge time.Duration) (int64, error)
	CleanupOldJobs(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (*model.AnalysisJobStats, error)
}

// SweeperServiceOptions groups dependencies for SweeperService.
type SweeperServiceOptions struct {
	Jobs    JobMaintainer        // Required: job maintenance operations
	Config  config.SweeperConfig // Required: sweep configuration
	Logger  *slog.Logger         // Optional: structured logger
	Metrics metrics.Sink         // Optional: metrics sink
}

// SweeperService periodically maintains the analysis job table.
//
// Each pass:
// - fails processing jobs whose worker stopped reporting progress,
// - deletes finished jobs past the retention window,
// - publishes job counts by status.
type SweeperService struct {
	jobs    JobMaintainer
	config  config.SweeperConfig
	logger  *slog.Logger
	metrics metrics.Sink
}

// NewSweeperService constructs a new SweeperService.
func NewSweeperService(opts SweeperServiceOptions) (*SweeperService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobMaintainer is required")
	}
	if opts.Config.Interval <= 0 {
		return nil, errors.New("sweeper interval must be positive")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sweeper_service")
	logger.Debug("SweeperService initialized",
		"interval", opts.Config.Interval,
		"retention_max_age", opts.Config.RetentionMaxAge,
		"stale_processing_age", opts.Config.StaleProcessingAge,
	)

	return &SweeperService{
		jobs:    opts.Jobs,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Run starts the sweep loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *SweeperService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting sweeper service", "interval", s.config.Interval)

	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.RunOnce(ctx); err != nil {
		s.logSweepError(ctx, err, "initial sweep")
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "sweeper service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logSweepError(ctx, err, "sweep")
			}
		}
	}
}

// waitWithJitter delays up to 10% of the interval so replicas do not sweep in lockstep.
func (s *SweeperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

type sweepStep struct {
	operation string
	label     string
	fn        func(context.Context) (int64, error)
}

type sweepOutcome struct {
	operation string
	count     int64
	err       error
}

// RunOnce performs one sweep pass. Step failures do not stop later steps.
func (s *SweeperService) RunOnce(ctx context.Context) error {
	start := time.Now()

	steps := []sweepStep{
		{
			operation: "fail_abandoned",
			label:     "fail abandoned jobs",
			fn: func(ctx context.Context) (int64, error) {
				return s.jobs.FailAbandonedJobs(ctx, s.config.StaleProcessingAge)
			},
		},
		{
			operation: "delete_expired",
			label:     "delete expired jobs",
			fn:        s.jobs.CleanupOldJobs,
		},
	}

	var (
		errs        []error
		allCanceled = true
		outcomes    = make([]sweepOutcome, 0, len(steps))
	)
	for _, step := range steps {
		count, err := step.fn(ctx)
		outcomes = append(outcomes, sweepOutcome{
			operation: step.operation,
			count:     count,
			err:       suppressContextCancellation(err),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.label, err))
			allCanceled = allCanceled && isContextCancellation(err)
		}
	}

	s.emitSweepMetrics(outcomes, time.Since(start))
	s.publishJobCounts(ctx)

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allCanceled {
			return context.Canceled
		}
		return fmt.Errorf("sweep failed: %w", joined)
	}
	return nil
}

func (s *SweeperService) publishJobCounts(ctx context.Context) {
	if s.metrics == nil || ctx.Err() != nil {
		return
	}
	stats, err := s.jobs.Stats(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to read job stats", "error", err)
		return
	}
	counts := map[model.JobStatus]int{
		model.JobStatusQueued:     stats.Queued,
		model.JobStatusProcessing: stats.Processing,
		model.JobStatusCompleted:  stats.Completed,
		model.JobStatusFailed:     stats.Failed,
		model.JobStatusCancelled:  stats.Cancelled,
	}
	for status, n := range counts {
		s.metrics.Gauge("jobs.by_status", float64(n), map[string]string{"status": string(status)})
	}
}

func (s *SweeperService) emitSweepMetrics(outcomes []sweepOutcome, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}

	var (
		total    int64
		firstErr error
	)
	for _, o := range outcomes {
		total += o.count
		if firstErr == nil && o.err != nil {
			firstErr = o.err
		}
	}

	tags := map[string]string{"result": resultFor(total, firstErr)}
	if firstErr != nil {
		if class := obserrors.Classify(firstErr); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("sweeper.run", 1, tags)
	if elapsed > 0 {
		s.metrics.Timing("sweeper.duration", elapsed, metrics.CloneTags(tags))
	}

	for _, o := range outcomes {
		if o.err == nil && o.count > 0 {
			s.metrics.Count("sweeper.jobs_processed", o.count, map[string]string{"operation": o.operation})
		}
	}

	if firstErr == nil {
		s.metrics.Gauge("sweeper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func resultFor(count int64, err error) string {
	switch {
	case err != nil:
		return metrics.ResultError
	case count == 0:
		return metrics.ResultNoop
	default:
		return metrics.ResultSuccess
	}
}

func (s *SweeperService) logSweepError(ctx context.Context, err error, label string) {
	if err == nil {
		return
	}
	if isContextCancellation(err) {
		s.logger.DebugContext(ctx, label+" cancelled by context", "error", err)
		return
	}
	s.logger.ErrorContext(ctx, label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
