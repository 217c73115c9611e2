// Package worker runs the analysis worker loops that claim queued jobs and execute them.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bizmarket/analysis-pipeline/config"
	"github.com/bizmarket/analysis-pipeline/internal/analysis"
	"github.com/bizmarket/analysis-pipeline/internal/core"
	"github.com/bizmarket/analysis-pipeline/internal/domain/model"
	apperrors "github.com/bizmarket/analysis-pipeline/internal/errors"
	"github.com/bizmarket/analysis-pipeline/internal/observability/metrics"
)

// Step labels written by the worker itself; analyzers report their own between 30 and 90.
const (
	StepLoadingListing   = "Loading listing data"
	StepPreparingContext = "Preparing analysis context"
)

const finalizeTimeout = 10 * time.Second

// errAborted stops a job whose status changed underneath the worker.
var errAborted = errors.New("job is no longer active")

// JobQueue is the subset of the job service the worker drives.
type JobQueue interface {
	GetNextQueuedJob(ctx context.Context) (*model.AnalysisJob, error)
	CheckJob(ctx context.Context, id string) (*model.AnalysisJob, error)
	UpdateProgress(ctx context.Context, id string, progress int, step string) (bool, error)
	CompleteJob(ctx context.Context, id string, result json.RawMessage) (bool, error)
	FailJob(ctx context.Context, id, message string) (bool, error)
}

// RunnerOptions configures the worker.
type RunnerOptions struct {
	Jobs      JobQueue               // Required
	Listings  core.ListingRepository // Required
	Analyzers *analysis.Registry     // Defaults to analysis.DefaultRegistry()
	Config    config.WorkerConfig
	Logger    *slog.Logger
	Metrics   metrics.Sink
}

// Runner claims and executes analysis jobs.
type Runner struct {
	jobs      JobQueue
	listings  core.ListingRepository
	analyzers *analysis.Registry
	cfg       config.WorkerConfig
	logger    *slog.Logger
	metrics   metrics.Sink
}

// NewRunner constructs a worker runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobQueue is required")
	}
	if opts.Listings == nil {
		return nil, errors.New("ListingRepository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	analyzers := opts.Analyzers
	if analyzers == nil {
		analyzers = analysis.DefaultRegistry()
	}
	cfg := opts.Config
	cfg.Sanitize()

	return &Runner{
		jobs:      opts.Jobs,
		listings:  opts.Listings,
		analyzers: analyzers,
		cfg:       cfg,
		logger:    logger.With("component", "analysis_worker"),
		metrics:   opts.Metrics,
	}, nil
}

// Run starts the configured number of worker loops and blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting analysis worker",
		"workers", r.cfg.Concurrency,
		"poll_interval", r.cfg.PollInterval,
		"job_timeout", r.cfg.JobTimeout,
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := range r.cfg.Concurrency {
		g.Go(func() error {
			return r.loop(gctx, i)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	r.logger.InfoContext(ctx, "analysis worker stopped")
	return nil
}

func (r *Runner) loop(ctx context.Context, worker int) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		r.drain(ctx, worker)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drain processes jobs back to back until the queue is empty or a claim fails.
func (r *Runner) drain(ctx context.Context, worker int) {
	for ctx.Err() == nil {
		processed, err := r.ProcessNext(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.ErrorContext(ctx, "claim next job", "worker", worker, "error", err)
			}
			return
		}
		if !processed {
			return
		}
	}
}

// ProcessNext claims one queued job and runs it to a terminal state.
// It reports false when the queue was empty.
func (r *Runner) ProcessNext(ctx context.Context) (bool, error) {
	job, err := r.jobs.GetNextQueuedJob(ctx)
	if errors.Is(err, model.ErrNoJobsAvailable) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get next queued job: %w", err)
	}
	r.process(ctx, job)
	return true, nil
}

func (r *Runner) process(ctx context.Context, job *model.AnalysisJob) {
	start := time.Now()
	logger := r.logger.With("job_id", job.ID, "listing_id", job.ListingID, "analysis_type", job.AnalysisType)
	logger.InfoContext(ctx, "processing analysis job")

	jobCtx, cancel := context.WithTimeout(ctx, r.cfg.JobTimeout)
	defer cancel()

	result, err := r.execute(jobCtx, job)

	// Terminal writes must land even when the job deadline or shutdown already fired.
	fctx, fcancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer fcancel()

	emit := func(transition, outcome string, err error) {
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			AnalysisType: string(job.AnalysisType),
			Transition:   transition,
			Result:       outcome,
			Duration:     time.Since(start),
			Err:          err,
		})
	}

	switch {
	case errors.Is(err, errAborted):
		logger.InfoContext(ctx, "analysis job aborted", "reason", err)
		emit("aborted", metrics.ResultNoop, nil)
	case err != nil:
		msg := r.failureMessage(ctx, jobCtx, err)
		if _, ferr := r.jobs.FailJob(fctx, job.ID, msg); ferr != nil {
			logger.ErrorContext(ctx, "fail job error", "error", ferr, "original_error", err)
		}
		logger.WarnContext(ctx, "analysis job failed", "error", err, "duration", time.Since(start))
		emit("failed", metrics.ResultError, err)
	default:
		r.complete(ctx, fctx, logger, job, result, emit)
	}
}

func (r *Runner) complete(
	ctx, fctx context.Context,
	logger *slog.Logger,
	job *model.AnalysisJob,
	result map[string]any,
	emit func(transition, outcome string, err error),
) {
	payload, err := json.Marshal(result)
	if err != nil {
		if _, ferr := r.jobs.FailJob(fctx, job.ID, fmt.Sprintf("encode analysis result: %v", err)); ferr != nil {
			logger.ErrorContext(ctx, "fail job error", "error", ferr)
		}
		emit("failed", metrics.ResultError, err)
		return
	}

	ok, err := r.jobs.CompleteJob(fctx, job.ID, payload)
	switch {
	case err != nil:
		logger.ErrorContext(ctx, "complete job error", "error", err)
		emit("completed", metrics.ResultError, err)
	case !ok:
		logger.InfoContext(ctx, "analysis job finished after it left processing; result dropped")
		emit("completed", metrics.ResultNoop, nil)
	default:
		logger.InfoContext(ctx, "analysis job completed", "demo", result["demo"])
		emit("completed", metrics.ResultSuccess, nil)
	}
}

func (r *Runner) failureMessage(ctx, jobCtx context.Context, err error) string {
	switch {
	case ctx.Err() != nil:
		return "worker shut down before the analysis finished"
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		return fmt.Sprintf("analysis timed out after %s", r.cfg.JobTimeout)
	default:
		return err.Error()
	}
}

// execute runs the job steps. A panic in any step becomes an error.
func (r *Runner) execute(ctx context.Context, job *model.AnalysisJob) (result map[string]any, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "analysis panicked", "job_id", job.ID, "panic", p, "stack", string(debug.Stack()))
			result, err = nil, fmt.Errorf("analysis panicked: %v", p)
		}
	}()

	progress := r.progressFunc(job.ID)

	if err := progress(ctx, 10, StepLoadingListing); err != nil {
		return nil, err
	}
	listing, demo, err := r.loadListing(ctx, job.ListingID)
	if err != nil {
		return nil, err
	}

	if err := progress(ctx, 20, StepPreparingContext); err != nil {
		return nil, err
	}
	in, err := analysis.Normalize(listing, job.Parameters)
	if err != nil {
		return nil, fmt.Errorf("prepare analysis context: %w", err)
	}
	in.Demo = demo

	analyzer, err := r.analyzers.Lookup(job.AnalysisType)
	if err != nil {
		return nil, err
	}
	out, err := analyzer.Analyze(ctx, in, progress)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	out["demo"] = demo
	return out, nil
}

func (r *Runner) loadListing(ctx context.Context, id string) (*model.Listing, bool, error) {
	listing, err := r.listings.GetListing(ctx, id)
	switch {
	case err == nil:
		return listing, false, nil
	case errors.Is(err, model.ErrListingNotFound):
		r.logger.InfoContext(ctx, "listing not found; using demo listing", "listing_id", id)
		return analysis.DemoListing(id), true, nil
	default:
		return nil, false, fmt.Errorf("load listing: %w", err)
	}
}

// progressFunc re-reads the job before each write so a cancelled job stops at the next step.
func (r *Runner) progressFunc(id string) analysis.ProgressFunc {
	return func(ctx context.Context, pct int, step string) error {
		current, err := r.jobs.CheckJob(ctx, id)
		if err != nil {
			if apperrors.IsNotFound(err) {
				return errAborted
			}
			return fmt.Errorf("check job status: %w", err)
		}
		if current.Status != model.JobStatusProcessing {
			return fmt.Errorf("%w: status %s", errAborted, current.Status)
		}
		ok, err := r.jobs.UpdateProgress(ctx, id, pct, step)
		if err != nil {
			return fmt.Errorf("update progress: %w", err)
		}
		if !ok {
			return errAborted
		}
		return nil
	}
}
