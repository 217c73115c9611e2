// Package sweeper provides adapters for running the job retention sweeper.
package sweeper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bizmarket/analysis-pipeline/config"
	"github.com/bizmarket/analysis-pipeline/internal/data"
	"github.com/bizmarket/analysis-pipeline/internal/observability/metrics"
	"github.com/bizmarket/analysis-pipeline/internal/service"
)

// Runner provides a simple adapter to run the sweep loop.
type Runner struct {
	sweeper *service.SweeperService
	logger  *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB     *sql.DB
	Config config.SweeperConfig
	Logger *slog.Logger

	// Optional dependency injection for testing/decoupling
	Jobs    service.JobMaintainer
	Metrics metrics.Sink
}

// NewRunner creates a new sweeper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	sweeper, err := wireSweeperService(opts)
	if err != nil {
		return nil, fmt.Errorf("wire sweeper service: %w", err)
	}

	return &Runner{
		sweeper: sweeper,
		logger:  opts.Logger,
	}, nil
}

func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.DB == nil && opts.Jobs == nil {
		return errors.New("either DB or Jobs must be provided")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}

func wireSweeperService(opts RunnerOptions) (*service.SweeperService, error) {
	jobs := opts.Jobs
	if jobs == nil {
		repo := data.NewAnalysisJobRepo(opts.DB, data.RepoConfig{Logger: opts.Logger})
		svc, err := service.NewAnalysisJobService(service.AnalysisJobServiceOptions{
			Repo:    repo,
			Sweeper: repo,
			Config: service.AnalysisJobServiceConfig{
				RetentionMaxAge: opts.Config.RetentionMaxAge,
				SweepBatchSize:  opts.Config.BatchSize,
			},
			Metrics: opts.Metrics,
			Logger:  opts.Logger,
		})
		if err != nil {
			return nil, err
		}
		jobs = svc
	}

	return service.NewSweeperService(service.SweeperServiceOptions{
		Jobs:    jobs,
		Config:  opts.Config,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
}

// Run starts the sweep loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting sweeper runner")
	return r.sweeper.Run(ctx)
}

// RunOnce performs a single sweep pass.
func (r *Runner) RunOnce(ctx context.Context) error {
	return r.sweeper.RunOnce(ctx)
}
