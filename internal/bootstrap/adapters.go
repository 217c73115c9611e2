package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bizmarket/analysis-pipeline/config"
	"github.com/bizmarket/analysis-pipeline/internal/adapters/sweeper"
	"github.com/bizmarket/analysis-pipeline/internal/adapters/worker"
	"github.com/bizmarket/analysis-pipeline/internal/core"
	"github.com/bizmarket/analysis-pipeline/internal/observability/metrics"
	"github.com/bizmarket/analysis-pipeline/internal/service"
)

// WorkerConfig contains dependencies for the analysis worker.
type WorkerConfig struct {
	Jobs     worker.JobQueue
	Listings core.ListingRepository
	Config   config.WorkerConfig
	Logger   *slog.Logger
	Metrics  metrics.Sink
}

// RunWorker starts the analysis worker loops.
func RunWorker(ctx context.Context, cfg WorkerConfig) error {
	runner, err := worker.NewRunner(worker.RunnerOptions{
		Jobs:     cfg.Jobs,
		Listings: cfg.Listings,
		Config:   cfg.Config,
		Logger:   cfg.Logger,
		Metrics:  cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create analysis worker: %w", err)
	}
	return runner.Run(ctx)
}

// SweeperConfig contains dependencies for the retention sweeper.
type SweeperConfig struct {
	Jobs    service.JobMaintainer
	Config  config.SweeperConfig
	Logger  *slog.Logger
	Metrics metrics.Sink
}

// RunSweeper starts the sweeper service.
func RunSweeper(ctx context.Context, cfg SweeperConfig) error {
	runner, err := sweeper.NewRunner(sweeper.RunnerOptions{
		Jobs:    cfg.Jobs,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create sweeper runner: %w", err)
	}
	return runner.Run(ctx)
}
