// Command analysisd runs the analysis pipeline: the HTTP API, the job worker
// and the retention sweeper, selected through SERVICES.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/bizmarket/analysis-pipeline/config"
	"github.com/bizmarket/analysis-pipeline/internal/bootstrap"
)

func main() {
	logger := bootstrap.InitLogger()
	if err := run(context.Background(), logger); err != nil {
		logger.Error("analysisd exited", "error", err)
		os.Exit(1) //nolint:forbidigo // non-zero exit on fatal startup or runtime errors
	}
}

// infra holds the shared connections; redis is nil when not configured.
type infra struct {
	db    *sql.DB
	redis redis.UniversalClient
}

func (i *infra) close(logger *slog.Logger) {
	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			logger.Error("close redis", "error", err)
		}
	}
	if err := i.db.Close(); err != nil {
		logger.Error("close database", "error", err)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	if err := bootstrap.ValidateServiceConfig(&cfg); err != nil {
		return err
	}
	logger.InfoContext(ctx, "starting analysis pipeline",
		"services", bootstrap.GetEnabledServices(&cfg),
		"db", fmt.Sprintf("%s:%d/%s", cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Name),
		"identity_mode", cfg.Identity.Mode)

	conns, err := connect(ctx, &cfg, logger)
	if err != nil {
		return err
	}
	defer conns.close(logger)

	if cfg.Postgres.RunMigrationsOnStart {
		if err := bootstrap.RunMigrations(ctx, conns.db, logger); err != nil {
			return err
		}
	}

	services, err := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:      &cfg,
		DB:          conns.db,
		RedisClient: conns.redis,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}

	return bootstrap.RunServicesWithShutdown(&bootstrap.ServiceOrchestrationConfig{
		Config:      &cfg,
		Services:    services,
		DB:          conns.db,
		RedisClient: conns.redis,
		Logger:      logger,
	})
}

// connect opens Postgres and, when configured, Redis. Without Redis the job
// cache and the IP burst guard are disabled.
func connect(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*infra, error) {
	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{DBConfig: cfg.Postgres, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	conns := &infra{db: db}

	r := cfg.Redis
	if r.URI == "" && !r.UseSentinel && !r.UseCluster {
		logger.WarnContext(ctx, "redis not configured; job cache and ip burst guard disabled")
		return conns, nil
	}

	conns.redis, err = bootstrap.ConnectRedis(bootstrap.DatabaseConfig{RedisConfig: r, Logger: logger})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("connect redis: %w", err), db.Close())
	}
	return conns, nil
}
