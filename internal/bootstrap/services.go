package bootstrap

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/bizmarket/analysis-pipeline/config"
	"github.com/bizmarket/analysis-pipeline/internal/core"
	"github.com/bizmarket/analysis-pipeline/internal/data"
	"github.com/bizmarket/analysis-pipeline/internal/observability/metrics"
	"github.com/bizmarket/analysis-pipeline/internal/observability/notify/slack"
	"github.com/bizmarket/analysis-pipeline/internal/plans"
	"github.com/bizmarket/analysis-pipeline/internal/service"
	"github.com/bizmarket/analysis-pipeline/internal/service/failurenotifier"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs          *service.AnalysisJobService
	Quota         *service.QuotaService
	Starter       *service.AnalysisStartService
	Listings      core.ListingRepository
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	Metrics         *metrics.PrometheusSink
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Service
	NotifierConfig  config.ObservabilityNotificationsConfig
}

// sink returns the metrics sink or nil when metrics are disabled. A typed nil
// pointer must not leak into the metrics.Sink interface.
func (o ObservabilityContainer) sink() metrics.Sink {
	if o.Metrics == nil {
		return nil
	}
	return o.Metrics
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	Jobs          *data.AnalysisJobRepo
	Usage         *data.UsageRepo
	Subscriptions *data.SubscriptionRepo
	Listings      *data.ListingRepo
	Cache         *data.RedisCacheRepo
	Burst         *data.RedisBurstLimiter
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var sink *metrics.PrometheusSink
	if cfg.Metrics.Enabled {
		sink = metrics.NewPrometheusSink(metrics.PrometheusOptions{Namespace: cfg.Metrics.Namespace})
	}

	return ObservabilityContainer{
		Metrics:         sink,
		MetricsConfig:   cfg.Metrics,
		FailureNotifier: buildFailureNotifier(obsLogger, cfg.Notifications),
		NotifierConfig:  cfg.Notifications,
	}
}

// buildRepositories builds repositories backing service ports; no business rules here.
// Redis-backed adapters are skipped when no client is configured.
func buildRepositories(db *sql.DB, rdb redis.UniversalClient, cfg *config.AppConfig, logger *slog.Logger) *serviceRepositories {
	tp := &data.RealTimeProvider{}
	repos := &serviceRepositories{
		Jobs:          data.NewAnalysisJobRepo(db, data.RepoConfig{Logger: logger, TimeProvider: tp}),
		Usage:         data.NewUsageRepo(db, data.RepoConfig{Logger: logger, TimeProvider: tp}),
		Subscriptions: data.NewSubscriptionRepo(db, tp),
		Listings:      data.NewListingRepo(db),
	}
	if rdb != nil {
		repos.Cache = data.NewRedisCacheRepo(rdb, cfg.Cache.KeyPrefix)
		repos.Burst = data.NewRedisBurstLimiter(rdb, cfg.Cache.KeyPrefix, tp)
	}
	return repos
}

func loadPlanCatalog(cfg config.QuotaConfig) (*plans.Catalog, error) {
	if cfg.PlansFile == "" {
		return plans.Default()
	}
	catalog, err := plans.Load(cfg.PlansFile)
	if err != nil {
		return nil, fmt.Errorf("load plans file %s: %w", cfg.PlansFile, err)
	}
	return catalog, nil
}

// DomainServicesOptions groups inputs for buildDomainServices.
type DomainServicesOptions struct {
	Repos         *serviceRepositories
	Observability ObservabilityContainer
	Config        *config.AppConfig
	Logger        *slog.Logger
}

// buildDomainServices wires business services using repositories and observability adapters.
func buildDomainServices(opts *DomainServicesOptions) (ServiceContainer, error) {
	if opts == nil || opts.Repos == nil {
		return ServiceContainer{}, errors.New("domain services options are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appCfg := opts.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}
	sink := opts.Observability.sink()

	jobOpts := service.AnalysisJobServiceOptions{
		Repo:    opts.Repos.Jobs,
		Sweeper: opts.Repos.Jobs,
		Config: service.AnalysisJobServiceConfig{
			CacheTTL:        appCfg.Cache.JobStatusTTL,
			RetentionMaxAge: appCfg.Sweeper.RetentionMaxAge,
			SweepBatchSize:  appCfg.Sweeper.BatchSize,
		},
		Metrics: sink,
		Notify:  opts.Observability.FailureNotifier,
		Logger:  logger,
	}
	if opts.Repos.Cache != nil {
		jobOpts.Cache = opts.Repos.Cache
	}
	jobs, err := service.NewAnalysisJobService(jobOpts)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("analysis job service: %w", err)
	}

	catalog, err := loadPlanCatalog(appCfg.Quota)
	if err != nil {
		return ServiceContainer{}, err
	}
	quotaOpts := service.QuotaServiceOptions{
		Usage:         opts.Repos.Usage,
		Plans:         catalog,
		Subscriptions: opts.Repos.Subscriptions,
		Config:        appCfg.Quota,
		Metrics:       sink,
		Logger:        logger,
	}
	if opts.Repos.Burst != nil {
		quotaOpts.Burst = opts.Repos.Burst
	}
	quota, err := service.NewQuotaService(quotaOpts)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("quota service: %w", err)
	}

	starter, err := service.NewAnalysisStartService(service.AnalysisStartServiceOptions{
		Jobs:   jobs,
		Quota:  quota,
		Logger: logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("analysis start service: %w", err)
	}

	return ServiceContainer{
		Jobs:          jobs,
		Quota:         quota,
		Starter:       starter,
		Listings:      opts.Repos.Listings,
		Observability: opts.Observability,
	}, nil
}

// NewServices builds the service container.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil {
		return ServiceContainer{}, errors.New("service deps are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appCfg := deps.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	observability := buildObservability(logger, appCfg.Observability)
	repos := buildRepositories(deps.DB, deps.RedisClient, appCfg, logger)
	return buildDomainServices(&DomainServicesOptions{
		Repos:         repos,
		Observability: observability,
		Config:        appCfg,
		Logger:        logger,
	})
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{Logger: logger})
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, 1)
	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:       cfg.Slack.WebhookURL,
			Channel:          cfg.Slack.Channel,
			Username:         cfg.Slack.Username,
			Timeout:          cfg.Timeout,
			RetryLimit:       cfg.RetryLimit,
			ListingURLPrefix: cfg.Slack.ListingURLPrefix,
		})
		if err != nil {
			logger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "slack", Sink: client})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger: logger,
		Sinks:  sinks,
	})
}
