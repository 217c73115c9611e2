package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bizmarket/analysis-pipeline/config"
)

// shutdownWaitTimeout bounds the HTTP drain and the wait for each background loop.
const shutdownWaitTimeout = 15 * time.Second

// ServiceOrchestrationConfig is the input to RunServicesWithShutdown.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// loop is a background component that runs until its context ends.
type loop struct {
	mode config.ServiceMode
	name string
	run  func(context.Context) error
}

// runningLoop is a started loop; done closes when run returns.
type runningLoop struct {
	name string
	done <-chan struct{}
}

// supervisor owns the running components of one process.
type supervisor struct {
	logger  *slog.Logger
	enabled map[config.ServiceMode]bool
	errCh   chan error
	cancel  context.CancelFunc
	server  *http.Server
	loops   []runningLoop
}

func newSupervisor(logger *slog.Logger, enabled map[config.ServiceMode]bool, cancel context.CancelFunc) *supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &supervisor{
		logger:  logger,
		enabled: enabled,
		errCh:   make(chan error, errorChannelBufferSize(enabled)),
		cancel:  cancel,
	}
}

// errorChannelCapacity counts enabled services; each reports at most one error.
func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	n := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			n++
		}
	}
	return n
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	return errorChannelCapacity(enabled) + 1
}

// start launches l when its mode is enabled. A failure other than
// cancellation is reported once on errCh.
func (s *supervisor) start(ctx context.Context, l loop) bool {
	if !s.enabled[l.mode] {
		return false
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := l.run(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		err = fmt.Errorf("%s failed: %w", l.name, err)
		select {
		case s.errCh <- err:
		default:
			s.logger.Warn("dropping background service error", "service", l.name, "error", err)
		}
	}()
	s.loops = append(s.loops, runningLoop{name: l.name, done: done})
	s.logger.InfoContext(ctx, "background service started", "service", l.name, "mode", l.mode)
	return true
}

// stop drains HTTP first so in-flight long-polls finish, then cancels the
// loops and waits for each of them.
func (s *supervisor) stop() error {
	var httpErr error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
		httpErr = ShutdownHTTPServer(ShutdownConfig{Context: ctx, Server: s.server, Logger: s.logger})
		cancel()
	}
	if s.cancel != nil {
		s.cancel()
	}
	for _, l := range s.loops {
		select {
		case <-l.done:
			s.logger.Info("service stopped", "service", l.name)
		case <-time.After(shutdownWaitTimeout):
			s.logger.Warn("service did not stop in time", "service", l.name, "timeout", shutdownWaitTimeout)
		}
	}
	return httpErr
}

// backgroundLoops lists the non-HTTP components in start order.
func backgroundLoops(cfg *ServiceOrchestrationConfig, logger *slog.Logger) []loop {
	appCfg := cfg.Config
	svcs := cfg.Services
	return []loop{
		{
			mode: config.ServiceModeWorker,
			name: "analysis worker",
			run: func(ctx context.Context) error {
				return RunWorker(ctx, WorkerConfig{
					Jobs:     svcs.Jobs,
					Listings: svcs.Listings,
					Config:   appCfg.Worker,
					Logger:   logger,
					Metrics:  svcs.Observability.sink(),
				})
			},
		},
		{
			mode: config.ServiceModeSweeper,
			name: "sweeper",
			run: func(ctx context.Context) error {
				return RunSweeper(ctx, SweeperConfig{
					Jobs:    svcs.Jobs,
					Config:  appCfg.Sweeper,
					Logger:  logger,
					Metrics: svcs.Observability.sink(),
				})
			},
		},
	}
}

// RunServicesWithShutdown starts every enabled service and blocks until
// SIGINT/SIGTERM or the first service failure, then stops them in order.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config with AppConfig is required")
	}
	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup := newSupervisor(cfg.Logger, enabled, cancel)

	if enabled[config.ServiceModeHTTP] {
		sup.server, err = StartHTTPServer(&HTTPServerConfig{
			Config:      cfg.Config,
			Services:    cfg.Services,
			DB:          cfg.DB,
			RedisClient: cfg.RedisClient,
			Logger:      sup.logger,
			ErrCh:       sup.errCh,
		})
		if err != nil {
			return err
		}
	}
	for _, l := range backgroundLoops(cfg, sup.logger) {
		sup.start(ctx, l)
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	select {
	case <-sigCtx.Done():
		sup.logger.Info("shutting down services")
		return sup.stop()
	case err := <-sup.errCh:
		sup.logger.Error("service error", "error", err)
		if stopErr := sup.stop(); stopErr != nil {
			sup.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}
