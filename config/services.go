package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP API.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeWorker runs the analysis worker loops.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeSweeper runs the retention sweep.
	ServiceModeSweeper ServiceMode = "sweeper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeWorker,
		ServiceModeSweeper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for part := range strings.SplitSeq(servicesStr, ",") {
		serviceName := strings.ToLower(strings.TrimSpace(part))
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeWorker, ServiceModeSweeper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, worker, sweeper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains analysis worker configuration.
type WorkerConfig struct {
	// PollInterval is how often an idle worker loop tries to claim a job.
	PollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"5s"`

	// Concurrency is the number of independent worker loops.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"1"`

	// JobTimeout bounds a single analysis run.
	JobTimeout time.Duration `env:"WORKER_JOB_TIMEOUT" envDefault:"5m"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.PollInterval < 100*time.Millisecond {
		w.PollInterval = 100 * time.Millisecond
	}
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.Concurrency > 64 {
		w.Concurrency = 64
	}
	if w.JobTimeout < time.Second {
		w.JobTimeout = time.Second
	}
}

// SweeperConfig contains retention sweep configuration.
type SweeperConfig struct {
	// Interval is the sweep tick interval.
	Interval time.Duration `env:"SWEEPER_INTERVAL" envDefault:"1h"`

	// RetentionMaxAge is how long finished jobs are kept after completed_at.
	RetentionMaxAge time.Duration `env:"SWEEPER_RETENTION_MAX_AGE" envDefault:"24h"`

	// StaleProcessingAge fails processing jobs that have not been updated for this long.
	// Such jobs were abandoned by a crashed worker. Zero disables the step.
	StaleProcessingAge time.Duration `env:"SWEEPER_STALE_PROCESSING_AGE" envDefault:"30m"`

	// BatchSize is the maximum number of rows to process per statement.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"SWEEPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to sweeper configuration values.
func (s *SweeperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if s.Interval < time.Minute {
		s.Interval = time.Minute
	}
	if s.RetentionMaxAge < time.Hour {
		s.RetentionMaxAge = time.Hour
	}
	if s.StaleProcessingAge < 0 {
		s.StaleProcessingAge = 0
	}

	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	if s.BatchSize > 10000 {
		s.BatchSize = 10000
	}
}
