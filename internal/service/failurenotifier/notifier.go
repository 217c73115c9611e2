// Package failurenotifier fans failed-analysis events out to notification sinks.
package failurenotifier

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bizmarket/analysis-pipeline/internal/observability/notify"
)

const defaultDeliveryTimeout = 10 * time.Second

// SinkRegistration names a sink for log output.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures NewService.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
	// DeliveryTimeout bounds each sink call. Defaults to 10s.
	DeliveryTimeout time.Duration
}

// Service delivers failure events to every registered sink.
type Service struct {
	logger  *slog.Logger
	sinks   []SinkRegistration
	timeout time.Duration
}

// NewService drops nil sinks and names anonymous ones by position.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.DeliveryTimeout
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}

	s := &Service{logger: logger.With("component", "failure_notifier"), timeout: timeout}
	for i, reg := range opts.Sinks {
		if reg.Sink == nil {
			continue
		}
		if reg.Name == "" {
			reg.Name = "sink-" + strconv.Itoa(i)
		}
		s.sinks = append(s.sinks, reg)
	}
	return s
}

// Enabled reports whether any sink is registered. A nil Service is disabled.
func (s *Service) Enabled() bool {
	return s != nil && len(s.sinks) > 0
}

// NotifyJobFailure delivers payload to all sinks in parallel and returns once
// each has finished or timed out. Delivery errors are logged only.
func (s *Service) NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload) {
	if !s.Enabled() {
		return
	}
	if payload.Severity == "" {
		payload.Severity = notify.SeverityCritical
	}
	if payload.OccurredAt.IsZero() {
		payload.OccurredAt = time.Now().UTC()
	}

	var g errgroup.Group
	for _, reg := range s.sinks {
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			if err := reg.Sink.SendJobFailure(sendCtx, payload); err != nil {
				s.logger.ErrorContext(ctx, "failure notification not delivered",
					"sink", reg.Name,
					"job_id", payload.JobID,
					"analysis_type", payload.AnalysisType,
					"error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
