package failurenotifier

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmarket/analysis-pipeline/internal/observability/notify"
)

func TestNotifyJobFailure_FansOut(t *testing.T) {
	var (
		mu       sync.Mutex
		received []notify.JobFailurePayload
	)
	capture := notify.SinkFunc(func(_ context.Context, p notify.JobFailurePayload) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, p)
		return nil
	})

	svc := NewService(Options{Sinks: []SinkRegistration{
		{Name: "first", Sink: capture},
		{Name: "second", Sink: capture},
		{Name: "missing"},
	}})
	require.True(t, svc.Enabled())

	svc.NotifyJobFailure(context.Background(), notify.JobFailurePayload{
		JobID:        "job-1",
		AnalysisType: "business_analysis",
	})

	require.Len(t, received, 2)
	for _, p := range received {
		assert.Equal(t, notify.SeverityCritical, p.Severity)
		assert.False(t, p.OccurredAt.IsZero())
	}
}

func TestNotifyJobFailure_KeepsExplicitSeverity(t *testing.T) {
	var got notify.JobFailurePayload
	svc := NewService(Options{Sinks: []SinkRegistration{{Sink: notify.SinkFunc(
		func(_ context.Context, p notify.JobFailurePayload) error { got = p; return nil })}}})

	svc.NotifyJobFailure(context.Background(), notify.JobFailurePayload{JobID: "1", Severity: notify.SeverityWarning})
	assert.Equal(t, notify.SeverityWarning, got.Severity)
}

func TestNotifyJobFailure_LogsDeliveryErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	svc := NewService(Options{
		Logger: logger,
		Sinks: []SinkRegistration{{Sink: notify.SinkFunc(
			func(context.Context, notify.JobFailurePayload) error { return errors.New("boom") })}},
	})
	svc.NotifyJobFailure(context.Background(), notify.JobFailurePayload{JobID: "job-9"})

	out := buf.String()
	assert.Contains(t, out, "failure notification not delivered")
	assert.Contains(t, out, "sink=sink-0")
	assert.Contains(t, out, "job_id=job-9")
}

func TestNotifyJobFailure_DeliveryTimeout(t *testing.T) {
	svc := NewService(Options{
		DeliveryTimeout: 20 * time.Millisecond,
		Sinks: []SinkRegistration{{Name: "slow", Sink: notify.SinkFunc(
			func(ctx context.Context, _ notify.JobFailurePayload) error {
				<-ctx.Done()
				return ctx.Err()
			})}},
	})

	start := time.Now()
	svc.NotifyJobFailure(context.Background(), notify.JobFailurePayload{JobID: "1"})
	assert.Less(t, time.Since(start), time.Second)
}

func TestService_Disabled(t *testing.T) {
	assert.False(t, NewService(Options{}).Enabled())

	var nilSvc *Service
	assert.False(t, nilSvc.Enabled())
	nilSvc.NotifyJobFailure(context.Background(), notify.JobFailurePayload{JobID: "1"})
}
