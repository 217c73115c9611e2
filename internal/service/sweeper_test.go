package service

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

	"github.com/bizmarket/analysis-pipeline/config"
	"github.com/bizmarket/analysis-pipeline/internal/domain/model"
)

type fakeMaintainer struct {
	mu sync.Mutex

	abandonedCalls int
	abandonedAge   time.Duration
	abandonedCount int64
	abandonedErr   error

	cleanupCalls int
	cleanupCount int64
	cleanupErr   error

	stats *model.AnalysisJobStats
}

func (f *fakeMaintainer) FailAbandonedJobs(_ context.Context, maxAge time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abandonedCalls++
	f.abandonedAge = maxAge
	return f.abandonedCount, f.abandonedErr
}

func (f *fakeMaintainer) CleanupOldJobs(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanupCalls++
	return f.cleanupCount, f.cleanupErr
}

func (f *fakeMaintainer) Stats(context.Context) (*model.AnalysisJobStats, error) {
	if f.stats == nil {
		return &model.AnalysisJobStats{}, nil
	}
	return f.stats, nil
}

func (f *fakeMaintainer) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.abandonedCalls, f.cleanupCalls
}

type recordingSink struct {
	mu     sync.Mutex
	counts map[string]int64
	gauges map[string]float64
}

func newRecordingSink() *recordingSink {
	return &recordingSink{counts: map[string]int64{}, gauges: map[string]float64{}}
}

func (r *recordingSink) Count(name string, value int64, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[name+tagSuffix(tags)] += value
}

func (r *recordingSink) Gauge(name string, value float64, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[name+tagSuffix(tags)] = value
}

func (r *recordingSink) Timing(string, time.Duration, map[string]string) {}

func tagSuffix(tags map[string]string) string {
	for _, k := range []string{"result", "operation", "status"} {
		if v, ok := tags[k]; ok {
			return "|" + v
		}
	}
	return ""
}

func sweeperConfig() config.SweeperConfig {
	return config.SweeperConfig{
		Interval:           time.Hour,
		RetentionMaxAge:    24 * time.Hour,
		StaleProcessingAge: 30 * time.Minute,
		BatchSize:          1000,
	}
}

func TestNewSweeperService(t *testing.T) {
	t.Run("creates service with valid options", func(t *testing.T) {
		svc, err := NewSweeperService(SweeperServiceOptions{
			Jobs:   &fakeMaintainer{},
			Config: sweeperConfig(),
			Logger: slog.Default(),
		})
		require.NoError(t, err)
		assert.NotNil(t, svc)
	})

	t.Run("returns error when jobs is nil", func(t *testing.T) {
		_, err := NewSweeperService(SweeperServiceOptions{Config: sweeperConfig()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "JobMaintainer is required")
	})

	t.Run("returns error for zero interval", func(t *testing.T) {
		_, err := NewSweeperService(SweeperServiceOptions{Jobs: &fakeMaintainer{}})
		require.Error(t, err)
	})
}

func TestSweeperService_RunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("runs every step and records metrics", func(t *testing.T) {
		jobs := &fakeMaintainer{
			abandonedCount: 2,
			cleanupCount:   7,
			stats:          &model.AnalysisJobStats{Queued: 3, Processing: 1, Completed: 9},
		}
		sink := newRecordingSink()
		svc, err := NewSweeperService(SweeperServiceOptions{Jobs: jobs, Config: sweeperConfig(), Metrics: sink})
		require.NoError(t, err)

		require.NoError(t, svc.RunOnce(ctx))

		abandoned, cleanup := jobs.calls()
		assert.Equal(t, 1, abandoned)
		assert.Equal(t, 1, cleanup)
		assert.Equal(t, 30*time.Minute, jobs.abandonedAge)

		assert.Equal(t, int64(1), sink.counts["sweeper.run|success"])
		assert.Equal(t, int64(2), sink.counts["sweeper.jobs_processed|fail_abandoned"])
		assert.Equal(t, int64(7), sink.counts["sweeper.jobs_processed|delete_expired"])
		assert.InDelta(t, 3, sink.gauges["jobs.by_status|queued"], 0.001)
		assert.InDelta(t, 9, sink.gauges["jobs.by_status|completed"], 0.001)
		assert.Contains(t, sink.gauges, "sweeper.last_success_epoch")
	})

	t.Run("reports noop when nothing changed", func(t *testing.T) {
		sink := newRecordingSink()
		svc, err := NewSweeperService(SweeperServiceOptions{Jobs: &fakeMaintainer{}, Config: sweeperConfig(), Metrics: sink})
		require.NoError(t, err)

		require.NoError(t, svc.RunOnce(ctx))
		assert.Equal(t, int64(1), sink.counts["sweeper.run|noop"])
	})

	t.Run("keeps going after a failed step", func(t *testing.T) {
		jobs := &fakeMaintainer{abandonedErr: errors.New("lock timeout"), cleanupCount: 4}
		sink := newRecordingSink()
		svc, err := NewSweeperService(SweeperServiceOptions{Jobs: jobs, Config: sweeperConfig(), Metrics: sink})
		require.NoError(t, err)

		err = svc.RunOnce(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fail abandoned jobs")

		_, cleanup := jobs.calls()
		assert.Equal(t, 1, cleanup)
		assert.Equal(t, int64(1), sink.counts["sweeper.run|error"])
		assert.Equal(t, int64(4), sink.counts["sweeper.jobs_processed|delete_expired"])
		assert.NotContains(t, sink.gauges, "sweeper.last_success_epoch")
	})

	t.Run("collapses cancellation errors", func(t *testing.T) {
		jobs := &fakeMaintainer{abandonedErr: context.Canceled, cleanupErr: context.Canceled}
		svc, err := NewSweeperService(SweeperServiceOptions{Jobs: jobs, Config: sweeperConfig()})
		require.NoError(t, err)

		err = svc.RunOnce(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSweeperService_Run(t *testing.T) {
	t.Run("sweeps immediately and stops on cancel", func(t *testing.T) {
		jobs := &fakeMaintainer{}
		cfg := sweeperConfig()
		cfg.Interval = 10 * time.Millisecond
		svc, err := NewSweeperService(SweeperServiceOptions{Jobs: jobs, Config: cfg})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- svc.Run(ctx) }()

		require.Eventually(t, func() bool {
			_, cleanup := jobs.calls()
			return cleanup >= 2
		}, time.Second, 5*time.Millisecond)

		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("sweeper did not stop")
		}
	})
}

func TestSweeperService_DefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	svc, err := NewSweeperService(SweeperServiceOptions{
		Jobs:   &fakeMaintainer{cleanupErr: errors.New("disk full")},
		Config: sweeperConfig(),
	})
	require.NoError(t, err)

	ctx := context.Background()
	err = svc.RunOnce(ctx)
	require.Error(t, err)
	svc.logSweepError(ctx, err, "sweep")

	out := buf.String()
	assert.Contains(t, out, "component=sweeper_service")
	assert.Contains(t, out, "sweep failed")
	assert.Contains(t, out, "disk full")
}
