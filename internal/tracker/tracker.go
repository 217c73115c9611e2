package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/bizmarket/analysis-pipeline/internal/domain/model"
)

const jitterPercent = 20

// Tracker follows one job. It is safe for concurrent use, and any number of
// trackers may follow the same job.
type Tracker struct {
	client *Client
	id     string
	reused bool

	updates chan model.JobStatusView
	done    chan struct{}
	stop    context.CancelFunc

	mu   sync.Mutex
	last model.JobStatusView
	err  error
}

func (c *Client) track(ctx context.Context, initial model.JobStatusView, reused bool) *Tracker {
	pollCtx, stop := context.WithCancel(ctx)
	t := &Tracker{
		client:  c,
		id:      initial.ID,
		reused:  reused,
		updates: make(chan model.JobStatusView, 1),
		done:    make(chan struct{}),
		stop:    stop,
		last:    initial,
	}
	t.publish(initial)
	go t.poll(pollCtx, initial)
	return t
}

// ID returns the tracked job id.
func (t *Tracker) ID() string { return t.id }

// Reused reports whether the tracker joined a job that already existed.
func (t *Tracker) Reused() bool { return t.reused }

// Updates delivers snapshots as they change. Slow readers only see the latest
// one. The channel is closed once tracking ends.
func (t *Tracker) Updates() <-chan model.JobStatusView { return t.updates }

// Done is closed once tracking ends.
func (t *Tracker) Done() <-chan struct{} { return t.done }

// Last returns the most recent snapshot.
func (t *Tracker) Last() model.JobStatusView {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Err returns why tracking ended: nil for a terminal status, ErrJobExpired,
// a non-retryable API error, or the context error.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Wait blocks until tracking ends or ctx is done and returns the last snapshot.
func (t *Tracker) Wait(ctx context.Context) (model.JobStatusView, error) {
	select {
	case <-t.done:
		return t.Last(), t.Err()
	case <-ctx.Done():
		return t.Last(), ctx.Err()
	}
}

// Cancel asks the server to cancel the tracked job. Polling picks up the
// cancelled status on its next read.
func (t *Tracker) Cancel(ctx context.Context) (model.JobStatusView, error) {
	view, err := t.client.CancelJob(ctx, t.id)
	if view == nil {
		return t.Last(), err
	}
	return *view, err
}

// Stop ends polling without touching the job.
func (t *Tracker) Stop() {
	t.stop()
	<-t.done
}

func (t *Tracker) poll(ctx context.Context, current model.JobStatusView) {
	defer close(t.done)
	defer close(t.updates)
	defer t.stop()

	if current.Status.IsTerminal() {
		return
	}

	var backoff retry.Backoff
	wait := t.client.interval
	for {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.finish(ctx.Err())
			return
		case <-timer.C:
		}

		view, err := t.client.GetJob(ctx, t.id)
		switch {
		case err == nil:
			backoff = nil
			wait = t.client.interval
			if changed(current, *view) {
				current = *view
				t.publish(current)
			}
			if current.Status.IsTerminal() {
				return
			}
		case errors.Is(err, ErrJobExpired):
			t.finish(ErrJobExpired)
			return
		case ctx.Err() != nil:
			t.finish(ctx.Err())
			return
		case transient(err):
			if backoff == nil {
				backoff = t.client.newBackoff()
			}
			wait, _ = backoff.Next()
			t.client.logger.DebugContext(ctx, "poll failed; backing off",
				"job_id", t.id,
				"retry_in", wait,
				"error", err,
			)
		default:
			t.finish(err)
			return
		}
	}
}

func (c *Client) newBackoff() retry.Backoff {
	b := retry.NewExponential(c.backoffBase)
	b = retry.WithJitterPercent(jitterPercent, b)
	return retry.WithCappedDuration(c.backoffCap, b)
}

func changed(a, b model.JobStatusView) bool {
	return a.Status != b.Status || a.Progress != b.Progress || a.CurrentStep != b.CurrentStep ||
		len(a.Result) != len(b.Result) || (a.ErrorMessage == nil) != (b.ErrorMessage == nil)
}

// publish replaces any unread snapshot with s. The poll goroutine is the only sender.
func (t *Tracker) publish(s model.JobStatusView) {
	t.mu.Lock()
	t.last = s
	t.mu.Unlock()

	select {
	case t.updates <- s:
		return
	default:
	}
	select {
	case <-t.updates:
	default:
	}
	t.updates <- s
}

func (t *Tracker) finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}
