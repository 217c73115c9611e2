package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bizmarket/analysis-pipeline/internal/data/pgxutil"
	"github.com/bizmarket/analysis-pipeline/internal/domain/model"
	apperrors "github.com/bizmarket/analysis-pipeline/internal/errors"
)

// QueuedStep is the step label of a freshly created job.
const QueuedStep = "Queued"

// SQL used by ClaimNext to atomically move the oldest queued job to processing.
const claimNextSQL = `
  WITH cte AS (
    SELECT id FROM analysis_jobs
    WHERE status = 'queued'
    ORDER BY created_at ASC, id ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE analysis_jobs j
  SET
    status = 'processing',
    started_at = $1,
    progress = 0,
    current_step = $2,
    updated_at = $1
  FROM cte
  WHERE j.id = cte.id
  RETURNING j.id, j.listing_id, j.analysis_type, j.user_id, j.status, j.parameters, j.result, j.error_message, j.progress, j.current_step, j.created_at, j.started_at, j.completed_at, j.updated_at`

const activeJobSQL = `
  SELECT ` + analysisJobColumns + `
  FROM analysis_jobs
  WHERE listing_id = $1 AND analysis_type = $2 AND status IN ('queued', 'processing')
  ORDER BY created_at DESC
  LIMIT 1`

const insertJobSQL = `
  INSERT INTO analysis_jobs (listing_id, analysis_type, user_id, status, parameters, progress, current_step, created_at, updated_at)
  VALUES ($1, $2, $3, 'queued', $4, 0, $5, $6, $6)
  RETURNING ` + analysisJobColumns

// CreateOrGetActive returns the live job for the pair or inserts a new queued job.
// The check and insert run under a per-pair transaction advisory lock, so concurrent
// starts for the same pair observe each other. The partial unique index is a backstop.
func (r *AnalysisJobRepo) CreateOrGetActive(
	ctx context.Context,
	req *model.CreateJobRequest,
) (*model.AnalysisJob, bool, error) {
	if req == nil {
		return nil, false, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	params := []byte(`{}`)
	if len(req.Parameters) > 0 {
		params = req.Parameters
	}

	var (
		job    *model.AnalysisJob
		reused bool
	)
	txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			minor := pairLockMinor(req.ListingID, req.AnalysisType)
			if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1::integer, $2::integer)", advisoryLockCreateMajor, minor); err != nil {
				return fmt.Errorf("acquire pair lock: %w", err)
			}

			rows, err := tx.Query(ctx, activeJobSQL, req.ListingID, string(req.AnalysisType))
			if err != nil {
				return fmt.Errorf("find active job: %w", err)
			}
			existing, err := collectJob(rows)
			rows.Close()
			switch {
			case err == nil:
				job, reused = existing, true
				return nil
			case !errors.Is(err, pgx.ErrNoRows):
				return fmt.Errorf("find active job: %w", err)
			}

			rows, err = tx.Query(ctx, insertJobSQL,
				req.ListingID, string(req.AnalysisType), req.UserID, params, QueuedStep, r.now())
			if err != nil {
				return fmt.Errorf("insert job: %w", err)
			}
			job, err = collectJob(rows)
			rows.Close()
			if err != nil {
				return fmt.Errorf("insert job: %w", err)
			}
			return notifyTx(ctx, tx, job.ID)
		},
	})
	if txErr == nil {
		return job, reused, nil
	}

	// Lost a race the lock did not cover (e.g. a writer bypassing this path).
	if apperrors.IsUniqueViolation(txErr, activePairIndex) {
		existing, err := r.getActive(ctx, req.ListingID, req.AnalysisType)
		if err != nil {
			return nil, false, err
		}
		return existing, true, nil
	}
	return nil, false, txErr
}

func (r *AnalysisJobRepo) getActive(ctx context.Context, listingID string, t model.AnalysisType) (*model.AnalysisJob, error) {
	job, err := scanJob(r.DB.QueryRowContext(ctx, activeJobSQL, listingID, string(t)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active job: %w", err)
	}
	return job, nil
}

// GetByID retrieves a job by its ID.
func (r *AnalysisJobRepo) GetByID(ctx context.Context, id string) (*model.AnalysisJob, error) {
	job, err := scanJob(r.DB.QueryRowContext(ctx, `
		SELECT `+analysisJobColumns+`
		FROM analysis_jobs
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetLatest retrieves the most recently created job for the pair.
func (r *AnalysisJobRepo) GetLatest(
	ctx context.Context,
	listingID string,
	analysisType model.AnalysisType,
) (*model.AnalysisJob, error) {
	job, err := scanJob(r.DB.QueryRowContext(ctx, `
		SELECT `+analysisJobColumns+`
		FROM analysis_jobs
		WHERE listing_id = $1 AND analysis_type = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, listingID, string(analysisType)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest job: %w", err)
	}
	return job, nil
}

// ClaimNext atomically claims the oldest queued job and marks it processing.
func (r *AnalysisJobRepo) ClaimNext(ctx context.Context, step string) (*model.AnalysisJob, error) {
	var job *model.AnalysisJob
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			rows, qerr := tx.Query(ctx, claimNextSQL, r.now(), step)
			if qerr != nil {
				return fmt.Errorf("claim job: %w", qerr)
			}
			j, cerr := collectJob(rows)
			rows.Close()
			if errors.Is(cerr, pgx.ErrNoRows) {
				return model.ErrNoJobsAvailable
			}
			if cerr != nil {
				return fmt.Errorf("claim job: %w", cerr)
			}
			job = j
			return notifyTx(ctx, tx, j.ID)
		},
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// StartProcessing moves a queued job to processing.
func (r *AnalysisJobRepo) StartProcessing(ctx context.Context, id, step string) (bool, error) {
	now := r.now()
	return r.transition(ctx, transitionParams{
		id:   id,
		name: "start processing",
		query: `
			UPDATE analysis_jobs
			SET status = 'processing',
			    started_at = $2,
			    progress = 0,
			    current_step = $3,
			    updated_at = $2
			WHERE id = $1 AND status = 'queued'`,
		args: []any{now, step},
	})
}

// UpdateProgress records progress for a processing job. Progress never decreases.
func (r *AnalysisJobRepo) UpdateProgress(ctx context.Context, id string, progress int, step string) (bool, error) {
	return r.transition(ctx, transitionParams{
		id:   id,
		name: "update progress",
		query: `
			UPDATE analysis_jobs
			SET progress = GREATEST(progress, $2::integer),
			    current_step = $3,
			    updated_at = $4
			WHERE id = $1 AND status = 'processing'`,
		args: []any{model.ClampProgress(progress), step, r.now()},
	})
}

// CompletedStep is the step label of a completed job.
const CompletedStep = "Analysis complete"

// Complete stores the result and marks a processing job completed.
func (r *AnalysisJobRepo) Complete(ctx context.Context, id string, result json.RawMessage) (bool, error) {
	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}
	return r.transition(ctx, transitionParams{
		id:   id,
		name: "complete job",
		query: `
			UPDATE analysis_jobs
			SET status = 'completed',
			    progress = 100,
			    result = $2,
			    current_step = $3,
			    error_message = NULL,
			    completed_at = $4,
			    updated_at = $4
			WHERE id = $1 AND status = 'processing'`,
		args: []any{[]byte(result), CompletedStep, r.now()},
	})
}

// Fail marks a queued or processing job failed with message.
func (r *AnalysisJobRepo) Fail(ctx context.Context, id, message string) (bool, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "analysis failed"
	}
	return r.transition(ctx, transitionParams{
		id:   id,
		name: "fail job",
		query: `
			UPDATE analysis_jobs
			SET status = 'failed',
			    error_message = $2,
			    completed_at = $3,
			    updated_at = $3
			WHERE id = $1 AND status IN ('queued', 'processing')`,
		args: []any{message, r.now()},
	})
}

// Cancel marks a queued or processing job cancelled.
func (r *AnalysisJobRepo) Cancel(ctx context.Context, id string) (bool, error) {
	return r.transition(ctx, transitionParams{
		id:   id,
		name: "cancel job",
		query: `
			UPDATE analysis_jobs
			SET status = 'cancelled',
			    completed_at = $2,
			    updated_at = $2
			WHERE id = $1 AND status IN ('queued', 'processing')`,
		args: []any{r.now()},
	})
}

type transitionParams struct {
	id    string
	name  string
	query string
	args  []any
}

// transition runs a status-guarded UPDATE and notifies listeners when a row changed.
func (r *AnalysisJobRepo) transition(ctx context.Context, p transitionParams) (bool, error) {
	var changed bool
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, p.query, append([]any{p.id}, p.args...)...)
			if err != nil {
				return fmt.Errorf("%s: %w", p.name, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("%s rows affected: %w", p.name, err)
			}
			if n == 0 {
				return nil
			}
			changed = true
			if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, JobUpdatedChannel, p.id); err != nil {
				return fmt.Errorf("send job notification: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

func notifyTx(ctx context.Context, tx pgx.Tx, id string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, JobUpdatedChannel, id); err != nil {
		return fmt.Errorf("send job notification: %w", err)
	}
	return nil
}

// WaitForUpdate blocks until the job's visible state differs from seen or ctx is
// done. The row is re-read once LISTEN is active, so a write that landed between
// the caller's read and the subscription ends the wait at once.
func (r *AnalysisJobRepo) WaitForUpdate(ctx context.Context, id string, seen model.JobMark) error {
	channel := pgx.Identifier{JobUpdatedChannel}.Sanitize()
	return pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
			return fmt.Errorf("listen %s: %w", JobUpdatedChannel, err)
		}
		defer func() {
			// The pooled connection outlives ctx, so unlisten on a fresh context.
			if _, err := conn.Exec(context.Background(), "UNLISTEN "+channel); err != nil {
				r.logger.DebugContext(ctx, "unlisten failed", "error", err)
			}
		}()

		current, err := currentMark(ctx, conn, id)
		if err != nil {
			return err
		}
		if current != seen {
			return nil
		}

		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				return err
			}
			if n.Payload == id {
				return nil
			}
		}
	})
}

// currentMark reads the visible state of a job. A deleted job counts as changed.
func currentMark(ctx context.Context, conn *pgx.Conn, id string) (model.JobMark, error) {
	var m model.JobMark
	err := conn.QueryRow(ctx,
		`SELECT status, progress, current_step FROM analysis_jobs WHERE id = $1`, id,
	).Scan(&m.Status, &m.Progress, &m.CurrentStep)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.JobMark{}, nil
	}
	if err != nil {
		return model.JobMark{}, fmt.Errorf("read job state: %w", err)
	}
	return m, nil
}

// Stats returns job counts by status.
func (r *AnalysisJobRepo) Stats(ctx context.Context) (*model.AnalysisJobStats, error) {
	var s model.AnalysisJobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'queued')     AS queued,
    count(*) FILTER (WHERE status = 'processing') AS processing,
    count(*) FILTER (WHERE status = 'completed')  AS completed,
    count(*) FILTER (WHERE status = 'failed')     AS failed,
    count(*) FILTER (WHERE status = 'cancelled')  AS cancelled
  FROM analysis_jobs
  `).Scan(&s.Queued, &s.Processing, &s.Completed, &s.Failed, &s.Cancelled)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}
	return &s, nil
}
