package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bizmarket/analysis-pipeline/internal/core"
	"github.com/bizmarket/analysis-pipeline/internal/data/pgxutil"
)

// DeleteExpired deletes finished jobs whose completed_at is older than MaxAge.
// Processes up to BatchSize jobs per call to keep locks short.
// An advisory lock keeps concurrent sweepers from racing; the loser deletes nothing.
func (r *AnalysisJobRepo) DeleteExpired(ctx context.Context, params core.DeleteExpiredJobsParams) (int64, error) {
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}
	if params.MaxAge <= 0 {
		return 0, errors.New("max age must be greater than zero")
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			locked, err := pgxutil.TryAdvisoryXactLock(ctx, tx, advisoryLockSweepMajor, advisoryLockSweepMinor)
			if err != nil {
				return err
			}
			if !locked {
				return nil
			}

			cutoff := r.now().Add(-params.MaxAge)
			res, err := tx.ExecContext(ctx, `
				DELETE FROM analysis_jobs
				WHERE id IN (
					SELECT id FROM analysis_jobs
					WHERE status IN ('completed', 'failed', 'cancelled')
					  AND completed_at IS NOT NULL
					  AND completed_at < $1
					ORDER BY completed_at
					LIMIT $2
				)
			`, cutoff, params.BatchSize)
			if err != nil {
				return fmt.Errorf("delete expired jobs: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// AbandonedJobMessage is recorded on processing jobs failed by FailStaleProcessing.
const AbandonedJobMessage = "analysis abandoned: worker stopped reporting progress"

// FailStaleProcessing fails up to batchSize processing jobs whose updated_at is older
// than maxAge. A worker that crashed mid-run leaves its job processing forever, which
// would block new starts for the pair.
func (r *AnalysisJobRepo) FailStaleProcessing(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}
	if maxAge <= 0 {
		return 0, errors.New("max age must be greater than zero")
	}

	var failed int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			now := r.now()
			rows, err := tx.QueryContext(ctx, `
				UPDATE analysis_jobs
				SET status = 'failed',
				    error_message = $3,
				    completed_at = $1,
				    updated_at = $1
				WHERE id IN (
					SELECT id FROM analysis_jobs
					WHERE status = 'processing' AND updated_at < $2
					ORDER BY updated_at
					LIMIT $4
					FOR UPDATE SKIP LOCKED
				)
				RETURNING id
			`, now, now.Add(-maxAge), AbandonedJobMessage, batchSize)
			if err != nil {
				return fmt.Errorf("fail stale jobs: %w", err)
			}
			var ids []string
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					rows.Close()
					return fmt.Errorf("scan stale job id: %w", err)
				}
				ids = append(ids, id)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return fmt.Errorf("iterate stale jobs: %w", err)
			}
			for _, id := range ids {
				if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, JobUpdatedChannel, id); err != nil {
					return fmt.Errorf("send job notification: %w", err)
				}
			}
			failed = int64(len(ids))
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return failed, nil
}
