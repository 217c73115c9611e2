package data

import (
	"database/sql"
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bizmarket/analysis-pipeline/internal/core"
	"github.com/bizmarket/analysis-pipeline/internal/domain/model"
)

// JobUpdatedChannel is the LISTEN/NOTIFY channel carrying the id of every changed job.
const JobUpdatedChannel = "analysis_job_updated"

// activePairIndex is the partial unique index guarding one live job per pair.
const activePairIndex = "analysis_jobs_active_pair_idx"

// Advisory lock namespaces. Two-arg pg_*advisory_xact_lock(major, minor).
const (
	advisoryLockCreateMajor int64 = 2001 // minor: hash of (listing, type)
	advisoryLockSweepMajor  int64 = 2002
	advisoryLockSweepMinor  int64 = 1
)

// RepoConfig holds configuration options shared by repositories.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// AnalysisJobRepo provides database operations for analysis jobs.
type AnalysisJobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

var (
	_ core.AnalysisJobRepository = (*AnalysisJobRepo)(nil)
	_ core.JobSweepRepository    = (*AnalysisJobRepo)(nil)
)

// NewAnalysisJobRepo creates a new AnalysisJobRepo.
func NewAnalysisJobRepo(db *sql.DB, cfg RepoConfig) *AnalysisJobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisJobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       logger.With("component", "analysis_job_repo"),
	}
}

const analysisJobColumns = `
  id,
  listing_id,
  analysis_type,
  user_id,
  status,
  parameters,
  result,
  error_message,
  progress,
  current_step,
  created_at,
  started_at,
  completed_at,
  updated_at
`

func (r *AnalysisJobRepo) now() time.Time {
	return r.timeProvider.Now().UTC()
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	parameters, result     []byte
	userID, errorMessage   sql.NullString
	startedAt, completedAt sql.NullTime
	analysisType, status   string
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.AnalysisJob) error {
	return scanner.Scan(
		&job.ID,
		&job.ListingID,
		&d.analysisType,
		&d.userID,
		&d.status,
		&d.parameters,
		&d.result,
		&d.errorMessage,
		&job.Progress,
		&job.CurrentStep,
		&job.CreatedAt,
		&d.startedAt,
		&d.completedAt,
		&job.UpdatedAt,
	)
}

func (d *jobRowData) apply(job *model.AnalysisJob) {
	job.AnalysisType = model.AnalysisType(d.analysisType)
	job.Status = model.JobStatus(d.status)
	job.Parameters = cloneJSON(d.parameters)
	if len(d.result) > 0 {
		job.Result = append(json.RawMessage(nil), d.result...)
	}
	job.UserID = cloneNullableString(d.userID)
	job.ErrorMessage = cloneNullableString(d.errorMessage)
	job.StartedAt = cloneNullableTime(d.startedAt)
	job.CompletedAt = cloneNullableTime(d.completedAt)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
}

func scanJob(scanner jobRowScanner) (*model.AnalysisJob, error) {
	job := &model.AnalysisJob{}
	var d jobRowData
	if err := d.scanInto(scanner, job); err != nil {
		return nil, err
	}
	d.apply(job)
	return job, nil
}

// collectJob collects a single job from pgx rows.
func collectJob(rows pgx.Rows) (*model.AnalysisJob, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}
	job, err := scanJob(rows)
	if err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return job, nil
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// pairLockMinor hashes a (listing, type) pair into the int4 minor key space.
func pairLockMinor(listingID string, analysisType model.AnalysisType) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(listingID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(analysisType))
	return int64(h.Sum32() & uint32(math.MaxInt32))
}
