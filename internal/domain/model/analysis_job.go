// Package model defines the core data types shared by the analysis pipeline.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AnalysisType identifies which analysis is run against a listing.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type AnalysisType string

// JobStatus represents the current status of an analysis job.
type JobStatus string

const (
	// AnalysisTypeBusiness is a full business valuation and health analysis.
	AnalysisTypeBusiness AnalysisType = "business_analysis"
	// AnalysisTypeMarket is a market intelligence report for the listing's industry and region.
	AnalysisTypeMarket AnalysisType = "market_intelligence"
	// AnalysisTypeDueDiligence is a due diligence checklist and risk review.
	AnalysisTypeDueDiligence AnalysisType = "due_diligence"
	// AnalysisTypeBuyerMatch ranks buyer profiles against the listing.
	AnalysisTypeBuyerMatch AnalysisType = "buyer_match"

	// JobStatusQueued indicates a job is waiting for a worker.
	JobStatusQueued JobStatus = "queued"
	// JobStatusProcessing indicates a worker has claimed the job.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates the analysis finished and a result is stored.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the analysis failed; ErrorMessage is set.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates the job was cancelled before it finished.
	JobStatusCancelled JobStatus = "cancelled"
)

var (
	// ErrNoJobsAvailable is returned when no queued job can be claimed.
	ErrNoJobsAvailable = errors.New("no jobs available")
	// ErrJobNotFound is returned by the job store when no job matches.
	ErrJobNotFound = errors.New("analysis job not found")
)

// AnalysisTypes lists every supported analysis type in display order.
func AnalysisTypes() []AnalysisType {
	return []AnalysisType{
		AnalysisTypeBusiness,
		AnalysisTypeMarket,
		AnalysisTypeDueDiligence,
		AnalysisTypeBuyerMatch,
	}
}

// UnmarshalText implements encoding.TextUnmarshaler for AnalysisType.
func (t *AnalysisType) UnmarshalText(text []byte) error {
	v := AnalysisType(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid analysis type: %q", string(text))
	}
	*t = v
	return nil
}

// Valid returns true if the AnalysisType is supported.
func (t AnalysisType) Valid() bool {
	switch t {
	case AnalysisTypeBusiness, AnalysisTypeMarket, AnalysisTypeDueDiligence, AnalysisTypeBuyerMatch:
		return true
	default:
		return false
	}
}

// Valid returns true if the JobStatus is known.
func (s JobStatus) Valid() bool {
	return s == JobStatusQueued || s == JobStatusProcessing || s.IsTerminal()
}

// IsTerminal reports whether the status can no longer change.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsActive reports whether the job still occupies its (listing, type) slot.
func (s JobStatus) IsActive() bool {
	return s == JobStatusQueued || s == JobStatusProcessing
}

// AnalysisJob is a durable record of one analysis request and its lifecycle.
type AnalysisJob struct {
	ID           string          `json:"id"                      db:"id"`
	ListingID    string          `json:"listingId"               db:"listing_id"`
	AnalysisType AnalysisType    `json:"analysisType"            db:"analysis_type"`
	UserID       *string         `json:"userId,omitempty"        db:"user_id"`
	Status       JobStatus       `json:"status"                  db:"status"`
	Parameters   json.RawMessage `json:"parameters"              db:"parameters"`
	Result       json.RawMessage `json:"result,omitempty"        db:"result"`
	ErrorMessage *string         `json:"errorMessage,omitempty"  db:"error_message"`
	Progress     int             `json:"progress"                db:"progress"`
	CurrentStep  string          `json:"currentStep"             db:"current_step"`
	CreatedAt    time.Time       `json:"createdAt"               db:"created_at"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"     db:"started_at"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"   db:"completed_at"`
	UpdatedAt    time.Time       `json:"updatedAt"               db:"updated_at"`
}

// CreateJobRequest represents a request to enqueue an analysis.
type CreateJobRequest struct {
	ListingID    string          `json:"listingId"`
	AnalysisType AnalysisType    `json:"analysisType"`
	UserID       *string         `json:"userId,omitempty"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
}

const maxListingIDLength = 128

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	r.ListingID = strings.TrimSpace(r.ListingID)
	if r.ListingID == "" {
		return errors.New("listingId is required")
	}
	if len(r.ListingID) > maxListingIDLength {
		return fmt.Errorf("listingId must be at most %d characters", maxListingIDLength)
	}
	if !r.AnalysisType.Valid() {
		return fmt.Errorf("invalid analysis type: %q", string(r.AnalysisType))
	}
	if len(r.Parameters) == 0 {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(r.Parameters, &obj); err != nil || obj == nil {
		return errors.New("parameters must be a JSON object")
	}
	return nil
}

// ClampProgress bounds a progress value to [0,100].
func ClampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// JobStatusView is the status snapshot returned to polling clients.
type JobStatusView struct {
	ID           string          `json:"id"`
	ListingID    string          `json:"listingId"`
	AnalysisType AnalysisType    `json:"analysisType"`
	Status       JobStatus       `json:"status"`
	Progress     int             `json:"progress"`
	CurrentStep  string          `json:"currentStep"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage *string         `json:"errorMessage,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
}

// View converts the job into its client-facing snapshot.
func (j *AnalysisJob) View() JobStatusView {
	v := JobStatusView{
		ID:           j.ID,
		ListingID:    j.ListingID,
		AnalysisType: j.AnalysisType,
		Status:       j.Status,
		Progress:     j.Progress,
		CurrentStep:  j.CurrentStep,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
	}
	if j.Status == JobStatusCompleted {
		v.Result = j.Result
	}
	return v
}

// JobMark is the part of a job a polling client sees move.
type JobMark struct {
	Status      JobStatus
	Progress    int
	CurrentStep string
}

// Mark returns the job's visible progress state.
func (j *AnalysisJob) Mark() JobMark {
	return JobMark{Status: j.Status, Progress: j.Progress, CurrentStep: j.CurrentStep}
}

// AnalysisJobStats holds job counts by status.
type AnalysisJobStats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}
