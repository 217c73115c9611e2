// Package httpx provides the HTTP surface of the analysis pipeline.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bizmarket/analysis-pipeline/internal/domain/model"
	apperrors "github.com/bizmarket/analysis-pipeline/internal/errors"
	"github.com/bizmarket/analysis-pipeline/internal/service"
)

// AnalysisStarter admits and enqueues analyses.
type AnalysisStarter interface {
	Start(ctx context.Context, req service.StartRequest) (*service.StartResult, error)
	Usage(ctx context.Context, userID, hint string) (*model.UsageSummary, error)
	FollowUp(ctx context.Context, req service.FollowUpRequest) (*service.FollowUpGrant, error)
}

// JobReader is the read and cancel surface of the job service.
type JobReader interface {
	GetJob(ctx context.Context, id string) (*model.AnalysisJob, error)
	GetLatestJob(ctx context.Context, listingID string, analysisType model.AnalysisType) (*model.AnalysisJob, error)
	CancelJob(ctx context.Context, id string) (*model.AnalysisJob, error)
	WaitForChange(ctx context.Context, id string, seen model.JobMark) error
}

// AnalysisHandlers serves the analysis job endpoints.
type AnalysisHandlers struct {
	Starter     AnalysisStarter
	Jobs        JobReader
	MaxLongPoll time.Duration
	Logger      *slog.Logger
	Now         func() time.Time
}

func (h *AnalysisHandlers) renderer() errorRenderer {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := h.Now
	if now == nil {
		now = time.Now
	}
	return errorRenderer{logger: logger, now: now}
}

func (h *AnalysisHandlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.renderer().render(w, r, err)
}

type startAnalysisRequest struct {
	ListingID    string          `json:"listingId"`
	AnalysisType string          `json:"analysisType"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
}

// StartResponse is the job handle returned by the start endpoint.
type StartResponse struct {
	ID          string          `json:"id"`
	Status      model.JobStatus `json:"status"`
	Progress    int             `json:"progress"`
	CurrentStep string          `json:"currentStep"`
	Reused      bool            `json:"reused"`
}

var errIdentityRequired = apperrors.Unauthorized("a signed-in user is required")

// Start handles POST /api/analysis/jobs.
func (h *AnalysisHandlers) Start(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		h.fail(w, r, errIdentityRequired)
		return
	}

	var req startAnalysisRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	res, err := h.Starter.Start(r.Context(), service.StartRequest{
		UserID:       id.UserID,
		PlanHint:     id.Plan,
		ListingID:    req.ListingID,
		AnalysisType: model.AnalysisType(strings.TrimSpace(req.AnalysisType)),
		Parameters:   req.Parameters,
		IP:           optionalString(clientIP(r)),
		UserAgent:    optionalString(r.UserAgent()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, StartResponse{
		ID:          res.Job.ID,
		Status:      res.Job.Status,
		Progress:    res.Job.Progress,
		CurrentStep: res.Job.CurrentStep,
		Reused:      res.Reused,
	})
}

// GetJob handles GET /api/analysis/jobs/{id}. With ?wait=N it holds the request
// until the job changes or N seconds pass, capped by MaxLongPoll.
func (h *AnalysisHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	job, err := h.Jobs.GetJob(r.Context(), jobID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if wait := h.longPollDuration(r); wait > 0 && !job.Status.IsTerminal() {
		job = h.waitForChange(r.Context(), job, wait)
	}
	WriteJSON(w, http.StatusOK, job.View())
}

func (h *AnalysisHandlers) longPollDuration(r *http.Request) time.Duration {
	wait := time.Duration(parseIntQuery(r, "wait", 0)) * time.Second
	if wait <= 0 {
		return 0
	}
	if h.MaxLongPoll > 0 && wait > h.MaxLongPoll {
		wait = h.MaxLongPoll
	}
	return wait
}

// waitForChange returns the newest snapshot once it differs from job, or the last
// one read when the wait expires. Errors end the wait early with the last snapshot.
func (h *AnalysisHandlers) waitForChange(
	ctx context.Context,
	job *model.AnalysisJob,
	wait time.Duration,
) *model.AnalysisJob {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	for {
		if err := h.Jobs.WaitForChange(ctx, job.ID, job.Mark()); err != nil {
			if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
				h.renderer().logger.WarnContext(ctx, "long-poll wait failed", "job_id", job.ID, "error", err)
			}
			return job
		}
		next, err := h.Jobs.GetJob(ctx, job.ID)
		if err != nil {
			return job
		}
		if next.Mark() != job.Mark() {
			return next
		}
		// Notification for a write that did not alter the visible state.
	}
}

// Latest handles GET /api/analysis/jobs?listingId=&analysisType=.
func (h *AnalysisHandlers) Latest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	job, err := h.Jobs.GetLatestJob(
		r.Context(),
		q.Get("listingId"),
		model.AnalysisType(strings.TrimSpace(q.Get("analysisType"))),
	)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, job.View())
}

// Cancel handles POST /api/analysis/jobs/{id}/cancel. A finished job yields 409
// with its current state.
func (h *AnalysisHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	job, err := h.Jobs.CancelJob(r.Context(), r.PathValue("id"))
	if err != nil && apperrors.IsConflict(err) && job != nil {
		WriteJSON(w, http.StatusConflict, conflictResponse{
			Error:   string(apperrors.ErrCodeConflict),
			Message: err.Error(),
			Job:     job.View(),
		})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, job.View())
}

type conflictResponse struct {
	Error   string              `json:"error"`
	Message string              `json:"message"`
	Job     model.JobStatusView `json:"job"`
}

type followUpRequest struct {
	AnalysisType string  `json:"analysisType"`
	Cost         float64 `json:"cost,omitempty"`
}

// FollowUp handles POST /api/analysis/follow-ups. The chat service calls it before
// answering a follow-up question; a 200 means the question was admitted and charged.
func (h *AnalysisHandlers) FollowUp(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		h.fail(w, r, errIdentityRequired)
		return
	}

	var req followUpRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	grant, err := h.Starter.FollowUp(r.Context(), service.FollowUpRequest{
		UserID:       id.UserID,
		PlanHint:     id.Plan,
		AnalysisType: model.AnalysisType(strings.TrimSpace(req.AnalysisType)),
		Cost:         req.Cost,
		IP:           optionalString(clientIP(r)),
		UserAgent:    optionalString(r.UserAgent()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, grant)
}

// Usage handles GET /api/analysis/usage.
func (h *AnalysisHandlers) Usage(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		h.fail(w, r, errIdentityRequired)
		return
	}
	summary, err := h.Starter.Usage(r.Context(), id.UserID, id.Plan)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}
