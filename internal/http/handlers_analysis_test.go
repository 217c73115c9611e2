package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmarket/analysis-pipeline/config"
	"github.com/bizmarket/analysis-pipeline/internal/domain/model"
	apperrors "github.com/bizmarket/analysis-pipeline/internal/errors"
	"github.com/bizmarket/analysis-pipeline/internal/service"
)

type fakeStarter struct {
	mu        sync.Mutex
	got       []service.StartRequest
	result    *service.StartResult
	err       error
	summary   *model.UsageSummary
	followUps []service.FollowUpRequest
	grant     *service.FollowUpGrant
}

func (f *fakeStarter) Start(_ context.Context, req service.StartRequest) (*service.StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, req)
	return f.result, f.err
}

func (f *fakeStarter) Usage(context.Context, string, string) (*model.UsageSummary, error) {
	return f.summary, f.err
}

func (f *fakeStarter) FollowUp(_ context.Context, req service.FollowUpRequest) (*service.FollowUpGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followUps = append(f.followUps, req)
	return f.grant, f.err
}

type fakeJobs struct {
	mu        sync.Mutex
	jobs      map[string]*model.AnalysisJob
	changes   chan *model.AnalysisJob
	cancelErr error
	afterRead func(f *fakeJobs)
}

func newFakeJobs(jobs ...*model.AnalysisJob) *fakeJobs {
	f := &fakeJobs{jobs: map[string]*model.AnalysisJob{}, changes: make(chan *model.AnalysisJob, 4)}
	for _, j := range jobs {
		f.jobs[j.ID] = j
	}
	return f
}

func (f *fakeJobs) GetJob(_ context.Context, id string) (*model.AnalysisJob, error) {
	f.mu.Lock()
	j, ok := f.jobs[id]
	if !ok {
		f.mu.Unlock()
		return nil, apperrors.NotFoundf("analysis job %s not found", id)
	}
	cp := *j
	hook := f.afterRead
	f.afterRead = nil
	f.mu.Unlock()

	if hook != nil {
		hook(f)
	}
	return &cp, nil
}

func (f *fakeJobs) GetLatestJob(_ context.Context, listingID string, t model.AnalysisType) (*model.AnalysisJob, error) {
	if listingID == "" {
		return nil, apperrors.ValidationField("listingId", "listingId is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.ListingID == listingID && j.AnalysisType == t {
			cp := *j
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("no analysis job for listing")
}

func (f *fakeJobs) CancelJob(_ context.Context, id string) (*model.AnalysisJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, apperrors.NotFound("analysis job not found")
	}
	if j.Status.IsTerminal() {
		cp := *j
		return &cp, apperrors.Conflictf("analysis job is already %s", j.Status)
	}
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	j.Status = model.JobStatusCancelled
	cp := *j
	return &cp, nil
}

// WaitForChange returns at once when the stored job no longer matches seen,
// otherwise applies the next queued change or blocks until ctx is done.
func (f *fakeJobs) WaitForChange(ctx context.Context, id string, seen model.JobMark) error {
	f.mu.Lock()
	j, ok := f.jobs[id]
	moved := !ok || j.Mark() != seen
	f.mu.Unlock()
	if moved {
		return nil
	}

	select {
	case next := <-f.changes:
		f.mu.Lock()
		f.jobs[next.ID] = next
		f.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func queuedJob(id string) *model.AnalysisJob {
	return &model.AnalysisJob{
		ID:           id,
		ListingID:    "listing-1",
		AnalysisType: model.AnalysisTypeBusiness,
		Status:       model.JobStatusQueued,
		CurrentStep:  "Queued",
		CreatedAt:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newTestRouter(starter AnalysisStarter, jobs JobReader) http.Handler {
	return NewRouter(RouterServices{
		Starter:     starter,
		Jobs:        jobs,
		Identity:    config.IdentityConfig{Mode: config.IdentityModeHeader},
		MaxLongPoll: 2 * time.Second,
	})
}

func doRequest(t *testing.T, h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var userHeaders = map[string]string{"X-User-ID": "user-1", "X-User-Plan": "Starter"}

func TestStart_Accepted(t *testing.T) {
	starter := &fakeStarter{result: &service.StartResult{Job: queuedJob("job-1")}}
	h := newTestRouter(starter, newFakeJobs())

	headers := map[string]string{
		"X-User-ID":       "user-1",
		"X-User-Plan":     "Starter",
		"X-Forwarded-For": "203.0.113.7, 10.0.0.1",
		"User-Agent":      "tracker-test",
	}
	rec := doRequest(t, h, http.MethodPost, "/api/analysis/jobs",
		`{"listingId":"listing-1","analysisType":"business_analysis","parameters":{"focus":"growth"}}`, headers)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decodeBody[StartResponse](t, rec)
	assert.Equal(t, "job-1", resp.ID)
	assert.Equal(t, model.JobStatusQueued, resp.Status)
	assert.False(t, resp.Reused)

	require.Len(t, starter.got, 1)
	got := starter.got[0]
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "starter", got.PlanHint)
	assert.Equal(t, "listing-1", got.ListingID)
	assert.Equal(t, model.AnalysisTypeBusiness, got.AnalysisType)
	assert.JSONEq(t, `{"focus":"growth"}`, string(got.Parameters))
	require.NotNil(t, got.IP)
	assert.Equal(t, "203.0.113.7", *got.IP)
	require.NotNil(t, got.UserAgent)
	assert.Equal(t, "tracker-test", *got.UserAgent)
}

func TestStart_Reused(t *testing.T) {
	job := queuedJob("job-1")
	job.Status = model.JobStatusProcessing
	job.Progress = 40
	starter := &fakeStarter{result: &service.StartResult{Job: job, Reused: true}}

	rec := doRequest(t, newTestRouter(starter, newFakeJobs()), http.MethodPost, "/api/analysis/jobs",
		`{"listingId":"listing-1","analysisType":"business_analysis"}`, userHeaders)

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeBody[StartResponse](t, rec)
	assert.True(t, resp.Reused)
	assert.Equal(t, 40, resp.Progress)
}

func TestStart_RequiresIdentity(t *testing.T) {
	starter := &fakeStarter{}
	rec := doRequest(t, newTestRouter(starter, newFakeJobs()), http.MethodPost, "/api/analysis/jobs",
		`{"listingId":"listing-1","analysisType":"business_analysis"}`, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, starter.got)
}

func TestStart_DevIdentity(t *testing.T) {
	starter := &fakeStarter{result: &service.StartResult{Job: queuedJob("job-1")}}
	h := NewRouter(RouterServices{
		Starter: starter,
		Jobs:    newFakeJobs(),
		Identity: config.IdentityConfig{
			Mode: config.IdentityModeDev,
			Dev:  config.DevIdentityConfig{UserID: "dev-user", Plan: "professional"},
		},
	})

	rec := doRequest(t, h, http.MethodPost, "/api/analysis/jobs",
		`{"listingId":"listing-1","analysisType":"market_intelligence"}`, nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, starter.got, 1)
	assert.Equal(t, "dev-user", starter.got[0].UserID)
	assert.Equal(t, "professional", starter.got[0].PlanHint)
}

func TestStart_InvalidJSON(t *testing.T) {
	rec := doRequest(t, newTestRouter(&fakeStarter{}, newFakeJobs()), http.MethodPost, "/api/analysis/jobs",
		`{"listingId":`, userHeaders)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_json", decodeBody[errorBody](t, rec).Error)

	rec = doRequest(t, newTestRouter(&fakeStarter{}, newFakeJobs()), http.MethodPost, "/api/analysis/jobs",
		`{"listingId":"l","unknown":1}`, userHeaders)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStart_ValidationError(t *testing.T) {
	starter := &fakeStarter{err: apperrors.ValidationField("analysisType", "invalid analysis type")}
	rec := doRequest(t, newTestRouter(starter, newFakeJobs()), http.MethodPost, "/api/analysis/jobs",
		`{"listingId":"listing-1","analysisType":"bogus"}`, userHeaders)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, "validation", body.Error)
	assert.Equal(t, "analysisType", body.Field)
}

func TestStart_AdmissionErrors(t *testing.T) {
	retryAt := time.Now().Add(90 * time.Second)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantLimit  string
		wantRetry  bool
	}{
		{
			name:       "hourly rate limit",
			err:        apperrors.RateLimited("hourly_questions", "Hourly question limit reached", &retryAt),
			wantStatus: http.StatusTooManyRequests,
			wantLimit:  "hourly_questions",
			wantRetry:  true,
		},
		{
			name:       "daily quota",
			err:        apperrors.QuotaExceeded("daily_analyses", "Daily analysis limit reached"),
			wantStatus: http.StatusPaymentRequired,
			wantLimit:  "daily_analyses",
		},
		{
			name:       "feature gate",
			err:        apperrors.FeatureDisabled("buyer_match", "Buyer matching is not included in your plan"),
			wantStatus: http.StatusForbidden,
			wantLimit:  "buyer_match",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			starter := &fakeStarter{err: tt.err}
			rec := doRequest(t, newTestRouter(starter, newFakeJobs()), http.MethodPost, "/api/analysis/jobs",
				`{"listingId":"listing-1","analysisType":"business_analysis"}`, userHeaders)

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeBody[errorBody](t, rec)
			assert.Equal(t, tt.wantLimit, body.LimitType)
			assert.NotEmpty(t, body.Message)
			if tt.wantRetry {
				assert.Positive(t, body.RetryAfter)
				assert.NotEmpty(t, rec.Header().Get("Retry-After"))
			} else {
				assert.Zero(t, body.RetryAfter)
				assert.Empty(t, rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestStart_InternalErrorHidden(t *testing.T) {
	starter := &fakeStarter{err: errors.New("dial tcp 10.0.0.5:5432: connection refused")}
	rec := doRequest(t, newTestRouter(starter, newFakeJobs()), http.MethodPost, "/api/analysis/jobs",
		`{"listingId":"listing-1","analysisType":"business_analysis"}`, userHeaders)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
}

func TestGetJob(t *testing.T) {
	job := queuedJob("job-1")
	job.Status = model.JobStatusCompleted
	job.Progress = 100
	job.Result = json.RawMessage(`{"summary":"ok"}`)
	h := newTestRouter(&fakeStarter{}, newFakeJobs(job))

	rec := doRequest(t, h, http.MethodGet, "/api/analysis/jobs/job-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[model.JobStatusView](t, rec)
	assert.Equal(t, model.JobStatusCompleted, view.Status)
	assert.JSONEq(t, `{"summary":"ok"}`, string(view.Result))

	rec = doRequest(t, h, http.MethodGet, "/api/analysis/jobs/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJob_LongPollReturnsOnChange(t *testing.T) {
	jobs := newFakeJobs(queuedJob("job-1"))
	h := newTestRouter(&fakeStarter{}, jobs)

	// A write that leaves the visible state alone, then a real progress update.
	jobs.changes <- queuedJob("job-1")
	next := queuedJob("job-1")
	next.Status = model.JobStatusProcessing
	next.Progress = 10
	next.CurrentStep = "Loading listing data"
	jobs.changes <- next

	rec := doRequest(t, h, http.MethodGet, "/api/analysis/jobs/job-1?wait=5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[model.JobStatusView](t, rec)
	assert.Equal(t, model.JobStatusProcessing, view.Status)
	assert.Equal(t, 10, view.Progress)
}

func TestGetJob_LongPollSeesWriteBeforeWait(t *testing.T) {
	jobs := newFakeJobs(queuedJob("job-1"))
	// The worker moves the job right after the handler's first read and
	// before the wait subscribes; no further change is queued.
	jobs.afterRead = func(f *fakeJobs) {
		f.mu.Lock()
		defer f.mu.Unlock()
		next := queuedJob("job-1")
		next.Status = model.JobStatusProcessing
		next.Progress = 10
		next.CurrentStep = "Loading listing data"
		f.jobs["job-1"] = next
	}
	h := newTestRouter(&fakeStarter{}, jobs)

	start := time.Now()
	rec := doRequest(t, h, http.MethodGet, "/api/analysis/jobs/job-1?wait=5", "", nil)
	assert.Less(t, time.Since(start), time.Second)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[model.JobStatusView](t, rec)
	assert.Equal(t, model.JobStatusProcessing, view.Status)
	assert.Equal(t, 10, view.Progress)
}

func TestGetJob_LongPollTimesOut(t *testing.T) {
	h := NewRouter(RouterServices{
		Starter:     &fakeStarter{},
		Jobs:        newFakeJobs(queuedJob("job-1")),
		MaxLongPoll: 50 * time.Millisecond,
	})

	start := time.Now()
	rec := doRequest(t, h, http.MethodGet, "/api/analysis/jobs/job-1?wait=20", "", nil)
	assert.Less(t, time.Since(start), 5*time.Second)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.JobStatusQueued, decodeBody[model.JobStatusView](t, rec).Status)
}

func TestLatest(t *testing.T) {
	h := newTestRouter(&fakeStarter{}, newFakeJobs(queuedJob("job-1")))

	rec := doRequest(t, h, http.MethodGet, "/api/analysis/jobs?listingId=listing-1&analysisType=business_analysis", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "job-1", decodeBody[model.JobStatusView](t, rec).ID)

	rec = doRequest(t, h, http.MethodGet, "/api/analysis/jobs?listingId=listing-1&analysisType=market_intelligence", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/analysis/jobs?analysisType=market_intelligence", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancel(t *testing.T) {
	done := queuedJob("job-2")
	done.Status = model.JobStatusCompleted
	h := newTestRouter(&fakeStarter{}, newFakeJobs(queuedJob("job-1"), done))

	rec := doRequest(t, h, http.MethodPost, "/api/analysis/jobs/job-1/cancel", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.JobStatusCancelled, decodeBody[model.JobStatusView](t, rec).Status)

	rec = doRequest(t, h, http.MethodPost, "/api/analysis/jobs/job-2/cancel", "", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	conflict := decodeBody[conflictResponse](t, rec)
	assert.Equal(t, model.JobStatusCompleted, conflict.Job.Status)

	rec = doRequest(t, h, http.MethodPost, "/api/analysis/jobs/missing/cancel", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUsage(t *testing.T) {
	starter := &fakeStarter{summary: &model.UsageSummary{Plan: model.PlanStarter, DailyRemaining: 3}}
	h := newTestRouter(starter, newFakeJobs())

	rec := doRequest(t, h, http.MethodGet, "/api/analysis/usage", "", userHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeBody[model.UsageSummary](t, rec)
	assert.Equal(t, model.PlanStarter, summary.Plan)
	assert.Equal(t, 3, summary.DailyRemaining)

	rec = doRequest(t, h, http.MethodGet, "/api/analysis/usage", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFollowUp(t *testing.T) {
	t.Run("admitted follow-up returns the remaining allowance", func(t *testing.T) {
		starter := &fakeStarter{grant: &service.FollowUpGrant{AnalysisType: model.AnalysisTypeBusiness, DailyRemaining: 4}}
		headers := map[string]string{"X-User-ID": "user-1", "X-User-Plan": "Starter", "X-Forwarded-For": "203.0.113.9"}
		rec := doRequest(t, newTestRouter(starter, newFakeJobs()), http.MethodPost, "/api/analysis/follow-ups",
			`{"analysisType":" business_analysis ","cost":0.03}`, headers)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		grant := decodeBody[service.FollowUpGrant](t, rec)
		assert.Equal(t, 4, grant.DailyRemaining)

		require.Len(t, starter.followUps, 1)
		got := starter.followUps[0]
		assert.Equal(t, "user-1", got.UserID)
		assert.Equal(t, "Starter", got.PlanHint)
		assert.Equal(t, model.AnalysisTypeBusiness, got.AnalysisType)
		assert.InDelta(t, 0.03, got.Cost, 0.0001)
		require.NotNil(t, got.IP)
		assert.Equal(t, "203.0.113.9", *got.IP)
	})

	t.Run("exhausted quota is payment required", func(t *testing.T) {
		starter := &fakeStarter{err: apperrors.QuotaExceeded("daily_follow_ups", "Daily follow-up limit reached")}
		rec := doRequest(t, newTestRouter(starter, newFakeJobs()), http.MethodPost, "/api/analysis/follow-ups",
			`{"analysisType":"business_analysis"}`, userHeaders)

		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
		assert.Equal(t, "daily_follow_ups", decodeBody[errorBody](t, rec).LimitType)
	})

	t.Run("requires a caller", func(t *testing.T) {
		starter := &fakeStarter{}
		rec := doRequest(t, newTestRouter(starter, newFakeJobs()), http.MethodPost, "/api/analysis/follow-ups",
			`{"analysisType":"business_analysis"}`, nil)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, starter.followUps)
	})
}
