// Package tracker is a client of the analysis job endpoints. It starts or attaches
// to a job and follows it to a terminal state by polling.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bizmarket/analysis-pipeline/internal/domain/model"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBackoffBase  = time.Second
	defaultBackoffCap   = 30 * time.Second
	defaultHTTPTimeout  = 30 * time.Second

	maxErrorBody = 64 << 10
)

var (
	// ErrNoJob is returned by Attach when the listing has no job of that type.
	ErrNoJob = errors.New("no analysis job for listing")
	// ErrJobExpired ends tracking when a tracked job is no longer found.
	ErrJobExpired = errors.New("analysis job expired")
)

// AdmissionError is a start request refused by quota, rate or plan checks.
type AdmissionError struct {
	StatusCode int
	Code       string
	Message    string
	LimitType  string
	RetryAfter time.Duration
}

func (e *AdmissionError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// APIError is any other non-2xx response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("analysis api: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("analysis api: %d %s", e.StatusCode, e.Message)
}

// transient reports whether a poll failure should be retried rather than surfaced.
func transient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}
	// Anything that never produced a response is a network error.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL    string       // Required
	HTTPClient *http.Client // Defaults to a client with a 30s timeout
	UserID     string       // Sent as the user header; required by Start and Usage
	Plan       string       // Optional plan hint
	UserHeader string       // Defaults to X-User-ID
	PlanHeader string       // Defaults to X-User-Plan

	PollInterval time.Duration // Defaults to 2s
	BackoffBase  time.Duration // Defaults to 1s
	BackoffCap   time.Duration // Defaults to 30s
	Logger       *slog.Logger
}

// Client talks to the analysis job endpoints.
type Client struct {
	base       *url.URL
	http       *http.Client
	userID     string
	plan       string
	userHeader string
	planHeader string

	interval    time.Duration
	backoffBase time.Duration
	backoffCap  time.Duration
	logger      *slog.Logger
}

// NewClient constructs a Client.
func NewClient(opts ClientOptions) (*Client, error) {
	raw := strings.TrimSpace(opts.BaseURL)
	if raw == "" {
		return nil, errors.New("BaseURL is required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must use http or https: %q", raw)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		base:        base,
		http:        hc,
		userID:      strings.TrimSpace(opts.UserID),
		plan:        strings.TrimSpace(opts.Plan),
		userHeader:  orDefault(opts.UserHeader, "X-User-ID"),
		planHeader:  orDefault(opts.PlanHeader, "X-User-Plan"),
		interval:    positiveOr(opts.PollInterval, defaultPollInterval),
		backoffBase: positiveOr(opts.BackoffBase, defaultBackoffBase),
		backoffCap:  positiveOr(opts.BackoffCap, defaultBackoffCap),
		logger:      logger.With("component", "analysis_tracker"),
	}, nil
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

func positiveOr(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

type startRequest struct {
	ListingID    string             `json:"listingId"`
	AnalysisType model.AnalysisType `json:"analysisType"`
	Parameters   json.RawMessage    `json:"parameters,omitempty"`
}

type startResponse struct {
	ID          string          `json:"id"`
	Status      model.JobStatus `json:"status"`
	Progress    int             `json:"progress"`
	CurrentStep string          `json:"currentStep"`
	Reused      bool            `json:"reused"`
}

// Start requests an analysis and returns a tracker polling the resulting job.
// A request for a listing that already has an active job attaches to that job.
// Refusals are returned as *AdmissionError. Polling stops when ctx is done.
func (c *Client) Start(
	ctx context.Context,
	listingID string,
	analysisType model.AnalysisType,
	params any,
) (*Tracker, error) {
	body := startRequest{ListingID: listingID, AnalysisType: analysisType}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode parameters: %w", err)
		}
		body.Parameters = raw
	}

	var resp startResponse
	if err := c.do(ctx, http.MethodPost, "/api/analysis/jobs", nil, body, &resp); err != nil {
		return nil, err
	}

	initial := model.JobStatusView{
		ID:           resp.ID,
		ListingID:    listingID,
		AnalysisType: analysisType,
		Status:       resp.Status,
		Progress:     resp.Progress,
		CurrentStep:  resp.CurrentStep,
	}
	c.logger.DebugContext(ctx, "analysis started", "job_id", resp.ID, "reused", resp.Reused)
	return c.track(ctx, initial, resp.Reused), nil
}

// Attach follows the latest job for the listing and type without creating one.
// A finished job is returned as a tracker that is already done. Returns ErrNoJob
// when the listing has never been analyzed with that type.
func (c *Client) Attach(ctx context.Context, listingID string, analysisType model.AnalysisType) (*Tracker, error) {
	q := url.Values{}
	q.Set("listingId", listingID)
	q.Set("analysisType", string(analysisType))

	var view model.JobStatusView
	if err := c.do(ctx, http.MethodGet, "/api/analysis/jobs", q, nil, &view); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, ErrNoJob
		}
		return nil, err
	}
	return c.track(ctx, view, true), nil
}

// Track follows a known job id.
func (c *Client) Track(ctx context.Context, jobID string) (*Tracker, error) {
	view, err := c.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return c.track(ctx, *view, true), nil
}

// GetJob fetches one snapshot of a job. A missing job yields ErrJobExpired.
func (c *Client) GetJob(ctx context.Context, jobID string) (*model.JobStatusView, error) {
	var view model.JobStatusView
	err := c.do(ctx, http.MethodGet, "/api/analysis/jobs/"+url.PathEscape(jobID), nil, nil, &view)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, ErrJobExpired
	}
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// CancelJob cancels a job by id. A job that already finished returns its
// snapshot together with a 409 *APIError.
func (c *Client) CancelJob(ctx context.Context, jobID string) (*model.JobStatusView, error) {
	var view model.JobStatusView
	err := c.do(ctx, http.MethodPost, "/api/analysis/jobs/"+url.PathEscape(jobID)+"/cancel", nil, nil, &view)
	var conflict *conflictError
	if errors.As(err, &conflict) {
		return &conflict.job, conflict.APIError
	}
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// Usage returns the caller's quota usage.
func (c *Client) Usage(ctx context.Context) (*model.UsageSummary, error) {
	var summary model.UsageSummary
	if err := c.do(ctx, http.MethodGet, "/api/analysis/usage", nil, nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

type errorResponse struct {
	Error      string               `json:"error"`
	Message    string               `json:"message"`
	LimitType  string               `json:"limitType"`
	RetryAfter int                  `json:"retryAfter"`
	Job        *model.JobStatusView `json:"job"`
}

type conflictError struct {
	*APIError
	job model.JobStatusView
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set(c.userHeader, c.userID)
	}
	if c.plan != "" {
		req.Header.Set(c.planHeader, c.plan)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
		return nil
	}
	return decodeError(resp)
}

func decodeError(resp *http.Response) error {
	var body errorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = json.Unmarshal(raw, &body)

	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusPaymentRequired, http.StatusForbidden:
		if body.LimitType != "" || resp.StatusCode == http.StatusPaymentRequired {
			return &AdmissionError{
				StatusCode: resp.StatusCode,
				Code:       body.Error,
				Message:    body.Message,
				LimitType:  body.LimitType,
				RetryAfter: retryAfter(resp.Header.Get("Retry-After"), body.RetryAfter),
			}
		}
	case http.StatusConflict:
		if body.Job != nil {
			return &conflictError{
				APIError: &APIError{StatusCode: resp.StatusCode, Code: body.Error, Message: body.Message},
				job:      *body.Job,
			}
		}
	}

	msg := body.Message
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	return &APIError{StatusCode: resp.StatusCode, Code: body.Error, Message: msg}
}

func retryAfter(header string, bodySeconds int) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if bodySeconds > 0 {
		return time.Duration(bodySeconds) * time.Second
	}
	return 0
}
