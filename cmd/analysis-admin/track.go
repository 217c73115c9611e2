package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bizmarket/analysis-pipeline/internal/domain/model"
	"github.com/bizmarket/analysis-pipeline/internal/tracker"
)

type apiOptions struct {
	BaseURL      string
	UserID       string
	Plan         string
	PollInterval time.Duration
	Timeout      time.Duration
}

type startOptions struct {
	apiOptions
	ListingID    string
	AnalysisType model.AnalysisType
	Parameters   json.RawMessage
	Detach       bool
}

type watchOptions struct {
	apiOptions
	JobID        string
	ListingID    string
	AnalysisType model.AnalysisType
}

func registerAPIFlags(fs *flag.FlagSet, opts *apiOptions) {
	fs.StringVar(&opts.BaseURL, "api", envOr("ANALYSIS_API_URL", "http://localhost:8080"), "Base URL of the analysis API")
	fs.StringVar(&opts.UserID, "user", "", "User id sent in the identity header")
	fs.StringVar(&opts.Plan, "plan", "", "Optional plan tier sent in the plan header")
	fs.DurationVar(&opts.PollInterval, "interval", 2*time.Second, "Polling interval")
	fs.DurationVar(&opts.Timeout, "timeout", 10*time.Minute, "Give up following the job after this long")
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseAnalysisType(raw string) (model.AnalysisType, error) {
	var t model.AnalysisType
	if err := t.UnmarshalText([]byte(raw)); err != nil {
		return "", fmt.Errorf("--type: %w", err)
	}
	return t, nil
}

func parseStartFlags(args []string) (startOptions, error) {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		opts      startOptions
		rawType   string
		rawParams string
	)
	registerAPIFlags(fs, &opts.apiOptions)
	fs.StringVar(&opts.ListingID, "listing", "", "Listing id (required)")
	fs.StringVar(&rawType, "type", string(model.AnalysisTypeBusiness), "Analysis type")
	fs.StringVar(&rawParams, "params", "", "Optional JSON object of analysis parameters")
	fs.BoolVar(&opts.Detach, "detach", false, "Print the job id and exit without following it")
	if err := fs.Parse(args); err != nil {
		return startOptions{}, err
	}

	opts.ListingID = strings.TrimSpace(opts.ListingID)
	if opts.ListingID == "" {
		return startOptions{}, errors.New("--listing is required")
	}
	if strings.TrimSpace(opts.UserID) == "" {
		return startOptions{}, errors.New("--user is required")
	}
	t, err := parseAnalysisType(rawType)
	if err != nil {
		return startOptions{}, err
	}
	opts.AnalysisType = t
	if rawParams = strings.TrimSpace(rawParams); rawParams != "" {
		var obj map[string]any
		if err := json.Unmarshal([]byte(rawParams), &obj); err != nil {
			return startOptions{}, fmt.Errorf("--params must be a JSON object: %w", err)
		}
		opts.Parameters = json.RawMessage(rawParams)
	}
	if opts.Timeout <= 0 {
		return startOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func parseWatchFlags(args []string) (watchOptions, error) {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		opts    watchOptions
		rawType string
	)
	registerAPIFlags(fs, &opts.apiOptions)
	fs.StringVar(&opts.JobID, "job", "", "Job id to follow")
	fs.StringVar(&opts.ListingID, "listing", "", "Follow the latest job of this listing instead of a job id")
	fs.StringVar(&rawType, "type", string(model.AnalysisTypeBusiness), "Analysis type used with --listing")
	if err := fs.Parse(args); err != nil {
		return watchOptions{}, err
	}

	opts.JobID = strings.TrimSpace(opts.JobID)
	opts.ListingID = strings.TrimSpace(opts.ListingID)
	switch {
	case opts.JobID == "" && opts.ListingID == "":
		return watchOptions{}, errors.New("one of --job or --listing is required")
	case opts.JobID != "" && opts.ListingID != "":
		return watchOptions{}, errors.New("--job and --listing are mutually exclusive")
	}
	if opts.ListingID != "" {
		t, err := parseAnalysisType(rawType)
		if err != nil {
			return watchOptions{}, err
		}
		opts.AnalysisType = t
	}
	if opts.Timeout <= 0 {
		return watchOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func newTrackerClient(cmdCtx *commandContext, opts apiOptions) (*tracker.Client, error) {
	return tracker.NewClient(tracker.ClientOptions{
		BaseURL:      opts.BaseURL,
		UserID:       opts.UserID,
		Plan:         opts.Plan,
		UserHeader:   cmdCtx.Config.Identity.UserHeader,
		PlanHeader:   cmdCtx.Config.Identity.PlanHeader,
		PollInterval: opts.PollInterval,
		Logger:       cmdCtx.Logger,
	})
}

func runStart(cmdCtx *commandContext, args []string) error {
	opts, err := parseStartFlags(args)
	if err != nil {
		return err
	}
	client, err := newTrackerClient(cmdCtx, opts.apiOptions)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var params any
	if opts.Parameters != nil {
		params = opts.Parameters
	}
	t, err := client.Start(ctx, opts.ListingID, opts.AnalysisType, params)
	if err != nil {
		var admission *tracker.AdmissionError
		if errors.As(err, &admission) {
			return fmt.Errorf("analysis refused (%s): %w", admission.LimitType, err)
		}
		return err
	}
	if opts.Detach {
		t.Stop()
		verb := "started"
		if t.Reused() {
			verb = "already running"
		}
		return writef(cmdCtx.Out, "%s %s\n", t.ID(), verb)
	}
	return follow(ctx, cmdCtx.Out, t)
}

func runWatch(cmdCtx *commandContext, args []string) error {
	opts, err := parseWatchFlags(args)
	if err != nil {
		return err
	}
	client, err := newTrackerClient(cmdCtx, opts.apiOptions)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var t *tracker.Tracker
	if opts.JobID != "" {
		t, err = client.Track(ctx, opts.JobID)
	} else {
		t, err = client.Attach(ctx, opts.ListingID, opts.AnalysisType)
	}
	if err != nil {
		return err
	}
	return follow(ctx, cmdCtx.Out, t)
}

// follow prints every snapshot until the tracker ends, then the result or error.
func follow(ctx context.Context, w io.Writer, t *tracker.Tracker) error {
	defer t.Stop()
	for view := range t.Updates() {
		if err := printProgress(w, view); err != nil {
			return err
		}
	}

	last, err := t.Wait(ctx)
	if err != nil {
		return fmt.Errorf("follow job %s: %w", t.ID(), err)
	}
	return printOutcome(w, last)
}

func printProgress(w io.Writer, v model.JobStatusView) error {
	return writef(w, "[%s] %-10s %3d%%  %s\n", time.Now().Format(time.TimeOnly), v.Status, v.Progress, v.CurrentStep)
}

func printOutcome(w io.Writer, v model.JobStatusView) error {
	switch v.Status {
	case model.JobStatusCompleted:
		if len(v.Result) == 0 {
			return writeln(w, "completed with an empty result")
		}
		var pretty any
		if err := json.Unmarshal(v.Result, &pretty); err != nil {
			return writeln(w, string(v.Result))
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(pretty)
	case model.JobStatusFailed:
		msg := "unknown error"
		if v.ErrorMessage != nil {
			msg = *v.ErrorMessage
		}
		return fmt.Errorf("analysis %s failed: %s", v.ID, msg)
	case model.JobStatusCancelled:
		return fmt.Errorf("analysis %s was cancelled", v.ID)
	default:
		return fmt.Errorf("analysis %s ended in status %s", v.ID, v.Status)
	}
}
