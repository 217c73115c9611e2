package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/bizmarket/analysis-pipeline/internal/adapters/sweeper"
	"github.com/bizmarket/analysis-pipeline/internal/bootstrap"
	"github.com/bizmarket/analysis-pipeline/internal/data"
	"github.com/bizmarket/analysis-pipeline/internal/domain/model"
	"github.com/bizmarket/analysis-pipeline/internal/plans"
)

type timeoutOptions struct {
	Timeout time.Duration
}

type usageOptions struct {
	timeoutOptions
	UserID     string
	Plan       string
	Violations int
}

type setPlanOptions struct {
	timeoutOptions
	UserID string
	Plan   model.PlanTier
}

func parseTimeoutFlags(name string, args []string, def time.Duration) (timeoutOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := timeoutOptions{}
	fs.DurationVar(&opts.Timeout, "timeout", def, "Maximum duration to wait for the command to complete")
	if err := fs.Parse(args); err != nil {
		return timeoutOptions{}, err
	}
	if opts.Timeout <= 0 {
		return timeoutOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func parseUsageFlags(args []string) (usageOptions, error) {
	fs := flag.NewFlagSet("usage", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := usageOptions{}
	fs.DurationVar(&opts.Timeout, "timeout", defaultCommandTimeout, "Maximum duration to wait for the command to complete")
	fs.StringVar(&opts.UserID, "user", "", "User id (required)")
	fs.StringVar(&opts.Plan, "plan", "", "Plan tier hint; defaults to the stored subscription")
	fs.IntVar(&opts.Violations, "violations", 10, "Number of recent violations to print (0 to skip)")
	if err := fs.Parse(args); err != nil {
		return usageOptions{}, err
	}

	opts.UserID = strings.TrimSpace(opts.UserID)
	if opts.UserID == "" {
		return usageOptions{}, errors.New("--user is required")
	}
	if opts.Violations < 0 {
		return usageOptions{}, errors.New("--violations must not be negative")
	}
	if opts.Timeout <= 0 {
		return usageOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func parseSetPlanFlags(args []string) (setPlanOptions, error) {
	fs := flag.NewFlagSet("set-plan", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var plan string
	opts := setPlanOptions{}
	fs.DurationVar(&opts.Timeout, "timeout", defaultCommandTimeout, "Maximum duration to wait for the command to complete")
	fs.StringVar(&opts.UserID, "user", "", "User id (required)")
	fs.StringVar(&plan, "plan", "", "Plan tier: free, starter, professional or enterprise (required)")
	if err := fs.Parse(args); err != nil {
		return setPlanOptions{}, err
	}

	opts.UserID = strings.TrimSpace(opts.UserID)
	if opts.UserID == "" {
		return setPlanOptions{}, errors.New("--user is required")
	}
	if err := opts.Plan.UnmarshalText([]byte(plan)); err != nil {
		return setPlanOptions{}, fmt.Errorf("--plan: %w", err)
	}
	if opts.Timeout <= 0 {
		return setPlanOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func withDatabase(
	cmdCtx *commandContext,
	timeout time.Duration,
	f func(context.Context, *sql.DB) error,
) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", cerr)
		}
	}()

	return f(ctx, db)
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseTimeoutFlags("migrate", args, defaultMigrationTimeout)
	if err != nil {
		return err
	}
	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("running database migrations")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return fmt.Errorf("run migrations: %w", migrateErr)
		}
		cmdCtx.Logger.Info("migrations completed successfully")
		return nil
	})
}

func runMigrationStatus(cmdCtx *commandContext, args []string) error {
	opts, err := parseTimeoutFlags("migrate-status", args, defaultCommandTimeout)
	if err != nil {
		return err
	}
	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		status, err := data.MigrationStatus(ctx, db)
		if err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		tw := tabwriter.NewWriter(cmdCtx.Out, 0, 0, 2, ' ', 0)
		if err := writeln(tw, "VERSION\tAPPLIED"); err != nil {
			return err
		}
		for _, m := range status {
			if err := writef(tw, "%s\t%t\n", m.Version, m.Applied); err != nil {
				return err
			}
		}
		return tw.Flush()
	})
}

func runSweep(cmdCtx *commandContext, args []string) error {
	opts, err := parseTimeoutFlags("sweep", args, defaultMigrationTimeout)
	if err != nil {
		return err
	}
	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		runner, err := sweeper.NewRunner(sweeper.RunnerOptions{
			DB:     db,
			Config: cmdCtx.Config.Sweeper,
			Logger: cmdCtx.Logger,
		})
		if err != nil {
			return fmt.Errorf("create sweeper: %w", err)
		}
		if err := runner.RunOnce(ctx); err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		cmdCtx.Logger.Info("sweep completed")
		return nil
	})
}

func runJobStats(cmdCtx *commandContext, args []string) error {
	opts, err := parseTimeoutFlags("job-stats", args, defaultCommandTimeout)
	if err != nil {
		return err
	}
	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		stats, err := data.NewAnalysisJobRepo(db, data.RepoConfig{Logger: cmdCtx.Logger}).Stats(ctx)
		if err != nil {
			return fmt.Errorf("job stats: %w", err)
		}
		return printJobStats(cmdCtx.Out, stats)
	})
}

func printJobStats(w io.Writer, stats *model.AnalysisJobStats) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := []struct {
		status model.JobStatus
		count  int
	}{
		{model.JobStatusQueued, stats.Queued},
		{model.JobStatusProcessing, stats.Processing},
		{model.JobStatusCompleted, stats.Completed},
		{model.JobStatusFailed, stats.Failed},
		{model.JobStatusCancelled, stats.Cancelled},
	}
	if err := writeln(tw, "STATUS\tJOBS"); err != nil {
		return err
	}
	for _, r := range rows {
		if err := writef(tw, "%s\t%d\n", r.status, r.count); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func runUsage(cmdCtx *commandContext, args []string) error {
	opts, err := parseUsageFlags(args)
	if err != nil {
		return err
	}
	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		services, err := bootstrap.NewServices(&bootstrap.ServiceDeps{
			Config: &cmdCtx.Config,
			DB:     db,
			Logger: cmdCtx.Logger,
		})
		if err != nil {
			return err
		}
		summary, err := services.Starter.Usage(ctx, opts.UserID, opts.Plan)
		if err != nil {
			return fmt.Errorf("usage: %w", err)
		}
		if err := printUsageSummary(cmdCtx.Out, opts.UserID, summary); err != nil {
			return err
		}
		if opts.Violations == 0 {
			return nil
		}

		violations, err := data.NewUsageRepo(db, data.RepoConfig{Logger: cmdCtx.Logger}).
			ListViolations(ctx, opts.UserID, opts.Violations)
		if err != nil {
			return fmt.Errorf("list violations: %w", err)
		}
		return printViolations(cmdCtx.Out, violations)
	})
}

func printUsageSummary(w io.Writer, userID string, s *model.UsageSummary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	lines := [][2]string{
		{"User", userID},
		{"Plan", string(s.Plan)},
		{"Analyses today", fmt.Sprintf("%d (remaining %s)", s.AnalysesToday, formatLimit(s.DailyRemaining))},
		{"Analyses this month", fmt.Sprintf("%d (remaining %s)", s.AnalysesMonth, formatLimit(s.MonthlyRemaining))},
		{"Questions today", fmt.Sprintf("%d", s.QuestionsToday)},
		{"Cost today", fmt.Sprintf("$%.2f", s.CostToday)},
	}
	for _, l := range lines {
		if err := writef(tw, "%s:\t%s\n", l[0], l[1]); err != nil {
			return err
		}
	}

	types := make([]string, 0, len(s.FollowUpsLeft))
	for t := range s.FollowUpsLeft {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		left := s.FollowUpsLeft[model.AnalysisType(t)]
		if err := writef(tw, "Follow-ups left (%s):\t%s\n", t, formatLimit(left)); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func printViolations(w io.Writer, violations []model.UsageViolation) error {
	if len(violations) == 0 {
		return writeln(w, "\nNo recorded violations.")
	}
	if err := writeln(w, "\nRecent violations:"); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writeln(tw, "TIME\tACTION\tLIMIT\tCURRENT\tMAX\tIP"); err != nil {
		return err
	}
	for _, v := range violations {
		ip := "-"
		if v.IP != nil {
			ip = *v.IP
		}
		if err := writef(tw, "%s\t%s\t%s\t%g\t%g\t%s\n",
			v.CreatedAt.UTC().Format(time.RFC3339), v.Action, v.LimitType, v.Current, v.Limit, ip); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func formatLimit(n int) string {
	if n == model.Unlimited {
		return "unlimited"
	}
	return fmt.Sprintf("%d", n)
}

func runSetPlan(cmdCtx *commandContext, args []string) error {
	opts, err := parseSetPlanFlags(args)
	if err != nil {
		return err
	}
	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		repo := data.NewSubscriptionRepo(db, &data.RealTimeProvider{})
		if err := repo.SetPlan(ctx, opts.UserID, opts.Plan); err != nil {
			return fmt.Errorf("set plan: %w", err)
		}
		cmdCtx.Logger.Info("plan updated", "user_id", opts.UserID, "plan", opts.Plan)
		return nil
	})
}

func runPlans(cmdCtx *commandContext, _ []string) error {
	catalog, err := plans.Load(cmdCtx.Config.Quota.PlansFile)
	if err != nil {
		return err
	}
	return printPlans(cmdCtx.Out, catalog)
}

func printPlans(w io.Writer, catalog *plans.Catalog) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writeln(tw, "PLAN\tDAILY\tMONTHLY\tQ/HOUR\tQ/DAY\tCOST ALERT\tFEATURES"); err != nil {
		return err
	}
	for _, tier := range catalog.Tiers() {
		p := catalog.Lookup(tier)
		features := make([]string, 0, len(p.Features))
		for name, on := range p.Features {
			if on {
				features = append(features, name)
			}
		}
		sort.Strings(features)
		if err := writef(tw, "%s\t%s\t%s\t%s\t%s\t$%.2f\t%s\n",
			tier,
			formatLimit(p.DailyAnalysisLimit),
			formatLimit(p.MonthlyAnalysisLimit),
			formatLimit(p.HourlyQuestionLimit),
			formatLimit(p.DailyQuestionLimit),
			p.CostAlertThreshold,
			strings.Join(features, ","),
		); err != nil {
			return err
		}
	}
	return tw.Flush()
}
