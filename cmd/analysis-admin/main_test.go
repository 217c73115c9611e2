package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmarket/analysis-pipeline/internal/domain/model"
	"github.com/bizmarket/analysis-pipeline/internal/plans"
)

func TestParseStartFlags(t *testing.T) {
	opts, err := parseStartFlags([]string{
		"--api", "http://api.internal:8080",
		"--user", "user-1",
		"--listing", "listing-9",
		"--type", "market_intelligence",
		"--params", `{"focus":"growth"}`,
		"--detach",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://api.internal:8080", opts.BaseURL)
	assert.Equal(t, "listing-9", opts.ListingID)
	assert.Equal(t, model.AnalysisTypeMarket, opts.AnalysisType)
	assert.JSONEq(t, `{"focus":"growth"}`, string(opts.Parameters))
	assert.True(t, opts.Detach)

	_, err = parseStartFlags([]string{"--user", "u"})
	require.ErrorContains(t, err, "--listing is required")

	_, err = parseStartFlags([]string{"--listing", "l"})
	require.ErrorContains(t, err, "--user is required")

	_, err = parseStartFlags([]string{"--user", "u", "--listing", "l", "--type", "astrology"})
	require.Error(t, err)

	_, err = parseStartFlags([]string{"--user", "u", "--listing", "l", "--params", "[1,2]"})
	require.ErrorContains(t, err, "JSON object")
}

func TestParseWatchFlags(t *testing.T) {
	opts, err := parseWatchFlags([]string{"--job", "job-1"})
	require.NoError(t, err)
	assert.Equal(t, "job-1", opts.JobID)

	opts, err = parseWatchFlags([]string{"--listing", "listing-1", "--type", "due_diligence"})
	require.NoError(t, err)
	assert.Equal(t, model.AnalysisTypeDueDiligence, opts.AnalysisType)

	_, err = parseWatchFlags(nil)
	require.Error(t, err)

	_, err = parseWatchFlags([]string{"--job", "a", "--listing", "b"})
	require.ErrorContains(t, err, "mutually exclusive")
}

func TestParseUsageAndSetPlanFlags(t *testing.T) {
	usage, err := parseUsageFlags([]string{"--user", " user-1 ", "--violations", "3"})
	require.NoError(t, err)
	assert.Equal(t, "user-1", usage.UserID)
	assert.Equal(t, 3, usage.Violations)
	assert.Equal(t, defaultCommandTimeout, usage.Timeout)

	_, err = parseUsageFlags([]string{"--violations", "3"})
	require.Error(t, err)

	setPlan, err := parseSetPlanFlags([]string{"--user", "user-1", "--plan", "Professional"})
	require.NoError(t, err)
	assert.Equal(t, model.PlanProfessional, setPlan.Plan)

	_, err = parseSetPlanFlags([]string{"--user", "user-1", "--plan", "platinum"})
	require.Error(t, err)
}

func TestParseTimeoutFlags(t *testing.T) {
	opts, err := parseTimeoutFlags("migrate", nil, defaultMigrationTimeout)
	require.NoError(t, err)
	assert.Equal(t, defaultMigrationTimeout, opts.Timeout)

	opts, err = parseTimeoutFlags("migrate", []string{"--timeout", "30s"}, defaultMigrationTimeout)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, opts.Timeout)

	_, err = parseTimeoutFlags("migrate", []string{"--timeout", "0s"}, defaultMigrationTimeout)
	require.Error(t, err)
}

func TestPrintUsageSummary(t *testing.T) {
	var buf bytes.Buffer
	err := printUsageSummary(&buf, "user-1", &model.UsageSummary{
		Plan:             model.PlanStarter,
		AnalysesToday:    2,
		AnalysesMonth:    7,
		QuestionsToday:   4,
		CostToday:        0.5,
		DailyRemaining:   3,
		MonthlyRemaining: model.Unlimited,
		FollowUpsLeft: map[model.AnalysisType]int{
			model.AnalysisTypeBusiness: 1,
		},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "starter")
	assert.Contains(t, out, "2 (remaining 3)")
	assert.Contains(t, out, "7 (remaining unlimited)")
	assert.Contains(t, out, "$0.50")
	assert.Contains(t, out, "Follow-ups left (business_analysis):")
}

func TestPrintPlans(t *testing.T) {
	catalog, err := plans.Default()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printPlans(&buf, catalog))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, len(catalog.Tiers())+1)
	assert.True(t, strings.HasPrefix(lines[0], "PLAN"))
}

func TestPrintOutcome(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printOutcome(&buf, model.JobStatusView{
		ID:     "job-1",
		Status: model.JobStatusCompleted,
		Result: []byte(`{"score":81}`),
	}))
	assert.Contains(t, buf.String(), `"score": 81`)

	msg := "listing not found"
	err := printOutcome(&buf, model.JobStatusView{ID: "job-2", Status: model.JobStatusFailed, ErrorMessage: &msg})
	require.ErrorContains(t, err, "listing not found")

	err = printOutcome(&buf, model.JobStatusView{ID: "job-3", Status: model.JobStatusCancelled})
	require.ErrorContains(t, err, "cancelled")
}

func TestPrintUsageListsCommands(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printUsage(&buf))
	for name := range commands() {
		assert.Contains(t, buf.String(), name)
	}
}
