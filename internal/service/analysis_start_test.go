package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/bizmarket/analysis-pipeline/config"
	"github.com/bizmarket/analysis-pipeline/internal/data"
	"github.com/bizmarket/analysis-pipeline/internal/domain/model"
	apperrors "github.com/bizmarket/analysis-pipeline/internal/errors"
	"github.com/bizmarket/analysis-pipeline/internal/mocks"
)

type startFixture struct {
	svc   *AnalysisStartService
	repo  *mocks.MockAnalysisJobRepository
	usage *memUsageRepo
	quota *QuotaService
}

func newStartFixture(t *testing.T, plan *model.PlanLimitations) startFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockAnalysisJobRepository(ctrl)
	usage := newMemUsageRepo()

	jobs := newJobService(t, AnalysisJobServiceOptions{Repo: repo})
	quota, err := NewQuotaService(QuotaServiceOptions{
		Usage:        usage,
		Plans:        staticCatalog{model.PlanFree: plan},
		Config:       config.QuotaConfig{AnalysisCost: 0.25},
		TimeProvider: data.NewFixedTimeProvider(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)

	svc, err := NewAnalysisStartService(AnalysisStartServiceOptions{Jobs: jobs, Quota: quota})
	require.NoError(t, err)
	return startFixture{svc: svc, repo: repo, usage: usage, quota: quota}
}

func (f startFixture) todayAnalyses(t *testing.T, userID string) int {
	t.Helper()
	rec, err := f.usage.GetDaily(context.Background(), userID, time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return rec.AnalysesTotal
}

func TestAnalysisStartService_Start(t *testing.T) {
	ctx := context.Background()
	req := StartRequest{
		UserID:       "u1",
		ListingID:    "listing-1",
		AnalysisType: model.AnalysisTypeBusiness,
	}

	t.Run("creates and charges a new job", func(t *testing.T) {
		f := newStartFixture(t, testPlan(model.PlanFree))
		created := newTestJob(model.JobStatusQueued)

		f.repo.EXPECT().GetLatest(gomock.Any(), "listing-1", model.AnalysisTypeBusiness).Return(nil, model.ErrJobNotFound)
		f.repo.EXPECT().CreateOrGetActive(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, r *model.CreateJobRequest) (*model.AnalysisJob, bool, error) {
				require.NotNil(t, r.UserID)
				assert.Equal(t, "u1", *r.UserID)
				return created, false, nil
			})

		res, err := f.svc.Start(ctx, req)
		require.NoError(t, err)
		assert.False(t, res.Reused)
		assert.Equal(t, created.ID, res.Job.ID)
		assert.Equal(t, 1, f.todayAnalyses(t, "u1"))
	})

	t.Run("reattaches to an active job without admission or charge", func(t *testing.T) {
		plan := testPlan(model.PlanFree)
		plan.DailyAnalysisLimit = 0
		f := newStartFixture(t, plan)
		active := newTestJob(model.JobStatusProcessing)

		f.repo.EXPECT().GetLatest(gomock.Any(), "listing-1", model.AnalysisTypeBusiness).Return(active, nil)

		res, err := f.svc.Start(ctx, req)
		require.NoError(t, err)
		assert.True(t, res.Reused)
		assert.Equal(t, active.ID, res.Job.ID)
		assert.Equal(t, 0, f.todayAnalyses(t, "u1"))
		assert.Empty(t, f.usage.violations)
	})

	t.Run("does not charge a job reused under a race", func(t *testing.T) {
		f := newStartFixture(t, testPlan(model.PlanFree))
		active := newTestJob(model.JobStatusQueued)

		f.repo.EXPECT().GetLatest(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, model.ErrJobNotFound)
		f.repo.EXPECT().CreateOrGetActive(gomock.Any(), gomock.Any()).Return(active, true, nil)

		res, err := f.svc.Start(ctx, req)
		require.NoError(t, err)
		assert.True(t, res.Reused)
		assert.Equal(t, 0, f.todayAnalyses(t, "u1"))
	})

	t.Run("rejected starts never create a job", func(t *testing.T) {
		plan := testPlan(model.PlanFree)
		plan.DailyAnalysisLimit = 0
		f := newStartFixture(t, plan)

		finished := newTestJob(model.JobStatusCompleted)
		f.repo.EXPECT().GetLatest(gomock.Any(), gomock.Any(), gomock.Any()).Return(finished, nil)

		_, err := f.svc.Start(ctx, req)
		ae, ok := apperrors.AsAdmission(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeQuotaExceeded, ae.Code)
	})

	t.Run("validates before anything else", func(t *testing.T) {
		f := newStartFixture(t, testPlan(model.PlanFree))
		_, err := f.svc.Start(ctx, StartRequest{UserID: "u1", AnalysisType: model.AnalysisTypeBusiness})
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestAnalysisStartService_Usage(t *testing.T) {
	f := newStartFixture(t, testPlan(model.PlanFree))
	require.NoError(t, f.quota.IncrementUsage(context.Background(), model.UsageIncrement{
		UserID:       "u1",
		UsageType:    model.UsageTypeAnalysis,
		AnalysisType: model.AnalysisTypeMarket,
	}))

	summary, err := f.svc.Usage(context.Background(), "u1", "")
	require.NoError(t, err)
	assert.Equal(t, model.PlanFree, summary.Plan)
	assert.Equal(t, 1, summary.AnalysesToday)
	assert.Equal(t, 1, summary.DailyRemaining)
}

func TestAnalysisStartService_FollowUp(t *testing.T) {
	ctx := context.Background()
	req := FollowUpRequest{UserID: "u1", AnalysisType: model.AnalysisTypeBusiness, Cost: 0.05}
	today := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	t.Run("charges one follow-up per grant", func(t *testing.T) {
		f := newStartFixture(t, testPlan(model.PlanFree))

		grant, err := f.svc.FollowUp(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, model.AnalysisTypeBusiness, grant.AnalysisType)
		assert.Equal(t, 1, grant.DailyRemaining)

		grant, err = f.svc.FollowUp(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, 0, grant.DailyRemaining)

		rec, err := f.usage.GetDaily(ctx, "u1", today)
		require.NoError(t, err)
		assert.Equal(t, 2, rec.FollowUpsFor(model.AnalysisTypeBusiness))
		assert.Equal(t, 2, rec.QuestionsTotal)
		assert.Equal(t, 0, rec.AnalysesTotal)
		assert.InDelta(t, 0.10, rec.CostTotal, 0.0001)
	})

	t.Run("a rejected follow-up is not charged", func(t *testing.T) {
		f := newStartFixture(t, testPlan(model.PlanFree))
		_, err := f.svc.FollowUp(ctx, FollowUpRequest{UserID: "u1", AnalysisType: model.AnalysisTypeMarket})
		ae, ok := apperrors.AsAdmission(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeQuotaExceeded, ae.Code)

		rec, err := f.usage.GetDaily(ctx, "u1", today)
		require.NoError(t, err)
		assert.Equal(t, 0, rec.QuestionsTotal)
	})

	t.Run("unlimited quotas stay unlimited", func(t *testing.T) {
		plan := testPlan(model.PlanFree)
		plan.FollowUpQuotas[model.AnalysisTypeBusiness] = model.Unlimited
		f := newStartFixture(t, plan)

		grant, err := f.svc.FollowUp(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, model.Unlimited, grant.DailyRemaining)
	})

	t.Run("negative cost is invalid", func(t *testing.T) {
		f := newStartFixture(t, testPlan(model.PlanFree))
		_, err := f.svc.FollowUp(ctx, FollowUpRequest{UserID: "u1", AnalysisType: model.AnalysisTypeBusiness, Cost: -1})
		assert.True(t, apperrors.IsValidation(err))
	})
}
