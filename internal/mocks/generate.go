// Package mocks provides mock implementations of the core ports for testing the analysis pipeline.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our repository interfaces.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	mockRepo := mocks.NewMockAnalysisJobRepository(ctrl)
//	mockRepo.EXPECT().GetByID(gomock.Any(), id).Return(job, nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=analysis_job_repository_mock.go github.com/bizmarket/analysis-pipeline/internal/core AnalysisJobRepository

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_sweep_repository_mock.go github.com/bizmarket/analysis-pipeline/internal/core JobSweepRepository

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=usage_repository_mock.go github.com/bizmarket/analysis-pipeline/internal/core UsageRepository

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=subscription_repository_mock.go github.com/bizmarket/analysis-pipeline/internal/core SubscriptionRepository

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=burst_limiter_mock.go github.com/bizmarket/analysis-pipeline/internal/core BurstLimiter

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=listing_repository_mock.go github.com/bizmarket/analysis-pipeline/internal/core ListingRepository
