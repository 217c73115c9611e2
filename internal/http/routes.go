package httpx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bizmarket/analysis-pipeline/config"
	"github.com/bizmarket/analysis-pipeline/internal/observability/metrics"
)

// RouterServices holds everything the HTTP router needs.
type RouterServices struct {
	Starter  AnalysisStarter // Required
	Jobs     JobReader       // Required
	Identity config.IdentityConfig

	// Readiness checks back /readyz. Empty means always ready.
	Readiness []ReadinessCheck

	// Metrics records request metrics; MetricsHandler is mounted at MetricsPath when set.
	Metrics        metrics.Sink
	MetricsHandler http.Handler
	MetricsPath    string

	MaxLongPoll time.Duration
	Logger      *slog.Logger // Optional
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	h := &AnalysisHandlers{
		Starter:     services.Starter,
		Jobs:        services.Jobs,
		MaxLongPoll: services.MaxLongPoll,
		Logger:      logger,
	}
	registerAnalysisRoutes(mux, h)

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("GET /readyz", readinessHandler(services.Readiness, logger))

	if services.MetricsHandler != nil {
		path := services.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, services.MetricsHandler)
	}

	// Metrics wraps the mux directly so the matched pattern is visible after ServeHTTP.
	return ResolveIdentity(services.Identity)(Metrics(services.Metrics)(mux))
}

func registerAnalysisRoutes(mux *http.ServeMux, h *AnalysisHandlers) {
	mux.HandleFunc("POST /api/analysis/jobs", h.Start)
	mux.HandleFunc("GET /api/analysis/jobs", h.Latest)
	mux.HandleFunc("GET /api/analysis/jobs/{id}", h.GetJob)
	mux.HandleFunc("POST /api/analysis/jobs/{id}/cancel", h.Cancel)
	mux.HandleFunc("GET /api/analysis/usage", h.Usage)
	mux.HandleFunc("POST /api/analysis/follow-ups", h.FollowUp)
}
