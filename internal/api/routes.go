package api

import (
	"net/http"

	"drover/internal/engine"
	"drover/internal/health"
	"drover/internal/observability"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Engine        *engine.Engine
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Engine, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Job endpoints - auth required
	authMiddleware := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /v1/jobs", authMiddleware(http.HandlerFunc(handler.SubmitJob)))
	mux.Handle("GET /v1/jobs", authMiddleware(http.HandlerFunc(handler.ListJobs)))
	mux.Handle("GET /v1/jobs/{jobId}", authMiddleware(http.HandlerFunc(handler.GetJob)))
	mux.Handle("POST /v1/jobs/{jobId}/track", authMiddleware(http.HandlerFunc(handler.TrackJob)))
	mux.Handle("POST /v1/jobs/{jobId}/retry", authMiddleware(http.HandlerFunc(handler.RetryJob)))
	mux.Handle("DELETE /v1/jobs/{jobId}", authMiddleware(http.HandlerFunc(handler.CancelJob)))
	mux.Handle("DELETE /v1/jobs/{jobId}/record", authMiddleware(http.HandlerFunc(handler.CleanupJob)))
	mux.Handle("GET /v1/state/export", authMiddleware(http.HandlerFunc(handler.ExportState)))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
