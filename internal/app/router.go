// Package app wires the HTTP surface: middleware stack, CORS, rate limits
// and the route table.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talentbruecke/matchengine/internal/adapter/httpserver"
	"github.com/talentbruecke/matchengine/internal/config"
	"github.com/talentbruecke/matchengine/internal/observability"
	"github.com/talentbruecke/matchengine/internal/pipeline"
)

// ParseOrigins splits a comma-separated origin list, trimming spaces. An
// empty input allows every origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(60 * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Mutating endpoints are rate limited per client IP.
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))

		wr.Post("/v1/pipelines/structured/run", srv.StructuredBatchHandler())
		wr.Post("/v1/pipelines/structured/jobs/{id}/run", srv.StructuredJobHandler())
		wr.Post("/v1/pipelines/llm/run", srv.LLMBatchHandler())
		wr.Post("/v1/pipelines/llm/jobs/{id}/run", srv.LLMJobHandler())
		wr.Post("/v1/pipelines/llm/candidates/{id}/run", srv.LLMCandidateHandler())

		wr.Post("/v1/pipelines/geo-role/start", srv.GeoRoleStartHandler())
		wr.Post("/v1/pipelines/geo-role/stop", srv.GeoRoleControlHandler("stop"))
		wr.Post("/v1/pipelines/geo-role/continue", srv.GeoRoleControlHandler("continue"))
		wr.Post("/v1/pipelines/geo-role/pause", srv.GeoRoleControlHandler("pause"))
		wr.Post("/v1/pipelines/geo-role/resume", srv.GeoRoleControlHandler("resume"))

		wr.Post("/v1/pipelines/orchestrator/run", srv.OrchestratorRunHandler())

		wr.Post("/v1/matches/{id}/feedback", srv.FeedbackHandler())
		wr.Post("/v1/learning/weights/reset", srv.WeightsResetHandler())
	})

	// Read-only endpoints.
	r.Get("/v1/pipelines/structured/status", srv.PipelineStatusHandler(pipeline.KindStructured))
	r.Get("/v1/pipelines/llm/status", srv.PipelineStatusHandler(pipeline.KindLLMGate))
	r.Get("/v1/pipelines/geo-role/status", srv.GeoRoleStatusHandler())
	r.Get("/v1/pipelines/orchestrator/status", srv.PipelineStatusHandler(pipeline.KindOrchestrator))
	r.Get("/v1/matches/{id}", srv.MatchHandler())
	r.Get("/v1/learning/stats", srv.LearningStatsHandler())
	r.Get("/v1/learning/stats/extended", srv.LearningExtendedStatsHandler())
	r.Get("/v1/drive-time", srv.DriveTimeHandler())

	// Health and metrics.
	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	return httpserver.SecurityHeaders(r)
}
