package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration observes request latency by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// AIRequestsTotal counts LLM requests by provider and outcome.
	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI requests by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)
	// AIRequestDuration observes LLM call latency.
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 90},
		},
		[]string{"provider"},
	)
	// AITokensTotal accumulates token usage by provider and direction.
	AITokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_total",
			Help: "Total LLM tokens by provider and direction",
		},
		[]string{"provider", "direction"},
	)

	// DriveTimeRequestsTotal counts drive-time lookups by result status.
	DriveTimeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drive_time_requests_total",
			Help: "Total drive-time lookups by status",
		},
		[]string{"status"},
	)
	// DriveTimeCacheHits counts postal-pair cache hits and misses.
	DriveTimeCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drive_time_cache_total",
			Help: "Drive-time cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	// PipelineRunsTotal counts pipeline runs by kind and outcome.
	PipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Total pipeline runs by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
	// PipelineDuration observes full pipeline run duration.
	PipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_run_duration_seconds",
			Help:    "Pipeline run duration in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"kind"},
	)
	// MatchesPersistedTotal counts persisted matches by method.
	MatchesPersistedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matches_persisted_total",
			Help: "Total matches persisted by matching method",
		},
		[]string{"method"},
	)
	// MatchScoreHistogram observes structured totals on the 0-100 scale.
	MatchScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "match_structured_score",
			Help:    "Distribution of structured match totals (0-100)",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	// FeedbackEventsTotal counts learning feedback events by outcome.
	FeedbackEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_events_total",
			Help: "Total feedback events by outcome",
		},
		[]string{"outcome"},
	)
	// WeightAdjustmentsTotal counts weight adjustments by strategy.
	WeightAdjustmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weight_adjustments_total",
			Help: "Total weight adjustments by strategy",
		},
		[]string{"strategy"},
	)
)

var registerOnce sync.Once

// InitMetrics registers all collectors with the default registry. Safe to
// call more than once.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			AIRequestsTotal,
			AIRequestDuration,
			AITokensTotal,
			DriveTimeRequestsTotal,
			DriveTimeCacheHits,
			PipelineRunsTotal,
			PipelineDuration,
			MatchesPersistedTotal,
			MatchScoreHistogram,
			FeedbackEventsTotal,
			WeightAdjustmentsTotal,
		)
	})
}

// HTTPMetricsMiddleware records request counts and latency per chi route.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
