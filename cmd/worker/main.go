// Command worker listens for CRM sync events and runs the orchestrator
// after each completed sync batch. It shares the repositories and pipeline
// code with the server but exposes only a metrics endpoint.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talentbruecke/matchengine/internal/adapter/ai"
	"github.com/talentbruecke/matchengine/internal/adapter/geo"
	"github.com/talentbruecke/matchengine/internal/adapter/repo/postgres"
	"github.com/talentbruecke/matchengine/internal/adapter/syncevents"
	"github.com/talentbruecke/matchengine/internal/config"
	"github.com/talentbruecke/matchengine/internal/domain"
	"github.com/talentbruecke/matchengine/internal/observability"
	"github.com/talentbruecke/matchengine/internal/pipeline"
	"github.com/talentbruecke/matchengine/internal/scoring"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracing, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("tracing setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("tracing shutdown failed", slog.Any("error", err))
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgres.NewPool(rootCtx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(rootCtx, pool); err != nil {
		slog.Error("schema migration failed", slog.Any("error", err))
		os.Exit(1)
	}

	candidates := postgres.NewCandidateRepo(pool)
	jobs := postgres.NewJobRepo(pool)
	matches := postgres.NewMatchRepo(pool)
	rules := postgres.NewRuleRepo(pool)
	weights := scoring.NewWeightSource(postgres.NewWeightRepo(pool))

	registry := pipeline.NewRegistry()
	structured := pipeline.NewStructured(candidates, jobs, matches, weights, rules, registry, pipeline.StructuredConfig{
		MaxDistanceKM: cfg.MaxDistanceKM,
		Category:      "FINANCE",
	})
	orch := pipeline.NewOrchestrator(candidates, jobs, matches,
		geo.New(cfg.GeocoderBaseURL), ai.NewClassifier(ai.NewOpenAI(cfg)), structured, registry,
		pipeline.OrchestratorConfig{Category: "FINANCE", MaxKM: cfg.OrchestratorMaxKM})

	handler := func(ctx context.Context, events []syncevents.Event) {
		slog.Info("sync events received", slog.Int("count", len(events)))
		report, err := orch.Run(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrAlreadyRunning) {
				slog.Info("orchestrator already running, sync batch will be covered by the active run")
				return
			}
			slog.Error("orchestrator run failed", slog.Any("error", err))
			return
		}
		slog.Info("orchestrator run finished",
			slog.Int("steps", len(report.Steps)),
			slog.Duration("took", report.FinishedAt.Sub(report.StartedAt)))
	}

	consumer, err := syncevents.NewConsumer(cfg.KafkaBrokers, cfg.SyncEventGroup, cfg.SyncEventTopic, handler)
	if err != nil {
		slog.Error("sync consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer consumer.Close()

	go func() {
		slog.Info("worker consuming sync events",
			slog.String("topic", cfg.SyncEventTopic), slog.String("group", cfg.SyncEventGroup))
		if err := consumer.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("sync consumer stopped", slog.Any("error", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	cancel()
	slog.Info("worker stopped")
}
