// Command server starts the matching engine HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/talentbruecke/matchengine/internal/adapter/ai"
	"github.com/talentbruecke/matchengine/internal/adapter/geo"
	"github.com/talentbruecke/matchengine/internal/adapter/httpserver"
	"github.com/talentbruecke/matchengine/internal/adapter/maps"
	"github.com/talentbruecke/matchengine/internal/adapter/notify"
	"github.com/talentbruecke/matchengine/internal/adapter/repo/postgres"
	"github.com/talentbruecke/matchengine/internal/app"
	"github.com/talentbruecke/matchengine/internal/config"
	"github.com/talentbruecke/matchengine/internal/domain"
	"github.com/talentbruecke/matchengine/internal/drivetime"
	"github.com/talentbruecke/matchengine/internal/learning"
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

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		slog.Error("schema migration failed", slog.Any("error", err))
		os.Exit(1)
	}

	candidates := postgres.NewCandidateRepo(pool)
	jobs := postgres.NewJobRepo(pool)
	matches := postgres.NewMatchRepo(pool)
	rules := postgres.NewRuleRepo(pool)
	training := postgres.NewTrainingRepo(pool)
	weightRepo := postgres.NewWeightRepo(pool)
	weights := scoring.NewWeightSource(weightRepo)

	openai := ai.NewOpenAI(cfg)
	var assess domain.ChatClient
	if cfg.AnthropicAPIKey != "" {
		assess = ai.NewAnthropic(cfg)
	}
	classifier := ai.NewClassifier(openai)

	drive := buildDriveTime(cfg)
	geocoder := geo.New(cfg.GeocoderBaseURL)
	telegram := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)

	registry := pipeline.NewRegistry()
	structured := pipeline.NewStructured(candidates, jobs, matches, weights, rules, registry, pipeline.StructuredConfig{
		MaxDistanceKM: cfg.MaxDistanceKM,
		Category:      "FINANCE",
	})
	llmGate := pipeline.NewLLMGate(candidates, jobs, matches, openai, registry, pipeline.LLMGateConfig{
		GateDistanceKM:   cfg.LLMGateDistanceKM,
		ScoreMin:         cfg.LLMScoreMin,
		Concurrency:      cfg.LLMConcurrency,
		Category:         "FINANCE",
		InputUSDPerMTok:  cfg.LLMInputUSDPerMTok,
		OutputUSDPerMTok: cfg.LLMOutputUSDPerMTok,
	})
	geoRole := pipeline.NewGeoRole(matches, drive, telegram, assess, registry, pipeline.GeoRoleConfig{
		RadiusKM:            cfg.GeoRoleRadiusKM,
		NotifyMaxCarMin:     cfg.NotifyMaxCarMin,
		NotifyMaxTransitMin: cfg.NotifyMaxTransitMin,
		AssessConcurrency:   cfg.LLMConcurrency,
	})
	orch := pipeline.NewOrchestrator(candidates, jobs, matches, geocoder, classifier, structured, registry, pipeline.OrchestratorConfig{
		Category: "FINANCE",
		MaxKM:    cfg.OrchestratorMaxKM,
	})
	learn := learning.New(matches, training, weightRepo, rules, learning.Config{
		MicroRate: cfg.MicroAdjustRate,
		WeightMin: cfg.WeightMin,
		WeightMax: cfg.WeightMax,
	})

	srv := httpserver.NewServer(cfg, structured, llmGate, geoRole, orch, registry, learn, matches, drive, pool.Ping)
	handler := app.BuildRouter(cfg, srv)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", slog.Int("port", cfg.Port), slog.String("env", cfg.AppEnv))
		errCh <- httpSrv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// buildDriveTime assembles the drive-time service. Without a Maps key the
// service stays wired but answers with the no_api_key status. A Redis URL
// adds a shared cache tier in front of which the in-process cache sits.
func buildDriveTime(cfg config.Config) *drivetime.Service {
	var cache drivetime.Cache = drivetime.NewMemoryCache()
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Warn("invalid redis url, using in-process cache only", slog.Any("error", err))
		} else {
			rdb := redis.NewClient(opt)
			cache = drivetime.NewTieredCache(drivetime.NewMemoryCache(), drivetime.NewRedisCache(rdb, 24*time.Hour))
		}
	}
	matrix := maps.New(cfg.MapsBaseURL, cfg.GoogleMapsAPIKey)
	return drivetime.New(matrix, cache, cfg.GoogleMapsAPIKey == "",
		drivetime.WithTimeouts(cfg.DriveTimeTimeout, cfg.DriveTimeBatchTimeout))
}
