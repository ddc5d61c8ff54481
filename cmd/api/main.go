// Package main is the entry point for the feed API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/OxyHQ/mention-feed/internal/api"
	"github.com/OxyHQ/mention-feed/internal/config"
	"github.com/OxyHQ/mention-feed/internal/db"
	"github.com/OxyHQ/mention-feed/internal/engine"
	"github.com/OxyHQ/mention-feed/internal/feed"
	"github.com/OxyHQ/mention-feed/internal/feedcache"
	"github.com/OxyHQ/mention-feed/internal/health"
	"github.com/OxyHQ/mention-feed/internal/middleware"
	"github.com/OxyHQ/mention-feed/internal/ranking"
	"github.com/OxyHQ/mention-feed/internal/session"
	"github.com/OxyHQ/mention-feed/internal/tracing"
	"github.com/OxyHQ/mention-feed/internal/trending"
)

const serviceName = "mention-feed-api"

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	if *help {
		fmt.Println("Mention Feed API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	tracerProvider, err := tracing.NewProvider(tracingConfig(cfg.Env))
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	// A Redis outage at startup degrades caching rather than blocking
	// the process, so the ping result is informational only.
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable at startup, serving uncached", "error", err)
	}

	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register HTTP metrics", "error", err)
		os.Exit(1)
	}
	cacheMetrics := feedcache.NewMetrics()
	if err := cacheMetrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register cache metrics", "error", err)
		os.Exit(1)
	}

	cache := feedcache.New(redisClient, feedcache.Config{
		LocalTTL:        cfg.CacheLocalTTL(),
		SharedTTL:       cfg.CacheSharedTTL(),
		MaxLocalEntries: cfg.CacheMaxLocalEntries,
		Logger:          logger,
		Metrics:         cacheMetrics,
	})
	cache.Subscribe(ctx)
	defer cache.Close()

	weights, err := ranking.LoadCalibration(cfg.RankingCalibrationPath)
	if err != nil {
		// LoadCalibration always returns usable weights.
		logger.Warn("ranking calibration unavailable, using defaults",
			"path", cfg.RankingCalibrationPath, "error", err)
	}

	store := feed.NewPostgresCandidateStore(database)
	graph := ranking.NewPostgresGraphStore(database)
	profiles := ranking.NewPostgresProfileStore(database)
	ranker := ranking.NewRanker(ranking.NewScorer(weights), graph, profiles, logger)
	sessions := session.NewRedisStore(redisClient)

	eng := engine.New(engine.Config{
		Store:      store,
		Ranker:     ranker,
		Cache:      cache,
		Sessions:   sessions,
		Graph:      graph,
		SessionTTL: cfg.SessionTTL(),
		Logger:     logger,
	})

	// The API only reads trending results; the worker runs the timer
	// that writes them.
	aggregator := trending.NewAggregator(store, trending.NewRedisStore(redisClient), cfg.TrendingInterval(), logger)

	feedHandlers := api.NewFeedHandlers(eng)
	trendingHandlers := api.NewTrendingHandlers(aggregator)
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:    health.NewDBChecker(database),
		RedisChecker: health.NewRedisChecker(redisClient),
	})

	mux := newMux(feedHandlers, trendingHandlers, healthHandlers)

	// Middleware chain: RequestID -> Tracing -> Logging -> HTTPMetrics
	handler := middleware.RequestID(
		middleware.Tracing(serviceName)(
			middleware.Logging(logger)(
				middleware.HTTPMetrics(httpMetrics)(mux))))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown tracer provider", "error", err)
	}

	logger.Info("server stopped")
}

// newMux builds the route table.
func newMux(feeds *api.FeedHandlers, trends *api.TrendingHandlers, healthz *api.HealthHandlers) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", healthz.Health)
	mux.HandleFunc("/ready", healthz.Ready)
	mux.Handle("/metrics", promhttp.Handler())

	// GET  /feeds/{type}       serve one page
	// POST /feeds/{type}/warm  precompute the first page
	mux.HandleFunc("/feeds/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/warm") {
			feeds.WarmFeed(w, r)
			return
		}
		feeds.GetFeed(w, r)
	})

	// POST /viewers/{id}/invalidate
	mux.HandleFunc("/viewers/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/invalidate") {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		feeds.Invalidate(w, r)
	})

	// GET /trending and /trending/{window}
	mux.HandleFunc("/trending", trends.GetTrending)
	mux.HandleFunc("/trending/", trends.GetTrending)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"mention-feed-api","version":"0.0.1"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	return mux
}

// tracingConfig builds the tracer configuration from environment
// variables. Tracing is opt-in.
func tracingConfig(env string) tracing.Config {
	samplingRate := 0.1
	if raw := os.Getenv("TRACING_SAMPLING_RATE"); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			samplingRate = parsed
		}
	}

	return tracing.Config{
		ServiceName:  serviceName,
		Enabled:      os.Getenv("TRACING_ENABLED") == "true",
		Environment:  env,
		ExporterType: os.Getenv("TRACING_EXPORTER_TYPE"),
		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
		SamplingRate: samplingRate,
		InsecureMode: os.Getenv("TRACING_INSECURE") == "true",
	}
}
