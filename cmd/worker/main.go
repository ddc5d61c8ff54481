// Package main is the entry point for the background worker. It runs the
// periodic trending aggregation and exposes health and metrics endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/OxyHQ/mention-feed/internal/config"
	"github.com/OxyHQ/mention-feed/internal/db"
	"github.com/OxyHQ/mention-feed/internal/engine"
	"github.com/OxyHQ/mention-feed/internal/feed"
	"github.com/OxyHQ/mention-feed/internal/feedcache"
	"github.com/OxyHQ/mention-feed/internal/jobs"
	"github.com/OxyHQ/mention-feed/internal/middleware"
	"github.com/OxyHQ/mention-feed/internal/ranking"
	"github.com/OxyHQ/mention-feed/internal/session"
	"github.com/OxyHQ/mention-feed/internal/trending"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	if *help {
		fmt.Println("Mention Feed Worker")
		fmt.Println()
		fmt.Println("Usage: worker [options]")
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

	jobMetrics := jobs.NewMetrics()
	if err := jobMetrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register job metrics", "error", err)
		os.Exit(1)
	}

	store := feed.NewPostgresCandidateStore(database)

	aggregator := trending.NewAggregator(
		store,
		trending.NewRedisStore(redisClient),
		cfg.TrendingInterval(),
		logger,
	)

	trendingJob := trending.NewJob(trending.JobConfig{
		Interval:   cfg.TrendingInterval(),
		Logger:     logger,
		JobMetrics: jobMetrics,
	}, aggregator)

	if err := trendingJob.Start(ctx); err != nil {
		logger.Error("failed to start trending job", "error", err)
		os.Exit(1)
	}

	// The warm job precomputes first pages for viewers with live
	// sessions. It shares the cache tier with the API instances, so an
	// entry warmed here is a hit everywhere.
	weights, err := ranking.LoadCalibration(cfg.RankingCalibrationPath)
	if err != nil {
		logger.Warn("ranking calibration unavailable, using defaults",
			"path", cfg.RankingCalibrationPath, "error", err)
	}

	graph := ranking.NewPostgresGraphStore(database)
	sessions := session.NewRedisStore(redisClient)
	cache := feedcache.New(redisClient, feedcache.Config{
		LocalTTL:        cfg.CacheLocalTTL(),
		SharedTTL:       cfg.CacheSharedTTL(),
		MaxLocalEntries: cfg.CacheMaxLocalEntries,
		Logger:          logger,
	})
	defer cache.Close()

	eng := engine.New(engine.Config{
		Store:      store,
		Ranker:     ranking.NewRanker(ranking.NewScorer(weights), graph, ranking.NewPostgresProfileStore(database), logger),
		Cache:      cache,
		Sessions:   sessions,
		Graph:      graph,
		SessionTTL: cfg.SessionTTL(),
		Logger:     logger,
	})

	warmJob := engine.NewWarmJob(engine.WarmJobConfig{
		Logger:  logger,
		Metrics: jobMetrics,
	}, eng, sessions)

	if err := warmJob.Start(ctx); err != nil {
		logger.Error("failed to start cache warm job", "error", err)
		os.Exit(1)
	}

	// Minimal HTTP surface for liveness and scraping.
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"healthy"}`)); err != nil {
			slog.Error("failed to write health response", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting worker", "port", cfg.Port, "trending_interval", cfg.TrendingInterval())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker...")

	warmJob.Stop()
	trendingJob.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("worker stopped")
}
