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

	"github.com/lysyi3m/rss-intake/app/adapters"
	"github.com/lysyi3m/rss-intake/app/api"
	"github.com/lysyi3m/rss-intake/app/cache"
	"github.com/lysyi3m/rss-intake/app/cfg"
	"github.com/lysyi3m/rss-intake/app/database"
	"github.com/lysyi3m/rss-intake/app/feed"
	"github.com/lysyi3m/rss-intake/app/health"
	"github.com/lysyi3m/rss-intake/app/ingest"
	"github.com/lysyi3m/rss-intake/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		return
	}

	level := slog.LevelInfo
	if appCfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	if err := run(appCfg); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(appCfg *cfg.Cfg) error {
	slog.Info("Starting RSS Intake server", "version", appCfg.Version)

	db, err := database.NewConnection(
		appCfg.DBHost, appCfg.DBPort, appCfg.DBUser,
		appCfg.DBPassword, appCfg.DBName, appCfg.DBSSLMode)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	slog.Info("Connected to database", "host", appCfg.DBHost, "name", appCfg.DBName)

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("Database migrations applied", "version", version, "dirty", dirty)

	txRunner := database.NewTxRunner(db)
	feedRepo := database.NewFeedRepository(txRunner)
	itemRepo := database.NewItemRepository(txRunner)
	healthRepo := database.NewHealthRepository(txRunner)

	baseFetcher := feed.NewFetcher(&http.Client{}, feed.FetcherConfig{
		UserAgent:         appCfg.UserAgent,
		FallbackUserAgent: appCfg.FallbackUserAgent,
		Timeout:           appCfg.FetchTimeout,
	})
	parser := feed.NewParser()

	var fetcher ingest.FeedFetcher = baseFetcher
	var cacheStatus api.CacheStatus
	if appCfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		contentCache, err := cache.NewCache(ctx, appCfg.RedisAddr, appCfg.RedisPassword)
		cancel()
		if err != nil {
			slog.Warn("Content cache unavailable, fetching without it", "addr", appCfg.RedisAddr, "error", err)
		} else {
			defer contentCache.Close()
			fetcher = feed.NewCachingFetcher(baseFetcher, contentCache, appCfg.CacheTTL)
			cacheStatus = contentCache
		}
	}

	registry := adapters.NewRegistry(appCfg.AdaptersDir, fetcher, parser)
	if err := registry.Load(); err != nil {
		return fmt.Errorf("failed to load adapters: %w", err)
	}
	slog.Info("Loaded site adapters", "count", registry.Count(), "dir", appCfg.AdaptersDir)

	tracker := health.NewTracker(healthRepo, feedRepo)
	orchestrator := ingest.NewOrchestrator(feedRepo, itemRepo, tracker, fetcher, parser, registry, appCfg.BatchConcurrency)

	scheduler := tasks.NewScheduler(feedRepo, orchestrator, appCfg.SchedulerInterval, appCfg.WorkerCount)
	scheduler.Start()
	defer func() {
		scheduler.Stop()
		slog.Info("Background scheduler stopped")
	}()

	handler := api.NewHandler(orchestrator, itemRepo, feedRepo, cacheStatus, registry.Count(), appCfg.Version)
	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      api.NewServer(handler, appCfg.APIAccessKey),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case serveErr = <-serverErrChan:
	}

	slog.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	return serveErr
}
