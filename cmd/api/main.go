package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/techask2021/fsmvid-sub005/internal/api"
	"github.com/techask2021/fsmvid-sub005/internal/config"
	"github.com/techask2021/fsmvid-sub005/internal/fetch"
	"github.com/techask2021/fsmvid-sub005/internal/observability"
	"github.com/techask2021/fsmvid-sub005/internal/orchestrator"
	"github.com/techask2021/fsmvid-sub005/internal/proxy"
	"github.com/techask2021/fsmvid-sub005/internal/queue"
	"github.com/techask2021/fsmvid-sub005/internal/resolver"
	storagefactory "github.com/techask2021/fsmvid-sub005/internal/storage/factory"
	"github.com/techask2021/fsmvid-sub005/internal/store"
)

func main() {
	cfg := loadConfiguration()

	logger, metrics := initializeObservability(cfg)

	logger.Info("starting api server",
		"service", cfg.ServiceName,
		"environment", cfg.Environment)
	metrics.IncrementCounter("application.starts", nil)

	server, cleanup := buildServer(cfg, logger, metrics)
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func loadConfiguration() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	return cfg
}

func initializeObservability(cfg *config.Config) (observability.Logger, observability.Metrics) {
	logger := observability.NewLogger(cfg.ServiceName, cfg.Environment, cfg.LogLevel, os.Stdout)
	metrics := observability.NewPrometheusMetrics(cfg.ServiceName, prometheus.DefaultRegisterer)
	return logger, metrics
}

func buildServer(cfg *config.Config, logger observability.Logger, metrics observability.Metrics) (*api.Server, func()) {
	db, err := store.Connect(&cfg.Database, logger, metrics)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	objStorage, err := storagefactory.Create(&cfg.Storage, logger, metrics)
	if err != nil {
		log.Fatalf("failed to initialize storage: %v", err)
	}

	jobQueue, err := queue.Create(cfg, logger, metrics)
	if err != nil {
		log.Fatalf("failed to initialize queue: %v", err)
	}

	jobs := store.NewJobs(db)
	ledger := store.NewCredits(db)
	mediaResolver := resolver.New(cfg.Resolver, logger, metrics)
	fetcher := fetch.New(cfg.Fetch, logger, metrics)
	streamProxy := proxy.New(cfg.Proxy, logger, metrics)

	orch := orchestrator.New(cfg.Jobs, jobs, ledger, mediaResolver, fetcher, objStorage, jobQueue, logger, metrics)

	server := api.NewServer(cfg, orch, jobs, ledger, mediaResolver, streamProxy, logger, metrics)

	cleanup := func() {
		jobQueue.Close()
		db.Close()
	}
	return server, cleanup
}
