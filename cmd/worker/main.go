package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/techask2021/fsmvid-sub005/internal/config"
	"github.com/techask2021/fsmvid-sub005/internal/fetch"
	"github.com/techask2021/fsmvid-sub005/internal/observability"
	"github.com/techask2021/fsmvid-sub005/internal/orchestrator"
	"github.com/techask2021/fsmvid-sub005/internal/queue"
	"github.com/techask2021/fsmvid-sub005/internal/resolver"
	"github.com/techask2021/fsmvid-sub005/internal/storage"
	storagefactory "github.com/techask2021/fsmvid-sub005/internal/storage/factory"
	"github.com/techask2021/fsmvid-sub005/internal/storage/fs"
	"github.com/techask2021/fsmvid-sub005/internal/store"
)

func main() {
	cfg := loadConfiguration()

	logger := observability.NewLogger(cfg.ServiceName, cfg.Environment, cfg.LogLevel, os.Stdout)
	metrics := observability.NewPrometheusMetrics(cfg.ServiceName, prometheus.DefaultRegisterer)

	logger.Info("starting worker",
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
		"runtime", cfg.Worker.Runtime)
	metrics.IncrementCounter("application.starts", nil)

	worker, deps := buildWorker(cfg, logger, metrics)
	defer deps.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startExpiryPurger(ctx, deps.storage, logger)

	if err := run(ctx, cfg, worker, deps); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, worker *orchestrator.Worker, deps *dependencies) error {
	switch cfg.Worker.Runtime {
	case "poll":
		return worker.RunPoll(ctx)
	case "queue":
		return worker.RunQueue(ctx, deps.queue)
	case "lambda":
		// One unit of work per invocation; long jobs resume from their
		// checkpoint on the next invocation.
		lambda.StartWithOptions(func(ctx context.Context) error {
			_, err := worker.RunOnce(ctx)
			return err
		}, lambda.WithContext(ctx))
		return nil
	default:
		log.Fatalf("unsupported worker runtime: %s", cfg.Worker.Runtime)
		return nil
	}
}

type dependencies struct {
	db      *store.DB
	queue   queue.Queue
	storage storage.ObjectStorage
}

func (d *dependencies) close() {
	if d.queue != nil {
		d.queue.Close()
	}
	d.db.Close()
}

func loadConfiguration() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	return cfg
}

func buildWorker(cfg *config.Config, logger observability.Logger, metrics observability.Metrics) (*orchestrator.Worker, *dependencies) {
	db, err := store.Connect(&cfg.Database, logger, metrics)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	objStorage, err := storagefactory.Create(&cfg.Storage, logger, metrics)
	if err != nil {
		log.Fatalf("failed to initialize storage: %v", err)
	}

	deps := &dependencies{db: db, storage: objStorage}

	if cfg.Worker.Runtime == "queue" {
		deps.queue, err = queue.Create(cfg, logger, metrics)
		if err != nil {
			log.Fatalf("failed to initialize queue: %v", err)
		}
	}

	jobs := store.NewJobs(db)
	ledger := store.NewCredits(db)
	mediaResolver := resolver.New(cfg.Resolver, logger, metrics)
	fetcher := fetch.New(cfg.Fetch, logger, metrics)

	orch := orchestrator.New(cfg.Jobs, jobs, ledger, mediaResolver, fetcher, objStorage, nil, logger, metrics)

	return orchestrator.NewWorker(orch, jobs, cfg.Worker, cfg.Jobs, logger), deps
}

// startExpiryPurger removes expired archives when the filesystem adapter is
// in use. S3 archives expire through their presigned URLs instead.
func startExpiryPurger(ctx context.Context, objStorage storage.ObjectStorage, logger observability.Logger) {
	fsStorage, ok := objStorage.(*fs.Storage)
	if !ok {
		return
	}

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				purged, err := fsStorage.PurgeExpired(ctx)
				if err != nil {
					logger.Warn("archive purge failed", "error", err)
					continue
				}
				if purged > 0 {
					logger.Info("purged expired archives", "count", purged)
				}
			}
		}
	}()
}
