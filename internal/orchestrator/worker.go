package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/techask2021/fsmvid-sub005/internal/config"
	"github.com/techask2021/fsmvid-sub005/internal/observability"
	"github.com/techask2021/fsmvid-sub005/internal/queue"
	"github.com/techask2021/fsmvid-sub005/internal/store"
)

// Worker runs the orchestrator against a work source. The poll runtime
// claims queued jobs straight from the database; the queue runtime consumes
// job messages. Both reclaim stalled jobs left behind by dead workers.
type Worker struct {
	orch         *Orchestrator
	jobs         JobStore
	pollInterval time.Duration
	stallTimeout time.Duration
	logger       observability.Logger
}

// NewWorker creates a worker around an orchestrator.
func NewWorker(orch *Orchestrator, jobs JobStore, workerCfg config.WorkerConfig, jobsCfg config.JobsConfig, logger observability.Logger) *Worker {
	return &Worker{
		orch:         orch,
		jobs:         jobs,
		pollInterval: workerCfg.PollInterval,
		stallTimeout: jobsCfg.StallTimeout,
		logger:       logger.WithFields(map[string]interface{}{"component": "worker"}),
	}
}

// RunPoll claims and processes jobs in a loop until the context is
// cancelled. Stalled jobs are reclaimed before new queued work.
func (w *Worker) RunPoll(ctx context.Context) error {
	w.logger.Info("poll worker started", "interval", w.pollInterval)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		worked, err := w.RunOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("job processing failed", "error", err)
		}
		if worked {
			// Drain available work before going back to sleep.
			continue
		}

		select {
		case <-ctx.Done():
			w.logger.Info("poll worker stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce processes at most one job and reports whether there was work.
// This is also the unit of work for one serverless invocation.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	j, err := w.jobs.ReclaimStalled(ctx, w.stallTimeout)
	if errors.Is(err, store.ErrNotFound) {
		j, err = w.jobs.NextQueued(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
	}
	if err != nil {
		return false, err
	}

	return true, w.orch.Process(ctx, j)
}

// RunQueue consumes job messages until the context is cancelled. Message
// handling is idempotent: a redelivered message for an already-claimed job
// is a no-op.
func (w *Worker) RunQueue(ctx context.Context, q queue.Queue) error {
	w.logger.Info("queue worker started")

	return q.Consume(ctx, func(ctx context.Context, body []byte) error {
		msg, err := queue.DecodeJobMessage(body)
		if err != nil {
			// Malformed messages never become valid; drop them.
			w.logger.Error("dropping malformed job message", "error", err)
			return nil
		}
		return w.orch.ProcessByID(ctx, msg.JobID)
	})
}
