package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/coverline/coverline/domain/chunks"
	"github.com/coverline/coverline/domain/pipeline"
	"github.com/coverline/coverline/pkg/logger"
)

// BufferSweepTask removes vector-buffer rows for documents whose
// ingestion dead-lettered. Their buffered vectors will never be committed
// and only take up space.
type BufferSweepTask struct {
	repo *chunks.Repository
	log  *slog.Logger
}

// NewBufferSweepTask creates a new buffer sweep task.
func NewBufferSweepTask(repo *chunks.Repository, log *slog.Logger) *BufferSweepTask {
	return &BufferSweepTask{
		repo: repo,
		log:  log.With(logger.Scope("scheduler.buffer_sweep")),
	}
}

// Run executes the buffer sweep.
func (t *BufferSweepTask) Run(ctx context.Context) error {
	start := time.Now()
	t.log.Debug("sweeping dead-lettered vector buffers")

	count, err := t.repo.SweepDeadletteredBuffers(ctx)
	if err != nil {
		t.log.Error("failed to sweep vector buffers", logger.Error(err))
		return err
	}

	if count > 0 {
		t.log.Info("swept dead-lettered vector buffers",
			slog.Int("count", count),
			slog.Duration("duration", time.Since(start)))
	} else {
		t.log.Debug("no vector buffers to sweep",
			slog.Duration("duration", time.Since(start)))
	}
	return nil
}

// WorkerPruneTask removes worker registrations whose heartbeat went
// stale. Crashed workers never deregister themselves.
type WorkerPruneTask struct {
	queue      *pipeline.Queue
	staleAfter time.Duration
	log        *slog.Logger
}

// NewWorkerPruneTask creates a new worker prune task.
func NewWorkerPruneTask(queue *pipeline.Queue, staleAfter time.Duration, log *slog.Logger) *WorkerPruneTask {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &WorkerPruneTask{
		queue:      queue,
		staleAfter: staleAfter,
		log:        log.With(logger.Scope("scheduler.worker_prune")),
	}
}

// Run executes the worker registry prune.
func (t *WorkerPruneTask) Run(ctx context.Context) error {
	start := time.Now()
	t.log.Debug("pruning stale worker registrations")

	count, err := t.queue.PruneWorkers(ctx, t.staleAfter)
	if err != nil {
		t.log.Error("failed to prune workers", logger.Error(err))
		return err
	}

	if count > 0 {
		t.log.Info("pruned stale worker registrations",
			slog.Int("count", count),
			slog.Duration("duration", time.Since(start)))
	} else {
		t.log.Debug("no stale worker registrations",
			slog.Duration("duration", time.Since(start)))
	}
	return nil
}
