package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"

	"github.com/coverline/coverline/internal/config"
	"github.com/coverline/coverline/pkg/logger"
)

// workerQueue is the slice of the queue the worker runtime needs.
// Satisfied by *Queue.
type workerQueue interface {
	ClaimDue(ctx context.Context, workerID string, limit int) ([]*Job, error)
	Heartbeat(ctx context.Context, jobID uuid.UUID, workerID string) (bool, error)
	MarkRetryable(ctx context.Context, jobID uuid.UUID, workerID string, jobErr JobError, delay time.Duration) (bool, error)
	MarkDeadletter(ctx context.Context, jobID uuid.UUID, workerID string, jobErr JobError) (bool, error)
	RegisterWorker(ctx context.Context, reg *WorkerRegistration) error
	TouchWorker(ctx context.Context, workerID string) error
	DeregisterWorker(ctx context.Context, workerID string) error
}

// jobRunner drives one claimed job. Satisfied by *Executor.
type jobRunner interface {
	Run(ctx context.Context, job *Job, workerID string) Outcome
}

// Worker polls the queue and runs claimed jobs through the executor with
// bounded parallelism. Each running job gets a heartbeat goroutine that
// extends its lease; when a heartbeat discovers the lease is gone the
// job's context is canceled and the work is abandoned mid-flight.
type Worker struct {
	id       string
	version  string
	queue    workerQueue
	executor jobRunner
	events   EventSink
	policy   RetryPolicy
	cfg      config.PipelineConfig
	log      *slog.Logger

	// cancelClaims stops the poll loop; cancelJobs kills in-flight
	// executors. Kept separate so shutdown can stop claiming first and
	// give running jobs the grace window to finish.
	cancelClaims context.CancelFunc
	cancelJobs   context.CancelFunc
	inFlight     atomic.Int64
	done         chan struct{}
}

// NewWorker creates the pipeline worker for this process.
func NewWorker(queue *Queue, executor *Executor, events *Recorder, cfg *config.Config, log *slog.Logger) *Worker {
	id := fmt.Sprintf("worker-%s", uuid.NewString()[:8])
	return &Worker{
		id:       id,
		version:  cfg.Environment,
		queue:    queue,
		executor: executor,
		events:   events,
		policy: RetryPolicy{
			MaxRetries: cfg.Pipeline.MaxRetries,
			Base:       time.Duration(cfg.Pipeline.RetryBaseSec) * time.Second,
			Cap:        time.Duration(cfg.Pipeline.RetryCapSec) * time.Second,
		},
		cfg: cfg.Pipeline,
		log: log.With(logger.Scope("pipeline.worker"), slog.String("worker_id", id)),
	}
}

// ID returns this worker's claim identity.
func (w *Worker) ID() string { return w.id }

// Start launches the poll loop.
func (w *Worker) Start(ctx context.Context) error {
	hostname, _ := os.Hostname()
	reg := &WorkerRegistration{
		ID:       w.id,
		Hostname: hostname,
		Version:  w.version,
	}
	if err := w.queue.RegisterWorker(ctx, reg); err != nil {
		return err
	}

	claimCtx, cancelClaims := context.WithCancel(context.Background())
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	w.cancelClaims = cancelClaims
	w.cancelJobs = cancelJobs
	w.done = make(chan struct{})

	go w.run(claimCtx, jobCtx)

	w.log.Info("worker started",
		slog.Int("parallelism", w.cfg.Parallelism),
		slog.Duration("poll_interval", w.cfg.PollInterval()),
		slog.Duration("lease_ttl", w.cfg.LeaseTTL()),
	)
	return nil
}

// Stop drains the worker: claiming stops immediately, in-flight jobs keep
// their own context and get the shutdown grace to finish. Jobs still
// running after the grace are canceled and reclaimed by other workers
// once their lease expires.
func (w *Worker) Stop(ctx context.Context) error {
	if w.cancelClaims == nil {
		return nil
	}
	w.cancelClaims()

	select {
	case <-w.done:
		w.log.Info("worker drained")
	case <-time.After(w.cfg.ShutdownGrace()):
		w.log.Warn("worker shutdown grace elapsed, abandoning in-flight jobs")
		w.cancelJobs()
		<-w.done
	case <-ctx.Done():
		w.log.Warn("worker stop canceled by lifecycle")
		w.cancelJobs()
		<-w.done
	}
	w.cancelJobs()

	deregCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.queue.DeregisterWorker(deregCtx, w.id); err != nil {
		w.log.Warn("failed to deregister worker", logger.Error(err))
	}
	return nil
}

// run claims due jobs on every tick, never more than the free executor
// slots, and hands them to the errgroup. Jobs run on jobCtx, which
// outlives claimCtx so shutdown does not kill them mid-stage.
func (w *Worker) run(claimCtx, jobCtx context.Context) {
	defer close(w.done)

	var g errgroup.Group
	g.SetLimit(w.cfg.Parallelism)

	ticker := time.NewTicker(w.cfg.PollInterval())
	defer ticker.Stop()

	registryTicker := time.NewTicker(w.cfg.LeaseTTL())
	defer registryTicker.Stop()

	for {
		select {
		case <-claimCtx.Done():
			_ = g.Wait()
			return
		case <-registryTicker.C:
			if err := w.queue.TouchWorker(claimCtx, w.id); err != nil {
				w.log.Warn("worker registry heartbeat failed", logger.Error(err))
			}
		case <-ticker.C:
			free := w.cfg.Parallelism - int(w.inFlight.Load())
			if free <= 0 {
				continue
			}
			jobs, err := w.queue.ClaimDue(claimCtx, w.id, free)
			if err != nil {
				w.log.Error("claim failed", logger.Error(err))
				continue
			}
			for _, job := range jobs {
				job := job
				w.inFlight.Add(1)
				g.Go(func() error {
					defer w.inFlight.Add(-1)
					w.runJob(jobCtx, job)
					return nil
				})
			}
		}
	}
}

// runJob executes one claimed job with a live heartbeat and applies the
// retry policy to the outcome.
func (w *Worker) runJob(ctx context.Context, job *Job) {
	jobsInFlight.Inc()
	defer jobsInFlight.Dec()

	log := w.log.With(
		slog.String("job_id", job.ID.String()),
		slog.String("document_id", job.DocumentID.String()),
		slog.String("stage", string(job.Stage)),
	)

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.heartbeat(jobCtx, cancel, job.ID)

	out := w.executor.Run(jobCtx, job, w.id)

	switch out.Kind {
	case OutcomeOK:
		log.Info("job advanced", slog.String("stage", string(job.Stage)))
	case OutcomeWait:
		log.Debug("job postponed", slog.Duration("delay", out.Delay))
	case OutcomeLeaseLost:
		log.Warn("lease lost, abandoning job")
	case OutcomeTransient, OutcomePermanent:
		w.fail(ctx, job, out, log)
	}
}

// fail applies the retry policy to a failed stage execution.
func (w *Worker) fail(ctx context.Context, job *Job, out Outcome, log *slog.Logger) {
	decision := w.policy.Decide(out, job.RetryCount)

	msg := ""
	if out.Err != nil {
		msg = out.Err.Error()
	}
	jobErr := JobError{Code: decision.Code, Message: msg, At: time.Now().UTC()}
	if decision.Code == CodeRetriesExhausted {
		jobErr.Message = fmt.Sprintf("retries exhausted after %d attempts: %s (%s)", job.RetryCount, msg, out.Code)
	}

	switch decision.State {
	case StateRetryable:
		ok, err := w.queue.MarkRetryable(ctx, job.ID, w.id, jobErr, decision.Delay)
		if err != nil {
			log.Error("failed to schedule retry", logger.Error(err))
			return
		}
		if !ok {
			log.Warn("lease lost while scheduling retry")
			return
		}
		retriesScheduled.WithLabelValues(string(decision.Code)).Inc()
		w.events.Record(ctx, &Event{
			JobID:         &job.ID,
			DocumentID:    &job.DocumentID,
			Severity:      "warn",
			Type:          EventRetry,
			Code:          decision.Code,
			CorrelationID: job.CorrelationID,
		})
		log.Warn("retry scheduled",
			slog.String("code", string(decision.Code)),
			slog.Duration("delay", decision.Delay),
			slog.Int("retry_count", job.RetryCount+1),
		)

	case StateDeadletter:
		ok, err := w.queue.MarkDeadletter(ctx, job.ID, w.id, jobErr)
		if err != nil {
			log.Error("failed to dead-letter job", logger.Error(err))
			return
		}
		if !ok {
			log.Warn("lease lost while dead-lettering")
			return
		}
		jobsDeadlettered.WithLabelValues(string(decision.Code)).Inc()
		w.events.Record(ctx, &Event{
			JobID:         &job.ID,
			DocumentID:    &job.DocumentID,
			Severity:      "error",
			Type:          EventError,
			Code:          decision.Code,
			CorrelationID: job.CorrelationID,
		})
		w.events.Record(ctx, &Event{
			JobID:         &job.ID,
			DocumentID:    &job.DocumentID,
			Severity:      "error",
			Type:          EventFinalized,
			Code:          decision.Code,
			CorrelationID: job.CorrelationID,
			Payload:       []byte(`{"state":"deadletter"}`),
		})
		log.Error("job dead-lettered",
			slog.String("code", string(decision.Code)),
			slog.String("message", jobErr.Message),
		)
	}
}

// heartbeat extends the lease at a third of its TTL. Losing the lease
// cancels the job context.
func (w *Worker) heartbeat(ctx context.Context, cancel context.CancelFunc, jobID uuid.UUID) {
	interval := w.cfg.LeaseTTL() / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			alive, err := w.queue.Heartbeat(ctx, jobID, w.id)
			if err != nil {
				w.log.Warn("heartbeat failed", slog.String("job_id", jobID.String()), logger.Error(err))
				continue
			}
			if !alive {
				w.log.Warn("heartbeat lost lease, canceling job", slog.String("job_id", jobID.String()))
				cancel()
				return
			}
		}
	}
}

// RegisterWorkerLifecycle hooks the worker into the fx app lifecycle.
func RegisterWorkerLifecycle(lc fx.Lifecycle, w *Worker) {
	lc.Append(fx.Hook{
		OnStart: w.Start,
		OnStop:  w.Stop,
	})
}
