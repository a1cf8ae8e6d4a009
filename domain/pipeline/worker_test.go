package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverline/coverline/internal/config"
)

type stubWorkerQueue struct {
	mu           sync.Mutex
	pending      []*Job
	claimLimits  []int
	retryable    []uuid.UUID
	deadlettered []uuid.UUID
	deregistered bool
}

func (q *stubWorkerQueue) ClaimDue(ctx context.Context, workerID string, limit int) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.claimLimits = append(q.claimLimits, limit)
	n := limit
	if n > len(q.pending) {
		n = len(q.pending)
	}
	jobs := q.pending[:n]
	q.pending = q.pending[n:]
	return jobs, nil
}

func (q *stubWorkerQueue) Heartbeat(ctx context.Context, jobID uuid.UUID, workerID string) (bool, error) {
	return true, nil
}

func (q *stubWorkerQueue) MarkRetryable(ctx context.Context, jobID uuid.UUID, workerID string, jobErr JobError, delay time.Duration) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retryable = append(q.retryable, jobID)
	return true, nil
}

func (q *stubWorkerQueue) MarkDeadletter(ctx context.Context, jobID uuid.UUID, workerID string, jobErr JobError) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deadlettered = append(q.deadlettered, jobID)
	return true, nil
}

func (q *stubWorkerQueue) RegisterWorker(ctx context.Context, reg *WorkerRegistration) error {
	return nil
}

func (q *stubWorkerQueue) TouchWorker(ctx context.Context, workerID string) error { return nil }

func (q *stubWorkerQueue) DeregisterWorker(ctx context.Context, workerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deregistered = true
	return nil
}

func (q *stubWorkerQueue) claims() []int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]int, len(q.claimLimits))
	copy(out, q.claimLimits)
	return out
}

// stubRunner blocks each job until it receives from release or its context
// is canceled, and records which way it went.
type stubRunner struct {
	started  chan uuid.UUID
	release  chan struct{}
	outcome  Outcome
	mu       sync.Mutex
	canceled int
	finished int
}

func newStubRunner() *stubRunner {
	return &stubRunner{
		started: make(chan uuid.UUID, 16),
		release: make(chan struct{}),
		outcome: OK(),
	}
}

func (r *stubRunner) Run(ctx context.Context, job *Job, workerID string) Outcome {
	r.started <- job.ID
	select {
	case <-r.release:
		r.mu.Lock()
		r.finished++
		r.mu.Unlock()
		return r.outcome
	case <-ctx.Done():
		r.mu.Lock()
		r.canceled++
		r.mu.Unlock()
		return Transient(CodeDBConflict, ctx.Err())
	}
}

func (r *stubRunner) counts() (finished, canceled int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished, r.canceled
}

func newTestWorker(q workerQueue, r jobRunner, sink EventSink, cfg config.PipelineConfig) *Worker {
	return &Worker{
		id:       "worker-test",
		queue:    q,
		executor: r,
		events:   sink,
		policy: RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			Base:       time.Millisecond,
			Cap:        10 * time.Millisecond,
		},
		cfg: cfg,
		log: slog.Default(),
	}
}

func queuedJob() *Job {
	return &Job{
		ID:         uuid.New(),
		DocumentID: uuid.New(),
		Stage:      StageQueued,
		State:      StateWorking,
	}
}

func TestWorker_Stop_DrainsInFlightJobs(t *testing.T) {
	q := &stubWorkerQueue{pending: []*Job{queuedJob()}}
	r := newStubRunner()
	w := newTestWorker(q, r, &captureSink{}, config.PipelineConfig{
		Parallelism:      2,
		PollIntervalMs:   10,
		LeaseTTLSec:      60,
		MaxRetries:       3,
		ShutdownGraceSec: 5,
	})

	require.NoError(t, w.Start(context.Background()))
	<-r.started

	stopped := make(chan struct{})
	go func() {
		_ = w.Stop(context.Background())
		close(stopped)
	}()

	// Claiming stops, but the in-flight job keeps running.
	select {
	case <-stopped:
		t.Fatal("Stop returned with a job still in flight")
	case <-time.After(100 * time.Millisecond):
	}

	r.release <- struct{}{}
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the job finished")
	}

	finished, canceled := r.counts()
	assert.Equal(t, 1, finished, "job must finish on its own context")
	assert.Zero(t, canceled, "drain must not cancel in-flight jobs")
	assert.True(t, q.deregistered)
}

func TestWorker_Stop_CancelsJobsAfterGrace(t *testing.T) {
	q := &stubWorkerQueue{pending: []*Job{queuedJob()}}
	r := newStubRunner()
	w := newTestWorker(q, r, &captureSink{}, config.PipelineConfig{
		Parallelism:      2,
		PollIntervalMs:   10,
		LeaseTTLSec:      60,
		MaxRetries:       3,
		ShutdownGraceSec: 1,
	})

	require.NoError(t, w.Start(context.Background()))
	<-r.started

	start := time.Now()
	require.NoError(t, w.Stop(context.Background()))

	assert.GreaterOrEqual(t, time.Since(start), time.Second, "Stop must wait out the grace window")
	_, canceled := r.counts()
	assert.Equal(t, 1, canceled, "job must be canceled once the grace elapses")
}

func TestWorker_ClaimsOnlyFreeSlots(t *testing.T) {
	jobs := []*Job{queuedJob(), queuedJob(), queuedJob()}
	q := &stubWorkerQueue{pending: jobs}
	r := newStubRunner()
	w := newTestWorker(q, r, &captureSink{}, config.PipelineConfig{
		Parallelism:      2,
		PollIntervalMs:   10,
		LeaseTTLSec:      60,
		MaxRetries:       3,
		ShutdownGraceSec: 5,
	})

	require.NoError(t, w.Start(context.Background()))
	<-r.started
	<-r.started

	// Both slots busy: ticks must pass without claiming.
	time.Sleep(100 * time.Millisecond)
	require.Len(t, q.claims(), 1, "no claims while the worker is saturated")
	assert.Equal(t, 2, q.claims()[0])

	// Freeing one slot lets the next tick claim exactly one job.
	r.release <- struct{}{}
	select {
	case <-r.started:
	case <-time.After(2 * time.Second):
		t.Fatal("third job was never claimed")
	}

	claims := q.claims()
	assert.Equal(t, 1, claims[len(claims)-1], "claim limit must equal the free slots")
	for _, n := range claims {
		assert.LessOrEqual(t, n, 2)
	}

	r.release <- struct{}{}
	r.release <- struct{}{}
	require.NoError(t, w.Stop(context.Background()))
}

func TestWorker_Deadletter_EmitsErrorThenFinalized(t *testing.T) {
	job := queuedJob()
	q := &stubWorkerQueue{pending: []*Job{job}}
	r := newStubRunner()
	r.outcome = Permanent(CodeInputInvalid, errors.New("uploaded object is empty"))
	sink := &captureSink{}
	w := newTestWorker(q, r, sink, config.PipelineConfig{
		Parallelism:      1,
		PollIntervalMs:   10,
		LeaseTTLSec:      60,
		MaxRetries:       3,
		ShutdownGraceSec: 5,
	})

	require.NoError(t, w.Start(context.Background()))
	<-r.started
	r.release <- struct{}{}
	require.NoError(t, w.Stop(context.Background()))

	require.Equal(t, []uuid.UUID{job.ID}, q.deadlettered)

	types := sink.types()
	require.Len(t, types, 2, "events: %v", types)
	assert.Equal(t, EventError, types[0])
	assert.Equal(t, EventFinalized, types[1])
	assert.Equal(t, CodeInputInvalid, sink.events[0].Code)
	assert.JSONEq(t, `{"state":"deadletter"}`, string(sink.events[1].Payload))
}

func TestWorker_TransientFailure_SchedulesRetry(t *testing.T) {
	job := queuedJob()
	q := &stubWorkerQueue{pending: []*Job{job}}
	r := newStubRunner()
	r.outcome = Transient(CodeStorageUnavailable, errors.New("raw object not found"))
	sink := &captureSink{}
	w := newTestWorker(q, r, sink, config.PipelineConfig{
		Parallelism:      1,
		PollIntervalMs:   10,
		LeaseTTLSec:      60,
		MaxRetries:       3,
		ShutdownGraceSec: 5,
	})

	require.NoError(t, w.Start(context.Background()))
	<-r.started
	r.release <- struct{}{}
	require.NoError(t, w.Stop(context.Background()))

	require.Equal(t, []uuid.UUID{job.ID}, q.retryable)
	assert.Empty(t, q.deadlettered)

	types := sink.types()
	require.Len(t, types, 1, "events: %v", types)
	assert.Equal(t, EventRetry, types[0])
	assert.Equal(t, CodeStorageUnavailable, sink.events[0].Code)
}
