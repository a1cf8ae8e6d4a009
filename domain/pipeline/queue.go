package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/coverline/coverline/internal/config"
	"github.com/coverline/coverline/pkg/logger"
	"github.com/coverline/coverline/pkg/pgutils"
)

// Queue is the Postgres-backed job store. All claim and transition
// operations are single statements guarded by compare-and-set conditions:
// a zero-row update means the caller no longer owns the job, which is a
// normal signal, not an error.
type Queue struct {
	db  bun.IDB
	cfg config.PipelineConfig
	log *slog.Logger
}

// NewQueue creates the job queue.
func NewQueue(db bun.IDB, cfg *config.Config, log *slog.Logger) *Queue {
	return &Queue{
		db:  db,
		cfg: cfg.Pipeline,
		log: log.With(logger.Scope("pipeline.queue")),
	}
}

// CreateJob enqueues an ingestion job for a document. At most one live job
// exists per document: if one is already queued, working or retryable the
// existing job is returned with created=false.
func (q *Queue) CreateJob(ctx context.Context, documentID uuid.UUID, correlationID string) (*Job, bool, error) {
	if existing, err := q.liveJob(ctx, documentID); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, false, nil
	}

	job := &Job{
		ID:            uuid.New(),
		DocumentID:    documentID,
		Stage:         StageQueued,
		State:         StateQueued,
		CorrelationID: correlationID,
	}

	_, err := q.db.NewInsert().
		Model(job).
		On("CONFLICT (document_id, stage) WHERE state IN ('queued', 'working') DO NOTHING").
		Exec(ctx)
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			// Lost the enqueue race; the winner's job is the live one.
			existing, lerr := q.liveJob(ctx, documentID)
			if lerr != nil {
				return nil, false, lerr
			}
			if existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("create job: %w", err)
	}

	// DO NOTHING swallows the conflict; re-check which job is live.
	existing, err := q.liveJob(ctx, documentID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, errors.New("create job: no live job after insert")
	}
	return existing, existing.ID == job.ID, nil
}

func (q *Queue) liveJob(ctx context.Context, documentID uuid.UUID) (*Job, error) {
	job := new(Job)
	err := q.db.NewSelect().
		Model(job).
		Where("document_id = ?", documentID).
		Where("state NOT IN ('done', 'deadletter')").
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select live job: %w", err)
	}
	return job, nil
}

// ClaimDue atomically claims up to limit runnable jobs for workerID.
// Runnable means queued, retryable with an elapsed backoff, or working
// with an expired lease (the previous owner stopped heartbeating).
func (q *Queue) ClaimDue(ctx context.Context, workerID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	var jobs []*Job
	err := q.db.NewRaw(`
		WITH due AS (
			SELECT id FROM ingest.upload_jobs
			WHERE state = 'queued'
			   OR (state = 'retryable' AND next_retry_at <= now())
			   OR (state = 'working' AND claimed_at + (? * interval '1 second') < now())
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT ?
		)
		UPDATE ingest.upload_jobs j
		SET state = 'working',
		    claimed_by = ?,
		    claimed_at = now(),
		    started_at = COALESCE(j.started_at, now()),
		    updated_at = now()
		FROM due
		WHERE j.id = due.id
		RETURNING j.*`,
		q.cfg.LeaseTTLSec, limit, workerID,
	).Scan(ctx, &jobs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim jobs: %w", err)
	}

	jobsClaimed.Add(float64(len(jobs)))
	return jobs, nil
}

// Heartbeat extends the lease on a claimed job. Returns false when the
// lease is gone: the job was reclaimed, requeued or canceled.
func (q *Queue) Heartbeat(ctx context.Context, jobID uuid.UUID, workerID string) (bool, error) {
	res, err := q.db.NewUpdate().
		Model((*Job)(nil)).
		Set("claimed_at = now()").
		Set("updated_at = now()").
		Where("id = ?", jobID).
		Where("state = 'working'").
		Where("claimed_by = ?", workerID).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("heartbeat: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Advance moves a claimed job from one stage to the next. The condition on
// (stage, state, claimed_by) makes this a compare-and-set: false means the
// lease was lost and the caller must abandon the job. Advancing to the
// terminal stage also finishes the job.
func (q *Queue) Advance(ctx context.Context, jobID uuid.UUID, workerID string, from, to Stage, payload JobPayload) (bool, error) {
	upd := q.db.NewUpdate().
		Model((*Job)(nil)).
		Set("stage = ?", to).
		Set("payload = ?", payload).
		Set("updated_at = now()").
		Where("id = ?", jobID).
		Where("stage = ?", from).
		Where("state = 'working'").
		Where("claimed_by = ?", workerID)

	if to.Terminal() {
		upd = upd.
			Set("state = 'done'").
			Set("finished_at = now()").
			Set("claimed_by = NULL").
			Set("claimed_at = NULL").
			Set("next_retry_at = NULL")
	}

	res, err := upd.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("advance %s -> %s: %w", from, to, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Postpone releases a claimed job back to retryable after delay without
// consuming a retry. Used while waiting on the parser.
func (q *Queue) Postpone(ctx context.Context, jobID uuid.UUID, workerID string, delay time.Duration) (bool, error) {
	res, err := q.db.NewUpdate().
		Model((*Job)(nil)).
		Set("state = 'retryable'").
		Set("next_retry_at = now() + (? * interval '1 second')", int(delay.Seconds())).
		Set("claimed_by = NULL").
		Set("claimed_at = NULL").
		Set("updated_at = now()").
		Where("id = ?", jobID).
		Where("state = 'working'").
		Where("claimed_by = ?", workerID).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("postpone: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkRetryable records a transient failure and schedules the retry.
func (q *Queue) MarkRetryable(ctx context.Context, jobID uuid.UUID, workerID string, jobErr JobError, delay time.Duration) (bool, error) {
	res, err := q.db.NewUpdate().
		Model((*Job)(nil)).
		Set("state = 'retryable'").
		Set("retry_count = retry_count + 1").
		Set("next_retry_at = now() + (? * interval '1 second')", int(delay.Seconds())).
		Set("last_error = ?", jobErr).
		Set("claimed_by = NULL").
		Set("claimed_at = NULL").
		Set("updated_at = now()").
		Where("id = ?", jobID).
		Where("state = 'working'").
		Where("claimed_by = ?", workerID).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("mark retryable: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkDeadletter records a permanent failure and finishes the job.
func (q *Queue) MarkDeadletter(ctx context.Context, jobID uuid.UUID, workerID string, jobErr JobError) (bool, error) {
	res, err := q.db.NewUpdate().
		Model((*Job)(nil)).
		Set("state = 'deadletter'").
		Set("last_error = ?", jobErr).
		Set("finished_at = now()").
		Set("claimed_by = NULL").
		Set("claimed_at = NULL").
		Set("updated_at = now()").
		Where("id = ?", jobID).
		Where("state = 'working'").
		Where("claimed_by = ?", workerID).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("mark deadletter: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Requeue returns a dead-lettered job to the queue with a fresh retry
// budget. The stage is kept: completed stages are never re-run.
func (q *Queue) Requeue(ctx context.Context, jobID uuid.UUID) (bool, error) {
	res, err := q.db.NewUpdate().
		Model((*Job)(nil)).
		Set("state = 'queued'").
		Set("retry_count = 0").
		Set("next_retry_at = NULL").
		Set("finished_at = NULL").
		Set("updated_at = now()").
		Where("id = ?", jobID).
		Where("state = 'deadletter'").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("requeue: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Cancel dead-letters every live job for a document. Jobs currently
// working lose their lease at the next CAS and stop.
func (q *Queue) Cancel(ctx context.Context, documentID uuid.UUID) (int, error) {
	res, err := q.db.NewUpdate().
		Model((*Job)(nil)).
		Set("state = 'deadletter'").
		Set("finished_at = now()").
		Set("claimed_by = NULL").
		Set("claimed_at = NULL").
		Set("updated_at = now()").
		Where("document_id = ?", documentID).
		Where("state IN ('queued', 'working', 'retryable')").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("cancel: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// GetJob fetches a job by id. Returns nil when not found.
func (q *Queue) GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	job := new(Job)
	err := q.db.NewSelect().Model(job).Where("j.id = ?", jobID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobsByDocument returns all jobs for a document, newest first.
func (q *Queue) ListJobsByDocument(ctx context.Context, documentID uuid.UUID) ([]*Job, error) {
	var jobs []*Job
	err := q.db.NewSelect().
		Model(&jobs).
		Where("document_id = ?", documentID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Stats returns queue counts by state and the age of the oldest runnable
// job.
func (q *Queue) Stats(ctx context.Context) (*QueueStats, error) {
	stats := new(QueueStats)
	err := q.db.NewRaw(`
		SELECT
			COUNT(*) FILTER (WHERE state = 'queued')     AS queued,
			COUNT(*) FILTER (WHERE state = 'working')    AS working,
			COUNT(*) FILTER (WHERE state = 'retryable')  AS retryable,
			COUNT(*) FILTER (WHERE state = 'done')       AS done,
			COUNT(*) FILTER (WHERE state = 'deadletter') AS deadletter,
			COALESCE(EXTRACT(EPOCH FROM now() - MIN(created_at)
				FILTER (WHERE state = 'queued'))::bigint, 0) AS oldest_queued_sec
		FROM ingest.upload_jobs`,
	).Scan(ctx, &stats.Queued, &stats.Working, &stats.Retryable, &stats.Done, &stats.Deadletter, &stats.OldestQueuedSec)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return stats, nil
}

// RegisterWorker upserts this process's registration row.
func (q *Queue) RegisterWorker(ctx context.Context, reg *WorkerRegistration) error {
	_, err := q.db.NewInsert().
		Model(reg).
		On("CONFLICT (id) DO UPDATE").
		Set("last_heartbeat = now()").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("register worker: %w", err)
	}
	return nil
}

// TouchWorker refreshes the registration heartbeat.
func (q *Queue) TouchWorker(ctx context.Context, workerID string) error {
	_, err := q.db.NewUpdate().
		Model((*WorkerRegistration)(nil)).
		Set("last_heartbeat = now()").
		Where("id = ?", workerID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("touch worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes the registration row on shutdown.
func (q *Queue) DeregisterWorker(ctx context.Context, workerID string) error {
	_, err := q.db.NewDelete().
		Model((*WorkerRegistration)(nil)).
		Where("id = ?", workerID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("deregister worker: %w", err)
	}
	return nil
}

// ListWorkers returns all registered workers.
func (q *Queue) ListWorkers(ctx context.Context) ([]*WorkerRegistration, error) {
	var workers []*WorkerRegistration
	err := q.db.NewSelect().
		Model(&workers).
		Order("started_at").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	return workers, nil
}

// PruneWorkers removes registrations whose heartbeat is older than cutoff.
func (q *Queue) PruneWorkers(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := q.db.NewDelete().
		Model((*WorkerRegistration)(nil)).
		Where("last_heartbeat < now() - (? * interval '1 second')", int(olderThan.Seconds())).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("prune workers: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
