package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/coverline/coverline/pkg/logger"
)

// Code is a failure code from the closed pipeline taxonomy. Every failure
// the pipeline records uses one of these; anything else is a bug.
type Code string

const (
	CodeInputInvalid        Code = "input_invalid"
	CodeParserFailed        Code = "parser_failed"
	CodeParserTimeout       Code = "parser_timeout"
	CodeParserRateLimited   Code = "parser_rate_limited"
	CodeEmbedRateLimited    Code = "embed_rate_limited"
	CodeEmbedDimMismatch    Code = "embed_dim_mismatch"
	CodeEmbedLengthMismatch Code = "embed_length_mismatch"
	CodeHashMismatch        Code = "hash_mismatch"
	CodeStorageUnavailable  Code = "storage_unavailable"
	CodeDBConflict          Code = "db_conflict"
	CodeLeaseLost           Code = "lease_lost"
	CodeRetriesExhausted    Code = "retries_exhausted"
)

// codeTransient classifies each code. Transient codes are retried with
// backoff; permanent codes dead-letter immediately.
var codeTransient = map[Code]bool{
	CodeInputInvalid:        false,
	CodeParserFailed:        false,
	CodeParserTimeout:       true,
	CodeParserRateLimited:   true,
	CodeEmbedRateLimited:    true,
	CodeEmbedDimMismatch:    false,
	CodeEmbedLengthMismatch: false,
	CodeHashMismatch:        false,
	CodeStorageUnavailable:  true,
	CodeDBConflict:          true,
	CodeLeaseLost:           false,
	CodeRetriesExhausted:    false,
}

// Valid reports whether c belongs to the taxonomy.
func (c Code) Valid() bool {
	_, ok := codeTransient[c]
	return ok
}

// Transient reports whether c is retried rather than dead-lettered.
func (c Code) Transient() bool {
	return codeTransient[c]
}

// Codes returns all codes in the taxonomy.
func Codes() []Code {
	out := make([]Code, 0, len(codeTransient))
	for c := range codeTransient {
		out = append(out, c)
	}
	return out
}

// Event types written by the pipeline. The lifecycle set is closed:
// every stage execution emits stage_started, then stage_done on success
// or error/retry on failure; finalized marks the terminal transition
// (done, deadletter, or cancel). The remaining types are operational
// markers outside the per-stage lifecycle.
const (
	EventStageStarted = "stage_started"
	EventStageDone    = "stage_done"
	EventRetry        = "retry"
	EventError        = "error"
	EventFinalized    = "finalized"

	EventJobEnqueued = "job_enqueued"
	EventJobRequeued = "job_requeued"
	EventLeaseLost   = "lease_lost"
)

// Recorder appends rows to the event log. Recording never fails the
// calling operation: write errors are logged and counted, the pipeline
// keeps moving.
type Recorder struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRecorder creates an event recorder.
func NewRecorder(db bun.IDB, log *slog.Logger) *Recorder {
	return &Recorder{
		db:  db,
		log: log.With(logger.Scope("pipeline.events")),
	}
}

// Record writes one event row. Missing id/ts/severity are filled in.
func (r *Recorder) Record(ctx context.Context, ev *Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	if ev.Severity == "" {
		ev.Severity = "info"
	}
	if ev.Code != "" && !ev.Code.Valid() {
		r.log.Error("event carries unknown code, dropping code",
			slog.String("code", string(ev.Code)),
			slog.String("type", ev.Type),
		)
		ev.Code = ""
	}

	if _, err := r.db.NewInsert().Model(ev).Exec(ctx); err != nil {
		eventWriteFailures.Inc()
		r.log.Error("failed to record pipeline event",
			slog.String("type", ev.Type),
			logger.Error(err),
		)
	}
}
