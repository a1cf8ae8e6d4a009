// Package pipeline implements the durable multi-stage ingestion pipeline:
// claiming queued jobs, executing stage transitions, retrying transient
// failures and dead-lettering permanent ones.
package pipeline

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Stage is a position in the ingestion stage chain. Stages only move
// forward; a retry re-runs the current stage, never a previous one.
type Stage string

const (
	StageQueued             Stage = "queued"
	StageJobValidated       Stage = "job_validated"
	StageParsing            Stage = "parsing"
	StageParsed             Stage = "parsed"
	StageParseValidated     Stage = "parse_validated"
	StageChunking           Stage = "chunking"
	StageChunksBuffered     Stage = "chunks_buffered"
	StageChunked            Stage = "chunked"
	StageEmbedding          Stage = "embedding"
	StageEmbeddingsBuffered Stage = "embeddings_buffered"
	StageEmbedded           Stage = "embedded"
)

// stageChain is the full ordered chain. Index order is the only legal
// progression.
var stageChain = []Stage{
	StageQueued,
	StageJobValidated,
	StageParsing,
	StageParsed,
	StageParseValidated,
	StageChunking,
	StageChunksBuffered,
	StageChunked,
	StageEmbedding,
	StageEmbeddingsBuffered,
	StageEmbedded,
}

// stageProgress maps each stage to the percentage surfaced by the status
// endpoint. Values are fixed; clients may cache them.
var stageProgress = map[Stage]int{
	StageQueued:             0,
	StageJobValidated:       10,
	StageParsing:            20,
	StageParsed:             30,
	StageParseValidated:     35,
	StageChunking:           45,
	StageChunksBuffered:     50,
	StageChunked:            55,
	StageEmbedding:          70,
	StageEmbeddingsBuffered: 75,
	StageEmbedded:           100,
}

// Valid reports whether s is a member of the stage chain.
func (s Stage) Valid() bool {
	_, ok := stageProgress[s]
	return ok
}

// Terminal reports whether s is the final stage.
func (s Stage) Terminal() bool {
	return s == StageEmbedded
}

// Next returns the stage following s in the chain. ok is false for the
// terminal stage and for unknown stages.
func (s Stage) Next() (Stage, bool) {
	for i, st := range stageChain {
		if st == s {
			if i == len(stageChain)-1 {
				return "", false
			}
			return stageChain[i+1], true
		}
	}
	return "", false
}

// Progress returns the fixed progress percentage for s.
func (s Stage) Progress() int {
	return stageProgress[s]
}

// StageChain returns a copy of the ordered stage chain.
func StageChain() []Stage {
	out := make([]Stage, len(stageChain))
	copy(out, stageChain)
	return out
}

// State is the scheduling state of a job, orthogonal to its stage.
type State string

const (
	StateQueued     State = "queued"
	StateWorking    State = "working"
	StateRetryable  State = "retryable"
	StateDone       State = "done"
	StateDeadletter State = "deadletter"
)

// Valid reports whether st is a known state.
func (st State) Valid() bool {
	switch st {
	case StateQueued, StateWorking, StateRetryable, StateDone, StateDeadletter:
		return true
	}
	return false
}

// Terminal reports whether st is a final state.
func (st State) Terminal() bool {
	return st == StateDone || st == StateDeadletter
}

// JobError is the structured last_error stored on a job and surfaced by
// the status endpoint.
type JobError struct {
	Code    Code      `json:"code"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Scan implements sql.Scanner for jsonb columns.
func (e *JobError) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, e)
	case string:
		return json.Unmarshal([]byte(v), e)
	}
	return fmt.Errorf("unsupported jsonb source %T", src)
}

// Value implements driver.Valuer for jsonb columns.
func (e JobError) Value() (driver.Value, error) {
	return json.Marshal(e)
}

// JobPayload carries per-job working data across stage transitions.
type JobPayload struct {
	// ParserJobID is the id returned by the parser service submit call.
	ParserJobID string `json:"parser_job_id,omitempty"`
	// ParseSubmittedAt bounds the total time spent polling the parser.
	ParseSubmittedAt *time.Time `json:"parse_submitted_at,omitempty"`
	ChunkerName      string     `json:"chunker_name,omitempty"`
	ChunkerVersion   string     `json:"chunker_version,omitempty"`
	ChunkCount       int        `json:"chunk_count,omitempty"`
	EmbeddedCount    int        `json:"embedded_count,omitempty"`
}

// Scan implements sql.Scanner for jsonb columns.
func (p *JobPayload) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	}
	return fmt.Errorf("unsupported jsonb source %T", src)
}

// Value implements driver.Valuer for jsonb columns.
func (p JobPayload) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Job is a row in ingest.upload_jobs: one ingestion run for one document.
type Job struct {
	bun.BaseModel `bun:"table:ingest.upload_jobs,alias:j"`

	ID            uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	DocumentID    uuid.UUID  `bun:"document_id,type:uuid,notnull" json:"documentId"`
	Stage         Stage      `bun:"stage,notnull" json:"stage"`
	State         State      `bun:"state,notnull" json:"state"`
	RetryCount    int        `bun:"retry_count,notnull" json:"retryCount"`
	NextRetryAt   *time.Time `bun:"next_retry_at" json:"nextRetryAt,omitempty"`
	ClaimedBy     *string    `bun:"claimed_by" json:"claimedBy,omitempty"`
	ClaimedAt     *time.Time `bun:"claimed_at" json:"claimedAt,omitempty"`
	LastError     *JobError  `bun:"last_error,type:jsonb" json:"lastError,omitempty"`
	Payload       JobPayload `bun:"payload,type:jsonb" json:"payload"`
	CorrelationID string     `bun:"correlation_id,notnull" json:"correlationId"`
	CreatedAt     time.Time  `bun:"created_at,notnull,default:now()" json:"createdAt"`
	StartedAt     *time.Time `bun:"started_at" json:"startedAt,omitempty"`
	FinishedAt    *time.Time `bun:"finished_at" json:"finishedAt,omitempty"`
	UpdatedAt     time.Time  `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}

// Live reports whether the job still occupies the per-document live slot.
func (j *Job) Live() bool {
	return !j.State.Terminal()
}

// Event is an append-only row in ingest.events.
type Event struct {
	bun.BaseModel `bun:"table:ingest.events,alias:e"`

	ID            uuid.UUID       `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	JobID         *uuid.UUID      `bun:"job_id,type:uuid" json:"jobId,omitempty"`
	DocumentID    *uuid.UUID      `bun:"document_id,type:uuid" json:"documentId,omitempty"`
	TS            time.Time       `bun:"ts,notnull,default:now()" json:"ts"`
	Severity      string          `bun:"severity,notnull" json:"severity"`
	Type          string          `bun:"type,notnull" json:"type"`
	Code          Code            `bun:"code,notnull" json:"code,omitempty"`
	CorrelationID string          `bun:"correlation_id,notnull" json:"correlationId,omitempty"`
	Payload       json.RawMessage `bun:"payload,type:jsonb" json:"payload,omitempty"`
}

// WorkerRegistration is a row in ingest.workers, one per live worker
// process. Stale rows are pruned by the scheduler.
type WorkerRegistration struct {
	bun.BaseModel `bun:"table:ingest.workers,alias:w"`

	ID            string    `bun:"id,pk" json:"id"`
	Hostname      string    `bun:"hostname,notnull" json:"hostname"`
	Version       string    `bun:"version,notnull" json:"version"`
	StartedAt     time.Time `bun:"started_at,notnull,default:now()" json:"startedAt"`
	LastHeartbeat time.Time `bun:"last_heartbeat,notnull,default:now()" json:"lastHeartbeat"`
}

// QueueStats summarizes the queue for the admin stats endpoint.
type QueueStats struct {
	Queued          int64 `json:"queued"`
	Working         int64 `json:"working"`
	Retryable       int64 `json:"retryable"`
	Done            int64 `json:"done"`
	Deadletter      int64 `json:"deadletter"`
	OldestQueuedSec int64 `json:"oldestQueuedSec"`
}

// JobDTO is the job representation returned by the status and admin APIs.
type JobDTO struct {
	ID              string     `json:"id"`
	DocumentID      string     `json:"documentId"`
	Stage           Stage      `json:"stage"`
	State           State      `json:"state"`
	ProgressPercent int        `json:"progressPercent"`
	RetryCount      int        `json:"retryCount"`
	NextRetryAt     *time.Time `json:"nextRetryAt,omitempty"`
	LastError       *JobError  `json:"lastError,omitempty"`
	CorrelationID   string     `json:"correlationId,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
}

// ToDTO converts a Job to its API representation.
func (j *Job) ToDTO() *JobDTO {
	return &JobDTO{
		ID:              j.ID.String(),
		DocumentID:      j.DocumentID.String(),
		Stage:           j.Stage,
		State:           j.State,
		ProgressPercent: j.Stage.Progress(),
		RetryCount:      j.RetryCount,
		NextRetryAt:     j.NextRetryAt,
		LastError:       j.LastError,
		CorrelationID:   j.CorrelationID,
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.StartedAt,
		FinishedAt:      j.FinishedAt,
	}
}
