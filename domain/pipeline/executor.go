package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/coverline/coverline/internal/config"
	"github.com/coverline/coverline/internal/storage"
	"github.com/coverline/coverline/pkg/chunker"
	"github.com/coverline/coverline/pkg/embeddings"
	"github.com/coverline/coverline/pkg/identity"
	"github.com/coverline/coverline/pkg/logger"
	"github.com/coverline/coverline/pkg/parser"
	"github.com/coverline/coverline/pkg/tracing"
)

// JobTransitioner is the slice of the queue the executor drives jobs
// through. Satisfied by *Queue.
type JobTransitioner interface {
	Advance(ctx context.Context, jobID uuid.UUID, workerID string, from, to Stage, payload JobPayload) (bool, error)
	Postpone(ctx context.Context, jobID uuid.UUID, workerID string, delay time.Duration) (bool, error)
}

// EventSink records pipeline events. Satisfied by *Recorder.
type EventSink interface {
	Record(ctx context.Context, ev *Event)
}

// Executor runs claimed jobs through the stage chain. Every stage
// execution follows the same contract: re-read state, pre-check for work
// already done, do the work, advance with a compare-and-set. A lost CAS
// means another worker reclaimed the job; the executor stops silently.
type Executor struct {
	jobs     JobTransitioner
	docs     DocumentStore
	chunks   ChunkStore
	blobs    BlobStore
	parser   ParserClient
	embedder embeddings.Client
	splitter *chunker.MarkdownSimple
	events   EventSink
	cfg      config.PipelineConfig
	log      *slog.Logger
}

// NewExecutor wires the stage executor.
func NewExecutor(
	jobs JobTransitioner,
	docs DocumentStore,
	chunks ChunkStore,
	blobs BlobStore,
	parserClient ParserClient,
	embedder embeddings.Client,
	events EventSink,
	cfg *config.Config,
	log *slog.Logger,
) *Executor {
	return &Executor{
		jobs:     jobs,
		docs:     docs,
		chunks:   chunks,
		blobs:    blobs,
		parser:   parserClient,
		embedder: embedder,
		splitter: chunker.NewMarkdownSimple(),
		events:   events,
		cfg:      cfg.Pipeline,
		log:      log.With(logger.Scope("pipeline.executor")),
	}
}

// Run drives one claimed job forward until it completes, waits, fails, or
// the lease is lost. The returned outcome tells the worker what to do with
// the job; OK means the job finished or is still advancing normally.
func (e *Executor) Run(ctx context.Context, job *Job, workerID string) Outcome {
	for {
		if job.Stage.Terminal() {
			return OK()
		}
		next, ok := job.Stage.Next()
		if !ok {
			return Permanent(CodeDBConflict, fmt.Errorf("unknown stage %q", job.Stage))
		}

		e.events.Record(ctx, &Event{
			JobID:         &job.ID,
			DocumentID:    &job.DocumentID,
			Type:          EventStageStarted,
			CorrelationID: job.CorrelationID,
			Payload:       []byte(fmt.Sprintf(`{"stage":%q}`, next)),
		})

		out := e.step(ctx, job, next)
		stageOutcomes.WithLabelValues(string(next), string(out.Kind)).Inc()

		switch out.Kind {
		case OutcomeOK:
			advanced, err := e.jobs.Advance(ctx, job.ID, workerID, job.Stage, next, job.Payload)
			if err != nil {
				return Transient(CodeDBConflict, err)
			}
			if !advanced {
				e.recordLeaseLost(ctx, job)
				return LeaseLost()
			}
			job.Stage = next
			e.events.Record(ctx, &Event{
				JobID:         &job.ID,
				DocumentID:    &job.DocumentID,
				Type:          EventStageDone,
				CorrelationID: job.CorrelationID,
				Payload:       []byte(fmt.Sprintf(`{"stage":%q}`, next)),
			})
			if next.Terminal() {
				jobsCompleted.Inc()
				e.events.Record(ctx, &Event{
					JobID:         &job.ID,
					DocumentID:    &job.DocumentID,
					Type:          EventFinalized,
					CorrelationID: job.CorrelationID,
					Payload: []byte(fmt.Sprintf(`{"state":"done","chunks":%d,"embedded":%d}`,
						job.Payload.ChunkCount, job.Payload.EmbeddedCount)),
				})
				return OK()
			}

		case OutcomeWait:
			postponed, err := e.jobs.Postpone(ctx, job.ID, workerID, out.Delay)
			if err != nil {
				return Transient(CodeDBConflict, err)
			}
			if !postponed {
				e.recordLeaseLost(ctx, job)
				return LeaseLost()
			}
			return out

		default:
			return out
		}
	}
}

func (e *Executor) recordLeaseLost(ctx context.Context, job *Job) {
	e.events.Record(ctx, &Event{
		JobID:         &job.ID,
		DocumentID:    &job.DocumentID,
		Type:          EventLeaseLost,
		Code:          CodeLeaseLost,
		CorrelationID: job.CorrelationID,
	})
}

// step performs the work that justifies advancing the job to stage next.
func (e *Executor) step(ctx context.Context, job *Job, next Stage) Outcome {
	ctx, span := tracing.Start(ctx, "pipeline.stage."+string(next),
		attribute.String("coverline.job.id", job.ID.String()),
		attribute.String("coverline.document.id", job.DocumentID.String()),
	)
	defer span.End()

	switch next {
	case StageJobValidated:
		return e.validateJob(ctx, job)
	case StageParsing:
		return e.submitParse(ctx, job)
	case StageParsed:
		return e.pollParse(ctx, job)
	case StageParseValidated:
		return e.validateParsed(ctx, job)
	case StageChunking, StageEmbedding:
		// Begin markers; the work happens in the following transition.
		return OK()
	case StageChunksBuffered:
		return e.chunk(ctx, job)
	case StageChunked:
		return e.verifyChunks(ctx, job)
	case StageEmbeddingsBuffered:
		return e.embed(ctx, job)
	case StageEmbedded:
		return e.commit(ctx, job)
	}
	return Permanent(CodeDBConflict, fmt.Errorf("no handler for stage %q", next))
}

// validateJob checks that the raw object the client claimed to upload is
// actually present and consistent with the document row.
func (e *Executor) validateJob(ctx context.Context, job *Job) Outcome {
	info, out := e.documentInfo(ctx, job)
	if out != nil {
		return *out
	}

	head, err := e.blobs.Head(ctx, storage.BucketRaw, info.RawKey)
	if err != nil {
		return Transient(CodeStorageUnavailable, err)
	}
	if head == nil {
		// Client has not finished uploading yet; retry until it appears
		// or the budget runs out.
		return Transient(CodeStorageUnavailable, errors.New("raw object not found"))
	}

	if info.ByteSize > 0 && head.Size != info.ByteSize {
		return Permanent(CodeInputInvalid,
			fmt.Errorf("uploaded object is %d bytes, expected %d", head.Size, info.ByteSize))
	}
	if info.ByteSize == 0 && head.Size > 0 {
		if err := e.docs.SetByteSize(ctx, job.DocumentID, head.Size); err != nil {
			return Transient(CodeDBConflict, err)
		}
	}
	return OK()
}

// submitParse hands the raw object to the parser service via a signed URL.
func (e *Executor) submitParse(ctx context.Context, job *Job) Outcome {
	info, out := e.documentInfo(ctx, job)
	if out != nil {
		return *out
	}

	url, err := e.blobs.PresignDownload(ctx, storage.BucketRaw, info.RawKey)
	if err != nil {
		return Transient(CodeStorageUnavailable, err)
	}

	parserJobID, err := e.parser.Submit(ctx, parser.SubmitRequest{
		SourceURL: url,
		Filename:  info.Filename,
		MimeType:  info.MimeType,
	})
	if err != nil {
		return classifyParserError(err)
	}

	now := time.Now().UTC()
	job.Payload.ParserJobID = parserJobID
	job.Payload.ParseSubmittedAt = &now
	return OK()
}

// pollParse asks the parser for the result. While the parser is still
// working the job is postponed without consuming a retry; the total time
// in this stage is bounded by the parse stage budget.
func (e *Executor) pollParse(ctx context.Context, job *Job) Outcome {
	// A recorded parsed hash means a previous attempt already stored the
	// artifact and died before advancing. The parser job handle may be
	// gone by now; do not touch the parser again.
	info, out := e.documentInfo(ctx, job)
	if out != nil {
		return *out
	}
	if info.ParsedSHA256 != "" {
		return OK()
	}

	if job.Payload.ParserJobID == "" {
		return Permanent(CodeParserFailed, errors.New("no parser job id in payload"))
	}
	if at := job.Payload.ParseSubmittedAt; at != nil && time.Since(*at) > e.cfg.ParseStageBudget() {
		return Transient(CodeParserTimeout,
			fmt.Errorf("parse exceeded stage budget of %s", e.cfg.ParseStageBudget()))
	}

	res, err := e.parser.Poll(ctx, job.Payload.ParserJobID)
	if err != nil {
		return classifyParserError(err)
	}

	switch res.Status {
	case parser.StatusQueued, parser.StatusRunning:
		return Wait(e.cfg.ParsePollDelay())
	case parser.StatusFailed:
		return Permanent(CodeParserFailed, errors.New(res.Error))
	case parser.StatusDone:
		// fallthrough below
	default:
		return Permanent(CodeParserFailed, fmt.Errorf("unknown parser status %q", res.Status))
	}

	markdown := identity.NormalizeMarkdown(res.Markdown)
	if markdown == "" {
		return Permanent(CodeInputInvalid, errors.New("parser produced no content"))
	}

	data := []byte(markdown)
	if err := e.blobs.Upload(ctx, storage.BucketParsed, info.ParsedKey, data, "text/markdown"); err != nil {
		return Transient(CodeStorageUnavailable, err)
	}

	parsedPath := e.blobs.ObjectPath(storage.BucketParsed, info.OwnerID, info.ID, "md")
	if err := e.docs.SetParsed(ctx, job.DocumentID, parsedPath, identity.SHA256Hex(data)); err != nil {
		if errors.Is(err, ErrParsedConflict) {
			return Permanent(CodeHashMismatch, err)
		}
		return Transient(CodeDBConflict, err)
	}
	return OK()
}

// validateParsed re-reads the stored artifact and compares its hash with
// the recorded one. A mismatch means the artifact was corrupted or
// replaced and nothing downstream can be trusted.
func (e *Executor) validateParsed(ctx context.Context, job *Job) Outcome {
	info, out := e.documentInfo(ctx, job)
	if out != nil {
		return *out
	}
	if info.ParsedSHA256 == "" {
		return Permanent(CodeHashMismatch, errors.New("document has no recorded parsed hash"))
	}

	data, err := e.blobs.Download(ctx, storage.BucketParsed, info.ParsedKey)
	if err != nil {
		return Transient(CodeStorageUnavailable, err)
	}
	if got := identity.SHA256Hex(data); got != info.ParsedSHA256 {
		return Permanent(CodeHashMismatch,
			fmt.Errorf("parsed artifact hash %s does not match recorded %s", got, info.ParsedSHA256))
	}
	return OK()
}

// chunk splits the parsed artifact and inserts chunk rows. Chunk ids are
// deterministic, so a replay inserts nothing new.
func (e *Executor) chunk(ctx context.Context, job *Job) Outcome {
	info, out := e.documentInfo(ctx, job)
	if out != nil {
		return *out
	}

	data, err := e.blobs.Download(ctx, storage.BucketParsed, info.ParsedKey)
	if err != nil {
		return Transient(CodeStorageUnavailable, err)
	}

	parts := e.splitter.Split(string(data))
	if len(parts) == 0 {
		return Permanent(CodeInputInvalid, errors.New("document produced no chunks"))
	}

	recs := make([]ChunkRecord, len(parts))
	for i, p := range parts {
		recs[i] = ChunkRecord{
			ID:            identity.ChunkID(job.DocumentID, e.splitter.Name(), e.splitter.Version(), p.Ordinal, p.ContentSHA256),
			Ordinal:       p.Ordinal,
			Content:       p.Content,
			ContentSHA256: p.ContentSHA256,
		}
	}
	if err := e.chunks.UpsertChunks(ctx, job.DocumentID, recs); err != nil {
		return Transient(CodeDBConflict, err)
	}

	job.Payload.ChunkerName = e.splitter.Name()
	job.Payload.ChunkerVersion = e.splitter.Version()
	job.Payload.ChunkCount = len(recs)
	return OK()
}

// verifyChunks checks that the persisted chunk set is complete and
// contiguous before any embedding work starts.
func (e *Executor) verifyChunks(ctx context.Context, job *Job) Outcome {
	count, maxOrdinal, err := e.chunks.ChunkStats(ctx, job.DocumentID)
	if err != nil {
		return Transient(CodeDBConflict, err)
	}
	if count == 0 {
		return Transient(CodeDBConflict, errors.New("no chunk rows found after chunking"))
	}
	if maxOrdinal != count-1 {
		return Transient(CodeDBConflict,
			fmt.Errorf("chunk ordinals not contiguous: %d rows, max ordinal %d", count, maxOrdinal))
	}
	if job.Payload.ChunkCount > 0 && count != job.Payload.ChunkCount {
		return Transient(CodeDBConflict,
			fmt.Errorf("found %d chunk rows, chunker produced %d", count, job.Payload.ChunkCount))
	}
	return OK()
}

// embed fetches vectors for every chunk that has neither a committed nor
// a buffered embedding, in batches, verifying the provider contract on
// each batch before buffering.
func (e *Executor) embed(ctx context.Context, job *Job) Outcome {
	missing, err := e.chunks.MissingEmbeddings(ctx, job.DocumentID)
	if err != nil {
		return Transient(CodeDBConflict, err)
	}

	batchMax := e.cfg.EmbedBatchMax
	if batchMax <= 0 {
		batchMax = 256
	}

	for start := 0; start < len(missing); start += batchMax {
		end := start + batchMax
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]

		inputs := make([]string, len(batch))
		for i, c := range batch {
			inputs[i] = c.Content
		}

		vectors, err := e.embedder.EmbedBatch(ctx, inputs)
		if err != nil {
			return classifyEmbedError(err)
		}
		if len(vectors) != len(batch) {
			return Permanent(CodeEmbedLengthMismatch,
				fmt.Errorf("provider returned %d vectors for %d inputs", len(vectors), len(batch)))
		}
		dim := e.embedder.Dimension()
		for i, v := range vectors {
			if len(v) != dim {
				return Permanent(CodeEmbedDimMismatch,
					fmt.Errorf("vector %d has dimension %d, expected %d", batch[i].Ordinal, len(v), dim))
			}
		}

		vecs := make([]VectorRecord, len(batch))
		for i := range batch {
			vecs[i] = VectorRecord{ChunkID: batch[i].ID, Embedding: vectors[i]}
		}
		if err := e.chunks.BufferEmbeddings(ctx, job.DocumentID, e.embedder.Model(), e.embedder.ModelVersion(), vecs); err != nil {
			return Transient(CodeDBConflict, err)
		}
		job.Payload.EmbeddedCount += len(vecs)
	}

	// Nothing may be left behind before the commit stage; the stage chain
	// never goes backwards.
	left, err := e.chunks.MissingEmbeddings(ctx, job.DocumentID)
	if err != nil {
		return Transient(CodeDBConflict, err)
	}
	if len(left) > 0 {
		return Transient(CodeDBConflict,
			fmt.Errorf("%d chunks still lack buffered embeddings", len(left)))
	}
	return OK()
}

// commit atomically moves buffered vectors onto the chunk rows.
func (e *Executor) commit(ctx context.Context, job *Job) Outcome {
	if _, err := e.chunks.CommitFromBuffer(ctx, job.DocumentID); err != nil {
		return Transient(CodeDBConflict, err)
	}

	remaining, err := e.chunks.UnembeddedCount(ctx, job.DocumentID)
	if err != nil {
		return Transient(CodeDBConflict, err)
	}
	if remaining > 0 {
		return Transient(CodeDBConflict,
			fmt.Errorf("%d chunks without committed vectors after commit", remaining))
	}
	return OK()
}

func (e *Executor) documentInfo(ctx context.Context, job *Job) (*DocumentInfo, *Outcome) {
	info, err := e.docs.Info(ctx, job.DocumentID)
	if err != nil {
		out := Transient(CodeDBConflict, err)
		return nil, &out
	}
	if info == nil {
		out := Permanent(CodeInputInvalid, errors.New("document row not found"))
		return nil, &out
	}
	return info, nil
}

// classifyParserError maps parser client errors onto the failure taxonomy.
// Service unavailability counts as a timeout: the work may still succeed
// on a later attempt.
func classifyParserError(err error) Outcome {
	var perr *parser.Error
	if errors.As(err, &perr) {
		switch {
		case perr.RateLimited():
			return Transient(CodeParserRateLimited, err)
		case perr.Transient():
			return Transient(CodeParserTimeout, err)
		default:
			return Permanent(CodeParserFailed, err)
		}
	}
	return Transient(CodeParserTimeout, err)
}

// classifyEmbedError maps embedding client errors onto the taxonomy.
// Contract violations (wrong vector count, bad index) dead-letter
// immediately; permanent provider rejections mean the input itself cannot
// be embedded.
func classifyEmbedError(err error) Outcome {
	var eerr *embeddings.Error
	if errors.As(err, &eerr) {
		switch {
		case eerr.ContractViolation:
			return Permanent(CodeEmbedLengthMismatch, err)
		case eerr.Transient():
			return Transient(CodeEmbedRateLimited, err)
		default:
			return Permanent(CodeInputInvalid, err)
		}
	}
	return Transient(CodeEmbedRateLimited, err)
}
