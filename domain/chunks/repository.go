package chunks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/coverline/coverline/domain/pipeline"
	"github.com/coverline/coverline/internal/database"
	"github.com/coverline/coverline/pkg/logger"
	"github.com/coverline/coverline/pkg/pgutils"
)

// Repository handles database operations for chunks and the vector
// buffer. It implements pipeline.ChunkStore.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new chunks repository.
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("chunks.repo")),
	}
}

// UpsertChunks inserts chunk rows, skipping rows that already exist.
// Replays after a crash insert nothing: the deterministic ids collide on
// (document_id, ordinal) and the conflict is dropped.
func (r *Repository) UpsertChunks(ctx context.Context, documentID uuid.UUID, recs []pipeline.ChunkRecord) error {
	if len(recs) == 0 {
		return nil
	}

	rows := make([]*Chunk, len(recs))
	for i, rec := range recs {
		rows[i] = &Chunk{
			ID:            rec.ID,
			DocumentID:    documentID,
			Ordinal:       rec.Ordinal,
			Content:       rec.Content,
			ContentSHA256: rec.ContentSHA256,
		}
	}

	_, err := r.db.NewInsert().
		Model(&rows).
		On("CONFLICT (document_id, ordinal) DO NOTHING").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to insert chunks",
			slog.String("document_id", documentID.String()),
			slog.Int("count", len(rows)),
			logger.Error(err),
		)
		return fmt.Errorf("insert chunks: %w", err)
	}
	return nil
}

// ChunkStats returns the chunk count and highest ordinal for a document.
// maxOrdinal is -1 when no chunks exist.
func (r *Repository) ChunkStats(ctx context.Context, documentID uuid.UUID) (int, int, error) {
	var count, maxOrdinal int
	err := r.db.NewRaw(`
		SELECT COUNT(*), COALESCE(MAX(ordinal), -1)
		FROM ingest.document_chunks
		WHERE document_id = ?`, documentID,
	).Scan(ctx, &count, &maxOrdinal)
	if err != nil {
		return 0, 0, fmt.Errorf("chunk stats: %w", err)
	}
	return count, maxOrdinal, nil
}

// MissingEmbeddings lists chunks with neither a committed nor a buffered
// vector, in ordinal order.
func (r *Repository) MissingEmbeddings(ctx context.Context, documentID uuid.UUID) ([]pipeline.ChunkRecord, error) {
	var rows []*Chunk
	err := r.db.NewSelect().
		Model(&rows).
		Column("c.id", "c.ordinal", "c.content", "c.content_sha256").
		Where("c.document_id = ?", documentID).
		Where("c.embedding IS NULL").
		Where("NOT EXISTS (SELECT 1 FROM ingest.document_vector_buffer b WHERE b.chunk_id = c.id)").
		Order("c.ordinal").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select missing embeddings: %w", err)
	}

	recs := make([]pipeline.ChunkRecord, len(rows))
	for i, row := range rows {
		recs[i] = pipeline.ChunkRecord{
			ID:            row.ID,
			Ordinal:       row.Ordinal,
			Content:       row.Content,
			ContentSHA256: row.ContentSHA256,
		}
	}
	return recs, nil
}

// BufferEmbeddings upserts verified vectors into the staging buffer. A
// replayed batch overwrites its own rows.
func (r *Repository) BufferEmbeddings(ctx context.Context, documentID uuid.UUID, model, modelVersion string, vecs []pipeline.VectorRecord) error {
	if len(vecs) == 0 {
		return nil
	}

	tx, err := database.BeginSafeTx(ctx, r.db)
	if err != nil {
		return fmt.Errorf("begin buffer tx: %w", err)
	}
	defer tx.Rollback()

	for _, v := range vecs {
		_, err := tx.NewRaw(`
			INSERT INTO ingest.document_vector_buffer
				(chunk_id, document_id, embedding, embed_model, embed_model_version)
			VALUES (?, ?, ?::vector, ?, ?)
			ON CONFLICT (chunk_id) DO UPDATE
			SET embedding = EXCLUDED.embedding,
			    embed_model = EXCLUDED.embed_model,
			    embed_model_version = EXCLUDED.embed_model_version`,
			v.ChunkID, documentID, pgutils.FormatVector(v.Embedding), model, modelVersion,
		).Exec(ctx)
		if err != nil {
			return fmt.Errorf("buffer embedding for chunk %s: %w", v.ChunkID, err)
		}
	}

	return tx.Commit()
}

// BufferedCount returns the number of staged vectors for a document.
func (r *Repository) BufferedCount(ctx context.Context, documentID uuid.UUID) (int, error) {
	count, err := r.db.NewSelect().
		Model((*BufferRow)(nil)).
		Where("document_id = ?", documentID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("buffered count: %w", err)
	}
	return count, nil
}

// CommitFromBuffer moves staged vectors onto chunk rows and clears the
// buffer in one transaction. The advisory lock on the document id
// serializes concurrent commit attempts from reclaim races, so the update
// and delete are atomic with respect to any other committer.
func (r *Repository) CommitFromBuffer(ctx context.Context, documentID uuid.UUID) (int, error) {
	tx, err := database.BeginSafeTx(ctx, r.db)
	if err != nil {
		return 0, fmt.Errorf("begin commit tx: %w", err)
	}
	defer tx.Rollback()

	if err := database.AdvisoryXactLock(ctx, tx, documentID.String()); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE ingest.document_chunks c
		SET embedding = b.embedding,
		    embed_model = b.embed_model,
		    embed_model_version = b.embed_model_version
		FROM ingest.document_vector_buffer b
		WHERE b.chunk_id = c.id AND b.document_id = ?`,
		documentID,
	)
	if err != nil {
		return 0, fmt.Errorf("commit vectors: %w", err)
	}
	committed, _ := res.RowsAffected()

	if _, err := tx.NewDelete().
		Model((*BufferRow)(nil)).
		Where("document_id = ?", documentID).
		Exec(ctx); err != nil {
		return 0, fmt.Errorf("clear buffer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	if committed > 0 {
		r.log.Info("committed vectors",
			slog.String("document_id", documentID.String()),
			slog.Int64("count", committed),
		)
	}
	return int(committed), nil
}

// UnembeddedCount returns how many chunks still lack a committed vector.
func (r *Repository) UnembeddedCount(ctx context.Context, documentID uuid.UUID) (int, error) {
	count, err := r.db.NewSelect().
		Model((*Chunk)(nil)).
		Where("document_id = ?", documentID).
		Where("embedding IS NULL").
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("unembedded count: %w", err)
	}
	return count, nil
}

// ListByDocument returns all chunks for a document in ordinal order.
func (r *Repository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*Chunk, error) {
	var rows []*Chunk
	err := r.db.NewSelect().
		Model(&rows).
		Where("c.document_id = ?", documentID).
		Order("c.ordinal").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	return rows, nil
}

// SweepDeadletteredBuffers deletes buffer rows for documents whose
// ingestion ended in the dead-letter state with no live job remaining.
// Returns the number of rows removed.
func (r *Repository) SweepDeadletteredBuffers(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM ingest.document_vector_buffer b
		WHERE EXISTS (
			SELECT 1 FROM ingest.upload_jobs j
			WHERE j.document_id = b.document_id AND j.state = 'deadletter'
		)
		AND NOT EXISTS (
			SELECT 1 FROM ingest.upload_jobs j
			WHERE j.document_id = b.document_id
			  AND j.state IN ('queued', 'working', 'retryable')
		)`)
	if err != nil {
		return 0, fmt.Errorf("sweep buffers: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
