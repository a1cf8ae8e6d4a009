package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/coverline/coverline/domain/pipeline"
	"github.com/coverline/coverline/internal/storage"
	"github.com/coverline/coverline/pkg/logger"
)

// Repository handles database operations for documents. It implements
// pipeline.DocumentStore for the stage executors.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new documents repository.
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("documents.repo")),
	}
}

// Upsert inserts the document or returns the existing row for the same
// (owner_id, file_sha256). The id is deterministic, so the conflict can
// only be the same logical document.
func (r *Repository) Upsert(ctx context.Context, doc *Document) (*Document, bool, error) {
	res, err := r.db.NewInsert().
		Model(doc).
		On("CONFLICT (owner_id, file_sha256) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("insert document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return doc, true, nil
	}

	existing, err := r.GetByID(ctx, doc.ID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, errors.New("document vanished after conflicting insert")
	}
	return existing, false, nil
}

// GetByID fetches a document. Returns nil when not found.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	doc := new(Document)
	err := r.db.NewSelect().Model(doc).Where("d.id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select document: %w", err)
	}
	return doc, nil
}

// Info implements pipeline.DocumentStore.
func (r *Repository) Info(ctx context.Context, id uuid.UUID) (*pipeline.DocumentInfo, error) {
	doc, err := r.GetByID(ctx, id)
	if err != nil || doc == nil {
		return nil, err
	}

	ext := storage.ExtForFilename(doc.Filename)
	return &pipeline.DocumentInfo{
		ID:           doc.ID,
		OwnerID:      doc.OwnerID,
		Filename:     doc.Filename,
		MimeType:     doc.MimeType,
		ByteSize:     doc.ByteSize,
		FileSHA256:   doc.FileSHA256,
		RawPath:      doc.RawPath,
		RawKey:       storage.ObjectKey(doc.OwnerID, doc.ID, ext),
		ParsedKey:    storage.ObjectKey(doc.OwnerID, doc.ID, "md"),
		ParsedSHA256: doc.ParsedSHA256,
	}, nil
}

// SetByteSize implements pipeline.DocumentStore.
func (r *Repository) SetByteSize(ctx context.Context, id uuid.UUID, size int64) error {
	_, err := r.db.NewUpdate().
		Model((*Document)(nil)).
		Set("byte_size = ?", size).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set byte size: %w", err)
	}
	return nil
}

// SetParsed implements pipeline.DocumentStore: records where the parsed
// artifact lives and its content hash. The hash is write-once; an update
// carrying a different value matches no row and fails.
func (r *Repository) SetParsed(ctx context.Context, id uuid.UUID, parsedPath, parsedSHA256 string) error {
	sha := strings.ToLower(parsedSHA256)
	res, err := r.db.NewUpdate().
		Model((*Document)(nil)).
		Set("parsed_path = ?", parsedPath).
		Set("parsed_sha256 = ?", sha).
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("parsed_sha256 IN ('', ?)", sha).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set parsed artifact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		doc, gerr := r.GetByID(ctx, id)
		if gerr != nil {
			return gerr
		}
		if doc != nil && doc.ParsedSHA256 != "" && doc.ParsedSHA256 != sha {
			return fmt.Errorf("set parsed artifact for %s: %w", id, pipeline.ErrParsedConflict)
		}
		return fmt.Errorf("set parsed artifact: document %s not found", id)
	}
	return nil
}
