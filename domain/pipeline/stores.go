package pipeline

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/coverline/coverline/internal/storage"
	"github.com/coverline/coverline/pkg/parser"
)

// ErrParsedConflict is returned by DocumentStore.SetParsed when the
// document already records a different parsed hash. parsed_sha256 is
// write-once: replacing it would invalidate everything derived from it.
var ErrParsedConflict = errors.New("document already has a different parsed hash")

// DocumentInfo is the view of a document the executor needs. The documents
// domain owns the full model and implements DocumentStore over it.
type DocumentInfo struct {
	ID           uuid.UUID
	OwnerID      string
	Filename     string
	MimeType     string
	ByteSize     int64
	FileSHA256   string
	RawPath      string
	RawKey       string
	ParsedKey    string
	ParsedSHA256 string
}

// DocumentStore is the executor's access to document rows.
type DocumentStore interface {
	Info(ctx context.Context, id uuid.UUID) (*DocumentInfo, error)
	SetByteSize(ctx context.Context, id uuid.UUID, size int64) error
	// SetParsed records the parsed artifact's path and hash. Once set,
	// the hash is never replaced: a differing value fails with
	// ErrParsedConflict.
	SetParsed(ctx context.Context, id uuid.UUID, parsedPath, parsedSHA256 string) error
}

// ChunkRecord is one chunk row as the executor sees it.
type ChunkRecord struct {
	ID            uuid.UUID
	Ordinal       int
	Content       string
	ContentSHA256 string
}

// VectorRecord pairs a chunk with its embedding for buffering.
type VectorRecord struct {
	ChunkID   uuid.UUID
	Embedding []float32
}

// ChunkStore is the executor's access to chunk and vector-buffer rows.
// Implemented by the chunks domain repository.
type ChunkStore interface {
	// UpsertChunks inserts chunk rows, ignoring rows that already exist.
	// IDs are deterministic, so replays insert nothing new.
	UpsertChunks(ctx context.Context, documentID uuid.UUID, recs []ChunkRecord) error
	// ChunkStats returns the chunk count and the highest ordinal (-1 when
	// no chunks exist).
	ChunkStats(ctx context.Context, documentID uuid.UUID) (count, maxOrdinal int, err error)
	// MissingEmbeddings lists chunks with no committed and no buffered
	// vector, in ordinal order.
	MissingEmbeddings(ctx context.Context, documentID uuid.UUID) ([]ChunkRecord, error)
	// BufferEmbeddings upserts vectors into the staging buffer.
	BufferEmbeddings(ctx context.Context, documentID uuid.UUID, model, modelVersion string, vecs []VectorRecord) error
	// CommitFromBuffer moves buffered vectors onto chunk rows and clears
	// the buffer in one serialized transaction. Returns committed count.
	CommitFromBuffer(ctx context.Context, documentID uuid.UUID) (int, error)
	// UnembeddedCount returns how many chunks still lack a committed vector.
	UnembeddedCount(ctx context.Context, documentID uuid.UUID) (int, error)
}

// BlobStore is the executor's access to blob storage. Implemented by
// internal/storage.Service.
type BlobStore interface {
	Head(ctx context.Context, b storage.Bucket, key string) (*storage.ObjectInfo, error)
	Download(ctx context.Context, b storage.Bucket, key string) ([]byte, error)
	Upload(ctx context.Context, b storage.Bucket, key string, data []byte, contentType string) error
	PresignDownload(ctx context.Context, b storage.Bucket, key string) (string, error)
	ObjectPath(b storage.Bucket, ownerID string, documentID uuid.UUID, ext string) string
}

// ParserClient is the executor's access to the parser service.
type ParserClient interface {
	Submit(ctx context.Context, req parser.SubmitRequest) (string, error)
	Poll(ctx context.Context, parserJobID string) (*parser.PollResult, error)
}
