// Package chunks owns the chunk rows and the vector staging buffer.
// Chunk ids are deterministic, so inserts are naturally idempotent, and
// vectors land on chunk rows only through the buffered atomic commit.
package chunks

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Chunk is a row in ingest.document_chunks.
type Chunk struct {
	bun.BaseModel `bun:"table:ingest.document_chunks,alias:c"`

	ID                uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	DocumentID        uuid.UUID `bun:"document_id,type:uuid,notnull" json:"documentId"`
	Ordinal           int       `bun:"ordinal,notnull" json:"ordinal"`
	Content           string    `bun:"content,notnull" json:"content"`
	ContentSHA256     string    `bun:"content_sha256,notnull" json:"contentSha256"`
	Embedding         []byte    `bun:"embedding,type:vector(1536)" json:"-"`
	EmbedModel        string    `bun:"embed_model,notnull" json:"embedModel,omitempty"`
	EmbedModelVersion string    `bun:"embed_model_version,notnull" json:"embedModelVersion,omitempty"`
	CreatedAt         time.Time `bun:"created_at,notnull,default:now()" json:"createdAt"`
}

// BufferRow is a row in ingest.document_vector_buffer: a verified vector
// staged for the atomic commit.
type BufferRow struct {
	bun.BaseModel `bun:"table:ingest.document_vector_buffer,alias:b"`

	ChunkID           uuid.UUID `bun:"chunk_id,pk,type:uuid" json:"chunkId"`
	DocumentID        uuid.UUID `bun:"document_id,type:uuid,notnull" json:"documentId"`
	EmbedModel        string    `bun:"embed_model,notnull" json:"embedModel"`
	EmbedModelVersion string    `bun:"embed_model_version,notnull" json:"embedModelVersion"`
	CreatedAt         time.Time `bun:"created_at,notnull,default:now()" json:"createdAt"`
}
