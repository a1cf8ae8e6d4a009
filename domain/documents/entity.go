// Package documents owns document rows and the public ingestion API:
// enqueueing uploads and reporting job status.
package documents

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Document is a row in ingest.documents. The id is derived from
// (owner_id, file_sha256), so the same file uploaded twice by the same
// owner is the same document.
type Document struct {
	bun.BaseModel `bun:"table:ingest.documents,alias:d"`

	ID           uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	OwnerID      string    `bun:"owner_id,notnull" json:"ownerId"`
	Filename     string    `bun:"filename,notnull" json:"filename"`
	MimeType     string    `bun:"mime_type,notnull" json:"mimeType"`
	ByteSize     int64     `bun:"byte_size,notnull" json:"byteSize"`
	FileSHA256   string    `bun:"file_sha256,notnull" json:"fileSha256"`
	RawPath      string    `bun:"raw_path,notnull" json:"rawPath"`
	ParsedPath   string    `bun:"parsed_path,notnull" json:"parsedPath,omitempty"`
	ParsedSHA256 string    `bun:"parsed_sha256,notnull" json:"parsedSha256,omitempty"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt    time.Time `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}

// EnqueueRequest is the body of POST /v1/uploads.
type EnqueueRequest struct {
	Filename   string `json:"filename"`
	MimeType   string `json:"mimeType"`
	ByteSize   int64  `json:"byteSize"`
	FileSHA256 string `json:"fileSha256"`
}

// EnqueueResponse tells the client where to upload and how to track the
// job. Deduplicated is true when the document already existed.
type EnqueueResponse struct {
	DocumentID   string `json:"documentId"`
	JobID        string `json:"jobId"`
	UploadURL    string `json:"uploadUrl,omitempty"`
	Deduplicated bool   `json:"deduplicated"`
}
