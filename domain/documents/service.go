package documents

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/coverline/coverline/domain/pipeline"
	"github.com/coverline/coverline/internal/config"
	"github.com/coverline/coverline/internal/storage"
	"github.com/coverline/coverline/pkg/apperror"
	"github.com/coverline/coverline/pkg/identity"
	"github.com/coverline/coverline/pkg/logger"
)

// allowedMimeTypes is the admission allowlist. Insurance document
// ingestion accepts PDFs and the common office formats the parser
// supports; anything else is rejected before a job exists.
var allowedMimeTypes = map[string]bool{
	"application/pdf": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       true,
	"application/vnd.ms-excel": true,
	"text/plain":               true,
	"text/markdown":            true,
	"text/html":                true,
}

var sha256HexRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Service implements enqueue and status lookups for the public API.
type Service struct {
	repo    *Repository
	queue   *pipeline.Queue
	storage *storage.Service
	events  *pipeline.Recorder
	cfg     *config.Config
	log     *slog.Logger
}

// NewService creates the documents service.
func NewService(repo *Repository, queue *pipeline.Queue, store *storage.Service, events *pipeline.Recorder, cfg *config.Config, log *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		queue:   queue,
		storage: store,
		events:  events,
		cfg:     cfg,
		log:     log.With(logger.Scope("documents.service")),
	}
}

// EnqueueUpload admits an upload: validates the request, derives the
// deterministic document id, upserts the document, enqueues the ingestion
// job and hands back a signed PUT URL for the raw object. The whole
// operation is idempotent on (owner, file hash).
func (s *Service) EnqueueUpload(ctx context.Context, ownerID string, req *EnqueueRequest) (*EnqueueResponse, error) {
	if req.Filename == "" {
		return nil, apperror.NewBadRequest("filename is required")
	}
	mime := strings.ToLower(strings.TrimSpace(req.MimeType))
	if !allowedMimeTypes[mime] {
		return nil, apperror.ErrUnsupportedType.WithDetails(map[string]any{"mimeType": req.MimeType})
	}
	sha := strings.ToLower(strings.TrimSpace(req.FileSHA256))
	if !sha256HexRe.MatchString(sha) {
		return nil, apperror.NewBadRequest("fileSha256 must be 64 hex characters")
	}
	if max := int64(s.cfg.Parser.MaxFileSizeMB) * 1024 * 1024; req.ByteSize > max {
		return nil, apperror.ErrTooLarge.WithDetails(map[string]any{"maxBytes": max})
	}
	if !s.storage.Enabled() {
		return nil, apperror.ErrInternal.WithMessage("storage is not configured")
	}

	docID := identity.DocumentID(ownerID, sha)
	ext := storage.ExtForFilename(req.Filename)

	doc := &Document{
		ID:         docID,
		OwnerID:    ownerID,
		Filename:   req.Filename,
		MimeType:   mime,
		ByteSize:   req.ByteSize,
		FileSHA256: sha,
		RawPath:    s.storage.ObjectPath(storage.BucketRaw, ownerID, docID, ext),
	}
	doc, created, err := s.repo.Upsert(ctx, doc)
	if err != nil {
		return nil, apperror.NewInternal("failed to store document", err)
	}

	job, jobCreated, err := s.queue.CreateJob(ctx, doc.ID, uuid.NewString())
	if err != nil {
		return nil, apperror.NewInternal("failed to enqueue job", err)
	}
	if jobCreated {
		s.events.Record(ctx, &pipeline.Event{
			JobID:         &job.ID,
			DocumentID:    &doc.ID,
			Type:          pipeline.EventJobEnqueued,
			CorrelationID: job.CorrelationID,
		})
	}

	resp := &EnqueueResponse{
		DocumentID:   doc.ID.String(),
		JobID:        job.ID.String(),
		Deduplicated: !created,
	}

	// The upload URL is omitted once the document reached the parsed
	// stage; re-uploading the same bytes changes nothing.
	if job.Stage == pipeline.StageQueued || job.Stage == pipeline.StageJobValidated {
		key := storage.ObjectKey(ownerID, docID, ext)
		url, err := s.storage.PresignUpload(ctx, storage.BucketRaw, key, mime)
		if err != nil {
			return nil, apperror.NewInternal("failed to presign upload", err)
		}
		resp.UploadURL = url
	}

	s.log.Info("upload enqueued",
		slog.String("document_id", doc.ID.String()),
		slog.String("job_id", job.ID.String()),
		slog.Bool("deduplicated", resp.Deduplicated),
	)
	return resp, nil
}

// GetJob returns the status of a job, scoped to the calling owner.
func (s *Service) GetJob(ctx context.Context, ownerID string, jobID uuid.UUID) (*pipeline.JobDTO, error) {
	job, err := s.queue.GetJob(ctx, jobID)
	if err != nil {
		return nil, apperror.NewInternal("failed to load job", err)
	}
	if job == nil {
		return nil, apperror.ErrJobNotFound
	}

	doc, err := s.repo.GetByID(ctx, job.DocumentID)
	if err != nil {
		return nil, apperror.NewInternal("failed to load document", err)
	}
	if doc == nil || doc.OwnerID != ownerID {
		// Jobs outside the caller's scope look like they don't exist.
		return nil, apperror.ErrJobNotFound
	}

	return job.ToDTO(), nil
}
