package pipeline

import (
	"crypto/subtle"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/coverline/coverline/internal/config"
	"github.com/coverline/coverline/pkg/apperror"
)

// AdminHandler serves the operator API: requeue, cancel, inspect, queue
// stats and worker listing. All routes sit behind the static admin key.
type AdminHandler struct {
	queue  *Queue
	docs   DocumentStore
	chunks ChunkStore
	events *Recorder
}

// NewAdminHandler creates the admin handler.
func NewAdminHandler(queue *Queue, docs DocumentStore, chunks ChunkStore, events *Recorder) *AdminHandler {
	return &AdminHandler{queue: queue, docs: docs, chunks: chunks, events: events}
}

// RequireAPIKey returns middleware enforcing the X-API-Key header. With no
// key configured the admin API is disabled entirely.
func RequireAPIKey(cfg *config.Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !cfg.Admin.IsConfigured() {
				return apperror.ErrNotFound
			}
			key := c.Request().Header.Get("X-API-Key")
			if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(cfg.Admin.APIKey)) != 1 {
				return apperror.New(http.StatusUnauthorized, "invalid_api_key", "Invalid or missing API key")
			}
			return next(c)
		}
	}
}

// RequeueJob handles POST /v1/admin/jobs/:id/requeue. Only dead-lettered
// jobs can be requeued; the stage is kept and the retry budget resets.
func (h *AdminHandler) RequeueJob(c echo.Context) error {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperror.NewBadRequest("invalid job ID")
	}

	ctx := c.Request().Context()
	ok, err := h.queue.Requeue(ctx, jobID)
	if err != nil {
		return apperror.NewInternal("failed to requeue job", err)
	}
	if !ok {
		job, gerr := h.queue.GetJob(ctx, jobID)
		if gerr == nil && job == nil {
			return apperror.ErrJobNotFound
		}
		return apperror.ErrConflict.WithMessage("only dead-lettered jobs can be requeued")
	}

	h.events.Record(ctx, &Event{JobID: &jobID, Type: EventJobRequeued})
	return c.JSON(http.StatusOK, map[string]any{"requeued": true})
}

// CancelDocument handles POST /v1/admin/documents/:id/cancel. Every live
// job for the document is dead-lettered.
func (h *AdminHandler) CancelDocument(c echo.Context) error {
	docID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperror.NewBadRequest("invalid document ID")
	}

	ctx := c.Request().Context()
	n, err := h.queue.Cancel(ctx, docID)
	if err != nil {
		return apperror.NewInternal("failed to cancel document jobs", err)
	}
	if n > 0 {
		h.events.Record(ctx, &Event{
			DocumentID: &docID,
			Severity:   "warn",
			Type:       EventFinalized,
			Payload:    []byte(`{"state":"deadletter","reason":"canceled"}`),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"canceled": n})
}

// InspectDocument handles GET /v1/admin/documents/:id: the document view,
// its job history and chunk/vector progress in one response.
func (h *AdminHandler) InspectDocument(c echo.Context) error {
	docID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperror.NewBadRequest("invalid document ID")
	}

	ctx := c.Request().Context()
	info, err := h.docs.Info(ctx, docID)
	if err != nil {
		return apperror.NewInternal("failed to load document", err)
	}
	if info == nil {
		return apperror.ErrDocumentNotFound
	}

	jobs, err := h.queue.ListJobsByDocument(ctx, docID)
	if err != nil {
		return apperror.NewInternal("failed to load jobs", err)
	}
	jobDTOs := make([]*JobDTO, len(jobs))
	for i, j := range jobs {
		jobDTOs[i] = j.ToDTO()
	}

	chunkCount, _, err := h.chunks.ChunkStats(ctx, docID)
	if err != nil {
		return apperror.NewInternal("failed to load chunk stats", err)
	}
	unembedded, err := h.chunks.UnembeddedCount(ctx, docID)
	if err != nil {
		return apperror.NewInternal("failed to load embedding stats", err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"document": map[string]any{
			"id":           info.ID.String(),
			"ownerId":      info.OwnerID,
			"filename":     info.Filename,
			"mimeType":     info.MimeType,
			"byteSize":     info.ByteSize,
			"fileSha256":   info.FileSHA256,
			"rawPath":      info.RawPath,
			"parsedSha256": info.ParsedSHA256,
		},
		"jobs":           jobDTOs,
		"chunkCount":     chunkCount,
		"embeddedChunks": chunkCount - unembedded,
	})
}

// QueueStats handles GET /v1/admin/queue/stats.
func (h *AdminHandler) QueueStats(c echo.Context) error {
	stats, err := h.queue.Stats(c.Request().Context())
	if err != nil {
		return apperror.NewInternal("failed to load queue stats", err)
	}
	return c.JSON(http.StatusOK, stats)
}

// ListWorkers handles GET /v1/admin/workers.
func (h *AdminHandler) ListWorkers(c echo.Context) error {
	workers, err := h.queue.ListWorkers(c.Request().Context())
	if err != nil {
		return apperror.NewInternal("failed to list workers", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": workers})
}
