package documents

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/coverline/coverline/pkg/apperror"
)

// Handler handles HTTP requests for the public ingestion API.
type Handler struct {
	svc *Service
}

// NewHandler creates a new documents handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// getOwnerID extracts the owner scope from the X-Owner-ID header.
// Authentication sits in front of this service; the header is the
// already-verified identity.
func getOwnerID(c echo.Context) (string, error) {
	ownerID := c.Request().Header.Get("X-Owner-ID")
	if ownerID == "" {
		return "", apperror.ErrUnauthorized.WithMessage("X-Owner-ID header is required")
	}
	return ownerID, nil
}

// EnqueueUpload handles POST /v1/uploads.
func (h *Handler) EnqueueUpload(c echo.Context) error {
	ownerID, err := getOwnerID(c)
	if err != nil {
		return err
	}

	req := new(EnqueueRequest)
	if err := c.Bind(req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	resp, err := h.svc.EnqueueUpload(c.Request().Context(), ownerID, req)
	if err != nil {
		return err
	}

	status := http.StatusCreated
	if resp.Deduplicated {
		status = http.StatusOK
	}
	return c.JSON(status, resp)
}

// GetJob handles GET /v1/jobs/:id.
func (h *Handler) GetJob(c echo.Context) error {
	ownerID, err := getOwnerID(c)
	if err != nil {
		return err
	}

	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperror.NewBadRequest("invalid job ID")
	}

	dto, err := h.svc.GetJob(c.Request().Context(), ownerID, jobID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dto)
}
