package documents

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers the public ingestion routes.
func RegisterRoutes(e *echo.Echo, handler *Handler) {
	e.POST("/v1/uploads", handler.EnqueueUpload)
	e.GET("/v1/jobs/:id", handler.GetJob)
}
