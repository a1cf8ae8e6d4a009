package pipeline

import (
	"github.com/labstack/echo/v4"

	"github.com/coverline/coverline/internal/config"
)

// RegisterAdminRoutes registers the operator API behind the admin key.
func RegisterAdminRoutes(e *echo.Echo, handler *AdminHandler, cfg *config.Config) {
	admin := e.Group("/v1/admin")
	admin.Use(RequireAPIKey(cfg))

	admin.POST("/jobs/:id/requeue", handler.RequeueJob)
	admin.POST("/documents/:id/cancel", handler.CancelDocument)
	admin.GET("/documents/:id", handler.InspectDocument)
	admin.GET("/queue/stats", handler.QueueStats)
	admin.GET("/workers", handler.ListWorkers)
}
