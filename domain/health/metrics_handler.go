package health

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"

	"github.com/coverline/coverline/domain/scheduler"
)

// MetricsHandler handles job metrics requests
type MetricsHandler struct {
	db    *bun.DB
	sched *scheduler.Scheduler
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(db *bun.DB, sched *scheduler.Scheduler) *MetricsHandler {
	return &MetricsHandler{
		db:    db,
		sched: sched,
	}
}

// StageMetrics represents job counts for a single pipeline stage
type StageMetrics struct {
	Stage      string `json:"stage"`
	Queued     int64  `json:"queued"`
	Working    int64  `json:"working"`
	Retryable  int64  `json:"retryable"`
	Done       int64  `json:"done"`
	Deadletter int64  `json:"deadletter"`
	Total      int64  `json:"total"`
}

// JobMetricsResponse contains per-stage job metrics plus recent-activity totals
type JobMetricsResponse struct {
	Stages      []StageMetrics `json:"stages"`
	LastHour    int64          `json:"last_hour"`
	Last24Hours int64          `json:"last_24_hours"`
	Timestamp   string         `json:"timestamp"`
}

// JobMetrics returns per-stage counts for the upload job queue
func (h *MetricsHandler) JobMetrics(c echo.Context) error {
	ctx := c.Request().Context()

	stages, err := h.getStageMetrics(ctx)
	if err != nil {
		return err
	}

	var recent struct {
		LastHour    int64 `bun:"last_hour"`
		Last24Hours int64 `bun:"last_24_hours"`
	}
	if err := h.db.NewRaw(`
		SELECT
			COUNT(*) FILTER (WHERE created_at > NOW() - INTERVAL '1 hour')   AS last_hour,
			COUNT(*) FILTER (WHERE created_at > NOW() - INTERVAL '24 hours') AS last_24_hours
		FROM ingest.upload_jobs
	`).Scan(ctx, &recent); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, JobMetricsResponse{
		Stages:      stages,
		LastHour:    recent.LastHour,
		Last24Hours: recent.Last24Hours,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
}

// getStageMetrics groups upload jobs by stage with per-state counts
func (h *MetricsHandler) getStageMetrics(ctx context.Context) ([]StageMetrics, error) {
	var rows []struct {
		Stage      string `bun:"stage"`
		Queued     int64  `bun:"queued"`
		Working    int64  `bun:"working"`
		Retryable  int64  `bun:"retryable"`
		Done       int64  `bun:"done"`
		Deadletter int64  `bun:"deadletter"`
		Total      int64  `bun:"total"`
	}

	err := h.db.NewRaw(`
		SELECT
			stage,
			COUNT(*) FILTER (WHERE state = 'queued')     AS queued,
			COUNT(*) FILTER (WHERE state = 'working')    AS working,
			COUNT(*) FILTER (WHERE state = 'retryable')  AS retryable,
			COUNT(*) FILTER (WHERE state = 'done')       AS done,
			COUNT(*) FILTER (WHERE state = 'deadletter') AS deadletter,
			COUNT(*)                                     AS total
		FROM ingest.upload_jobs
		GROUP BY stage
		ORDER BY stage
	`).Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}

	metrics := make([]StageMetrics, 0, len(rows))
	for _, r := range rows {
		metrics = append(metrics, StageMetrics{
			Stage:      r.Stage,
			Queued:     r.Queued,
			Working:    r.Working,
			Retryable:  r.Retryable,
			Done:       r.Done,
			Deadletter: r.Deadletter,
			Total:      r.Total,
		})
	}
	return metrics, nil
}

// SchedulerMetrics returns info about registered scheduled tasks
func (h *MetricsHandler) SchedulerMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"running": h.sched.IsRunning(),
		"tasks":   h.sched.GetTaskInfo(),
	})
}
