package scheduler

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/coverline/coverline/domain/chunks"
	"github.com/coverline/coverline/domain/pipeline"
)

// Module provides scheduled maintenance tasks.
var Module = fx.Module("scheduler",
	fx.Provide(
		NewConfig,
		NewScheduler,
	),
	fx.Invoke(
		RegisterTasks,
		RegisterSchedulerLifecycle,
	),
)

// TaskParams contains dependencies for creating scheduled tasks.
type TaskParams struct {
	fx.In
	Scheduler *Scheduler
	Chunks    *chunks.Repository
	Queue     *pipeline.Queue
	Log       *slog.Logger
	Cfg       *Config
}

// RegisterTasks registers all scheduled tasks.
func RegisterTasks(p TaskParams) error {
	if !p.Cfg.Enabled {
		p.Log.Info("scheduler disabled, skipping task registration")
		return nil
	}

	sweepTask := NewBufferSweepTask(p.Chunks, p.Log)
	if p.Cfg.BufferSweepSchedule != "" {
		if err := p.Scheduler.AddCronTask("buffer_sweep", p.Cfg.BufferSweepSchedule, sweepTask.Run); err != nil {
			p.Log.Error("failed to register buffer sweep task", slog.String("error", err.Error()))
		}
	} else if err := p.Scheduler.AddIntervalTask("buffer_sweep", p.Cfg.BufferSweepInterval, sweepTask.Run); err != nil {
		p.Log.Error("failed to register buffer sweep task", slog.String("error", err.Error()))
	}

	pruneTask := NewWorkerPruneTask(p.Queue, p.Cfg.WorkerStaleAfter, p.Log)
	if p.Cfg.WorkerPruneSchedule != "" {
		if err := p.Scheduler.AddCronTask("worker_prune", p.Cfg.WorkerPruneSchedule, pruneTask.Run); err != nil {
			p.Log.Error("failed to register worker prune task", slog.String("error", err.Error()))
		}
	} else if err := p.Scheduler.AddIntervalTask("worker_prune", p.Cfg.WorkerPruneInterval, pruneTask.Run); err != nil {
		p.Log.Error("failed to register worker prune task", slog.String("error", err.Error()))
	}

	p.Log.Info("registered scheduled tasks",
		slog.Any("tasks", p.Scheduler.ListTasks()))

	return nil
}

// RegisterSchedulerLifecycle registers the scheduler with fx lifecycle.
func RegisterSchedulerLifecycle(lc fx.Lifecycle, scheduler *Scheduler, cfg *Config) {
	if !cfg.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return scheduler.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return scheduler.Stop(ctx)
		},
	})
}
