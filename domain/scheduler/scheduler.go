package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/coverline/coverline/pkg/logger"
)

// TaskFunc is a scheduled maintenance task. The context carries the
// per-run timeout.
type TaskFunc func(ctx context.Context) error

// taskTimeout bounds one task run. The buffer sweep can touch a lot of
// rows on a backlogged database but must never run unbounded.
const taskTimeout = 30 * time.Minute

type taskEntry struct {
	id       cron.EntryID
	schedule string
}

// Scheduler runs the pipeline's periodic maintenance tasks on a cron
// runner. Tasks are registered by name; re-registering a name replaces
// the previous schedule.
type Scheduler struct {
	cron    *cron.Cron
	log     *slog.Logger
	tasks   map[string]taskEntry
	mu      sync.RWMutex
	running bool
}

// NewScheduler creates a stopped scheduler. Schedules use cron syntax
// with a seconds field.
func NewScheduler(log *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:  cron.New(cron.WithSeconds()),
		log:   log.With(logger.Scope("scheduler")),
		tasks: make(map[string]taskEntry),
	}
}

// Start begins executing registered tasks.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.cron.Start()
	s.running = true
	s.log.Info("scheduler started", slog.Int("tasks", len(s.tasks)))
	return nil
}

// Stop waits for running tasks to finish, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with tasks still running")
	}

	s.running = false
	return nil
}

// AddCronTask registers a task under a cron schedule
// ("second minute hour day-of-month month day-of-week", or an @every
// directive), replacing any task with the same name.
func (s *Scheduler) AddCronTask(name string, schedule string, task TaskFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.tasks[name]; ok {
		s.cron.Remove(prev.id)
		delete(s.tasks, name)
	}

	id, err := s.cron.AddFunc(schedule, func() {
		s.runTask(name, task)
	})
	if err != nil {
		return err
	}

	s.tasks[name] = taskEntry{id: id, schedule: schedule}
	s.log.Info("scheduled task",
		slog.String("name", name),
		slog.String("schedule", schedule))
	return nil
}

// AddIntervalTask registers a task that runs every interval, replacing
// any task with the same name.
func (s *Scheduler) AddIntervalTask(name string, interval time.Duration, task TaskFunc) error {
	return s.AddCronTask(name, "@every "+interval.String(), task)
}

func (s *Scheduler) runTask(name string, task TaskFunc) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
	defer cancel()

	if err := task(ctx); err != nil {
		s.log.Error("scheduled task failed",
			slog.String("name", name),
			logger.Error(err),
			slog.Duration("duration", time.Since(start)))
		return
	}

	s.log.Debug("scheduled task completed",
		slog.String("name", name),
		slog.Duration("duration", time.Since(start)))
}

// ListTasks returns the names of all registered tasks.
func (s *Scheduler) ListTasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	return names
}

// TaskInfo describes one registered task for the metrics endpoint.
type TaskInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	NextRun  time.Time `json:"next_run"`
	PrevRun  time.Time `json:"prev_run,omitempty"`
}

// GetTaskInfo returns the registered tasks with their run times.
func (s *Scheduler) GetTaskInfo() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var info []TaskInfo
	for name, task := range s.tasks {
		entry := s.cron.Entry(task.id)
		info = append(info, TaskInfo{
			Name:     name,
			Schedule: task.schedule,
			NextRun:  entry.Next,
			PrevRun:  entry.Prev,
		})
	}
	return info
}

// IsRunning reports whether the scheduler has been started.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
