package scheduler

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScheduler(t *testing.T) {
	s := NewScheduler(slog.Default())

	require.NotNil(t, s)
	assert.NotNil(t, s.cron)
	assert.NotNil(t, s.tasks)
	assert.False(t, s.IsRunning(), "new scheduler should not be running")
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(slog.Default())

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())

	// Start is idempotent.
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.IsRunning())

	// So is Stop.
	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.IsRunning())
}

func TestScheduler_ListTasks(t *testing.T) {
	s := NewScheduler(slog.Default())

	assert.Empty(t, s.ListTasks())

	dummy := func(ctx context.Context) error { return nil }
	require.NoError(t, s.AddCronTask("task1", "@every 1h", dummy))
	require.NoError(t, s.AddCronTask("task2", "@every 30m", dummy))

	assert.ElementsMatch(t, []string{"task1", "task2"}, s.ListTasks())
}

func TestScheduler_GetTaskInfo_WithTasks(t *testing.T) {
	s := NewScheduler(slog.Default())

	dummy := func(ctx context.Context) error { return nil }
	require.NoError(t, s.AddCronTask("test-task", "@every 1h", dummy))

	info := s.GetTaskInfo()
	require.Len(t, info, 1)
	assert.Equal(t, "test-task", info[0].Name)
	assert.Equal(t, "@every 1h", info[0].Schedule)
}

func TestScheduler_AddCronTask_ReplaceExisting(t *testing.T) {
	s := NewScheduler(slog.Default())

	dummy := func(ctx context.Context) error { return nil }
	require.NoError(t, s.AddCronTask("task1", "@every 1h", dummy))
	require.Len(t, s.ListTasks(), 1)

	// Same name replaces the schedule instead of adding a second entry.
	require.NoError(t, s.AddCronTask("task1", "@every 30m", dummy))
	require.Len(t, s.ListTasks(), 1)

	info := s.GetTaskInfo()
	require.Len(t, info, 1)
	assert.Equal(t, "@every 30m", info[0].Schedule)
}

func TestScheduler_AddIntervalTask_ReplaceExisting(t *testing.T) {
	s := NewScheduler(slog.Default())

	dummy := func(ctx context.Context) error { return nil }
	require.NoError(t, s.AddIntervalTask("task1", 1*time.Hour, dummy))
	require.NoError(t, s.AddIntervalTask("task1", 30*time.Minute, dummy))

	require.Len(t, s.ListTasks(), 1)

	info := s.GetTaskInfo()
	require.Len(t, info, 1)
	assert.Equal(t, "@every 30m0s", info[0].Schedule)
}

func TestScheduler_AddCronTask_InvalidSchedule(t *testing.T) {
	s := NewScheduler(slog.Default())

	dummy := func(ctx context.Context) error { return nil }
	err := s.AddCronTask("task1", "not a valid schedule", dummy)
	require.Error(t, err)
	assert.Empty(t, s.ListTasks(), "failed add must not register the task")
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		setEnv     bool
		defaultVal time.Duration
		want       time.Duration
	}{
		{
			name:       "env not set returns default",
			key:        "TEST_DUR_NOT_SET",
			setEnv:     false,
			defaultVal: 5 * time.Minute,
			want:       5 * time.Minute,
		},
		{
			name:       "env set to milliseconds",
			key:        "TEST_DUR_MS",
			envValue:   "1000",
			setEnv:     true,
			defaultVal: 0,
			want:       1 * time.Second,
		},
		{
			name:       "env set to large value (1 hour in ms)",
			key:        "TEST_DUR_HOUR",
			envValue:   "3600000",
			setEnv:     true,
			defaultVal: 0,
			want:       time.Hour,
		},
		{
			name:       "env set to invalid value returns default",
			key:        "TEST_DUR_INVALID",
			envValue:   "not-a-number",
			setEnv:     true,
			defaultVal: 10 * time.Second,
			want:       10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origVal, hadOrig := os.LookupEnv(tt.key)
			defer func() {
				if hadOrig {
					os.Setenv(tt.key, origVal)
				} else {
					os.Unsetenv(tt.key)
				}
			}()

			if tt.setEnv {
				os.Setenv(tt.key, tt.envValue)
			} else {
				os.Unsetenv(tt.key)
			}

			assert.Equal(t, tt.want, getEnvDuration(tt.key, tt.defaultVal))
		})
	}
}

func TestNewConfig(t *testing.T) {
	envVars := []string{
		"SCHEDULER_ENABLED",
		"BUFFER_SWEEP_INTERVAL_MS",
		"WORKER_PRUNE_INTERVAL_MS",
		"WORKER_STALE_AFTER_MS",
		"BUFFER_SWEEP_SCHEDULE",
		"WORKER_PRUNE_SCHEDULE",
	}
	origVals := make(map[string]string)
	hadOrig := make(map[string]bool)

	for _, key := range envVars {
		val, exists := os.LookupEnv(key)
		origVals[key] = val
		hadOrig[key] = exists
	}

	defer func() {
		for _, key := range envVars {
			if hadOrig[key] {
				os.Setenv(key, origVals[key])
			} else {
				os.Unsetenv(key)
			}
		}
	}()

	t.Run("default values when no env vars set", func(t *testing.T) {
		for _, key := range envVars {
			os.Unsetenv(key)
		}

		cfg := NewConfig()

		assert.True(t, cfg.Enabled, "Enabled should default to true")
		assert.Equal(t, time.Hour, cfg.BufferSweepInterval)
		assert.Equal(t, 5*time.Minute, cfg.WorkerPruneInterval)
		assert.Equal(t, 10*time.Minute, cfg.WorkerStaleAfter)
		assert.Empty(t, cfg.BufferSweepSchedule)
	})

	t.Run("custom values from env vars", func(t *testing.T) {
		os.Setenv("SCHEDULER_ENABLED", "false")
		os.Setenv("BUFFER_SWEEP_INTERVAL_MS", "1800000")
		os.Setenv("WORKER_PRUNE_INTERVAL_MS", "60000")
		os.Setenv("WORKER_STALE_AFTER_MS", "300000")
		os.Setenv("BUFFER_SWEEP_SCHEDULE", "0 0 * * * *")

		cfg := NewConfig()

		assert.False(t, cfg.Enabled)
		assert.Equal(t, 30*time.Minute, cfg.BufferSweepInterval)
		assert.Equal(t, time.Minute, cfg.WorkerPruneInterval)
		assert.Equal(t, 5*time.Minute, cfg.WorkerStaleAfter)
		assert.Equal(t, "0 0 * * * *", cfg.BufferSweepSchedule)
	})
}
