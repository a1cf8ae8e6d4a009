package scheduler

import (
	"os"
	"strconv"
	"time"
)

// Config holds scheduler configuration.
type Config struct {
	// Enabled controls whether the scheduler runs
	Enabled bool

	// BufferSweepInterval is the interval for sweeping vector-buffer rows
	// left behind by dead-lettered ingestions
	BufferSweepInterval time.Duration

	// WorkerPruneInterval is the interval for pruning stale worker
	// registrations
	WorkerPruneInterval time.Duration

	// WorkerStaleAfter is how long a registration may go without a
	// heartbeat before it is pruned
	WorkerStaleAfter time.Duration

	// Cron schedule overrides (take precedence over intervals when set)
	// Format with seconds: "second minute hour day-of-month month day-of-week"
	BufferSweepSchedule string
	WorkerPruneSchedule string
}

// NewConfig creates a new Config from environment variables.
func NewConfig() *Config {
	return &Config{
		Enabled:             getEnvBool("SCHEDULER_ENABLED", true),
		BufferSweepInterval: getEnvDuration("BUFFER_SWEEP_INTERVAL_MS", time.Hour),
		WorkerPruneInterval: getEnvDuration("WORKER_PRUNE_INTERVAL_MS", 5*time.Minute),
		WorkerStaleAfter:    getEnvDuration("WORKER_STALE_AFTER_MS", 10*time.Minute),
		BufferSweepSchedule: getEnvString("BUFFER_SWEEP_SCHEDULE", ""),
		WorkerPruneSchedule: getEnvString("WORKER_PRUNE_SCHEDULE", ""),
	}
}

// getEnvBool returns a boolean from an environment variable.
func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration returns a duration from an environment variable (in milliseconds).
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}

// getEnvString returns a string from an environment variable.
func getEnvString(key string, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
