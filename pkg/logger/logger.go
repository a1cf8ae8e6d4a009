// Package logger provides the process-wide slog logger and common attrs.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds a *slog.Logger configured from the environment.
// LOG_LEVEL selects the minimum level (debug/info/warn/error, default info).
// GO_ENV=production switches to the JSON handler for log shippers.
func NewLogger() *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if os.Getenv("GO_ENV") == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Scope tags a log record with the subsystem it came from.
func Scope(scope string) slog.Attr {
	return slog.String("scope", scope)
}

// Error wraps an error as a structured attr.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}
