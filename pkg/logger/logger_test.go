package logger

import (
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreEnv(t *testing.T, keys ...string) {
	t.Helper()
	orig := make(map[string]string)
	had := make(map[string]bool)
	for _, key := range keys {
		orig[key], had[key] = os.LookupEnv(key)
	}
	t.Cleanup(func() {
		for _, key := range keys {
			if had[key] {
				os.Setenv(key, orig[key])
			} else {
				os.Unsetenv(key)
			}
		}
	})
}

func TestScope(t *testing.T) {
	tests := []struct {
		name  string
		scope string
		want  string
	}{
		{"basic scope", "auth", "auth"},
		{"nested scope", "api.v1.users", "api.v1.users"},
		{"empty scope", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attr := Scope(tt.scope)
			assert.Equal(t, "scope", attr.Key)
			assert.Equal(t, tt.want, attr.Value.String())
		})
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"simple error", errors.New("something went wrong")},
		{"nil error", nil},
		{"wrapped error", errors.Join(errors.New("outer"), errors.New("inner"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attr := Error(tt.err)
			assert.Equal(t, "error", attr.Key)
			assert.Equal(t, tt.err, attr.Value.Any())
		})
	}
}

func TestNewLogger_DefaultLevel(t *testing.T) {
	restoreEnv(t, "LOG_LEVEL", "GO_ENV")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("GO_ENV")

	logger := NewLogger()
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(nil, slog.LevelInfo), "info should be enabled by default")
}

func TestNewLogger_DebugLevel(t *testing.T) {
	restoreEnv(t, "LOG_LEVEL", "GO_ENV")
	os.Setenv("LOG_LEVEL", "debug")
	os.Unsetenv("GO_ENV")

	logger := NewLogger()
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(nil, slog.LevelDebug))
}

func TestNewLogger_WarnLevel(t *testing.T) {
	restoreEnv(t, "LOG_LEVEL")

	// Both spellings are accepted.
	for _, level := range []string{"warn", "warning"} {
		os.Setenv("LOG_LEVEL", level)

		logger := NewLogger()
		require.NotNil(t, logger)
		assert.True(t, logger.Enabled(nil, slog.LevelWarn), "LOG_LEVEL=%s", level)
		assert.False(t, logger.Enabled(nil, slog.LevelInfo), "LOG_LEVEL=%s", level)
	}
}

func TestNewLogger_ErrorLevel(t *testing.T) {
	restoreEnv(t, "LOG_LEVEL")
	os.Setenv("LOG_LEVEL", "error")

	logger := NewLogger()
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(nil, slog.LevelError))
	assert.False(t, logger.Enabled(nil, slog.LevelWarn))
}

func TestNewLogger_InfoLevel(t *testing.T) {
	restoreEnv(t, "LOG_LEVEL")
	os.Setenv("LOG_LEVEL", "info")

	logger := NewLogger()
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(nil, slog.LevelInfo))
	assert.False(t, logger.Enabled(nil, slog.LevelDebug))
}

func TestNewLogger_CaseInsensitive(t *testing.T) {
	restoreEnv(t, "LOG_LEVEL")

	for _, level := range []string{"DEBUG", "Debug", "dEbUg"} {
		os.Setenv("LOG_LEVEL", level)

		logger := NewLogger()
		assert.True(t, logger.Enabled(nil, slog.LevelDebug), "LOG_LEVEL=%s", level)
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	restoreEnv(t, "LOG_LEVEL")
	os.Setenv("LOG_LEVEL", "invalid")

	logger := NewLogger()
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(nil, slog.LevelInfo), "invalid LOG_LEVEL should default to info")
}

func TestNewLogger_ProductionJSON(t *testing.T) {
	restoreEnv(t, "LOG_LEVEL", "GO_ENV")
	os.Unsetenv("LOG_LEVEL")
	os.Setenv("GO_ENV", "production")

	logger := NewLogger()
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(nil, slog.LevelInfo))
}
