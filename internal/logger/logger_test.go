package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger(t *testing.T, cfg Config) *Logger {
	t.Helper()
	prev := log.Logger
	l, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = l.Close()
		log.Logger = prev
	})
	return l
}

func TestNew(t *testing.T) {
	t.Run("should write json to the console writer", func(t *testing.T) {
		var buf bytes.Buffer
		l := setupTestLogger(t, Config{Level: "info", Console: true, ConsoleOut: &buf})

		l.Info().Str("sessionId", "s1").Msg("hello")
		l.Debug().Msg("hidden")

		assert.Contains(t, buf.String(), `"sessionId":"s1"`)
		assert.Contains(t, buf.String(), `"message":"hello"`)
		assert.NotContains(t, buf.String(), "hidden")
	})

	t.Run("should install the global logger", func(t *testing.T) {
		var buf bytes.Buffer
		setupTestLogger(t, Config{Level: "debug", Console: true, ConsoleOut: &buf})

		log.Debug().Msg("from global")

		assert.Contains(t, buf.String(), "from global")
	})

	t.Run("should write to a file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "test.log")
		l := setupTestLogger(t, Config{Level: "debug", File: logFile})

		l.Info().Msg("test message")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "test message")
	})

	t.Run("should use a rotating writer when max size is set", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "test.log")
		l := setupTestLogger(t, Config{File: logFile, MaxSize: 1})

		_, ok := l.closer.(*RotatingWriter)
		assert.True(t, ok)
	})

	t.Run("should redact keys", func(t *testing.T) {
		var buf bytes.Buffer
		l := setupTestLogger(t, Config{Console: true, ConsoleOut: &buf, Redaction: true})

		l.Info().Str("auth", "Bearer abc.def.ghi").Msg("sk-ant-REDACTED")

		assert.NotContains(t, buf.String(), "abcdefghijklmnop")
		assert.NotContains(t, buf.String(), "abc.def.ghi")
		assert.Contains(t, buf.String(), redacted)
	})

	t.Run("should fall back to info on a bad level", func(t *testing.T) {
		l := setupTestLogger(t, Config{Level: "loud"})
		assert.Equal(t, zerolog.InfoLevel, l.Zerolog().GetLevel())
	})
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	l := setupTestLogger(t, Config{Console: true, ConsoleOut: &buf})

	c := l.Component("agent")
	c.Info().Msg("tagged")

	assert.Contains(t, buf.String(), `"component":"agent"`)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.False(t, cfg.Console)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 100, cfg.MaxSize)
	assert.Equal(t, 7, cfg.MaxAge)
	assert.True(t, cfg.Compress)
}
