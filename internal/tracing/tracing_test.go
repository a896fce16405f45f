package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunContext(t *testing.T) {
	t.Run("should create trace and run ids", func(t *testing.T) {
		ctx := NewRunContext(context.Background(), "sess-1")

		assert.NotEmpty(t, GetTraceID(ctx))
		assert.NotEmpty(t, GetRunID(ctx))
		assert.Equal(t, "sess-1", GetSessionID(ctx))
	})

	t.Run("should keep an existing trace id", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "trace-abc")
		ctx = NewRunContext(ctx, "sess-1")

		assert.Equal(t, "trace-abc", GetTraceID(ctx))
	})
}

func TestPropagateToSubAgent(t *testing.T) {
	parent := WithTraceID(context.Background(), "trace-123")
	parent = WithRunID(parent, "run-parent")
	parent = WithSessionID(parent, "sess-parent")

	child := PropagateToSubAgent(parent, "sub-1")

	assert.Equal(t, "trace-123", GetTraceID(child))
	assert.NotEqual(t, "run-parent", GetRunID(child))
	assert.Equal(t, "sub-1", GetSessionID(child))
	assert.Equal(t, "sess-parent", GetParentSessionID(child))
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithSessionID(ctx, "sess-1")

	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"trace_id":"trace-1"`)
	assert.Contains(t, out, `"session_id":"sess-1"`)
	assert.NotContains(t, out, "run_id")
}

func TestStartSpan(t *testing.T) {
	require.NoError(t, InitOpenTelemetry("localforge-test"))

	ctx, span := StartSpan(context.Background(), "localforge.test", "test.span")
	defer span.End()

	assert.NotEmpty(t, GetTraceID(ctx))
}
