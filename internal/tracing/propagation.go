package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToSubAgent derives the context of a nested run. The trace ID is
// kept, the run gets a fresh ID and the parent session is remembered.
func PropagateToSubAgent(ctx context.Context, subSessionID string) context.Context {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = NewTraceID()
	}

	parent := GetSessionID(ctx)

	newCtx := WithTraceID(ctx, traceID)
	newCtx = WithRunID(newCtx, NewRunID())
	newCtx = WithSessionID(newCtx, subSessionID)
	if parent != "" {
		newCtx = WithParentSessionID(newCtx, parent)
	}

	return newCtx
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	logCtx := baseLogger.With()

	if tc.TraceID != "" {
		logCtx = logCtx.Str("trace_id", tc.TraceID)
	}
	if tc.RunID != "" {
		logCtx = logCtx.Str("run_id", tc.RunID)
	}
	if tc.AgentID != "" {
		logCtx = logCtx.Str("agent_id", tc.AgentID)
	}
	if tc.SessionID != "" {
		logCtx = logCtx.Str("session_id", tc.SessionID)
	}
	if tc.ParentSessionID != "" {
		logCtx = logCtx.Str("parent_session_id", tc.ParentSessionID)
	}

	return logCtx.Logger()
}
