package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for the agent loop run ID
	RunIDKey ContextKey = "run_id"
	// AgentIDKey is the context key for the persona driving a run
	AgentIDKey ContextKey = "agent_id"
	// SessionIDKey is the context key for the conversation session
	SessionIDKey ContextKey = "session_id"
	// ParentSessionIDKey marks a nested sub-agent run
	ParentSessionIDKey ContextKey = "parent_session_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID         string
	RunID           string
	AgentID         string
	SessionID       string
	ParentSessionID string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithAgentID adds an agent ID to the context
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, AgentIDKey, agentID)
}

// WithSessionID adds a session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithParentSessionID records the session that dispatched a nested run
func WithParentSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ParentSessionIDKey, sessionID)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string {
	return stringValue(ctx, RunIDKey)
}

// GetAgentID retrieves the agent ID from the context
func GetAgentID(ctx context.Context) string {
	return stringValue(ctx, AgentIDKey)
}

// GetSessionID retrieves the session ID from the context
func GetSessionID(ctx context.Context) string {
	return stringValue(ctx, SessionIDKey)
}

// GetParentSessionID retrieves the dispatching session ID from the context
func GetParentSessionID(ctx context.Context) string {
	return stringValue(ctx, ParentSessionIDKey)
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:         GetTraceID(ctx),
		RunID:           GetRunID(ctx),
		AgentID:         GetAgentID(ctx),
		SessionID:       GetSessionID(ctx),
		ParentSessionID: GetParentSessionID(ctx),
	}
}

// NewRunContext starts a new agent loop run for a session. A trace ID is
// created when the caller did not bring one.
func NewRunContext(ctx context.Context, sessionID string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	ctx = WithRunID(ctx, NewRunID())
	return WithSessionID(ctx, sessionID)
}
