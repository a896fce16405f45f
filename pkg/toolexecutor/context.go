package toolexecutor

import (
	"context"
	"time"
)

// ExecutionContext is the per-call state a tool handler sees: which session
// is calling, the directory its paths resolve against and the turn's
// interruption flag.
type ExecutionContext struct {
	SessionID  string
	WorkingDir string
	Model      string
	AgentID    string
	Timeout    time.Duration
	ToolPolicy *ToolPolicy
	// Interrupted reports the session's sticky interruption flag.
	Interrupted func() bool
}

// IsInterrupted is safe on a nil context.
func (e *ExecutionContext) IsInterrupted() bool {
	return e != nil && e.Interrupted != nil && e.Interrupted()
}

// Child returns a copy for a nested call, e.g. a batch entry, keeping the
// session and interruption flag but not the per-call timeout.
func (e *ExecutionContext) Child() *ExecutionContext {
	if e == nil {
		return nil
	}
	child := *e
	child.Timeout = 0
	return &child
}

type execContextKey struct{}

// WithExecContext makes execCtx visible to handlers called with ctx.
func WithExecContext(ctx context.Context, execCtx *ExecutionContext) context.Context {
	if execCtx == nil {
		return ctx
	}
	return context.WithValue(ctx, execContextKey{}, execCtx)
}

// ExecContextFromContext returns the ExecutionContext of the running call,
// or nil outside one.
func ExecContextFromContext(ctx context.Context) *ExecutionContext {
	execCtx, _ := ctx.Value(execContextKey{}).(*ExecutionContext)
	return execCtx
}
