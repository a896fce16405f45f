package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rockbite/localforge/internal/observability"
	"github.com/rockbite/localforge/internal/tracing"
	"github.com/rockbite/localforge/pkg/llm"
	"github.com/rockbite/localforge/pkg/session"
	"github.com/rockbite/localforge/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// loop is the state of one Run.
type loop struct {
	r          *Runner
	p          RunParams
	messages   []llm.Message
	state      State
	iterations int
	logger     zerolog.Logger
}

// Run drives the model until it answers without tool calls and returns
// that final assistant message. Tool calls run sequentially; each result is
// appended before the next call. If ctx ends or the session's interruption
// flag is set, Run stops at the next check and returns ErrAborted.
func (r *Runner) Run(ctx context.Context, p RunParams) (llm.Message, error) {
	if p.SessionID == "" {
		return llm.Message{}, fmt.Errorf("session id is required")
	}
	if p.Driver == "" || p.Model == "" {
		return llm.Message{}, fmt.Errorf("driver and model are required")
	}

	if tracing.GetRunID(ctx) == "" {
		ctx = tracing.NewRunContext(ctx, p.SessionID)
	} else {
		ctx = tracing.WithSessionID(ctx, p.SessionID)
	}
	if p.AgentID != "" {
		ctx = tracing.WithAgentID(ctx, p.AgentID)
	}
	ctx, span := tracing.StartSpan(ctx, "localforge.agent", "agent.run",
		attribute.String("session_id", p.SessionID),
		attribute.String("model", p.Model),
		attribute.Bool("sub_agent", p.SubAgent),
	)
	defer span.End()

	l := &loop{
		r:        r,
		p:        p,
		messages: append([]llm.Message(nil), p.Messages...),
		state:    StateThinking,
		logger:   tracing.LoggerFromContext(ctx, r.logger),
	}

	start := time.Now()
	final, err := l.execute(ctx)
	l.persist(ctx, "flush", func(ctx context.Context) error {
		return l.r.sessions.SaveSession(ctx, p.SessionID)
	})
	outcome := "success"
	switch {
	case errors.Is(err, ErrAborted):
		outcome = "aborted"
		l.state = StateAborted
	case err != nil:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	observability.RecordAgentRun(outcome, time.Since(start), l.iterations)
	span.SetAttributes(attribute.Int("iterations", l.iterations))

	l.logger.Debug().
		Str("outcome", outcome).
		Int("iterations", l.iterations).
		Dur("duration", time.Since(start)).
		Msg("Agent run finished")

	return final, err
}

// cancelled is the abort predicate: ctx done, or the sticky flag of the
// session or its parent set.
func (l *loop) cancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	if l.r.sessions.IsInterruptionRequested(l.p.SessionID) {
		return true
	}
	return l.p.ParentSessionID != "" && l.r.sessions.IsInterruptionRequested(l.p.ParentSessionID)
}

func (l *loop) emit(ctx context.Context, e Event) bool {
	_, ok := l.deliver(ctx, e)
	return ok
}

// deliver sends e unless the run is already cancelled. ok reports whether
// the run may continue afterwards.
func (l *loop) deliver(ctx context.Context, e Event) (delivered, ok bool) {
	if l.cancelled(ctx) {
		return false, false
	}
	if l.p.Sink != nil {
		e.SessionID = l.p.SessionID
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now()
		}
		l.p.Sink.Emit(e)
		delivered = true
	}
	return delivered, !l.cancelled(ctx)
}

// persist runs a session write unless this is a nested run. Writes use a
// context that survives cancellation so an aborted turn still leaves a
// consistent history. Messages, usage and tool logs are deferred; the next
// state change or the final flush writes them in one save.
func (l *loop) persist(ctx context.Context, what string, fn func(ctx context.Context) error) {
	if l.p.SubAgent {
		return
	}
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		l.logger.Error().Err(err).Str("write", what).Msg("Failed to persist run state")
	}
}

func (l *loop) setState(ctx context.Context, state State, agentState session.AgentState) bool {
	l.state = state
	l.persist(ctx, "state", func(ctx context.Context) error {
		return l.r.sessions.SetAgentState(ctx, l.p.SessionID, agentState)
	})
	return l.emit(ctx, Event{Type: EventState, State: &agentState, Text: agentState.StatusText})
}

func (l *loop) execute(ctx context.Context) (llm.Message, error) {
	schemas := toolSchemas(l.p.Tools, l.p.ToolPolicy)

	for {
		if l.cancelled(ctx) {
			return llm.Message{}, ErrAborted
		}
		if l.iterations >= l.r.maxIterations {
			return llm.Message{}, fmt.Errorf("%w (%d)", ErrMaxIterations, l.r.maxIterations)
		}
		l.iterations++

		if !l.setState(ctx, StateThinking, session.AgentState{Status: session.StatusThinking, StatusText: "Thinking"}) {
			return llm.Message{}, ErrAborted
		}

		resp, err := l.r.gateway.Chat(ctx, l.p.Driver, llm.Request{
			Model:           l.p.Model,
			Messages:        l.messages,
			Tools:           schemas,
			Temperature:     l.p.Temperature,
			MaxOutputTokens: l.p.MaxOutputTokens,
		}, l.p.Credentials)
		if l.cancelled(ctx) || llm.IsCancelled(err) {
			return llm.Message{}, ErrAborted
		}
		if err != nil {
			return llm.Message{}, err
		}

		l.persist(ctx, "usage", func(ctx context.Context) error {
			return l.r.sessions.AddUsage(ctx, l.p.SessionID, l.p.Model,
				int64(resp.Usage.InputTokens), int64(resp.Usage.OutputTokens), session.WithDeferSave())
		})

		assistant := resp.Message()
		l.messages = append(l.messages, assistant)
		l.persist(ctx, "assistant message", func(ctx context.Context) error {
			return l.r.sessions.AppendAssistantMessage(ctx, l.p.SessionID, toSession(assistant), session.WithDeferSave())
		})

		if len(resp.ToolCalls) == 0 {
			l.state = StateDone
			return assistant, nil
		}

		if assistant.Content != "" {
			if !l.emit(ctx, Event{Type: EventChunk, Text: assistant.Content}) {
				return llm.Message{}, l.abortCalls(ctx, resp.ToolCalls)
			}
		}

		for i, call := range resp.ToolCalls {
			if l.cancelled(ctx) {
				return llm.Message{}, l.abortCalls(ctx, resp.ToolCalls[i:])
			}
			l.runTool(ctx, call)
			if l.cancelled(ctx) {
				return llm.Message{}, l.abortCalls(ctx, resp.ToolCalls[i+1:])
			}
		}
	}
}

// abortCalls answers calls that never ran so every tool call of the
// persisted assistant turn has a result.
func (l *loop) abortCalls(ctx context.Context, calls []llm.ToolCall) error {
	for _, call := range calls {
		l.appendResult(ctx, call, interruptedResult())
		l.persist(ctx, "tool log", func(ctx context.Context) error {
			return l.r.sessions.AppendToolLog(ctx, l.p.SessionID, session.ToolLog{
				ToolCallID: call.ID,
				Name:       call.Name,
				Arguments:  call.Arguments,
				Status:     "interrupted",
			}, session.WithDeferSave())
		})
	}
	return ErrAborted
}

func (l *loop) appendResult(ctx context.Context, call llm.ToolCall, content string) {
	msg := llm.ToolResult(call, content)
	l.messages = append(l.messages, msg)
	l.persist(ctx, "tool result", func(ctx context.Context) error {
		return l.r.sessions.AppendMessage(ctx, l.p.SessionID, toSession(msg), session.WithDeferSave())
	})
}

// runTool executes one call and appends its result. It never fails: errors
// become structured error results.
func (l *loop) runTool(ctx context.Context, call llm.ToolCall) {
	params, parseErr := parseArguments(call.Arguments)

	describe := "Running " + call.Name
	if l.p.Tools != nil && parseErr == nil {
		describe = l.p.Tools.Describe(call.Name, params)
	}

	started := l.setState(ctx, StateToolRunning, session.AgentState{
		Status:           session.StatusToolRunning,
		StatusText:       describe,
		ActiveToolCallID: call.ID,
	})
	announced := false
	if started {
		announced, started = l.deliver(ctx, Event{
			Type:       EventToolStart,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Arguments:  call.Arguments,
			Text:       describe,
		})
	}

	start := time.Now()
	var result toolexecutor.ToolResult
	switch {
	case !started:
		result = toolexecutor.ToolResult{Cancelled: true, Error: "tool execution cancelled"}
	case parseErr != nil:
		result = toolexecutor.ToolResult{Error: parseErr.Error()}
	case l.p.Tools == nil:
		result = toolexecutor.ToolResult{Error: fmt.Sprintf("tool not found: %s", call.Name)}
	default:
		result = l.p.Tools.Execute(ctx, call.Name, params, &toolexecutor.ExecutionContext{
			SessionID:  l.p.SessionID,
			WorkingDir: l.p.WorkingDir,
			Model:      l.p.Model,
			AgentID:    l.p.AgentID,
			ToolPolicy: l.p.ToolPolicy,
			Interrupted: func() bool {
				return l.cancelled(ctx)
			},
		})
	}
	duration := time.Since(start)

	var content, status string
	switch {
	case result.Success:
		content = outputText(result.Output)
		if result.Truncated {
			content += "\n[output truncated]"
		}
		status = "success"
	case result.Cancelled || l.cancelled(ctx):
		content = interruptedResult()
		status = "interrupted"
	default:
		content = errorResult(result.Error)
		status = "error"
	}

	l.appendResult(ctx, call, content)
	l.persist(ctx, "tool log", func(ctx context.Context) error {
		return l.r.sessions.AppendToolLog(ctx, l.p.SessionID, session.ToolLog{
			ToolCallID: call.ID,
			Name:       call.Name,
			Arguments:  call.Arguments,
			Status:     status,
			Error:      result.Error,
			DurationMs: duration.Milliseconds(),
			StartedAt:  start,
		}, session.WithDeferSave())
	})

	l.logger.Debug().
		Str("tool", call.Name).
		Str("toolCallId", call.ID).
		Str("status", status).
		Dur("duration", duration).
		Msg("Tool call finished")

	// tool_complete pairs every tool_start, even after an abort
	if announced {
		l.p.Sink.Emit(Event{
			Type:       EventToolComplete,
			SessionID:  l.p.SessionID,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Success:    result.Success,
			Output:     preview(content, 500),
			Error:      result.Error,
			Timestamp:  time.Now(),
		})
	}
}
