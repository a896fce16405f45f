package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rockbite/localforge/internal/tracing"
	"github.com/rockbite/localforge/pkg/commandqueue"
	"github.com/rockbite/localforge/pkg/llm"
	"github.com/rockbite/localforge/pkg/persona"
	"github.com/rockbite/localforge/pkg/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// HandleMessage runs one user message as a turn of its session. Turns of a
// session are serialized through its command queue lane. Aborts and
// provider failures are recorded in the session and reported in the
// result; only setup failures, such as an unknown session, return an error.
func (r *Runner) HandleMessage(ctx context.Context, p HandleParams) (*HandleResult, error) {
	if p.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(p.Text) == "" && len(p.Parts) == 0 {
		return nil, fmt.Errorf("message text is required")
	}

	ctx = tracing.NewRunContext(ctx, p.SessionID)
	ctx, span := tracing.StartSpan(ctx, "localforge.agent", "agent.handle_message",
		attribute.String("session_id", p.SessionID),
	)
	defer span.End()

	lane := commandqueue.SessionLane(p.SessionID)
	if r.queue.IsBusy(lane) {
		logger := tracing.LoggerFromContext(ctx, r.logger)
		logger.Debug().
			Int("queued", r.queue.GetQueueSize(lane)).
			Msg("Turn waits for the running turn")
	}

	value, err := r.queue.EnqueueOnce(ctx, lane, p.RequestID,
		func(taskCtx context.Context) (interface{}, error) {
			return r.handle(taskCtx, p)
		}, nil)
	if errors.Is(err, commandqueue.ErrLaneCleared) {
		// dropped by Interrupt before it started
		return &HandleResult{SessionID: p.SessionID, Interrupted: true}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return value.(*HandleResult), nil
}

func (r *Runner) handle(ctx context.Context, p HandleParams) (*HandleResult, error) {
	logger := tracing.LoggerFromContext(ctx, r.logger)

	sess, err := r.sessions.GetSession(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}

	agentID := p.AgentID
	if agentID == "" {
		agentID = sess.AgentID
	}
	pers := r.personas.Resolve(agentID)
	workingDir := p.WorkingDir
	if workingDir == "" {
		workingDir = sess.WorkingDirectory
	}

	params := RunParams{
		SessionID:       p.SessionID,
		AgentID:         pers.ID,
		Tools:           r.tools,
		ToolPolicy:      pers.Policy(),
		Model:           firstNonEmpty(p.Model, pers.Model, r.defaultModel),
		Driver:          firstNonEmpty(p.Driver, pers.Driver, r.defaultDriver),
		Temperature:     pers.Temperature,
		MaxOutputTokens: pers.MaxOutputTokens,
		WorkingDir:      workingDir,
		Sink:            p.Sink,
	}
	if p.Credentials != nil {
		params.Credentials = *p.Credentials
	} else {
		params.Credentials = r.credentials[params.Driver]
	}

	user := llm.Message{Role: llm.RoleUser, Content: p.Text, Parts: p.Parts}
	params.Messages = make([]llm.Message, 0, len(sess.History)+2)
	params.Messages = append(params.Messages, llm.SystemText(systemPrompt(pers, workingDir)))
	params.Messages = append(params.Messages, toLLM(sess.History)...)
	params.Messages = append(params.Messages, user)

	// a flag left from an earlier turn must not abort this one
	r.sessions.ClearInterruption(p.SessionID)
	// saved together with the thinking state below
	if err := r.sessions.AppendUserMessageOnly(ctx, p.SessionID, toSession(user), session.WithDeferSave()); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}
	if err := r.sessions.SetAgentState(ctx, p.SessionID, session.AgentState{
		Status:     session.StatusThinking,
		StatusText: "Thinking",
	}); err != nil {
		logger.Warn().Err(err).Msg("Failed to set agent state")
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	untrack := r.track(params, cancel)
	defer untrack()
	stopPoll := r.pollInterruption(runCtx, p.SessionID, cancel)

	if p.Sink != nil {
		h := r.modelHint(runCtx, p.Text, params.Driver, pers.HintModel, params.Credentials)
		p.Sink.Emit(Event{Type: EventTopic, SessionID: p.SessionID, Text: h.Topic, Timestamp: time.Now()})
		p.Sink.Emit(Event{Type: EventGerund, SessionID: p.SessionID, Text: h.Gerund, Timestamp: time.Now()})
	}

	final, err := r.Run(runCtx, params)
	stopPoll()

	result := &HandleResult{SessionID: p.SessionID}
	persistCtx := context.WithoutCancel(ctx)

	switch {
	case errors.Is(err, ErrAborted):
		if ferr := r.sessions.FinalizeInterruption(persistCtx, p.SessionID); ferr != nil {
			logger.Error().Err(ferr).Msg("Failed to finalize interruption")
		}
		logger.Info().Msg("Turn interrupted")
		r.emit(p.Sink, Event{Type: EventInterruptComplete, SessionID: p.SessionID})
		result.Interrupted = true

	case err != nil:
		text := "Error: " + err.Error()
		if aerr := r.sessions.AppendAssistantMessage(persistCtx, p.SessionID, session.Message{Content: text}); aerr != nil {
			logger.Error().Err(aerr).Msg("Failed to record error message")
		}
		if serr := r.sessions.SetAgentState(persistCtx, p.SessionID, session.AgentState{Status: session.StatusIdle}); serr != nil {
			logger.Error().Err(serr).Msg("Failed to reset agent state")
		}
		logger.Warn().Err(err).Msg("Turn failed")
		r.emit(p.Sink, Event{Type: EventError, SessionID: p.SessionID, Error: err.Error(), Text: text})
		result.Failed = true
		result.Error = err.Error()
		result.Response = text

	default:
		if serr := r.sessions.SetAgentState(persistCtx, p.SessionID, session.AgentState{Status: session.StatusIdle}); serr != nil {
			logger.Error().Err(serr).Msg("Failed to reset agent state")
		}
		result.Response = final.Text()
		r.emit(p.Sink, Event{Type: EventResponse, SessionID: p.SessionID, Text: result.Response})
	}

	return result, nil
}

func (r *Runner) emit(sink EventSink, e Event) {
	if sink == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	sink.Emit(e)
}

// pollInterruption cancels ctx once the session's sticky flag is set. The
// returned function stops polling.
func (r *Runner) pollInterruption(ctx context.Context, sessionID string, cancel context.CancelCauseFunc) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(r.interruptPoll)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if r.sessions.IsInterruptionRequested(sessionID) {
					cancel(ErrAborted)
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func systemPrompt(p persona.Persona, workingDir string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.SystemPrompt))
	if workingDir != "" {
		b.WriteString("\n\nWorking directory: ")
		b.WriteString(workingDir)
	}
	return b.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
