package session

import (
	"context"

	"github.com/rockbite/localforge/internal/observability"
)

// SetAgentState replaces the operational state. Entering idle clears the
// status fields and any pending interruption.
func (m *Manager) SetAgentState(ctx context.Context, id string, state AgentState, opts ...MutationOption) error {
	return m.mutate(ctx, id, opts, func(e *entry) ([]Event, error) {
		return []Event{m.applyState(e, state)}, nil
	})
}

// applyState runs under e.mu.
func (m *Manager) applyState(e *entry, state AgentState) Event {
	if state.Status == "" {
		state.Status = StatusIdle
	}
	if state.Status == StatusIdle {
		state = AgentState{Status: StatusIdle}
		e.interrupted = false
	} else if state.StartTime == nil {
		if prev := e.session.AgentState; prev.Status != StatusIdle && prev.StartTime != nil {
			state.StartTime = prev.StartTime
		} else {
			now := m.now()
			state.StartTime = &now
		}
	}
	e.session.AgentState = state
	snapshot := state
	return Event{Type: EventStateChanged, State: &snapshot}
}

// RequestInterruption sets the sticky interruption flag. It returns false
// when the session is not cached or its agent is idle. Repeated requests
// have the effect of one.
func (m *Manager) RequestInterruption(id string) bool {
	m.mu.Lock()
	e := m.entries[id]
	m.mu.Unlock()
	if e == nil {
		return false
	}

	e.mu.Lock()
	if e.session.AgentState.Status == StatusIdle {
		e.mu.Unlock()
		return false
	}
	already := e.interrupted
	e.interrupted = true
	e.mu.Unlock()

	if !already {
		observability.RecordInterruption()
		m.logger.Info().Str("sessionId", id).Msg("Interruption requested")
		m.emit(Event{Type: EventInterruptRequested, SessionID: id})
	}
	return true
}

// IsInterruptionRequested reports the sticky interruption flag.
func (m *Manager) IsInterruptionRequested(id string) bool {
	m.mu.Lock()
	e := m.entries[id]
	m.mu.Unlock()
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interrupted
}

// ClearInterruption resets the flag without touching state.
func (m *Manager) ClearInterruption(id string) {
	m.mu.Lock()
	e := m.entries[id]
	m.mu.Unlock()
	if e == nil {
		return
	}
	e.mu.Lock()
	e.interrupted = false
	e.mu.Unlock()
}

// FinalizeInterruption records the interruption marker once and returns
// the agent to idle. Calling it again is a no-op beyond the state reset.
func (m *Manager) FinalizeInterruption(ctx context.Context, id string) error {
	return m.mutate(ctx, id, nil, func(e *entry) ([]Event, error) {
		last, ok := e.session.LastMessage()
		if !ok || last.Role != RoleAssistant || last.Content != InterruptedMessage {
			e.session.History = append(e.session.History, Message{
				Role:      RoleAssistant,
				Content:   InterruptedMessage,
				Timestamp: m.now(),
			})
		}
		return []Event{m.applyState(e, AgentState{Status: StatusIdle})}, nil
	})
}
