package session

import (
	"context"
	"fmt"
)

func (m *Manager) appendMessage(ctx context.Context, id string, msg Message, opts []MutationOption) error {
	return m.mutate(ctx, id, opts, func(e *entry) ([]Event, error) {
		if msg.Timestamp.IsZero() {
			msg.Timestamp = m.now()
		}
		e.session.History = append(e.session.History, msg)
		return nil, nil
	})
}

// AppendUserMessageOnly records a user message without starting a turn.
func (m *Manager) AppendUserMessageOnly(ctx context.Context, id string, msg Message, opts ...MutationOption) error {
	msg.Role = RoleUser
	return m.appendMessage(ctx, id, msg, opts)
}

// AppendAssistantMessage records a model reply, with any tool calls it made.
func (m *Manager) AppendAssistantMessage(ctx context.Context, id string, msg Message, opts ...MutationOption) error {
	msg.Role = RoleAssistant
	return m.appendMessage(ctx, id, msg, opts)
}

// AppendMessage records a message as given, typically a tool result.
func (m *Manager) AppendMessage(ctx context.Context, id string, msg Message, opts ...MutationOption) error {
	if msg.Role == "" {
		return fmt.Errorf("message role is required")
	}
	return m.appendMessage(ctx, id, msg, opts)
}

// UpdateLastUserMessage attaches a late image description to the most
// recent user message.
func (m *Manager) UpdateLastUserMessage(ctx context.Context, id, imageDescription string, opts ...MutationOption) error {
	return m.mutate(ctx, id, opts, func(e *entry) ([]Event, error) {
		h := e.session.History
		for i := len(h) - 1; i >= 0; i-- {
			if h[i].Role == RoleUser && !h[i].IsToolResult() {
				h[i].ImageDescription = imageDescription
				return nil, nil
			}
		}
		return nil, ErrNoUserMessage
	})
}

// AppendToolLog records one tool execution.
func (m *Manager) AppendToolLog(ctx context.Context, id string, l ToolLog, opts ...MutationOption) error {
	return m.mutate(ctx, id, opts, func(e *entry) ([]Event, error) {
		if l.StartedAt.IsZero() {
			l.StartedAt = m.now()
		}
		e.session.ToolLogs = append(e.session.ToolLogs, l)
		return nil, nil
	})
}
