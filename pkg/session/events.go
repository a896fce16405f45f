package session

import "time"

// EventType names a session change notification.
type EventType string

const (
	EventTaskAdded          EventType = "task_added"
	EventTaskUpdated        EventType = "task_updated"
	EventTaskMoved          EventType = "task_moved"
	EventTaskRemoved        EventType = "task_removed"
	EventStateChanged       EventType = "state_changed"
	EventInterruptRequested EventType = "interrupt_requested"
)

// AnyEvent subscribes a handler to every event type.
const AnyEvent EventType = "*"

// TaskDiff describes one task change. Before is nil for additions and
// After is nil for removals.
type TaskDiff struct {
	Before *Task    `json:"before,omitempty"`
	After  *Task    `json:"after,omitempty"`
	Fields []string `json:"fields,omitempty"`
}

// Event is emitted after a session mutation has been applied.
type Event struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"sessionId"`
	Task      *TaskDiff   `json:"task,omitempty"`
	State     *AgentState `json:"state,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventHandler receives session events synchronously.
type EventHandler func(Event)

// On registers a handler for an event type, or for all events with AnyEvent.
func (m *Manager) On(eventType EventType, handler EventHandler) {
	m.eventMu.Lock()
	defer m.eventMu.Unlock()

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Off removes all handlers for the event type.
func (m *Manager) Off(eventType EventType) {
	m.eventMu.Lock()
	defer m.eventMu.Unlock()

	delete(m.handlers, eventType)
}

func (m *Manager) emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = m.now()
	}

	m.eventMu.RLock()
	handlers := append([]EventHandler(nil), m.handlers[event.Type]...)
	handlers = append(handlers, m.handlers[AnyEvent]...)
	m.eventMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
