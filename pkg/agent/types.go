package agent

import (
	"errors"
	"fmt"
	"time"

	"github.com/rockbite/localforge/pkg/llm"
	"github.com/rockbite/localforge/pkg/session"
	"github.com/rockbite/localforge/pkg/toolexecutor"
)

// State is the phase of one run.
type State string

const (
	StateThinking    State = "thinking"
	StateToolRunning State = "tool_running"
	StateDone        State = "done"
	StateAborted     State = "aborted"
)

var (
	// ErrAborted is returned when a run is cancelled or interrupted. It
	// wraps llm.ErrCancelled.
	ErrAborted = fmt.Errorf("agent: run aborted: %w", llm.ErrCancelled)
	// ErrMaxIterations is returned when the model keeps calling tools past
	// the iteration limit.
	ErrMaxIterations = errors.New("agent: iteration limit reached")
)

// EventType names a progress event.
type EventType string

const (
	EventTopic             EventType = "topic"
	EventGerund            EventType = "gerund"
	EventToolStart         EventType = "tool_start"
	EventToolComplete      EventType = "tool_complete"
	EventChunk             EventType = "chunk"
	EventResponse          EventType = "response"
	EventInterruptComplete EventType = "interrupt_complete"
	EventError             EventType = "error"
	EventState             EventType = "state"
)

// Event is one progress notification of a run.
type Event struct {
	Type       EventType           `json:"type"`
	SessionID  string              `json:"sessionId"`
	Text       string              `json:"text,omitempty"`
	ToolCallID string              `json:"toolCallId,omitempty"`
	ToolName   string              `json:"toolName,omitempty"`
	Arguments  string              `json:"arguments,omitempty"`
	Success    bool                `json:"success,omitempty"`
	Output     string              `json:"output,omitempty"`
	Error      string              `json:"error,omitempty"`
	State      *session.AgentState `json:"state,omitempty"`
	Timestamp  time.Time           `json:"timestamp"`
}

// EventSink receives events synchronously, in the order they happen.
type EventSink interface {
	Emit(Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// MultiSink fans events out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// RunParams describes one loop run over an already built message list.
type RunParams struct {
	SessionID string
	// ParentSessionID is set for nested runs; its interruption flag aborts
	// this run too.
	ParentSessionID string
	AgentID         string
	Messages        []llm.Message
	Tools           *toolexecutor.ToolExecutor
	ToolPolicy      *toolexecutor.ToolPolicy
	Model           string
	Driver          string
	Credentials     llm.Credentials
	Temperature     *float64
	MaxOutputTokens int
	WorkingDir      string
	Sink            EventSink
	// SubAgent runs skip history, tool log, usage and state writes and
	// only return the final text.
	SubAgent bool
}

// HandleParams is one external user message.
type HandleParams struct {
	SessionID string
	// RequestID deduplicates retried submissions of the same message.
	RequestID string
	Text      string
	Parts     []llm.ContentPart
	// AgentID, Model and Driver override the session's persona.
	AgentID     string
	Model       string
	Driver      string
	Credentials *llm.Credentials
	WorkingDir  string
	Sink        EventSink
}

// HandleResult reports how a handled message ended.
type HandleResult struct {
	SessionID   string `json:"sessionId"`
	Response    string `json:"response,omitempty"`
	Interrupted bool   `json:"interrupted,omitempty"`
	Failed      bool   `json:"failed,omitempty"`
	Error       string `json:"error,omitempty"`
}
