package session

import (
	"time"
)

// Message roles as persisted.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// InterruptedMessage is the assistant message recorded when a user
// interrupts a turn.
const InterruptedMessage = "[Request interrupted by user]"

// ContentPart is a text or image element of a message.
type ContentPart struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ImageURL  string `json:"imageUrl,omitempty"`
	Data      string `json:"data,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
}

// ToolCall is a persisted tool invocation descriptor.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one persisted conversation entry. Messages are never edited
// after being appended, except for ImageDescription on the latest user
// message.
type Message struct {
	Role             string        `json:"role"`
	Content          string        `json:"content,omitempty"`
	Parts            []ContentPart `json:"parts,omitempty"`
	ToolCalls        []ToolCall    `json:"toolCalls,omitempty"`
	ToolCallID       string        `json:"toolCallId,omitempty"`
	Name             string        `json:"name,omitempty"`
	ImageDescription string        `json:"imageDescription,omitempty"`
	Timestamp        time.Time     `json:"timestamp"`
}

// IsToolResult reports whether m answers a tool call.
func (m Message) IsToolResult() bool {
	return m.Role == RoleTool || m.ToolCallID != ""
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in-progress"
	TaskCompleted  TaskStatus = "completed"
	TaskError      TaskStatus = "error"
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskError:
		return true
	}
	return false
}

// Task is a node of the session task tree.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	ParentID    string     `json:"parentId,omitempty"`
	Children    []*Task    `json:"children"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// ModelUsage accumulates token counts and cost for one model.
type ModelUsage struct {
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	Calls        int64   `json:"calls"`
	Cost         float64 `json:"cost"`
}

// Accounting is the per-model usage ledger of a session.
type Accounting struct {
	Models    map[string]*ModelUsage `json:"models"`
	TotalCost float64                `json:"totalCost"`
}

// ToolLog records one tool execution.
type ToolLog struct {
	ToolCallID string    `json:"toolCallId"`
	Name       string    `json:"name"`
	Arguments  string    `json:"arguments,omitempty"`
	Status     string    `json:"status"` // success, error, interrupted
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"durationMs"`
	StartedAt  time.Time `json:"startedAt"`
}

// AgentStatus is the operational status of a session's agent.
type AgentStatus string

const (
	StatusIdle        AgentStatus = "idle"
	StatusThinking    AgentStatus = "thinking"
	StatusToolRunning AgentStatus = "tool_running"
)

// AgentState is the operational state shown to clients.
type AgentState struct {
	Status           AgentStatus `json:"status"`
	StatusText       string      `json:"statusText,omitempty"`
	StartTime        *time.Time  `json:"startTime,omitempty"`
	ActiveToolCallID string      `json:"activeToolCallId,omitempty"`
}

// Session is the canonical state of one conversation.
type Session struct {
	ID               string     `json:"id"`
	WorkingDirectory string     `json:"workingDirectory,omitempty"`
	AgentID          string     `json:"agentId,omitempty"`
	History          []Message  `json:"history"`
	Accounting       Accounting `json:"accounting"`
	Tasks            []*Task    `json:"tasks"`
	ToolLogs         []ToolLog  `json:"toolLogs"`
	AgentState       AgentState `json:"agentState"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func newSession(id string, opts CreateOptions, now time.Time) *Session {
	s := &Session{
		ID:               id,
		WorkingDirectory: opts.WorkingDirectory,
		AgentID:          opts.AgentID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.fillDefaults()
	return s
}

func (s *Session) fillDefaults() {
	if s.History == nil {
		s.History = []Message{}
	}
	if s.Tasks == nil {
		s.Tasks = []*Task{}
	}
	if s.ToolLogs == nil {
		s.ToolLogs = []ToolLog{}
	}
	if s.Accounting.Models == nil {
		s.Accounting.Models = map[string]*ModelUsage{}
	}
	if s.AgentState.Status == "" {
		s.AgentState.Status = StatusIdle
	}
}

// Clone returns a deep copy of s. Messages share their inner slices since
// they are never modified in place.
func (s *Session) Clone() *Session {
	out := *s
	out.History = append([]Message(nil), s.History...)
	out.ToolLogs = append([]ToolLog(nil), s.ToolLogs...)
	out.Tasks = cloneTasks(s.Tasks)
	out.Accounting.Models = make(map[string]*ModelUsage, len(s.Accounting.Models))
	for model, usage := range s.Accounting.Models {
		u := *usage
		out.Accounting.Models[model] = &u
	}
	if s.AgentState.StartTime != nil {
		t := *s.AgentState.StartTime
		out.AgentState.StartTime = &t
	}
	out.fillDefaults()
	return &out
}

func cloneTasks(tasks []*Task) []*Task {
	out := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		c := *t
		c.Children = cloneTasks(t.Children)
		out = append(out, &c)
	}
	return out
}

// LastMessage returns the most recent history entry.
func (s *Session) LastMessage() (Message, bool) {
	if len(s.History) == 0 {
		return Message{}, false
	}
	return s.History[len(s.History)-1], true
}
