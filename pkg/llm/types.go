package llm

import "strings"

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType tags a ContentPart.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// ContentPart is one element of a multi-part message.
type ContentPart struct {
	Type PartType `json:"type"`
	Text string   `json:"text,omitempty"`
	// Image reference: either a URL (http or data:) or base64 Data with MediaType.
	ImageURL  string `json:"image_url,omitempty"`
	Data      string `json:"data,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

// ToolCall is a model request to run one tool. Arguments holds the raw JSON
// object text as produced by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one canonical chat message.
type Message struct {
	Role       Role          `json:"role"`
	Content    string        `json:"content,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	// Name is the tool name on tool-result messages.
	Name string `json:"name,omitempty"`
}

// Text returns the plain text of the message, joining text parts.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var b strings.Builder
	b.WriteString(m.Content)
	for _, p := range m.Parts {
		if p.Type != PartText || p.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

// SystemText builds a system message.
func SystemText(text string) Message { return Message{Role: RoleSystem, Content: text} }

// UserText builds a plain user message.
func UserText(text string) Message { return Message{Role: RoleUser, Content: text} }

// AssistantText builds a plain assistant message.
func AssistantText(text string) Message { return Message{Role: RoleAssistant, Content: text} }

// ToolResult builds the result message answering call.
func ToolResult(call ToolCall, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: call.ID, Name: call.Name}
}

// ToolSchema describes a tool offered to the model. Parameters is a JSON
// schema object.
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Request is the canonical chat request. Cancellation travels in the context
// passed alongside it.
type Request struct {
	Model           string       `json:"model"`
	Messages        []Message    `json:"messages"`
	Tools           []ToolSchema `json:"tools,omitempty"`
	Temperature     *float64     `json:"temperature,omitempty"`
	MaxOutputTokens int          `json:"max_output_tokens,omitempty"`
}

// Clone copies the request deep enough for hooks to change top-level fields
// and the message slice without touching the caller's copy.
func (r Request) Clone() Request {
	out := r
	out.Messages = append([]Message(nil), r.Messages...)
	out.Tools = append([]ToolSchema(nil), r.Tools...)
	if r.Temperature != nil {
		t := *r.Temperature
		out.Temperature = &t
	}
	return out
}

// FinishReason normalizes vendor stop reasons.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishUnknown       FinishReason = "unknown"
)

// Usage holds token counters for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the canonical chat response. An empty Content means the model
// produced no text.
type Response struct {
	Role         Role         `json:"role"`
	Content      string       `json:"content"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	Reasoning    string       `json:"reasoning,omitempty"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        Usage        `json:"usage"`
}

// Message converts the response into the assistant message to append to a
// conversation.
func (r *Response) Message() Message {
	return Message{Role: RoleAssistant, Content: r.Content, ToolCalls: r.ToolCalls}
}

// Credentials are per-call secrets and endpoint overrides.
type Credentials struct {
	APIKey  string `json:"api_key" mapstructure:"api_key"`
	BaseURL string `json:"base_url" mapstructure:"base_url"`
}
