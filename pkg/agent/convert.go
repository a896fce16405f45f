package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rockbite/localforge/pkg/llm"
	"github.com/rockbite/localforge/pkg/session"
	"github.com/rockbite/localforge/pkg/toolexecutor"
)

// toLLM converts persisted history into canonical messages. A late image
// description is appended to its user message's text.
func toLLM(history []session.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		msg := llm.Message{
			Role:       llm.Role(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		if m.IsToolResult() {
			msg.Role = llm.RoleTool
		}
		for _, p := range m.Parts {
			msg.Parts = append(msg.Parts, llm.ContentPart{
				Type:      llm.PartType(p.Type),
				Text:      p.Text,
				ImageURL:  p.ImageURL,
				Data:      p.Data,
				MediaType: p.MediaType,
			})
		}
		for _, c := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
		}
		if m.ImageDescription != "" {
			msg.Parts = append(msg.Parts, llm.ContentPart{
				Type: llm.PartText,
				Text: "[Image description: " + m.ImageDescription + "]",
			})
		}
		out = append(out, msg)
	}
	return out
}

// toSession converts a canonical message for persistence.
func toSession(m llm.Message) session.Message {
	out := session.Message{
		Role:       string(m.Role),
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
		Name:       m.Name,
	}
	for _, p := range m.Parts {
		out.Parts = append(out.Parts, session.ContentPart{
			Type:      string(p.Type),
			Text:      p.Text,
			ImageURL:  p.ImageURL,
			Data:      p.Data,
			MediaType: p.MediaType,
		})
	}
	for _, c := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, session.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
	}
	return out
}

// toolSchemas lists the tools offered to the model.
func toolSchemas(tools *toolexecutor.ToolExecutor, policy *toolexecutor.ToolPolicy) []llm.ToolSchema {
	if tools == nil {
		return nil
	}
	defs := tools.Definitions(policy)
	out := make([]llm.ToolSchema, 0, len(defs))
	for _, def := range defs {
		out = append(out, llm.ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  toolexecutor.ParameterSchema(def),
		})
	}
	return out
}

// parseArguments decodes a tool call's argument text. Empty text is an
// empty object.
func parseArguments(raw string) (map[string]interface{}, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	var params map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	return params, nil
}

// errorResult is the tool message content reporting a failure.
func errorResult(msg string) string {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}

// interruptedResult answers calls that never ran because the run was
// aborted.
func interruptedResult() string {
	return errorResult("interrupted")
}

// outputText renders a successful tool output for the model.
func outputText(output interface{}) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Sprintf("%v", output)
	}
	return string(data)
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
