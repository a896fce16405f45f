package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuirkTable_Match(t *testing.T) {
	table := NewQuirkTable(
		Quirk{Driver: "ollama", ModelSubstring: "qwen"},
		Quirk{Driver: "", ModelSubstring: "preview"},
	)

	t.Run("should match driver and substring case-insensitively", func(t *testing.T) {
		assert.Len(t, table.Match("ollama", "Qwen2.5-Coder:14b"), 1)
	})

	t.Run("should not match other drivers", func(t *testing.T) {
		assert.Empty(t, table.Match("openai", "qwen2.5"))
	})

	t.Run("should match wildcard driver", func(t *testing.T) {
		assert.Len(t, table.Match("gemini", "gemini-2.5-pro-preview"), 1)
	})

	t.Run("should tolerate nil table", func(t *testing.T) {
		var nilTable *QuirkTable
		assert.Nil(t, nilTable.Match("ollama", "qwen"))
	})
}

func TestParseTextToolCalls(t *testing.T) {
	content := "Let me look.\n<tool_call>\n{\"name\": \"view\", \"arguments\": {\"path\": \"main.go\"}}\n{\"name\": \"list\", \"arguments\": \"{\\\"path\\\": \\\".\\\"}\"}\nnot json\n{\"arguments\": {}}\n</tool_call>"

	calls, rest := ParseTextToolCalls("turn-1", content)

	require.Len(t, calls, 2)
	assert.Equal(t, "view", calls[0].Name)
	assert.JSONEq(t, `{"path":"main.go"}`, calls[0].Arguments)
	assert.Equal(t, "list", calls[1].Name)
	assert.JSONEq(t, `{"path":"."}`, calls[1].Arguments)
	assert.NotEqual(t, calls[0].ID, calls[1].ID)
	assert.Equal(t, "Let me look.", rest)

	again, _ := ParseTextToolCalls("turn-1", content)
	assert.Equal(t, calls[0].ID, again[0].ID, "ids must be deterministic")

	later, _ := ParseTextToolCalls("turn-2", content)
	assert.NotEqual(t, calls[0].ID, later[0].ID)
}

func TestTextToolCalls(t *testing.T) {
	t.Run("should extract reasoning and synthesize calls", func(t *testing.T) {
		resp := &Response{
			Content:      "<think>need the file list</think>\n<tool_call>\n{\"name\":\"list\",\"arguments\":{\"path\":\"/proj\"}}\n</tool_call>",
			FinishReason: FinishStop,
		}

		TextToolCalls(Request{}, resp)

		assert.Equal(t, "need the file list", resp.Reasoning)
		assert.Equal(t, "", resp.Content)
		require.Len(t, resp.ToolCalls, 1)
		assert.Equal(t, "list", resp.ToolCalls[0].Name)
		assert.Equal(t, FinishToolCalls, resp.FinishReason)
	})

	t.Run("should leave structured calls alone", func(t *testing.T) {
		resp := &Response{
			Content:   "<tool_call>\n{\"name\":\"list\"}\n</tool_call>",
			ToolCalls: []ToolCall{{ID: "a", Name: "view", Arguments: "{}"}},
		}

		TextToolCalls(Request{}, resp)

		require.Len(t, resp.ToolCalls, 1)
		assert.Equal(t, "view", resp.ToolCalls[0].Name)
	})

	t.Run("should clear tool calls when nothing is recoverable", func(t *testing.T) {
		resp := &Response{Content: "<tool_call>\ngarbage\n</tool_call>"}

		TextToolCalls(Request{}, resp)
		sanitizeToolCalls("", resp)

		assert.Nil(t, resp.ToolCalls)
	})
}

func TestSanitizeToolCalls(t *testing.T) {
	resp := &Response{ToolCalls: []ToolCall{
		{ID: "1", Name: "", Arguments: "{}"},
		{ID: "2", Name: "view", Arguments: "not json"},
		{ID: "3", Name: "view", Arguments: "[1,2]"},
		{ID: "", Name: "list", Arguments: ""},
	}}

	sanitizeToolCalls("", resp)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "list", resp.ToolCalls[0].Name)
	assert.Equal(t, "{}", resp.ToolCalls[0].Arguments)
	assert.NotEmpty(t, resp.ToolCalls[0].ID)
}

func TestCapOutputTokens(t *testing.T) {
	req := Request{MaxOutputTokens: 100000}
	CapOutputTokens(4096)(&req)
	assert.Equal(t, 4096, req.MaxOutputTokens)

	req = Request{}
	CapOutputTokens(4096)(&req)
	assert.Equal(t, 4096, req.MaxOutputTokens)

	req = Request{MaxOutputTokens: 512}
	CapOutputTokens(4096)(&req)
	assert.Equal(t, 512, req.MaxOutputTokens)
}

func TestTextToolCalls_RepeatedAcrossTurns(t *testing.T) {
	reply := "<tool_call>\n{\"name\":\"list\",\"arguments\":{\"path\":\".\"}}\n</tool_call>"
	conversation := []Message{{Role: RoleUser, Content: "list files twice"}}

	first := &Response{Content: reply}
	TextToolCalls(Request{Messages: conversation}, first)
	require.Len(t, first.ToolCalls, 1)

	conversation = append(conversation,
		Message{Role: RoleAssistant, ToolCalls: first.ToolCalls},
		Message{Role: RoleTool, ToolCallID: first.ToolCalls[0].ID, Name: "list", Content: "a.go"},
	)
	second := &Response{Content: reply}
	TextToolCalls(Request{Messages: conversation}, second)
	require.Len(t, second.ToolCalls, 1)

	assert.NotEqual(t, first.ToolCalls[0].ID, second.ToolCalls[0].ID)

	t.Run("should stay deterministic for the same turn", func(t *testing.T) {
		again := &Response{Content: reply}
		TextToolCalls(Request{Messages: conversation}, again)
		assert.Equal(t, second.ToolCalls[0].ID, again.ToolCalls[0].ID)
	})

	t.Run("should scope fallback ids to the turn", func(t *testing.T) {
		a := &Response{ToolCalls: []ToolCall{{Name: "view", Arguments: "{}"}}}
		b := &Response{ToolCalls: []ToolCall{{Name: "view", Arguments: "{}"}}}
		sanitizeToolCalls(CallIDSeed(Request{Messages: conversation[:1]}), a)
		sanitizeToolCalls(CallIDSeed(Request{Messages: conversation}), b)
		assert.NotEqual(t, a.ToolCalls[0].ID, b.ToolCalls[0].ID)
	})
}
