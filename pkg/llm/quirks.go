package llm

import (
	"strings"
	"sync"
)

// Quirk adjusts requests or responses for models that do not follow their
// driver's usual contract. Either hook may be nil.
type Quirk struct {
	Driver         string // "" matches every driver
	ModelSubstring string // case-insensitive
	Pre            func(req *Request)
	Post           func(req Request, resp *Response)
}

// QuirkTable is a lookup table of quirks keyed by (driver, model substring).
type QuirkTable struct {
	mu     sync.RWMutex
	quirks []Quirk
}

// NewQuirkTable creates a table holding the given quirks.
func NewQuirkTable(quirks ...Quirk) *QuirkTable {
	return &QuirkTable{quirks: append([]Quirk(nil), quirks...)}
}

// Add appends a quirk. Quirks run in insertion order.
func (t *QuirkTable) Add(q Quirk) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.quirks = append(t.quirks, q)
}

// Match returns the quirks that apply to driver and model.
func (t *QuirkTable) Match(driver, model string) []Quirk {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	model = strings.ToLower(model)
	var out []Quirk
	for _, q := range t.quirks {
		if q.Driver != "" && q.Driver != driver {
			continue
		}
		if !strings.Contains(model, strings.ToLower(q.ModelSubstring)) {
			continue
		}
		out = append(out, q)
	}
	return out
}

// CapOutputTokens returns a pre-hook limiting max output tokens to limit.
func CapOutputTokens(limit int) func(*Request) {
	return func(req *Request) {
		if req.MaxOutputTokens <= 0 || req.MaxOutputTokens > limit {
			req.MaxOutputTokens = limit
		}
	}
}

// DropTemperature is a pre-hook for models that reject the parameter.
func DropTemperature(req *Request) {
	req.Temperature = nil
}

// TextToolCalls is a post-hook for models that describe tool calls in text.
// Reasoning blocks are moved to Response.Reasoning; delimited tool-call
// blocks become structured calls when the model gave none.
func TextToolCalls(req Request, resp *Response) {
	reasoning, rest := ExtractReasoning(resp.Content)
	if reasoning != "" {
		resp.Reasoning = reasoning
	}
	resp.Content = rest

	calls, rest := ParseTextToolCalls(CallIDSeed(req), resp.Content)
	resp.Content = rest
	if len(resp.ToolCalls) > 0 {
		return
	}
	resp.ToolCalls = calls
	if len(calls) > 0 {
		resp.FinishReason = FinishToolCalls
	}
}

// DefaultQuirks returns the built-in quirk table.
func DefaultQuirks() *QuirkTable {
	return NewQuirkTable(
		Quirk{Driver: "openai", ModelSubstring: "o1", Pre: DropTemperature},
		Quirk{Driver: "openai", ModelSubstring: "o3", Pre: DropTemperature},
		Quirk{Driver: "openai", ModelSubstring: "o4-mini", Pre: DropTemperature},
		Quirk{Driver: "anthropic", ModelSubstring: "claude-3-haiku", Pre: CapOutputTokens(4096)},
		Quirk{Driver: "anthropic", ModelSubstring: "claude-3-opus", Pre: CapOutputTokens(4096)},
		Quirk{Driver: "anthropic", ModelSubstring: "claude-3-5", Pre: CapOutputTokens(8192)},
		Quirk{Driver: "ollama", ModelSubstring: "qwen", Post: TextToolCalls},
		Quirk{Driver: "ollama", ModelSubstring: "deepseek-r1", Post: TextToolCalls},
		Quirk{Driver: "ollama", ModelSubstring: "llama", Post: TextToolCalls},
		Quirk{Driver: "openai-compatible", ModelSubstring: "deepseek-r1", Post: TextToolCalls},
		Quirk{Driver: "openai-compatible", ModelSubstring: "qwq", Post: TextToolCalls},
		Quirk{Driver: "gemini", ModelSubstring: "gemma", Post: TextToolCalls},
	)
}
