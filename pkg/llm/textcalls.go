package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	reasoningBlock = regexp.MustCompile(`(?s)<think(?:ing)?>(.*?)</think(?:ing)?>`)
	toolCallBlock  = regexp.MustCompile(`(?s)<tool_calls?>(.*?)</tool_calls?>`)
)

// SyntheticCallID derives a call id from seed and position. The same output
// always yields the same ids and ids never repeat within one response.
func SyntheticCallID(seed string, index int) string {
	sum := sha256.Sum256([]byte(seed))
	return fmt.Sprintf("call_%s_%d", hex.EncodeToString(sum[:])[:12], index)
}

// CallIDSeed identifies the turn a request asks for. A conversation grows by
// at least one message per turn, so identical replies in different turns
// still get different call ids.
func CallIDSeed(req Request) string {
	var last string
	if n := len(req.Messages); n > 0 {
		m := req.Messages[n-1]
		last = string(m.Role) + ":" + m.ToolCallID + ":" + m.Text()
	}
	return fmt.Sprintf("%d\x00%s", len(req.Messages), last)
}

// ExtractReasoning removes reasoning blocks from content and returns them
// separately.
func ExtractReasoning(content string) (reasoning, rest string) {
	var parts []string
	rest = reasoningBlock.ReplaceAllStringFunc(content, func(block string) string {
		m := reasoningBlock.FindStringSubmatch(block)
		if len(m) > 1 {
			if text := strings.TrimSpace(m[1]); text != "" {
				parts = append(parts, text)
			}
		}
		return ""
	})
	return strings.Join(parts, "\n\n"), strings.TrimSpace(rest)
}

// ParseTextToolCalls recovers tool calls written as text. Each delimited
// block holds one JSON object per line:
//
//	<tool_call>
//	{"name": "view", "arguments": {"path": "main.go"}}
//	</tool_call>
//
// The blocks are removed from the returned content. Lines that are not a
// JSON object with a name are skipped. seed scopes the synthesized ids to one
// turn, see CallIDSeed.
func ParseTextToolCalls(seed, content string) (calls []ToolCall, rest string) {
	blocks := toolCallBlock.FindAllStringSubmatch(content, -1)
	if len(blocks) == 0 {
		return nil, content
	}

	for _, block := range blocks {
		for _, line := range strings.Split(block[1], "\n") {
			line = strings.TrimSpace(line)
			if line == "" || !gjson.Valid(line) {
				continue
			}
			parsed := gjson.Parse(line)
			if !parsed.IsObject() {
				continue
			}
			name := parsed.Get("name").String()
			if name == "" {
				continue
			}
			calls = append(calls, ToolCall{
				ID:        SyntheticCallID(seed+"\x00"+content, len(calls)),
				Name:      name,
				Arguments: textCallArguments(parsed),
			})
		}
	}

	rest = strings.TrimSpace(toolCallBlock.ReplaceAllString(content, ""))
	return calls, rest
}

func textCallArguments(call gjson.Result) string {
	for _, key := range []string{"arguments", "parameters", "args", "input"} {
		v := call.Get(key)
		switch {
		case v.IsObject():
			return v.Raw
		case v.Type == gjson.String && gjson.Valid(v.String()) && gjson.Parse(v.String()).IsObject():
			// some models double-encode the arguments
			return v.String()
		}
	}
	return "{}"
}

// sanitizeToolCalls drops calls without a name or with arguments that are not
// a JSON object and clears the slice when nothing usable is left. Calls
// without an id get one scoped to seed.
func sanitizeToolCalls(seed string, resp *Response) {
	if len(resp.ToolCalls) == 0 {
		resp.ToolCalls = nil
		return
	}
	kept := resp.ToolCalls[:0]
	for i, tc := range resp.ToolCalls {
		if strings.TrimSpace(tc.Name) == "" {
			continue
		}
		args := strings.TrimSpace(tc.Arguments)
		if args == "" {
			args = "{}"
		}
		if !gjson.Valid(args) || !gjson.Parse(args).IsObject() {
			continue
		}
		tc.Arguments = args
		if tc.ID == "" {
			tc.ID = SyntheticCallID(seed+"\x00"+tc.Name+args, i)
		}
		kept = append(kept, tc)
	}
	if len(kept) == 0 {
		resp.ToolCalls = nil
		return
	}
	resp.ToolCalls = kept
}
