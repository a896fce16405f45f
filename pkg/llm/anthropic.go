package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicDriver talks to the Anthropic Messages API.
type AnthropicDriver struct{}

// NewAnthropicDriver creates the anthropic driver.
func NewAnthropicDriver() *AnthropicDriver { return &AnthropicDriver{} }

func (d *AnthropicDriver) Name() string { return "anthropic" }

func (d *AnthropicDriver) client(creds Credentials) anthropic.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(creds.APIKey),
		// retries are the gateway's decision
		option.WithMaxRetries(0),
	}
	if creds.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(creds.BaseURL))
	}
	return anthropic.NewClient(opts...)
}

// Chat sends req through the Messages API.
func (d *AnthropicDriver) Chat(ctx context.Context, req Request, creds Credentials) (*Response, error) {
	params := toAnthropicParams(req)

	client := d.client(creds)
	msg, err := client.Messages.New(ctx, params)
	if err != nil {
		status := 0
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return nil, NewProviderError(d.Name(), status, err)
	}

	return fromAnthropicMessage(msg)
}

func toAnthropicParams(req Request) anthropic.MessageNewParams {
	var system []string
	var messages []anthropic.MessageParam

	// Anthropic wants every tool_result of a turn inside one user message, so
	// consecutive messages with the same role are merged.
	push := func(role anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, blocks...)
			return
		}
		messages = append(messages, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			if text := msg.Text(); text != "" {
				system = append(system, text)
			}
		case RoleTool:
			push(anthropic.MessageParamRoleUser, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if text := msg.Text(); text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, toolInput(tc.Arguments), tc.Name))
			}
			push(anthropic.MessageParamRoleAssistant, blocks...)
		default:
			push(anthropic.MessageParamRoleUser, anthropicUserBlocks(msg)...)
		}
	}

	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	for _, tool := range req.Tools {
		toolParam := anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: tool.Parameters["properties"],
				Required:   requiredFields(tool.Parameters),
			},
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}

	return params
}

func anthropicUserBlocks(msg Message) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	if msg.Content != "" {
		blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
	}
	for _, part := range msg.Parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case PartImage:
			mediaType, data, ok := imageData(part)
			if ok {
				blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, data))
			} else if part.ImageURL != "" {
				blocks = append(blocks, anthropic.NewTextBlock("[image: "+part.ImageURL+"]"))
			}
		}
	}
	if len(blocks) == 0 {
		// the API rejects empty user turns
		blocks = append(blocks, anthropic.NewTextBlock(" "))
	}
	return blocks
}

func fromAnthropicMessage(msg *anthropic.Message) (*Response, error) {
	resp := &Response{
		Role:         RoleAssistant,
		FinishReason: anthropicFinishReason(string(msg.StopReason)),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			args := b.JSON.Input.Raw()
			if args == "" {
				args = "{}"
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: b.ID, Name: b.Name, Arguments: args})
		}
	}
	resp.Content = text.String()

	return resp, nil
}

func anthropicFinishReason(reason string) FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return FinishStop
	case "tool_use":
		return FinishToolCalls
	case "max_tokens":
		return FinishLength
	case "refusal":
		return FinishContentFilter
	}
	return FinishUnknown
}

// toolInput turns model-produced argument text into a JSON object value.
func toolInput(arguments string) json.RawMessage {
	trimmed := strings.TrimSpace(arguments)
	if trimmed == "" || !json.Valid([]byte(trimmed)) || trimmed[0] != '{' {
		return json.RawMessage("{}")
	}
	return json.RawMessage(trimmed)
}

func requiredFields(schema map[string]interface{}) []string {
	switch v := schema["required"].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// imageData extracts base64 payload and media type from a part, accepting
// data: URLs.
func imageData(part ContentPart) (mediaType, data string, ok bool) {
	if part.Data != "" {
		mt := part.MediaType
		if mt == "" {
			mt = "image/png"
		}
		return mt, part.Data, true
	}
	rest, found := strings.CutPrefix(part.ImageURL, "data:")
	if !found {
		return "", "", false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found || !strings.HasSuffix(meta, ";base64") {
		return "", "", false
	}
	return strings.TrimSuffix(meta, ";base64"), payload, true
}
