package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIDriver talks to the Chat Completions API. The same driver serves
// OpenAI itself and servers that mimic it (Ollama, vLLM, LM Studio).
type OpenAIDriver struct {
	name           string
	defaultBaseURL string
	defaultAPIKey  string
}

// NewOpenAIDriver creates the openai driver.
func NewOpenAIDriver() *OpenAIDriver { return &OpenAIDriver{name: "openai"} }

// NewOllamaDriver creates a driver for a local Ollama server.
func NewOllamaDriver() *OpenAIDriver {
	return &OpenAIDriver{
		name:           "ollama",
		defaultBaseURL: "http://localhost:11434/v1/",
		defaultAPIKey:  "ollama",
	}
}

// NewCompatibleDriver creates a driver for any OpenAI-compatible endpoint;
// callers supply the base URL in the credentials.
func NewCompatibleDriver() *OpenAIDriver {
	return &OpenAIDriver{name: "openai-compatible", defaultAPIKey: "none"}
}

func (d *OpenAIDriver) Name() string { return d.name }

func (d *OpenAIDriver) client(creds Credentials) openai.Client {
	apiKey := creds.APIKey
	if apiKey == "" {
		apiKey = d.defaultAPIKey
	}
	baseURL := creds.BaseURL
	if baseURL == "" {
		baseURL = d.defaultBaseURL
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return openai.NewClient(opts...)
}

// Chat sends req through the Chat Completions API.
func (d *OpenAIDriver) Chat(ctx context.Context, req Request, creds Credentials) (*Response, error) {
	params := toOpenAIParams(req)

	client := d.client(creds)
	completion, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		status := 0
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return nil, NewProviderError(d.name, status, err)
	}

	return fromOpenAICompletion(completion)
}

func toOpenAIParams(req Request) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Text()))
		case RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Text()))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tc.Name,
						Arguments: string(toolInput(tc.Arguments)),
					},
				})
			}
			assistant := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   msg.Text(),
				ToolCalls: toolCalls,
			}
			messages = append(messages, assistant.ToParam())
		default:
			messages = append(messages, openAIUserMessage(msg))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.MaxOutputTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	for _, tool := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  openai.FunctionParameters(tool.Parameters),
			},
		})
	}

	return params
}

func openAIUserMessage(msg Message) openai.ChatCompletionMessageParamUnion {
	hasImage := false
	for _, p := range msg.Parts {
		if p.Type == PartImage {
			hasImage = true
			break
		}
	}
	if !hasImage {
		return openai.UserMessage(msg.Text())
	}

	var parts []openai.ChatCompletionContentPartUnionParam
	if msg.Content != "" {
		parts = append(parts, openai.TextContentPart(msg.Content))
	}
	for _, p := range msg.Parts {
		switch p.Type {
		case PartText:
			if p.Text != "" {
				parts = append(parts, openai.TextContentPart(p.Text))
			}
		case PartImage:
			url := p.ImageURL
			if p.Data != "" {
				mt := p.MediaType
				if mt == "" {
					mt = "image/png"
				}
				url = "data:" + mt + ";base64," + p.Data
			}
			if url != "" {
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
			}
		}
	}
	return openai.UserMessage(parts)
}

func fromOpenAICompletion(completion *openai.ChatCompletion) (*Response, error) {
	if len(completion.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	choice := completion.Choices[0]

	resp := &Response{
		Role:         RoleAssistant,
		Content:      choice.Message.Content,
		FinishReason: openAIFinishReason(choice.FinishReason),
		Usage: Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return resp, nil
}

func openAIFinishReason(reason string) FinishReason {
	switch strings.ToLower(reason) {
	case "stop":
		return FinishStop
	case "tool_calls", "function_call":
		return FinishToolCalls
	case "length":
		return FinishLength
	case "content_filter":
		return FinishContentFilter
	}
	return FinishUnknown
}
