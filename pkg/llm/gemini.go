package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"google.golang.org/genai"
)

const (
	geminiRoleUser  = "user"
	geminiRoleModel = "model"
)

// GeminiDriver talks to the Gemini generateContent API.
type GeminiDriver struct{}

// NewGeminiDriver creates the gemini driver.
func NewGeminiDriver() *GeminiDriver { return &GeminiDriver{} }

func (d *GeminiDriver) Name() string { return "gemini" }

// Chat sends req through generateContent.
func (d *GeminiDriver) Chat(ctx context.Context, req Request, creds Credentials) (*Response, error) {
	cfg := &genai.ClientConfig{
		APIKey:  creds.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if creds.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: creds.BaseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, NewProviderError(d.Name(), 0, err)
	}

	contents, config := toGeminiContents(req)
	result, err := client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		status := 0
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			status = apiErr.Code
		}
		return nil, NewProviderError(d.Name(), status, err)
	}

	return fromGeminiResponse(result, CallIDSeed(req))
}

func toGeminiContents(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{}
	var system []string
	var contents []*genai.Content

	push := func(role string, parts ...*genai.Part) {
		if len(parts) == 0 {
			return
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			return
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			if text := msg.Text(); text != "" {
				system = append(system, text)
			}
		case RoleTool:
			push(geminiRoleUser, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       msg.ToolCallID,
				Name:     msg.Name,
				Response: functionResponse(msg.Content),
			}})
		case RoleAssistant:
			var parts []*genai.Part
			if text := msg.Text(); text != "" {
				parts = append(parts, &genai.Part{Text: text})
			}
			for _, tc := range msg.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal(toolInput(tc.Arguments), &args)
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
			}
			push(geminiRoleModel, parts...)
		default:
			push(geminiRoleUser, geminiUserParts(msg)...)
		}
	}

	if len(system) > 0 {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}}}
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  geminiSchema(tool.Parameters),
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	return contents, config
}

func geminiUserParts(msg Message) []*genai.Part {
	var parts []*genai.Part
	if msg.Content != "" {
		parts = append(parts, &genai.Part{Text: msg.Content})
	}
	for _, p := range msg.Parts {
		switch p.Type {
		case PartText:
			if p.Text != "" {
				parts = append(parts, &genai.Part{Text: p.Text})
			}
		case PartImage:
			mediaType, data, ok := imageData(p)
			if !ok {
				if p.ImageURL != "" {
					parts = append(parts, &genai.Part{Text: "[image: " + p.ImageURL + "]"})
				}
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(data)
			if err != nil {
				continue
			}
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: mediaType, Data: raw}})
		}
	}
	if len(parts) == 0 {
		parts = append(parts, &genai.Part{Text: " "})
	}
	return parts
}

// functionResponse wraps tool output the way Gemini expects: an object.
func functionResponse(content string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err == nil && obj != nil {
		return obj
	}
	return map[string]any{"output": content}
}

func geminiSchema(params map[string]interface{}) *genai.Schema {
	if params == nil {
		return nil
	}
	schema := &genai.Schema{}
	if t, ok := params["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := params["description"].(string); ok {
		schema.Description = desc
	}
	if props, ok := params["properties"].(map[string]interface{}); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for key, value := range props {
			if prop, ok := value.(map[string]interface{}); ok {
				schema.Properties[key] = geminiSchema(prop)
			}
		}
	}
	if items, ok := params["items"].(map[string]interface{}); ok {
		schema.Items = geminiSchema(items)
	}
	schema.Required = requiredFields(params)
	switch enum := params["enum"].(type) {
	case []string:
		schema.Enum = enum
	case []interface{}:
		for _, v := range enum {
			if s, ok := v.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	return schema
}

func fromGeminiResponse(result *genai.GenerateContentResponse, seed string) (*Response, error) {
	if result == nil || len(result.Candidates) == 0 {
		return nil, ErrEmptyResponse
	}
	candidate := result.Candidates[0]

	resp := &Response{
		Role:         RoleAssistant,
		FinishReason: geminiFinishReason(string(candidate.FinishReason)),
	}
	if result.UsageMetadata != nil {
		resp.Usage = Usage{
			InputTokens:  int(result.UsageMetadata.PromptTokenCount),
			OutputTokens: int(result.UsageMetadata.CandidatesTokenCount),
		}
	}
	if candidate.Content == nil {
		return resp, nil
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil || part.FunctionCall.Args == nil {
				args = []byte("{}")
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        part.FunctionCall.ID,
				Name:      part.FunctionCall.Name,
				Arguments: string(args),
			})
		}
	}
	resp.Content = text.String()

	// Gemini often leaves call ids empty
	for i := range resp.ToolCalls {
		if resp.ToolCalls[i].ID == "" {
			resp.ToolCalls[i].ID = SyntheticCallID(seed+"\x00"+resp.ToolCalls[i].Name+resp.ToolCalls[i].Arguments, i)
		}
	}
	if len(resp.ToolCalls) > 0 && resp.FinishReason == FinishStop {
		resp.FinishReason = FinishToolCalls
	}

	return resp, nil
}

func geminiFinishReason(reason string) FinishReason {
	switch reason {
	case "STOP":
		return FinishStop
	case "MAX_TOKENS":
		return FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII":
		return FinishContentFilter
	}
	return FinishUnknown
}
