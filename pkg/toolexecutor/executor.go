package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rockbite/localforge/internal/observability"
	"github.com/rockbite/localforge/internal/tracing"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultTimeout   = 2 * time.Minute
	defaultMaxOutput = 30 * 1024
)

// ToolPolicy defines which tools an agent can use
type ToolPolicy struct {
	Allow []string `json:"allow" yaml:"allow" mapstructure:"allow"` // List of allowed tools (* for all)
	Deny  []string `json:"deny" yaml:"deny" mapstructure:"deny"`    // List of denied tools (overrides allow)
}

// IsToolAllowed checks if a tool is allowed by the policy
func (tp *ToolPolicy) IsToolAllowed(toolName string) bool {
	if tp == nil {
		return true
	}

	for _, denied := range tp.Deny {
		if denied == toolName || denied == "*" {
			return false
		}
	}
	for _, allowed := range tp.Allow {
		if allowed == toolName || allowed == "*" {
			return true
		}
	}
	return false
}

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string                 `json:"name"`
	Type        string                 `json:"type"`
	Description string                 `json:"description"`
	Required    bool                   `json:"required"`
	Default     interface{}            `json:"default,omitempty"`
	Enum        []string               `json:"enum,omitempty"`
	Items       map[string]interface{} `json:"items,omitempty"`
}

// ProgressFunc renders a short present-tense description of a call, for
// example "Reading main.go".
type ProgressFunc func(params map[string]interface{}) string

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters,omitempty"`
	// Schema is a complete JSON schema for the parameters. When set it is
	// used instead of Parameters.
	Schema   map[string]interface{} `json:"schema,omitempty"`
	Category ToolCategory           `json:"category"`
	// Source is "builtin" or "mcp:<server>".
	Source   string        `json:"source,omitempty"`
	Timeout  time.Duration `json:"-"`
	Progress ProgressFunc  `json:"-"`
	Handler  ToolHandler   `json:"-"`
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Success   bool                   `json:"success"`
	Output    interface{}            `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
	Cancelled bool                   `json:"cancelled,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ToolExecutor manages and executes tools
type ToolExecutor struct {
	tools     map[string]*ToolDefinition
	schemas   map[string]*gojsonschema.Schema
	maxOutput int
	mu        sync.RWMutex
}

// New creates a new ToolExecutor
func New() *ToolExecutor {
	observability.EnsureRegistered()
	return &ToolExecutor{
		tools:     make(map[string]*ToolDefinition),
		schemas:   make(map[string]*gojsonschema.Schema),
		maxOutput: defaultMaxOutput,
	}
}

// RegisterTool registers a new tool, replacing any tool with the same name.
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}
	if def.Category == "" {
		def.Category = CategoryGeneral
	}
	if def.Source == "" {
		def.Source = "builtin"
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(ParameterSchema(def)))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema

	log.Debug().Str("tool", def.Name).Str("category", string(def.Category)).Msg("Tool registered")
	return nil
}

// UnregisterTool removes a tool
func (te *ToolExecutor) UnregisterTool(name string) {
	te.mu.Lock()
	defer te.mu.Unlock()

	delete(te.tools, name)
	delete(te.schemas, name)
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return te.tools[name]
}

// ListTools returns all registered tool names, sorted
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tools := make([]string, 0, len(te.tools))
	for name := range te.tools {
		tools = append(tools, name)
	}
	sort.Strings(tools)
	return tools
}

// Definitions returns the definitions allowed by policy, sorted by name.
func (te *ToolExecutor) Definitions(policy *ToolPolicy) []ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(te.tools))
	for name, def := range te.tools {
		if policy.IsToolAllowed(name) {
			defs = append(defs, *def)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Subset returns a new executor holding only the named tools.
func (te *ToolExecutor) Subset(names ...string) *ToolExecutor {
	sub := New()

	te.mu.RLock()
	defer te.mu.RUnlock()

	sub.maxOutput = te.maxOutput
	for _, name := range names {
		if def, ok := te.tools[name]; ok {
			sub.tools[name] = def
			sub.schemas[name] = te.schemas[name]
		}
	}
	return sub
}

// Describe renders the progress text for a call.
func (te *ToolExecutor) Describe(name string, params map[string]interface{}) string {
	def := te.GetTool(name)
	if def != nil && def.Progress != nil {
		if text := def.Progress(params); text != "" {
			return text
		}
	}
	return "Running " + name
}

// Execute executes a tool with the given parameters. Failures of any kind
// are reported in the result, never as a panic or error.
func (te *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	startTime := time.Now()
	sessionID := ""
	if execCtx != nil {
		sessionID = execCtx.SessionID
	}

	ctx, span := tracing.StartSpan(ctx, "localforge/toolexecutor", "tool."+toolName,
		attribute.String("tool", toolName))
	defer span.End()

	result := te.execute(ctx, toolName, params, execCtx)
	duration := time.Since(startTime)
	if result.Metadata == nil {
		result.Metadata = map[string]interface{}{}
	}
	result.Metadata["duration"] = duration.Milliseconds()

	observability.RecordToolExecution(toolName, duration, result.Success)
	status := "success"
	switch {
	case result.Cancelled:
		status = "cancelled"
	case !result.Success:
		status = "error"
		span.SetStatus(codes.Error, result.Error)
	}
	observability.RecordToolAudit(ctx, sessionID, toolName, status, map[string]interface{}{
		"duration_ms": duration.Milliseconds(),
	})
	return result
}

func (te *ToolExecutor) execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	if execCtx != nil && !execCtx.ToolPolicy.IsToolAllowed(toolName) {
		log.Warn().
			Str("tool", toolName).
			Str("agent_id", execCtx.AgentID).
			Msg("Tool execution blocked by policy")
		return ToolResult{
			Success:  false,
			Error:    fmt.Sprintf("tool '%s' is not allowed by agent policy", toolName),
			Metadata: map[string]interface{}{"policy_violation": true},
		}
	}

	te.mu.RLock()
	tool := te.tools[toolName]
	schema := te.schemas[toolName]
	maxOutput := te.maxOutput
	te.mu.RUnlock()

	if tool == nil {
		return ToolResult{Success: false, Error: fmt.Sprintf("tool not found: %s", toolName)}
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	if err := validateParameters(schema, params); err != nil {
		log.Debug().Str("tool", toolName).Err(err).Msg("Parameter validation failed")
		return ToolResult{Success: false, Error: fmt.Sprintf("parameter validation failed: %v", err)}
	}
	if err := ctx.Err(); err != nil {
		return ToolResult{Success: false, Cancelled: true, Error: "tool execution cancelled"}
	}

	timeout := defaultTimeout
	if tool.Timeout > 0 {
		timeout = tool.Timeout
	}
	if execCtx != nil && execCtx.Timeout > 0 && execCtx.Timeout < timeout {
		timeout = execCtx.Timeout
	}

	timeoutCtx, cancel := context.WithTimeout(WithExecContext(ctx, execCtx), timeout)
	defer cancel()

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		value, err := tool.Handler(timeoutCtx, params)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if ctx.Err() == nil && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
				return ToolResult{Success: false, Error: fmt.Sprintf("tool execution timeout after %v", timeout)}
			}
			return ToolResult{Success: false, Error: out.err.Error(), Cancelled: ctx.Err() != nil}
		}
		output, truncated := truncateOutput(out.value, maxOutput)
		return ToolResult{Success: true, Output: output, Truncated: truncated}

	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return ToolResult{Success: false, Cancelled: true, Error: "tool execution cancelled"}
		}
		log.Warn().Str("tool", toolName).Dur("timeout", timeout).Msg("Tool execution timeout")
		return ToolResult{Success: false, Error: fmt.Sprintf("tool execution timeout after %v", timeout)}
	}
}

func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if strings.ContainsAny(def.Name, " \t\n") {
		return fmt.Errorf("tool name cannot contain whitespace: %q", def.Name)
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}
	if def.Category != "" && !IsValidCategory(string(def.Category)) {
		return fmt.Errorf("invalid category: %s", def.Category)
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
	}
	return nil
}

// ParameterSchema builds the JSON schema of a definition's parameters.
func ParameterSchema(def ToolDefinition) map[string]interface{} {
	if def.Schema != nil {
		schema := make(map[string]interface{}, len(def.Schema)+1)
		for k, v := range def.Schema {
			schema[k] = v
		}
		if _, ok := schema["type"]; !ok {
			schema["type"] = "object"
		}
		return schema
	}

	properties := make(map[string]interface{}, len(def.Parameters))
	required := []string{}
	for _, param := range def.Parameters {
		p := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			p["default"] = param.Default
		}
		if len(param.Enum) > 0 {
			p["enum"] = param.Enum
		}
		if param.Items != nil {
			p["items"] = param.Items
		} else if param.Type == "array" {
			p["items"] = map[string]interface{}{}
		}
		properties[param.Name] = p
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// truncateOutput shortens string output above limit. Structured output is
// left to the tool.
func truncateOutput(output interface{}, limit int) (interface{}, bool) {
	str, ok := output.(string)
	if !ok || limit <= 0 || len(str) <= limit {
		return output, false
	}
	return str[:limit] + fmt.Sprintf("\n... [output truncated, %d bytes omitted]", len(str)-limit), true
}
