package toolexecutor

import (
	"context"
	"fmt"
	"strings"
)

// MCPTool describes a tool advertised by an MCP server.
type MCPTool struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// MCPToolSource lists and calls the tools of one MCP server.
type MCPToolSource interface {
	ListTools(ctx context.Context) ([]MCPTool, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error)
}

// RegisterMCPTools registers every tool of an MCP server. Names that clash
// with existing tools are prefixed with the server id.
func (te *ToolExecutor) RegisterMCPTools(ctx context.Context, serverID string, source MCPToolSource) ([]string, error) {
	if strings.TrimSpace(serverID) == "" {
		return nil, fmt.Errorf("mcp server id is required")
	}
	if source == nil {
		return nil, fmt.Errorf("mcp tool source is required")
	}

	tools, err := source.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch MCP tools: %w", err)
	}

	origin := "mcp:" + serverID
	registered := make([]string, 0, len(tools))
	for _, tool := range tools {
		originalName := tool.Name
		if originalName == "" {
			continue
		}

		toolName := originalName
		if existing := te.GetTool(toolName); existing != nil && existing.Source != origin {
			toolName = fmt.Sprintf("%s_%s", serverID, originalName)
		}
		description := tool.Description
		if description == "" {
			description = fmt.Sprintf("%s tool from MCP server %s", originalName, serverID)
		}
		schema := tool.InputSchema
		if schema == nil {
			schema = map[string]interface{}{"type": "object"}
		}

		def := ToolDefinition{
			Name:        toolName,
			Description: description,
			Schema:      schema,
			Category:    CategoryGeneral,
			Source:      origin,
			Progress: func(map[string]interface{}) string {
				return fmt.Sprintf("Calling %s on %s", originalName, serverID)
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return source.CallTool(ctx, originalName, params)
			},
		}
		if err := te.RegisterTool(def); err != nil {
			return registered, fmt.Errorf("failed to register MCP tool %s: %w", toolName, err)
		}
		registered = append(registered, toolName)
	}
	return registered, nil
}

// UnregisterMCPTools removes every tool registered for a server and
// returns how many were removed.
func (te *ToolExecutor) UnregisterMCPTools(serverID string) int {
	origin := "mcp:" + serverID

	te.mu.RLock()
	var names []string
	for name, def := range te.tools {
		if def.Source == origin {
			names = append(names, name)
		}
	}
	te.mu.RUnlock()

	for _, name := range names {
		te.UnregisterTool(name)
	}
	return len(names)
}
