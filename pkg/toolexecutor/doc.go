// Package toolexecutor registers and executes structured tools for agents.
//
// Invariants:
// - Tool names are unique; re-registering replaces the definition.
// - Parameters are schema-validated before execution.
// - Execution failures, timeouts and cancellations are returned as a
//   ToolResult, never as a Go error.
//
// Usage:
//
//	exec := toolexecutor.New()
//	_ = exec.RegisterTool(toolexecutor.ToolDefinition{
//		Name:        "echo",
//		Description: "Echo input",
//		Category:    toolexecutor.CategoryRead,
//		Parameters:  []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return params["text"], nil },
//	})
//	res := exec.Execute(ctx, "echo", map[string]interface{}{"text": "hi"}, nil)
package toolexecutor
