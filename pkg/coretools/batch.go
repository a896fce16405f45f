package coretools

import (
	"context"
	"fmt"
	"time"

	"github.com/rockbite/localforge/pkg/toolexecutor"
	"golang.org/x/sync/errgroup"
)

const maxBatchInvocations = 25

// BatchItemResult is the outcome of one batch invocation.
type BatchItemResult struct {
	ToolName string      `json:"tool_name"`
	Success  bool        `json:"success"`
	Output   interface{} `json:"output,omitempty"`
	Error    string      `json:"error,omitempty"`
}

func batchTool(executor *toolexecutor.ToolExecutor, opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name: ToolBatch,
		Description: "Run several independent tool invocations in one call. Each invocation reports its own " +
			"result; a failure does not stop the others.",
		Category: toolexecutor.CategoryGeneral,
		Timeout:  15 * time.Minute,
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"invocations": map[string]interface{}{
					"type":        "array",
					"description": "Tool invocations to run",
					"minItems":    1,
					"maxItems":    maxBatchInvocations,
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"tool_name": map[string]interface{}{"type": "string", "description": "Name of the tool"},
							"input":     map[string]interface{}{"type": "object", "description": "Tool parameters"},
						},
						"required": []string{"tool_name", "input"},
					},
				},
			},
			"required":             []string{"invocations"},
			"additionalProperties": false,
		},
		Progress: func(params map[string]interface{}) string {
			items, _ := params["invocations"].([]interface{})
			return fmt.Sprintf("Running %d tools", len(items))
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			items, _ := params["invocations"].([]interface{})
			return runBatch(ctx, executor, items, opts.BatchConcurrency), nil
		},
	}
}

func runBatch(ctx context.Context, executor *toolexecutor.ToolExecutor, items []interface{}, limit int) []BatchItemResult {
	execCtx := toolexecutor.ExecContextFromContext(ctx)
	results := make([]BatchItemResult, len(items))

	g := new(errgroup.Group)
	g.SetLimit(limit)
	for i, raw := range items {
		item, _ := raw.(map[string]interface{})
		name, _ := item["tool_name"].(string)
		input, _ := item["input"].(map[string]interface{})
		results[i].ToolName = name

		if name == ToolBatch {
			results[i].Error = "batch cannot be nested"
			continue
		}

		i := i
		g.Go(func() error {
			if ctx.Err() != nil || execCtx.IsInterrupted() {
				results[i].Error = "interrupted"
				return nil
			}
			res := executor.Execute(ctx, name, input, execCtx.Child())
			results[i].Success = res.Success
			results[i].Output = res.Output
			results[i].Error = res.Error
			return nil
		})
	}
	_ = g.Wait()
	return results
}
