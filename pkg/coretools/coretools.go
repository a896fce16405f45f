package coretools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rockbite/localforge/pkg/sandbox"
	"github.com/rockbite/localforge/pkg/session"
	"github.com/rockbite/localforge/pkg/toolexecutor"
)

// Options configures core tool registration.
type Options struct {
	// WorkingDir is the fallback root when the execution context has none.
	WorkingDir string
	// Runner executes bash commands. A default runner is created when nil.
	Runner *sandbox.Runner
	// Approvals reviews commands classified as "review". Without it such
	// commands are refused.
	Approvals *toolexecutor.ApprovalManager
	// Sessions backs the tasks and dispatch_agent tools; both are skipped
	// when nil.
	Sessions *session.Manager
	// SubAgents runs dispatch_agent prompts; the tool is skipped when nil.
	SubAgents SubAgentRunner
	// HTTPClient is used by fetch. Defaults to a client with FetchTimeout.
	HTTPClient *http.Client
	// Renderer renders JavaScript pages for fetch when render=true.
	Renderer PageRenderer
	// FetchMaxBytes caps response bodies read by fetch.
	FetchMaxBytes int64
	// BatchConcurrency is how many batch invocations may run at once.
	// Defaults to 1, which keeps invocations in submission order.
	BatchConcurrency int
}

// Names of the core tools.
const (
	ToolView          = "view"
	ToolList          = "list"
	ToolGlob          = "glob"
	ToolSearch        = "search"
	ToolWrite         = "write"
	ToolEdit          = "edit"
	ToolBash          = "bash"
	ToolFetch         = "fetch"
	ToolBatch         = "batch"
	ToolDispatchAgent = "dispatch_agent"
	ToolTasks         = "tasks"
)

// SubAgentTools are the tools a dispatched agent may use.
var SubAgentTools = []string{ToolView, ToolSearch, ToolList, ToolFetch}

// RegisterAll registers the core tools on executor.
func RegisterAll(executor *toolexecutor.ToolExecutor, opts Options) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	if opts.Runner == nil {
		runner, err := sandbox.NewRunner(sandbox.DefaultConfig())
		if err != nil {
			return fmt.Errorf("failed to create command runner: %w", err)
		}
		opts.Runner = runner
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = 1
	}
	if opts.FetchMaxBytes <= 0 {
		opts.FetchMaxBytes = defaultFetchMaxBytes
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: FetchTimeout}
	}

	tools := []toolexecutor.ToolDefinition{
		viewTool(opts),
		listTool(opts),
		globTool(opts),
		searchTool(opts),
		writeTool(opts),
		editTool(opts),
		bashTool(opts),
		fetchTool(opts),
		batchTool(executor, opts),
	}
	if opts.Sessions != nil {
		tools = append(tools, tasksTool(opts))
		if opts.SubAgents != nil {
			tools = append(tools, dispatchAgentTool(executor, opts))
		}
	}

	for _, tool := range tools {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

// workingRoot returns the directory every path of a call is confined to.
func workingRoot(ctx context.Context, tool string, opts Options) (string, error) {
	if execCtx := toolexecutor.ExecContextFromContext(ctx); execCtx != nil && strings.TrimSpace(execCtx.WorkingDir) != "" {
		return execCtx.WorkingDir, nil
	}
	if strings.TrimSpace(opts.WorkingDir) != "" {
		return opts.WorkingDir, nil
	}
	return "", newToolError(tool, CodeDenied, "working directory is not configured")
}

// resolve confines a path parameter to the working root.
func resolve(ctx context.Context, tool string, opts Options, p string) (string, string, error) {
	root, err := workingRoot(ctx, tool, opts)
	if err != nil {
		return "", "", err
	}
	resolved, err := sandbox.ResolvePath(p, root)
	if err != nil {
		return "", "", wrapError(tool, err)
	}
	return resolved, root, nil
}

func stringParam(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return s
}

func boolParam(params map[string]interface{}, key string) bool {
	b, _ := params[key].(bool)
	return b
}

func intParam(params map[string]interface{}, key string, fallback int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return fallback
}

func stringSliceParam(params map[string]interface{}, key string) []string {
	raw, ok := params[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func progressPath(verb, key string) toolexecutor.ProgressFunc {
	return func(params map[string]interface{}) string {
		if p := stringParam(params, key); p != "" {
			return verb + " " + p
		}
		return ""
	}
}
