package coretools

import (
	"context"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rockbite/localforge/pkg/session"
	"github.com/rockbite/localforge/pkg/toolexecutor"
	"github.com/rs/zerolog/log"
)

// SubAgentRequest describes a nested agent run.
type SubAgentRequest struct {
	ParentSessionID string
	// SessionID names a throwaway session that is never persisted.
	SessionID  string
	Prompt     string
	WorkingDir string
	Model      string
	Tools      *toolexecutor.ToolExecutor
}

// SubAgentRunner runs a prompt to completion and returns the final text.
type SubAgentRunner interface {
	RunSubAgent(ctx context.Context, req SubAgentRequest) (string, error)
}

func dispatchAgentTool(executor *toolexecutor.ToolExecutor, opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name: ToolDispatchAgent,
		Description: "Launch a sub-agent with read-only tools (view, search, list, fetch) to research a question. " +
			"The sub-agent cannot modify files. Returns its final answer.",
		Category: toolexecutor.CategoryAgent,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "prompt", Type: "string", Description: "The task for the sub-agent, with all the context it needs", Required: true},
		},
		Timeout: 15 * time.Minute,
		Progress: func(map[string]interface{}) string {
			return "Dispatching a sub-agent"
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			prompt := strings.TrimSpace(stringParam(params, "prompt"))
			if prompt == "" {
				return nil, newToolError(ToolDispatchAgent, CodeInvalidArgument, "prompt is required")
			}
			root, err := workingRoot(ctx, ToolDispatchAgent, opts)
			if err != nil {
				return nil, err
			}
			execCtx := toolexecutor.ExecContextFromContext(ctx)
			if execCtx == nil {
				execCtx = &toolexecutor.ExecutionContext{}
			}

			suffix, err := gonanoid.New(10)
			if err != nil {
				return nil, wrapError(ToolDispatchAgent, err)
			}
			subID := fmt.Sprintf("sub_%s", suffix)
			opts.Sessions.CreateEphemeral(subID, session.CreateOptions{WorkingDirectory: root, AgentID: execCtx.AgentID})
			defer opts.Sessions.Discard(subID)

			logger := log.With().Str("parent_session", execCtx.SessionID).Str("sub_session", subID).Logger()
			logger.Debug().Msg("Dispatching sub-agent")

			text, err := opts.SubAgents.RunSubAgent(ctx, SubAgentRequest{
				ParentSessionID: execCtx.SessionID,
				SessionID:       subID,
				Prompt:          prompt,
				WorkingDir:      root,
				Model:           execCtx.Model,
				Tools:           executor.Subset(SubAgentTools...),
			})
			if err != nil {
				logger.Warn().Err(err).Msg("Sub-agent failed")
				return nil, wrapError(ToolDispatchAgent, err)
			}
			return text, nil
		},
	}
}
