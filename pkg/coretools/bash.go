package coretools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rockbite/localforge/internal/observability"
	"github.com/rockbite/localforge/pkg/sandbox"
	"github.com/rockbite/localforge/pkg/toolexecutor"
	"github.com/rs/zerolog/log"
)

func bashTool(opts Options) toolexecutor.ToolDefinition {
	cfg := opts.Runner.Config()
	return toolexecutor.ToolDefinition{
		Name: ToolBash,
		Description: "Run a shell command in the working directory. Output is truncated when long. " +
			"Dangerous commands are refused and risky ones may need approval.",
		Category: toolexecutor.CategoryShell,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "command", Type: "string", Description: "The command to run", Required: true},
			{Name: "timeout", Type: "integer", Description: fmt.Sprintf("Timeout in milliseconds (max %d)", cfg.MaxTimeout.Milliseconds())},
		},
		// The runner enforces the command timeout; leave room for the kill
		// escalation before the executor gives up.
		Timeout: cfg.MaxTimeout + 2*cfg.KillGrace + 5*time.Second,
		Progress: func(params map[string]interface{}) string {
			cmd := stringParam(params, "command")
			if len(cmd) > 60 {
				cmd = cmd[:57] + "..."
			}
			return "Running " + cmd
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			command := strings.TrimSpace(stringParam(params, "command"))
			if command == "" {
				return nil, newToolError(ToolBash, CodeInvalidArgument, "command is required")
			}
			root, err := workingRoot(ctx, ToolBash, opts)
			if err != nil {
				return nil, err
			}
			execCtx := toolexecutor.ExecContextFromContext(ctx)
			if execCtx == nil {
				execCtx = &toolexecutor.ExecutionContext{}
			}

			if err := checkCommand(ctx, opts, execCtx, command, root); err != nil {
				return nil, err
			}

			timeout := time.Duration(intParam(params, "timeout", 0)) * time.Millisecond
			res, err := opts.Runner.Run(ctx, sandbox.Command{
				Command:     command,
				Dir:         root,
				Timeout:     timeout,
				Interrupted: execCtx.IsInterrupted,
			})
			switch {
			case errors.Is(err, sandbox.ErrExecutionTimeout):
				return formatResult(res) + fmt.Sprintf("\n[command timed out after %s; partial output shown]", res.Duration.Round(time.Millisecond)), nil
			case err != nil:
				return nil, wrapError(ToolBash, err)
			}
			return formatResult(res), nil
		},
	}
}

// checkCommand applies the safety classification for the calling model.
func checkCommand(ctx context.Context, opts Options, execCtx *toolexecutor.ExecutionContext, command, root string) error {
	verdict := sandbox.ClassifyCommand(command, execCtx.Model)
	switch verdict.Level {
	case sandbox.SafetySafe:
		return nil

	case sandbox.SafetyBlocked:
		observability.RecordSandboxDenial("command_blocked")
		observability.RecordSandboxAudit(ctx, execCtx.SessionID, "command_blocked", map[string]interface{}{
			"command": command,
			"reason":  verdict.Reason,
			"tier":    string(verdict.Tier),
		})
		return &ToolError{
			Tool:    ToolBash,
			Code:    CodeBlocked,
			Message: fmt.Sprintf("command refused: %s", verdict.Reason),
			Err:     sandbox.ErrCommandBlocked,
		}
	}

	if opts.Approvals == nil {
		observability.RecordSandboxDenial("command_review")
		return &ToolError{
			Tool:    ToolBash,
			Code:    CodeBlocked,
			Message: fmt.Sprintf("command needs approval (%s) and no approver is configured", verdict.Reason),
			Err:     sandbox.ErrCommandBlocked,
		}
	}

	approved, err := opts.Approvals.RequestApproval(ctx, toolexecutor.ApprovalRequest{
		Command:   command,
		Cwd:       root,
		SessionID: execCtx.SessionID,
		AgentID:   execCtx.AgentID,
		Model:     execCtx.Model,
		Reason:    verdict.Reason,
	})
	observability.RecordSandboxAudit(ctx, execCtx.SessionID, "command_review", map[string]interface{}{
		"command":  command,
		"reason":   verdict.Reason,
		"approved": approved,
	})
	if err != nil && ctx.Err() != nil {
		return wrapError(ToolBash, ctx.Err())
	}
	if !approved {
		log.Info().Str("command", command).Str("reason", verdict.Reason).Msg("Command not approved")
		return &ToolError{
			Tool:    ToolBash,
			Code:    CodeDenied,
			Message: "command was not approved",
			Err:     sandbox.ErrCommandBlocked,
		}
	}
	return nil
}

func formatResult(res *sandbox.Result) string {
	if res == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(res.Stdout)
	if res.Stderr != "" {
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteByte('\n')
		}
		sb.WriteString(res.Stderr)
	}
	if res.ExitCode != 0 && !res.TimedOut {
		fmt.Fprintf(&sb, "\n[exit code: %d]", res.ExitCode)
	}
	if sb.Len() == 0 {
		return "(no output)"
	}
	return sb.String()
}
