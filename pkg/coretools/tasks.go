package coretools

import (
	"context"
	"fmt"
	"strings"

	"github.com/rockbite/localforge/pkg/session"
	"github.com/rockbite/localforge/pkg/toolexecutor"
)

var taskActions = []string{"list", "add", "edit", "status", "move", "remove"}

func tasksTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name: ToolTasks,
		Description: "Manage the session's task tree. Actions: list, add (title, description, parent_id), " +
			"edit (id, title, description), status (id, status), move (id, parent_id, index), remove (id).",
		Category: toolexecutor.CategoryGeneral,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "action", Type: "string", Description: "Operation to perform", Required: true, Enum: taskActions},
			{Name: "id", Type: "string", Description: "Task id"},
			{Name: "title", Type: "string", Description: "Task title"},
			{Name: "description", Type: "string", Description: "Task description"},
			{Name: "status", Type: "string", Description: "Task status", Enum: []string{
				string(session.TaskPending), string(session.TaskInProgress), string(session.TaskCompleted), string(session.TaskError),
			}},
			{Name: "parent_id", Type: "string", Description: "Parent task id; empty for the root"},
			{Name: "index", Type: "integer", Description: "Position among the new siblings; -1 appends"},
		},
		Progress: func(params map[string]interface{}) string {
			if stringParam(params, "action") == "list" {
				return "Reviewing tasks"
			}
			return "Updating tasks"
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			execCtx := toolexecutor.ExecContextFromContext(ctx)
			if execCtx == nil || execCtx.SessionID == "" {
				return nil, newToolError(ToolTasks, CodeInvalidArgument, "no session for task operations")
			}
			return runTaskAction(ctx, opts.Sessions, execCtx.SessionID, params)
		},
	}
}

func runTaskAction(ctx context.Context, m *session.Manager, sid string, params map[string]interface{}) (string, error) {
	id := stringParam(params, "id")
	requireID := func() error {
		if id == "" {
			return newToolError(ToolTasks, CodeInvalidArgument, "id is required")
		}
		return nil
	}

	switch stringParam(params, "action") {
	case "list":
		return renderTasks(ctx, m, sid)

	case "add":
		t, err := m.AddTask(ctx, sid, session.TaskInput{
			Title:       stringParam(params, "title"),
			Description: stringParam(params, "description"),
			Status:      session.TaskStatus(stringParam(params, "status")),
			ParentID:    stringParam(params, "parent_id"),
		})
		if err != nil {
			return "", wrapError(ToolTasks, err)
		}
		return fmt.Sprintf("Added task %s: %s", t.ID, t.Title), nil

	case "edit":
		if err := requireID(); err != nil {
			return "", err
		}
		var patch session.TaskPatch
		if v, ok := params["title"].(string); ok {
			patch.Title = &v
		}
		if v, ok := params["description"].(string); ok {
			patch.Description = &v
		}
		if v, ok := params["status"].(string); ok {
			st := session.TaskStatus(v)
			patch.Status = &st
		}
		t, err := m.EditTask(ctx, sid, id, patch)
		if err != nil {
			return "", wrapError(ToolTasks, err)
		}
		return fmt.Sprintf("Updated task %s: %s [%s]", t.ID, t.Title, t.Status), nil

	case "status":
		if err := requireID(); err != nil {
			return "", err
		}
		status := session.TaskStatus(stringParam(params, "status"))
		if err := m.SetTaskStatus(ctx, sid, id, status); err != nil {
			return "", wrapError(ToolTasks, err)
		}
		return fmt.Sprintf("Task %s is now %s", id, status), nil

	case "move":
		if err := requireID(); err != nil {
			return "", err
		}
		if err := m.MoveTask(ctx, sid, id, stringParam(params, "parent_id"), intParam(params, "index", -1)); err != nil {
			return "", wrapError(ToolTasks, err)
		}
		return fmt.Sprintf("Moved task %s", id), nil

	case "remove":
		if err := requireID(); err != nil {
			return "", err
		}
		if err := m.RemoveTask(ctx, sid, id); err != nil {
			return "", wrapError(ToolTasks, err)
		}
		return fmt.Sprintf("Removed task %s and its subtasks", id), nil
	}
	return "", newToolError(ToolTasks, CodeInvalidArgument, "unknown action")
}

func renderTasks(ctx context.Context, m *session.Manager, sid string) (string, error) {
	s, err := m.GetSession(ctx, sid)
	if err != nil {
		return "", wrapError(ToolTasks, err)
	}
	if len(s.Tasks) == 0 {
		return "No tasks.", nil
	}
	var sb strings.Builder
	session.WalkTasks(s.Tasks, func(t *session.Task, depth int) {
		fmt.Fprintf(&sb, "%s- [%s] %s: %s\n", strings.Repeat("  ", depth), t.Status, t.ID, t.Title)
	})
	return sb.String(), nil
}
