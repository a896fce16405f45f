package coretools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	udiff "github.com/aymanbagabas/go-udiff"
	"github.com/rockbite/localforge/pkg/toolexecutor"
)

func writeTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        ToolWrite,
		Description: "Write a file, replacing any existing content. Parent directories are created as needed.",
		Category:    toolexecutor.CategoryWrite,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "file_path", Type: "string", Description: "Path to the file, relative to the working directory or absolute within it", Required: true},
			{Name: "content", Type: "string", Description: "The full file content", Required: true},
		},
		Progress: progressPath("Writing", "file_path"),
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			target, root, err := resolve(ctx, ToolWrite, opts, stringParam(params, "file_path"))
			if err != nil {
				return nil, err
			}
			content := stringParam(params, "content")

			old, existed, err := readExisting(ToolWrite, target)
			if err != nil {
				return nil, err
			}
			if err := writeFile(ToolWrite, target, content); err != nil {
				return nil, err
			}

			rel := relSlash(root, target)
			if !existed {
				return fmt.Sprintf("Created %s (%d bytes)", rel, len(content)), nil
			}
			return fmt.Sprintf("Updated %s (%d bytes)\n%s", rel, len(content), diff(rel, old, content)), nil
		},
	}
}

func editTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name: ToolEdit,
		Description: "Replace an exact string in a file. old_string must be unique unless replace_all is true. " +
			"An empty old_string creates a new file with new_string as its content.",
		Category: toolexecutor.CategoryWrite,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "file_path", Type: "string", Description: "Path to the file to edit", Required: true},
			{Name: "old_string", Type: "string", Description: "Exact text to replace", Required: true},
			{Name: "new_string", Type: "string", Description: "Replacement text", Required: true},
			{Name: "replace_all", Type: "boolean", Description: "Replace every occurrence (default false)"},
		},
		Progress: progressPath("Editing", "file_path"),
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			target, root, err := resolve(ctx, ToolEdit, opts, stringParam(params, "file_path"))
			if err != nil {
				return nil, err
			}
			oldString := stringParam(params, "old_string")
			newString := stringParam(params, "new_string")
			rel := relSlash(root, target)

			content, existed, err := readExisting(ToolEdit, target)
			if err != nil {
				return nil, err
			}

			if oldString == "" {
				if existed {
					return nil, newToolError(ToolEdit, CodeInvalidArgument, "%s already exists; old_string must not be empty", rel)
				}
				if err := writeFile(ToolEdit, target, newString); err != nil {
					return nil, err
				}
				return fmt.Sprintf("Created %s (%d bytes)", rel, len(newString)), nil
			}
			if !existed {
				return nil, newToolError(ToolEdit, CodeNotFound, "file not found: %s", rel)
			}
			if oldString == newString {
				return nil, newToolError(ToolEdit, CodeInvalidArgument, "old_string and new_string are identical")
			}

			count := strings.Count(content, oldString)
			switch {
			case count == 0:
				return nil, newToolError(ToolEdit, CodeNotFound, "old_string not found in %s", rel)
			case count > 1 && !boolParam(params, "replace_all"):
				return nil, newToolError(ToolEdit, CodeInvalidArgument,
					"old_string found %d times in %s; add surrounding context to make it unique or set replace_all", count, rel)
			}

			var updated string
			if boolParam(params, "replace_all") {
				updated = strings.ReplaceAll(content, oldString, newString)
			} else {
				updated = strings.Replace(content, oldString, newString, 1)
				count = 1
			}
			if err := writeFile(ToolEdit, target, updated); err != nil {
				return nil, err
			}
			return fmt.Sprintf("Replaced %d occurrence(s) in %s\n%s", count, rel, diff(rel, content, updated)), nil
		},
	}
}

func readExisting(tool, path string) (string, bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapError(tool, err)
	}
	if info.IsDir() {
		return "", false, newToolError(tool, CodeInvalidArgument, "%s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, wrapError(tool, err)
	}
	return string(data), true, nil
}

func writeFile(tool, path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return wrapError(tool, err)
	}
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		return wrapError(tool, err)
	}
	return nil
}

func diff(name, before, after string) string {
	return udiff.Unified("a/"+name, "b/"+name, before, after)
}
