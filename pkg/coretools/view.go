package coretools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rockbite/localforge/pkg/toolexecutor"
)

const (
	defaultViewLines = 2000
	maxLineLength    = 2000
	maxViewBytes     = 10 << 20
)

func viewTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        ToolView,
		Description: "Read a file from the working directory. Returns line-numbered content.",
		Category:    toolexecutor.CategoryRead,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "file_path", Type: "string", Description: "Path to the file, relative to the working directory or absolute within it", Required: true},
			{Name: "offset", Type: "integer", Description: "1-based line number to start reading from"},
			{Name: "limit", Type: "integer", Description: "Maximum number of lines to read (default 2000)"},
		},
		Progress: progressPath("Reading", "file_path"),
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			target, _, err := resolve(ctx, ToolView, opts, stringParam(params, "file_path"))
			if err != nil {
				return nil, err
			}
			return viewFile(target, intParam(params, "offset", 1), intParam(params, "limit", defaultViewLines))
		},
	}
}

func viewFile(path string, offset, limit int) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", wrapError(ToolView, err)
	}
	if info.IsDir() {
		return "", newToolError(ToolView, CodeInvalidArgument, "%s is a directory, use list instead", path)
	}
	if info.Size() > maxViewBytes {
		return "", newToolError(ToolView, CodeInvalidArgument, "file is too large (%d bytes)", info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", wrapError(ToolView, err)
	}
	if len(data) == 0 {
		return "(empty file)", nil
	}
	if !isText(data) {
		return "", newToolError(ToolView, CodeInvalidArgument, "%s is a binary file", path)
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if offset < 1 {
		offset = 1
	}
	if limit <= 0 {
		limit = defaultViewLines
	}
	start := offset - 1
	if start >= len(lines) {
		return "", newToolError(ToolView, CodeInvalidArgument, "offset %d is past the end of the file (%d lines)", offset, len(lines))
	}
	end := start + limit
	if end > len(lines) {
		end = len(lines)
	}

	var sb strings.Builder
	for i := start; i < end; i++ {
		line := strings.TrimSuffix(lines[i], "\r")
		if len(line) > maxLineLength {
			line = line[:maxLineLength] + "..."
		}
		fmt.Fprintf(&sb, "%6d\t%s\n", i+1, line)
	}
	if end < len(lines) {
		fmt.Fprintf(&sb, "... (%d more lines, continue with offset %d)\n", len(lines)-end, end+1)
	}
	return sb.String(), nil
}
