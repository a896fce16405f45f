package coretools

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rockbite/localforge/pkg/toolexecutor"
)

const maxGlobResults = 100

func globTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        ToolGlob,
		Description: "Find files matching a glob pattern such as \"**/*.go\". Returns paths sorted by modification time, newest first.",
		Category:    toolexecutor.CategoryRead,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "pattern", Type: "string", Description: "Glob pattern; patterns without a slash match file names at any depth", Required: true},
			{Name: "path", Type: "string", Description: "Directory to search (default: working directory)"},
		},
		Progress: progressPath("Finding", "pattern"),
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pattern := strings.TrimSpace(stringParam(params, "pattern"))
			if pattern == "" {
				return nil, newToolError(ToolGlob, CodeInvalidArgument, "pattern is required")
			}
			dir, _, err := resolve(ctx, ToolGlob, opts, stringParam(params, "path"))
			if err != nil {
				return nil, err
			}
			return globFiles(ctx, dir, pattern)
		},
	}
}

func globFiles(ctx context.Context, dir, pattern string) (string, error) {
	matcher, err := newGlobMatcher(pattern)
	if err != nil {
		return "", newToolError(ToolGlob, CodeInvalidArgument, "invalid pattern %q: %v", pattern, err)
	}

	type match struct {
		rel     string
		modTime time.Time
	}
	var matches []match
	walkErr := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if skipDir(d, p, dir) {
			return filepath.SkipDir
		}
		if d.IsDir() {
			return nil
		}
		rel := relSlash(dir, p)
		if !matcher.Match(rel) {
			return nil
		}
		m := match{rel: rel}
		if fi, err := d.Info(); err == nil {
			m.modTime = fi.ModTime()
		}
		matches = append(matches, m)
		return nil
	})
	if walkErr != nil {
		return "", wrapError(ToolGlob, walkErr)
	}
	if len(matches) == 0 {
		return "No files matched the pattern.", nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if !matches[i].modTime.Equal(matches[j].modTime) {
			return matches[i].modTime.After(matches[j].modTime)
		}
		return matches[i].rel < matches[j].rel
	})

	var sb strings.Builder
	for i, m := range matches {
		if i == maxGlobResults {
			fmt.Fprintf(&sb, "(results truncated, %d more files; use a more specific pattern)\n", len(matches)-maxGlobResults)
			break
		}
		sb.WriteString(m.rel)
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}
