package coretools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rockbite/localforge/pkg/toolexecutor"
)

const maxListEntries = 1000

func listTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        ToolList,
		Description: "List files and directories as a tree. Hidden entries and dependency directories are skipped.",
		Category:    toolexecutor.CategoryRead,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Directory to list (default: working directory)"},
			{Name: "ignore", Type: "array", Description: "Glob patterns to leave out", Items: map[string]interface{}{"type": "string"}},
		},
		Progress: func(params map[string]interface{}) string {
			if p := stringParam(params, "path"); p != "" {
				return "Listing " + p
			}
			return "Listing files"
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			dir, _, err := resolve(ctx, ToolList, opts, stringParam(params, "path"))
			if err != nil {
				return nil, err
			}
			var ignore []*globMatcher
			for _, pattern := range stringSliceParam(params, "ignore") {
				m, err := newGlobMatcher(pattern)
				if err != nil {
					return nil, newToolError(ToolList, CodeInvalidArgument, "invalid ignore pattern %q", pattern)
				}
				ignore = append(ignore, m)
			}
			return listDir(ctx, dir, ignore)
		},
	}
}

type listEntry struct {
	rel   string
	depth int
	dir   bool
	size  int64
}

func listDir(ctx context.Context, dir string, ignore []*globMatcher) (string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return "", wrapError(ToolList, err)
	}
	if !info.IsDir() {
		return "", newToolError(ToolList, CodeInvalidArgument, "%s is not a directory", dir)
	}

	var entries []listEntry
	truncated := false
	walkErr := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p == dir {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") || skipDir(d, p, dir) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel := relSlash(dir, p)
		for _, m := range ignore {
			if m.Match(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if len(entries) >= maxListEntries {
			truncated = true
			return filepath.SkipAll
		}
		e := listEntry{rel: rel, depth: strings.Count(rel, "/"), dir: d.IsDir()}
		if !e.dir {
			if fi, err := d.Info(); err == nil {
				e.size = fi.Size()
			}
		}
		entries = append(entries, e)
		return nil
	})
	if walkErr != nil {
		return "", wrapError(ToolList, walkErr)
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })

	var sb strings.Builder
	fmt.Fprintf(&sb, "- %s/\n", dir)
	for _, e := range entries {
		indent := strings.Repeat("  ", e.depth+1)
		if e.dir {
			fmt.Fprintf(&sb, "%s- %s/\n", indent, pathBase(e.rel))
		} else {
			fmt.Fprintf(&sb, "%s- %s (%s)\n", indent, pathBase(e.rel), humanize.Bytes(uint64(e.size)))
		}
	}
	if truncated {
		fmt.Fprintf(&sb, "\n(listing truncated at %d entries, list a subdirectory for more)\n", maxListEntries)
	}
	return sb.String(), nil
}
