package coretools

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/rockbite/localforge/pkg/toolexecutor"
)

const (
	defaultSearchResults = 100
	maxSearchFileBytes   = 2 << 20
	searchMatchTimeout   = time.Second
)

func searchTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        ToolSearch,
		Description: "Search file contents with a regular expression. Returns matching lines as path:line: text.",
		Category:    toolexecutor.CategoryRead,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "pattern", Type: "string", Description: "Regular expression to search for", Required: true},
			{Name: "path", Type: "string", Description: "File or directory to search (default: working directory)"},
			{Name: "include", Type: "string", Description: "Only search files matching this glob, e.g. \"*.go\""},
			{Name: "case_insensitive", Type: "boolean", Description: "Ignore case (default false)"},
			{Name: "max_results", Type: "integer", Description: "Maximum number of matching lines (default 100)"},
		},
		Progress: progressPath("Searching for", "pattern"),
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pattern := stringParam(params, "pattern")
			if pattern == "" {
				return nil, newToolError(ToolSearch, CodeInvalidArgument, "pattern is required")
			}
			target, root, err := resolve(ctx, ToolSearch, opts, stringParam(params, "path"))
			if err != nil {
				return nil, err
			}

			reOpts := regexp2.None
			if boolParam(params, "case_insensitive") {
				reOpts |= regexp2.IgnoreCase
			}
			re, err := regexp2.Compile(pattern, reOpts)
			if err != nil {
				return nil, newToolError(ToolSearch, CodeInvalidArgument, "invalid pattern: %v", err)
			}
			re.MatchTimeout = searchMatchTimeout

			var include *globMatcher
			if inc := stringParam(params, "include"); inc != "" {
				if include, err = newGlobMatcher(inc); err != nil {
					return nil, newToolError(ToolSearch, CodeInvalidArgument, "invalid include pattern %q", inc)
				}
			}

			s := &searcher{re: re, include: include, root: root, max: intParam(params, "max_results", defaultSearchResults)}
			if s.max <= 0 {
				s.max = defaultSearchResults
			}
			return s.run(ctx, target)
		},
	}
}

type searcher struct {
	re      *regexp2.Regexp
	include *globMatcher
	root    string
	max     int

	out       strings.Builder
	count     int
	truncated bool
}

func (s *searcher) run(ctx context.Context, target string) (string, error) {
	err := filepath.WalkDir(target, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == target {
				return err
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if skipDir(d, p, target) {
			return filepath.SkipDir
		}
		if d.IsDir() {
			return nil
		}
		if s.include != nil && !s.include.Match(relSlash(s.root, p)) {
			return nil
		}
		if err := s.searchFile(p); err != nil {
			return err
		}
		if s.truncated {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", wrapError(ToolSearch, err)
	}
	if s.count == 0 {
		return "No matches found.", nil
	}
	if s.truncated {
		fmt.Fprintf(&s.out, "(results truncated at %d matches)\n", s.max)
	}
	return s.out.String(), nil
}

func (s *searcher) searchFile(path string) error {
	info, err := os.Stat(path)
	if err != nil || info.Size() > maxSearchFileBytes {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil || !isText(data) {
		return nil
	}

	rel := relSlash(s.root, path)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), maxSearchFileBytes)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		ok, err := s.re.MatchString(text)
		if err != nil {
			return newToolError(ToolSearch, CodeTimeout, "pattern took too long on %s:%d", rel, line)
		}
		if !ok {
			continue
		}
		if s.count == s.max {
			s.truncated = true
			return nil
		}
		if len(text) > maxLineLength {
			text = text[:maxLineLength] + "..."
		}
		fmt.Fprintf(&s.out, "%s:%d: %s\n", rel, line, text)
		s.count++
	}
	return nil
}
