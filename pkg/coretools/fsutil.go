package coretools

import (
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// skippedDirs are never descended into by list, glob and search.
var skippedDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	".idea":        true,
}

func skipDir(d fs.DirEntry, path, root string) bool {
	if !d.IsDir() || path == root {
		return false
	}
	return skippedDirs[d.Name()]
}

// isText reports whether content looks like text. Every textual type in
// mimetype's tree descends from text/plain.
func isText(data []byte) bool {
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// relSlash returns p relative to root with forward slashes.
func relSlash(root, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

// compileGlob translates a glob with "**", "*", "?", "[...]" and "{a,b}"
// into an anchored regular expression over slash-separated paths.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	inClass := false
	braces := 0
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if inClass {
			if c == ']' {
				inClass = false
			}
			if c == '!' && pattern[i-1] == '[' {
				c = '^'
			}
			b.WriteByte(c)
			continue
		}
		switch c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				i++
				if i+1 < len(pattern) && pattern[i+1] == '/' {
					i++
					b.WriteString("(?:.*/)?")
				} else {
					b.WriteString(".*")
				}
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		case '[':
			inClass = true
			b.WriteByte(c)
		case '{':
			braces++
			b.WriteString("(?:")
		case '}':
			if braces > 0 {
				braces--
				b.WriteString(")")
			} else {
				b.WriteString(`\}`)
			}
		case ',':
			if braces > 0 {
				b.WriteString("|")
			} else {
				b.WriteString(",")
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// globMatcher matches a path relative to the search root. Patterns without
// a slash match the base name at any depth.
type globMatcher struct {
	re       *regexp.Regexp
	baseOnly bool
}

func newGlobMatcher(pattern string) (*globMatcher, error) {
	re, err := compileGlob(pattern)
	if err != nil {
		return nil, err
	}
	return &globMatcher{re: re, baseOnly: !strings.Contains(pattern, "/")}, nil
}

func (g *globMatcher) Match(rel string) bool {
	if g.baseOnly {
		return g.re.MatchString(pathBase(rel))
	}
	return g.re.MatchString(rel)
}

func pathBase(rel string) string {
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		return rel[i+1:]
	}
	return rel
}
