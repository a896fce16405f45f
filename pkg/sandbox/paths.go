package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rockbite/localforge/internal/observability"
)

// ResolvePath maps a tool-supplied path to an absolute path under root.
//
// Absolute candidates are accepted only when they lie under root. Relative
// candidates are first resolved against the process working directory and
// accepted if that lands under root; otherwise, unless they climb out with
// "..", they are retried relative to root. Every accepted path is a
// descendant of root, also after resolving symlinks of existing ancestors.
func ResolvePath(candidate, root string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", deny("path", candidate, "no working directory")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", deny("path", candidate, "invalid working directory")
	}
	if strings.ContainsRune(candidate, 0) {
		return "", deny("path", candidate, "invalid character")
	}
	if candidate == "" {
		candidate = "."
	}

	if filepath.IsAbs(candidate) {
		p := filepath.Clean(candidate)
		if !within(absRoot, p) {
			return "", deny("path", candidate, "outside working directory")
		}
		return checkLinks(absRoot, p, candidate)
	}

	if fromCwd, err := filepath.Abs(candidate); err == nil && within(absRoot, fromCwd) {
		return checkLinks(absRoot, fromCwd, candidate)
	}

	cleaned := filepath.Clean(candidate)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", deny("traversal", candidate, "path traversal")
	}
	joined := filepath.Join(absRoot, cleaned)
	if !within(absRoot, joined) {
		return "", deny("path", candidate, "outside working directory")
	}
	return checkLinks(absRoot, joined, candidate)
}

// within reports whether p is root or a descendant of it. Both must be
// clean absolute paths.
func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// checkLinks rejects p when its deepest existing ancestor resolves, through
// symlinks, outside the resolved root.
func checkLinks(root, p, candidate string) (string, error) {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		// Root does not exist yet; nothing below it can be a link.
		return p, nil
	}
	existing := p
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return p, nil
		}
		existing = parent
	}
	real, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", deny("symlink", candidate, "unresolvable path")
	}
	if !within(realRoot, real) {
		return "", deny("symlink", candidate, "symlink leads outside working directory")
	}
	return p, nil
}

func deny(kind, candidate, reason string) error {
	observability.RecordSandboxDenial(kind)
	return fmt.Errorf("%w: %s: %s", ErrSandboxDenied, reason, candidate)
}
