// Package pathutil joins untrusted path segments onto trusted directories.
//
// SafeJoin is the only place assetd decides whether a request path stays
// inside a root. Both the root and the candidate are made absolute and
// symlink-resolved before comparison, and the comparison is done on whole
// path components, so "/var/www-evil" is never accepted for root "/var/www".
package pathutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when the joined path escapes the base directory.
// It is intentionally the same condition callers report for missing files.
var ErrNotFound = errors.New("pathutil: not found")

// SafeJoin joins segments onto base and returns the canonical result, or
// ErrNotFound when the result would leave base.
func SafeJoin(base string, segments ...string) (string, error) {
	for _, s := range segments {
		if strings.IndexByte(s, 0) >= 0 {
			return "", ErrNotFound
		}
	}

	root := Canonical(base)
	candidate := Canonical(filepath.Join(append([]string{base}, segments...)...))
	if !Contains(root, candidate) {
		return "", ErrNotFound
	}
	return candidate, nil
}

// Canonical returns p as an absolute, cleaned, symlink-resolved path. Paths
// that do not exist yet resolve their longest existing ancestor and keep the
// remainder lexically, so the result is deterministic and never an error.
func Canonical(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = filepath.Clean(p)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}

	dir, rest := abs, ""
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs
		}
		rest = filepath.Join(filepath.Base(dir), rest)
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			return filepath.Join(resolved, rest)
		}
		dir = parent
	}
}

// Contains reports whether candidate equals root or lies beneath it. Both
// arguments are compared component by component after filepath.Clean.
func Contains(root, candidate string) bool {
	r := components(root)
	c := components(candidate)
	if len(c) < len(r) {
		return false
	}
	for i := range r {
		if r[i] != c[i] {
			return false
		}
	}
	return true
}

// HasDotSegments reports whether a slash-separated request path contains a
// "." or ".." segment. Such paths are still joined normally; callers use this
// to count traversal attempts.
func HasDotSegments(p string) bool {
	for seg := range strings.SplitSeq(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

func components(p string) []string {
	p = filepath.Clean(p)
	vol := filepath.VolumeName(p)
	p = p[len(vol):]
	out := []string{vol}
	for _, part := range strings.Split(p, string(os.PathSeparator)) {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
