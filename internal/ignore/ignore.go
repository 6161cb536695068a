// Package ignore filters paths against .dupeignore glob patterns.
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the per-directory ignore file consulted by the
// hash scheduler.
const IgnoreFileName = ".dupeignore"

// pattern is a parsed ignore pattern with its matching strategy.
type pattern struct {
	glob      string
	matchPath bool // true = match against the path below root; false = basename only
}

// Matcher reports whether paths should be excluded from hashing.
//
// Patterns without '/' match against the entry's basename. Patterns with
// '/' match against the slash-normalised path relative to the matcher's
// root. The matcher is immutable after construction and safe for
// concurrent use.
type Matcher struct {
	root     string
	patterns []pattern
	parent   *Matcher
}

// NewMatcher creates a Matcher from raw pattern strings, rooted at root.
// Blank lines and lines starting with '#' are skipped.
func NewMatcher(root string, rawPatterns []string) *Matcher {
	var patterns []pattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		patterns = append(patterns, pattern{
			glob:      raw,
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return &Matcher{root: root, patterns: patterns}
}

// Load builds a Matcher for root from the .dupeignore file inside it
// (if any) plus extra patterns supplied by the caller. A missing ignore
// file is not an error.
func Load(root string, extra []string) (*Matcher, error) {
	patterns, err := ParseIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	return NewMatcher(root, append(patterns, extra...)), nil
}

// Extend returns a matcher that also applies the .dupeignore file inside
// dir, if one exists. When dir carries no patterns the receiver is
// returned unchanged. Parent patterns keep applying below dir.
func (m *Matcher) Extend(dir string) (*Matcher, error) {
	patterns, err := ParseIgnoreFile(filepath.Join(dir, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		return m, nil
	}
	child := NewMatcher(dir, patterns)
	child.parent = m
	return child, nil
}

// Match reports whether the given absolute path should be ignored.
func (m *Matcher) Match(path string) bool {
	if m == nil {
		return false
	}
	if m.parent.Match(path) {
		return true
	}
	if len(m.patterns) == 0 {
		return false
	}

	rel, err := filepath.Rel(m.root, path)
	if err != nil {
		rel = path
	}
	normalized := filepath.ToSlash(rel)
	basename := filepath.Base(path)

	for _, p := range m.patterns {
		var matched bool
		var err error
		if p.matchPath {
			matched, err = filepath.Match(p.glob, normalized)
		} else {
			matched, err = filepath.Match(p.glob, basename)
		}
		if err != nil {
			// Bad pattern — skip rather than crash.
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// ParseIgnoreFile reads an ignore file and returns the raw pattern lines.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
