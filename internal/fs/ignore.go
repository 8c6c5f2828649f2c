package fs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the per-root ignore file. It is never indexed itself.
const IgnoreFileName = ".fsgraphignore"

// ignorePattern is a parsed ignore pattern with its matching strategy.
type ignorePattern struct {
	pattern   string
	matchPath bool // true = match against a relative path prefix; false = match against a single component
}

// IgnoreMatcher checks root-relative paths against a set of ignore patterns.
// Patterns without '/' match any single path component, so ignoring a
// directory name ignores everything beneath it.
// Patterns with '/' match the relative path or any of its parent prefixes.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
// Blank lines and lines starting with '#' are skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []ignorePattern
	for _, raw := range append([]string{IgnoreFileName}, rawPatterns...) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		patterns = append(patterns, ignorePattern{
			pattern:   strings.TrimSuffix(raw, "/"),
			matchPath: strings.Contains(strings.TrimSuffix(raw, "/"), "/"),
		})
	}
	return &IgnoreMatcher{patterns: patterns}
}

// Match reports whether the given relative path should be ignored.
// relativePath should use filepath separators and be relative to the root.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	if relativePath == "" || relativePath == "." {
		return false
	}

	// Normalize to forward slashes for consistent matching.
	components := strings.Split(filepath.ToSlash(relativePath), "/")
	for i, component := range components {
		prefix := strings.Join(components[:i+1], "/")
		for _, p := range m.patterns {
			target := component
			if p.matchPath {
				target = prefix
			}
			matched, err := filepath.Match(p.pattern, target)
			if err != nil {
				// Bad pattern: skip rather than crash.
				continue
			}
			if matched {
				return true
			}
		}
	}
	return false
}

// ParseIgnoreFile reads an ignore file and returns the raw pattern strings.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

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
