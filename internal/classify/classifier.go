// Package classify decides which paths are indexed and how.
package classify

import (
	"fmt"
	"mime"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"fsgraph/internal/fs"
	"fsgraph/internal/miner"
)

const (
	// GenericMIME is the hint for files whose type cannot be guessed.
	GenericMIME = "application/octet-stream"
	// DirectoryMIME is the hint for directories.
	DirectoryMIME = "inode/directory"
)

// Options configures a Classifier.
type Options struct {
	Roots []miner.Root
	// Ignore patterns apply under every root, in .fsgraphignore syntax.
	Ignore      []string
	IndexHidden bool
	// TextAllowlist globs are matched case-insensitively against basenames.
	TextAllowlist []string
	// ReadIgnoreFiles loads each root's .fsgraphignore on AddRoot.
	ReadIgnoreFiles bool
}

type rootState struct {
	root   miner.Root
	ignore *fs.IgnoreMatcher
}

// Classifier is the configured path classifier. Roots can be added and
// removed while the engine runs.
type Classifier struct {
	mu        sync.RWMutex
	roots     map[string]*rootState
	global    *fs.IgnoreMatcher
	hidden    bool
	allowlist []string
	readFiles bool
}

func New(opts Options) (*Classifier, error) {
	c := &Classifier{
		roots:     make(map[string]*rootState),
		global:    fs.NewIgnoreMatcher(opts.Ignore),
		hidden:    opts.IndexHidden,
		readFiles: opts.ReadIgnoreFiles,
	}
	for _, g := range opts.TextAllowlist {
		g = strings.ToLower(strings.TrimSpace(g))
		if g == "" {
			continue
		}
		if _, err := filepath.Match(g, ""); err != nil {
			return nil, fmt.Errorf("bad text allowlist pattern %q: %w", g, err)
		}
		c.allowlist = append(c.allowlist, g)
	}
	for _, r := range opts.Roots {
		if err := c.AddRoot(r); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// AddRoot registers a root, replacing any root at the same path.
func (c *Classifier) AddRoot(root miner.Root) error {
	if !filepath.IsAbs(root.Path) {
		return fmt.Errorf("root must be absolute: %s", root.Path)
	}
	root.Path = filepath.Clean(root.Path)

	var patterns []string
	if c.readFiles {
		var err error
		patterns, err = fs.ParseIgnoreFile(filepath.Join(root.Path, fs.IgnoreFileName))
		if err != nil {
			return fmt.Errorf("reading ignore file for %s: %w", root.Path, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.roots[root.Path] = &rootState{root: root, ignore: fs.NewIgnoreMatcher(patterns)}
	return nil
}

func (c *Classifier) RemoveRoot(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.roots, filepath.Clean(path))
}

// Roots returns the configured roots sorted by path.
func (c *Classifier) Roots() []miner.Root {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]miner.Root, 0, len(c.roots))
	for _, r := range c.roots {
		out = append(out, r.root)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Classify evaluates path against the current roots and patterns.
func (c *Classifier) Classify(path string, isDir bool) miner.Classification {
	path = filepath.Clean(path)
	cls := miner.Classification{Hint: Hint(path, isDir)}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var best *rootState
	for _, r := range c.roots {
		if !miner.IsUnder(path, r.root.Path) {
			continue
		}
		if best == nil || len(r.root.Path) > len(best.root.Path) {
			best = r
		}
	}
	if best == nil {
		return cls
	}
	cls.Root = best.root

	rel, err := filepath.Rel(best.root.Path, path)
	if err != nil {
		return cls
	}
	if rel != "." {
		components := strings.Split(rel, string(filepath.Separator))
		if !best.root.Recursive && len(components) > 1 {
			return cls
		}
		if !c.hidden {
			for _, comp := range components {
				if strings.HasPrefix(comp, ".") {
					return cls
				}
			}
		}
		if c.global.Match(rel) || best.ignore.Match(rel) {
			return cls
		}
	}

	cls.InScope = true
	cls.TextIndexEligible = !isDir && c.textEligible(filepath.Base(path))
	return cls
}

func (c *Classifier) textEligible(name string) bool {
	name = strings.ToLower(name)
	for _, g := range c.allowlist {
		if ok, _ := filepath.Match(g, name); ok {
			return true
		}
	}
	return false
}

// Hint guesses a MIME type from the file name alone.
func Hint(path string, isDir bool) string {
	if isDir {
		return DirectoryMIME
	}
	ext := filepath.Ext(path)
	if ext == "" {
		return GenericMIME
	}
	t := mime.TypeByExtension(strings.ToLower(ext))
	if t == "" {
		return GenericMIME
	}
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return t
}

var _ miner.Classifier = (*Classifier)(nil)
