// Package crawler enumerates indexed trees breadth-first.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"fsgraph/internal/miner"
)

// Crawler walks directories through a FilesystemManager, pruning whatever
// the classifier puts out of scope.
type Crawler struct {
	fsmgr      miner.FilesystemManager
	classifier miner.Classifier
	clock      miner.Clock
	logger     miner.Logger
}

func New(fsmgr miner.FilesystemManager, classifier miner.Classifier, clock miner.Clock, logger miner.Logger) *Crawler {
	return &Crawler{fsmgr: fsmgr, classifier: classifier, clock: clock, logger: logger}
}

// Crawl emits a Created event for root and every in-scope entry beneath it,
// each directory before its children. Unreadable directories are skipped
// and reported in the returned error once the walk completes, so callers
// can tell a partial crawl from a complete one.
func (c *Crawler) Crawl(ctx context.Context, root string, recursive bool, emit func(miner.Event) error) error {
	root = filepath.Clean(root)
	info, err := c.fsmgr.Stat(root)
	if err != nil {
		return fmt.Errorf("stat crawl root: %w", err)
	}
	if !c.classifier.Classify(root, info.IsDir()).InScope {
		return fmt.Errorf("crawling %s: %w", root, miner.ErrOutOfScope)
	}
	if err := emit(c.event(root, info.IsDir())); err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}

	var skipped []error
	queue := []string{root}
	dirs, files := 1, 0
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		dir := queue[0]
		queue = queue[1:]

		entries, err := c.fsmgr.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			c.logger.Warn("skipping unreadable directory", "path", dir, "error", err)
			skipped = append(skipped, fmt.Errorf("reading %s: %w", dir, err))
			continue
		}

		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			isDir := entry.IsDir()
			if !isDir && !entry.Type().IsRegular() {
				continue
			}
			if !c.classifier.Classify(path, isDir).InScope {
				continue
			}
			if err := emit(c.event(path, isDir)); err != nil {
				return err
			}
			if isDir {
				dirs++
				if recursive {
					queue = append(queue, path)
				}
			} else {
				files++
			}
		}
	}

	c.logger.Debug("crawled", "root", root, "directories", dirs, "files", files)
	return errors.Join(skipped...)
}

func (c *Crawler) event(path string, isDir bool) miner.Event {
	return miner.Event{Op: miner.OpCreated, Path: path, IsDir: isDir, Time: c.clock.Now()}
}

var _ miner.Crawler = (*Crawler)(nil)
