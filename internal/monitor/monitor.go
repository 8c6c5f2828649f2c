// Package monitor turns fsnotify notifications into synchronizer events.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"fsgraph/internal/miner"
)

// Options configures a Monitor.
type Options struct {
	// CoalesceWindow debounces repeated file notifications.
	CoalesceWindow time.Duration
	// MoveWindow bounds how long a rename waits for its destination before
	// it is reported as a deletion.
	MoveWindow time.Duration
}

// Sink receives batches of events, typically Synchronizer.Enqueue.
type Sink func(ctx context.Context, events ...miner.Event) error

// Monitor watches the directories the synchronizer registers. It implements
// miner.Watcher; Watch and Unwatch are idempotent.
type Monitor struct {
	watcher    *fsnotify.Watcher
	classifier miner.Classifier
	clock      miner.Clock
	logger     miner.Logger
	opts       Options
	queue      *Queue

	mu      sync.Mutex
	watched map[string]struct{}

	// Owned by Run.
	pending *rename
	paired  map[string]time.Time
}

type rename struct {
	path     string
	isDir    bool
	deadline time.Time
}

var _ miner.Watcher = (*Monitor)(nil)

// New creates a Monitor. Nothing is watched until Watch is called.
func New(classifier miner.Classifier, clock miner.Clock, logger miner.Logger, opts Options) (*Monitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if opts.MoveWindow <= 0 {
		opts.MoveWindow = time.Second
	}
	return &Monitor{
		watcher:    watcher,
		classifier: classifier,
		clock:      clock,
		logger:     logger,
		opts:       opts,
		queue:      NewQueue(opts.CoalesceWindow),
		watched:    make(map[string]struct{}),
		paired:     make(map[string]time.Time),
	}, nil
}

// Watch starts monitoring dir.
func (m *Monitor) Watch(dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.watched[dir]; ok {
		return nil
	}
	if err := m.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	m.watched[dir] = struct{}{}
	return nil
}

// Unwatch stops monitoring dir. A directory the kernel already dropped,
// because it was deleted, is not an error.
func (m *Monitor) Unwatch(dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.watched[dir]; !ok {
		return nil
	}
	delete(m.watched, dir)
	if err := m.watcher.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return fmt.Errorf("failed to unwatch directory %s: %w", dir, err)
	}
	return nil
}

// Watched returns the number of watched directories.
func (m *Monitor) Watched() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watched)
}

func (m *Monitor) isWatched(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watched[path]
	return ok
}

// Close releases the underlying watcher.
func (m *Monitor) Close() error {
	if err := m.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Run translates notifications until ctx is cancelled, handing coalesced
// events to sink in order. Queued events are flushed on shutdown only if
// sink still accepts them.
func (m *Monitor) Run(ctx context.Context, sink Sink) error {
	ticker := time.NewTicker(m.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case raw, ok := <-m.watcher.Events:
			if !ok {
				return nil
			}
			m.translate(raw)
			if err := m.drain(ctx, sink); err != nil {
				return err
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return nil
			}
			// Overflow means lost notifications; the next crawl repairs them.
			m.logger.Warn("watcher error", "error", err)

		case <-ticker.C:
			m.expire()
			if err := m.drain(ctx, sink); err != nil {
				return err
			}
		}
	}
}

func (m *Monitor) tickInterval() time.Duration {
	d := m.opts.MoveWindow
	if w := m.opts.CoalesceWindow; w > 0 && w < d {
		d = w
	}
	d /= 4
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return d
}

func (m *Monitor) drain(ctx context.Context, sink Sink) error {
	events := m.queue.Due(m.clock.Now())
	if len(events) == 0 {
		return nil
	}
	if err := sink(ctx, events...); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("delivering events: %w", err)
	}
	return nil
}

// translate maps one fsnotify event. A Rename is held until the next raw
// event: a Create completes the move, anything else turns it into a delete.
func (m *Monitor) translate(raw fsnotify.Event) {
	now := m.clock.Now()
	path := raw.Name

	if raw.Has(fsnotify.Rename) {
		if until, ok := m.paired[path]; ok && now.Before(until) {
			// The moved directory's own watch reports the move again.
			return
		}
		if m.pending != nil && m.pending.path == path {
			return
		}
		m.resolvePending(now)
		m.pending = &rename{path: path, isDir: m.isWatched(path), deadline: now.Add(m.opts.MoveWindow)}
		return
	}

	if raw.Has(fsnotify.Create) {
		isDir := isDirectory(path)
		if p := m.pending; p != nil {
			m.pending = nil
			token := uuid.NewString()
			m.paired[p.path] = now.Add(m.opts.MoveWindow)
			m.queue.Add(miner.Event{Op: miner.OpMovedFrom, Path: p.path, IsDir: p.isDir, Token: token, Time: now}, now)
			m.queue.Add(miner.Event{Op: miner.OpMovedTo, Path: path, IsDir: isDir, Token: token, Time: now}, now)
			return
		}
		if isDir && m.classifier.Classify(path, true).InScope {
			// Watch before the synchronizer does so early children are seen.
			if err := m.Watch(path); err != nil {
				m.logger.Debug("early watch failed", "path", path, "error", err)
			}
		}
		m.queue.Add(miner.Event{Op: miner.OpCreated, Path: path, IsDir: isDir, Time: now}, now)
		return
	}

	m.resolvePending(now)
	switch {
	case raw.Has(fsnotify.Remove):
		m.queue.Add(miner.Event{Op: miner.OpDeleted, Path: path, IsDir: m.isWatched(path), Time: now}, now)
	case raw.Has(fsnotify.Write):
		m.queue.Add(miner.Event{Op: miner.OpModified, Path: path, Time: now}, now)
	case raw.Has(fsnotify.Chmod):
		m.queue.Add(miner.Event{Op: miner.OpAttributeChanged, Path: path, IsDir: isDirectory(path), Time: now}, now)
	}
}

// resolvePending reports an unpaired rename as a deletion.
func (m *Monitor) resolvePending(now time.Time) {
	p := m.pending
	if p == nil {
		return
	}
	m.pending = nil
	m.queue.Add(miner.Event{Op: miner.OpDeleted, Path: p.path, IsDir: p.isDir, Time: now}, now)
}

func (m *Monitor) expire() {
	now := m.clock.Now()
	if m.pending != nil && !now.Before(m.pending.deadline) {
		m.resolvePending(now)
	}
	for path, until := range m.paired {
		if !now.Before(until) {
			delete(m.paired, path)
		}
	}
}

func isDirectory(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.IsDir()
}
