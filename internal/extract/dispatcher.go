// Package extract runs metadata extraction for the synchronizer.
package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fsgraph/internal/miner"
)

// Dispatcher is a bounded worker pool with at most one task per resource.
type Dispatcher struct {
	extractor miner.Extractor
	logger    miner.Logger
	workers   int
	timeout   time.Duration
	results   chan miner.ExtractResult
	wake      chan struct{}

	mu    sync.Mutex
	queue []string
	jobs  map[string]*job
}

type job struct {
	task      miner.ExtractTask
	running   bool
	dirty     bool
	cancelled bool
	cancel    context.CancelFunc
}

var _ miner.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher. Nothing runs until Run is called.
func NewDispatcher(extractor miner.Extractor, logger miner.Logger, workers int, timeout time.Duration) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		extractor: extractor,
		logger:    logger,
		workers:   workers,
		timeout:   timeout,
		results:   make(chan miner.ExtractResult, workers),
		wake:      make(chan struct{}, 1),
		jobs:      make(map[string]*job),
	}
}

func (d *Dispatcher) Submit(task miner.ExtractTask) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	j, ok := d.jobs[task.ResourceID]
	switch {
	case !ok:
		d.jobs[task.ResourceID] = &job{task: task}
		d.queue = append(d.queue, task.ResourceID)
		d.signal()
		return false
	case j.cancelled:
		// The cancelled run is still unwinding; reuse it for the new task.
		j.task = task
		j.cancelled = false
		j.dirty = true
		return false
	case j.running:
		if j.task != task {
			j.task = task
			j.dirty = true
		}
		return true
	default:
		j.task = task
		return true
	}
}

func (d *Dispatcher) Cancel(resourceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	j, ok := d.jobs[resourceID]
	if !ok {
		return
	}
	if !j.running {
		delete(d.jobs, resourceID)
		d.dequeue(resourceID)
		return
	}
	j.cancelled = true
	j.dirty = false
	if j.cancel != nil {
		j.cancel()
	}
}

// Retarget points a task at a new path. A running extraction still reads
// the old path, so it is abandoned and run again at the new one.
func (d *Dispatcher) Retarget(resourceID, path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, ok := d.jobs[resourceID]
	if !ok || j.task.Path == path {
		return
	}
	j.task.Path = path
	if j.running && !j.cancelled {
		j.dirty = true
		if j.cancel != nil {
			j.cancel()
		}
	}
}

func (d *Dispatcher) Results() <-chan miner.ExtractResult {
	return d.results
}

// Len returns the number of queued and running tasks.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

// Run starts the workers and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			d.work(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		id, ok := d.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-d.wake:
				continue
			}
		}
		d.run(ctx, id)
		if ctx.Err() != nil {
			return
		}
	}
}

// next pops the oldest queued resource and marks it running.
func (d *Dispatcher) next() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return "", false
	}
	id := d.queue[0]
	d.queue = d.queue[1:]
	d.jobs[id].running = true
	if len(d.queue) > 0 {
		d.signal()
	}
	return id, true
}

func (d *Dispatcher) run(ctx context.Context, id string) {
	for {
		d.mu.Lock()
		j := d.jobs[id]
		task := j.task
		jctx, cancel := context.WithTimeout(ctx, d.timeout)
		j.cancel = cancel
		j.dirty = false
		d.mu.Unlock()

		set, err := d.extract(jctx, task)
		timedOut := errors.Is(jctx.Err(), context.DeadlineExceeded)
		cancel()

		d.mu.Lock()
		if j.dirty {
			d.mu.Unlock()
			d.logger.Debug("rerunning extraction for changed file", "path", j.task.Path)
			continue
		}
		delete(d.jobs, id)
		cancelled := j.cancelled
		d.mu.Unlock()

		if cancelled || ctx.Err() != nil {
			return
		}
		if timedOut {
			set, err = nil, &miner.ExtractionError{Path: task.Path, Reason: miner.ReasonTimeout, Err: fmt.Errorf("no result after %s", d.timeout)}
		}
		select {
		case d.results <- miner.ExtractResult{Task: task, Set: set, Err: err}:
		case <-ctx.Done():
		}
		return
	}
}

// extract enforces the deadline even against extractors that ignore ctx,
// and turns panics into crash failures.
func (d *Dispatcher) extract(ctx context.Context, task miner.ExtractTask) (*miner.StatementSet, error) {
	type outcome struct {
		set *miner.StatementSet
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &miner.ExtractionError{Path: task.Path, Reason: miner.ReasonCrash, Err: fmt.Errorf("extractor panic: %v", r)}}
			}
		}()
		set, err := d.extractor.Extract(ctx, task)
		done <- outcome{set: set, err: err}
	}()

	select {
	case o := <-done:
		return o.set, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) dequeue(id string) {
	for i, q := range d.queue {
		if q == id {
			d.queue = append(d.queue[:i], d.queue[i+1:]...)
			return
		}
	}
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}
