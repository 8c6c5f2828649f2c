package miner

import (
	"context"
	"sync"
	"time"
)

// Status is the coarse engine state.
type Status int

const (
	StatusIdle Status = iota
	StatusProcessing
)

func (s Status) String() string {
	if s == StatusProcessing {
		return "processing"
	}
	return "idle"
}

// Progress is a snapshot of the tracker.
type Progress struct {
	Status Status
	Cycles uint64
}

// Tracker publishes Idle/Processing transitions and counts settle cycles:
// one cycle per Processing -> Idle transition.
type Tracker struct {
	mu      sync.Mutex
	status  Status
	cycles  uint64
	changed chan struct{}
	subs    map[chan Progress]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{
		changed: make(chan struct{}),
		subs:    make(map[chan Progress]struct{}),
	}
}

// Status returns the current status.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Cycles returns the number of completed settle cycles.
func (t *Tracker) Cycles() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cycles
}

// Set records whether the engine has outstanding work.
func (t *Tracker) Set(busy bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case busy && t.status == StatusIdle:
		t.status = StatusProcessing
	case !busy && t.status == StatusProcessing:
		t.status = StatusIdle
		t.cycles++
	default:
		return
	}

	close(t.changed)
	t.changed = make(chan struct{})
	p := Progress{Status: t.status, Cycles: t.cycles}
	for ch := range t.subs {
		select {
		case ch <- p:
		default:
		}
	}
}

// AwaitCycleCount blocks until at least n settle cycles have completed.
// It returns ErrSettleTimeout after timeout, or ctx.Err() on cancellation.
func (t *Tracker) AwaitCycleCount(ctx context.Context, n uint64, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		t.mu.Lock()
		if t.cycles >= n {
			t.mu.Unlock()
			return nil
		}
		changed := t.changed
		t.mu.Unlock()

		select {
		case <-changed:
		case <-timer.C:
			return ErrSettleTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Subscribe returns a channel of status transitions. Slow subscribers miss
// transitions rather than stall the engine.
func (t *Tracker) Subscribe() (<-chan Progress, func()) {
	ch := make(chan Progress, 16)
	t.mu.Lock()
	t.subs[ch] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, ch)
			t.mu.Unlock()
		})
	}
}
