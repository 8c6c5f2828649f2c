package monitor

import (
	"sort"
	"time"

	"fsgraph/internal/miner"
)

// Queue coalesces bursts of file events. Created, Modified and
// AttributeChanged for one file are held for the coalesce window, measured
// from the latest event, and collapse into one. A file that keeps changing
// is still released maxHoldWindows windows after its first event, so
// continuous writers reach the graph periodically. Every other event releases
// held events on overlapping paths first, so per-path order is preserved.
// Queue is not safe for concurrent use.
type Queue struct {
	window time.Duration
	held   map[string]*heldEvent
	ready  []miner.Event
}

// maxHoldWindows bounds how long a busy file is held, in coalesce windows.
const maxHoldWindows = 4

type heldEvent struct {
	ev       miner.Event
	due      time.Time
	deadline time.Time
}

func NewQueue(window time.Duration) *Queue {
	return &Queue{window: window, held: make(map[string]*heldEvent)}
}

// Add queues ev observed at now.
func (q *Queue) Add(ev miner.Event, now time.Time) {
	if q.window <= 0 {
		q.ready = append(q.ready, ev)
		return
	}

	switch {
	case coalescable(ev):
		if h, ok := q.held[ev.Path]; ok {
			h.ev.Op = merge(h.ev.Op, ev.Op)
			h.ev.Time = ev.Time
			h.due = now.Add(q.window)
			if h.due.After(h.deadline) {
				h.due = h.deadline
			}
			return
		}
		q.held[ev.Path] = &heldEvent{
			ev:       ev,
			due:      now.Add(q.window),
			deadline: now.Add(maxHoldWindows * q.window),
		}
	case ev.Op == miner.OpDeleted:
		for path := range q.held {
			if miner.IsUnder(path, ev.Path) {
				delete(q.held, path)
			}
		}
		q.ready = append(q.ready, ev)
	default:
		q.release(func(path string) bool {
			return miner.IsUnder(path, ev.Path) || miner.IsUnder(ev.Path, path)
		})
		q.ready = append(q.ready, ev)
	}
}

// Due returns the events ready at now, in order.
func (q *Queue) Due(now time.Time) []miner.Event {
	q.release(func(path string) bool { return !q.held[path].due.After(now) })
	return q.take()
}

// Flush returns every queued event, held or not.
func (q *Queue) Flush() []miner.Event {
	q.release(func(string) bool { return true })
	return q.take()
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	return len(q.held) + len(q.ready)
}

// NextDue returns when the earliest held event becomes ready.
func (q *Queue) NextDue() (time.Time, bool) {
	var next time.Time
	for _, h := range q.held {
		if next.IsZero() || h.due.Before(next) {
			next = h.due
		}
	}
	return next, !next.IsZero()
}

func (q *Queue) release(match func(path string) bool) {
	var out []*heldEvent
	for path, h := range q.held {
		if match(path) {
			out = append(out, h)
			delete(q.held, path)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].due.Equal(out[j].due) {
			return out[i].due.Before(out[j].due)
		}
		return out[i].ev.Path < out[j].ev.Path
	})
	for _, h := range out {
		q.ready = append(q.ready, h.ev)
	}
}

func (q *Queue) take() []miner.Event {
	out := q.ready
	q.ready = nil
	return out
}

func coalescable(ev miner.Event) bool {
	if ev.IsDir {
		return false
	}
	switch ev.Op {
	case miner.OpCreated, miner.OpModified, miner.OpAttributeChanged:
		return true
	}
	return false
}

// merge keeps Created over anything, and content changes over attributes.
func merge(held, next miner.Op) miner.Op {
	switch {
	case held == miner.OpCreated || next == miner.OpCreated:
		return miner.OpCreated
	case held == miner.OpModified || next == miner.OpModified:
		return miner.OpModified
	default:
		return miner.OpAttributeChanged
	}
}
