package extract

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fsgraph/internal/miner"
)

// gatedExtractor blocks each call until the test releases it.
type gatedExtractor struct {
	mu      sync.Mutex
	calls   []miner.ExtractTask
	started chan miner.ExtractTask
	release chan struct{}
	fn      func(ctx context.Context, task miner.ExtractTask) (*miner.StatementSet, error)
}

func newGatedExtractor() *gatedExtractor {
	return &gatedExtractor{
		started: make(chan miner.ExtractTask, 16),
		release: make(chan struct{}),
	}
}

func (g *gatedExtractor) Extract(ctx context.Context, task miner.ExtractTask) (*miner.StatementSet, error) {
	g.mu.Lock()
	g.calls = append(g.calls, task)
	g.mu.Unlock()
	g.started <- task
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if g.fn != nil {
		return g.fn(ctx, task)
	}
	return &miner.StatementSet{MIME: task.MIME}, nil
}

func (g *gatedExtractor) Calls() []miner.ExtractTask {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]miner.ExtractTask(nil), g.calls...)
}

func startDispatcher(t *testing.T, ex miner.Extractor, workers int, timeout time.Duration) *Dispatcher {
	t.Helper()
	d := NewDispatcher(ex, miner.NewNopLogger(), workers, timeout)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return d
}

func waitStarted(t *testing.T, g *gatedExtractor) miner.ExtractTask {
	t.Helper()
	select {
	case task := <-g.started:
		return task
	case <-time.After(5 * time.Second):
		t.Fatal("extraction never started")
		return miner.ExtractTask{}
	}
}

func waitResult(t *testing.T, d *Dispatcher) miner.ExtractResult {
	t.Helper()
	select {
	case res := <-d.Results():
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("no result delivered")
		return miner.ExtractResult{}
	}
}

func assertNoResult(t *testing.T, d *Dispatcher) {
	t.Helper()
	select {
	case res := <-d.Results():
		t.Fatalf("unexpected result %+v", res)
	case <-time.After(50 * time.Millisecond):
	}
}

func task(id, fp string) miner.ExtractTask {
	return miner.ExtractTask{ResourceID: id, Path: "/r/" + id, MIME: "text/plain", Fingerprint: fp}
}

func TestDispatcher_DeliversResult(t *testing.T) {
	g := newGatedExtractor()
	d := startDispatcher(t, g, 1, time.Second)

	if merged := d.Submit(task("a", "1")); merged {
		t.Fatal("first Submit() reported a merge")
	}
	waitStarted(t, g)
	close(g.release)

	res := waitResult(t, d)
	if res.Err != nil || res.Task.ResourceID != "a" {
		t.Fatalf("result = %+v", res)
	}
	if d.Len() != 0 {
		t.Errorf("Len() = %d, want 0", d.Len())
	}
}

func TestDispatcher_MergesQueuedTask(t *testing.T) {
	g := newGatedExtractor()
	d := startDispatcher(t, g, 1, time.Second)

	d.Submit(task("busy", "1"))
	waitStarted(t, g)

	d.Submit(task("a", "1"))
	if merged := d.Submit(task("a", "2")); !merged {
		t.Fatal("duplicate Submit() should merge into the queued task")
	}
	close(g.release)

	got := map[string]string{}
	for i := 0; i < 2; i++ {
		res := waitResult(t, d)
		got[res.Task.ResourceID] = res.Task.Fingerprint
	}
	if got["a"] != "2" {
		t.Errorf("merged task fingerprint = %q, want latest %q", got["a"], "2")
	}
	assertNoResult(t, d)
}

func TestDispatcher_DirtyMergeReruns(t *testing.T) {
	g := newGatedExtractor()
	d := startDispatcher(t, g, 1, time.Second)

	d.Submit(task("a", "1"))
	waitStarted(t, g)
	if merged := d.Submit(task("a", "2")); !merged {
		t.Fatal("Submit() during a run should merge")
	}

	g.release <- struct{}{}
	if rerun := waitStarted(t, g); rerun.Fingerprint != "2" {
		t.Fatalf("rerun fingerprint = %q, want 2", rerun.Fingerprint)
	}
	g.release <- struct{}{}

	if res := waitResult(t, d); res.Task.Fingerprint != "2" {
		t.Fatalf("result fingerprint = %q, want 2", res.Task.Fingerprint)
	}
	assertNoResult(t, d)
}

func TestDispatcher_CancelSuppressesResult(t *testing.T) {
	t.Run("running", func(t *testing.T) {
		g := newGatedExtractor()
		d := startDispatcher(t, g, 1, time.Second)
		d.Submit(task("a", "1"))
		waitStarted(t, g)
		d.Cancel("a")
		assertNoResult(t, d)
	})

	t.Run("queued", func(t *testing.T) {
		g := newGatedExtractor()
		d := startDispatcher(t, g, 1, time.Second)
		d.Submit(task("busy", "1"))
		waitStarted(t, g)
		d.Submit(task("a", "1"))
		d.Cancel("a")
		close(g.release)

		if res := waitResult(t, d); res.Task.ResourceID != "busy" {
			t.Fatalf("result for %q, want busy", res.Task.ResourceID)
		}
		assertNoResult(t, d)
		for _, c := range g.Calls() {
			if c.ResourceID == "a" {
				t.Error("cancelled queued task ran")
			}
		}
	})

	t.Run("resubmitted while unwinding", func(t *testing.T) {
		g := newGatedExtractor()
		d := startDispatcher(t, g, 1, time.Second)
		d.Submit(task("a", "1"))
		waitStarted(t, g)
		d.Cancel("a")
		if merged := d.Submit(task("a", "2")); merged {
			t.Fatal("Submit() after Cancel() must not merge")
		}
		waitStarted(t, g)
		g.release <- struct{}{}
		if res := waitResult(t, d); res.Task.Fingerprint != "2" {
			t.Fatalf("result fingerprint = %q, want 2", res.Task.Fingerprint)
		}
	})
}

func TestDispatcher_Retarget(t *testing.T) {
	g := newGatedExtractor()
	d := startDispatcher(t, g, 1, time.Second)
	d.Submit(task("busy", "1"))
	waitStarted(t, g)
	d.Submit(task("a", "1"))
	d.Retarget("a", "/r/renamed")
	close(g.release)

	for i := 0; i < 2; i++ {
		res := waitResult(t, d)
		if res.Task.ResourceID == "a" && res.Task.Path != "/r/renamed" {
			t.Errorf("path = %q, want /r/renamed", res.Task.Path)
		}
	}
}

func TestDispatcher_RetargetRunning(t *testing.T) {
	g := newGatedExtractor()
	d := startDispatcher(t, g, 1, time.Second)
	d.Submit(task("a", "1"))
	if first := waitStarted(t, g); first.Path != "/r/a" {
		t.Fatalf("first run path = %q, want /r/a", first.Path)
	}

	d.Retarget("a", "/r/renamed")
	if again := waitStarted(t, g); again.Path != "/r/renamed" {
		t.Fatalf("rerun path = %q, want /r/renamed", again.Path)
	}
	close(g.release)

	res := waitResult(t, d)
	if res.Task.Path != "/r/renamed" || res.Err != nil {
		t.Errorf("result = %+v, want success at /r/renamed", res)
	}
	assertNoResult(t, d)
}

type stuckExtractor struct{}

func (stuckExtractor) Extract(context.Context, miner.ExtractTask) (*miner.StatementSet, error) {
	select {}
}

type panicExtractor struct{}

func (panicExtractor) Extract(context.Context, miner.ExtractTask) (*miner.StatementSet, error) {
	panic("boom")
}

func TestDispatcher_Failures(t *testing.T) {
	tests := []struct {
		name   string
		ex     miner.Extractor
		reason string
	}{
		{name: "deadline", ex: stuckExtractor{}, reason: miner.ReasonTimeout},
		{name: "panic", ex: panicExtractor{}, reason: miner.ReasonCrash},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := startDispatcher(t, tt.ex, 1, 50*time.Millisecond)
			d.Submit(task("a", "1"))

			res := waitResult(t, d)
			var xe *miner.ExtractionError
			if !errors.As(res.Err, &xe) {
				t.Fatalf("Err = %v, want ExtractionError", res.Err)
			}
			if xe.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", xe.Reason, tt.reason)
			}
		})
	}
}

func TestDispatcher_Parallelism(t *testing.T) {
	g := newGatedExtractor()
	d := startDispatcher(t, g, 3, time.Second)
	for _, id := range []string{"a", "b", "c"} {
		d.Submit(task(id, "1"))
	}
	for i := 0; i < 3; i++ {
		waitStarted(t, g)
	}
	close(g.release)
	for i := 0; i < 3; i++ {
		waitResult(t, d)
	}
}
