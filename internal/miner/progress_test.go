package miner

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTracker_CountsCycles(t *testing.T) {
	tr := NewTracker()
	updates, unsubscribe := tr.Subscribe()
	defer unsubscribe()

	tr.Set(false)
	tr.Set(true)
	tr.Set(true)
	tr.Set(false)
	tr.Set(false)

	if tr.Cycles() != 1 {
		t.Errorf("Cycles() = %d, want 1", tr.Cycles())
	}
	if tr.Status() != StatusIdle {
		t.Errorf("Status() = %v, want idle", tr.Status())
	}

	want := []Progress{{Status: StatusProcessing, Cycles: 0}, {Status: StatusIdle, Cycles: 1}}
	for _, w := range want {
		select {
		case got := <-updates:
			if got != w {
				t.Errorf("update = %+v, want %+v", got, w)
			}
		default:
			t.Fatalf("missing update %+v", w)
		}
	}
	select {
	case got := <-updates:
		t.Errorf("unexpected update %+v", got)
	default:
	}
}

func TestTracker_AwaitCycleCount(t *testing.T) {
	t.Run("returns once reached", func(t *testing.T) {
		tr := NewTracker()
		go func() {
			tr.Set(true)
			time.Sleep(10 * time.Millisecond)
			tr.Set(false)
		}()
		if err := tr.AwaitCycleCount(context.Background(), 1, 5*time.Second); err != nil {
			t.Fatalf("AwaitCycleCount() error = %v", err)
		}
	})

	t.Run("already reached", func(t *testing.T) {
		tr := NewTracker()
		if err := tr.AwaitCycleCount(context.Background(), 0, time.Millisecond); err != nil {
			t.Fatalf("AwaitCycleCount(0) error = %v", err)
		}
	})

	t.Run("times out", func(t *testing.T) {
		tr := NewTracker()
		tr.Set(true)
		err := tr.AwaitCycleCount(context.Background(), 1, 20*time.Millisecond)
		if !errors.Is(err, ErrSettleTimeout) {
			t.Fatalf("AwaitCycleCount() error = %v, want ErrSettleTimeout", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		tr := NewTracker()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := tr.AwaitCycleCount(ctx, 1, time.Second)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("AwaitCycleCount() error = %v, want context.Canceled", err)
		}
	})
}
