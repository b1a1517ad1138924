package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsTask(t *testing.T) {
	r := NewRunner(nil, 2, 0)

	done := make(chan struct{})
	id, err := r.Submit(context.Background(), "noop", func(ctx context.Context) error {
		close(done)
		return nil
	})
	if err != nil {
		t.Fatalf("Submit err=%v", err)
	}
	if id == "" {
		t.Fatal("empty task id")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
}

func TestCancelByID(t *testing.T) {
	r := NewRunner(nil, 1, 0)

	started := make(chan struct{})
	aborted := make(chan struct{})
	id, err := r.Submit(context.Background(), "blocker", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		if Aborted(ctx) {
			close(aborted)
		}
		return context.Cause(ctx)
	})
	if err != nil {
		t.Fatalf("Submit err=%v", err)
	}

	<-started
	if err := r.CancelByID(id); err != nil {
		t.Fatalf("CancelByID err=%v", err)
	}

	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not observe abort cause")
	}
}

func TestAbortBeforeStartStillRunsTask(t *testing.T) {
	r := NewRunner(nil, 1, 0)

	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	if _, err := r.Submit(context.Background(), "blocker", func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	}); err != nil {
		t.Fatalf("Submit err=%v", err)
	}
	<-started

	ran := make(chan bool, 1)
	id, err := r.Submit(context.Background(), "parked", func(ctx context.Context) error {
		ran <- Aborted(ctx)
		return context.Cause(ctx)
	})
	if err != nil {
		t.Fatalf("Submit err=%v", err)
	}
	if err := r.CancelByID(id); err != nil {
		t.Fatalf("CancelByID err=%v", err)
	}

	select {
	case aborted := <-ran:
		if !aborted {
			t.Fatal("parked task ran without the abort cause")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("parked task never ran after abort")
	}
}

func TestCancelUnknownID(t *testing.T) {
	r := NewRunner(nil, 1, 0)
	if err := r.CancelByID("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestTimeLimit(t *testing.T) {
	r := NewRunner(nil, 1, 20*time.Millisecond)

	hit := make(chan struct{})
	_, err := r.Submit(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		if TimeLimitHit(ctx) {
			close(hit)
		}
		return context.Cause(ctx)
	})
	if err != nil {
		t.Fatalf("Submit err=%v", err)
	}

	select {
	case <-hit:
	case <-time.After(2 * time.Second):
		t.Fatal("time limit never fired")
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	r := NewRunner(nil, 1, 0)

	var active atomic.Int32
	var peak atomic.Int32
	block := make(chan struct{})

	for i := 0; i < 3; i++ {
		_, err := r.Submit(context.Background(), "bounded", func(ctx context.Context) error {
			n := active.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			<-block
			active.Add(-1)
			return nil
		})
		if err != nil {
			t.Fatalf("Submit err=%v", err)
		}
	}

	time.Sleep(50 * time.Millisecond)
	close(block)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown err=%v", err)
	}
	if got := peak.Load(); got != 1 {
		t.Fatalf("peak concurrency = %d, want 1", got)
	}
}

func TestShutdownRefusesNewWork(t *testing.T) {
	r := NewRunner(nil, 1, 0)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown err=%v", err)
	}
	if _, err := r.Submit(context.Background(), "late", func(ctx context.Context) error { return nil }); err == nil {
		t.Fatal("Submit after shutdown succeeded")
	}
}
