// Package tasks runs long-lived background work on a bounded worker pool.
// Each task gets a wall-clock time limit and can be aborted by id; workers
// learn which one applied through context.Cause.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrTimeLimit is the cancellation cause when a task exceeds the
	// operator-configured wall-clock limit.
	ErrTimeLimit = errors.New("background task time limit hit")

	// ErrAborted is the cancellation cause for an explicit CancelByID.
	ErrAborted = errors.New("background task aborted")

	ErrNotFound = errors.New("task not found")
)

// Func is one unit of background work. It must return promptly once ctx is
// done and finalize its own domain records before returning.
type Func func(ctx context.Context) error

type task struct {
	id     string
	name   string
	cancel context.CancelCauseFunc
}

type Runner struct {
	logger    *slog.Logger
	timeLimit time.Duration
	sem       *semaphore.Weighted

	mu      sync.Mutex
	running map[string]*task
	wg      sync.WaitGroup
	closed  bool
}

func NewRunner(logger *slog.Logger, workers int, timeLimit time.Duration) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		logger:    logger,
		timeLimit: timeLimit,
		sem:       semaphore.NewWeighted(int64(workers)),
		running:   map[string]*task{},
	}
}

// Submit queues fn and returns its task id immediately. The task waits for a
// free worker, then runs under the time limit.
func (r *Runner) Submit(ctx context.Context, name string, fn Func) (string, error) {
	if fn == nil {
		return "", errors.New("task func is required")
	}

	taskCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	t := &task{id: uuid.NewString(), name: name, cancel: cancel}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel(errors.New("runner closed"))
		return "", errors.New("runner closed")
	}
	r.running[t.id] = t
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(taskCtx, t, fn)
	return t.id, nil
}

func (r *Runner) run(ctx context.Context, t *task, fn Func) {
	defer r.wg.Done()
	defer r.forget(t.id)
	defer t.cancel(nil)

	defer func() {
		if v := recover(); v != nil && r.logger != nil {
			r.logger.Error("task panicked", "task_id", t.id, "task", t.name, "panic", v)
		}
	}()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		// aborted while waiting for a worker; fn still runs on the dead
		// context so it can drive its domain records to a terminal state
		r.log("task aborted before start", t, context.Cause(ctx))
		if err := fn(ctx); err != nil {
			r.log("task failed", t, err)
		}
		return
	}
	defer r.sem.Release(1)

	runCtx := ctx
	if r.timeLimit > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, r.timeLimit, ErrTimeLimit)
		defer cancel()
	}

	if err := fn(runCtx); err != nil {
		r.log("task failed", t, err)
		return
	}
	if r.logger != nil {
		r.logger.Info("task finished", "task_id", t.id, "task", t.name)
	}
}

// CancelByID aborts a running task. The task's context is canceled with
// ErrAborted as its cause.
func (r *Runner) CancelByID(id string) error {
	r.mu.Lock()
	t, ok := r.running[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t.cancel(ErrAborted)
	return nil
}

// Shutdown refuses new submissions and waits for in-flight tasks until ctx
// expires.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) forget(id string) {
	r.mu.Lock()
	delete(r.running, id)
	r.mu.Unlock()
}

func (r *Runner) log(msg string, t *task, err error) {
	if r.logger == nil {
		return
	}
	if err != nil && errors.Is(err, context.Canceled) {
		return
	}
	r.logger.Warn(msg, "task_id", t.id, "task", t.name, "error", err)
}

// TimeLimitHit reports whether ctx ended because the wall-clock limit fired.
func TimeLimitHit(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrTimeLimit)
}

// Aborted reports whether ctx ended because of an explicit cancellation.
func Aborted(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrAborted)
}
