package core

import (
	"context"
	"sync"
	"sync/atomic"
)

// Runtime runs tracked background tasks for the core. Every task gets the
// runtime context, which is cancelled on stop; tasks are never abandoned
// mid-flight, stop waits for them.
type Runtime struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	active  atomic.Int64
	spawned atomic.Uint64
	logger  Logger
}

func newRuntime(parent context.Context, logger Logger) *Runtime {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &Runtime{ctx: ctx, cancel: cancel, logger: logger}
}

// Spawn runs fn on its own goroutine. After stop it is a no-op.
func (r *Runtime) Spawn(name string, fn func(ctx context.Context)) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Debug("task dropped after shutdown", "task", name)
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	r.active.Add(1)
	r.spawned.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.active.Add(-1)
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("background task panic recovered", "task", name, "panic", rec)
			}
		}()
		fn(r.ctx)
	}()
}

// Active returns the number of running tasks.
func (r *Runtime) Active() int {
	return int(r.active.Load())
}

// Spawned returns the number of tasks started since creation.
func (r *Runtime) Spawned() uint64 {
	return r.spawned.Load()
}

// Wait blocks until every task spawned so far has finished or ctx ends.
func (r *Runtime) Wait(ctx context.Context) error {
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

// stop refuses new tasks, cancels the task context, and waits.
func (r *Runtime) stop(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	return r.Wait(ctx)
}
