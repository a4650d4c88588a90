package service

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// executor runs submitted functions on a fixed set of workers in FIFO
// order. Enqueue never blocks.
type executor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	closed  bool
	wg      sync.WaitGroup
	logger  *slog.Logger
	workers int
}

func newExecutor(workers int, logger *slog.Logger) *executor {
	if workers <= 0 {
		workers = 1
	}
	e := &executor{workers: workers, logger: logger}
	e.cond = sync.NewCond(&e.mu)
	for i := range workers {
		e.wg.Add(1)
		go e.loop(i)
	}
	return e
}

// enqueue appends fn to the queue. It reports false once the executor is closed.
func (e *executor) enqueue(fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.queue = append(e.queue, fn)
	e.cond.Signal()
	return true
}

// pending returns the number of queued, not yet started functions.
func (e *executor) pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

func (e *executor) loop(id int) {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		fn := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.run(id, fn)
	}
}

func (e *executor) run(id int, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("worker recovered from panic", "worker", id, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// close stops accepting work, lets workers drain the queue and waits for
// them or for ctx.
func (e *executor) close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.cond.Broadcast()
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
