package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rendis/transcanvas/pkg/schema"
)

// PoolMetrics tracks worker pool operational metrics.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// Task is one unit of background work. Its error, or a recovered panic
// converted to an error, is handed to the completion callback.
type Task func(ctx context.Context) error

// WorkerPool is a bounded goroutine pool for session preparation and engine
// step threads. The interaction goroutine only ever uses TrySubmit, which
// never waits for a free slot.
type WorkerPool struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	metrics PoolMetrics
	mu      sync.Mutex
	done    chan struct{}
	closed  bool
}

// NewWorkerPool creates a pool with the given max concurrency.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		sem:  make(chan struct{}, size),
		done: make(chan struct{}),
	}
}

// Submit runs task on the pool, blocking while the pool is at capacity.
// onDone, when non-nil, receives the task result on the worker goroutine.
func (p *WorkerPool) Submit(ctx context.Context, task Task, onDone func(error)) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}
	return p.launch(ctx, task, onDone)
}

// TrySubmit runs task if a slot is free and returns BUSY otherwise.
func (p *WorkerPool) TrySubmit(ctx context.Context, task Task, onDone func(error)) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	select {
	case p.sem <- struct{}{}:
	default:
		return schema.NewErrorf(schema.ErrCodeBusy, "no free background worker (%d in use)", cap(p.sem))
	}
	return p.launch(ctx, task, onDone)
}

func (p *WorkerPool) checkOpen() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolShutdown
	}
	return nil
}

// launch starts task on an acquired slot. wg.Add runs under the lock so it
// cannot race with Shutdown's Wait.
func (p *WorkerPool) launch(ctx context.Context, task Task, onDone func(error)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.metrics.Active, 1)
	p.mu.Unlock()

	go func() {
		var err error
		defer func() {
			atomic.AddInt64(&p.metrics.Active, -1)
			<-p.sem
			p.wg.Done()
		}()
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.metrics.Panics, 1)
				err = schema.NewErrorf(schema.ErrCodeEngineRuntime, "background task panicked: %v", r).
					WithCause(fmt.Errorf("panic: %v", r))
			}
			if err != nil {
				atomic.AddInt64(&p.metrics.Failed, 1)
			} else {
				atomic.AddInt64(&p.metrics.Completed, 1)
			}
			if onDone != nil {
				onDone(err)
			}
		}()
		err = task(ctx)
	}()
	return nil
}

// Wait blocks until all submitted work completes.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Shutdown prevents new submissions and waits for active work to complete.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Size returns the pool's concurrency bound.
func (p *WorkerPool) Size() int { return cap(p.sem) }

// Metrics returns a snapshot of the current pool metrics.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    atomic.LoadInt64(&p.metrics.Active),
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Failed:    atomic.LoadInt64(&p.metrics.Failed),
		Panics:    atomic.LoadInt64(&p.metrics.Panics),
	}
}
