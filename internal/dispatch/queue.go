// Package dispatch is the one-way boundary between background goroutines
// and the interaction goroutine. Background work posts immutable messages
// (closures over copied values); the interaction loop drains them once per
// frame. Disposal replaces scattered "is disposed" checks.
package dispatch

import "sync"

// Queue is a FIFO of callbacks executed by whoever calls Drain.
type Queue struct {
	mu       sync.Mutex
	pending  []func()
	disposed bool
	wake     chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Post enqueues fn for the interaction goroutine. It never blocks and
// returns false once the queue has been disposed.
func (q *Queue) Post(fn func()) bool {
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Wake signals when new messages were posted. Event loops select on it.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// Drain runs every message posted before the call, in order, on the calling
// goroutine, and returns how many ran. Messages posted while draining wait
// for the next frame.
func (q *Queue) Drain() int {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, fn := range batch {
		fn()
	}
	return len(batch)
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Dispose drops pending messages and rejects further posts.
func (q *Queue) Dispose() {
	q.mu.Lock()
	q.disposed = true
	q.pending = nil
	q.mu.Unlock()
}

// Disposed reports whether Dispose was called.
func (q *Queue) Disposed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.disposed
}
