package dispatch

import (
	"sync"
	"time"
)

// DefaultHoverDelay is how long the pointer must rest before hover
// affordances appear.
const DefaultHoverDelay = 60 * time.Millisecond

// Delay runs a callback on the interaction goroutine after the pointer has
// been still for a fixed duration. Every Reset restarts the wait; Cancel
// drops the pending callback even if its timer already fired.
type Delay struct {
	d     time.Duration
	queue *Queue

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// NewDelay creates a delay timer posting to q.
func NewDelay(d time.Duration, q *Queue) *Delay {
	if d <= 0 {
		d = DefaultHoverDelay
	}
	return &Delay{d: d, queue: q}
}

// Reset cancels any pending callback and schedules fn.
func (h *Delay) Reset(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
	}
	h.gen++
	gen := h.gen
	h.timer = time.AfterFunc(h.d, func() {
		h.queue.Post(func() {
			if h.current(gen) {
				fn()
			}
		})
	})
}

// Cancel drops the pending callback.
func (h *Delay) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.gen++
}

func (h *Delay) current(gen uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return gen == h.gen
}
