package dispatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRefreshSchedule is the status polling and canvas refresh cadence.
const DefaultRefreshSchedule = "@every 1s"

// Every returns a schedule firing at a fixed interval. Unlike cron.Every it
// keeps sub-second precision.
func Every(d time.Duration) cron.Schedule {
	return interval(d)
}

type interval time.Duration

func (i interval) Next(t time.Time) time.Time {
	return t.Add(time.Duration(i))
}

// ParseSchedule parses a cron descriptor ("@every 1s") or a standard
// five-field expression with optional seconds.
func ParseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse refresh schedule %q: %w", spec, err)
	}
	return sched, nil
}

// Ticker posts fn to a Queue each time its schedule fires. The timer
// goroutine never runs fn itself.
type Ticker struct {
	sched cron.Schedule
	queue *Queue
	fn    func()

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewTicker creates a stopped ticker.
func NewTicker(sched cron.Schedule, q *Queue, fn func()) *Ticker {
	return &Ticker{sched: sched, queue: q, fn: fn}
}

// Start launches the timer goroutine. Starting a running ticker is a no-op.
func (t *Ticker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.loop(t.stop, t.done)
}

func (t *Ticker) loop(stop, done chan struct{}) {
	defer close(done)
	for {
		now := time.Now()
		timer := time.NewTimer(t.sched.Next(now).Sub(now))
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
			if !t.queue.Post(t.fn) {
				return
			}
		}
	}
}

// Stop cancels the timer goroutine and waits for it to exit.
func (t *Ticker) Stop() {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Running reports whether the ticker is started.
func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}
