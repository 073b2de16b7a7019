package simengine

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rendis/transcanvas/internal/engine"
)

// inbox is the row channel of one step, shared by all its copies. It is
// closed once every producing copy has finished.
type inbox struct {
	ch        chan row
	producers int
	done      atomic.Int64
}

func (in *inbox) send(stop <-chan struct{}, r row) bool {
	select {
	case in.ch <- r:
		return true
	case <-stop:
		return false
	}
}

func (in *inbox) producerDone() {
	if in.done.Add(1) == int64(in.producers) {
		close(in.ch)
	}
}

// stepRun is one copy of a step.
type stepRun struct {
	step        string
	copy        int
	source      bool
	inbox       chan row
	outputs     []*inbox
	errorTarget *inbox
	downstream  []*inbox
	logger      *slog.Logger

	read    atomic.Int64
	written atomic.Int64
	errs    atomic.Int64

	mu    sync.Mutex
	state string
}

func (r *stepRun) setState(s string) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *stepRun) finish(e *Engine) {
	state := StateFinished
	if e.stopped() {
		state = StateHalted
	}
	r.setState(state)
	for _, out := range r.downstream {
		out.producerDone()
	}
	r.logger.Info("step "+state, "read", r.read.Load(), "written", r.written.Load(), "errors", r.errs.Load())
}

func (r *stepRun) status() engine.StepStatus {
	r.mu.Lock()
	state := r.state
	r.mu.Unlock()
	return engine.StepStatus{
		Step:    r.step,
		Copy:    r.copy,
		State:   state,
		Read:    r.read.Load(),
		Written: r.written.Load(),
		Errors:  r.errs.Load(),
		Running: state == StateRunning || state == StatePaused,
	}
}
