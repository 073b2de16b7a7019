// Package simengine is an in-process stand-in for the external execution
// engine. Every step copy is a goroutine on an engine.WorkerPool; rows flow
// between steps over buffered channels and progress is logged as JSON to the
// session's log channel.
package simengine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rendis/transcanvas/internal/engine"
	"github.com/rendis/transcanvas/internal/model"
	"github.com/rendis/transcanvas/pkg/schema"
)

// Run parameters understood by the simulator.
const (
	ParamRows      = "rows"       // rows produced by each source copy
	ParamRowDelay  = "row_delay"  // time.Duration per row, e.g. "2ms"
	ParamFailStep  = "fail_step"  // step whose rows fail
	ParamFailEvery = "fail_every" // fail every nth row of fail_step
)

// Options are the simulator defaults; run parameters override them.
type Options struct {
	Rows      int
	RowDelay  time.Duration
	InboxSize int
	// PrepareDelay simulates a slow engine initialisation.
	PrepareDelay time.Duration
}

// DefaultOptions returns a quick simulation suitable for the demo.
func DefaultOptions() Options {
	return Options{Rows: 100, RowDelay: 5 * time.Millisecond, InboxSize: 16}
}

// Step states reported in engine.StepStatus.
const (
	StateWaiting  = "waiting"
	StateRunning  = "running"
	StatePaused   = "paused"
	StateHalted   = "halted"
	StateFinished = "finished"
)

type row struct {
	seq int
}

// Engine simulates one run of a snapshot.
type Engine struct {
	channel string
	logger  *slog.Logger
	opts    Options

	mu       sync.Mutex
	cond     *sync.Cond
	paused   bool
	prepared bool
	runs     []*stepRun
	pool     *engine.WorkerPool

	stop     chan struct{}
	stopOnce sync.Once
	draining atomic.Bool
	started  atomic.Bool
	finished atomic.Bool
	errors   atomic.Int64

	rows      int
	rowDelay  time.Duration
	failStep  string
	failEvery int
}

// NewFactory returns an engine.Factory building simulators with opts.
func NewFactory(opts Options) engine.Factory {
	return func(channel string, logs io.Writer) engine.Engine {
		return New(channel, logs, opts)
	}
}

// New creates a simulator writing JSON log lines to logs.
func New(channel string, logs io.Writer, opts Options) *Engine {
	def := DefaultOptions()
	if opts.Rows <= 0 {
		opts.Rows = def.Rows
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = def.InboxSize
	}
	if logs == nil {
		logs = io.Discard
	}
	e := &Engine{
		channel: channel,
		logger:  slog.New(slog.NewJSONHandler(logs, nil)),
		opts:    opts,
		stop:    make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Prepare builds the step graph from the snapshot.
func (e *Engine) Prepare(ctx context.Context, args engine.PrepareArgs) error {
	snap := args.Snapshot
	if snap == nil || len(snap.Steps) == 0 {
		return schema.NewError(schema.ErrCodePreparation, "nothing to run")
	}
	if err := e.readParams(args.Parameters); err != nil {
		return err
	}
	if e.opts.PrepareDelay > 0 {
		select {
		case <-time.After(e.opts.PrepareDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	runs, err := buildRuns(snap, e.opts.InboxSize)
	if err != nil {
		return err
	}
	for _, r := range runs {
		r.logger = e.logger.With("step", r.step, "copy", r.copy)
	}
	copies := len(runs)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs = runs
	e.pool = engine.NewWorkerPool(copies)
	e.prepared = true
	e.logger.Info("prepared", "diagram", snap.Name, "session_id", args.SessionID,
		"steps", len(snap.Steps), "copies", copies, "variables", len(args.Variables))
	return nil
}

func (e *Engine) readParams(params map[string]string) error {
	e.rows = e.opts.Rows
	e.rowDelay = e.opts.RowDelay
	e.failEvery = 1
	if v, ok := params[ParamRows]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return schema.NewErrorf(schema.ErrCodeValidation, "parameter %s=%q is not a row count", ParamRows, v)
		}
		e.rows = n
	}
	if v, ok := params[ParamRowDelay]; ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "parameter %s=%q: %s", ParamRowDelay, v, err.Error())
		}
		e.rowDelay = d
	}
	if v, ok := params[ParamFailEvery]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return schema.NewErrorf(schema.ErrCodeValidation, "parameter %s=%q must be positive", ParamFailEvery, v)
		}
		e.failEvery = n
	}
	e.failStep = params[ParamFailStep]
	return nil
}

// StartThreads launches one goroutine per step copy.
func (e *Engine) StartThreads(ctx context.Context) error {
	e.mu.Lock()
	if !e.prepared {
		e.mu.Unlock()
		return schema.NewError(schema.ErrCodeInvalidTransition, "engine is not prepared")
	}
	runs, pool := e.runs, e.pool
	e.mu.Unlock()
	if !e.started.CompareAndSwap(false, true) {
		return schema.NewError(schema.ErrCodeConflict, "engine already started")
	}

	for _, r := range runs {
		if err := pool.TrySubmit(ctx, func(context.Context) error { return e.runStep(r) }, nil); err != nil {
			e.StopAll()
			return err
		}
	}
	go func() {
		pool.Wait()
		// the line must be on the channel before IsFinished reports true
		e.logger.Info("finished", "errors", e.errors.Load())
		e.finished.Store(true)
	}()
	return nil
}

func (e *Engine) runStep(r *stepRun) error {
	r.setState(StateRunning)
	defer r.finish(e)

	if r.source {
		for i := 1; i <= e.rows; i++ {
			if e.draining.Load() || !e.waitIfPaused(r) {
				break
			}
			if !e.process(r, row{seq: i}) {
				break
			}
		}
		return nil
	}
	for {
		select {
		case <-e.stop:
			return nil
		case in, ok := <-r.inbox:
			if !ok {
				return nil
			}
			r.read.Add(1)
			if !e.waitIfPaused(r) || !e.process(r, in) {
				return nil
			}
		}
	}
}

// process handles one row and forwards it; false means the run was halted.
func (e *Engine) process(r *stepRun, in row) bool {
	if e.rowDelay > 0 {
		select {
		case <-time.After(e.rowDelay):
		case <-e.stop:
			return false
		}
	}
	if r.step == e.failStep && in.seq%e.failEvery == 0 {
		r.errs.Add(1)
		e.errors.Add(1)
		r.logger.Error("row rejected", "row", in.seq, "error", fmt.Sprintf("simulated failure at row %d", in.seq))
		if r.errorTarget == nil {
			return true
		}
		return r.errorTarget.send(e.stop, in)
	}
	for _, out := range r.outputs {
		if !out.send(e.stop, in) {
			return false
		}
	}
	r.written.Add(1)
	return true
}

// waitIfPaused blocks while the engine is paused; false means stop.
func (e *Engine) waitIfPaused(r *stepRun) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.paused && !e.stopped() {
		r.setState(StatePaused)
		e.cond.Wait()
	}
	r.setState(StateRunning)
	return !e.stopped()
}

func (e *Engine) stopped() bool {
	select {
	case <-e.stop:
		return true
	default:
		return false
	}
}

// PauseRunning makes every step wait before its next row.
func (e *Engine) PauseRunning() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused {
		e.paused = true
		e.logger.Info("paused")
	}
}

// ResumeRunning releases paused steps.
func (e *Engine) ResumeRunning() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		e.paused = false
		e.cond.Broadcast()
		e.logger.Info("resumed")
	}
}

// StopAll halts every step without draining.
func (e *Engine) StopAll() {
	e.stopOnce.Do(func() {
		close(e.stop)
		e.logger.Info("stopping")
	})
	e.mu.Lock()
	e.cond.Broadcast()
	e.mu.Unlock()
}

// SafeStop stops the sources; downstream steps finish the rows in flight.
func (e *Engine) SafeStop() {
	if e.draining.CompareAndSwap(false, true) {
		e.logger.Info("safe stopping")
	}
	e.ResumeRunning()
}

// IsFinished reports whether every step goroutine has exited.
func (e *Engine) IsFinished() bool { return e.finished.Load() }

// HasErrors reports whether any row failed.
func (e *Engine) HasErrors() bool { return e.errors.Load() > 0 }

// LogChannel returns the channel the engine logs to.
func (e *Engine) LogChannel() string { return e.channel }

// StepStatuses returns one status per step copy in snapshot order.
func (e *Engine) StepStatuses() []engine.StepStatus {
	e.mu.Lock()
	runs := e.runs
	e.mu.Unlock()
	out := make([]engine.StepStatus, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.status())
	}
	return out
}

var _ engine.Engine = (*Engine)(nil)

// buildRuns creates one stepRun per copy and wires inboxes along enabled
// hops. ERROR hops feed the error target instead of the regular outputs.
func buildRuns(snap *model.Snapshot, inboxSize int) ([]*stepRun, error) {
	inboxes := make(map[string]*inbox, len(snap.Steps))
	for _, s := range snap.Steps {
		inboxes[s.Name] = &inbox{ch: make(chan row, inboxSize)}
	}
	copies := make(map[string]int, len(snap.Steps))
	for _, s := range snap.Steps {
		copies[s.Name] = max(1, s.Copies)
	}
	for _, h := range snap.Hops {
		if !h.Enabled {
			continue
		}
		to, ok := inboxes[h.To]
		if !ok || inboxes[h.From] == nil {
			return nil, schema.NewErrorf(schema.ErrCodePreparation, "hop %s->%s references an unknown step", h.From, h.To)
		}
		to.producers += copies[h.From]
	}

	byName := make(map[string]model.StepInfo, len(snap.Steps))
	for _, s := range snap.Steps {
		byName[s.Name] = s
	}
	order := snap.Order
	if len(order) == 0 {
		for _, s := range snap.Steps {
			order = append(order, s.Name)
		}
	}

	var runs []*stepRun
	for _, name := range order {
		info := byName[name]
		var outputs []*inbox
		var errorTarget *inbox
		for _, h := range snap.Hops {
			if !h.Enabled || h.From != name {
				continue
			}
			if h.Stream == schema.StreamError || h.To == info.ErrorTarget {
				errorTarget = inboxes[h.To]
				continue
			}
			outputs = append(outputs, inboxes[h.To])
		}
		var downstream []*inbox
		downstream = append(downstream, outputs...)
		if errorTarget != nil {
			downstream = append(downstream, errorTarget)
		}
		in := inboxes[name]
		for i := range copies[name] {
			runs = append(runs, &stepRun{
				step:        name,
				copy:        i,
				source:      in.producers == 0,
				inbox:       in.ch,
				outputs:     outputs,
				errorTarget: errorTarget,
				downstream:  downstream,
				state:       StateWaiting,
			})
		}
	}
	return runs, nil
}
