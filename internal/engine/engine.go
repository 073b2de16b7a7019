// Package engine is the execution lifecycle controller. It owns one run of
// a diagram at a time, hands preparation to a background worker, and polls
// the external engine on a fixed cadence from the interaction goroutine.
package engine

import (
	"context"
	"io"

	"github.com/rendis/transcanvas/internal/model"
)

// Engine is the external execution engine that actually runs a pipeline.
// Control methods only signal; they must not block on step termination.
// All methods may be called from the interaction goroutine while step
// goroutines are running, so implementations must be safe for concurrent use.
type Engine interface {
	// Prepare initialises the run. It may block and runs on a pool worker.
	Prepare(ctx context.Context, args PrepareArgs) error
	// StartThreads launches the step goroutines and returns immediately.
	StartThreads(ctx context.Context) error
	PauseRunning()
	ResumeRunning()
	StopAll()
	// SafeStop lets in-flight rows drain before the steps exit.
	SafeStop()
	IsFinished() bool
	HasErrors() bool
	// LogChannel identifies the channel the engine writes its log lines to.
	LogChannel() string
	StepStatuses() []StepStatus
}

// Factory builds an engine for one session; logs is the session's log
// channel writer.
type Factory func(channelID string, logs io.Writer) Engine

// PrepareArgs is everything an engine needs to prepare a run. It is
// immutable once handed to the worker.
type PrepareArgs struct {
	SessionID  string
	Snapshot   *model.Snapshot
	Parameters map[string]string
	Variables  map[string]string
}

// StepStatus is one step copy's progress as reported by the engine.
type StepStatus struct {
	Step    string `json:"step"`
	Copy    int    `json:"copy"`
	State   string `json:"state"`
	Read    int64  `json:"read"`
	Written int64  `json:"written"`
	Errors  int64  `json:"errors"`
	Running bool   `json:"running"`
}

// Fields exposes the status to debug pause conditions as `status.*`.
func (s StepStatus) Fields() map[string]any {
	return map[string]any{
		"step":    s.Step,
		"copy":    int64(s.Copy),
		"state":   s.State,
		"read":    s.Read,
		"written": s.Written,
		"errors":  s.Errors,
		"running": s.Running,
	}
}

// RunConfig is the user-supplied configuration of one run.
type RunConfig struct {
	Parameters map[string]string `json:"parameters,omitempty"`
	// Variables values starting with "=" are Expr expressions.
	Variables map[string]string `json:"variables,omitempty"`
	// Breakpoints maps a step name to a CEL pause condition.
	Breakpoints map[string]string `json:"breakpoints,omitempty"`
}

// Saver persists the diagram before a run.
type Saver interface {
	Save(ctx context.Context, d *model.Diagram) error
}

// Confirmer asks the user a yes/no question.
type Confirmer interface {
	Confirm(question string) bool
}
