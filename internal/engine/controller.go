package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/transcanvas/internal/dispatch"
	"github.com/rendis/transcanvas/internal/expressions"
	"github.com/rendis/transcanvas/internal/logchan"
	"github.com/rendis/transcanvas/internal/logging"
	"github.com/rendis/transcanvas/internal/model"
	"github.com/rendis/transcanvas/internal/store"
	"github.com/rendis/transcanvas/internal/streaming"
	"github.com/rendis/transcanvas/pkg/schema"
)

// Options wires a Controller. Factory and Queue are required.
type Options struct {
	Factory Factory
	// Queue is drained by the interaction goroutine; every background
	// result reaches the controller through it.
	Queue *dispatch.Queue
	// Schedule drives status polling. Defaults to DefaultRefreshSchedule.
	Schedule cron.Schedule
	Pool     *WorkerPool
	Registry store.Registry
	Hub      streaming.Hub
	Logs     *logchan.Registry
	Sniffer  *logchan.Sniffer
	Expr     *expressions.ExprEngine
	CEL      *expressions.CELEngine

	Saver     Saver
	Confirmer Confirmer
	AutoSave  bool

	Logger *slog.Logger
	// OnChange runs on the interaction goroutine after any state or status
	// change (redraw, enabling control affordances).
	OnChange func()
	// OnError receives failures surfaced after Start returned, such as
	// preparation errors.
	OnError func(error)
}

// Controller runs one diagram at a time. Every method must be called from
// the interaction goroutine; the controller itself never starts a goroutine
// that touches its fields.
type Controller struct {
	opts     Options
	logger   *slog.Logger
	fsm      *SessionFSM
	ticker   *dispatch.Ticker
	ownsPool bool

	ctx    context.Context
	cancel context.CancelFunc

	session     *Session
	channel     *logchan.Channel
	lastSession string
	cursor      int64
	errorText   []string
	statuses    []StepStatus
	hasErrors   bool
}

// NewController validates opts and fills in defaults. ctx bounds every
// background preparation.
func NewController(ctx context.Context, opts Options) (*Controller, error) {
	if opts.Factory == nil || opts.Queue == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "controller needs an engine factory and a dispatch queue")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Schedule == nil {
		sched, err := dispatch.ParseSchedule(dispatch.DefaultRefreshSchedule)
		if err != nil {
			return nil, err
		}
		opts.Schedule = sched
	}
	ownsPool := false
	if opts.Pool == nil {
		opts.Pool = NewWorkerPool(1)
		ownsPool = true
	}
	if opts.Logs == nil {
		opts.Logs = logchan.NewRegistry(0)
	}
	if opts.Sniffer == nil {
		opts.Sniffer = logchan.NewSniffer(nil, "", "")
	}
	if opts.Expr == nil {
		opts.Expr = expressions.NewExprEngine()
	}
	if opts.CEL == nil {
		cel, err := expressions.NewCELEngine()
		if err != nil {
			return nil, err
		}
		opts.CEL = cel
	}

	c := &Controller{opts: opts, logger: opts.Logger, ownsPool: ownsPool}
	c.ctx, c.cancel = context.WithCancel(ctx)
	var appender EventAppender
	if opts.Registry != nil {
		appender = &eventRecorder{registry: opts.Registry, logger: opts.Logger}
	}
	c.fsm = NewSessionFSM(appender)
	c.fsm.OnTransition(c.onTransition)
	c.ticker = dispatch.NewTicker(opts.Schedule, opts.Queue, c.Poll)
	return c, nil
}

// FSM exposes the lifecycle machine so hosts can register hooks.
func (c *Controller) FSM() *SessionFSM { return c.fsm }

// State returns the lifecycle state.
func (c *Controller) State() schema.SessionState { return c.fsm.State() }

// Session returns the active session, or nil once it was released.
func (c *Controller) Session() *Session { return c.session }

// SessionID returns the active session ID, or the last one after release.
func (c *Controller) SessionID() string {
	if c.session != nil {
		return c.session.ID
	}
	return c.lastSession
}

// ErrorText returns the error lines sniffed from the log channel and any
// preparation failure. It survives the end of the session.
func (c *Controller) ErrorText() string { return strings.Join(c.errorText, "\n") }

// Cursor returns the log line cursor of the current or last session.
func (c *Controller) Cursor() int64 { return c.cursor }

// LogLines returns the buffered lines of the current or last session.
func (c *Controller) LogLines() []logchan.Line {
	if c.channel == nil {
		return nil
	}
	lines, _ := c.channel.Since(0)
	return lines
}

// StepStatuses returns the statuses read by the last poll.
func (c *Controller) StepStatuses() []StepStatus {
	out := make([]StepStatus, len(c.statuses))
	copy(out, c.statuses)
	return out
}

// HasErrors reports whether the last poll saw engine errors.
func (c *Controller) HasErrors() bool { return c.hasErrors }

// Start begins a run of d. It is rejected without any state change when a
// session is active, the diagram is unnamed, unsaved changes are not saved,
// or the diagram fails its pre-run checks.
func (c *Controller) Start(ctx context.Context, d *model.Diagram, cfg RunConfig) error {
	ctx = logging.WithDiagram(ctx, d.Name)
	if st := c.fsm.State(); st.Active() {
		return c.reject(ctx, schema.Rejectedf("diagram %q already has a %s session", d.Name, st).
			WithDetails(map[string]any{"session_id": c.SessionID()}))
	}
	if !d.HasIdentity() {
		return c.reject(ctx, schema.Rejectedf("diagram needs a name before it can run"))
	}
	if err := d.Check().ToError(schema.ErrCodeValidation); err != nil {
		return c.reject(ctx, err)
	}
	for step, cond := range cfg.Breakpoints {
		if d.FindStep(step) == nil {
			return c.reject(ctx, schema.NewErrorf(schema.ErrCodeNotFound, "breakpoint on unknown step %q", step).WithStep(step))
		}
		if err := c.opts.CEL.Check(cond); err != nil {
			return c.reject(ctx, err)
		}
	}
	vars, err := c.opts.Expr.ResolveVariables(ctx, cfg.Parameters, cfg.Variables)
	if err != nil {
		return c.reject(ctx, err)
	}
	snap, err := d.Snapshot()
	if err != nil {
		return c.reject(ctx, err)
	}
	// the save must follow every check that can reject
	if d.Changed() {
		if err := c.saveBeforeRun(ctx, d); err != nil {
			return c.reject(ctx, err)
		}
	}

	ch := c.opts.Logs.Open(d.Name)
	ch.Clear()
	eng := c.opts.Factory(ch.ID(), ch)
	sess := newSession(d.Name, eng, ch, vars, maps.Clone(cfg.Breakpoints))
	if err := c.fsm.Bind(sess.ID); err != nil {
		return err
	}
	ctx = logging.WithSession(ctx, sess.ID)

	c.session = sess
	c.channel = ch
	c.cursor = ch.Cursor()
	c.errorText = nil
	c.statuses = nil
	c.hasErrors = false

	if c.opts.Registry != nil {
		rec := &store.Session{
			ID:        sess.ID,
			Diagram:   d.Name,
			Filename:  d.Filename,
			Channel:   ch.ID(),
			State:     schema.SessionIdle,
			Variables: vars,
			CreatedAt: sess.StartedAt,
		}
		if err := c.opts.Registry.CreateSession(ctx, rec); err != nil {
			c.logger.WarnContext(ctx, "session not recorded", "error", err)
		}
	}
	if err := c.fsm.Transition(ctx, schema.SessionPreparing); err != nil {
		return err
	}

	args := PrepareArgs{
		SessionID:  sess.ID,
		Snapshot:   snap,
		Parameters: maps.Clone(cfg.Parameters),
		Variables:  maps.Clone(vars),
	}
	bg := logging.WithSession(logging.WithDiagram(c.ctx, d.Name), sess.ID)
	err = c.opts.Pool.TrySubmit(bg, func(ctx context.Context) error {
		return eng.Prepare(ctx, args)
	}, func(err error) {
		c.opts.Queue.Post(func() { c.prepared(sess, err) })
	})
	if err != nil {
		if terr := c.fsm.Transition(ctx, schema.SessionIdle); terr != nil {
			c.logger.ErrorContext(ctx, "session transition failed", "error", terr)
		}
		c.release(sess)
		return c.reject(ctx, err)
	}
	c.ticker.Start()
	return nil
}

func (c *Controller) saveBeforeRun(ctx context.Context, d *model.Diagram) error {
	if !c.opts.AutoSave {
		q := fmt.Sprintf("Diagram %q has unsaved changes. Save before running?", d.Name)
		if c.opts.Confirmer == nil || !c.opts.Confirmer.Confirm(q) {
			return schema.Rejectedf("diagram %q has unsaved changes", d.Name)
		}
	}
	if c.opts.Saver == nil {
		return schema.Rejectedf("diagram %q has unsaved changes and no saver is configured", d.Name)
	}
	if err := c.opts.Saver.Save(ctx, d); err != nil {
		return schema.Rejectedf("saving %q before run: %s", d.Name, err.Error()).WithCause(err)
	}
	d.ClearChanged()
	return nil
}

// prepared handles the preparation result on the interaction goroutine.
func (c *Controller) prepared(sess *Session, err error) {
	if sess != c.session {
		return
	}
	ctx := c.sessionContext(sess)
	if err == nil {
		sess.prepared = true
		if c.fsm.State() == schema.SessionHalting {
			sess.Engine.StopAll()
			c.finish(ctx, sess)
			return
		}
		err = sess.Engine.StartThreads(c.ctx)
		if err == nil {
			if terr := c.fsm.Transition(ctx, schema.SessionRunning); terr != nil {
				c.logger.ErrorContext(ctx, "session transition failed", "error", terr)
			}
			return
		}
		sess.Engine.StopAll()
	}

	perr := schema.NewErrorf(schema.ErrCodePreparation, "preparing %s: %s", sess.Diagram, err.Error()).WithCause(err)
	c.errorText = append(c.errorText, perr.Message)
	c.logger.ErrorContext(ctx, "preparation failed", "error", err)
	if c.fsm.State() == schema.SessionHalting {
		c.finish(ctx, sess)
	} else {
		if terr := c.fsm.Transition(ctx, schema.SessionIdle); terr != nil {
			c.logger.ErrorContext(ctx, "session transition failed", "error", terr)
		}
		c.release(sess)
	}
	if c.opts.OnError != nil {
		c.opts.OnError(perr)
	}
}

// Pause suspends a running session. Outside Running it does nothing.
func (c *Controller) Pause(ctx context.Context) error {
	if c.fsm.State() != schema.SessionRunning {
		return nil
	}
	c.session.Engine.PauseRunning()
	return c.fsm.Transition(c.withSession(ctx), schema.SessionPaused)
}

// Resume continues a paused session. Outside Paused it does nothing.
func (c *Controller) Resume(ctx context.Context) error {
	if c.fsm.State() != schema.SessionPaused {
		return nil
	}
	c.session.Engine.ResumeRunning()
	return c.fsm.Transition(c.withSession(ctx), schema.SessionRunning)
}

// Stop signals the engine to halt. It returns as soon as the state flipped;
// the poller observes the engine finishing. Stop is rejected while a safe
// stop is draining.
func (c *Controller) Stop(ctx context.Context) error {
	ctx = c.withSession(ctx)
	switch st := c.fsm.State(); st {
	case schema.SessionSafeStopping:
		return c.reject(ctx, schema.Rejectedf("a safe stop is already in progress"))
	case schema.SessionRunning, schema.SessionPaused:
		if err := c.fsm.Transition(ctx, schema.SessionHalting); err != nil {
			return err
		}
		c.session.Engine.StopAll()
		return nil
	case schema.SessionPreparing:
		return c.fsm.Transition(ctx, schema.SessionHalting)
	default:
		return nil
	}
}

// SafeStop lets in-flight work drain. Only a running session can safe-stop.
func (c *Controller) SafeStop(ctx context.Context) error {
	ctx = c.withSession(ctx)
	switch st := c.fsm.State(); st {
	case schema.SessionSafeStopping:
		return nil
	case schema.SessionRunning:
		if err := c.fsm.Transition(ctx, schema.SessionSafeStopping); err != nil {
			return err
		}
		c.session.Engine.SafeStop()
		return nil
	default:
		return c.reject(ctx, schema.Rejectedf("safe stop needs a running session, state is %s", st))
	}
}

// Poll reads the engine status. The ticker posts it to the queue; hosts and
// tests may also call it directly on the interaction goroutine.
func (c *Controller) Poll() {
	sess := c.session
	if sess == nil || !sess.prepared {
		return
	}
	ctx := c.sessionContext(sess)
	eng := sess.Engine

	c.drainLogs(ctx)
	c.statuses = eng.StepStatuses()
	c.hasErrors = eng.HasErrors()
	c.flagStepErrors(ctx, sess)
	if c.fsm.State() == schema.SessionRunning {
		c.checkBreakpoints(ctx, sess)
	}
	finished := eng.IsFinished()
	c.publish(ctx, streaming.StatusEvent{
		Type:  schema.EventStatusPolled,
		State: c.fsm.State(),
		Payload: PollPayload{
			Statuses:  c.StepStatuses(),
			HasErrors: c.hasErrors,
			Finished:  finished,
		},
	})
	if finished {
		c.finish(ctx, sess)
		return
	}
	c.changed()
}

// PollPayload is the payload of status_polled events.
type PollPayload struct {
	Statuses  []StepStatus `json:"statuses"`
	HasErrors bool         `json:"has_errors"`
	Finished  bool         `json:"finished"`
}

func (c *Controller) drainLogs(ctx context.Context) {
	if c.channel == nil {
		return
	}
	lines, cursor := c.channel.Since(c.cursor)
	c.cursor = cursor
	if len(lines) == 0 {
		return
	}
	found, err := c.opts.Sniffer.Sniff(ctx, lines)
	if err != nil {
		c.logger.WarnContext(ctx, "log sniffing failed", "error", err)
	}
	c.errorText = append(c.errorText, found...)
}

func (c *Controller) flagStepErrors(ctx context.Context, sess *Session) {
	for _, st := range c.statuses {
		if st.Errors == 0 || sess.stepErrors[st.Step] {
			continue
		}
		sess.stepErrors[st.Step] = true
		c.logger.WarnContext(logging.WithStep(ctx, st.Step), "step reported errors", "errors", st.Errors)
		c.record(ctx, &store.Event{SessionID: sess.ID, Step: st.Step, Type: schema.EventStepError})
		c.publish(ctx, streaming.StatusEvent{
			Step:    st.Step,
			Type:    schema.EventStepError,
			State:   c.fsm.State(),
			Payload: st,
		})
	}
}

// checkBreakpoints pauses on the first satisfied condition. Each condition
// fires at most once per session so a resume is not undone by the next poll.
func (c *Controller) checkBreakpoints(ctx context.Context, sess *Session) {
	if len(sess.breakpoints) == 0 {
		return
	}
	vars := make(map[string]any, len(sess.Variables))
	for k, v := range sess.Variables {
		vars[k] = v
	}
	session := map[string]any{"id": sess.ID, "diagram": sess.Diagram, "variables": vars}
	for _, st := range c.statuses {
		cond, ok := sess.breakpoints[st.Step]
		if !ok || sess.fired[st.Step] {
			continue
		}
		hit, err := c.opts.CEL.Condition(ctx, cond, map[string]any{
			"step":    st.Step,
			"status":  st.Fields(),
			"session": session,
		})
		if err != nil {
			sess.fired[st.Step] = true
			c.logger.WarnContext(logging.WithStep(ctx, st.Step), "pause condition failed", "condition", cond, "error", err)
			continue
		}
		if !hit {
			continue
		}
		sess.fired[st.Step] = true
		sess.Engine.PauseRunning()
		if err := c.fsm.Transition(ctx, schema.SessionPaused); err != nil {
			c.logger.ErrorContext(ctx, "session transition failed", "error", err)
			return
		}
		c.logger.InfoContext(logging.WithStep(ctx, st.Step), "pause condition met", "condition", cond)
		c.record(ctx, &store.Event{SessionID: sess.ID, Step: st.Step, Type: schema.EventDebugBreak})
		c.publish(ctx, streaming.StatusEvent{
			Step:    st.Step,
			Type:    schema.EventDebugBreak,
			State:   schema.SessionPaused,
			Payload: map[string]any{"condition": cond, "status": st},
		})
		return
	}
}

// finish walks the session to Idle and releases it.
func (c *Controller) finish(ctx context.Context, sess *Session) {
	c.drainLogs(ctx)
	for _, to := range []schema.SessionState{schema.SessionFinished, schema.SessionIdle} {
		if err := c.fsm.Transition(ctx, to); err != nil {
			c.logger.ErrorContext(ctx, "session transition failed", "error", err)
		}
	}
	c.release(sess)
}

func (c *Controller) release(sess *Session) {
	if c.session != sess {
		return
	}
	c.lastSession = sess.ID
	c.session = nil
	c.changed()
}

func (c *Controller) onTransition(from, to schema.SessionState) error {
	id := c.fsm.SessionID()
	ctx := logging.WithSession(c.ctx, id)
	diagram := ""
	if c.session != nil {
		diagram = c.session.Diagram
		ctx = logging.WithDiagram(ctx, diagram)
	}
	c.logger.InfoContext(ctx, "session transition", "from", from, "to", to)

	// Finished stays the recorded state once the session is released.
	if c.opts.Registry != nil && from != schema.SessionFinished {
		update := store.SessionUpdate{State: &to}
		if to == schema.SessionFinished || (from == schema.SessionPreparing && to == schema.SessionIdle) {
			now := time.Now().UTC()
			update.EndedAt = &now
			if text := c.ErrorText(); text != "" {
				update.Error = &text
			}
		}
		if err := c.opts.Registry.UpdateSession(ctx, id, update); err != nil {
			c.logger.WarnContext(ctx, "session state not recorded", "error", err)
		}
	}
	c.publish(ctx, streaming.StatusEvent{
		SessionID: id,
		Diagram:   diagram,
		Type:      TransitionEventType(from, to),
		State:     to,
		Payload:   map[string]string{"from": string(from), "to": string(to)},
	})
	c.changed()
	return nil
}

func (c *Controller) publish(ctx context.Context, ev streaming.StatusEvent) {
	if c.opts.Hub == nil {
		return
	}
	if ev.SessionID == "" {
		ev.SessionID = c.SessionID()
	}
	if ev.Diagram == "" && c.session != nil {
		ev.Diagram = c.session.Diagram
	}
	if err := c.opts.Hub.Publish(ctx, ev); err != nil {
		c.logger.DebugContext(ctx, "status event not published", "type", ev.Type, "error", err)
	}
}

func (c *Controller) record(ctx context.Context, ev *store.Event) {
	if c.opts.Registry == nil {
		return
	}
	if err := c.opts.Registry.AppendEvent(ctx, ev); err != nil {
		c.logger.WarnContext(ctx, "session event not recorded", "type", ev.Type, "error", err)
	}
}

func (c *Controller) reject(ctx context.Context, err error) error {
	c.logger.WarnContext(ctx, "action rejected", "code", schema.CodeOf(err), "error", err)
	return err
}

func (c *Controller) changed() {
	if c.opts.OnChange != nil {
		c.opts.OnChange()
	}
}

func (c *Controller) sessionContext(sess *Session) context.Context {
	return logging.WithSession(logging.WithDiagram(c.ctx, sess.Diagram), sess.ID)
}

func (c *Controller) withSession(ctx context.Context) context.Context {
	if c.session == nil {
		return ctx
	}
	return logging.WithSession(logging.WithDiagram(ctx, c.session.Diagram), c.session.ID)
}

// Close stops polling and signals any active engine to stop. It does not
// wait for step goroutines.
func (c *Controller) Close() {
	c.ticker.Stop()
	if c.session != nil && c.session.prepared {
		c.session.Engine.StopAll()
	}
	c.cancel()
	if c.ownsPool {
		c.opts.Pool.Shutdown()
	}
}

// eventRecorder appends lifecycle events to the registry. A failing
// registry is logged and never blocks a transition.
type eventRecorder struct {
	registry store.Registry
	logger   *slog.Logger
}

func (r *eventRecorder) AppendEvent(ctx context.Context, event *store.Event) error {
	if err := r.registry.AppendEvent(ctx, event); err != nil {
		r.logger.WarnContext(ctx, "session event not recorded", "type", event.Type, "error", err)
	}
	return nil
}
