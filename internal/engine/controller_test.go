package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/transcanvas/internal/dispatch"
	"github.com/rendis/transcanvas/internal/model"
	"github.com/rendis/transcanvas/internal/store"
	"github.com/rendis/transcanvas/internal/streaming"
	"github.com/rendis/transcanvas/pkg/schema"
)

// mockEngine records control calls. Prepare blocks on gate when set.
type mockEngine struct {
	mu         sync.Mutex
	channel    string
	logs       io.Writer
	gate       chan struct{}
	prepareErr error
	panicMsg   string
	startErr   error
	args       PrepareArgs
	calls      map[string]int
	finished   bool
	hasErrors  bool
	statuses   []StepStatus
	// finishOnStop makes StopAll and SafeStop end the run.
	finishOnStop bool
}

func (m *mockEngine) Prepare(ctx context.Context, args PrepareArgs) error {
	m.count("prepare")
	m.mu.Lock()
	m.args = args
	gate, perr, msg := m.gate, m.prepareErr, m.panicMsg
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if msg != "" {
		panic(msg)
	}
	return perr
}

func (m *mockEngine) StartThreads(context.Context) error {
	m.count("start")
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startErr
}

func (m *mockEngine) PauseRunning()  { m.count("pause") }
func (m *mockEngine) ResumeRunning() { m.count("resume") }

func (m *mockEngine) StopAll() {
	m.count("stop")
	m.finishIfConfigured()
}

func (m *mockEngine) SafeStop() {
	m.count("safestop")
	m.finishIfConfigured()
}

func (m *mockEngine) finishIfConfigured() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finishOnStop {
		m.finished = true
	}
}

func (m *mockEngine) IsFinished() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finished
}

func (m *mockEngine) HasErrors() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasErrors
}

func (m *mockEngine) LogChannel() string { return m.channel }

func (m *mockEngine) StepStatuses() []StepStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StepStatus(nil), m.statuses...)
}

func (m *mockEngine) count(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[call]++
}

func (m *mockEngine) Calls(call string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[call]
}

func (m *mockEngine) set(fn func(m *mockEngine)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

type recordingSaver struct {
	saves int
	err   error
}

func (s *recordingSaver) Save(_ context.Context, d *model.Diagram) error {
	s.saves++
	return s.err
}

type answer bool

func (a answer) Confirm(string) bool { return bool(a) }

type harness struct {
	c        *Controller
	queue    *dispatch.Queue
	pool     *WorkerPool
	registry *store.MemoryStore
	events   <-chan streaming.StatusEvent
	engines  []*mockEngine
	errs     []error
	changes  int
	// configure runs on every engine the factory builds.
	configure func(*mockEngine)
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		queue:    dispatch.NewQueue(),
		pool:     NewWorkerPool(1),
		registry: store.NewMemoryStore(),
	}
	hub := streaming.NewMemoryHub(256)
	events, cancel, err := hub.Subscribe(context.Background(), streaming.Filter{})
	require.NoError(t, err)
	h.events = events

	opts := Options{
		Factory: func(channel string, logs io.Writer) Engine {
			m := &mockEngine{channel: channel, logs: logs, calls: map[string]int{}}
			if h.configure != nil {
				h.configure(m)
			}
			h.engines = append(h.engines, m)
			return m
		},
		Queue:    h.queue,
		Schedule: dispatch.Every(time.Hour),
		Pool:     h.pool,
		Registry: h.registry,
		Hub:      hub,
		Logger:   slog.New(slog.DiscardHandler),
		OnChange: func() { h.changes++ },
		OnError:  func(err error) { h.errs = append(h.errs, err) },
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := NewController(context.Background(), opts)
	require.NoError(t, err)
	h.c = c
	t.Cleanup(func() {
		c.Close()
		cancel()
		h.pool.Shutdown()
	})
	return h
}

// settle waits for background preparation and drains its result.
func (h *harness) settle() {
	h.pool.Wait()
	h.queue.Drain()
}

func (h *harness) engine() *mockEngine { return h.engines[len(h.engines)-1] }

// eventTypes drains the published events.
func (h *harness) eventTypes() []string {
	var out []string
	for {
		select {
		case ev := <-h.events:
			out = append(out, ev.Type)
		default:
			return out
		}
	}
}

func (h *harness) start(t *testing.T, d *model.Diagram, cfg RunConfig) {
	t.Helper()
	require.NoError(t, h.c.Start(context.Background(), d, cfg))
	h.settle()
	require.Equal(t, schema.SessionRunning, h.c.State())
}

func pipeline(t *testing.T) *model.Diagram {
	t.Helper()
	d := model.New("etl")
	a := &model.Step{Name: "A", Meta: &model.BasicMeta{Output: true}}
	b := &model.Step{Name: "B", Meta: &model.BasicMeta{Input: true, Output: true}, Copies: 2}
	require.NoError(t, d.AddStep(a))
	require.NoError(t, d.AddStep(b))
	require.NoError(t, d.AddHop(&model.Hop{From: a, To: b, Enabled: true}))
	d.ClearChanged()
	return d
}

func TestController_StartPreparesInBackgroundThenRuns(t *testing.T) {
	h := newHarness(t, nil)
	d := pipeline(t)

	require.NoError(t, h.c.Start(context.Background(), d, RunConfig{Parameters: map[string]string{"dir": "/tmp"}}))
	assert.Equal(t, schema.SessionPreparing, h.c.State())
	sess := h.c.Session()
	require.NotNil(t, sess)
	assert.False(t, sess.Prepared())

	h.settle()
	assert.Equal(t, schema.SessionRunning, h.c.State())
	assert.True(t, sess.Prepared())

	m := h.engine()
	assert.Equal(t, 1, m.Calls("prepare"))
	assert.Equal(t, 1, m.Calls("start"))
	assert.Equal(t, sess.ID, m.args.SessionID)
	assert.Equal(t, []string{"A", "B"}, m.args.Snapshot.Order)
	assert.Equal(t, "/tmp", m.args.Parameters["dir"])
	assert.Equal(t, sess.Channel.ID(), m.LogChannel())

	rec, err := h.registry.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.SessionRunning, rec.State)
	assert.Equal(t, "etl", rec.Diagram)

	assert.Equal(t, []string{schema.EventSessionPreparing, schema.EventSessionRunning}, h.eventTypes())
	assert.Positive(t, h.changes)
}

func TestController_SecondStartIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	d := pipeline(t)
	h.start(t, d, RunConfig{})
	first := h.c.Session()

	err := h.c.Start(context.Background(), d, RunConfig{})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeRejected))
	assert.Same(t, first, h.c.Session())
	assert.Equal(t, schema.SessionRunning, h.c.State())
	assert.Len(t, h.engines, 1)
}

func TestController_StartRejections(t *testing.T) {
	tests := []struct {
		name    string
		diagram func(t *testing.T) *model.Diagram
		cfg     RunConfig
		code    string
	}{
		{
			name: "no identity",
			diagram: func(t *testing.T) *model.Diagram {
				d := pipeline(t)
				d.Name = ""
				return d
			},
			code: schema.ErrCodeRejected,
		},
		{
			name:    "empty diagram",
			diagram: func(*testing.T) *model.Diagram { return model.New("empty") },
			code:    schema.ErrCodeValidation,
		},
		{
			name:    "unknown breakpoint step",
			diagram: pipeline,
			cfg:     RunConfig{Breakpoints: map[string]string{"Z": "true"}},
			code:    schema.ErrCodeNotFound,
		},
		{
			name:    "breakpoint does not compile",
			diagram: pipeline,
			cfg:     RunConfig{Breakpoints: map[string]string{"B": "status.written >="}},
			code:    schema.ErrCodeValidation,
		},
		{
			name:    "variable expression fails",
			diagram: pipeline,
			cfg:     RunConfig{Variables: map[string]string{"X": "=1 +"}},
			code:    schema.ErrCodeValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			err := h.c.Start(context.Background(), tt.diagram(t), tt.cfg)
			require.Error(t, err)
			assert.Equal(t, tt.code, schema.CodeOf(err))
			assert.Equal(t, schema.SessionIdle, h.c.State())
			assert.Nil(t, h.c.Session())
			assert.Empty(t, h.engines)
			assert.Empty(t, h.eventTypes())
		})
	}
}

func TestController_UnsavedChanges(t *testing.T) {
	t.Run("declined", func(t *testing.T) {
		saver := &recordingSaver{}
		h := newHarness(t, func(o *Options) { o.Saver = saver; o.Confirmer = answer(false) })
		d := pipeline(t)
		d.SetChanged()

		err := h.c.Start(context.Background(), d, RunConfig{})
		assert.True(t, schema.IsCode(err, schema.ErrCodeRejected))
		assert.Zero(t, saver.saves)
		assert.Equal(t, schema.SessionIdle, h.c.State())
	})
	t.Run("accepted", func(t *testing.T) {
		saver := &recordingSaver{}
		h := newHarness(t, func(o *Options) { o.Saver = saver; o.Confirmer = answer(true) })
		d := pipeline(t)
		d.SetChanged()

		h.start(t, d, RunConfig{})
		assert.Equal(t, 1, saver.saves)
		assert.False(t, d.Changed())
	})
	t.Run("auto save", func(t *testing.T) {
		saver := &recordingSaver{}
		h := newHarness(t, func(o *Options) { o.Saver = saver; o.AutoSave = true })
		d := pipeline(t)
		d.SetChanged()

		h.start(t, d, RunConfig{})
		assert.Equal(t, 1, saver.saves)
	})
	t.Run("save fails", func(t *testing.T) {
		saver := &recordingSaver{err: errors.New("disk full")}
		h := newHarness(t, func(o *Options) { o.Saver = saver; o.AutoSave = true })
		d := pipeline(t)
		d.SetChanged()

		err := h.c.Start(context.Background(), d, RunConfig{})
		assert.True(t, schema.IsCode(err, schema.ErrCodeRejected))
		assert.ErrorContains(t, err, "disk full")
		assert.True(t, d.Changed())
	})
	t.Run("later rejection skips the save", func(t *testing.T) {
		saver := &recordingSaver{}
		h := newHarness(t, func(o *Options) { o.Saver = saver; o.AutoSave = true })
		d := pipeline(t)
		d.SetChanged()

		err := h.c.Start(context.Background(), d, RunConfig{Breakpoints: map[string]string{"ghost": "true"}})
		assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
		assert.Zero(t, saver.saves)
		assert.True(t, d.Changed())
		assert.Equal(t, schema.SessionIdle, h.c.State())

		err = h.c.Start(context.Background(), d, RunConfig{Variables: map[string]string{"bad": "=1 +"}})
		assert.Error(t, err)
		assert.Zero(t, saver.saves)
		assert.True(t, d.Changed())
	})
}

func TestController_PreparationFailureReturnsToIdle(t *testing.T) {
	tests := []struct {
		name      string
		configure func(*mockEngine)
		want      string
	}{
		{"error", func(m *mockEngine) { m.prepareErr = errors.New("missing connection") }, "missing connection"},
		{"panic", func(m *mockEngine) { m.panicMsg = "nil metadata" }, "nil metadata"},
		{"threads", func(m *mockEngine) { m.startErr = errors.New("no threads") }, "no threads"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.configure = tt.configure

			require.NoError(t, h.c.Start(context.Background(), pipeline(t), RunConfig{}))
			id := h.c.SessionID()
			h.settle()

			assert.Equal(t, schema.SessionIdle, h.c.State())
			assert.Nil(t, h.c.Session())
			assert.Equal(t, id, h.c.SessionID())
			require.Len(t, h.errs, 1)
			assert.Equal(t, schema.ErrCodePreparation, schema.CodeOf(h.errs[0]))
			assert.Contains(t, h.c.ErrorText(), tt.want)
			assert.Contains(t, h.eventTypes(), schema.EventPreparationFailed)

			rec, err := h.registry.GetSession(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, schema.SessionIdle, rec.State)
			assert.Contains(t, rec.Error, tt.want)
			assert.NotNil(t, rec.EndedAt)

			// The controller accepts a new run afterwards.
			h.configure = nil
			h.start(t, pipeline(t), RunConfig{})
		})
	}
}

func TestController_PauseResumeAreIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.c.Pause(ctx))
	require.NoError(t, h.c.Resume(ctx))
	assert.Equal(t, schema.SessionIdle, h.c.State())

	h.start(t, pipeline(t), RunConfig{})
	m := h.engine()

	require.NoError(t, h.c.Resume(ctx))
	assert.Zero(t, m.Calls("resume"))

	require.NoError(t, h.c.Pause(ctx))
	require.NoError(t, h.c.Pause(ctx))
	assert.Equal(t, schema.SessionPaused, h.c.State())
	assert.Equal(t, 1, m.Calls("pause"))

	require.NoError(t, h.c.Resume(ctx))
	require.NoError(t, h.c.Resume(ctx))
	assert.Equal(t, schema.SessionRunning, h.c.State())
	assert.Equal(t, 1, m.Calls("resume"))
	assert.Zero(t, m.Calls("stop"))
}

func TestController_StopConvergesToIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.configure = func(m *mockEngine) { m.finishOnStop = true }
	h.start(t, pipeline(t), RunConfig{})
	id := h.c.SessionID()
	h.eventTypes()

	require.NoError(t, h.c.Pause(context.Background()))
	require.NoError(t, h.c.Stop(context.Background()))
	assert.Equal(t, schema.SessionHalting, h.c.State())
	assert.Equal(t, 1, h.engine().Calls("stop"))

	h.c.Poll()
	assert.Equal(t, schema.SessionIdle, h.c.State())
	assert.Nil(t, h.c.Session())
	assert.Equal(t, id, h.c.SessionID())
	assert.Equal(t, []string{
		schema.EventSessionPaused,
		schema.EventSessionHalting,
		schema.EventStatusPolled,
		schema.EventSessionFinished,
		schema.EventSessionIdle,
	}, h.eventTypes())

	rec, err := h.registry.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, schema.SessionFinished, rec.State)
	assert.NotNil(t, rec.EndedAt)

	require.NoError(t, h.c.Stop(context.Background()))
}

func TestController_SafeStop(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t, pipeline(t), RunConfig{})
	m := h.engine()
	ctx := context.Background()

	require.NoError(t, h.c.SafeStop(ctx))
	assert.Equal(t, schema.SessionSafeStopping, h.c.State())
	require.NoError(t, h.c.SafeStop(ctx))
	assert.Equal(t, 1, m.Calls("safestop"))

	err := h.c.Stop(ctx)
	assert.True(t, schema.IsCode(err, schema.ErrCodeRejected))
	assert.Zero(t, m.Calls("stop"))
	assert.Equal(t, schema.SessionSafeStopping, h.c.State())

	h.c.Poll()
	assert.Equal(t, schema.SessionSafeStopping, h.c.State())

	m.set(func(m *mockEngine) { m.finished = true })
	h.c.Poll()
	assert.Equal(t, schema.SessionIdle, h.c.State())
}

func TestController_SafeStopNeedsRunning(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	assert.True(t, schema.IsCode(h.c.SafeStop(ctx), schema.ErrCodeRejected))

	h.start(t, pipeline(t), RunConfig{})
	require.NoError(t, h.c.Pause(ctx))
	assert.True(t, schema.IsCode(h.c.SafeStop(ctx), schema.ErrCodeRejected))
	assert.Equal(t, schema.SessionPaused, h.c.State())
}

func TestController_StopDuringPreparation(t *testing.T) {
	h := newHarness(t, nil)
	gate := make(chan struct{})
	h.configure = func(m *mockEngine) { m.gate = gate }

	require.NoError(t, h.c.Start(context.Background(), pipeline(t), RunConfig{}))
	require.NoError(t, h.c.Stop(context.Background()))
	assert.Equal(t, schema.SessionHalting, h.c.State())

	close(gate)
	h.settle()

	m := h.engine()
	assert.Zero(t, m.Calls("start"))
	assert.Equal(t, 1, m.Calls("stop"))
	assert.Equal(t, schema.SessionIdle, h.c.State())
	assert.Nil(t, h.c.Session())
}

func TestController_PoolBusyRejectsStart(t *testing.T) {
	h := newHarness(t, nil)
	block := make(chan struct{})
	require.NoError(t, h.pool.Submit(context.Background(), func(context.Context) error {
		<-block
		return nil
	}, nil))
	defer close(block)

	err := h.c.Start(context.Background(), pipeline(t), RunConfig{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeBusy))
	assert.Equal(t, schema.SessionIdle, h.c.State())
	assert.Nil(t, h.c.Session())
}

func TestController_VariablesAreResolved(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t, pipeline(t), RunConfig{
		Parameters: map[string]string{"dir": "/data"},
		Variables:  map[string]string{"OUT": `=dir + "/out"`, "MODE": "fast"},
	})
	m := h.engine()
	assert.Equal(t, map[string]string{"OUT": "/data/out", "MODE": "fast"}, m.args.Variables)
	assert.Equal(t, m.args.Variables, h.c.Session().Variables)
}

func TestController_PollSniffsErrorsAndKeepsThemAfterFinish(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t, pipeline(t), RunConfig{})
	m := h.engine()

	logger := slog.New(slog.NewJSONHandler(m.logs, nil))
	logger.Info("rows read", "step", "A", "rows", 10)
	logger.Error("write failed", "step", "B", "error", "disk full")
	m.set(func(m *mockEngine) {
		m.hasErrors = true
		m.statuses = []StepStatus{
			{Step: "A", State: "running", Read: 10, Written: 10, Running: true},
			{Step: "B", State: "running", Read: 10, Errors: 1, Running: true},
		}
	})
	h.eventTypes()

	h.c.Poll()
	assert.Equal(t, schema.SessionRunning, h.c.State(), "engine errors do not stop the run")
	assert.True(t, h.c.HasErrors())
	assert.Equal(t, "B: write failed: disk full", h.c.ErrorText())
	assert.Equal(t, int64(2), h.c.Cursor())
	assert.Len(t, h.c.StepStatuses(), 2)
	assert.Equal(t, []string{schema.EventStepError, schema.EventStatusPolled}, h.eventTypes())

	h.c.Poll()
	assert.Equal(t, []string{schema.EventStatusPolled}, h.eventTypes(), "step errors are flagged once")

	m.set(func(m *mockEngine) { m.finished = true })
	h.c.Poll()
	assert.Equal(t, schema.SessionIdle, h.c.State())
	assert.Equal(t, "B: write failed: disk full", h.c.ErrorText())
	assert.Equal(t, int64(2), h.c.Cursor())
	assert.Len(t, h.c.LogLines(), 2)

	events, err := h.registry.GetEvents(context.Background(), h.c.SessionID(), 0)
	require.NoError(t, err)
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, schema.EventStepError)
	assert.Contains(t, types, schema.EventSessionFinished)

	// A new run clears the channel and the retained text.
	h.start(t, pipeline(t), RunConfig{})
	assert.Empty(t, h.c.ErrorText())
	assert.Empty(t, h.c.LogLines())
}

func TestController_BreakpointPausesOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t, pipeline(t), RunConfig{Breakpoints: map[string]string{"B": "status.written >= 10"}})
	m := h.engine()
	h.eventTypes()

	m.set(func(m *mockEngine) { m.statuses = []StepStatus{{Step: "B", Written: 5, Running: true}} })
	h.c.Poll()
	assert.Equal(t, schema.SessionRunning, h.c.State())

	m.set(func(m *mockEngine) { m.statuses = []StepStatus{{Step: "B", Written: 12, Running: true}} })
	h.c.Poll()
	assert.Equal(t, schema.SessionPaused, h.c.State())
	assert.Equal(t, 1, m.Calls("pause"))
	assert.Contains(t, h.eventTypes(), schema.EventDebugBreak)

	require.NoError(t, h.c.Resume(context.Background()))
	h.c.Poll()
	assert.Equal(t, schema.SessionRunning, h.c.State())
	assert.Equal(t, 1, m.Calls("pause"))
}

func TestController_TickerDrivesPolling(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Schedule = dispatch.Every(5 * time.Millisecond) })
	h.start(t, pipeline(t), RunConfig{})
	h.engine().set(func(m *mockEngine) { m.finished = true })

	deadline := time.After(2 * time.Second)
	for h.c.State() != schema.SessionIdle {
		select {
		case <-h.queue.Wake():
			h.queue.Drain()
		case <-deadline:
			t.Fatal("ticker never polled the finished engine")
		}
	}
	assert.Nil(t, h.c.Session())
}

func TestNewController_RequiresFactoryAndQueue(t *testing.T) {
	_, err := NewController(context.Background(), Options{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}
