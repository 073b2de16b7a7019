package editor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rendis/transcanvas/internal/geometry"
	"github.com/rendis/transcanvas/internal/model"
	"github.com/rendis/transcanvas/internal/undo"
)

// boxPainter registers hops (midpoint handle), step icons, connectors on
// both sides of every icon, and notes, in that z-order.
type boxPainter struct{}

func (boxPainter) Paint(st PaintState, sink *geometry.Frame) {
	d, v := st.Diagram, st.Viewport
	half := d.IconSize / 2
	for _, h := range d.Hops {
		a, b := h.From.Center(d.IconSize), h.To.Center(d.IconSize)
		mid := v.DiagramToScreen(geometry.Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2})
		sink.Add(geometry.AreaHop, geometry.Rect{X: mid.X - 3, Y: mid.Y - 3, Width: 6, Height: 6}, h, nil)
	}
	for _, s := range d.Steps {
		p := v.DiagramToScreen(s.Location)
		sink.Add(geometry.AreaStep, geometry.Rect{X: p.X, Y: p.Y, Width: d.IconSize, Height: d.IconSize}, s, nil)
		sink.Add(geometry.AreaOutputConnector, geometry.Rect{X: p.X + d.IconSize, Y: p.Y + half - 4, Width: 6, Height: 8}, "out", s)
		sink.Add(geometry.AreaInputConnector, geometry.Rect{X: p.X - 6, Y: p.Y + half - 4, Width: 6, Height: 8}, "in", s)
	}
	for _, n := range d.Notes {
		p := v.DiagramToScreen(n.Location)
		sink.Add(geometry.AreaNote, geometry.Rect{X: p.X, Y: p.Y, Width: n.Width, Height: n.Height}, n, nil)
	}
}

type fakeSurface struct {
	canvas   *Canvas
	redraws  int
	captured bool
}

func (f *fakeSurface) HitTest(x, y int) *geometry.AreaOwner { return f.canvas.Frame().Resolve(x, y) }
func (f *fakeSurface) Redraw()                              { f.redraws++ }
func (f *fakeSurface) CaptureInput(on bool)                 { f.captured = on }

// scriptedPrompter answers with fixed choices and counts prompts.
type scriptedPrompter struct {
	choice      int
	cancel      bool
	split       bool
	streamCalls int
	splitCalls  int
	lastOptions []StreamOption
}

func (p *scriptedPrompter) ChooseStream(_, _ *model.Step, options []StreamOption) (int, bool) {
	p.streamCalls++
	p.lastOptions = options
	return p.choice, !p.cancel
}

func (p *scriptedPrompter) ConfirmSplit(_ *model.Hop, _ *model.Step) bool {
	p.splitCalls++
	return p.split
}

type manualHover struct {
	pending func()
	resets  int
	cancels int
}

func (h *manualHover) Reset(fn func()) { h.pending = fn; h.resets++ }
func (h *manualHover) Cancel()         { h.pending = nil; h.cancels++ }
func (h *manualHover) fire() {
	if fn := h.pending; fn != nil {
		h.pending = nil
		fn()
	}
}

type fixture struct {
	d        *model.Diagram
	c        *Canvas
	surface  *fakeSurface
	journal  *undo.Journal
	prompter *scriptedPrompter
	hover    *manualHover
	errs     []error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		d:        model.New("orders"),
		surface:  &fakeSurface{},
		journal:  undo.NewJournal(50),
		prompter: &scriptedPrompter{},
		hover:    &manualHover{},
	}
	f.c = NewCanvas(f.d, f.surface, boxPainter{}, Options{
		MinZoom:  0.5,
		MaxZoom:  4,
		Undo:     f.journal,
		Prompter: f.prompter,
		Hover:    f.hover,
	})
	f.c.OnError = func(err error) { f.errs = append(f.errs, err) }
	f.surface.canvas = f.c
	return f
}

func (f *fixture) step(t *testing.T, name string, x, y int, meta model.StepMeta) *model.Step {
	t.Helper()
	s := &model.Step{Name: name, Location: geometry.Point{X: x, Y: y}, Meta: meta}
	require.NoError(t, f.d.AddStep(s))
	f.c.Redraw()
	return s
}

func (f *fixture) hop(t *testing.T, from, to *model.Step) *model.Hop {
	t.Helper()
	h := &model.Hop{From: from, To: to, Enabled: true}
	require.NoError(t, f.d.AddHop(h))
	f.c.Redraw()
	return h
}

func left(x, y int) MouseEvent { return MouseEvent{X: x, Y: y, Button: ButtonLeft} }

// drag performs a full left-button gesture.
func (f *fixture) drag(t *testing.T, fromX, fromY, toX, toY int) error {
	t.Helper()
	require.NoError(t, f.c.MouseDown(left(fromX, fromY)))
	f.c.MouseMove(left(toX, toY))
	return f.c.MouseUp(left(toX, toY))
}
