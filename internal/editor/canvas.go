package editor

import (
	"log/slog"

	"github.com/rendis/transcanvas/internal/geometry"
	"github.com/rendis/transcanvas/internal/model"
	"github.com/rendis/transcanvas/internal/undo"
	"github.com/rendis/transcanvas/pkg/schema"
)

// Options configures a Canvas. Zero values select the defaults.
type Options struct {
	MinZoom      float64
	MaxZoom      float64
	HopTolerance float64
	Undo         undo.Sink
	Prompter     Prompter
	Hover        HoverTimer
	Logger       *slog.Logger
}

// Canvas is the editing surface for one diagram. All methods must be called
// from the interaction goroutine.
type Canvas struct {
	diagram  *model.Diagram
	view     *geometry.Viewport
	surface  Surface
	painter  Painter
	frame    *geometry.Frame
	undo     undo.Sink
	prompter Prompter
	hover    HoverTimer
	logger   *slog.Logger
	tol      float64

	hops        *HopBuilder
	drag        dragState
	pointer     geometry.Point
	hoverStep   *model.Step
	selectedHop *model.Hop
	badges      map[string]StepBadge

	// OnAffordance is called for clicks on control affordances such as the
	// step menu or error icon.
	OnAffordance func(geometry.AreaOwner)
	// OnError receives every rejection surfaced by an input handler.
	OnError func(error)
}

// NewCanvas wires a canvas for d drawn by painter onto surface.
func NewCanvas(d *model.Diagram, surface Surface, painter Painter, opts Options) *Canvas {
	if opts.Undo == nil {
		opts.Undo = undo.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HopTolerance <= 0 {
		opts.HopTolerance = model.DefaultHopTolerance
	}
	if opts.Hover == nil {
		opts.Hover = noHover{}
	}
	return &Canvas{
		diagram:  d,
		view:     geometry.NewViewport(opts.MinZoom, opts.MaxZoom),
		surface:  surface,
		painter:  painter,
		frame:    geometry.NewFrame(),
		undo:     opts.Undo,
		prompter: opts.Prompter,
		hover:    opts.Hover,
		logger:   opts.Logger.With(slog.String("diagram", d.Name)),
		tol:      opts.HopTolerance,
		hops:     NewHopBuilder(d, opts.Undo),
		badges:   map[string]StepBadge{},
	}
}

type noHover struct{}

func (noHover) Reset(fn func()) { fn() }
func (noHover) Cancel()         {}

// Diagram returns the edited diagram.
func (c *Canvas) Diagram() *model.Diagram { return c.diagram }

// Viewport returns the canvas viewport.
func (c *Canvas) Viewport() *geometry.Viewport { return c.view }

// Frame returns the hit-test frame filled by the last paint.
func (c *Canvas) Frame() *geometry.Frame { return c.frame }

// Hops returns the hop-creation protocol state machine.
func (c *Canvas) Hops() *HopBuilder { return c.hops }

// DragMode returns the current drag mode.
func (c *Canvas) DragMode() DragMode { return c.drag.mode }

// SelectedHop returns the hop selected by the last click, or nil.
func (c *Canvas) SelectedHop() *model.Hop { return c.selectedHop }

// HoverStep returns the step showing hover affordances, or nil.
func (c *Canvas) HoverStep() *model.Step { return c.hoverStep }

// SetBadges replaces the execution overlay and redraws.
func (c *Canvas) SetBadges(b map[string]StepBadge) {
	c.badges = b
	c.Redraw()
}

// State returns the paint state for the current frame.
func (c *Canvas) State() PaintState {
	st := PaintState{
		Diagram:        c.diagram,
		Viewport:       c.view,
		Candidate:      c.hops.Candidate(),
		Rejected:       c.hops.Rejected(),
		Anchor:         c.hops.Anchor(),
		Pointer:        c.pointer,
		HoverStep:      c.hoverStep,
		SplitCandidate: c.drag.split,
		SelectedHop:    c.selectedHop,
		Badges:         c.badges,
	}
	if c.drag.mode == DragRegion {
		r := geometry.RectFrom(c.drag.origin, c.pointer)
		st.Region = &r
	}
	return st
}

// Redraw repaints the frame and presents it.
func (c *Canvas) Redraw() {
	c.frame.Reset()
	if c.painter != nil {
		c.painter.Paint(c.State(), c.frame)
	}
	if c.surface != nil {
		c.surface.Redraw()
	}
}

func (c *Canvas) resolve(x, y int) *geometry.AreaOwner {
	if c.surface != nil {
		return c.surface.HitTest(x, y)
	}
	return c.frame.Resolve(x, y)
}

func (c *Canvas) report(err error) error {
	if err == nil {
		return nil
	}
	c.logger.Warn("edit rejected", slog.String("error", err.Error()))
	if c.OnError != nil {
		c.OnError(err)
	}
	return err
}

// SetZoom applies a magnification; out-of-range values are rejected.
func (c *Canvas) SetZoom(z float64) error {
	if err := c.view.SetZoom(z); err != nil {
		return c.report(err)
	}
	c.Redraw()
	return nil
}

// ToggleHop flips the enabled flag of h. Enabling a hop that would close a
// loop is rejected and the hop stays disabled.
func (c *Canvas) ToggleHop(h *model.Hop) error {
	if !h.Enabled && c.diagram.WouldLoop(h.From, h.To) {
		return c.report(schema.NewErrorf(schema.ErrCodeCycleDetected, "enabling hop %s would create a loop", h).
			WithDetails(map[string]any{"from": h.From.Name, "to": h.To.Name}))
	}
	h.Enabled = !h.Enabled
	c.diagram.SetChanged()
	c.undo.Add(undo.HopToggle{Hop: h, WasEnabled: !h.Enabled})
	c.Redraw()
	return nil
}

// DeleteSelection removes the selected steps, their incident hops, the
// selected notes and the selected hop as one undo record.
func (c *Canvas) DeleteSelection() int {
	var rec undo.Elements
	for _, s := range c.diagram.SelectedSteps() {
		rec.Hops = append(rec.Hops, c.diagram.RemoveStep(s)...)
		rec.Steps = append(rec.Steps, s)
	}
	for _, n := range c.diagram.SelectedNotes() {
		c.diagram.RemoveNote(n)
		rec.Notes = append(rec.Notes, n)
	}
	if h := c.selectedHop; h != nil && c.diagram.RemoveHop(h) {
		rec.Hops = append(rec.Hops, h)
	}
	c.selectedHop = nil

	n := len(rec.Steps) + len(rec.Hops) + len(rec.Notes)
	if n > 0 {
		c.undo.Add(undo.Delete{Elements: rec})
		c.Redraw()
	}
	return n
}

// DuplicateSelection copies the selected steps, and the hops between them,
// one icon down and to the right. The copies become the selection and are
// recorded as one undo record.
func (c *Canvas) DuplicateSelection() int {
	selected := c.diagram.SelectedSteps()
	if len(selected) == 0 {
		return 0
	}
	size := c.diagram.IconSize
	steps, hops := c.diagram.CloneSteps(selected, geometry.Point{X: size, Y: size})
	c.diagram.ClearSelection()
	for _, s := range steps {
		s.Selected = true
	}
	c.selectedHop = nil
	c.undo.Add(undo.New{Elements: undo.Elements{Steps: steps, Hops: hops}})
	c.logger.Debug("duplicated steps", slog.Int("steps", len(steps)), slog.Int("hops", len(hops)))
	c.Redraw()
	return len(steps)
}

// Key handles an editing command.
func (c *Canvas) Key(k Key) error {
	switch k {
	case KeyEscape:
		c.cancelGestures()
	case KeyDelete:
		c.DeleteSelection()
	case KeySelectAll:
		c.diagram.SelectAll()
	case KeyZoomIn:
		c.view.ZoomBy(1.25)
	case KeyZoomOut:
		c.view.ZoomBy(0.8)
	case KeyZoomReset:
		return c.SetZoom(1)
	case KeyDuplicate:
		c.DuplicateSelection()
		return nil
	case KeyToggleHop:
		if c.selectedHop == nil {
			return nil
		}
		return c.ToggleHop(c.selectedHop)
	default:
		return nil
	}
	c.Redraw()
	return nil
}

// FocusLost drops every transient gesture.
func (c *Canvas) FocusLost() {
	c.cancelGestures()
	c.Redraw()
}

func (c *Canvas) cancelGestures() {
	c.hops.Cancel()
	if c.drag.mode == DragItems {
		c.drag.restore()
	}
	c.drag.reset()
	c.hover.Cancel()
	c.hoverStep = nil
	if c.surface != nil {
		c.surface.CaptureInput(false)
	}
}
