package editor

import (
	"log/slog"

	"github.com/rendis/transcanvas/internal/geometry"
	"github.com/rendis/transcanvas/internal/model"
	"github.com/rendis/transcanvas/internal/undo"
)

// DragMode is the state of the selection and drag machine.
type DragMode int

const (
	DragNone    DragMode = iota
	DragPending          // button down on an item, pointer not moved yet
	DragItems            // moving the selection
	DragRegion           // rubber-band selection
	DragView             // panning
	DragHop              // hop-creation gesture owns the pointer
)

func (m DragMode) String() string {
	switch m {
	case DragNone:
		return "NONE"
	case DragPending:
		return "PENDING"
	case DragItems:
		return "ITEMS"
	case DragRegion:
		return "REGION"
	case DragView:
		return "VIEW"
	case DragHop:
		return "HOP"
	default:
		return "UNKNOWN"
	}
}

type dragState struct {
	mode   DragMode
	origin geometry.Point // diagram space
	last   geometry.Point // diagram space
	screen geometry.Point // last screen position, for panning

	// item the gesture started on, and whether it must become the sole
	// selection if the button is released without moving
	step     *model.Step
	note     *model.Note
	narrowTo bool
	stepFrom map[*model.Step]geometry.Point
	noteFrom map[*model.Note]geometry.Point
	split    *model.Hop
	hopMoved bool
}

func (d *dragState) reset() {
	*d = dragState{}
}

// restore puts every moved item back where the gesture started.
func (d *dragState) restore() {
	for s, p := range d.stepFrom {
		s.Location = p
	}
	for n, p := range d.noteFrom {
		n.Location = p
	}
}

func (d *dragState) snapshot(diagram *model.Diagram) {
	d.stepFrom = make(map[*model.Step]geometry.Point)
	d.noteFrom = make(map[*model.Note]geometry.Point)
	for _, s := range diagram.SelectedSteps() {
		d.stepFrom[s] = s.Location
	}
	for _, n := range diagram.SelectedNotes() {
		d.noteFrom[n] = n.Location
	}
}

// positionRecord builds one record covering every item that moved.
func (d *dragState) positionRecord(diagram *model.Diagram) (undo.Position, bool) {
	var rec undo.Position
	for _, s := range diagram.Steps {
		if from, ok := d.stepFrom[s]; ok && from != s.Location {
			rec.Moves = append(rec.Moves, undo.Move{Step: s, From: from, To: s.Location})
		}
	}
	for _, n := range diagram.Notes {
		if from, ok := d.noteFrom[n]; ok && from != n.Location {
			rec.Moves = append(rec.Moves, undo.Move{Note: n, From: from, To: n.Location})
		}
	}
	return rec, len(rec.Moves) > 0
}

// MouseDown starts a gesture at the resolved area.
func (c *Canvas) MouseDown(ev MouseEvent) error {
	p := c.view.ScreenToDiagram(geometry.Point{X: ev.X, Y: ev.Y})
	c.pointer = p
	c.hover.Cancel()

	if ev.Button == ButtonMiddle {
		c.drag.reset()
		c.drag.mode = DragView
		c.drag.screen = geometry.Point{X: ev.X, Y: ev.Y}
		c.capture(true)
		return nil
	}
	if ev.Button != ButtonLeft {
		return nil
	}

	area := c.resolve(ev.X, ev.Y)

	// click-after-click connect: the second click lands on the target
	if c.hops.Active() && c.drag.mode == DragNone {
		return c.finishHop(c.stepOf(area))
	}

	c.drag.reset()
	c.drag.origin, c.drag.last = p, p

	if area == nil {
		c.selectedHop = nil
		if !ev.Mods.Has(ModShift) && !ev.Mods.Has(ModCtrl) {
			c.diagram.ClearSelection()
		}
		c.drag.mode = DragRegion
		c.capture(true)
		c.Redraw()
		return nil
	}

	switch area.Kind {
	case geometry.AreaOutputConnector, geometry.AreaInputConnector:
		s := c.stepOf(area)
		var err error
		if area.Kind == geometry.AreaOutputConnector {
			err = c.hops.BeginFromOutput(s)
		} else {
			err = c.hops.BeginFromInput(s)
		}
		if err != nil {
			return c.report(err)
		}
		c.drag.mode = DragHop
		c.capture(true)

	case geometry.AreaStep:
		s := area.Owner.(*model.Step)
		c.selectedHop = nil
		c.pressItem(ev.Mods, &s.Selected)
		c.drag.step = s

	case geometry.AreaNote:
		n := area.Owner.(*model.Note)
		c.selectedHop = nil
		c.pressItem(ev.Mods, &n.Selected)
		c.drag.note = n

	case geometry.AreaHop:
		h := area.Owner.(*model.Hop)
		c.selectedHop = h
		if ev.Mods.Has(ModCtrl) {
			if err := c.ToggleHop(h); err != nil {
				return err
			}
		}

	default:
		if c.OnAffordance != nil {
			c.OnAffordance(*area)
		}
	}
	c.Redraw()
	return nil
}

// pressItem applies the selection rules for a button press on an item and
// arms a pending drag.
func (c *Canvas) pressItem(mods Modifiers, selected *bool) {
	switch {
	case mods.Has(ModCtrl):
		*selected = !*selected
	case mods.Has(ModShift):
		*selected = true
	case !*selected:
		c.diagram.ClearSelection()
		*selected = true
	default:
		// part of a multi-selection: the whole selection moves, and a
		// click without movement narrows it down on release
		c.drag.narrowTo = true
	}
	if !*selected {
		return
	}
	c.drag.mode = DragPending
	c.drag.snapshot(c.diagram)
	c.capture(true)
}

// MouseMove updates the gesture in progress or the hover state.
func (c *Canvas) MouseMove(ev MouseEvent) {
	p := c.view.ScreenToDiagram(geometry.Point{X: ev.X, Y: ev.Y})
	c.pointer = p

	switch c.drag.mode {
	case DragView:
		sp := geometry.Point{X: ev.X, Y: ev.Y}
		delta := c.drag.screen.Sub(sp)
		z := c.view.Zoom()
		c.view.ScrollBy(geometry.Point{X: int(float64(delta.X) / z), Y: int(float64(delta.Y) / z)})
		c.drag.screen = sp

	case DragPending, DragItems:
		c.drag.mode = DragItems
		c.drag.narrowTo = false
		delta := p.Sub(c.drag.last)
		c.drag.last = p
		c.moveSelection(delta)
		c.drag.split = c.splitCandidate()

	case DragRegion:
		// region is derived from origin and pointer in State

	case DragHop:
		c.hops.Propose(c.stepOf(c.resolve(ev.X, ev.Y)))
		c.drag.hopMoved = true

	default:
		if c.hops.Active() {
			c.hops.Propose(c.stepOf(c.resolve(ev.X, ev.Y)))
		}
		c.trackHover(c.resolve(ev.X, ev.Y))
	}
	c.Redraw()
}

func (c *Canvas) moveSelection(delta geometry.Point) {
	if delta == (geometry.Point{}) {
		return
	}
	for s := range c.drag.stepFrom {
		s.Location = s.Location.Add(delta)
	}
	for n := range c.drag.noteFrom {
		n.Location = n.Location.Add(delta)
	}
}

// splitCandidate returns the hop under the single dragged step, if any.
func (c *Canvas) splitCandidate() *model.Hop {
	if c.drag.step == nil || len(c.drag.stepFrom) != 1 {
		return nil
	}
	s := c.drag.step
	return c.diagram.HopAt(s.Center(c.diagram.IconSize), c.tol, s)
}

func (c *Canvas) trackHover(area *geometry.AreaOwner) {
	s := c.stepOf(area)
	if s == nil {
		c.hover.Cancel()
		c.hoverStep = nil
		return
	}
	if s == c.hoverStep {
		return
	}
	c.hover.Reset(func() {
		c.hoverStep = s
		c.Redraw()
	})
}

// MouseExit cancels hover affordances.
func (c *Canvas) MouseExit() {
	c.hover.Cancel()
	if c.hoverStep != nil {
		c.hoverStep = nil
		c.Redraw()
	}
}

// MouseUp completes the gesture in progress.
func (c *Canvas) MouseUp(ev MouseEvent) error {
	p := c.view.ScreenToDiagram(geometry.Point{X: ev.X, Y: ev.Y})
	c.pointer = p
	defer c.Redraw()

	switch c.drag.mode {
	case DragView:
		c.drag.reset()
		c.capture(false)
		return nil

	case DragRegion:
		c.diagram.SelectInRect(geometry.RectFrom(c.drag.origin, p))
		c.drag.reset()
		c.capture(false)
		return nil

	case DragPending:
		if c.drag.narrowTo {
			c.diagram.ClearSelection()
			if c.drag.step != nil {
				c.drag.step.Selected = true
			}
			if c.drag.note != nil {
				c.drag.note.Selected = true
			}
		}
		c.drag.reset()
		c.capture(false)
		return nil

	case DragItems:
		return c.finishMove()

	case DragHop:
		c.capture(false)
		moved := c.drag.hopMoved
		c.drag.reset()
		target := c.stepOf(c.resolve(ev.X, ev.Y))
		if !moved && target == c.hops.Anchor() {
			// released on the connector itself: wait for a second click
			return nil
		}
		return c.finishHop(target)
	}
	return nil
}

func (c *Canvas) finishMove() error {
	split := c.drag.split
	step := c.drag.step
	rec, moved := c.drag.positionRecord(c.diagram)
	c.drag.reset()
	c.capture(false)

	if moved {
		c.undo.Add(rec)
		c.diagram.SetChanged()
	}
	if split == nil || c.prompter == nil || !c.prompter.ConfirmSplit(split, step) {
		return nil
	}
	return c.report(c.SplitHop(split, step))
}

func (c *Canvas) finishHop(target *model.Step) error {
	c.hops.Propose(target)
	if c.hops.State() != HopCandidateProposed {
		c.hops.Cancel()
		return nil
	}
	hop, err := c.hops.Commit(c.prompter)
	if err != nil {
		return c.report(err)
	}
	if hop != nil {
		c.logger.Info("hop created", slog.String("hop", hop.String()), slog.String("stream", string(hop.Stream)))
	}
	return nil
}

func (c *Canvas) stepOf(area *geometry.AreaOwner) *model.Step {
	if area == nil {
		return nil
	}
	if s, ok := area.Owner.(*model.Step); ok {
		return s
	}
	if s, ok := area.Parent.(*model.Step); ok {
		return s
	}
	return nil
}

func (c *Canvas) capture(on bool) {
	if c.surface != nil {
		c.surface.CaptureInput(on)
	}
}
