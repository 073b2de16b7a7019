package model

import "github.com/rendis/transcanvas/internal/geometry"

// SelectedSteps returns the selected steps in diagram order.
func (d *Diagram) SelectedSteps() []*Step {
	var out []*Step
	for _, s := range d.Steps {
		if s.Selected {
			out = append(out, s)
		}
	}
	return out
}

// SelectedNotes returns the selected notes in diagram order.
func (d *Diagram) SelectedNotes() []*Note {
	var out []*Note
	for _, n := range d.Notes {
		if n.Selected {
			out = append(out, n)
		}
	}
	return out
}

// SelectionCount returns the number of selected steps and notes.
func (d *Diagram) SelectionCount() int {
	return len(d.SelectedSteps()) + len(d.SelectedNotes())
}

// ClearSelection deselects everything.
func (d *Diagram) ClearSelection() {
	for _, s := range d.Steps {
		s.Selected = false
	}
	for _, n := range d.Notes {
		n.Selected = false
	}
}

// SelectAll selects every step and note.
func (d *Diagram) SelectAll() {
	for _, s := range d.Steps {
		s.Selected = true
	}
	for _, n := range d.Notes {
		n.Selected = true
	}
}

// SelectInRect selects the steps and notes whose icon or bounds lie fully
// inside r.
func (d *Diagram) SelectInRect(r geometry.Rect) {
	r = r.Normalize()
	for _, s := range d.Steps {
		a := s.Location
		b := geometry.Point{X: a.X + d.IconSize - 1, Y: a.Y + d.IconSize - 1}
		if r.Contains(a) && r.Contains(b) {
			s.Selected = true
		}
	}
	for _, n := range d.Notes {
		a := n.Location
		b := geometry.Point{X: a.X + n.Width - 1, Y: a.Y + n.Height - 1}
		if r.Contains(a) && r.Contains(b) {
			n.Selected = true
		}
	}
}

// StepBounds returns the icon rectangle of s.
func (d *Diagram) StepBounds(s *Step) geometry.Rect {
	return geometry.Rect{X: s.Location.X, Y: s.Location.Y, Width: d.IconSize, Height: d.IconSize}
}
