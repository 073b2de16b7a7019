package model

import (
	"fmt"

	"github.com/rendis/transcanvas/internal/geometry"
	"github.com/rendis/transcanvas/pkg/schema"
)

// Diagram holds the steps, hops and notes of one pipeline.
type Diagram struct {
	Name     string
	Filename string
	IconSize int

	Steps []*Step
	Hops  []*Hop
	Notes []*Note

	changed bool
}

// New returns an empty diagram with the given name.
func New(name string) *Diagram {
	return &Diagram{Name: name, IconSize: DefaultIconSize}
}

// HasIdentity reports whether the diagram is named well enough to execute.
func (d *Diagram) HasIdentity() bool {
	return d.Name != "" || d.Filename != ""
}

// Changed reports unsaved structural changes.
func (d *Diagram) Changed() bool { return d.changed }

// SetChanged marks the diagram dirty.
func (d *Diagram) SetChanged() { d.changed = true }

// ClearChanged marks the diagram saved.
func (d *Diagram) ClearChanged() { d.changed = false }

// FindStep returns the step with the given name, or nil.
func (d *Diagram) FindStep(name string) *Step {
	for _, s := range d.Steps {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// AddStep appends a step. Names are unique within the diagram.
func (d *Diagram) AddStep(s *Step) error {
	if s == nil || s.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "step needs a name")
	}
	if d.FindStep(s.Name) != nil {
		return schema.NewErrorf(schema.ErrCodeConflict, "step %q already exists", s.Name).WithStep(s.Name)
	}
	if s.Copies <= 0 {
		s.Copies = 1
	}
	d.Steps = append(d.Steps, s)
	d.changed = true
	return nil
}

// UniqueName returns base, or base followed by the first free counter.
func (d *Diagram) UniqueName(base string) string {
	if d.FindStep(base) == nil {
		return base
	}
	for i := 2; ; i++ {
		name := fmt.Sprintf("%s %d", base, i)
		if d.FindStep(name) == nil {
			return name
		}
	}
}

// CloneStep adds a copy of s offset by delta, with a unique name and its own
// metadata. Error targets and stream references are not copied.
func (d *Diagram) CloneStep(s *Step, delta geometry.Point) *Step {
	c := &Step{
		Name:     d.UniqueName(s.Name),
		Location: s.Location.Add(delta),
		Copies:   s.Copies,
	}
	if s.Meta != nil {
		c.Meta = s.Meta.Clone()
	}
	_ = d.AddStep(c)
	return c
}

// CloneSteps copies steps and every hop running between two of them. Copied
// hops keep their stream type; error targets and stream slots are bound to
// the copies.
func (d *Diagram) CloneSteps(steps []*Step, delta geometry.Point) ([]*Step, []*Hop) {
	copies := make(map[*Step]*Step, len(steps))
	out := make([]*Step, 0, len(steps))
	for _, s := range steps {
		c := d.CloneStep(s, delta)
		copies[s] = c
		out = append(out, c)
	}

	var hops []*Hop
	for _, h := range append([]*Hop(nil), d.Hops...) {
		from, to := copies[h.From], copies[h.To]
		if from == nil || to == nil {
			continue
		}
		c := &Hop{From: from, To: to, Enabled: h.Enabled, Stream: h.Stream}
		if d.AddHop(c) != nil {
			continue
		}
		hops = append(hops, c)
		switch {
		case h.Stream == schema.StreamTarget && h.From.Meta != nil && from.Meta != nil:
			rebind(h.From.Meta.TargetStreams(), from.Meta.TargetStreams(), h.To, to)
		case h.Stream == schema.StreamInfo && h.To.Meta != nil && to.Meta != nil:
			rebind(h.To.Meta.InfoStreams(), to.Meta.InfoStreams(), h.From, from)
		}
	}
	return out, hops
}

// rebind points the copied slot at target wherever the original slot at the
// same position points at orig.
func rebind(orig, copied []*Stream, origStep, target *Step) {
	for i, st := range orig {
		if i < len(copied) && st.Step == origStep {
			copied[i].Step = target
		}
	}
}

// RemoveStep deletes s together with every incident hop, and clears any
// error target or stream reference pointing at it. It returns the hops
// that were removed.
func (d *Diagram) RemoveStep(s *Step) []*Hop {
	idx := d.indexOfStep(s)
	if idx < 0 {
		return nil
	}

	var removed []*Hop
	kept := d.Hops[:0]
	for _, h := range d.Hops {
		if h.Touches(s) {
			removed = append(removed, h)
			continue
		}
		kept = append(kept, h)
	}
	d.Hops = kept

	for _, other := range d.Steps {
		if other.ErrorTarget == s {
			other.ErrorTarget = nil
		}
		forEachStream(other, func(st *Stream) {
			if st.Step == s {
				st.Step = nil
			}
		})
	}

	d.Steps = append(d.Steps[:idx], d.Steps[idx+1:]...)
	d.changed = true
	return removed
}

func (d *Diagram) indexOfStep(s *Step) int {
	for i, x := range d.Steps {
		if x == s {
			return i
		}
	}
	return -1
}

// FindHop returns the hop from -> to, or nil.
func (d *Diagram) FindHop(from, to *Step) *Hop {
	for _, h := range d.Hops {
		if h.From == from && h.To == to {
			return h
		}
	}
	return nil
}

// AddHop appends a hop and registers its stream on the endpoints. Loop
// checks are the caller's job; see HasLoop.
func (d *Diagram) AddHop(h *Hop) error {
	if h == nil || h.From == nil || h.To == nil {
		return schema.NewError(schema.ErrCodeValidation, "hop needs both endpoints")
	}
	if h.From == h.To {
		return schema.Rejectedf("hop %s connects a step to itself", h)
	}
	if d.indexOfStep(h.From) < 0 || d.indexOfStep(h.To) < 0 {
		return schema.NewErrorf(schema.ErrCodeNotFound, "hop %s references an unknown step", h)
	}
	if d.FindHop(h.From, h.To) != nil {
		return schema.NewErrorf(schema.ErrCodeConflict, "hop %s already exists", h)
	}
	if h.Stream == "" {
		h.Stream = schema.StreamMain
	}
	d.Hops = append(d.Hops, h)
	d.registerStream(h)
	d.changed = true
	return nil
}

// RemoveHop deletes h and undoes its stream registration.
func (d *Diagram) RemoveHop(h *Hop) bool {
	for i, x := range d.Hops {
		if x == h {
			d.Hops = append(d.Hops[:i], d.Hops[i+1:]...)
			d.unregisterStream(h)
			d.changed = true
			return true
		}
	}
	return false
}

func (d *Diagram) registerStream(h *Hop) {
	if h.Stream == schema.StreamError {
		h.From.ErrorTarget = h.To
	}
}

func (d *Diagram) unregisterStream(h *Hop) {
	if h.Stream == schema.StreamError && h.From.ErrorTarget == h.To {
		h.From.ErrorTarget = nil
	}
}

// HopsFrom returns the hops leaving s.
func (d *Diagram) HopsFrom(s *Step) []*Hop {
	var out []*Hop
	for _, h := range d.Hops {
		if h.From == s {
			out = append(out, h)
		}
	}
	return out
}

// HopsTo returns the hops entering s.
func (d *Diagram) HopsTo(s *Step) []*Hop {
	var out []*Hop
	for _, h := range d.Hops {
		if h.To == s {
			out = append(out, h)
		}
	}
	return out
}

// HasErrorHop reports whether s already has an outgoing ERROR hop.
func (d *Diagram) HasErrorHop(s *Step) bool {
	for _, h := range d.HopsFrom(s) {
		if h.Stream == schema.StreamError {
			return true
		}
	}
	return false
}

// AddNote appends a note.
func (d *Diagram) AddNote(n *Note) {
	d.Notes = append(d.Notes, n)
	d.changed = true
}

// RemoveNote deletes n.
func (d *Diagram) RemoveNote(n *Note) bool {
	for i, x := range d.Notes {
		if x == n {
			d.Notes = append(d.Notes[:i], d.Notes[i+1:]...)
			d.changed = true
			return true
		}
	}
	return false
}

func forEachStream(s *Step, fn func(*Stream)) {
	if s.Meta == nil {
		return
	}
	for _, st := range s.Meta.TargetStreams() {
		fn(st)
	}
	for _, st := range s.Meta.InfoStreams() {
		fn(st)
	}
}

// ForEachStream calls fn for every info and target stream slot of s.
func ForEachStream(s *Step, fn func(*Stream)) { forEachStream(s, fn) }
