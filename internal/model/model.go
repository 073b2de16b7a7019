// Package model is the in-memory pipeline diagram: steps, hops and notes,
// plus the structural queries the editing surface and the execution
// controller rely on. It is mutated only from the interaction goroutine.
package model

import (
	"github.com/rendis/transcanvas/internal/geometry"
	"github.com/rendis/transcanvas/pkg/schema"
)

// DefaultIconSize is the edge length of a step icon in diagram units.
const DefaultIconSize = 32

// Stream is a named info or target stream slot declared by a step's
// metadata, referencing the step on its other end (nil when unset).
type Stream struct {
	Name        string
	Type        schema.StreamType
	Description string
	Step        *Step
}

// StepMeta is the behavioral metadata of a step. It belongs to the engine
// model; the editor only asks it about capabilities and stream slots.
type StepMeta interface {
	AcceptsInput() bool
	ProducesOutput() bool
	SupportsErrorHandling() bool
	TargetStreams() []*Stream
	InfoStreams() []*Stream
	StreamSelected(s *Stream)
	// Clone returns an independent copy with unbound stream slots.
	Clone() StepMeta
}

// Step is a processing node in the diagram.
type Step struct {
	Name        string
	Location    geometry.Point
	Selected    bool
	Drawn       bool
	Copies      int
	ErrorTarget *Step
	Meta        StepMeta
}

// Center returns the midpoint of the step icon.
func (s *Step) Center(iconSize int) geometry.Point {
	return geometry.Point{X: s.Location.X + iconSize/2, Y: s.Location.Y + iconSize/2}
}

// Hop is a directed, typed connection between two steps.
type Hop struct {
	From    *Step
	To      *Step
	Enabled bool
	Stream  schema.StreamType
}

// String renders the hop as "from->to".
func (h *Hop) String() string {
	return h.From.Name + "->" + h.To.Name
}

// Touches reports whether s is one of the hop's endpoints.
func (h *Hop) Touches(s *Step) bool {
	return h.From == s || h.To == s
}

// Note is a free-floating annotation.
type Note struct {
	Text     string
	Location geometry.Point
	Width    int
	Height   int
	Selected bool
}

// Bounds returns the note rectangle.
func (n *Note) Bounds() geometry.Rect {
	return geometry.Rect{X: n.Location.X, Y: n.Location.Y, Width: n.Width, Height: n.Height}
}

// BasicMeta is a plain StepMeta with fixed capabilities. Hosts that do not
// bring their own engine model use it, as do the tests.
type BasicMeta struct {
	Input         bool
	Output        bool
	ErrorHandling bool
	Targets       []*Stream
	Infos         []*Stream
	Selections    []string
}

func (m *BasicMeta) AcceptsInput() bool          { return m.Input }
func (m *BasicMeta) ProducesOutput() bool        { return m.Output }
func (m *BasicMeta) SupportsErrorHandling() bool { return m.ErrorHandling }
func (m *BasicMeta) TargetStreams() []*Stream    { return m.Targets }
func (m *BasicMeta) InfoStreams() []*Stream      { return m.Infos }

// StreamSelected records the stream name; real engine models reconfigure
// themselves here.
func (m *BasicMeta) StreamSelected(s *Stream) {
	m.Selections = append(m.Selections, s.Name)
}

// Clone copies the capabilities and stream slots. The copied slots point at
// no step.
func (m *BasicMeta) Clone() StepMeta {
	return &BasicMeta{
		Input:         m.Input,
		Output:        m.Output,
		ErrorHandling: m.ErrorHandling,
		Targets:       cloneStreams(m.Targets),
		Infos:         cloneStreams(m.Infos),
	}
}

func cloneStreams(in []*Stream) []*Stream {
	if in == nil {
		return nil
	}
	out := make([]*Stream, len(in))
	for i, st := range in {
		out[i] = &Stream{Name: st.Name, Type: st.Type, Description: st.Description}
	}
	return out
}

// Transform returns a meta that accepts input and produces output, without
// error handling.
func Transform() *BasicMeta {
	return &BasicMeta{Input: true, Output: true}
}
