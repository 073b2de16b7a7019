package model

import "github.com/rendis/transcanvas/internal/geometry"

// DefaultHopTolerance is the pixel distance within which a point hits a hop.
const DefaultHopTolerance = 5.0

type hopLine struct {
	hop      *Hop
	from, to geometry.Point
}

func (l hopLine) Endpoints() (geometry.Point, geometry.Point) { return l.from, l.to }

// HopAt returns the first enabled hop whose center-to-center line passes
// within tolerance of p. Hops touching exclude are ignored.
func (d *Diagram) HopAt(p geometry.Point, tolerance float64, exclude *Step) *Hop {
	lines := make([]hopLine, 0, len(d.Hops))
	for _, h := range d.Hops {
		if !h.Enabled {
			continue
		}
		lines = append(lines, hopLine{hop: h, from: h.From.Center(d.IconSize), to: h.To.Center(d.IconSize)})
	}
	skip := func(l hopLine) bool { return exclude != nil && l.hop.Touches(exclude) }
	l, ok := geometry.FindLine(lines, p, tolerance, skip)
	if !ok {
		return nil
	}
	return l.hop
}

// StepAt returns the top-most step whose icon contains p, or nil. The
// editing surface normally resolves through the painted frame; this is the
// fallback when no frame has been painted yet.
func (d *Diagram) StepAt(p geometry.Point) *Step {
	for i := len(d.Steps) - 1; i >= 0; i-- {
		if d.StepBounds(d.Steps[i]).Contains(p) {
			return d.Steps[i]
		}
	}
	return nil
}
