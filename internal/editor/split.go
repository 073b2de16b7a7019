package editor

import (
	"github.com/rendis/transcanvas/internal/model"
	"github.com/rendis/transcanvas/internal/undo"
	"github.com/rendis/transcanvas/pkg/schema"
)

// SplitHop inserts step into hop: from->to becomes from->step and
// step->to. The error target and named streams that pointed across the
// original hop are re-pointed at step.
func (c *Canvas) SplitHop(hop *model.Hop, step *model.Step) error {
	from, to := hop.From, hop.To
	if hop.Touches(step) {
		return schema.Rejectedf("step %q is an endpoint of hop %s", step.Name, hop).WithStep(step.Name)
	}
	if c.diagram.FindHop(from, step) != nil || c.diagram.FindHop(step, to) != nil {
		return schema.Rejectedf("step %q is already connected to hop %s", step.Name, hop).WithStep(step.Name)
	}

	first := &model.Hop{From: from, To: step, Enabled: true, Stream: hop.Stream}
	second := &model.Hop{From: step, To: to, Enabled: true, Stream: schema.StreamMain}

	c.diagram.RemoveHop(hop)
	if err := c.diagram.AddHop(first); err != nil {
		_ = c.diagram.AddHop(hop)
		return err
	}
	if err := c.diagram.AddHop(second); err != nil {
		c.diagram.RemoveHop(first)
		_ = c.diagram.AddHop(hop)
		return err
	}
	if c.diagram.HasLoop(step) {
		c.diagram.RemoveHop(first)
		c.diagram.RemoveHop(second)
		_ = c.diagram.AddHop(hop)
		return schema.NewErrorf(schema.ErrCodeCycleDetected, "inserting %q into hop %s would create a loop", step.Name, hop)
	}

	if from.ErrorTarget == to {
		from.ErrorTarget = step
	}
	model.ForEachStream(from, func(st *model.Stream) {
		if st.Step == to {
			st.Step = step
		}
	})
	model.ForEachStream(to, func(st *model.Stream) {
		if st.Step == from {
			st.Step = step
		}
	})

	c.undo.Add(undo.HopSplit{Removed: hop, Added: [2]*model.Hop{first, second}, Step: step})
	c.Redraw()
	return nil
}
