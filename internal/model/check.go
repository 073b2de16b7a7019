package model

import "github.com/rendis/transcanvas/pkg/schema"

// Check runs the structural pre-run checks. Errors block execution;
// warnings are informational.
func (d *Diagram) Check() *schema.CheckResult {
	res := &schema.CheckResult{}
	if !d.HasIdentity() {
		res.Errorf("diagram", "has no name or location")
	}
	if len(d.Steps) == 0 {
		res.Errorf("diagram", "has no steps")
	}
	for _, s := range d.Steps {
		if s.Meta == nil {
			res.Errorf(s.Name, "has no step metadata")
			continue
		}
		if len(d.HopsTo(s)) > 0 && !s.Meta.AcceptsInput() && len(s.Meta.InfoStreams()) == 0 {
			res.Errorf(s.Name, "receives a hop but accepts no input")
		}
		if len(d.HopsTo(s)) == 0 && len(d.HopsFrom(s)) == 0 && len(d.Steps) > 1 {
			res.Warnf(s.Name, "is not connected to any other step")
		}
		ForEachStream(s, func(st *Stream) {
			if st.Step == nil {
				res.Warnf(s.Name, "stream %q has no step assigned", st.Name)
			}
		})
	}
	for _, h := range d.Hops {
		if !h.Enabled {
			res.Warnf(h.String(), "hop is disabled")
		}
	}
	if _, err := d.Sorted(); err != nil {
		res.Errorf("diagram", "contains a loop")
	}
	return res
}
