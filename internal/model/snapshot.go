package model

import "github.com/rendis/transcanvas/pkg/schema"

// Snapshot is an immutable copy of the parts of a diagram the execution
// engine needs. It is taken on the interaction goroutine and handed to
// background work, so no goroutine other than the interaction one ever
// reads live Step or Hop values.
type Snapshot struct {
	Name     string
	Filename string
	Steps    []StepInfo
	Hops     []HopInfo
	Order    []string // topological order over enabled hops
}

// StepInfo describes one step in a snapshot.
type StepInfo struct {
	Name        string
	Copies      int
	ErrorTarget string
}

// HopInfo describes one hop in a snapshot.
type HopInfo struct {
	From    string
	To      string
	Stream  schema.StreamType
	Enabled bool
}

// Snapshot copies the diagram. It fails if enabled hops form a loop.
func (d *Diagram) Snapshot() (*Snapshot, error) {
	sorted, err := d.Sorted()
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Name: d.Name, Filename: d.Filename}
	for _, s := range d.Steps {
		info := StepInfo{Name: s.Name, Copies: s.Copies}
		if s.ErrorTarget != nil {
			info.ErrorTarget = s.ErrorTarget.Name
		}
		snap.Steps = append(snap.Steps, info)
	}
	for _, h := range d.Hops {
		snap.Hops = append(snap.Hops, HopInfo{From: h.From.Name, To: h.To.Name, Stream: h.Stream, Enabled: h.Enabled})
	}
	for _, s := range sorted {
		snap.Order = append(snap.Order, s.Name)
	}
	return snap, nil
}

// Inputs returns the names of steps feeding name over enabled hops.
func (s *Snapshot) Inputs(name string) []string {
	var out []string
	for _, h := range s.Hops {
		if h.Enabled && h.To == name {
			out = append(out, h.From)
		}
	}
	return out
}
