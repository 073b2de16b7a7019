package model

import (
	"sort"

	"github.com/rendis/transcanvas/pkg/schema"
)

// HasLoop reports whether s can reach itself by following enabled hops.
func (d *Diagram) HasLoop(s *Step) bool {
	return d.reaches(s, s)
}

// reaches reports whether to is reachable from from over enabled hops
// (at least one hop long).
func (d *Diagram) reaches(from, to *Step) bool {
	next := d.enabledAdjacency()
	seen := make(map[*Step]bool, len(d.Steps))
	stack := append([]*Step(nil), next[from]...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		stack = append(stack, next[cur]...)
	}
	return false
}

// WouldLoop reports whether enabling a hop from -> to would close a cycle.
func (d *Diagram) WouldLoop(from, to *Step) bool {
	return from == to || d.reaches(to, from)
}

func (d *Diagram) enabledAdjacency() map[*Step][]*Step {
	next := make(map[*Step][]*Step, len(d.Steps))
	for _, h := range d.Hops {
		if h.Enabled {
			next[h.From] = append(next[h.From], h.To)
		}
	}
	return next
}

// Sorted returns the steps in topological order over enabled hops, using
// Kahn's algorithm. Ties are broken by step name so the order is stable.
func (d *Diagram) Sorted() ([]*Step, error) {
	inDegree := make(map[*Step]int, len(d.Steps))
	for _, s := range d.Steps {
		inDegree[s] = 0
	}
	next := d.enabledAdjacency()
	for _, targets := range next {
		for _, t := range targets {
			inDegree[t]++
		}
	}

	var queue []*Step
	for _, s := range d.Steps {
		if inDegree[s] == 0 {
			queue = append(queue, s)
		}
	}
	byName(queue)

	sorted := make([]*Step, 0, len(d.Steps))
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		sorted = append(sorted, cur)

		var ready []*Step
		for _, t := range next[cur] {
			inDegree[t]--
			if inDegree[t] == 0 {
				ready = append(ready, t)
			}
		}
		byName(ready)
		queue = append(queue, ready...)
	}

	if len(sorted) != len(d.Steps) {
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "diagram contains a loop")
	}
	return sorted, nil
}

func byName(steps []*Step) {
	sort.Slice(steps, func(i, j int) bool { return steps[i].Name < steps[j].Name })
}
