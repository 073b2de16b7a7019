// Package undo defines the discrete records the editing surface emits for
// every undoable change. Storage and replay belong to the host.
package undo

import (
	"sync"

	"github.com/rendis/transcanvas/internal/geometry"
	"github.com/rendis/transcanvas/internal/model"
)

// Kind identifies the type of an undo record.
type Kind string

const (
	KindPosition  Kind = "position"
	KindNew       Kind = "new"
	KindDelete    Kind = "delete"
	KindHopToggle Kind = "hop_toggle"
	KindHopSplit  Kind = "hop_split"
)

// Record is one undoable change.
type Record interface {
	Kind() Kind
}

// Move is the position change of one element inside a Position record.
type Move struct {
	Step *model.Step
	Note *model.Note
	From geometry.Point
	To   geometry.Point
}

// Position covers every element moved by a single drag gesture.
type Position struct {
	Moves []Move
}

func (Position) Kind() Kind { return KindPosition }

// Elements lists steps, hops and notes created or deleted together.
type Elements struct {
	Steps []*model.Step
	Hops  []*model.Hop
	Notes []*model.Note
}

// New records created elements.
type New struct{ Elements }

func (New) Kind() Kind { return KindNew }

// Delete records removed elements.
type Delete struct{ Elements }

func (Delete) Kind() Kind { return KindDelete }

// HopToggle records a hop enabled-flag change.
type HopToggle struct {
	Hop        *model.Hop
	WasEnabled bool
}

func (HopToggle) Kind() Kind { return KindHopToggle }

// HopSplit records the replacement of one hop by two around an inserted step.
type HopSplit struct {
	Removed *model.Hop
	Added   [2]*model.Hop
	Step    *model.Step
}

func (HopSplit) Kind() Kind { return KindHopSplit }

// Sink receives undo records.
type Sink interface {
	Add(r Record)
}

// Discard drops every record.
var Discard Sink = discard{}

type discard struct{}

func (discard) Add(Record) {}

// Journal is a bounded in-memory Sink keeping the most recent records.
type Journal struct {
	mu       sync.Mutex
	records  []Record
	capacity int
}

// NewJournal creates a journal holding at most capacity records.
func NewJournal(capacity int) *Journal {
	if capacity <= 0 {
		capacity = 100
	}
	return &Journal{capacity: capacity}
}

// Add appends r, evicting the oldest record when full.
func (j *Journal) Add(r Record) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.records) == j.capacity {
		j.records = append(j.records[:0], j.records[1:]...)
	}
	j.records = append(j.records, r)
}

// Records returns a copy of the journal, oldest first.
func (j *Journal) Records() []Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Record, len(j.records))
	copy(out, j.records)
	return out
}

// Last returns the newest record, or nil.
func (j *Journal) Last() Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.records) == 0 {
		return nil
	}
	return j.records[len(j.records)-1]
}

// Len returns the number of records held.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}
