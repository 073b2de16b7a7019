// Package editor is the interactive editing surface of the pipeline
// canvas: it resolves pointer and keyboard input through the painted
// hit-test frame into selection, drag, hop-creation and hop-split
// operations. It never renders and never references a widget toolkit.
package editor

import (
	"github.com/rendis/transcanvas/internal/geometry"
	"github.com/rendis/transcanvas/internal/model"
)

// Surface is the capability an adapter for a concrete UI framework
// provides to the canvas.
type Surface interface {
	// HitTest resolves a screen position against the last painted frame.
	HitTest(x, y int) *geometry.AreaOwner
	// Redraw presents the frame most recently painted.
	Redraw()
	// CaptureInput grabs or releases the pointer during a drag.
	CaptureInput(on bool)
}

// Painter draws the current state and registers the AreaOwners of the
// next hit-test cycle into sink.
type Painter interface {
	Paint(state PaintState, sink *geometry.Frame)
}

// Prompter is the dialog collaborator for choices the canvas cannot make
// alone.
type Prompter interface {
	// ChooseStream returns the index of the selected option, or false if
	// the user cancelled.
	ChooseStream(from, to *model.Step, options []StreamOption) (int, bool)
	// ConfirmSplit asks whether step should be inserted into hop.
	ConfirmSplit(hop *model.Hop, step *model.Step) bool
}

// HoverTimer delays hover affordances until the pointer rests.
type HoverTimer interface {
	Reset(fn func())
	Cancel()
}

// StepBadge is the execution status overlay of one step.
type StepBadge struct {
	Running bool
	Errors  int64
}

// PaintState is everything a painter needs for one frame.
type PaintState struct {
	Diagram        *model.Diagram
	Viewport       *geometry.Viewport
	Candidate      *model.Hop
	Rejected       *model.Step
	Anchor         *model.Step
	Pointer        geometry.Point // diagram space
	Region         *geometry.Rect // diagram space, rubber-band selection
	HoverStep      *model.Step
	SplitCandidate *model.Hop
	SelectedHop    *model.Hop
	Badges         map[string]StepBadge
}
