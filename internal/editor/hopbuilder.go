package editor

import (
	"fmt"

	"github.com/rendis/transcanvas/internal/model"
	"github.com/rendis/transcanvas/internal/undo"
	"github.com/rendis/transcanvas/pkg/schema"
)

// HopState is the state of the hop-creation protocol.
type HopState int

const (
	HopIdle HopState = iota
	HopSourcePicked
	HopCandidateProposed
	HopCommitted
	HopCancelled
)

func (s HopState) String() string {
	switch s {
	case HopIdle:
		return "IDLE"
	case HopSourcePicked:
		return "SOURCE_PICKED"
	case HopCandidateProposed:
		return "CANDIDATE_PROPOSED"
	case HopCommitted:
		return "COMMITTED"
	case HopCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// StreamOption is one way a candidate hop can be committed.
type StreamOption struct {
	Type   schema.StreamType
	Stream *model.Stream // nil for the synthetic MAIN and ERROR options
}

// Label is the text shown when the user has to choose.
func (o StreamOption) Label() string {
	if o.Stream == nil {
		switch o.Type {
		case schema.StreamMain:
			return "Main output of step"
		case schema.StreamError:
			return "Error handling of step"
		}
		return string(o.Type)
	}
	if o.Stream.Description != "" {
		return o.Stream.Description
	}
	return fmt.Sprintf("%s stream %q", o.Type, o.Stream.Name)
}

// HopBuilder turns a connect gesture into a new hop. It holds at most one
// candidate at a time.
type HopBuilder struct {
	diagram *model.Diagram
	undo    undo.Sink

	state     HopState
	anchor    *model.Step
	forward   bool // anchor is the source
	candidate *model.Hop
	rejected  *model.Step
}

// NewHopBuilder creates an idle builder for d.
func NewHopBuilder(d *model.Diagram, sink undo.Sink) *HopBuilder {
	if sink == nil {
		sink = undo.Discard
	}
	return &HopBuilder{diagram: d, undo: sink}
}

// State returns the protocol state.
func (b *HopBuilder) State() HopState { return b.state }

// Active reports whether a gesture is in progress.
func (b *HopBuilder) Active() bool {
	return b.state == HopSourcePicked || b.state == HopCandidateProposed
}

// Anchor returns the step the gesture started from.
func (b *HopBuilder) Anchor() *model.Step { return b.anchor }

// Candidate returns the proposed hop, or nil.
func (b *HopBuilder) Candidate() *model.Hop { return b.candidate }

// Rejected returns the step currently showing the rejection indicator.
func (b *HopBuilder) Rejected() *model.Step { return b.rejected }

// BeginFromOutput starts a forward gesture from the output connector of s.
func (b *HopBuilder) BeginFromOutput(s *model.Step) error {
	if !producesOutput(s) {
		return schema.Rejectedf("step %q produces no output", s.Name).WithStep(s.Name)
	}
	b.begin(s, true)
	return nil
}

// BeginFromInput starts a backward gesture from the input connector of s.
func (b *HopBuilder) BeginFromInput(s *model.Step) error {
	if !acceptsInput(s) {
		return schema.Rejectedf("step %q accepts no input", s.Name).WithStep(s.Name)
	}
	b.begin(s, false)
	return nil
}

func (b *HopBuilder) begin(s *model.Step, forward bool) {
	b.state = HopSourcePicked
	b.anchor = s
	b.forward = forward
	b.candidate = nil
	b.rejected = nil
}

// Propose updates the candidate for the step under the pointer. A nil step
// withdraws the candidate.
func (b *HopBuilder) Propose(over *model.Step) {
	if !b.Active() {
		return
	}
	b.rejected = nil
	if over == nil || over == b.anchor {
		b.candidate = nil
		b.state = HopSourcePicked
		return
	}

	from, to := b.endpoints(over)
	ok := acceptsInput(to) && producesOutput(from) && b.diagram.FindHop(from, to) == nil
	if !ok {
		b.candidate = nil
		b.rejected = over
		b.state = HopSourcePicked
		return
	}
	if b.candidate != nil && b.candidate.From == from && b.candidate.To == to {
		return
	}
	b.candidate = &model.Hop{From: from, To: to, Stream: schema.StreamMain}
	b.state = HopCandidateProposed
}

func (b *HopBuilder) endpoints(other *model.Step) (from, to *model.Step) {
	if b.forward {
		return b.anchor, other
	}
	return other, b.anchor
}

// Cancel discards the gesture without touching the diagram.
func (b *HopBuilder) Cancel() {
	if b.state == HopIdle {
		return
	}
	b.reset(HopCancelled)
}

func (b *HopBuilder) reset(final HopState) {
	b.state = final
	b.anchor = nil
	b.candidate = nil
	b.rejected = nil
}

// Options enumerates the stream choices for the current candidate.
func (b *HopBuilder) Options() []StreamOption {
	if b.candidate == nil {
		return nil
	}
	return StreamOptions(b.diagram, b.candidate.From, b.candidate.To)
}

// StreamOptions lists how from can be connected to to: the source's target
// stream slots, the target's info stream slots, MAIN if the target takes
// generic input, and ERROR if the source handles errors and has no error
// hop yet.
func StreamOptions(d *model.Diagram, from, to *model.Step) []StreamOption {
	var opts []StreamOption
	if from.Meta != nil {
		for _, st := range from.Meta.TargetStreams() {
			opts = append(opts, StreamOption{Type: schema.StreamTarget, Stream: st})
		}
	}
	if to.Meta != nil {
		for _, st := range to.Meta.InfoStreams() {
			opts = append(opts, StreamOption{Type: schema.StreamInfo, Stream: st})
		}
		if to.Meta.AcceptsInput() {
			opts = append(opts, StreamOption{Type: schema.StreamMain})
		}
	}
	if from.Meta != nil && from.Meta.SupportsErrorHandling() && !d.HasErrorHop(from) {
		opts = append(opts, StreamOption{Type: schema.StreamError})
	}
	return opts
}

// Commit resolves the candidate into a hop. A single option commits
// directly; several are handed to the chooser, and a cancelled choice
// discards the candidate without mutation (nil hop, nil error). A hop that
// closes a loop is rolled back and reported.
func (b *HopBuilder) Commit(chooser Prompter) (*model.Hop, error) {
	if b.state != HopCandidateProposed || b.candidate == nil {
		b.Cancel()
		return nil, schema.Rejectedf("no candidate hop to commit")
	}
	from, to := b.candidate.From, b.candidate.To

	opts := b.Options()
	var chosen StreamOption
	switch len(opts) {
	case 0:
		b.Cancel()
		return nil, schema.Rejectedf("no stream can connect %q to %q", from.Name, to.Name).WithStep(to.Name)
	case 1:
		chosen = opts[0]
	default:
		if chooser == nil {
			b.Cancel()
			return nil, schema.Rejectedf("several streams can connect %q to %q and no chooser is available", from.Name, to.Name)
		}
		idx, ok := chooser.ChooseStream(from, to, opts)
		if !ok || idx < 0 || idx >= len(opts) {
			b.Cancel()
			return nil, nil
		}
		chosen = opts[idx]
	}

	hop, err := commitOption(b.diagram, from, to, chosen)
	if err != nil {
		b.Cancel()
		return nil, err
	}
	b.undo.Add(undo.New{Elements: undo.Elements{Hops: []*model.Hop{hop}}})
	b.reset(HopCommitted)
	return hop, nil
}

func commitOption(d *model.Diagram, from, to *model.Step, opt StreamOption) (*model.Hop, error) {
	hop := &model.Hop{From: from, To: to, Enabled: true, Stream: opt.Type}
	if err := d.AddHop(hop); err != nil {
		return nil, err
	}

	var previous *model.Step
	if opt.Stream != nil {
		previous = opt.Stream.Step
		if opt.Type == schema.StreamTarget {
			opt.Stream.Step = to
		} else {
			opt.Stream.Step = from
		}
	}

	if d.HasLoop(to) {
		d.RemoveHop(hop)
		if opt.Stream != nil {
			opt.Stream.Step = previous
		}
		return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "hop %s would create a loop", hop).
			WithDetails(map[string]any{"from": from.Name, "to": to.Name})
	}

	if opt.Stream != nil {
		owner := from
		if opt.Type == schema.StreamInfo {
			owner = to
		}
		owner.Meta.StreamSelected(opt.Stream)
	}
	return hop, nil
}

func acceptsInput(s *model.Step) bool {
	return s != nil && s.Meta != nil && (s.Meta.AcceptsInput() || len(s.Meta.InfoStreams()) > 0)
}

func producesOutput(s *model.Step) bool {
	return s != nil && s.Meta != nil && s.Meta.ProducesOutput()
}
