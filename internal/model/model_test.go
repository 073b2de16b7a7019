package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/transcanvas/internal/geometry"
	"github.com/rendis/transcanvas/pkg/schema"
)

func newStep(t *testing.T, d *Diagram, name string, x, y int) *Step {
	t.Helper()
	s := &Step{Name: name, Location: geometry.Point{X: x, Y: y}, Meta: Transform()}
	require.NoError(t, d.AddStep(s))
	return s
}

func connect(t *testing.T, d *Diagram, from, to *Step) *Hop {
	t.Helper()
	h := &Hop{From: from, To: to, Enabled: true}
	require.NoError(t, d.AddHop(h))
	return h
}

func TestAddStep_UniqueNames(t *testing.T) {
	d := New("orders")
	newStep(t, d, "read", 0, 0)

	err := d.AddStep(&Step{Name: "read"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))

	assert.Equal(t, "read 2", d.UniqueName("read"))
	assert.Equal(t, "write", d.UniqueName("write"))
	assert.True(t, d.Changed())
}

func TestAddHop_Validation(t *testing.T) {
	d := New("orders")
	a := newStep(t, d, "a", 0, 0)
	b := newStep(t, d, "b", 100, 0)

	assert.True(t, schema.IsCode(d.AddHop(&Hop{From: a, To: a}), schema.ErrCodeRejected))
	assert.True(t, schema.IsCode(d.AddHop(&Hop{From: a, To: &Step{Name: "ghost"}}), schema.ErrCodeNotFound))

	h := connect(t, d, a, b)
	assert.Equal(t, schema.StreamMain, h.Stream)
	assert.True(t, schema.IsCode(d.AddHop(&Hop{From: a, To: b}), schema.ErrCodeConflict))
}

func TestErrorHopRegistersTarget(t *testing.T) {
	d := New("orders")
	a := newStep(t, d, "a", 0, 0)
	e := newStep(t, d, "errors", 0, 100)

	h := &Hop{From: a, To: e, Enabled: true, Stream: schema.StreamError}
	require.NoError(t, d.AddHop(h))
	assert.Same(t, e, a.ErrorTarget)
	assert.True(t, d.HasErrorHop(a))

	require.True(t, d.RemoveHop(h))
	assert.Nil(t, a.ErrorTarget)
	assert.False(t, d.HasErrorHop(a))
}

func TestRemoveStep_DropsIncidentHopsAndReferences(t *testing.T) {
	d := New("orders")
	a := newStep(t, d, "a", 0, 0)
	b := newStep(t, d, "b", 100, 0)
	c := newStep(t, d, "c", 200, 0)
	connect(t, d, a, b)
	connect(t, d, b, c)
	connect(t, d, a, c)
	a.ErrorTarget = b
	info := &Stream{Name: "lookup", Type: schema.StreamInfo, Step: b}
	c.Meta = &BasicMeta{Input: true, Infos: []*Stream{info}}

	removed := d.RemoveStep(b)
	assert.Len(t, removed, 2)
	require.Len(t, d.Hops, 1)
	assert.Equal(t, "a->c", d.Hops[0].String())
	assert.Nil(t, a.ErrorTarget)
	assert.Nil(t, info.Step)
	assert.Nil(t, d.FindStep("b"))
	assert.Nil(t, d.RemoveStep(b))
}

func TestHasLoop(t *testing.T) {
	d := New("loop")
	a := newStep(t, d, "a", 0, 0)
	b := newStep(t, d, "b", 0, 0)
	c := newStep(t, d, "c", 0, 0)
	connect(t, d, a, b)
	connect(t, d, b, c)

	assert.False(t, d.HasLoop(a))
	assert.True(t, d.WouldLoop(c, a))
	assert.False(t, d.WouldLoop(a, c))

	back := &Hop{From: c, To: a, Enabled: false}
	require.NoError(t, d.AddHop(back))
	assert.False(t, d.HasLoop(a), "disabled hops do not count")

	back.Enabled = true
	assert.True(t, d.HasLoop(a))
	assert.True(t, d.HasLoop(b))
	_, err := d.Sorted()
	assert.True(t, schema.IsCode(err, schema.ErrCodeCycleDetected))
}

func TestSorted_StableOrder(t *testing.T) {
	d := New("sort")
	z := newStep(t, d, "z", 0, 0)
	y := newStep(t, d, "y", 0, 0)
	x := newStep(t, d, "x", 0, 0)
	connect(t, d, z, x)
	connect(t, d, y, x)

	sorted, err := d.Sorted()
	require.NoError(t, err)
	names := make([]string, len(sorted))
	for i, s := range sorted {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"y", "z", "x"}, names)
}

func TestHopAt(t *testing.T) {
	d := New("hits")
	a := newStep(t, d, "a", 0, 0)
	b := newStep(t, d, "b", 200, 0)
	h := connect(t, d, a, b)

	// centers are at (16,16) and (216,16)
	assert.Same(t, h, d.HopAt(geometry.Point{X: 100, Y: 18}, DefaultHopTolerance, nil))
	assert.Nil(t, d.HopAt(geometry.Point{X: 100, Y: 40}, DefaultHopTolerance, nil))
	assert.Nil(t, d.HopAt(geometry.Point{X: 100, Y: 18}, DefaultHopTolerance, a))

	h.Enabled = false
	assert.Nil(t, d.HopAt(geometry.Point{X: 100, Y: 16}, DefaultHopTolerance, nil))
}

func TestSelection(t *testing.T) {
	d := New("sel")
	a := newStep(t, d, "a", 0, 0)
	b := newStep(t, d, "b", 100, 100)
	n := &Note{Text: "hi", Location: geometry.Point{X: 10, Y: 60}, Width: 20, Height: 10}
	d.AddNote(n)

	d.SelectInRect(geometry.RectFrom(geometry.Point{X: -5, Y: -5}, geometry.Point{X: 60, Y: 80}))
	assert.True(t, a.Selected)
	assert.False(t, b.Selected)
	assert.True(t, n.Selected)
	assert.Equal(t, 2, d.SelectionCount())

	d.ClearSelection()
	assert.Equal(t, 0, d.SelectionCount())
	d.SelectAll()
	assert.Len(t, d.SelectedSteps(), 2)
	assert.Len(t, d.SelectedNotes(), 1)
}

func TestCloneStep(t *testing.T) {
	d := New("clone")
	a := newStep(t, d, "a", 10, 10)
	a.ErrorTarget = a
	c := d.CloneStep(a, geometry.Point{X: 5, Y: 5})
	assert.Equal(t, "a 2", c.Name)
	assert.Equal(t, geometry.Point{X: 15, Y: 15}, c.Location)
	assert.Nil(t, c.ErrorTarget)
	assert.Same(t, c, d.FindStep("a 2"))
}

func TestCloneStep_OwnsItsStreamSlots(t *testing.T) {
	d := New("clone")
	a := &Step{Name: "a", Meta: &BasicMeta{Input: true, Output: true, Targets: []*Stream{{Name: "kept", Type: schema.StreamTarget}}}}
	require.NoError(t, d.AddStep(a))
	x := newStep(t, d, "x", 100, 0)

	c := d.CloneStep(a, geometry.Point{X: 0, Y: 50})
	require.Len(t, c.Meta.TargetStreams(), 1)
	assert.Equal(t, "kept", c.Meta.TargetStreams()[0].Name)

	c.Meta.TargetStreams()[0].Step = x
	assert.Nil(t, a.Meta.TargetStreams()[0].Step)
	assert.NotSame(t, a.Meta, c.Meta)
}

func TestCloneSteps_CopiesInnerHops(t *testing.T) {
	d := New("clone")
	a := &Step{Name: "a", Meta: &BasicMeta{Input: true, Output: true, ErrorHandling: true, Targets: []*Stream{{Name: "kept", Type: schema.StreamTarget}}}}
	require.NoError(t, d.AddStep(a))
	b := newStep(t, d, "b", 100, 0)
	e := newStep(t, d, "e", 100, 100)
	out := newStep(t, d, "out", 200, 0)
	a.Meta.TargetStreams()[0].Step = b
	require.NoError(t, d.AddHop(&Hop{From: a, To: b, Enabled: true, Stream: schema.StreamTarget}))
	require.NoError(t, d.AddHop(&Hop{From: a, To: e, Enabled: false, Stream: schema.StreamError}))
	connect(t, d, b, out)

	steps, hops := d.CloneSteps([]*Step{a, b, e}, geometry.Point{Y: 200})
	require.Len(t, steps, 3)
	require.Len(t, hops, 2, "the hop to out leaves the copied set")
	ca, cb, ce := steps[0], steps[1], steps[2]

	assert.Same(t, cb, ca.Meta.TargetStreams()[0].Step)
	assert.Same(t, b, a.Meta.TargetStreams()[0].Step)
	assert.Same(t, ce, ca.ErrorTarget)
	assert.False(t, d.FindHop(ca, ce).Enabled)
	assert.Equal(t, schema.StreamTarget, d.FindHop(ca, cb).Stream)
	assert.False(t, d.HasLoop(ca))
	assert.Len(t, d.Hops, 5)
}

func TestCheck(t *testing.T) {
	d := New("")
	res := d.Check()
	assert.False(t, res.OK())

	d = New("checked")
	a := newStep(t, d, "a", 0, 0)
	b := newStep(t, d, "b", 0, 0)
	b.Meta = &BasicMeta{Output: true}
	connect(t, d, a, b)
	res = d.Check()
	require.False(t, res.OK())
	assert.Equal(t, "b", res.Errors()[0].Subject)

	b.Meta = Transform()
	assert.True(t, d.Check().OK())
}

func TestSnapshot(t *testing.T) {
	d := New("snap")
	a := newStep(t, d, "a", 0, 0)
	b := newStep(t, d, "b", 0, 0)
	e := newStep(t, d, "e", 0, 0)
	connect(t, d, a, b)
	require.NoError(t, d.AddHop(&Hop{From: a, To: e, Enabled: true, Stream: schema.StreamError}))

	snap, err := d.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "e"}, snap.Order)
	assert.Equal(t, "e", snap.Steps[0].ErrorTarget)
	assert.Equal(t, []string{"a"}, snap.Inputs("b"))

	// mutating the diagram afterwards does not touch the snapshot
	a.Name = "renamed"
	assert.Equal(t, "a", snap.Steps[0].Name)
}
