// Package tui adapts the editing canvas to a terminal through tcell. The
// canvas works in screen units; every terminal cell covers Cell.W by Cell.H
// of them, so pointer positions and painted areas agree.
package tui

import (
	"github.com/gdamore/tcell/v2"

	"github.com/rendis/transcanvas/internal/editor"
	"github.com/rendis/transcanvas/internal/geometry"
	"github.com/rendis/transcanvas/internal/model"
	"github.com/rendis/transcanvas/pkg/schema"
)

// Cell is the size of one terminal cell in screen units.
type Cell struct {
	W, H int
}

// DefaultCell makes a default step icon eight cells wide and four tall.
var DefaultCell = Cell{W: 4, H: 8}

func (c Cell) valid() Cell {
	if c.W <= 0 || c.H <= 0 {
		return DefaultCell
	}
	return c
}

// Styles
var (
	styleStep         = tcell.StyleDefault.Foreground(tcell.ColorGreen)
	styleStepSel      = tcell.StyleDefault.Background(tcell.ColorGreen).Foreground(tcell.ColorBlack)
	styleStepHover    = tcell.StyleDefault.Foreground(tcell.ColorGreen).Bold(true)
	styleStepAnchor   = tcell.StyleDefault.Foreground(tcell.ColorYellow).Bold(true)
	styleStepRejected = tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true)
	styleConnector    = tcell.StyleDefault.Foreground(tcell.ColorSilver)
	styleHop          = tcell.StyleDefault.Foreground(tcell.ColorTeal)
	styleHopError     = tcell.StyleDefault.Foreground(tcell.ColorRed)
	styleHopStream    = tcell.StyleDefault.Foreground(tcell.ColorBlue)
	styleHopDisabled  = tcell.StyleDefault.Foreground(tcell.ColorDarkGray)
	styleHopSel       = tcell.StyleDefault.Foreground(tcell.ColorYellow).Bold(true)
	styleHopSplit     = tcell.StyleDefault.Foreground(tcell.ColorFuchsia).Bold(true)
	styleCandidate    = tcell.StyleDefault.Foreground(tcell.ColorLime)
	styleNote         = tcell.StyleDefault.Foreground(tcell.ColorSilver)
	styleNoteSel      = tcell.StyleDefault.Background(tcell.ColorGray).Foreground(tcell.ColorWhite)
	styleRegion       = tcell.StyleDefault.Foreground(tcell.ColorYellow)
	styleBadgeRun     = tcell.StyleDefault.Foreground(tcell.ColorLime).Bold(true)
	styleBadgeError   = tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true)
	styleStatus       = tcell.StyleDefault.Foreground(tcell.ColorWhite).Background(tcell.ColorNavy)
)

// box is a step icon in cell coordinates.
type box struct {
	x, y, w, h int
}

func (b box) center() (int, int) { return b.x + b.w/2, b.y + b.h/2 }

// Painter draws the canvas state onto a tcell screen.
type Painter struct {
	screen tcell.Screen
	cell   Cell

	// Status, when set, provides the text of the bottom line.
	Status func() string
}

// NewPainter returns a painter for screen.
func NewPainter(screen tcell.Screen, cell Cell) *Painter {
	return &Painter{screen: screen, cell: cell.valid()}
}

// Paint draws st and registers the hit-test areas in sink: notes first,
// then hops, then steps with their connectors and badges on top.
func (p *Painter) Paint(st editor.PaintState, sink *geometry.Frame) {
	p.screen.Clear()
	d := st.Diagram
	if d == nil {
		p.paintStatus()
		return
	}

	for _, n := range d.Notes {
		p.paintNote(st, n, sink)
	}

	boxes := make(map[*model.Step]box, len(d.Steps))
	for _, s := range d.Steps {
		boxes[s] = p.stepBox(st, s)
	}
	for _, h := range d.Hops {
		p.paintHop(st, h, boxes, sink)
	}
	p.paintCandidate(st, boxes)
	for _, s := range d.Steps {
		p.paintStep(st, s, boxes[s], sink)
	}
	if st.Region != nil {
		p.paintRegion(st)
	}
	p.paintStatus()
}

func (p *Painter) toCell(v *geometry.Viewport, pt geometry.Point) (int, int) {
	sp := v.DiagramToScreen(pt)
	return floorDiv(sp.X, p.cell.W), floorDiv(sp.Y, p.cell.H)
}

// area converts a cell rectangle to screen units.
func (p *Painter) area(x, y, w, h int) geometry.Rect {
	return geometry.Rect{X: x * p.cell.W, Y: y * p.cell.H, Width: w * p.cell.W, Height: h * p.cell.H}
}

func (p *Painter) stepBox(st editor.PaintState, s *model.Step) box {
	x, y := p.toCell(st.Viewport, s.Location)
	size := float64(st.Diagram.IconSize) * st.Viewport.Zoom()
	w := max(ceilDiv(size, p.cell.W), len([]rune(s.Name))+2)
	h := max(ceilDiv(size, p.cell.H), 3)
	return box{x: x, y: y, w: w, h: h}
}

func (p *Painter) paintStep(st editor.PaintState, s *model.Step, b box, sink *geometry.Frame) {
	style := styleStep
	switch {
	case s == st.Rejected:
		style = styleStepRejected
	case s == st.Anchor:
		style = styleStepAnchor
	case s.Selected:
		style = styleStepSel
	case s == st.HoverStep:
		style = styleStepHover
	}
	p.drawBox(b.x, b.y, b.w, b.h, style, true)
	p.drawString(b.x+(b.w-len([]rune(s.Name)))/2, b.y+b.h/2, s.Name, style)
	sink.Add(geometry.AreaStep, p.area(b.x, b.y, b.w, b.h), s, nil)

	mid := b.y + b.h/2
	if s.Meta != nil && (s.Meta.AcceptsInput() || len(s.Meta.InfoStreams()) > 0) {
		p.screen.SetContent(b.x-1, mid, '▸', nil, styleConnector)
		sink.Add(geometry.AreaInputConnector, p.area(b.x-1, mid, 1, 1), "in", s)
	}
	if s.Meta != nil && s.Meta.ProducesOutput() {
		p.screen.SetContent(b.x+b.w, mid, '▸', nil, styleConnector)
		sink.Add(geometry.AreaOutputConnector, p.area(b.x+b.w, mid, 1, 1), "out", s)
	}

	badge := st.Badges[s.Name]
	if badge.Running {
		p.screen.SetContent(b.x+1, b.y, '▶', nil, styleBadgeRun)
	}
	if badge.Errors > 0 {
		p.screen.SetContent(b.x+b.w-2, b.y, '!', nil, styleBadgeError)
		sink.Add(geometry.AreaStepError, p.area(b.x+b.w-2, b.y, 1, 1), s, s)
	}
	if s == st.HoverStep {
		p.screen.SetContent(b.x, b.y-1, '≡', nil, styleStepHover)
		sink.Add(geometry.AreaStepMenu, p.area(b.x, b.y-1, 1, 1), s, s)
	}
}

func (p *Painter) paintHop(st editor.PaintState, h *model.Hop, boxes map[*model.Step]box, sink *geometry.Frame) {
	from, okFrom := boxes[h.From]
	to, okTo := boxes[h.To]
	if !okFrom || !okTo {
		return
	}
	style := hopStyle(h)
	switch h {
	case st.SplitCandidate:
		style = styleHopSplit
	case st.SelectedHop:
		style = styleHopSel
	}
	x0, y0 := from.center()
	x1, y1 := to.center()
	p.drawLine(x0, y0, x1, y1, style)

	mx, my := (x0+x1)/2, (y0+y1)/2
	p.screen.SetContent(mx, my, arrow(x1-x0, y1-y0), nil, style)
	sink.Add(geometry.AreaHop, p.area(mx, my, 1, 1), h, nil)
}

func hopStyle(h *model.Hop) tcell.Style {
	if !h.Enabled {
		return styleHopDisabled
	}
	switch h.Stream {
	case schema.StreamError:
		return styleHopError
	case schema.StreamTarget, schema.StreamInfo:
		return styleHopStream
	}
	return styleHop
}

// paintCandidate shows the hop being connected: the proposed hop when a
// target is under the pointer, otherwise a line from the anchor.
func (p *Painter) paintCandidate(st editor.PaintState, boxes map[*model.Step]box) {
	switch {
	case st.Candidate != nil:
		from, to := boxes[st.Candidate.From], boxes[st.Candidate.To]
		x0, y0 := from.center()
		x1, y1 := to.center()
		p.drawLine(x0, y0, x1, y1, styleCandidate)
	case st.Anchor != nil:
		x0, y0 := boxes[st.Anchor].center()
		x1, y1 := p.toCell(st.Viewport, st.Pointer)
		p.drawLine(x0, y0, x1, y1, styleCandidate)
	}
}

func (p *Painter) paintNote(st editor.PaintState, n *model.Note, sink *geometry.Frame) {
	x, y := p.toCell(st.Viewport, n.Location)
	z := st.Viewport.Zoom()
	w := max(ceilDiv(float64(n.Width)*z, p.cell.W), 2)
	h := max(ceilDiv(float64(n.Height)*z, p.cell.H), 1)
	style := styleNote
	if n.Selected {
		style = styleNoteSel
	}
	for row := range h {
		for col := range w {
			p.screen.SetContent(x+col, y+row, ' ', nil, style)
		}
	}
	text := []rune(n.Text)
	for row := 0; row < h && len(text) > 0; row++ {
		line := text[:min(w, len(text))]
		p.drawString(x, y+row, string(line), style)
		text = text[len(line):]
	}
	sink.Add(geometry.AreaNote, p.area(x, y, w, h), n, nil)
}

func (p *Painter) paintRegion(st editor.PaintState) {
	r := *st.Region
	x0, y0 := p.toCell(st.Viewport, geometry.Point{X: r.X, Y: r.Y})
	x1, y1 := p.toCell(st.Viewport, geometry.Point{X: r.X + r.Width, Y: r.Y + r.Height})
	p.drawBox(x0, y0, x1-x0+1, y1-y0+1, styleRegion, false)
}

func (p *Painter) paintStatus() {
	if p.Status == nil {
		return
	}
	w, h := p.screen.Size()
	for x := range w {
		p.screen.SetContent(x, h-1, ' ', nil, styleStatus)
	}
	p.drawString(1, h-1, p.Status(), styleStatus)
}

// drawBox draws a rectangle border; solid selects box-drawing runes over
// a dotted outline.
func (p *Painter) drawBox(x, y, w, h int, style tcell.Style, solid bool) {
	if w < 2 || h < 2 {
		return
	}
	hz, vt := '┄', '┆'
	tl, tr, bl, br := '┌', '┐', '└', '┘'
	if solid {
		hz, vt = '─', '│'
	}
	for i := 1; i < w-1; i++ {
		p.screen.SetContent(x+i, y, hz, nil, style)
		p.screen.SetContent(x+i, y+h-1, hz, nil, style)
	}
	for j := 1; j < h-1; j++ {
		p.screen.SetContent(x, y+j, vt, nil, style)
		p.screen.SetContent(x+w-1, y+j, vt, nil, style)
		if solid {
			for i := 1; i < w-1; i++ {
				p.screen.SetContent(x+i, y+j, ' ', nil, style)
			}
		}
	}
	p.screen.SetContent(x, y, tl, nil, style)
	p.screen.SetContent(x+w-1, y, tr, nil, style)
	p.screen.SetContent(x, y+h-1, bl, nil, style)
	p.screen.SetContent(x+w-1, y+h-1, br, nil, style)
}

// drawLine plots a Bresenham line between two cells.
func (p *Painter) drawLine(x0, y0, x1, y1 int, style tcell.Style) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := sign(x1-x0), sign(y1-y0)
	r := '·'
	switch {
	case dy == 0:
		r = '─'
	case dx == 0:
		r = '│'
	}
	e := dx + dy
	for {
		p.screen.SetContent(x0, y0, r, nil, style)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func (p *Painter) drawString(x, y int, s string, style tcell.Style) {
	i := 0
	for _, r := range s {
		p.screen.SetContent(x+i, y, r, nil, style)
		i++
	}
}

func arrow(dx, dy int) rune {
	if abs(dx) >= abs(dy) {
		if dx < 0 {
			return '◂'
		}
		return '▸'
	}
	if dy < 0 {
		return '▴'
	}
	return '▾'
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func ceilDiv(v float64, unit int) int {
	n := int(v) / unit
	if float64(n*unit) < v {
		n++
	}
	return n
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}
