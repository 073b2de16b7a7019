package tui

import (
	"context"

	"github.com/gdamore/tcell/v2"

	"github.com/rendis/transcanvas/internal/editor"
	"github.com/rendis/transcanvas/internal/geometry"
)

// Command is a host-level request decoded from a terminal event that the
// canvas does not handle itself.
type Command int

const (
	CmdNone Command = iota
	CmdQuit
	CmdWake // drain the dispatch queue
	CmdSave
	CmdRun
	CmdPause // pause or resume
	CmdStop
	CmdSafeStop
	CmdLayout
)

// Surface implements editor.Surface on a tcell screen and translates
// terminal events into canvas input.
type Surface struct {
	screen tcell.Screen
	cell   Cell
	frame  *geometry.Frame

	captured bool
	buttons  tcell.ButtonMask
	button   editor.Button
}

// NewSurface returns a surface for screen. Attach must be called before the
// first hit test.
func NewSurface(screen tcell.Screen, cell Cell) *Surface {
	return &Surface{screen: screen, cell: cell.valid(), frame: geometry.NewFrame()}
}

// Attach makes the surface resolve against the frame the canvas paints.
func (s *Surface) Attach(c *editor.Canvas) { s.frame = c.Frame() }

// HitTest resolves a screen-unit position against the last painted frame.
func (s *Surface) HitTest(x, y int) *geometry.AreaOwner { return s.frame.Resolve(x, y) }

// Redraw presents the painted frame.
func (s *Surface) Redraw() { s.screen.Show() }

// CaptureInput records whether a drag owns the pointer. Terminal mouse
// reporting already follows the pointer outside the press position.
func (s *Surface) CaptureInput(on bool) { s.captured = on }

// Captured reports whether a drag is in progress.
func (s *Surface) Captured() bool { return s.captured }

var _ editor.Surface = (*Surface)(nil)

// toScreen maps a cell to the screen-unit point at its center.
func (s *Surface) toScreen(x, y int) (int, int) {
	return x*s.cell.W + s.cell.W/2, y*s.cell.H + s.cell.H/2
}

// Handle feeds ev to c and returns the host command it encodes, if any.
func (s *Surface) Handle(c *editor.Canvas, ev tcell.Event) (Command, error) {
	switch ev := ev.(type) {
	case *tcell.EventResize:
		s.screen.Sync()
		c.Redraw()
	case *tcell.EventMouse:
		return CmdNone, s.mouse(c, ev)
	case *tcell.EventKey:
		return s.key(c, ev)
	case *tcell.EventFocus:
		if !ev.Focused {
			c.MouseExit()
			c.FocusLost()
		}
	case *tcell.EventInterrupt:
		return CmdWake, nil
	}
	return CmdNone, nil
}

func (s *Surface) mouse(c *editor.Canvas, ev *tcell.EventMouse) error {
	cx, cy := ev.Position()
	x, y := s.toScreen(cx, cy)
	mods := modifiers(ev.Modifiers())
	btns := ev.Buttons()

	if btns&tcell.WheelUp != 0 {
		return c.Key(editor.KeyZoomIn)
	}
	if btns&tcell.WheelDown != 0 {
		return c.Key(editor.KeyZoomOut)
	}

	pressed := btns & (tcell.ButtonPrimary | tcell.ButtonSecondary | tcell.ButtonMiddle)
	prev := s.buttons
	s.buttons = pressed
	if prev == tcell.ButtonNone && pressed == tcell.ButtonNone && !s.onCanvas(cx, cy) {
		c.MouseExit()
		return nil
	}
	switch {
	case prev == tcell.ButtonNone && pressed != tcell.ButtonNone:
		s.button = button(pressed)
		return c.MouseDown(editor.MouseEvent{X: x, Y: y, Button: s.button, Mods: mods})
	case prev != tcell.ButtonNone && pressed == tcell.ButtonNone:
		b := s.button
		s.button = editor.ButtonNone
		return c.MouseUp(editor.MouseEvent{X: x, Y: y, Button: b, Mods: mods})
	default:
		c.MouseMove(editor.MouseEvent{X: x, Y: y, Button: s.button, Mods: mods})
		return nil
	}
}

// onCanvas reports whether a cell lies on the drawing area. The last row
// holds the status line.
func (s *Surface) onCanvas(x, y int) bool {
	w, h := s.screen.Size()
	return x >= 0 && y >= 0 && x < w && y < h-1
}

func button(m tcell.ButtonMask) editor.Button {
	switch {
	case m&tcell.ButtonPrimary != 0:
		return editor.ButtonLeft
	case m&tcell.ButtonMiddle != 0:
		return editor.ButtonMiddle
	case m&tcell.ButtonSecondary != 0:
		return editor.ButtonRight
	}
	return editor.ButtonNone
}

func modifiers(m tcell.ModMask) editor.Modifiers {
	var out editor.Modifiers
	if m&tcell.ModShift != 0 {
		out |= editor.ModShift
	}
	if m&tcell.ModCtrl != 0 {
		out |= editor.ModCtrl
	}
	if m&tcell.ModAlt != 0 {
		out |= editor.ModAlt
	}
	return out
}

func (s *Surface) key(c *editor.Canvas, ev *tcell.EventKey) (Command, error) {
	switch ev.Key() {
	case tcell.KeyEscape:
		return CmdNone, c.Key(editor.KeyEscape)
	case tcell.KeyDelete, tcell.KeyBackspace, tcell.KeyBackspace2:
		return CmdNone, c.Key(editor.KeyDelete)
	case tcell.KeyCtrlA:
		return CmdNone, c.Key(editor.KeySelectAll)
	case tcell.KeyCtrlC:
		return CmdQuit, nil
	case tcell.KeyCtrlS:
		return CmdSave, nil
	case tcell.KeyRune:
	default:
		return CmdNone, nil
	}

	switch ev.Rune() {
	case '+', '=':
		return CmdNone, c.Key(editor.KeyZoomIn)
	case '-':
		return CmdNone, c.Key(editor.KeyZoomOut)
	case '0':
		return CmdNone, c.Key(editor.KeyZoomReset)
	case 't':
		return CmdNone, c.Key(editor.KeyToggleHop)
	case 'd':
		return CmdNone, c.Key(editor.KeyDuplicate)
	case 'q':
		return CmdQuit, nil
	case 'r':
		return CmdRun, nil
	case 'p':
		return CmdPause, nil
	case 's':
		return CmdStop, nil
	case 'S':
		return CmdSafeStop, nil
	case 'l':
		return CmdLayout, nil
	}
	return CmdNone, nil
}

// Forward posts an interrupt event for every wake-up on wake until ctx is
// done, so the event loop drains the dispatch queue on its own goroutine.
func Forward(ctx context.Context, screen tcell.Screen, wake <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
			_ = screen.PostEvent(tcell.NewEventInterrupt(nil))
		}
	}
}
