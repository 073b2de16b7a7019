package tui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"

	"github.com/rendis/transcanvas/internal/editor"
	"github.com/rendis/transcanvas/internal/engine"
	"github.com/rendis/transcanvas/internal/model"
)

var (
	styleDialog       = tcell.StyleDefault.Foreground(tcell.ColorWhite)
	styleDialogTitle  = tcell.StyleDefault.Foreground(tcell.ColorYellow).Bold(true)
	styleDialogBorder = tcell.StyleDefault.Foreground(tcell.ColorGray)
	styleDialogSel    = tcell.StyleDefault.Background(tcell.ColorBlue).Foreground(tcell.ColorWhite)
)

// Dialogs runs modal choices on the screen. They poll events themselves,
// so they must be called from the event-loop goroutine.
type Dialogs struct {
	screen tcell.Screen

	// Backdrop repaints the screen beneath the dialog.
	Backdrop func()
}

// NewDialogs returns the modal dialogs for screen.
func NewDialogs(screen tcell.Screen) *Dialogs {
	return &Dialogs{screen: screen}
}

var (
	_ editor.Prompter  = (*Dialogs)(nil)
	_ engine.Confirmer = (*Dialogs)(nil)
)

// ChooseStream lists the stream options for a new hop.
func (d *Dialogs) ChooseStream(from, to *model.Step, options []editor.StreamOption) (int, bool) {
	labels := make([]string, len(options))
	for i, o := range options {
		labels[i] = o.Label()
	}
	return d.Choose(fmt.Sprintf("%s → %s", from.Name, to.Name), labels)
}

// ConfirmSplit asks whether step goes between the ends of hop.
func (d *Dialogs) ConfirmSplit(hop *model.Hop, step *model.Step) bool {
	return d.Confirm(fmt.Sprintf("Insert %s into hop %s?", step.Name, hop))
}

// Confirm asks a yes/no question.
func (d *Dialogs) Confirm(question string) bool {
	i, ok := d.Choose(question, []string{"Yes", "No"})
	return ok && i == 0
}

// Choose shows labels under title and returns the chosen index, or false
// when the user escapes. Digit keys pick an option directly.
func (d *Dialogs) Choose(title string, labels []string) (int, bool) {
	if len(labels) == 0 {
		return 0, false
	}
	interrupted := false
	defer func() {
		if interrupted {
			_ = d.screen.PostEvent(tcell.NewEventInterrupt(nil))
		}
	}()

	sel := 0
	for {
		y := d.draw(title, labels, sel)
		d.screen.Show()

		switch ev := d.screen.PollEvent().(type) {
		case nil:
			return 0, false
		case *tcell.EventInterrupt:
			interrupted = true
		case *tcell.EventResize:
			d.screen.Sync()
		case *tcell.EventKey:
			switch ev.Key() {
			case tcell.KeyEscape, tcell.KeyCtrlC:
				return 0, false
			case tcell.KeyUp:
				sel = (sel + len(labels) - 1) % len(labels)
			case tcell.KeyDown, tcell.KeyTab:
				sel = (sel + 1) % len(labels)
			case tcell.KeyEnter:
				return sel, true
			case tcell.KeyRune:
				if n := int(ev.Rune() - '1'); n >= 0 && n < len(labels) && n < 9 {
					return n, true
				}
			}
		case *tcell.EventMouse:
			if ev.Buttons()&tcell.ButtonPrimary == 0 {
				continue
			}
			if _, my := ev.Position(); my >= y+2 && my < y+2+len(labels) {
				return my - y - 2, true
			}
		}
	}
}

// draw paints the dialog centred on the screen and returns its top row.
func (d *Dialogs) draw(title string, labels []string, sel int) int {
	if d.Backdrop != nil {
		d.Backdrop()
	}
	width := len([]rune(title)) + 4
	for _, l := range labels {
		width = max(width, len([]rune(l))+8)
	}
	height := len(labels) + 3
	sw, sh := d.screen.Size()
	x, y := max((sw-width)/2, 0), max((sh-height)/2, 0)

	p := &Painter{screen: d.screen, cell: DefaultCell}
	p.drawBox(x, y, width, height, styleDialogBorder, true)
	p.drawString(x+2, y, " "+title+" ", styleDialogTitle)
	for i, l := range labels {
		style := styleDialog
		if i == sel {
			style = styleDialogSel
		}
		p.drawString(x+1, y+2+i, fmt.Sprintf(" %d. %-*s", i+1, width-7, l), style)
	}
	return y
}
