package editor

// Button identifies a pointer button.
type Button int

const (
	ButtonNone Button = iota
	ButtonLeft
	ButtonMiddle
	ButtonRight
)

// Modifiers is a bit set of keyboard modifiers held during an event.
type Modifiers uint8

const (
	ModShift Modifiers = 1 << iota
	ModCtrl
	ModAlt
)

// Has reports whether all bits of m2 are set.
func (m Modifiers) Has(m2 Modifiers) bool { return m&m2 == m2 }

// MouseEvent is a toolkit-neutral pointer event in screen coordinates.
type MouseEvent struct {
	X, Y   int
	Button Button
	Mods   Modifiers
}

// Key is a toolkit-neutral editing command key.
type Key int

const (
	KeyNone Key = iota
	KeyEscape
	KeyDelete
	KeySelectAll
	KeyZoomIn
	KeyZoomOut
	KeyZoomReset
	KeyToggleHop
	KeyDuplicate
)
