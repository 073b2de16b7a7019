package geometry

// AreaKind names the logical target an AreaOwner is bound to.
type AreaKind string

const (
	AreaStep            AreaKind = "step"
	AreaHop             AreaKind = "hop"
	AreaNote            AreaKind = "note"
	AreaOutputConnector AreaKind = "output_connector"
	AreaInputConnector  AreaKind = "input_connector"
	AreaStepMenu        AreaKind = "step_menu"
	AreaStepError       AreaKind = "step_error_icon"
	AreaMiniIcon        AreaKind = "mini_icon"
)

// AreaOwner binds a screen rectangle to a diagram element or a control
// affordance for the duration of one frame.
type AreaOwner struct {
	Kind   AreaKind
	Area   Rect
	Owner  any // *model.Step, *model.Hop, *model.Note, or an affordance value
	Parent any // e.g. the step owning a connector
}

// Frame is the ordered AreaOwner list built by one paint cycle. Later
// entries are drawn on top of earlier ones.
type Frame struct {
	owners []AreaOwner
}

// NewFrame returns an empty frame.
func NewFrame() *Frame {
	return &Frame{}
}

// Add appends an owner on top of the existing ones.
func (f *Frame) Add(kind AreaKind, area Rect, owner, parent any) {
	f.owners = append(f.owners, AreaOwner{Kind: kind, Area: area.Normalize(), Owner: owner, Parent: parent})
}

// Reset drops every owner; called at the start of each paint.
func (f *Frame) Reset() {
	f.owners = f.owners[:0]
}

// Len returns the number of registered owners.
func (f *Frame) Len() int { return len(f.owners) }

// Owners returns a copy of the registered owners in paint order.
func (f *Frame) Owners() []AreaOwner {
	out := make([]AreaOwner, len(f.owners))
	copy(out, f.owners)
	return out
}

// Resolve returns the top-most owner containing p, scanning in reverse
// paint order, or nil.
func (f *Frame) Resolve(x, y int) *AreaOwner {
	p := Point{x, y}
	for i := len(f.owners) - 1; i >= 0; i-- {
		if f.owners[i].Area.Contains(p) {
			ao := f.owners[i]
			return &ao
		}
	}
	return nil
}
