package geometry

import (
	"math"

	"github.com/rendis/transcanvas/pkg/schema"
)

// Default magnification bounds.
const (
	DefaultMinZoom = 0.1
	DefaultMaxZoom = 10.0
)

// Viewport converts between screen and diagram coordinates using a scroll
// offset and a bounded magnification factor.
type Viewport struct {
	Offset  Point // diagram-space point shown at screen origin
	zoom    float64
	minZoom float64
	maxZoom float64
}

// NewViewport creates a viewport at magnification 1 with the given bounds.
// Invalid bounds fall back to the defaults.
func NewViewport(minZoom, maxZoom float64) *Viewport {
	if minZoom <= 0 || maxZoom < minZoom {
		minZoom, maxZoom = DefaultMinZoom, DefaultMaxZoom
	}
	zoom := 1.0
	if zoom < minZoom || zoom > maxZoom {
		zoom = minZoom
	}
	return &Viewport{zoom: zoom, minZoom: minZoom, maxZoom: maxZoom}
}

// Zoom returns the current magnification.
func (v *Viewport) Zoom() float64 { return v.zoom }

// Bounds returns the magnification limits.
func (v *Viewport) Bounds() (float64, float64) { return v.minZoom, v.maxZoom }

// SetZoom changes the magnification. Values outside [min, max] are rejected
// and the previous value is retained.
func (v *Viewport) SetZoom(z float64) error {
	if math.IsNaN(z) || z < v.minZoom || z > v.maxZoom {
		return schema.Rejectedf("zoom %.2f outside [%.2f, %.2f]", z, v.minZoom, v.maxZoom).
			WithDetails(map[string]any{"requested": z, "current": v.zoom})
	}
	v.zoom = z
	return nil
}

// ZoomBy multiplies the magnification by factor, clamping to the bounds.
func (v *Viewport) ZoomBy(factor float64) {
	z := v.zoom * factor
	z = math.Max(v.minZoom, math.Min(v.maxZoom, z))
	v.zoom = z
}

// ScrollBy moves the viewport offset by d diagram units.
func (v *Viewport) ScrollBy(d Point) {
	v.Offset = v.Offset.Add(d)
}

// ScreenToDiagram maps a screen position to diagram space.
func (v *Viewport) ScreenToDiagram(p Point) Point {
	return Point{
		X: int(math.Round(float64(p.X)/v.zoom)) + v.Offset.X,
		Y: int(math.Round(float64(p.Y)/v.zoom)) + v.Offset.Y,
	}
}

// DiagramToScreen maps a diagram position to screen space.
func (v *Viewport) DiagramToScreen(p Point) Point {
	return Point{
		X: int(math.Round(float64(p.X-v.Offset.X) * v.zoom)),
		Y: int(math.Round(float64(p.Y-v.Offset.Y) * v.zoom)),
	}
}
