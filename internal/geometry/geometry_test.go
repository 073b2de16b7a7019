package geometry

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/transcanvas/pkg/schema"
)

func TestRect_ContainsAndNormalize(t *testing.T) {
	r := RectFrom(Point{10, 10}, Point{0, 0})
	assert.Equal(t, Rect{0, 0, 10, 10}, r)
	assert.True(t, r.Contains(Point{0, 0}))
	assert.True(t, r.Contains(Point{9, 9}))
	assert.False(t, r.Contains(Point{10, 5}))
	assert.Equal(t, Point{5, 5}, r.Center())
}

func TestSegmentDistance(t *testing.T) {
	a, b := Point{0, 0}, Point{10, 0}
	assert.InDelta(t, 0, SegmentDistance(Point{5, 0}, a, b), 1e-9)
	assert.InDelta(t, 3, SegmentDistance(Point{5, 3}, a, b), 1e-9)
	// beyond the endpoint the distance is to the endpoint itself
	assert.InDelta(t, 5, SegmentDistance(Point{13, 4}, a, b), 1e-9)
	// degenerate segment
	assert.InDelta(t, 5, SegmentDistance(Point{3, 4}, a, a), 1e-9)
}

func TestViewport_RoundTrip(t *testing.T) {
	v := NewViewport(0.5, 4)
	require.NoError(t, v.SetZoom(2))
	v.ScrollBy(Point{100, 50})

	d := v.ScreenToDiagram(Point{40, 20})
	assert.Equal(t, Point{120, 60}, d)
	assert.Equal(t, Point{40, 20}, v.DiagramToScreen(d))
}

func TestViewport_RejectsOutOfRangeZoom(t *testing.T) {
	v := NewViewport(0.5, 4)
	require.NoError(t, v.SetZoom(1.5))

	err := v.SetZoom(4.5)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeRejected))
	assert.Equal(t, 1.5, v.Zoom())

	require.Error(t, v.SetZoom(0.1))
	assert.Equal(t, 1.5, v.Zoom())
}

func TestViewport_ZoomByClamps(t *testing.T) {
	v := NewViewport(0.5, 2)
	v.ZoomBy(10)
	assert.Equal(t, 2.0, v.Zoom())
	v.ZoomBy(0.01)
	assert.Equal(t, 0.5, v.Zoom())
}

func TestViewport_BadBoundsFallBack(t *testing.T) {
	v := NewViewport(3, 1)
	lo, hi := v.Bounds()
	assert.Equal(t, DefaultMinZoom, lo)
	assert.Equal(t, DefaultMaxZoom, hi)
	assert.Equal(t, 1.0, v.Zoom())
}

func TestFrame_ResolveTopMost(t *testing.T) {
	f := NewFrame()
	f.Add(AreaHop, Rect{0, 0, 100, 100}, "hop", nil)
	f.Add(AreaStep, Rect{10, 10, 20, 20}, "step", nil)
	f.Add(AreaOutputConnector, Rect{25, 25, 5, 5}, "connector", "step")

	got := f.Resolve(27, 27)
	require.NotNil(t, got)
	assert.Equal(t, AreaOutputConnector, got.Kind)
	assert.Equal(t, "step", got.Parent)

	got = f.Resolve(15, 15)
	require.NotNil(t, got)
	assert.Equal(t, "step", got.Owner)

	got = f.Resolve(90, 90)
	require.NotNil(t, got)
	assert.Equal(t, "hop", got.Owner)

	assert.Nil(t, f.Resolve(200, 200))
}

// Any point resolves to the most recently added owner that contains it.
func TestFrame_ReverseScanProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		f := NewFrame()
		n := 1 + rng.Intn(20)
		for i := 0; i < n; i++ {
			f.Add(AreaStep, Rect{rng.Intn(50), rng.Intn(50), 1 + rng.Intn(30), 1 + rng.Intn(30)}, i, nil)
		}
		owners := f.Owners()
		for q := 0; q < 30; q++ {
			p := Point{rng.Intn(80), rng.Intn(80)}
			want := -1
			for i, o := range owners {
				if o.Area.Contains(p) {
					want = i
				}
			}
			got := f.Resolve(p.X, p.Y)
			if want < 0 {
				assert.Nil(t, got)
				continue
			}
			require.NotNil(t, got)
			assert.Equal(t, want, got.Owner)
		}
	}
}

func TestFrame_Reset(t *testing.T) {
	f := NewFrame()
	f.Add(AreaNote, Rect{0, 0, 5, 5}, "n", nil)
	f.Reset()
	assert.Equal(t, 0, f.Len())
	assert.Nil(t, f.Resolve(1, 1))
}

type seg struct {
	name     string
	from, to Point
}

func (s seg) Endpoints() (Point, Point) { return s.from, s.to }

func TestFindLine(t *testing.T) {
	lines := []seg{
		{"ab", Point{0, 0}, Point{100, 0}},
		{"cd", Point{0, 50}, Point{100, 50}},
	}
	got, ok := FindLine(lines, Point{50, 3}, 5, nil)
	require.True(t, ok)
	assert.Equal(t, "ab", got.name)

	got, ok = FindLine(lines, Point{50, 3}, 5, func(s seg) bool { return s.name == "ab" })
	assert.False(t, ok)
	assert.Equal(t, "", got.name)

	got, ok = FindLine(lines, Point{50, 48}, 5, nil)
	require.True(t, ok)
	assert.Equal(t, "cd", got.name)
}
