package geometry

// Line is anything drawn as a straight segment between two points.
type Line interface {
	Endpoints() (from, to Point)
}

// FindLine returns the first line in order whose segment lies within
// tolerance of p. Lines for which skip returns true are ignored.
func FindLine[L Line](lines []L, p Point, tolerance float64, skip func(L) bool) (L, bool) {
	var zero L
	for _, l := range lines {
		if skip != nil && skip(l) {
			continue
		}
		a, b := l.Endpoints()
		if SegmentDistance(p, a, b) <= tolerance {
			return l, true
		}
	}
	return zero, false
}
