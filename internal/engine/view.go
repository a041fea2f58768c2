package engine

import "math"

// ZoomRange bounds a backend's zoom factor.
type ZoomRange struct {
	Min float64
	Max float64
}

var (
	PDFZoom     = ZoomRange{Min: 0.1, Max: 5.0}
	NativeZoom  = ZoomRange{Min: 0.1, Max: 5.0}
	ReflowZoom  = ZoomRange{Min: 0.5, Max: 3.0}
	WebViewZoom = ZoomRange{Min: 0.5, Max: 4.0}
)

// Clamp limits z to the range. NaN maps to 1.0 clamped.
func (r ZoomRange) Clamp(z float64) float64 {
	if math.IsNaN(z) {
		z = 1.0
	}
	return math.Max(r.Min, math.Min(r.Max, z))
}

// NormalizeRotation maps any multiple of 90 into [0, 360).
func NormalizeRotation(deg int) int {
	deg = (deg / 90) * 90
	return ((deg % 360) + 360) % 360
}

// NextRotation turns cur one quarter in dir. Unknown directions leave the
// rotation unchanged.
func NextRotation(cur int, dir Direction) int {
	switch dir {
	case Clockwise:
		return NormalizeRotation(cur + 90)
	case CounterClockwise:
		return NormalizeRotation(cur - 90)
	default:
		return NormalizeRotation(cur)
	}
}

// ValidPage reports whether a 1-based page number is inside [1, count].
func ValidPage(page, count int) bool {
	return page >= 1 && page <= count
}
