package overlay

import (
	"math"

	"github.com/skobkin/statbar/internal/settings"
)

// Point is a window origin in physical pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Place computes the window origin for pos on display d. Corner offsets are
// logical pixels and are scaled by the display DPI; absolute coordinates are
// physical. The result keeps the window on screen where it fits.
func Place(pos settings.Position, d Display, width, height int) Point {
	var p Point
	switch pos.Mode {
	case settings.PositionAbsolute:
		p = Point{X: pos.X, Y: pos.Y}
	default:
		scale := d.Scale
		if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
			scale = 1
		}
		dx := int(math.Round(float64(pos.OffsetX) * scale))
		dy := int(math.Round(float64(pos.OffsetY) * scale))

		switch pos.Corner {
		case settings.CornerTopLeft:
			p = Point{X: dx, Y: dy}
		case settings.CornerBottomLeft:
			p = Point{X: dx, Y: d.Height - height - dy}
		case settings.CornerBottomRight:
			p = Point{X: d.Width - width - dx, Y: d.Height - height - dy}
		default:
			p = Point{X: d.Width - width - dx, Y: dy}
		}
	}

	p.X = clamp(p.X, 0, d.Width-width)
	p.Y = clamp(p.Y, 0, d.Height-height)
	return p
}

// clamp bounds v to [lo, hi]; when the window is larger than the display the
// origin is pinned to lo.
func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return max(lo, min(hi, v))
}
