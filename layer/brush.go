package layer

import (
	"math"

	"github.com/gogpu/paintnet/tile"
)

// Point is a canvas position with stylus pressure.
type Point struct {
	X, Y float64

	// Pressure is in [0, 1]. Values outside the range are clamped.
	Pressure float64
}

// Brush describes how a stroke is painted.
//
// Radius, hardness, opacity and color are each given as a pair: the Hi
// value applies at full pressure and the Lo value at zero pressure, with
// integer interpolation in between so every replica computes the same
// dab. A Brush is a plain value; copying it is cheap.
//
// Example:
//
//	b := layer.Brush{
//		RadiusHi: 8, RadiusLo: 2,
//		HardnessHi: 100, HardnessLo: 100,
//		OpacityHi: 255, OpacityLo: 255,
//		ColorHi: 0xFF000000, ColorLo: 0xFF000000,
//		Spacing: 25,
//		Blend: tile.BlendNormal,
//	}
type Brush struct {
	// RadiusHi and RadiusLo are dab radii in pixels.
	RadiusHi, RadiusLo int

	// HardnessHi and HardnessLo are percentages (0-100). At 100 the dab
	// has a hard edge; lower values widen the soft falloff.
	HardnessHi, HardnessLo int

	// OpacityHi and OpacityLo are 0-255.
	OpacityHi, OpacityLo int

	// ColorHi and ColorLo are straight-alpha ARGB. Alpha is ignored.
	ColorHi, ColorLo uint32

	// Spacing is the distance between dabs as a percentage (1-100) of
	// the dab diameter.
	Spacing int

	// Blend is the mode used to apply the stroke.
	Blend tile.BlendMode

	// Incremental brushes build up opacity dab by dab directly on the
	// layer. Other brushes paint into a per-user sublayer which is merged
	// at the brush opacity when the stroke ends.
	Incremental bool
}

// level quantizes pressure to 0..255.
func level(p float64) int {
	if !(p > 0) {
		return 0
	}
	if p >= 1 {
		return 255
	}
	return int(float64(p*255) + 0.5)
}

func lerp(lo, hi, q int) int {
	return (lo*(255-q) + hi*q + 127) / 255
}

// Radius returns the dab radius at pressure p.
func (b Brush) Radius(p float64) int {
	return max(lerp(b.RadiusLo, b.RadiusHi, level(p)), 0)
}

// Hardness returns the dab hardness at pressure p, in [0, 1].
func (b Brush) Hardness(p float64) float64 {
	h := min(max(lerp(b.HardnessLo, b.HardnessHi, level(p)), 0), 100)
	return float64(h) / 100
}

// Opacity returns the dab opacity at pressure p.
func (b Brush) Opacity(p float64) byte {
	return byte(min(max(lerp(b.OpacityLo, b.OpacityHi, level(p)), 0), 255))
}

// Color returns the straight-alpha color at pressure p with alpha 0xFF.
func (b Brush) Color(p float64) uint32 {
	q := level(p)
	c := uint32(0xFF000000)
	for shift := 0; shift < 24; shift += 8 {
		lo := int(b.ColorLo>>shift) & 0xFF
		hi := int(b.ColorHi>>shift) & 0xFF
		c |= uint32(lerp(lo, hi, q)) << shift
	}
	return c
}

// SubPixel reports whether the brush needs sub-pixel positioning.
// Hard-edged brushes are stamped on whole pixels.
func (b Brush) SubPixel() bool {
	return max(b.RadiusHi, b.RadiusLo) > 0 && min(b.HardnessHi, b.HardnessLo) < 100
}

func (b Brush) spacingPercent() int {
	return min(max(b.Spacing, 1), 100)
}

// SpacingDistance returns the distance between dabs at pressure p for
// soft brushes. It is never below 1.
func (b Brush) SpacingDistance(p float64) float64 {
	d := float64(2*b.Radius(p)*b.spacingPercent()) / 100
	return math.Max(d, 1)
}

// hardSpacing is the whole-pixel step count between hard dabs.
func (b Brush) hardSpacing(p float64) int {
	return max(2*b.Radius(p)*b.spacingPercent()/100, 1)
}

// Mask is a square coverage stamp positioned on the canvas.
type Mask struct {
	// X and Y are the canvas coordinates of the top-left value.
	X, Y int

	// Dim is the width and height of the stamp.
	Dim int

	// Values holds Dim*Dim coverage values, row-major.
	Values []byte
}

// Stamp renders the dab mask of b at pt.
//
// Hard brushes snap to the nearest pixel and produce a disc of uniform
// coverage; radius 0 is a single pixel. Soft brushes produce a disc of
// size 2r+2 centered at the sub-pixel position, fully covered inside
// hardness*r with a linear falloff to zero at r.
func (b Brush) Stamp(pt Point) Mask {
	return b.stamp(pt, b.Opacity(pt.Pressure))
}

// stamp renders the mask with peak coverage op.
func (b Brush) stamp(pt Point, op byte) Mask {
	r := b.Radius(pt.Pressure)
	if !b.SubPixel() || r == 0 {
		return hardStamp(round(pt.X), round(pt.Y), r, op)
	}
	return softStamp(pt.X, pt.Y, r, b.Hardness(pt.Pressure), op)
}

func round(f float64) int {
	return int(math.Floor(f + 0.5))
}

func hardStamp(cx, cy, r int, op byte) Mask {
	dim := 2*r + 1
	m := Mask{X: cx - r, Y: cy - r, Dim: dim, Values: make([]byte, dim*dim)}
	rr := r * r
	for y := range dim {
		dy := y - r
		for x := range dim {
			dx := x - r
			if dx*dx+dy*dy <= rr {
				m.Values[y*dim+x] = op
			}
		}
	}
	return m
}

func softStamp(px, py float64, r int, hardness float64, op byte) Mask {
	dim := 2*r + 2
	ox := int(math.Floor(px)) - r
	oy := int(math.Floor(py)) - r
	cx := px - float64(ox)
	cy := py - float64(oy)

	rad := float64(r)
	inner := float64(hardness * rad)
	fall := rad - inner

	m := Mask{X: ox, Y: oy, Dim: dim, Values: make([]byte, dim*dim)}
	for y := range dim {
		dy := float64(float64(y)+0.5) - cy
		for x := range dim {
			dx := float64(float64(x)+0.5) - cx
			d := math.Sqrt(float64(dx*dx) + float64(dy*dy))

			var cov float64
			switch {
			case d >= rad:
				continue
			case d <= inner || fall <= 0:
				cov = 1
			default:
				cov = (rad - d) / fall
			}
			m.Values[y*dim+x] = byte(float64(cov*float64(op)) + 0.5)
		}
	}
	return m
}

// StrokeContext carries per-stroke state between DrawLine calls.
// The zero value starts a new stroke.
type StrokeContext struct {
	// Distance is the distance travelled since the last dab.
	Distance float64
}

// Reset prepares the context for a new stroke.
func (s *StrokeContext) Reset() {
	s.Distance = 0
}
