package tile

import "github.com/gogpu/paintnet/internal/blend"

// BlendMode selects how source pixels combine with a tile.
// The numeric values are transmitted on the wire.
type BlendMode uint8

// Blend modes.
const (
	BlendErase      = BlendMode(blend.OpErase)
	BlendNormal     = BlendMode(blend.OpNormal)
	BlendMultiply   = BlendMode(blend.OpMultiply)
	BlendBurn       = BlendMode(blend.OpBurn)
	BlendDodge      = BlendMode(blend.OpDodge)
	BlendDarken     = BlendMode(blend.OpDarken)
	BlendLighten    = BlendMode(blend.OpLighten)
	BlendSubtract   = BlendMode(blend.OpSubtract)
	BlendAdd        = BlendMode(blend.OpAdd)
	BlendScreen     = BlendMode(blend.OpScreen)
	BlendOverlay    = BlendMode(blend.OpOverlay)
	BlendHardLight  = BlendMode(blend.OpHardLight)
	BlendDifference = BlendMode(blend.OpDifference)
	BlendExclusion  = BlendMode(blend.OpExclusion)
	BlendReplace    = BlendMode(blend.OpReplace)
)

// String returns the name of the blend mode.
func (m BlendMode) String() string {
	return blend.Op(m).String()
}

// Valid reports whether m is a known blend mode.
func (m BlendMode) Valid() bool {
	return blend.Op(m).Valid()
}

// Composite stamps a coverage mask tinted by color onto the tile.
//
// values holds h rows of w coverage values (0-255); skip additional values
// follow each row and are ignored. color is a straight-alpha ARGB value
// whose alpha is ignored: the coverage value is the source alpha. The
// region [x, x+w) x [y, y+h) must lie inside the tile. Zero coverage never
// modifies a pixel.
func (t *Tile) Composite(mode BlendMode, values []byte, color uint32, x, y, w, h, skip int) {
	if w <= 0 || h <= 0 {
		return
	}
	checkCoords(x, y)
	checkCoords(x+w-1, y+h-1)

	fn := blend.Lookup(blend.Op(mode))
	cr, cg, cb := byte(color>>16), byte(color>>8), byte(color)
	var data *[Pixels]uint32

	vi := 0
	for row := range h {
		off := (y+row)*Size + x
		for col := range w {
			v := values[vi]
			vi++
			if v == 0 {
				continue
			}
			if data == nil {
				data = t.materialize()
			}
			src := uint32(v)<<24 |
				uint32(blend.MulDiv255(cr, v))<<16 |
				uint32(blend.MulDiv255(cg, v))<<8 |
				uint32(blend.MulDiv255(cb, v))
			data[off+col] = blend.Pixel(fn, src, data[off+col])
		}
		vi += skip
	}
}

// Merge composites src onto t with the given opacity and blend mode.
//
// A blank source leaves t unchanged, as do transparent source pixels.
// Merging an opaque source at opacity 255 with BlendReplace overwrites t.
func (t *Tile) Merge(src *Tile, opacity byte, mode BlendMode) {
	if opacity == 0 || src.IsBlank() {
		return
	}
	fn := blend.Lookup(blend.Op(mode))

	if src.data == nil {
		s := blend.Scale(src.solid, opacity)
		if s>>24 == 0 {
			return
		}
		if t.data == nil {
			t.solid = blend.Pixel(fn, s, t.solid)
			return
		}
		for i, d := range t.data {
			t.data[i] = blend.Pixel(fn, s, d)
		}
		return
	}

	data := t.materialize()
	for i, p := range src.data {
		s := blend.Scale(p, opacity)
		if s>>24 == 0 {
			continue
		}
		data[i] = blend.Pixel(fn, s, data[i])
	}
}

// Blit composites a block of premultiplied ARGB pixels onto the tile.
//
// src holds h rows of stride pixels; the first w of each row are used and
// land at [x, x+w) x [y, y+h). BlendReplace copies pixels verbatim,
// including transparent ones.
func (t *Tile) Blit(mode BlendMode, src []uint32, stride, x, y, w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	checkCoords(x, y)
	checkCoords(x+w-1, y+h-1)

	data := t.materialize()
	if mode == BlendReplace {
		for row := range h {
			copy(data[(y+row)*Size+x:][:w], src[row*stride:][:w])
		}
		return
	}
	fn := blend.Lookup(blend.Op(mode))
	for row := range h {
		off := (y+row)*Size + x
		for col, s := range src[row*stride:][:w] {
			if s>>24 == 0 && mode != BlendErase {
				continue
			}
			data[off+col] = blend.Pixel(fn, s, data[off+col])
		}
	}
}
