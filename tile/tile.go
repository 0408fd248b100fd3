// Package tile provides the fixed-size pixel blocks every layer is built from.
//
// A canvas is divided into 64x64 pixel tiles. Each tile owns a dense buffer
// of premultiplied ARGB values (0xAARRGGBB), or, while it holds a single
// color, no buffer at all. Key features:
//
//   - 64x64 tiles (16KB per materialized tile)
//   - Solid tiles that allocate nothing until first written
//   - Buffer pooling via sync.Pool
//   - Integer-only compositing so every replica produces identical bytes
//
// Thread safety: Tile is NOT safe for concurrent mutation. Distinct tiles
// may be mutated concurrently.
package tile

import "fmt"

// Tile size constants.
const (
	// Size is the width and height of a tile in pixels.
	Size = 64

	// Pixels is the number of pixels in a tile.
	Pixels = Size * Size

	// Bytes is the serialized size of a tile (4 bytes per pixel).
	Bytes = Pixels * 4
)

// RoundUp rounds i upwards to the nearest multiple of Size.
func RoundUp(i int) int {
	return (i + Size - 1) / Size * Size
}

// RoundDown rounds i down to the nearest multiple of Size.
// Negative coordinates round towards negative infinity.
func RoundDown(i int) int {
	if i < 0 {
		return -((-i + Size - 1) / Size * Size)
	}
	return i / Size * Size
}

// Tile is a Size x Size block of premultiplied ARGB pixels.
type Tile struct {
	// X is the tile column index.
	X int

	// Y is the tile row index.
	Y int

	// data is nil while the tile is solid.
	data *[Pixels]uint32

	// solid is the color of every pixel while data is nil.
	solid uint32
}

// New creates a tile filled with a premultiplied color.
// No pixel buffer is allocated until the tile is first modified.
func New(x, y int, color uint32) *Tile {
	return &Tile{X: x, Y: y, solid: color}
}

// Clone returns a deep copy of t.
func (t *Tile) Clone() *Tile {
	c := &Tile{X: t.X, Y: t.Y, solid: t.solid}
	if t.data != nil {
		c.data = getBuffer()
		*c.data = *t.data
	}
	return c
}

// Release returns the pixel buffer to the pool. The tile becomes a
// transparent solid tile.
func (t *Tile) Release() {
	if t.data != nil {
		putBuffer(t.data)
		t.data = nil
	}
	t.solid = 0
}

func checkCoords(x, y int) {
	if x < 0 || x >= Size || y < 0 || y >= Size {
		panic(fmt.Sprintf("tile: pixel (%d,%d) out of range", x, y))
	}
}

// materialize allocates the pixel buffer of a solid tile.
func (t *Tile) materialize() *[Pixels]uint32 {
	if t.data == nil {
		t.data = getBuffer()
		for i := range t.data {
			t.data[i] = t.solid
		}
		t.solid = 0
	}
	return t.data
}

// Pixel returns the premultiplied ARGB value at tile-local (x, y).
// Coordinates outside [0, Size) panic.
func (t *Tile) Pixel(x, y int) uint32 {
	checkCoords(x, y)
	if t.data == nil {
		return t.solid
	}
	return t.data[y*Size+x]
}

// SetPixel stores a premultiplied ARGB value at tile-local (x, y).
// Coordinates outside [0, Size) panic.
func (t *Tile) SetPixel(x, y int, c uint32) {
	checkCoords(x, y)
	if t.data == nil && t.solid == c {
		return
	}
	t.materialize()[y*Size+x] = c
}

// Fill sets every pixel to c and releases the pixel buffer.
func (t *Tile) Fill(c uint32) {
	if t.data != nil {
		putBuffer(t.data)
		t.data = nil
	}
	t.solid = c
}

// Solid reports the color of a tile whose pixels are all identical.
// It scans the buffer of a materialized tile.
func (t *Tile) Solid() (uint32, bool) {
	if t.data == nil {
		return t.solid, true
	}
	c := t.data[0]
	for _, p := range t.data[1:] {
		if p != c {
			return 0, false
		}
	}
	return c, true
}

// Collapse releases the pixel buffer of a uniformly colored tile.
// It reports whether the tile is solid afterwards.
func (t *Tile) Collapse() bool {
	c, ok := t.Solid()
	if ok {
		t.Fill(c)
	}
	return ok
}

// IsBlank reports whether every pixel is fully transparent.
func (t *Tile) IsBlank() bool {
	if t.data == nil {
		return t.solid>>24 == 0
	}
	for _, p := range t.data {
		if p>>24 != 0 {
			return false
		}
	}
	return true
}

// at returns the pixel at linear index i without bounds checks on
// the tile coordinate space.
func (t *Tile) at(i int) uint32 {
	if t.data == nil {
		return t.solid
	}
	return t.data[i]
}

// CopyTo writes all pixels in row-major order into dst, which must hold
// at least Pixels values.
func (t *Tile) CopyTo(dst []uint32) {
	dst = dst[:Pixels]
	if t.data == nil {
		for i := range dst {
			dst[i] = t.solid
		}
		return
	}
	copy(dst, t.data[:])
}

// Bounds returns the pixel bounds of this tile in layer space.
func (t *Tile) Bounds() (x, y, w, h int) {
	return t.X * Size, t.Y * Size, Size, Size
}
