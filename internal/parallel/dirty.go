package parallel

import (
	"math/bits"
	"sync/atomic"
)

// DirtyRegion records which tiles of a canvas changed, one bit per tile.
//
// Bit index = ty*tilesX + tx. All methods are lock-free and safe for
// concurrent use. Coordinates outside the grid are ignored.
type DirtyRegion struct {
	words  []atomic.Uint64
	tilesX int
	tilesY int
}

// NewDirtyRegion creates a clean region for a tilesX x tilesY grid.
// Empty grids yield a region that ignores every mark.
func NewDirtyRegion(tilesX, tilesY int) *DirtyRegion {
	tilesX, tilesY = max(tilesX, 0), max(tilesY, 0)
	return &DirtyRegion{
		words:  make([]atomic.Uint64, (tilesX*tilesY+63)/64),
		tilesX: tilesX,
		tilesY: tilesY,
	}
}

func (d *DirtyRegion) index(tx, ty int) (int, bool) {
	if tx < 0 || tx >= d.tilesX || ty < 0 || ty >= d.tilesY {
		return 0, false
	}
	return ty*d.tilesX + tx, true
}

// Mark flags the tile at (tx, ty).
func (d *DirtyRegion) Mark(tx, ty int) {
	if i, ok := d.index(tx, ty); ok {
		d.words[i/64].Or(1 << (i & 63))
	}
}

// MarkRect flags every tile intersecting the pixel rectangle (x, y, w, h)
// for tiles of size pixels.
func (d *DirtyRegion) MarkRect(x, y, w, h, size int) {
	if w <= 0 || h <= 0 || size <= 0 {
		return
	}
	tx1, ty1 := max(floorDiv(x, size), 0), max(floorDiv(y, size), 0)
	tx2 := min(floorDiv(x+w-1, size), d.tilesX-1)
	ty2 := min(floorDiv(y+h-1, size), d.tilesY-1)
	for ty := ty1; ty <= ty2; ty++ {
		for tx := tx1; tx <= tx2; tx++ {
			d.Mark(tx, ty)
		}
	}
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}

// MarkAll flags every tile.
func (d *DirtyRegion) MarkAll() {
	total := d.tilesX * d.tilesY
	for i := range d.words {
		if rest := total - i*64; rest < 64 {
			d.words[i].Store(uint64(1)<<rest - 1)
		} else {
			d.words[i].Store(^uint64(0))
		}
	}
}

// IsDirty reports whether the tile at (tx, ty) is flagged.
func (d *DirtyRegion) IsDirty(tx, ty int) bool {
	i, ok := d.index(tx, ty)
	return ok && d.words[i/64].Load()&(1<<(i&63)) != 0
}

// Count returns the number of flagged tiles.
func (d *DirtyRegion) Count() int {
	n := 0
	for i := range d.words {
		n += bits.OnesCount64(d.words[i].Load())
	}
	return n
}

// Take returns the flagged tiles in row-major order and clears them.
// Each word is swapped atomically, so concurrent marks are never lost.
func (d *DirtyRegion) Take() [][2]int {
	var out [][2]int
	for wi := range d.words {
		w := d.words[wi].Swap(0)
		for w != 0 {
			b := bits.TrailingZeros64(w)
			i := wi*64 + b
			out = append(out, [2]int{i % d.tilesX, i / d.tilesX})
			w &^= 1 << b
		}
	}
	return out
}

// TilesX returns the grid width in tiles.
func (d *DirtyRegion) TilesX() int { return d.tilesX }

// TilesY returns the grid height in tiles.
func (d *DirtyRegion) TilesY() int { return d.tilesY }
