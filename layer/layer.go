package layer

import (
	"image"
	"math"

	"github.com/gogpu/paintnet/internal/parallel"
	"github.com/gogpu/paintnet/tile"
)

// Layer is one paintable surface of a canvas.
//
// Pixels live in a grid of tiles; a nil tile is fully transparent. The
// grid always covers whole tiles, so the paintable area is the canvas size
// rounded up to tile.Size. Strokes of non-incremental brushes are painted
// into sublayers, one per drawing context, and folded into the layer by
// MergeSublayer.
//
// Thread safety: Layer is NOT safe for concurrent use.
type Layer struct {
	id     uint8
	title  string
	width  int
	height int
	xtiles int
	ytiles int
	tiles  []*tile.Tile

	opacity byte
	blend   tile.BlendMode
	hidden  bool

	sublayers []*Layer
	owner     *Stack
}

// New creates a layer of w x h pixels filled with a premultiplied color.
// The layer is not attached to a stack.
func New(id uint8, title string, w, h int, fill uint32) *Layer {
	l := &Layer{
		id:      id,
		title:   title,
		opacity: 255,
		blend:   tile.BlendNormal,
	}
	l.setSize(w, h)
	l.Fill(fill)
	return l
}

func newSublayer(parent *Layer, id uint8, blend tile.BlendMode, opacity byte) *Layer {
	s := &Layer{
		id:      id,
		opacity: opacity,
		blend:   blend,
		owner:   parent.owner,
	}
	s.setSize(parent.width, parent.height)
	return s
}

func (l *Layer) setSize(w, h int) {
	l.width, l.height = max(w, 0), max(h, 0)
	l.xtiles = tile.RoundUp(l.width) / tile.Size
	l.ytiles = tile.RoundUp(l.height) / tile.Size
	l.tiles = make([]*tile.Tile, l.xtiles*l.ytiles)
}

// ID returns the layer id.
func (l *Layer) ID() uint8 { return l.id }

// Title returns the layer title.
func (l *Layer) Title() string { return l.title }

// SetTitle renames the layer.
func (l *Layer) SetTitle(title string) { l.title = title }

// Width returns the canvas width in pixels.
func (l *Layer) Width() int { return l.width }

// Height returns the canvas height in pixels.
func (l *Layer) Height() int { return l.height }

// XTiles returns the number of tile columns.
func (l *Layer) XTiles() int { return l.xtiles }

// YTiles returns the number of tile rows.
func (l *Layer) YTiles() int { return l.ytiles }

// Opacity returns the layer opacity (0-255).
func (l *Layer) Opacity() byte { return l.opacity }

// Blend returns the mode used to composite the layer onto the ones below.
func (l *Layer) Blend() tile.BlendMode { return l.blend }

// SetAttributes changes opacity and blend mode.
func (l *Layer) SetAttributes(opacity byte, blend tile.BlendMode) {
	if l.opacity == opacity && l.blend == blend {
		return
	}
	l.opacity, l.blend = opacity, blend
	l.markAll()
}

// Hidden reports whether the layer is hidden locally.
func (l *Layer) Hidden() bool { return l.hidden }

// SetHidden hides or shows the layer. The flag is local to this replica
// and never transmitted.
func (l *Layer) SetHidden(hidden bool) {
	if l.hidden != hidden {
		l.hidden = hidden
		l.markAll()
	}
}

// Visible reports whether the layer contributes to the flattened canvas:
// its opacity is above zero and it is not hidden.
func (l *Layer) Visible() bool {
	return l.opacity > 0 && !l.hidden
}

// Tile returns the tile at grid position (tx, ty), or nil when that tile
// is blank. Out-of-range positions panic.
func (l *Layer) Tile(tx, ty int) *tile.Tile {
	return l.tiles[l.index(tx, ty)]
}

func (l *Layer) index(tx, ty int) int {
	if tx < 0 || tx >= l.xtiles || ty < 0 || ty >= l.ytiles {
		panic("layer: tile index out of range")
	}
	return ty*l.xtiles + tx
}

// at returns the tile at (tx, ty), creating a blank one when create is set.
func (l *Layer) at(tx, ty int, create bool) *tile.Tile {
	i := ty*l.xtiles + tx
	if l.tiles[i] == nil && create {
		l.tiles[i] = tile.New(tx, ty, 0)
	}
	return l.tiles[i]
}

func (l *Layer) mark(tx, ty int) {
	if l.owner != nil {
		l.owner.dirty.Mark(tx, ty)
	}
}

func (l *Layer) markAll() {
	if l.owner != nil {
		l.owner.dirty.MarkAll()
	}
}

// Fill sets every pixel to a premultiplied color. Transparent fills
// release all tiles.
func (l *Layer) Fill(color uint32) {
	for i, t := range l.tiles {
		if t != nil {
			t.Release()
		}
		if color>>24 == 0 {
			l.tiles[i] = nil
			continue
		}
		l.tiles[i] = tile.New(i%l.xtiles, i/l.xtiles, color)
	}
	l.clearOutside()
	l.markAll()
}

// ColorAt returns the premultiplied pixel at canvas (x, y).
// Positions outside the canvas are transparent.
func (l *Layer) ColorAt(x, y int) uint32 {
	if x < 0 || y < 0 || x >= l.width || y >= l.height {
		return 0
	}
	t := l.tiles[(y/tile.Size)*l.xtiles+x/tile.Size]
	if t == nil {
		return 0
	}
	return t.Pixel(x%tile.Size, y%tile.Size)
}

// Resize changes the canvas size, keeping content anchored at the top-left
// corner. Content outside the new size is discarded.
func (l *Layer) Resize(w, h int) {
	old, oldX := l.tiles, l.xtiles
	l.setSize(w, h)
	for i, t := range old {
		if t == nil {
			continue
		}
		tx, ty := i%oldX, i/oldX
		if tx < l.xtiles && ty < l.ytiles {
			l.tiles[ty*l.xtiles+tx] = t
		} else {
			t.Release()
		}
	}
	for _, s := range l.sublayers {
		s.Resize(w, h)
	}
	l.clearOutside()
}

// clearOutside erases the padding of edge tiles beyond the canvas, which
// is always kept transparent.
func (l *Layer) clearOutside() {
	if rw := l.width % tile.Size; rw != 0 {
		tx := l.xtiles - 1
		for ty := range l.ytiles {
			if t := l.tiles[ty*l.xtiles+tx]; t != nil {
				t.Composite(tile.BlendErase, fullMask(tile.Size-rw, tile.Size), 0, rw, 0, tile.Size-rw, tile.Size, 0)
			}
		}
	}
	if rh := l.height % tile.Size; rh != 0 {
		ty := l.ytiles - 1
		for tx := range l.xtiles {
			if t := l.tiles[ty*l.xtiles+tx]; t != nil {
				t.Composite(tile.BlendErase, fullMask(tile.Size, tile.Size-rh), 0, 0, rh, tile.Size, tile.Size-rh, 0)
			}
		}
	}
}

func fullMask(w, h int) []byte {
	m := make([]byte, w*h)
	for i := range m {
		m[i] = 255
	}
	return m
}

// Dab stamps one brush dab at pt on behalf of drawing context ctxID.
func (l *Layer) Dab(ctxID uint8, b Brush, pt Point) {
	l.StrokeTarget(ctxID, b).directDab(b, pt)
}

// StrokeTarget returns the surface a brush of context ctxID paints onto:
// the layer itself for incremental brushes, else the context's sublayer,
// which is created on demand.
func (l *Layer) StrokeTarget(ctxID uint8, b Brush) *Layer {
	if b.Incremental {
		return l
	}
	return l.sublayer(ctxID, b.Blend, b.Opacity(1))
}

// directDab stamps b at pt onto l itself.
//
// Incremental brushes apply their blend mode and pressure opacity per dab.
// Sublayer dabs accumulate coverage relative to the stroke opacity, which
// the merge applies once, together with the blend mode.
func (l *Layer) directDab(b Brush, pt Point) {
	if b.Incremental {
		l.composite(b.Blend, b.Stamp(pt), b.Color(pt.Pressure))
		return
	}
	op := int(b.Opacity(pt.Pressure))
	if stroke := int(b.Opacity(1)); stroke > 0 {
		op = min(op*255/stroke, 255)
	}
	l.composite(tile.BlendNormal, b.stamp(pt, byte(op)), b.Color(pt.Pressure))
}

// composite stamps a mask onto every tile it overlaps, clipped to the
// canvas.
func (l *Layer) composite(mode tile.BlendMode, m Mask, color uint32) {
	x0, y0 := max(m.X, 0), max(m.Y, 0)
	x1 := min(m.X+m.Dim, l.width)
	y1 := min(m.Y+m.Dim, l.height)
	if x0 >= x1 || y0 >= y1 {
		return
	}

	for ty := y0 / tile.Size; ty <= (y1-1)/tile.Size; ty++ {
		for tx := x0 / tile.Size; tx <= (x1-1)/tile.Size; tx++ {
			tileX, tileY := tx*tile.Size, ty*tile.Size
			rx0, ry0 := max(x0, tileX), max(y0, tileY)
			rx1, ry1 := min(x1, tileX+tile.Size), min(y1, tileY+tile.Size)

			t := l.at(tx, ty, mode != tile.BlendErase)
			if t == nil {
				continue
			}
			w, h := rx1-rx0, ry1-ry0
			off := (ry0-m.Y)*m.Dim + (rx0 - m.X)
			t.Composite(mode, m.Values[off:], color, rx0-tileX, ry0-tileY, w, h, m.Dim-w)
			l.mark(tx, ty)
		}
	}
}

// DrawLine strokes from from to to with dabs spaced by the brush spacing.
//
// No dab is placed at from; the caller stamps the first point of a stroke
// with Dab. sc carries the distance left over from the previous segment,
// so splitting a path into several DrawLine calls yields the same dabs as
// a single call.
func (l *Layer) DrawLine(ctxID uint8, b Brush, from, to Point, sc *StrokeContext) {
	dst := l.StrokeTarget(ctxID, b)
	if b.SubPixel() {
		dst.drawSoftLine(b, from, to, sc)
	} else {
		dst.drawHardLine(b, from, to, sc)
	}
}

// drawHardLine walks the pixels between from and to and dabs every
// hardSpacing steps.
func (l *Layer) drawHardLine(b Brush, from, to Point, sc *StrokeContext) {
	x0, y0 := round(from.X), round(from.Y)
	x1, y1 := round(to.X), round(to.Y)

	dx, dy := abs(x1-x0), abs(y1-y0)
	sx, sy := sign(x1-x0), sign(y1-y0)
	steps := max(dx, dy)
	if steps == 0 {
		return
	}

	dist := int(sc.Distance)
	dp := to.Pressure - from.Pressure
	err := dx - dy
	x, y := x0, y0
	for i := 1; i <= steps; i++ {
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x += sx
		}
		if e2 < dx {
			err += dx
			y += sy
		}
		p := from.Pressure + float64(dp*float64(i))/float64(steps)
		dist++
		if dist >= b.hardSpacing(p) {
			l.directDab(b, Point{X: float64(x), Y: float64(y), Pressure: p})
			dist = 0
		}
	}
	sc.Distance = float64(dist)
}

// drawSoftLine places dabs at exact sub-pixel positions along the segment.
func (l *Layer) drawSoftLine(b Brush, from, to Point, sc *StrokeContext) {
	dx, dy := to.X-from.X, to.Y-from.Y
	length := math.Sqrt(float64(dx*dx) + float64(dy*dy))
	if length == 0 {
		return
	}
	ux, uy := dx/length, dy/length
	dp := to.Pressure - from.Pressure

	dist := sc.Distance
	travelled := 0.0
	for {
		p := from.Pressure + float64(dp*travelled)/length
		need := b.SpacingDistance(p) - dist
		if travelled+need > length {
			dist += length - travelled
			break
		}
		travelled += need
		dist = 0
		pt := Point{
			X:        from.X + float64(ux*travelled),
			Y:        from.Y + float64(uy*travelled),
			Pressure: from.Pressure + float64(dp*travelled)/length,
		}
		l.directDab(b, pt)
	}
	sc.Distance = dist
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}

func sign(i int) int {
	switch {
	case i > 0:
		return 1
	case i < 0:
		return -1
	}
	return 0
}

// Sublayer returns the in-progress stroke layer of a drawing context, or
// nil if the context has none.
func (l *Layer) Sublayer(id uint8) *Layer {
	for _, s := range l.sublayers {
		if s.id == id {
			return s
		}
	}
	return nil
}

// Sublayers returns the pending stroke layers in creation order.
func (l *Layer) Sublayers() []*Layer {
	return l.sublayers
}

func (l *Layer) sublayer(id uint8, blend tile.BlendMode, opacity byte) *Layer {
	if s := l.Sublayer(id); s != nil {
		return s
	}
	s := newSublayer(l, id, blend, opacity)
	l.sublayers = append(l.sublayers, s)
	return s
}

// MergeSublayer folds the stroke layer of context id into l at the
// sublayer's opacity and blend mode, then discards it. Unknown ids are
// ignored.
func (l *Layer) MergeSublayer(id uint8) {
	for i, s := range l.sublayers {
		if s.id != id {
			continue
		}
		l.merge(s)
		s.release()
		l.sublayers = append(l.sublayers[:i], l.sublayers[i+1:]...)
		return
	}
}

// merge composites every tile of src onto l at src's opacity and mode.
func (l *Layer) merge(src *Layer) {
	for i, st := range src.tiles {
		if st == nil || i >= len(l.tiles) {
			continue
		}
		tx, ty := i%l.xtiles, i/l.xtiles
		if l.tiles[i] == nil && src.blend == tile.BlendErase {
			continue
		}
		dt := l.at(tx, ty, true)
		dt.Merge(st, src.opacity, src.blend)
		if dt.IsBlank() {
			dt.Release()
			l.tiles[i] = nil
		}
		l.mark(tx, ty)
	}
}

func (l *Layer) release() {
	for i, t := range l.tiles {
		if t != nil {
			t.Release()
			l.tiles[i] = nil
		}
	}
}

// PutImage composites w x h premultiplied ARGB pixels at canvas (x, y).
// With blend set the pixels are drawn over existing content; otherwise
// they replace it. Pixels outside the canvas are clipped.
func (l *Layer) PutImage(x, y, w, h int, pixels []uint32, blend bool) {
	mode := tile.BlendReplace
	if blend {
		mode = tile.BlendNormal
	}
	x0, y0 := max(x, 0), max(y, 0)
	x1, y1 := min(x+w, l.width), min(y+h, l.height)
	if x0 >= x1 || y0 >= y1 || len(pixels) < w*h {
		return
	}

	for ty := tile.RoundDown(y0) / tile.Size; ty*tile.Size < y1; ty++ {
		for tx := tile.RoundDown(x0) / tile.Size; tx*tile.Size < x1; tx++ {
			tileX, tileY := tx*tile.Size, ty*tile.Size
			rx0, ry0 := max(x0, tileX), max(y0, tileY)
			rx1, ry1 := min(x1, tileX+tile.Size), min(y1, tileY+tile.Size)

			t := l.at(tx, ty, true)
			off := (ry0-y)*w + (rx0 - x)
			t.Blit(mode, pixels[off:], w, rx0-tileX, ry0-tileY, rx1-rx0, ry1-ry0)
			if t.IsBlank() {
				t.Release()
				l.tiles[ty*l.xtiles+tx] = nil
			}
			l.mark(tx, ty)
		}
	}
}

// Optimize releases blank tiles and collapses uniformly colored ones.
func (l *Layer) Optimize() {
	parallel.Default().ForEach(len(l.tiles), func(i int) {
		t := l.tiles[i]
		if t == nil {
			return
		}
		if t.IsBlank() {
			t.Release()
			l.tiles[i] = nil
			return
		}
		t.Collapse()
	})
}

// Image returns the layer's own pixels, without sublayers, as a
// premultiplied RGBA image of the canvas size.
func (l *Layer) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, l.width, l.height))
	for i, t := range l.tiles {
		if t != nil {
			writeTile(img, t, i%l.xtiles, i/l.xtiles)
		}
	}
	return img
}

// writeTile copies a tile into img, clipped to its bounds.
func writeTile(img *image.RGBA, t *tile.Tile, tx, ty int) {
	var buf [tile.Pixels]uint32
	t.CopyTo(buf[:])

	b := img.Bounds()
	for y := range tile.Size {
		py := ty*tile.Size + y
		if py >= b.Max.Y {
			break
		}
		for x := range tile.Size {
			px := tx*tile.Size + x
			if px >= b.Max.X {
				break
			}
			c := buf[y*tile.Size+x]
			o := img.PixOffset(px, py)
			img.Pix[o+0] = byte(c >> 16)
			img.Pix[o+1] = byte(c >> 8)
			img.Pix[o+2] = byte(c)
			img.Pix[o+3] = byte(c >> 24)
		}
	}
}
