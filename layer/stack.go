package layer

import (
	"errors"
	"fmt"
	"image"
	"slices"

	"github.com/gogpu/paintnet/internal/parallel"
	"github.com/gogpu/paintnet/tile"
)

// Stack errors.
var (
	// ErrLayerExists is returned when creating a layer with a taken id.
	ErrLayerExists = errors.New("layer: layer id already in use")

	// ErrNoLayer is returned when a layer id does not exist.
	ErrNoLayer = errors.New("layer: no such layer")

	// ErrBadOrder is returned when a reorder list is not a permutation
	// of the existing layer ids.
	ErrBadOrder = errors.New("layer: invalid layer order")

	// ErrAnnotationExists is returned when creating an annotation with a
	// taken id.
	ErrAnnotationExists = errors.New("layer: annotation id already in use")

	// ErrNoAnnotation is returned when an annotation id does not exist.
	ErrNoAnnotation = errors.New("layer: no such annotation")
)

// Annotation is a text box floating above the layers.
type Annotation struct {
	ID         uint8
	X, Y       int
	W, H       int
	Background uint32 // straight-alpha ARGB
	Text       string
}

// Stack is the ordered set of layers forming a canvas.
//
// Index 0 is the bottom layer. Layer ids are unique and never change,
// including when layers are reordered. Every mutation marks the affected
// tiles dirty; TakeDirty collects them for redraw notifications.
//
// Thread safety: Stack is NOT safe for concurrent use. A session applies
// messages to its stack from a single goroutine.
type Stack struct {
	width, height int
	layers        []*Layer
	annotations   []Annotation
	dirty         *parallel.DirtyRegion
	pool          *parallel.WorkerPool
}

// NewStack creates an empty w x h canvas.
func NewStack(w, h int) *Stack {
	s := &Stack{pool: parallel.Default()}
	s.setSize(w, h)
	return s
}

// SetPool sets the worker pool used by Flatten. A nil pool restores the
// process-wide default.
func (s *Stack) SetPool(p *parallel.WorkerPool) {
	if p == nil {
		p = parallel.Default()
	}
	s.pool = p
}

func (s *Stack) setSize(w, h int) {
	s.width, s.height = max(w, 0), max(h, 0)
	s.dirty = parallel.NewDirtyRegion(tile.RoundUp(s.width)/tile.Size, tile.RoundUp(s.height)/tile.Size)
	s.dirty.MarkAll()
}

// Width returns the canvas width in pixels.
func (s *Stack) Width() int { return s.width }

// Height returns the canvas height in pixels.
func (s *Stack) Height() int { return s.height }

// Resize changes the canvas size of every layer, anchored at the top-left.
func (s *Stack) Resize(w, h int) {
	s.setSize(w, h)
	for _, l := range s.layers {
		l.Resize(s.width, s.height)
	}
}

// CreateLayer adds a layer on top of the stack.
func (s *Stack) CreateLayer(id uint8, fill uint32, title string) (*Layer, error) {
	if s.Layer(id) != nil {
		return nil, fmt.Errorf("%w: %d", ErrLayerExists, id)
	}
	l := New(id, title, s.width, s.height, fill)
	l.owner = s
	s.layers = append(s.layers, l)
	s.dirty.MarkAll()
	return l, nil
}

// DeleteLayer removes a layer. With mergeDown set, the layer is first
// composited onto the layer below it at its own opacity and blend mode;
// the bottom layer has nothing to merge into.
func (s *Stack) DeleteLayer(id uint8, mergeDown bool) error {
	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrNoLayer, id)
	}
	l := s.layers[i]
	if mergeDown && i > 0 {
		s.layers[i-1].merge(l)
	}
	for _, sub := range l.sublayers {
		sub.release()
	}
	l.release()
	s.layers = slices.Delete(s.layers, i, i+1)
	s.dirty.MarkAll()
	return nil
}

// Reorder arranges the layers bottom to top in the order of ids, which
// must name every layer exactly once.
func (s *Stack) Reorder(ids []uint8) error {
	if len(ids) != len(s.layers) {
		return ErrBadOrder
	}
	next := make([]*Layer, 0, len(ids))
	for _, id := range ids {
		l := s.Layer(id)
		if l == nil || slices.Contains(next, l) {
			return ErrBadOrder
		}
		next = append(next, l)
	}
	s.layers = next
	s.dirty.MarkAll()
	return nil
}

// Layer returns the layer with the given id, or nil.
func (s *Stack) Layer(id uint8) *Layer {
	if i := s.indexOf(id); i >= 0 {
		return s.layers[i]
	}
	return nil
}

func (s *Stack) indexOf(id uint8) int {
	return slices.IndexFunc(s.layers, func(l *Layer) bool { return l.id == id })
}

// Layers returns the layers bottom to top. The slice is a copy.
func (s *Stack) Layers() []*Layer {
	return slices.Clone(s.layers)
}

// LayerCount returns the number of layers.
func (s *Stack) LayerCount() int {
	return len(s.layers)
}

// AddAnnotation creates an annotation.
func (s *Stack) AddAnnotation(a Annotation) error {
	if s.annotationIndex(a.ID) >= 0 {
		return fmt.Errorf("%w: %d", ErrAnnotationExists, a.ID)
	}
	s.annotations = append(s.annotations, a)
	return nil
}

// ReshapeAnnotation moves and resizes an annotation.
func (s *Stack) ReshapeAnnotation(id uint8, x, y, w, h int) error {
	i := s.annotationIndex(id)
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrNoAnnotation, id)
	}
	a := &s.annotations[i]
	a.X, a.Y, a.W, a.H = x, y, w, h
	return nil
}

// EditAnnotation changes the background and text of an annotation.
func (s *Stack) EditAnnotation(id uint8, bg uint32, text string) error {
	i := s.annotationIndex(id)
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrNoAnnotation, id)
	}
	s.annotations[i].Background = bg
	s.annotations[i].Text = text
	return nil
}

// DeleteAnnotation removes an annotation.
func (s *Stack) DeleteAnnotation(id uint8) error {
	i := s.annotationIndex(id)
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrNoAnnotation, id)
	}
	s.annotations = slices.Delete(s.annotations, i, i+1)
	return nil
}

// Annotation returns the annotation with the given id.
func (s *Stack) Annotation(id uint8) (Annotation, bool) {
	if i := s.annotationIndex(id); i >= 0 {
		return s.annotations[i], true
	}
	return Annotation{}, false
}

// Annotations returns all annotations in creation order. The slice is a
// copy.
func (s *Stack) Annotations() []Annotation {
	return slices.Clone(s.annotations)
}

func (s *Stack) annotationIndex(id uint8) int {
	return slices.IndexFunc(s.annotations, func(a Annotation) bool { return a.ID == id })
}

// TakeDirty returns the tiles changed since the last call, as tile grid
// coordinates in row-major order.
func (s *Stack) TakeDirty() [][2]int {
	return s.dirty.Take()
}

// Flatten composites all visible layers, including pending strokes, into
// one premultiplied RGBA image. Tiles are composited in parallel.
func (s *Stack) Flatten() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	xt := tile.RoundUp(s.width) / tile.Size
	yt := tile.RoundUp(s.height) / tile.Size

	s.pool.ForEach(xt*yt, func(i int) {
		tx, ty := i%xt, i/xt
		if out := s.FlattenTile(tx, ty); out != nil {
			writeTile(img, out, tx, ty)
			out.Release()
		}
	})
	return img
}

// FlattenTile composites the visible layers at one tile position.
// It returns nil when the result is blank.
func (s *Stack) FlattenTile(tx, ty int) *tile.Tile {
	out := tile.New(tx, ty, 0)
	for _, l := range s.layers {
		if !l.Visible() {
			continue
		}
		src := l.Tile(tx, ty)
		if len(l.sublayers) > 0 {
			var tmp *tile.Tile
			if src != nil {
				tmp = src.Clone()
			} else {
				tmp = tile.New(tx, ty, 0)
			}
			for _, sub := range l.sublayers {
				if st := sub.Tile(tx, ty); st != nil {
					tmp.Merge(st, sub.opacity, sub.blend)
				}
			}
			out.Merge(tmp, l.opacity, l.blend)
			tmp.Release()
			continue
		}
		if src != nil {
			out.Merge(src, l.opacity, l.blend)
		}
	}
	if out.IsBlank() {
		out.Release()
		return nil
	}
	return out
}
