package layer

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/gogpu/paintnet/internal/parallel"
	"github.com/gogpu/paintnet/tile"
)

func TestStack_CreateLayer(t *testing.T) {
	s := NewStack(128, 128)
	if _, err := s.CreateLayer(1, 0xFFFFFFFF, "Background"); err != nil {
		t.Fatalf("CreateLayer() error = %v", err)
	}
	if _, err := s.CreateLayer(1, 0, "dup"); !errors.Is(err, ErrLayerExists) {
		t.Errorf("duplicate CreateLayer() error = %v, want ErrLayerExists", err)
	}
	l := s.Layer(1)
	if l == nil || l.Title() != "Background" || l.Width() != 128 {
		t.Fatalf("Layer(1) = %+v", l)
	}
	if s.Layer(2) != nil {
		t.Error("Layer(2) != nil")
	}
}

func TestStack_DeleteLayer(t *testing.T) {
	s := NewStack(64, 64)
	s.CreateLayer(1, 0xFFFFFFFF, "bottom")
	top, _ := s.CreateLayer(2, 0, "top")
	top.Dab(0, hardBrush(0, 255, true), Point{X: 5, Y: 5, Pressure: 1})
	top.SetAttributes(128, tile.BlendNormal)

	if err := s.DeleteLayer(9, false); !errors.Is(err, ErrNoLayer) {
		t.Errorf("DeleteLayer(9) error = %v, want ErrNoLayer", err)
	}
	if err := s.DeleteLayer(2, true); err != nil {
		t.Fatalf("DeleteLayer(2, merge) error = %v", err)
	}
	if s.LayerCount() != 1 {
		t.Fatalf("LayerCount() = %d, want 1", s.LayerCount())
	}
	if got := s.Layer(1).ColorAt(5, 5); got != 0xFF7F7F7F {
		t.Errorf("merged pixel = %#08x, want 0xff7f7f7f", got)
	}

	if err := s.DeleteLayer(1, true); err != nil {
		t.Fatalf("DeleteLayer(bottom, merge) error = %v", err)
	}
	if s.LayerCount() != 0 {
		t.Error("bottom layer not deleted")
	}
}

func TestStack_Reorder(t *testing.T) {
	s := NewStack(64, 64)
	for id := uint8(1); id <= 3; id++ {
		s.CreateLayer(id, 0, "")
	}

	tests := []struct {
		name string
		ids  []uint8
		ok   bool
	}{
		{"permutation", []uint8{3, 1, 2}, true},
		{"missing layer", []uint8{3, 1}, false},
		{"duplicate", []uint8{3, 3, 1}, false},
		{"unknown", []uint8{3, 1, 7}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := s.Layers()
			err := s.Reorder(tt.ids)
			if tt.ok {
				if err != nil {
					t.Fatalf("Reorder() error = %v", err)
				}
				for i, l := range s.Layers() {
					if l.ID() != tt.ids[i] {
						t.Errorf("Layers()[%d].ID() = %d, want %d", i, l.ID(), tt.ids[i])
					}
				}
				return
			}
			if !errors.Is(err, ErrBadOrder) {
				t.Errorf("Reorder() error = %v, want ErrBadOrder", err)
			}
			for i, l := range s.Layers() {
				if l != before[i] {
					t.Error("failed Reorder() changed the stack")
				}
			}
		})
	}
}

func TestStack_Annotations(t *testing.T) {
	s := NewStack(64, 64)
	if err := s.AddAnnotation(Annotation{ID: 1, X: 1, Y: 2, W: 30, H: 10}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddAnnotation(Annotation{ID: 1}); !errors.Is(err, ErrAnnotationExists) {
		t.Errorf("duplicate AddAnnotation() error = %v", err)
	}
	if err := s.ReshapeAnnotation(1, 5, 6, 7, 8); err != nil {
		t.Fatal(err)
	}
	if err := s.EditAnnotation(1, 0xFFFFFF00, "hello"); err != nil {
		t.Fatal(err)
	}
	a, ok := s.Annotation(1)
	want := Annotation{ID: 1, X: 5, Y: 6, W: 7, H: 8, Background: 0xFFFFFF00, Text: "hello"}
	if !ok || a != want {
		t.Errorf("Annotation(1) = %+v, want %+v", a, want)
	}

	for _, err := range []error{
		s.ReshapeAnnotation(2, 0, 0, 0, 0),
		s.EditAnnotation(2, 0, ""),
		s.DeleteAnnotation(2),
	} {
		if !errors.Is(err, ErrNoAnnotation) {
			t.Errorf("error = %v, want ErrNoAnnotation", err)
		}
	}
	if err := s.DeleteAnnotation(1); err != nil {
		t.Fatal(err)
	}
	if len(s.Annotations()) != 0 {
		t.Error("annotation not deleted")
	}
}

func TestStack_Flatten(t *testing.T) {
	s := NewStack(100, 70)
	pool := parallel.NewWorkerPool(2)
	defer pool.Close()
	s.SetPool(pool)

	s.CreateLayer(1, 0xFFFFFFFF, "bg")
	fg, _ := s.CreateLayer(2, 0, "fg")
	fg.Dab(0, hardBrush(0, 255, true), Point{X: 80, Y: 65, Pressure: 1})
	fg.Dab(3, hardBrush(0, 255, false), Point{X: 1, Y: 1, Pressure: 1}) // pending stroke

	img := s.Flatten()
	if img.Bounds() != image.Rect(0, 0, 100, 70) {
		t.Fatalf("Bounds() = %v", img.Bounds())
	}
	tests := []struct {
		x, y int
		want color.RGBA
	}{
		{0, 0, color.RGBA{255, 255, 255, 255}},
		{80, 65, color.RGBA{0, 0, 0, 255}},
		{1, 1, color.RGBA{0, 0, 0, 255}},
	}
	for _, tt := range tests {
		if got := img.RGBAAt(tt.x, tt.y); got != tt.want {
			t.Errorf("RGBAAt(%d,%d) = %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}

	fg.SetHidden(true)
	if got := s.Flatten().RGBAAt(80, 65); got != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("hidden layer visible in Flatten(): %v", got)
	}
	if s.FlattenTile(0, 0) == nil {
		t.Error("FlattenTile(0,0) = nil for an opaque background")
	}
}

func TestStack_TakeDirty(t *testing.T) {
	s := NewStack(256, 128)
	s.CreateLayer(1, 0, "")
	s.TakeDirty()

	l := s.Layer(1)
	l.Dab(0, hardBrush(0, 255, true), Point{X: 130, Y: 70, Pressure: 1})
	l.Dab(0, hardBrush(2, 255, true), Point{X: 63, Y: 1, Pressure: 1})

	got := s.TakeDirty()
	want := [][2]int{{0, 0}, {1, 0}, {2, 1}}
	if len(got) != len(want) {
		t.Fatalf("TakeDirty() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("TakeDirty()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if len(s.TakeDirty()) != 0 {
		t.Error("second TakeDirty() not empty")
	}
}

func TestStack_Resize(t *testing.T) {
	s := NewStack(64, 64)
	l, _ := s.CreateLayer(1, 0xFF000000, "")
	s.Resize(200, 100)
	if l.Width() != 200 || l.Height() != 100 || l.XTiles() != 4 {
		t.Errorf("layer size = %dx%d (%d tiles wide)", l.Width(), l.Height(), l.XTiles())
	}
	if l.ColorAt(150, 50) != 0 {
		t.Error("grown area not transparent")
	}
	if l.ColorAt(10, 10) != 0xFF000000 {
		t.Error("content lost on grow")
	}
}

func TestFromImage(t *testing.T) {
	src := image.NewNRGBA(image.Rect(5, 5, 7, 6))
	src.SetNRGBA(5, 5, color.NRGBA{255, 0, 0, 255})
	src.SetNRGBA(6, 5, color.NRGBA{255, 255, 255, 128})

	w, h, px := FromImage(src)
	if w != 2 || h != 1 {
		t.Fatalf("size = %dx%d, want 2x1", w, h)
	}
	if px[0] != 0xFFFF0000 {
		t.Errorf("px[0] = %#08x, want 0xffff0000", px[0])
	}
	if px[1] != 0x80808080 {
		t.Errorf("px[1] = %#08x, want premultiplied 0x80808080", px[1])
	}

	blue := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := 0; i < len(blue.Pix); i += 4 {
		blue.Pix[i+2], blue.Pix[i+3] = 255, 255
	}
	scaled := FromImageScaled(blue, 4, 4)
	if len(scaled) != 16 || scaled[15] != 0xFF0000FF {
		t.Errorf("FromImageScaled() = %v", scaled)
	}
}
