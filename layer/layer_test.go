package layer

import (
	"testing"

	"github.com/gogpu/paintnet/tile"
)

func hardBrush(radius int, opacity int, incremental bool) Brush {
	return Brush{
		RadiusHi: radius, RadiusLo: radius,
		HardnessHi: 100, HardnessLo: 100,
		OpacityHi: opacity, OpacityLo: opacity,
		ColorHi: 0xFF000000, ColorLo: 0xFF000000,
		Spacing:     50,
		Blend:       tile.BlendNormal,
		Incremental: incremental,
	}
}

func softBrush(incremental bool) Brush {
	return Brush{
		RadiusHi: 4, RadiusLo: 4,
		HardnessHi: 50, HardnessLo: 50,
		OpacityHi: 128, OpacityLo: 128,
		ColorHi: 0xFF2040C0, ColorLo: 0xFF2040C0,
		Spacing:     25,
		Blend:       tile.BlendNormal,
		Incremental: incremental,
	}
}

// sameTile reports whether two tiles hold the same pixels.
func sameTile(a, b *tile.Tile) bool {
	for y := range tile.Size {
		for x := range tile.Size {
			if a.Pixel(x, y) != b.Pixel(x, y) {
				return false
			}
		}
	}
	return true
}

func equalLayers(t *testing.T, a, b *Layer) {
	t.Helper()
	for ty := range a.YTiles() {
		for tx := range a.XTiles() {
			ta, tb := a.Tile(tx, ty), b.Tile(tx, ty)
			switch {
			case ta == nil && tb == nil:
			case ta == nil || tb == nil:
				t.Fatalf("tile (%d,%d): one layer blank, other not", tx, ty)
			case !sameTile(ta, tb):
				t.Fatalf("tile (%d,%d) differs", tx, ty)
			}
		}
	}
}

func TestLayer_New(t *testing.T) {
	l := New(3, "bg", 130, 64, 0xFFFFFFFF)
	if l.XTiles() != 3 || l.YTiles() != 1 {
		t.Fatalf("grid = %dx%d, want 3x1", l.XTiles(), l.YTiles())
	}
	if l.ColorAt(129, 63) != 0xFFFFFFFF {
		t.Error("ColorAt inside canvas is not the fill color")
	}
	if got := l.Tile(2, 0).Pixel(2, 0); got != 0 {
		t.Errorf("padding pixel = %#08x, want transparent", got)
	}
	if l.ColorAt(130, 0) != 0 || l.ColorAt(-1, 0) != 0 {
		t.Error("ColorAt outside canvas is not transparent")
	}
	if !l.Visible() {
		t.Error("new layer not visible")
	}
	l.SetHidden(true)
	if l.Visible() {
		t.Error("hidden layer visible")
	}
	l.SetHidden(false)
	l.SetAttributes(0, tile.BlendMultiply)
	if l.Visible() {
		t.Error("zero opacity layer visible")
	}
}

func TestLayer_SingleDab(t *testing.T) {
	for _, incremental := range []bool{true, false} {
		l := New(1, "", 128, 128, 0)
		l.Dab(1, hardBrush(0, 255, incremental), Point{X: 10, Y: 10, Pressure: 1})
		if !incremental {
			if l.Tile(0, 0) != nil {
				t.Fatal("stroke visible on the layer before merge")
			}
			if l.Sublayer(1) == nil {
				t.Fatal("Sublayer(1) = nil during stroke")
			}
			l.MergeSublayer(1)
			if l.Sublayer(1) != nil {
				t.Fatal("sublayer kept after merge")
			}
		}

		tl := l.Tile(0, 0)
		if tl == nil {
			t.Fatalf("incremental=%v: tile (0,0) blank", incremental)
		}
		for y := range tile.Size {
			for x := range tile.Size {
				want := uint32(0)
				if x == 10 && y == 10 {
					want = 0xFF000000
				}
				if got := tl.Pixel(x, y); got != want {
					t.Fatalf("incremental=%v: pixel (%d,%d) = %#08x, want %#08x", incremental, x, y, got, want)
				}
			}
		}
		for _, p := range [][2]int{{1, 0}, {0, 1}, {1, 1}} {
			if l.Tile(p[0], p[1]) != nil {
				t.Errorf("tile %v allocated", p)
			}
		}
	}
}

func TestLayer_DabClipsToCanvas(t *testing.T) {
	l := New(1, "", 100, 100, 0)
	b := hardBrush(5, 255, true)
	l.Dab(1, b, Point{X: -2, Y: 99, Pressure: 1})
	l.Dab(1, b, Point{X: 99, Y: 50, Pressure: 1})
	l.Dab(1, b, Point{X: 500, Y: 500, Pressure: 1})

	if l.ColorAt(0, 99) != 0xFF000000 {
		t.Error("visible part of clipped dab missing")
	}
	if got := l.Tile(1, 0).Pixel(100-64, 50); got != 0 {
		t.Errorf("padding painted: %#08x", got)
	}
}

func TestLayer_StrokeDistanceCarry(t *testing.T) {
	tests := []struct {
		name       string
		b          Brush
		a, mid, to Point
	}{
		{
			name: "hard",
			b:    hardBrush(2, 128, true),
			a:    Point{X: 10, Y: 10, Pressure: 1},
			mid:  Point{X: 21, Y: 10, Pressure: 1},
			to:   Point{X: 40, Y: 10, Pressure: 1},
		},
		{
			name: "hard diagonal sublayer",
			b:    hardBrush(3, 200, false),
			a:    Point{X: 5, Y: 5, Pressure: 1},
			mid:  Point{X: 30, Y: 30, Pressure: 1},
			to:   Point{X: 90, Y: 90, Pressure: 1},
		},
		{
			name: "soft",
			b:    softBrush(true),
			a:    Point{X: 10.25, Y: 20.5, Pressure: 1},
			mid:  Point{X: 20.25, Y: 20.5, Pressure: 1},
			to:   Point{X: 60.25, Y: 20.5, Pressure: 1},
		},
		{
			name: "soft uneven split",
			b:    softBrush(false),
			a:    Point{X: 10.25, Y: 70.5, Pressure: 1},
			mid:  Point{X: 21.25, Y: 70.5, Pressure: 1},
			to:   Point{X: 66.25, Y: 70.5, Pressure: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			whole := New(1, "", 128, 128, 0)
			var sc StrokeContext
			whole.Dab(1, tt.b, tt.a)
			whole.DrawLine(1, tt.b, tt.a, tt.to, &sc)
			whole.MergeSublayer(1)

			split := New(1, "", 128, 128, 0)
			var sc2 StrokeContext
			split.Dab(1, tt.b, tt.a)
			split.DrawLine(1, tt.b, tt.a, tt.mid, &sc2)
			split.DrawLine(1, tt.b, tt.mid, tt.to, &sc2)
			split.MergeSublayer(1)

			if sc.Distance != sc2.Distance {
				t.Errorf("carried distance %v, want %v", sc2.Distance, sc.Distance)
			}
			equalLayers(t, whole, split)
		})
	}
}

func TestLayer_DrawLineWithoutCarryDiffers(t *testing.T) {
	b := hardBrush(3, 128, true)
	a, mid, to := Point{X: 10, Y: 10, Pressure: 1}, Point{X: 13, Y: 10, Pressure: 1}, Point{X: 40, Y: 10, Pressure: 1}

	whole := New(1, "", 64, 64, 0)
	whole.DrawLine(1, b, a, to, &StrokeContext{})

	split := New(1, "", 64, 64, 0)
	split.DrawLine(1, b, a, mid, &StrokeContext{})
	split.DrawLine(1, b, mid, to, &StrokeContext{})

	if sameTile(whole.Tile(0, 0), split.Tile(0, 0)) {
		t.Error("dropping the carried distance did not change the stroke")
	}
}

func TestLayer_ConcurrentSublayers(t *testing.T) {
	l := New(1, "", 64, 64, 0)
	red := hardBrush(0, 255, false)
	red.ColorHi, red.ColorLo = 0xFFFF0000, 0xFFFF0000
	blue := hardBrush(0, 255, false)
	blue.ColorHi, blue.ColorLo = 0xFF0000FF, 0xFF0000FF

	l.Dab(1, red, Point{X: 5, Y: 5, Pressure: 1})
	l.Dab(2, blue, Point{X: 5, Y: 5, Pressure: 1})
	if len(l.Sublayers()) != 2 {
		t.Fatalf("len(Sublayers()) = %d, want 2", len(l.Sublayers()))
	}

	l.MergeSublayer(2)
	if got := l.ColorAt(5, 5); got != 0xFF0000FF {
		t.Errorf("after first merge = %#08x, want blue", got)
	}
	l.MergeSublayer(1)
	if got := l.ColorAt(5, 5); got != 0xFFFF0000 {
		t.Errorf("after second merge = %#08x, want red", got)
	}
}

func TestLayer_UnknownSublayer(t *testing.T) {
	l := New(1, "", 64, 64, 0)
	if l.Sublayer(42) != nil {
		t.Error("Sublayer(42) != nil")
	}
	l.MergeSublayer(42)
	if l.Tile(0, 0) != nil {
		t.Error("merging an unknown sublayer touched the layer")
	}
}

func TestLayer_StrokeOpacityAppliedOnce(t *testing.T) {
	b := hardBrush(3, 128, false)
	l := New(1, "", 64, 64, 0)
	l.Dab(1, b, Point{X: 20, Y: 20, Pressure: 1})
	l.Dab(1, b, Point{X: 21, Y: 20, Pressure: 1})
	l.MergeSublayer(1)

	if got := l.ColorAt(20, 20) >> 24; got != 128 {
		t.Errorf("overlapping dab alpha = %d, want 128", got)
	}
}

func TestLayer_EraseStroke(t *testing.T) {
	l := New(1, "", 64, 64, 0xFFFFFFFF)
	b := hardBrush(0, 255, false)
	b.Blend = tile.BlendErase
	l.Dab(1, b, Point{X: 3, Y: 3, Pressure: 1})
	l.MergeSublayer(1)

	if got := l.ColorAt(3, 3); got != 0 {
		t.Errorf("erased pixel = %#08x, want 0", got)
	}
	if got := l.ColorAt(4, 3); got != 0xFFFFFFFF {
		t.Errorf("neighbour = %#08x, want white", got)
	}
}

func TestLayer_PutImage(t *testing.T) {
	l := New(1, "", 100, 100, 0xFF000000)
	px := make([]uint32, 70*2)
	for i := range px {
		px[i] = 0xFFFF0000
	}
	px[0] = 0

	t.Run("replace", func(t *testing.T) {
		l.PutImage(60, 98, 70, 2, px, false)
		if got := l.ColorAt(60, 98); got != 0 {
			t.Errorf("ColorAt(60,98) = %#08x, want transparent", got)
		}
		if got := l.ColorAt(99, 99); got != 0xFFFF0000 {
			t.Errorf("ColorAt(99,99) = %#08x, want red", got)
		}
		if got := l.ColorAt(59, 98); got != 0xFF000000 {
			t.Errorf("ColorAt(59,98) = %#08x, want black", got)
		}
	})

	t.Run("blend", func(t *testing.T) {
		l.PutImage(0, 0, 2, 1, []uint32{0, 0x80800000}, true)
		if got := l.ColorAt(0, 0); got != 0xFF000000 {
			t.Errorf("transparent source changed pixel: %#08x", got)
		}
		if got := l.ColorAt(1, 0); got != 0xFF800000 {
			t.Errorf("ColorAt(1,0) = %#08x, want 0xff800000", got)
		}
	})
}

func TestLayer_Optimize(t *testing.T) {
	l := New(1, "", 128, 64, 0)
	l.PutImage(0, 0, 1, 1, []uint32{0xFF00FF00}, false)
	l.PutImage(0, 0, 1, 1, []uint32{0}, false)
	l.Fill(0)
	l.PutImage(64, 0, 1, 1, []uint32{0}, false)
	l.Dab(1, hardBrush(0, 255, true), Point{X: 70, Y: 5, Pressure: 1})
	l.Dab(1, Brush{OpacityHi: 255, OpacityLo: 255, Blend: tile.BlendErase, Incremental: true}, Point{X: 70, Y: 5, Pressure: 1})

	if l.Tile(1, 0) == nil {
		t.Fatal("expected a materialized blank tile before Optimize")
	}
	l.Optimize()
	if l.Tile(1, 0) != nil {
		t.Error("Optimize() kept a blank tile")
	}

	l.Fill(0xFF123456)
	l.Dab(1, hardBrush(0, 255, true), Point{X: 1, Y: 1, Pressure: 1})
	l.Dab(1, Brush{OpacityHi: 255, OpacityLo: 255, ColorHi: 0x123456, ColorLo: 0x123456, Blend: tile.BlendReplace, Incremental: true}, Point{X: 1, Y: 1, Pressure: 1})
	l.Optimize()
	if c, ok := l.Tile(0, 0).Solid(); !ok || c != 0xFF123456 {
		t.Errorf("Solid() = %#08x, %v; want collapsed fill", c, ok)
	}
}

func TestLayer_Resize(t *testing.T) {
	l := New(1, "", 128, 128, 0)
	l.Dab(1, hardBrush(0, 255, true), Point{X: 100, Y: 10, Pressure: 1})
	l.Dab(1, hardBrush(0, 255, true), Point{X: 10, Y: 10, Pressure: 1})

	l.Resize(80, 64)
	if l.XTiles() != 2 || l.YTiles() != 1 {
		t.Fatalf("grid = %dx%d, want 2x1", l.XTiles(), l.YTiles())
	}
	if l.ColorAt(10, 10) != 0xFF000000 {
		t.Error("content inside new bounds lost")
	}

	l.Resize(128, 128)
	if got := l.ColorAt(100, 10); got != 0 {
		t.Errorf("content cropped by shrink reappeared: %#08x", got)
	}
}

func TestLayer_Image(t *testing.T) {
	l := New(1, "", 70, 3, 0)
	l.PutImage(65, 2, 1, 1, []uint32{0x80402010}, false)
	img := l.Image()
	if img.Bounds().Dx() != 70 || img.Bounds().Dy() != 3 {
		t.Fatalf("bounds = %v", img.Bounds())
	}
	o := img.PixOffset(65, 2)
	if got := img.Pix[o : o+4]; got[0] != 0x40 || got[1] != 0x20 || got[2] != 0x10 || got[3] != 0x80 {
		t.Errorf("pixel = %v, want [64 32 16 128]", got)
	}
}
