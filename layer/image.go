package layer

import (
	"image"

	"golang.org/x/image/draw"
)

// FromImage converts img to premultiplied ARGB pixels suitable for
// Layer.PutImage, returning its width and height.
func FromImage(img image.Image) (w, h int, pixels []uint32) {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return rgbaPixels(rgba)
}

// FromImageScaled converts img to premultiplied ARGB pixels resampled to
// w x h with bilinear filtering.
func FromImageScaled(img image.Image, w, h int) []uint32 {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	_, _, px := rgbaPixels(dst)
	return px
}

func rgbaPixels(img *image.RGBA) (w, h int, pixels []uint32) {
	w, h = img.Rect.Dx(), img.Rect.Dy()
	pixels = make([]uint32, 0, w*h)
	for y := range h {
		row := img.Pix[y*img.Stride:]
		for x := range w {
			p := row[x*4:]
			pixels = append(pixels, uint32(p[3])<<24|uint32(p[0])<<16|uint32(p[1])<<8|uint32(p[2]))
		}
	}
	return w, h, pixels
}
