package protocol

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrImageSize is returned when decompressed PutImage data does not match
// the declared dimensions.
var ErrImageSize = errors.New("protocol: image data does not match size")

// PutImage flags.
const (
	// PutImageBlend composites the image over existing pixels instead of
	// replacing them.
	PutImageBlend uint8 = 0x01

	// PutImageSublayer writes into the pending stroke of context Ctx on
	// the layer instead of the layer itself. Only snapshots use it.
	PutImageSublayer uint8 = 0x02
)

// PutImage writes a block of pixels into a layer. Image holds W*H
// big-endian premultiplied ARGB values, zlib compressed.
type PutImage struct {
	Ctx   uint8
	Layer uint8
	Flags uint8
	X, Y  uint16
	W, H  uint16
	Image []byte
}

func (PutImage) Type() Type { return TypePutImage }
func (m PutImage) Len() int { return 12 + len(m.Image) }
func (m PutImage) appendPayload(b []byte) []byte {
	b = append(b, m.Ctx, m.Layer, m.Flags)
	for _, v := range [...]uint16{m.X, m.Y, m.W, m.H} {
		b = binary.BigEndian.AppendUint16(b, v)
	}
	return append(b, m.Image...)
}

func decodePutImage(p []byte) (Message, bool) {
	if len(p) < 11 {
		return nil, false
	}
	return PutImage{
		Ctx:   p[0],
		Layer: p[1],
		Flags: p[2],
		X:     binary.BigEndian.Uint16(p[3:]),
		Y:     binary.BigEndian.Uint16(p[5:]),
		W:     binary.BigEndian.Uint16(p[7:]),
		H:     binary.BigEndian.Uint16(p[9:]),
		Image: append([]byte(nil), p[11:]...),
	}, true
}

// NewPutImage compresses w*h premultiplied ARGB pixels into a PutImage.
func NewPutImage(ctx, layer uint8, x, y, w, h int, pixels []uint32, blend bool) (PutImage, error) {
	if w < 0 || h < 0 || len(pixels) != w*h {
		return PutImage{}, fmt.Errorf("%w: %dx%d with %d pixels", ErrImageSize, w, h, len(pixels))
	}
	raw := make([]byte, 0, len(pixels)*4)
	for _, px := range pixels {
		raw = binary.BigEndian.AppendUint32(raw, px)
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return PutImage{}, fmt.Errorf("protocol: compress image: %w", err)
	}
	if err := zw.Close(); err != nil {
		return PutImage{}, fmt.Errorf("protocol: compress image: %w", err)
	}

	m := PutImage{
		Ctx:   ctx,
		Layer: layer,
		X:     uint16(x),
		Y:     uint16(y),
		W:     uint16(w),
		H:     uint16(h),
		Image: buf.Bytes(),
	}
	if blend {
		m.Flags |= PutImageBlend
	}
	return m, nil
}

// Blend reports whether the image is composited over existing pixels.
func (m PutImage) Blend() bool {
	return m.Flags&PutImageBlend != 0
}

// Sublayer reports whether the image targets a pending stroke.
func (m PutImage) Sublayer() bool {
	return m.Flags&PutImageSublayer != 0
}

// Pixels decompresses the image into premultiplied ARGB values. Images
// of more than maxArea pixels are refused before anything is inflated.
func (m PutImage) Pixels(maxArea int) ([]uint32, error) {
	n := int(m.W) * int(m.H)
	if n > maxArea {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrImageSize, m.W, m.H, maxArea)
	}
	zr, err := zlib.NewReader(bytes.NewReader(m.Image))
	if err != nil {
		return nil, fmt.Errorf("protocol: decompress image: %w", err)
	}
	defer zr.Close()

	px := make([]uint32, n)
	buf := make([]byte, 16<<10)
	for i := 0; i < n; {
		k := min(n-i, len(buf)/4)
		if _, err := io.ReadFull(zr, buf[:k*4]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: %dx%d with %d pixels", ErrImageSize, m.W, m.H, i)
			}
			return nil, fmt.Errorf("protocol: decompress image: %w", err)
		}
		for j := range k {
			px[i+j] = binary.BigEndian.Uint32(buf[j*4:])
		}
		i += k
	}
	if extra, _ := zr.Read(buf[:1]); extra > 0 {
		return nil, fmt.Errorf("%w: %dx%d with trailing data", ErrImageSize, m.W, m.H)
	}
	return px, nil
}
