package tile

import (
	"encoding/binary"
	"errors"
)

// ErrShortBuffer is returned when a serialized tile is truncated.
var ErrShortBuffer = errors.New("tile: short buffer")

// AppendBytes appends the pixels of t as big-endian ARGB values.
func (t *Tile) AppendBytes(b []byte) []byte {
	for i := range Pixels {
		b = binary.BigEndian.AppendUint32(b, t.at(i))
	}
	return b
}

// FromBytes creates a tile at (x, y) from Bytes bytes of big-endian ARGB.
// The result is collapsed when every pixel is identical.
func FromBytes(x, y int, b []byte) (*Tile, error) {
	if len(b) < Bytes {
		return nil, ErrShortBuffer
	}
	t := &Tile{X: x, Y: y, data: getBuffer()}
	for i := range Pixels {
		t.data[i] = binary.BigEndian.Uint32(b[i*4:])
	}
	t.Collapse()
	return t, nil
}
