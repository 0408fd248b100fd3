package protocol

import (
	"encoding/binary"
	"math"
)

// ToolChange mode flags.
const (
	// ToolIncremental makes dabs build up opacity on the layer directly.
	ToolIncremental uint8 = 0x01
)

// ToolChange selects the brush and target layer of a drawing context.
// Hi values apply at full pressure, Lo values at zero pressure. Hardness
// and spacing are percentages; colors are straight-alpha ARGB.
type ToolChange struct {
	Ctx       uint8
	Layer     uint8
	Blend     uint8
	Mode      uint8
	Spacing   uint8
	SizeHi    uint8
	SizeLo    uint8
	HardHi    uint8
	HardLo    uint8
	OpacityHi uint8
	OpacityLo uint8
	ColorHi   uint32
	ColorLo   uint32
}

func (ToolChange) Type() Type { return TypeToolChange }
func (ToolChange) Len() int   { return 20 }
func (m ToolChange) appendPayload(b []byte) []byte {
	b = append(b, m.Ctx, m.Layer, m.Blend, m.Mode, m.Spacing,
		m.SizeHi, m.SizeLo, m.HardHi, m.HardLo, m.OpacityHi, m.OpacityLo)
	b = binary.BigEndian.AppendUint32(b, m.ColorHi)
	return binary.BigEndian.AppendUint32(b, m.ColorLo)
}

// Incremental reports whether the ToolIncremental flag is set.
func (m ToolChange) Incremental() bool {
	return m.Mode&ToolIncremental != 0
}

func decodeToolChange(p []byte) (Message, bool) {
	if len(p) != 19 {
		return nil, false
	}
	return ToolChange{
		Ctx:       p[0],
		Layer:     p[1],
		Blend:     p[2],
		Mode:      p[3],
		Spacing:   p[4],
		SizeHi:    p[5],
		SizeLo:    p[6],
		HardHi:    p[7],
		HardLo:    p[8],
		OpacityHi: p[9],
		OpacityLo: p[10],
		ColorHi:   binary.BigEndian.Uint32(p[11:]),
		ColorLo:   binary.BigEndian.Uint32(p[15:]),
	}, true
}

// PenPoint is one sampled stylus position.
type PenPoint struct {
	X, Y     int16
	Pressure uint8 // 0-255
}

const penPointLen = 5

// PenMove continues the stroke of a context through one or more points.
// The first PenMove after a PenUp starts a new stroke.
type PenMove struct {
	Ctx    uint8
	Points []PenPoint
}

func (PenMove) Type() Type { return TypePenMove }
func (m PenMove) Len() int { return 2 + penPointLen*len(m.Points) }
func (m PenMove) appendPayload(b []byte) []byte {
	b = append(b, m.Ctx)
	for _, pt := range m.Points {
		b = binary.BigEndian.AppendUint16(b, uint16(pt.X))
		b = binary.BigEndian.AppendUint16(b, uint16(pt.Y))
		b = append(b, pt.Pressure)
	}
	return b
}

func decodePenMove(p []byte) (Message, bool) {
	if len(p) < 1+penPointLen || (len(p)-1)%penPointLen != 0 {
		return nil, false
	}
	m := PenMove{Ctx: p[0], Points: make([]PenPoint, (len(p)-1)/penPointLen)}
	for i := range m.Points {
		q := p[1+i*penPointLen:]
		m.Points[i] = PenPoint{
			X:        int16(binary.BigEndian.Uint16(q)),
			Y:        int16(binary.BigEndian.Uint16(q[2:])),
			Pressure: q[4],
		}
	}
	return m, true
}

// PenUp ends the stroke of a context.
type PenUp struct {
	Ctx uint8
}

func (PenUp) Type() Type { return TypePenUp }
func (PenUp) Len() int   { return 2 }
func (m PenUp) appendPayload(b []byte) []byte {
	return append(b, m.Ctx)
}

func decodePenUp(p []byte) (Message, bool) {
	if len(p) != 1 {
		return nil, false
	}
	return PenUp{Ctx: p[0]}, true
}

// StrokeResume restores the state of a stroke in progress: the last pen
// position and the distance carried since the last dab. Snapshots emit it
// so that a replica joining mid-stroke continues the stroke exactly.
type StrokeResume struct {
	Ctx      uint8
	Last     PenPoint
	Distance float64
}

func (StrokeResume) Type() Type { return TypeStrokeResume }
func (StrokeResume) Len() int   { return 15 }
func (m StrokeResume) appendPayload(b []byte) []byte {
	b = append(b, m.Ctx)
	b = binary.BigEndian.AppendUint16(b, uint16(m.Last.X))
	b = binary.BigEndian.AppendUint16(b, uint16(m.Last.Y))
	b = append(b, m.Last.Pressure)
	return binary.BigEndian.AppendUint64(b, math.Float64bits(m.Distance))
}

func decodeStrokeResume(p []byte) (Message, bool) {
	if len(p) != 14 {
		return nil, false
	}
	return StrokeResume{
		Ctx: p[0],
		Last: PenPoint{
			X:        int16(binary.BigEndian.Uint16(p[1:])),
			Y:        int16(binary.BigEndian.Uint16(p[3:])),
			Pressure: p[5],
		},
		Distance: math.Float64frombits(binary.BigEndian.Uint64(p[6:])),
	}, true
}
