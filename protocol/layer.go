package protocol

import "encoding/binary"

// CanvasResize sets the canvas size in pixels.
type CanvasResize struct {
	Width  uint16
	Height uint16
}

func (CanvasResize) Type() Type { return TypeCanvasResize }
func (CanvasResize) Len() int   { return 5 }
func (m CanvasResize) appendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, m.Width)
	return binary.BigEndian.AppendUint16(b, m.Height)
}

func decodeCanvasResize(p []byte) (Message, bool) {
	if len(p) != 4 {
		return nil, false
	}
	return CanvasResize{
		Width:  binary.BigEndian.Uint16(p),
		Height: binary.BigEndian.Uint16(p[2:]),
	}, true
}

// LayerCreate adds a layer on top of the stack. A client sends ID 0 and
// the session assigns a free id.
type LayerCreate struct {
	Ctx   uint8
	ID    uint8
	Fill  uint32 // premultiplied ARGB
	Title string
}

func (LayerCreate) Type() Type { return TypeLayerCreate }
func (m LayerCreate) Len() int { return 7 + len(m.Title) }
func (m LayerCreate) appendPayload(b []byte) []byte {
	b = append(b, m.Ctx, m.ID)
	b = binary.BigEndian.AppendUint32(b, m.Fill)
	return append(b, m.Title...)
}

func decodeLayerCreate(p []byte) (Message, bool) {
	if len(p) < 6 {
		return nil, false
	}
	return LayerCreate{
		Ctx:   p[0],
		ID:    p[1],
		Fill:  binary.BigEndian.Uint32(p[2:]),
		Title: string(p[6:]),
	}, true
}

// LayerAttributes sets the opacity and blend mode of a layer.
type LayerAttributes struct {
	Ctx     uint8
	ID      uint8
	Opacity uint8
	Blend   uint8
}

func (LayerAttributes) Type() Type { return TypeLayerAttributes }
func (LayerAttributes) Len() int   { return 5 }
func (m LayerAttributes) appendPayload(b []byte) []byte {
	return append(b, m.Ctx, m.ID, m.Opacity, m.Blend)
}

func decodeLayerAttributes(p []byte) (Message, bool) {
	if len(p) != 4 {
		return nil, false
	}
	return LayerAttributes{Ctx: p[0], ID: p[1], Opacity: p[2], Blend: p[3]}, true
}

// LayerRetitle renames a layer.
type LayerRetitle struct {
	Ctx   uint8
	ID    uint8
	Title string
}

func (LayerRetitle) Type() Type { return TypeLayerRetitle }
func (m LayerRetitle) Len() int { return 3 + len(m.Title) }
func (m LayerRetitle) appendPayload(b []byte) []byte {
	return append(append(b, m.Ctx, m.ID), m.Title...)
}

func decodeLayerRetitle(p []byte) (Message, bool) {
	if len(p) < 2 {
		return nil, false
	}
	return LayerRetitle{Ctx: p[0], ID: p[1], Title: string(p[2:])}, true
}

// LayerOrder lists every layer id from bottom to top.
type LayerOrder struct {
	Ctx   uint8
	Order []uint8
}

func (LayerOrder) Type() Type { return TypeLayerOrder }
func (m LayerOrder) Len() int { return 2 + len(m.Order) }
func (m LayerOrder) appendPayload(b []byte) []byte {
	return append(append(b, m.Ctx), m.Order...)
}

func decodeLayerOrder(p []byte) (Message, bool) {
	if len(p) < 1 {
		return nil, false
	}
	return LayerOrder{Ctx: p[0], Order: append([]uint8(nil), p[1:]...)}, true
}

// LayerDelete removes a layer, optionally merging it into the layer below.
type LayerDelete struct {
	Ctx   uint8
	ID    uint8
	Merge bool
}

func (LayerDelete) Type() Type { return TypeLayerDelete }
func (LayerDelete) Len() int   { return 4 }
func (m LayerDelete) appendPayload(b []byte) []byte {
	return append(b, m.Ctx, m.ID, boolByte(m.Merge))
}

func decodeLayerDelete(p []byte) (Message, bool) {
	if len(p) != 3 {
		return nil, false
	}
	return LayerDelete{Ctx: p[0], ID: p[1], Merge: p[2] != 0}, true
}
