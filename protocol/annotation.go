package protocol

import "encoding/binary"

// AnnotationCreate adds an annotation. A client sends ID 0 and the session
// assigns a free id.
type AnnotationCreate struct {
	Ctx        uint8
	ID         uint8
	X, Y, W, H uint16
}

func (AnnotationCreate) Type() Type { return TypeAnnotationCreate }
func (AnnotationCreate) Len() int   { return 11 }
func (m AnnotationCreate) appendPayload(b []byte) []byte {
	return appendRect(append(b, m.Ctx, m.ID), m.X, m.Y, m.W, m.H)
}

func decodeAnnotationCreate(p []byte) (Message, bool) {
	if len(p) != 10 {
		return nil, false
	}
	m := AnnotationCreate{Ctx: p[0], ID: p[1]}
	m.X, m.Y, m.W, m.H = readRect(p[2:])
	return m, true
}

// AnnotationReshape moves and resizes an annotation.
type AnnotationReshape struct {
	Ctx        uint8
	ID         uint8
	X, Y, W, H uint16
}

func (AnnotationReshape) Type() Type { return TypeAnnotationReshape }
func (AnnotationReshape) Len() int   { return 11 }
func (m AnnotationReshape) appendPayload(b []byte) []byte {
	return appendRect(append(b, m.Ctx, m.ID), m.X, m.Y, m.W, m.H)
}

func decodeAnnotationReshape(p []byte) (Message, bool) {
	if len(p) != 10 {
		return nil, false
	}
	m := AnnotationReshape{Ctx: p[0], ID: p[1]}
	m.X, m.Y, m.W, m.H = readRect(p[2:])
	return m, true
}

// AnnotationEdit replaces the background color and text of an annotation.
type AnnotationEdit struct {
	Ctx        uint8
	ID         uint8
	Background uint32
	Text       string
}

func (AnnotationEdit) Type() Type { return TypeAnnotationEdit }
func (m AnnotationEdit) Len() int { return 7 + len(m.Text) }
func (m AnnotationEdit) appendPayload(b []byte) []byte {
	b = append(b, m.Ctx, m.ID)
	b = binary.BigEndian.AppendUint32(b, m.Background)
	return append(b, m.Text...)
}

func decodeAnnotationEdit(p []byte) (Message, bool) {
	if len(p) < 6 {
		return nil, false
	}
	return AnnotationEdit{
		Ctx:        p[0],
		ID:         p[1],
		Background: binary.BigEndian.Uint32(p[2:]),
		Text:       string(p[6:]),
	}, true
}

// AnnotationDelete removes an annotation.
type AnnotationDelete struct {
	Ctx uint8
	ID  uint8
}

func (AnnotationDelete) Type() Type { return TypeAnnotationDelete }
func (AnnotationDelete) Len() int   { return 3 }
func (m AnnotationDelete) appendPayload(b []byte) []byte {
	return append(b, m.Ctx, m.ID)
}

func decodeAnnotationDelete(p []byte) (Message, bool) {
	if len(p) != 2 {
		return nil, false
	}
	return AnnotationDelete{Ctx: p[0], ID: p[1]}, true
}

func appendRect(b []byte, x, y, w, h uint16) []byte {
	for _, v := range [...]uint16{x, y, w, h} {
		b = binary.BigEndian.AppendUint16(b, v)
	}
	return b
}

func readRect(p []byte) (x, y, w, h uint16) {
	return binary.BigEndian.Uint16(p),
		binary.BigEndian.Uint16(p[2:]),
		binary.BigEndian.Uint16(p[4:]),
		binary.BigEndian.Uint16(p[6:])
}
