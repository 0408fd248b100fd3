// Package protocol encodes and decodes the messages exchanged by canvas
// participants.
//
// A serialized message is one type byte followed by a type-specific
// payload. Fixed-width fields come first and are big-endian; a trailing
// variable-length field (a name, a title, chat text) takes every remaining
// byte, so the transport must preserve message boundaries. Decoding checks
// only structure: a payload whose length does not fit its type is
// rejected as a whole with ErrMalformed. Whether a message is allowed is
// decided by the session.
//
// Message is a closed set. Consumers dispatch with a type switch:
//
//	switch m := msg.(type) {
//	case protocol.PenMove:
//		...
//	case protocol.PenUp:
//		...
//	}
package protocol

import (
	"errors"
	"fmt"
)

// Type identifies a message kind on the wire.
type Type uint8

// Meta messages describe users and the session.
const (
	TypeUserJoin     Type = 1
	TypeUserLeave    Type = 2
	TypeUserAttr     Type = 3
	TypeChat         Type = 4
	TypeSessionTitle Type = 5
	TypeSessionConf  Type = 6
	TypeStreamPos    Type = 7
	TypeLayerLock    Type = 8
	TypeUserKick     Type = 9
)

// Command messages modify the canvas. They are recorded in the history
// and replayed by every participant.
const (
	TypeCanvasResize      Type = 128
	TypeLayerCreate       Type = 129
	TypeLayerAttributes   Type = 130
	TypeLayerRetitle      Type = 131
	TypeLayerOrder        Type = 132
	TypeLayerDelete       Type = 133
	TypePutImage          Type = 134
	TypeToolChange        Type = 135
	TypePenMove           Type = 136
	TypePenUp             Type = 137
	TypeAnnotationCreate  Type = 138
	TypeAnnotationReshape Type = 139
	TypeAnnotationEdit    Type = 140
	TypeAnnotationDelete  Type = 141
	TypeStrokeResume      Type = 142
)

var typeNames = map[Type]string{
	TypeUserJoin:          "UserJoin",
	TypeUserLeave:         "UserLeave",
	TypeUserAttr:          "UserAttr",
	TypeChat:              "Chat",
	TypeSessionTitle:      "SessionTitle",
	TypeSessionConf:       "SessionConf",
	TypeStreamPos:         "StreamPos",
	TypeLayerLock:         "LayerLock",
	TypeUserKick:          "UserKick",
	TypeCanvasResize:      "CanvasResize",
	TypeLayerCreate:       "LayerCreate",
	TypeLayerAttributes:   "LayerAttributes",
	TypeLayerRetitle:      "LayerRetitle",
	TypeLayerOrder:        "LayerOrder",
	TypeLayerDelete:       "LayerDelete",
	TypePutImage:          "PutImage",
	TypeToolChange:        "ToolChange",
	TypePenMove:           "PenMove",
	TypePenUp:             "PenUp",
	TypeAnnotationCreate:  "AnnotationCreate",
	TypeAnnotationReshape: "AnnotationReshape",
	TypeAnnotationEdit:    "AnnotationEdit",
	TypeAnnotationDelete:  "AnnotationDelete",
	TypeStrokeResume:      "StrokeResume",
}

// String returns the message type name.
func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// IsCommand reports whether t modifies the canvas.
func (t Type) IsCommand() bool {
	return t >= 128
}

// Errors returned by Unmarshal.
var (
	// ErrMalformed is returned when a payload does not fit its type.
	ErrMalformed = errors.New("protocol: malformed message")

	// ErrUnknownType is returned for an unassigned type byte.
	ErrUnknownType = errors.New("protocol: unknown message type")

	// ErrEmpty is returned for a zero-length buffer.
	ErrEmpty = errors.New("protocol: empty message")
)

// Message is one protocol message. The set of implementations is closed.
type Message interface {
	// Type returns the wire type code.
	Type() Type

	// Len returns the serialized length including the type byte.
	Len() int

	appendPayload(b []byte) []byte
}

// Append appends the serialized form of m to b.
func Append(b []byte, m Message) []byte {
	b = append(b, byte(m.Type()))
	return m.appendPayload(b)
}

// Marshal returns the serialized form of m.
func Marshal(m Message) []byte {
	return Append(make([]byte, 0, m.Len()), m)
}

// Unmarshal decodes one serialized message. The message does not retain b.
func Unmarshal(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, ErrEmpty
	}
	return UnmarshalPayload(Type(b[0]), b[1:])
}

// UnmarshalPayload decodes the payload of a message of type t.
func UnmarshalPayload(t Type, p []byte) (Message, error) {
	var (
		m  Message
		ok bool
	)
	switch t {
	case TypeUserJoin:
		m, ok = decodeUserJoin(p)
	case TypeUserLeave:
		m, ok = decodeUserLeave(p)
	case TypeUserAttr:
		m, ok = decodeUserAttr(p)
	case TypeChat:
		m, ok = decodeChat(p)
	case TypeSessionTitle:
		m, ok = SessionTitle{Title: string(p)}, true
	case TypeSessionConf:
		m, ok = decodeSessionConf(p)
	case TypeStreamPos:
		m, ok = decodeStreamPos(p)
	case TypeLayerLock:
		m, ok = decodeLayerLock(p)
	case TypeUserKick:
		m, ok = decodeUserKick(p)
	case TypeCanvasResize:
		m, ok = decodeCanvasResize(p)
	case TypeLayerCreate:
		m, ok = decodeLayerCreate(p)
	case TypeLayerAttributes:
		m, ok = decodeLayerAttributes(p)
	case TypeLayerRetitle:
		m, ok = decodeLayerRetitle(p)
	case TypeLayerOrder:
		m, ok = decodeLayerOrder(p)
	case TypeLayerDelete:
		m, ok = decodeLayerDelete(p)
	case TypePutImage:
		m, ok = decodePutImage(p)
	case TypeToolChange:
		m, ok = decodeToolChange(p)
	case TypePenMove:
		m, ok = decodePenMove(p)
	case TypePenUp:
		m, ok = decodePenUp(p)
	case TypeAnnotationCreate:
		m, ok = decodeAnnotationCreate(p)
	case TypeAnnotationReshape:
		m, ok = decodeAnnotationReshape(p)
	case TypeAnnotationEdit:
		m, ok = decodeAnnotationEdit(p)
	case TypeAnnotationDelete:
		m, ok = decodeAnnotationDelete(p)
	case TypeStrokeResume:
		m, ok = decodeStrokeResume(p)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
	}
	if !ok {
		return nil, fmt.Errorf("%w: %v with %d byte payload", ErrMalformed, t, len(p))
	}
	return m, nil
}

// Size returns the total serialized length of msgs.
func Size(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		n += m.Len()
	}
	return n
}
