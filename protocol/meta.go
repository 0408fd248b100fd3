package protocol

import "encoding/binary"

// UserJoin announces a participant. Only the session emits it.
type UserJoin struct {
	ID   uint8
	Name string
}

func (UserJoin) Type() Type { return TypeUserJoin }
func (m UserJoin) Len() int { return 2 + len(m.Name) }
func (m UserJoin) appendPayload(b []byte) []byte {
	return append(append(b, m.ID), m.Name...)
}

func decodeUserJoin(p []byte) (Message, bool) {
	if len(p) < 2 {
		return nil, false
	}
	return UserJoin{ID: p[0], Name: string(p[1:])}, true
}

// UserLeave announces that a participant left. Only the session emits it.
type UserLeave struct {
	ID uint8
}

func (UserLeave) Type() Type { return TypeUserLeave }
func (UserLeave) Len() int   { return 2 }
func (m UserLeave) appendPayload(b []byte) []byte {
	return append(b, m.ID)
}

func decodeUserLeave(p []byte) (Message, bool) {
	if len(p) != 1 {
		return nil, false
	}
	return UserLeave{ID: p[0]}, true
}

// User attribute flags carried by UserAttr.
const (
	AttrLocked   uint8 = 0x01
	AttrMuted    uint8 = 0x02
	AttrDeaf     uint8 = 0x04
	AttrOperator uint8 = 0x08
)

// UserAttr sets the attribute flags of a participant.
type UserAttr struct {
	ID    uint8
	Flags uint8
}

func (UserAttr) Type() Type { return TypeUserAttr }
func (UserAttr) Len() int   { return 3 }
func (m UserAttr) appendPayload(b []byte) []byte {
	return append(b, m.ID, m.Flags)
}

// Has reports whether every bit of flag is set.
func (m UserAttr) Has(flag uint8) bool {
	return m.Flags&flag == flag
}

func decodeUserAttr(p []byte) (Message, bool) {
	if len(p) != 2 {
		return nil, false
	}
	return UserAttr{ID: p[0], Flags: p[1]}, true
}

// Chat is a text message from a participant.
type Chat struct {
	ID   uint8
	Text string
}

func (Chat) Type() Type { return TypeChat }
func (m Chat) Len() int { return 2 + len(m.Text) }
func (m Chat) appendPayload(b []byte) []byte {
	return append(append(b, m.ID), m.Text...)
}

func decodeChat(p []byte) (Message, bool) {
	if len(p) < 2 {
		return nil, false
	}
	return Chat{ID: p[0], Text: string(p[1:])}, true
}

// SessionTitle sets the session title. The title may be empty.
type SessionTitle struct {
	Title string
}

func (SessionTitle) Type() Type { return TypeSessionTitle }
func (m SessionTitle) Len() int { return 1 + len(m.Title) }
func (m SessionTitle) appendPayload(b []byte) []byte {
	return append(b, m.Title...)
}

// SessionConf sets the session-wide flags. A locked session accepts
// drawing only from operators; a closed one accepts no new participants.
type SessionConf struct {
	Locked bool
	Closed bool
}

func (SessionConf) Type() Type { return TypeSessionConf }
func (SessionConf) Len() int   { return 3 }
func (m SessionConf) appendPayload(b []byte) []byte {
	return append(b, boolByte(m.Locked), boolByte(m.Closed))
}

func decodeSessionConf(p []byte) (Message, bool) {
	if len(p) != 2 {
		return nil, false
	}
	return SessionConf{Locked: p[0] != 0, Closed: p[1] != 0}, true
}

// StreamPos marks a synchronization point. The session sends it ahead of
// a catch-up sequence with the sequence's byte size; a participant echoes
// it once it has applied the catch-up.
type StreamPos struct {
	Pos uint32
}

func (StreamPos) Type() Type { return TypeStreamPos }
func (StreamPos) Len() int   { return 5 }
func (m StreamPos) appendPayload(b []byte) []byte {
	return binary.BigEndian.AppendUint32(b, m.Pos)
}

func decodeStreamPos(p []byte) (Message, bool) {
	if len(p) != 4 {
		return nil, false
	}
	return StreamPos{Pos: binary.BigEndian.Uint32(p)}, true
}

// LayerLock restricts a participant from drawing on one layer.
// Layer 0 removes the restriction.
type LayerLock struct {
	User  uint8
	Layer uint8
}

func (LayerLock) Type() Type { return TypeLayerLock }
func (LayerLock) Len() int   { return 3 }
func (m LayerLock) appendPayload(b []byte) []byte {
	return append(b, m.User, m.Layer)
}

func decodeLayerLock(p []byte) (Message, bool) {
	if len(p) != 2 {
		return nil, false
	}
	return LayerLock{User: p[0], Layer: p[1]}, true
}

// UserKick asks the session to remove a participant. Only operators may
// send it and it is never recorded: the session answers it with the
// UserLeave of the participant.
type UserKick struct {
	ID uint8
}

func (UserKick) Type() Type { return TypeUserKick }
func (UserKick) Len() int   { return 2 }
func (m UserKick) appendPayload(b []byte) []byte {
	return append(b, m.ID)
}

func decodeUserKick(p []byte) (Message, bool) {
	if len(p) != 1 {
		return nil, false
	}
	return UserKick{ID: p[0]}, true
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
