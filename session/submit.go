package session

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/gogpu/paintnet/protocol"
)

// Submit validates a message from participant id and, if accepted,
// appends it to the history and relays it to every participant.
//
// Context ids in drawing commands are overwritten with the sender's id and
// id 0 in LayerCreate and AnnotationCreate is replaced by a free id. A
// refused message is dropped: it never reaches the history, the sender's
// Peer.Reject is called and the returned error wraps ErrRejected.
// A ToolChange equal to the sender's current tool is accepted but not
// relayed.
func (a *Authority) Submit(ctx context.Context, id uint8, msg protocol.Message) error {
	u := a.users[id]
	if u == nil {
		return fmt.Errorf("%w: %d", ErrNoUser, id)
	}

	switch m := msg.(type) {
	case protocol.StreamPos:
		if u.SyncWait {
			u.SyncWait = false
			a.log.Debug("session: user synchronized", "user", id, "pos", m.Pos)
		}
		return nil
	case protocol.UserJoin, protocol.UserLeave, protocol.StrokeResume:
		return a.reject(u, msg, "reserved for the session")
	case protocol.Chat:
		if u.Muted {
			return a.reject(u, msg, "user is muted")
		}
		if m.Text == "" {
			return a.reject(u, msg, "empty message")
		}
		m.ID = id
		a.commit(ctx, id, m)
		return nil
	}

	if operatorOnly(msg.Type()) && !u.Operator {
		return a.reject(u, msg, "operator only")
	}
	switch m := msg.(type) {
	case protocol.SessionTitle:
		m.Title = normalize(m.Title)
		msg = m
	case protocol.UserAttr:
		if a.users[m.ID] == nil {
			return a.reject(u, msg, "no such user")
		}
	case protocol.LayerLock:
		if a.users[m.User] == nil {
			return a.reject(u, msg, "no such user")
		}
	case protocol.UserKick:
		switch {
		case a.users[m.ID] == nil:
			return a.reject(u, msg, "no such user")
		case m.ID == id:
			return a.reject(u, msg, "cannot kick oneself")
		}
		return a.Kick(ctx, m.ID)
	}

	if msg.Type().IsCommand() {
		var err error
		if msg, err = a.admitCommand(u, msg); err != nil {
			return err
		}
		if msg == nil {
			return nil
		}
	}

	switch m := msg.(type) {
	case protocol.UserAttr:
		a.users[m.ID].setFlags(m.Flags)
	case protocol.LayerLock:
		a.users[m.User].LayerLock = m.Layer
	}
	a.commit(ctx, id, msg)
	return nil
}

// admitCommand applies the drawing rules to a command. It returns the
// message to commit, or nil when the message is suppressed.
func (a *Authority) admitCommand(u *User, msg protocol.Message) (protocol.Message, error) {
	msg = protocol.WithContext(msg, u.ID)

	_, penUp := msg.(protocol.PenUp)
	switch {
	case u.SyncWait:
		return nil, a.reject(u, msg, "waiting for catch-up acknowledgement")
	case penUp:
		// A stroke can always be ended.
		return msg, nil
	case u.Locked:
		return nil, a.reject(u, msg, "user is locked")
	case a.tracker.Locked() && !u.Operator:
		return nil, a.reject(u, msg, "session is locked")
	}
	if target, ok := a.targetLayer(u, msg); ok && target != 0 && target == u.LayerLock {
		return nil, a.reject(u, msg, fmt.Sprintf("layer %d is locked for the user", target))
	}

	switch m := msg.(type) {
	case protocol.PutImage:
		if m.Sublayer() {
			return nil, a.reject(u, msg, "reserved for the session")
		}
		stack := a.tracker.Stack()
		if m.W == 0 || m.H == 0 || int(m.X)+int(m.W) > stack.Width() || int(m.Y)+int(m.H) > stack.Height() {
			return nil, a.reject(u, msg, "image outside the canvas")
		}
	case protocol.ToolChange:
		if u.hasTool && u.tool == m {
			return nil, nil
		}
		u.tool, u.hasTool = m, true
		u.Layer = m.Layer
	case protocol.LayerCreate:
		if m.ID == 0 {
			id, ok := a.freeLayerID()
			if !ok {
				return nil, a.reject(u, msg, "no free layer id")
			}
			m.ID = id
		}
		m.Title = normalize(m.Title)
		msg = m
	case protocol.LayerRetitle:
		m.Title = normalize(m.Title)
		msg = m
	case protocol.AnnotationCreate:
		if m.ID == 0 {
			id, ok := a.freeAnnotationID()
			if !ok {
				return nil, a.reject(u, msg, "no free annotation id")
			}
			m.ID = id
		}
		msg = m
	}
	return msg, nil
}

// targetLayer returns the layer a command draws on. Pen messages draw on
// the layer of the sender's current tool.
func (a *Authority) targetLayer(u *User, msg protocol.Message) (uint8, bool) {
	switch msg.(type) {
	case protocol.PenMove, protocol.PenUp:
		return u.Layer, u.hasTool
	}
	return protocol.TargetLayer(msg)
}

func operatorOnly(t protocol.Type) bool {
	switch t {
	case protocol.TypeSessionConf, protocol.TypeSessionTitle, protocol.TypeUserAttr,
		protocol.TypeLayerLock, protocol.TypeUserKick, protocol.TypeCanvasResize:
		return true
	}
	return false
}

func (a *Authority) freeLayerID() (uint8, bool) {
	stack := a.tracker.Stack()
	for id := 1; id <= 255; id++ {
		if stack.Layer(uint8(id)) == nil {
			return uint8(id), true
		}
	}
	return 0, false
}

func (a *Authority) freeAnnotationID() (uint8, bool) {
	stack := a.tracker.Stack()
	for id := 1; id <= 255; id++ {
		if _, ok := stack.Annotation(uint8(id)); !ok {
			return uint8(id), true
		}
	}
	return 0, false
}

// reject drops msg and notifies its sender.
func (a *Authority) reject(u *User, msg protocol.Message, reason string) error {
	err := fmt.Errorf("%w: %v from user %d: %s", ErrRejected, msg.Type(), u.ID, reason)
	a.log.Warn("session: message rejected", "user", u.ID, "type", msg.Type(), "reason", reason)
	u.peer.Reject(msg, err)
	return err
}

// commit appends msg to the history, hands it to the sinks and relays it
// to every participant in id order. Deaf participants do not get chat.
func (a *Authority) commit(ctx context.Context, sender uint8, msg protocol.Message) {
	seq := a.tracker.Seq()
	a.tracker.Receive(msg)
	a.log.Debug("session: message accepted", "seq", seq, "user", sender, "type", msg.Type())

	for _, s := range a.sinks {
		if err := s.Record(ctx, a.id, seq, msg); err != nil {
			a.log.Warn("session: sink failed", "seq", seq, "err", err)
		}
	}

	_, chat := msg.(protocol.Chat)
	for _, id := range slices.Sorted(maps.Keys(a.users)) {
		u := a.users[id]
		if chat && u.Deaf {
			continue
		}
		u.peer.Send(msg)
	}
}
