// Package session sequences the messages of one shared canvas.
//
// The Authority is the single source of order: it validates every message
// a participant submits, assigns it the next position in the history,
// applies it to its own state.Tracker and relays it to every participant,
// the sender included. Participants never apply their own intents
// locally; they only apply what the authority relays, so all replicas
// see the same sequence.
//
// Authority is not safe for concurrent use. Session wraps it in an event
// loop that serializes calls from many connections.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/gogpu/paintnet"
	"github.com/gogpu/paintnet/protocol"
	"github.com/gogpu/paintnet/state"
)

// Session errors.
var (
	// ErrSessionClosed is returned by Join when the session refuses new
	// participants.
	ErrSessionClosed = errors.New("session: session is closed")

	// ErrSessionFull is returned by Join when every user id is taken.
	ErrSessionFull = errors.New("session: no free user id")

	// ErrNoUser is returned for an unknown user id.
	ErrNoUser = errors.New("session: no such user")

	// ErrRejected wraps every refusal of a submitted message.
	ErrRejected = errors.New("session: message rejected")

	// ErrStopped is returned by calls on a closed Session.
	ErrStopped = errors.New("session: stopped")

	// ErrKicked is passed to Peer.Disconnect for a participant removed by
	// an operator.
	ErrKicked = errors.New("session: kicked by operator")
)

// MaxUsers is the number of user ids. Id 0 is reserved for the session.
const MaxUsers = 255

// DefaultName is given to participants joining with a blank name.
const DefaultName = "Guest"

// Peer is the connection to one participant.
//
// Send is called from the session goroutine for every relayed message and
// must not block; a transport that cannot keep up should drop the
// connection. Reject notifies the participant that a message was refused.
// Disconnect tells the transport to close the connection: the participant
// was kicked (ErrKicked) or the session stopped (ErrStopped). It must not
// block either.
type Peer interface {
	Send(msg protocol.Message)
	Reject(msg protocol.Message, err error)
	Disconnect(err error)
}

// Sink receives every accepted message with its sequence number.
// Errors are logged and never stop sequencing.
type Sink interface {
	Record(ctx context.Context, sessionID string, seq uint64, msg protocol.Message) error
}

// User is the authority's view of one participant.
type User struct {
	ID   uint8
	Name string

	// Layer is the target layer of the participant's current tool.
	Layer uint8

	// LayerLock is a layer the participant may not draw on. 0 means none.
	LayerLock uint8

	Locked   bool
	Muted    bool
	Deaf     bool
	Operator bool

	// SyncWait is set from Join until the participant echoes the
	// StreamPos that preceded its catch-up. Drawing is refused meanwhile.
	SyncWait bool

	tool    protocol.ToolChange
	hasTool bool
	peer    Peer
}

func (u *User) flags() uint8 {
	var f uint8
	for _, a := range [...]struct {
		set  bool
		flag uint8
	}{
		{u.Locked, protocol.AttrLocked},
		{u.Muted, protocol.AttrMuted},
		{u.Deaf, protocol.AttrDeaf},
		{u.Operator, protocol.AttrOperator},
	} {
		if a.set {
			f |= a.flag
		}
	}
	return f
}

func (u *User) setFlags(f uint8) {
	attr := protocol.UserAttr{Flags: f}
	u.Locked = attr.Has(protocol.AttrLocked)
	u.Muted = attr.Has(protocol.AttrMuted)
	u.Deaf = attr.Has(protocol.AttrDeaf)
	u.Operator = attr.Has(protocol.AttrOperator)
}

// Option configures an Authority.
type Option func(*Authority)

// WithSink adds a sink for accepted messages.
func WithSink(s Sink) Option {
	return func(a *Authority) {
		a.sinks = append(a.sinks, s)
	}
}

// WithTrackerOptions passes options to the authority's state.Tracker.
func WithTrackerOptions(opts ...state.Option) Option {
	return func(a *Authority) {
		a.trackerOpts = append(a.trackerOpts, opts...)
	}
}

// WithArchive makes NewAuthority treat its messages as an archived history
// that starts with an initialization sequence of initSize bytes. The
// history cap is derived from that sequence, not from the whole archive,
// and the archive is trimmed as it is replayed.
func WithArchive(initSize int) Option {
	return func(a *Authority) {
		a.archiveInit = initSize
	}
}

// Authority validates, orders and relays the messages of one session.
type Authority struct {
	id          string
	tracker     *state.Tracker
	users       map[uint8]*User
	kicked      map[uint8]bool
	sinks       []Sink
	trackerOpts []state.Option
	archiveInit int
	log         *slog.Logger
}

// NewAuthority creates the authority of session id and loads its
// initialization sequence, or replays an archive (see WithArchive).
// Participants left in the sequence by a previous run are removed with
// UserLeave.
func NewAuthority(ctx context.Context, id string, init []protocol.Message, opts ...Option) *Authority {
	a := &Authority{
		id:     id,
		users:  make(map[uint8]*User),
		kicked: make(map[uint8]bool),
		log:    paintnet.Logger().With("session", id),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.tracker = state.NewTracker(a.trackerOpts...)
	if a.archiveInit > 0 {
		a.tracker.Restore(a.archiveInit, init)
	} else {
		a.tracker.LoadInit(init)
	}

	for _, uid := range slices.Sorted(maps.Keys(a.tracker.Users())) {
		a.commit(ctx, 0, protocol.UserLeave{ID: uid})
	}
	a.log.Info("session: created", "seq", a.tracker.Seq(), "bytes", a.tracker.InitSize())
	return a
}

// ID returns the session id.
func (a *Authority) ID() string { return a.id }

// Tracker returns the authority's replica. Callers must not apply
// messages to it.
func (a *Authority) Tracker() *state.Tracker { return a.tracker }

// User returns a copy of the state of a participant.
func (a *Authority) User(id uint8) (User, bool) {
	u := a.users[id]
	if u == nil {
		return User{}, false
	}
	return *u, true
}

// UserCount returns the number of participants.
func (a *Authority) UserCount() int { return len(a.users) }

// Join admits a participant and returns its user id.
//
// The peer first receives a StreamPos carrying the byte size of the
// catch-up sequence, then the catch-up itself, then, like every other
// participant, the UserJoin announcing it. The first participant of a
// session becomes operator.
func (a *Authority) Join(ctx context.Context, peer Peer, name string) (uint8, error) {
	if a.tracker.Closed() {
		return 0, ErrSessionClosed
	}
	id, ok := a.freeUserID()
	if !ok {
		return 0, ErrSessionFull
	}

	name = normalize(name)
	if name == "" {
		name = DefaultName
	}
	u := &User{ID: id, Name: name, SyncWait: true, peer: peer}
	operator := len(a.users) == 0

	catchup := a.tracker.Catchup()
	peer.Send(protocol.StreamPos{Pos: uint32(protocol.Size(catchup))})
	for _, m := range catchup {
		peer.Send(m)
	}

	a.users[id] = u
	a.commit(ctx, id, protocol.UserJoin{ID: id, Name: name})
	if operator {
		u.Operator = true
		a.commit(ctx, id, protocol.UserAttr{ID: id, Flags: u.flags()})
	}
	a.log.Info("session: user joined", "user", id, "name", name, "catchup", len(catchup), "operator", operator)
	return id, nil
}

// Leave removes a participant, ending its stroke in progress. Leave of a
// kicked participant only releases its user id.
func (a *Authority) Leave(ctx context.Context, id uint8) error {
	if a.kicked[id] {
		delete(a.kicked, id)
		return nil
	}
	if a.users[id] == nil {
		return fmt.Errorf("%w: %d", ErrNoUser, id)
	}
	delete(a.users, id)
	a.commit(ctx, id, protocol.UserLeave{ID: id})
	a.log.Info("session: user left", "user", id, "remaining", len(a.users))
	return nil
}

// Kick removes a participant and disconnects it with ErrKicked. Its user
// id is not reused until its connection calls Leave.
func (a *Authority) Kick(ctx context.Context, id uint8) error {
	u := a.users[id]
	if u == nil {
		return fmt.Errorf("%w: %d", ErrNoUser, id)
	}
	delete(a.users, id)
	a.kicked[id] = true
	a.commit(ctx, 0, protocol.UserLeave{ID: id})
	u.peer.Disconnect(ErrKicked)
	a.log.Info("session: user kicked", "user", id, "remaining", len(a.users))
	return nil
}

// disconnectAll closes every participant connection.
func (a *Authority) disconnectAll(err error) {
	for _, id := range slices.Sorted(maps.Keys(a.users)) {
		a.users[id].peer.Disconnect(err)
	}
}

func (a *Authority) freeUserID() (uint8, bool) {
	for id := 1; id <= MaxUsers; id++ {
		if a.users[uint8(id)] == nil && !a.kicked[uint8(id)] {
			return uint8(id), true
		}
	}
	return 0, false
}

// normalize trims a display string and converts it to NFC so that the
// same text typed on different platforms compares equal.
func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
