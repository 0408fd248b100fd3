// Package state applies the ordered message stream of a session to a
// layer stack.
//
// A Tracker is a replica of one canvas. Every participant and the session
// authority run one and feed it the same canonical message sequence, so all
// replicas hold pixel-identical stacks. The tracker also keeps a bounded
// history of applied messages and produces snapshots: self-sufficient
// message sequences that rebuild the current state on an empty replica.
package state

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/gogpu/paintnet"
	"github.com/gogpu/paintnet/layer"
	"github.com/gogpu/paintnet/protocol"
)

// drawContext is the drawing state of one user.
type drawContext struct {
	tool     protocol.ToolChange
	hasTool  bool
	brush    layer.Brush
	stroking bool
	last     protocol.PenPoint
	stroke   layer.StrokeContext
}

// user is the participant bookkeeping replayed from meta messages.
type user struct {
	name      string
	flags     uint8
	layerLock uint8
}

// Tracker applies messages to a layer stack and records them.
//
// Thread safety: Tracker is NOT safe for concurrent use.
type Tracker struct {
	stack    *layer.Stack
	localID  uint8
	contexts map[uint8]*drawContext
	users    map[uint8]*user
	title    string
	locked   bool
	closed   bool

	history      []protocol.Message
	historyStart uint64
	historySize  int
	requestedMax int
	maxHistory   int
	factor       int
	initSize     int

	snapshot   []protocol.Message
	snapshotAt uint64
	hasSnap    bool

	observers []Observer
	log       *slog.Logger
}

// NewTracker creates a tracker holding an empty 0x0 canvas.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		stack:        layer.NewStack(0, 0),
		contexts:     make(map[uint8]*drawContext),
		users:        make(map[uint8]*user),
		requestedMax: DefaultMaxHistory,
		factor:       DefaultHistoryFactor,
		log:          paintnet.Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.SetMaxHistorySize(t.requestedMax)
	return t
}

// Stack returns the layer stack. Callers must not modify it.
func (t *Tracker) Stack() *layer.Stack { return t.stack }

// Title returns the session title.
func (t *Tracker) Title() string { return t.title }

// Locked reports whether the session is locked.
func (t *Tracker) Locked() bool { return t.locked }

// Closed reports whether the session refuses new participants.
func (t *Tracker) Closed() bool { return t.closed }

// Users returns the names of the participants by id.
func (t *Tracker) Users() map[uint8]string {
	out := make(map[uint8]string, len(t.users))
	for id, u := range t.users {
		out[id] = u.name
	}
	return out
}

// Tool returns the last ToolChange of a drawing context.
func (t *Tracker) Tool(ctx uint8) (protocol.ToolChange, bool) {
	if c := t.contexts[ctx]; c != nil && c.hasTool {
		return c.tool, true
	}
	return protocol.ToolChange{}, false
}

// Stroking reports whether a drawing context has a stroke in progress.
func (t *Tracker) Stroking(ctx uint8) bool {
	c := t.contexts[ctx]
	return c != nil && c.stroking
}

// Seq returns the number of messages applied so far, which is also the
// sequence number the next message will get.
func (t *Tracker) Seq() uint64 {
	return t.historyStart + uint64(len(t.history))
}

// HistoryStart returns the sequence number of the oldest retained message.
func (t *Tracker) HistoryStart() uint64 { return t.historyStart }

// HistorySize returns the serialized size of the retained history.
func (t *Tracker) HistorySize() int { return t.historySize }

// MaxHistorySize returns the effective history cap.
func (t *Tracker) MaxHistorySize() int { return t.maxHistory }

// InitSize returns the serialized size of the initialization sequence.
func (t *Tracker) InitSize() int { return t.initSize }

// History returns a copy of the retained messages, oldest first.
func (t *Tracker) History() []protocol.Message {
	return slices.Clone(t.history)
}

// SetMaxHistorySize sets the cap on retained history in bytes. The cap is
// never set below InitSize times the history factor, so a freshly hosted
// session can always replay its full history.
func (t *Tracker) SetMaxHistorySize(bytes int) {
	t.requestedMax = bytes
	t.maxHistory = max(bytes, t.initSize*t.factor)
	t.trim()
}

// LoadInit applies the initialization sequence of a new session and
// records its size for the history cap.
func (t *Tracker) LoadInit(msgs []protocol.Message) {
	t.initSize = protocol.Size(msgs)
	t.SetMaxHistorySize(t.requestedMax)
	for _, m := range msgs {
		t.Receive(m)
	}
	t.log.Debug("state: init loaded", "messages", len(msgs), "bytes", t.initSize, "maxHistory", t.maxHistory)
}

// Restore replays an archived history whose initialization sequence was
// initSize bytes. Unlike LoadInit the archive does not raise the history
// cap: it is applied message by message and trimmed like live traffic.
func (t *Tracker) Restore(initSize int, msgs []protocol.Message) {
	t.initSize = initSize
	t.SetMaxHistorySize(t.requestedMax)
	for _, m := range msgs {
		t.Receive(m)
	}
	t.log.Debug("state: archive restored", "messages", len(msgs), "start", t.historyStart, "maxHistory", t.maxHistory)
}

// Receive applies one message and appends it to the history.
//
// Application never fails: a command that cannot apply (an unknown layer,
// a duplicate id) is skipped, identically on every replica.
func (t *Tracker) Receive(msg protocol.Message) {
	seq := t.Seq()
	t.apply(msg)

	t.history = append(t.history, msg)
	t.historySize += msg.Len()
	t.trim()

	if dirty := t.stack.TakeDirty(); len(dirty) > 0 {
		for _, o := range t.observers {
			o.CanvasModified(dirty)
		}
	}
	for _, o := range t.observers {
		o.CommandApplied(seq, msg)
	}
}

// trim drops the oldest messages until the history fits the cap.
func (t *Tracker) trim() {
	dropped := 0
	for t.historySize > t.maxHistory && len(t.history) > 0 {
		t.historySize -= t.history[0].Len()
		t.history[0] = nil
		t.history = t.history[1:]
		t.historyStart++
		dropped++
	}
	if dropped == 0 {
		return
	}
	if t.hasSnap && t.snapshotAt < t.historyStart {
		t.hasSnap = false
		t.snapshot = nil
	}
	t.log.Debug("state: history trimmed", "dropped", dropped, "start", t.historyStart, "bytes", t.historySize)
}

// Catchup returns the messages that bring an empty replica to the current
// state: the full history while nothing has been trimmed, otherwise a
// snapshot followed by the messages applied after it.
func (t *Tracker) Catchup() []protocol.Message {
	if t.historyStart == 0 {
		return t.History()
	}
	snap := t.GenerateSnapshot(false)
	tail := t.history[t.snapshotAt-t.historyStart:]
	return append(snap, tail...)
}

// EndRemoteContexts finishes the strokes of every user other than the
// local one, merging their pending sublayers, and forgets their drawing
// state. A client calls it when its connection drops so no partial
// stroke is left hanging.
func (t *Tracker) EndRemoteContexts() {
	for _, id := range slices.Sorted(maps.Keys(t.contexts)) {
		if id != t.localID {
			t.endContext(id)
		}
	}
	if dirty := t.stack.TakeDirty(); len(dirty) > 0 {
		for _, o := range t.observers {
			o.CanvasModified(dirty)
		}
	}
}

// endContext finishes the stroke of a context and forgets it.
func (t *Tracker) endContext(id uint8) {
	c := t.contexts[id]
	if c == nil {
		return
	}
	t.penUp(id, c)
	delete(t.contexts, id)
}

func (t *Tracker) context(id uint8) *drawContext {
	c := t.contexts[id]
	if c == nil {
		c = &drawContext{}
		t.contexts[id] = c
	}
	return c
}
