package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/gogpu/paintnet/protocol"
	"github.com/gogpu/paintnet/state"
	"github.com/gogpu/paintnet/tile"
)

type peer struct {
	mu           sync.Mutex
	msgs         []protocol.Message
	rejected     []error
	disconnected []error
}

func (p *peer) Send(m protocol.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, m)
}

func (p *peer) Reject(_ protocol.Message, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejected = append(p.rejected, err)
}

func (p *peer) Disconnect(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = append(p.disconnected, err)
}

func (p *peer) disconnects() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.disconnected)
}

func (p *peer) received() []protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.msgs)
}

func (p *peer) last() protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.msgs[len(p.msgs)-1]
}

func newAuthority(t *testing.T, opts ...Option) *Authority {
	t.Helper()
	return NewAuthority(context.Background(), "test", InitSequence(128, 128, "test", 0xFFFFFFFF), opts...)
}

// join admits a participant and acknowledges its catch-up.
func join(t *testing.T, a *Authority, name string) (uint8, *peer) {
	t.Helper()
	p := &peer{}
	id, err := a.Join(context.Background(), p, name)
	if err != nil {
		t.Fatalf("Join(%q): %v", name, err)
	}
	if err := a.Submit(context.Background(), id, protocol.StreamPos{}); err != nil {
		t.Fatalf("StreamPos: %v", err)
	}
	return id, p
}

func tool(layerID uint8) protocol.ToolChange {
	return protocol.ToolChange{
		Layer: layerID, Blend: uint8(tile.BlendNormal), Spacing: 25,
		SizeHi: 2, SizeLo: 2, HardHi: 100, HardLo: 100,
		OpacityHi: 255, OpacityLo: 255,
		ColorHi: 0xFF000000, ColorLo: 0xFF000000,
	}
}

func submit(t *testing.T, a *Authority, id uint8, msgs ...protocol.Message) {
	t.Helper()
	for _, m := range msgs {
		if err := a.Submit(context.Background(), id, m); err != nil {
			t.Fatalf("Submit(%d, %v): %v", id, m.Type(), err)
		}
	}
}

func TestAuthority_JoinIDs(t *testing.T) {
	a := newAuthority(t)
	first, _ := join(t, a, "alice")
	second, _ := join(t, a, "bob")
	if first != 1 || second != 2 {
		t.Fatalf("ids = %d, %d, want 1, 2", first, second)
	}
	if u, _ := a.User(first); !u.Operator {
		t.Error("first participant is not operator")
	}
	if u, _ := a.User(second); u.Operator {
		t.Error("second participant is operator")
	}

	if err := a.Leave(context.Background(), first); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if err := a.Leave(context.Background(), first); !errors.Is(err, ErrNoUser) {
		t.Errorf("second Leave: %v, want ErrNoUser", err)
	}
	third, _ := join(t, a, "carol")
	if third != 1 {
		t.Errorf("reused id = %d, want 1", third)
	}
	if u, _ := a.User(third); u.Operator {
		t.Error("participant joining an occupied session is operator")
	}
}

func TestAuthority_JoinCatchup(t *testing.T) {
	a := newAuthority(t)
	op, first := join(t, a, "alice")

	msgs := first.received()
	if len(msgs) != 6 {
		t.Fatalf("first participant got %d messages, want 6", len(msgs))
	}
	if got, want := msgs[4], (protocol.UserJoin{ID: op, Name: "alice"}); got != want {
		t.Errorf("announcement = %v, want %v", got, want)
	}
	if got, want := msgs[5], (protocol.UserAttr{ID: op, Flags: protocol.AttrOperator}); got != want {
		t.Errorf("operator grant = %v, want %v", got, want)
	}

	submit(t, a, op, tool(1), protocol.PenMove{Points: []protocol.PenPoint{{X: 5, Y: 5, Pressure: 255}}})

	id, second := join(t, a, "bob")
	msgs = second.received()
	pos, ok := msgs[0].(protocol.StreamPos)
	if !ok {
		t.Fatalf("first message = %v, want StreamPos", msgs[0].Type())
	}
	catchup := msgs[1 : len(msgs)-1]
	if int(pos.Pos) != protocol.Size(catchup) {
		t.Errorf("StreamPos = %d, catch-up holds %d bytes", pos.Pos, protocol.Size(catchup))
	}
	if got, want := msgs[len(msgs)-1], (protocol.UserJoin{ID: id, Name: "bob"}); got != want {
		t.Errorf("last message = %v, want %v", got, want)
	}
}

func TestAuthority_JoinRefused(t *testing.T) {
	t.Run("closed", func(t *testing.T) {
		a := newAuthority(t)
		op, _ := join(t, a, "alice")
		submit(t, a, op, protocol.SessionConf{Closed: true})
		if _, err := a.Join(context.Background(), &peer{}, "bob"); !errors.Is(err, ErrSessionClosed) {
			t.Errorf("Join: %v, want ErrSessionClosed", err)
		}
	})
	t.Run("full", func(t *testing.T) {
		a := newAuthority(t)
		for range MaxUsers {
			if _, err := a.Join(context.Background(), &peer{}, "x"); err != nil {
				t.Fatalf("Join: %v", err)
			}
		}
		if _, err := a.Join(context.Background(), &peer{}, "x"); !errors.Is(err, ErrSessionFull) {
			t.Errorf("Join: %v, want ErrSessionFull", err)
		}
	})
}

func TestAuthority_NormalizesNames(t *testing.T) {
	a := newAuthority(t)
	id, _ := join(t, a, "  Cafe\u0301 ")
	if u, _ := a.User(id); u.Name != "Caf\u00e9" {
		t.Errorf("name = %q, want NFC %q", u.Name, "Caf\u00e9")
	}
	id, _ = join(t, a, "   ")
	if u, _ := a.User(id); u.Name != DefaultName {
		t.Errorf("blank name = %q, want %q", u.Name, DefaultName)
	}
}

func TestAuthority_ReplicasConverge(t *testing.T) {
	a := newAuthority(t)
	op, _ := join(t, a, "alice")
	submit(t, a, op,
		tool(1),
		protocol.PenMove{Points: []protocol.PenPoint{{X: 10, Y: 10, Pressure: 255}, {X: 50, Y: 30, Pressure: 128}}},
	)
	guest, p := join(t, a, "bob")
	submit(t, a, guest,
		protocol.LayerCreate{Title: "ink"},
		tool(2),
		protocol.PenMove{Points: []protocol.PenPoint{{X: 100, Y: 100, Pressure: 255}, {X: 20, Y: 90, Pressure: 255}}},
	)
	submit(t, a, op, protocol.PenMove{Points: []protocol.PenPoint{{X: 60, Y: 120, Pressure: 200}}}, protocol.PenUp{})
	submit(t, a, guest, protocol.PenUp{})

	replica := state.NewTracker()
	for _, m := range p.received() {
		replica.Receive(m)
	}
	want := a.Tracker().Stack().Flatten()
	got := replica.Stack().Flatten()
	if !slices.Equal(got.Pix, want.Pix) {
		t.Error("replica raster differs from the authority")
	}
	if replica.Stack().LayerCount() != 2 {
		t.Errorf("replica has %d layers, want 2", replica.Stack().LayerCount())
	}
}

func TestAuthority_OverwritesContext(t *testing.T) {
	a := newAuthority(t)
	op, p := join(t, a, "alice")
	submit(t, a, op, protocol.ToolChange{Ctx: 77, Layer: 1}, protocol.PenMove{Ctx: 9, Points: []protocol.PenPoint{{}}})
	if got := p.last().(protocol.PenMove).Ctx; got != op {
		t.Errorf("relayed context = %d, want %d", got, op)
	}
	submit(t, a, op, protocol.Chat{ID: 42, Text: "hi"})
	if got := p.last().(protocol.Chat).ID; got != op {
		t.Errorf("chat id = %d, want %d", got, op)
	}
}

func TestAuthority_AssignsIDs(t *testing.T) {
	a := newAuthority(t)
	op, p := join(t, a, "alice")

	for _, want := range []uint8{2, 3} {
		submit(t, a, op, protocol.LayerCreate{Title: "layer"})
		if got := p.last().(protocol.LayerCreate).ID; got != want {
			t.Errorf("layer id = %d, want %d", got, want)
		}
	}
	submit(t, a, op, protocol.LayerCreate{ID: 9, Title: "explicit"})
	if got := p.last().(protocol.LayerCreate).ID; got != 9 {
		t.Errorf("explicit layer id = %d, want 9", got)
	}
	submit(t, a, op, protocol.AnnotationCreate{W: 10, H: 10})
	if got := p.last().(protocol.AnnotationCreate).ID; got != 1 {
		t.Errorf("annotation id = %d, want 1", got)
	}
}

func TestAuthority_Rejections(t *testing.T) {
	sublayerImage, err := protocol.NewPutImage(0, 1, 0, 0, 1, 1, []uint32{0xFF000000}, false)
	if err != nil {
		t.Fatal(err)
	}
	sublayerImage.Flags |= protocol.PutImageSublayer
	image, err := protocol.NewPutImage(0, 1, 0, 0, 1, 1, []uint32{0xFF000000}, false)
	if err != nil {
		t.Fatal(err)
	}
	outside, err := protocol.NewPutImage(0, 1, 120, 0, 16, 16, make([]uint32, 16*16), false)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		setup    []protocol.Message // submitted by the operator
		operator bool               // submit msg as the operator instead of the guest
		msg      protocol.Message
		rejected bool
	}{
		{name: "guest draws", msg: tool(1)},
		{name: "guest session conf", msg: protocol.SessionConf{Locked: true}, rejected: true},
		{name: "guest title", msg: protocol.SessionTitle{Title: "mine"}, rejected: true},
		{name: "guest resize", msg: protocol.CanvasResize{Width: 10, Height: 10}, rejected: true},
		{name: "guest user attr", msg: protocol.UserAttr{ID: 2}, rejected: true},
		{name: "guest layer lock", msg: protocol.LayerLock{User: 1, Layer: 1}, rejected: true},
		{name: "user join", msg: protocol.UserJoin{ID: 9, Name: "x"}, rejected: true},
		{name: "user leave", msg: protocol.UserLeave{ID: 1}, rejected: true},
		{name: "stroke resume", msg: protocol.StrokeResume{}, rejected: true},
		{name: "guest kick", msg: protocol.UserKick{ID: 1}, rejected: true},
		{name: "kick", msg: protocol.UserKick{ID: 2}, operator: true},
		{name: "kick unknown user", msg: protocol.UserKick{ID: 99}, operator: true, rejected: true},
		{name: "kick oneself", msg: protocol.UserKick{ID: 1}, operator: true, rejected: true},
		{name: "empty chat", msg: protocol.Chat{}, rejected: true},
		{name: "image", msg: image},
		{name: "image outside the canvas", msg: outside, operator: true, rejected: true},
		{name: "empty image", msg: protocol.PutImage{Layer: 1}, operator: true, rejected: true},
		{name: "sublayer image", msg: sublayerImage, operator: true, rejected: true},
		{name: "attr for unknown user", msg: protocol.UserAttr{ID: 99}, operator: true, rejected: true},
		{
			name:     "muted chat",
			setup:    []protocol.Message{protocol.UserAttr{ID: 2, Flags: protocol.AttrMuted}},
			msg:      protocol.Chat{Text: "hi"},
			rejected: true,
		},
		{
			name:  "muted draws",
			setup: []protocol.Message{protocol.UserAttr{ID: 2, Flags: protocol.AttrMuted}},
			msg:   tool(1),
		},
		{
			name:     "locked user",
			setup:    []protocol.Message{protocol.UserAttr{ID: 2, Flags: protocol.AttrLocked}},
			msg:      tool(1),
			rejected: true,
		},
		{
			name:  "locked user pen up",
			setup: []protocol.Message{protocol.UserAttr{ID: 2, Flags: protocol.AttrLocked}},
			msg:   protocol.PenUp{},
		},
		{
			name:     "locked session",
			setup:    []protocol.Message{protocol.SessionConf{Locked: true}},
			msg:      tool(1),
			rejected: true,
		},
		{
			name:     "locked session operator",
			setup:    []protocol.Message{protocol.SessionConf{Locked: true}},
			operator: true,
			msg:      tool(1),
		},
		{
			name:     "layer lock",
			setup:    []protocol.Message{protocol.LayerLock{User: 2, Layer: 1}},
			msg:      tool(1),
			rejected: true,
		},
		{
			name:  "layer lock other layer",
			setup: []protocol.Message{protocol.LayerCreate{Title: "free"}, protocol.LayerLock{User: 2, Layer: 1}},
			msg:   tool(2),
		},
		{
			name:     "layer lock attributes",
			setup:    []protocol.Message{protocol.LayerLock{User: 2, Layer: 1}},
			msg:      protocol.LayerAttributes{ID: 1, Opacity: 10},
			rejected: true,
		},
		{
			name:  "chat while locked",
			setup: []protocol.Message{protocol.UserAttr{ID: 2, Flags: protocol.AttrLocked}},
			msg:   protocol.Chat{Text: "let me draw"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAuthority(t)
			op, opPeer := join(t, a, "alice")
			guest, guestPeer := join(t, a, "bob")
			submit(t, a, op, tt.setup...)

			from, p := guest, guestPeer
			if tt.operator {
				from, p = op, opPeer
			}
			seq := a.Tracker().Seq()
			err := a.Submit(context.Background(), from, tt.msg)

			if !tt.rejected {
				if err != nil {
					t.Fatalf("Submit: %v", err)
				}
				if a.Tracker().Seq() != seq+1 {
					t.Error("accepted message not sequenced")
				}
				return
			}
			if !errors.Is(err, ErrRejected) {
				t.Fatalf("Submit: %v, want ErrRejected", err)
			}
			if a.Tracker().Seq() != seq {
				t.Error("rejected message reached the history")
			}
			if len(p.rejected) != 1 {
				t.Errorf("sender got %d rejections, want 1", len(p.rejected))
			}
		})
	}
}

func TestAuthority_LockStopsPen(t *testing.T) {
	ctx := context.Background()
	move := func(x, y int16) protocol.PenMove {
		return protocol.PenMove{Points: []protocol.PenPoint{{X: x, Y: y, Pressure: 255}}}
	}
	tests := []struct {
		name  string
		start []protocol.Message // submitted by the guest before the lock
		lock  protocol.Message
	}{
		{name: "layer lock", start: []protocol.Message{tool(1)}, lock: protocol.LayerLock{User: 2, Layer: 1}},
		{name: "layer lock mid-stroke", start: []protocol.Message{tool(1), move(20, 20)}, lock: protocol.LayerLock{User: 2, Layer: 1}},
		{name: "user lock mid-stroke", start: []protocol.Message{tool(1), move(20, 20)}, lock: protocol.UserAttr{ID: 2, Flags: protocol.AttrLocked}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAuthority(t)
			op, _ := join(t, a, "alice")
			guest, _ := join(t, a, "bob")
			submit(t, a, guest, tt.start...)
			submit(t, a, op, tt.lock)

			before := slices.Clone(a.Tracker().Stack().Flatten().Pix)
			if err := a.Submit(ctx, guest, move(40, 40)); !errors.Is(err, ErrRejected) {
				t.Fatalf("PenMove after lock: %v, want ErrRejected", err)
			}
			if !slices.Equal(a.Tracker().Stack().Flatten().Pix, before) {
				t.Error("rejected PenMove changed the canvas")
			}

			submit(t, a, guest, protocol.PenUp{})
			if a.Tracker().Stack().Layer(1).Sublayer(guest) != nil {
				t.Error("stroke still pending after PenUp")
			}
		})
	}
}

func TestAuthority_Kick(t *testing.T) {
	ctx := context.Background()
	a := newAuthority(t)
	op, opPeer := join(t, a, "alice")
	guest, guestPeer := join(t, a, "bob")
	submit(t, a, op, protocol.UserKick{ID: guest})

	if got, want := opPeer.last(), (protocol.UserLeave{ID: guest}); got != want {
		t.Errorf("operator got %v, want %v", got, want)
	}
	if got := guestPeer.disconnects(); len(got) != 1 || !errors.Is(got[0], ErrKicked) {
		t.Errorf("kicked participant disconnected with %v", got)
	}
	if _, ok := a.User(guest); ok {
		t.Error("kicked participant still present")
	}
	if err := a.Submit(ctx, guest, protocol.Chat{Text: "hey"}); !errors.Is(err, ErrNoUser) {
		t.Errorf("Submit after kick: %v, want ErrNoUser", err)
	}

	// The id stays taken until the kicked connection leaves.
	if id, _ := join(t, a, "carol"); id == guest {
		t.Errorf("kicked id %d reused before Leave", id)
	}
	if err := a.Leave(ctx, guest); err != nil {
		t.Fatalf("Leave after kick: %v", err)
	}
	if err := a.Leave(ctx, guest); !errors.Is(err, ErrNoUser) {
		t.Errorf("second Leave: %v, want ErrNoUser", err)
	}
	if id, _ := join(t, a, "dave"); id != guest {
		t.Errorf("id after Leave = %d, want %d", id, guest)
	}
	if err := a.Kick(ctx, 99); !errors.Is(err, ErrNoUser) {
		t.Errorf("Kick(99): %v, want ErrNoUser", err)
	}
}

func TestAuthority_SyncWait(t *testing.T) {
	a := newAuthority(t)
	p := &peer{}
	id, err := a.Join(context.Background(), p, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Submit(context.Background(), id, tool(1)); !errors.Is(err, ErrRejected) {
		t.Fatalf("drawing before acknowledgement: %v, want ErrRejected", err)
	}
	submit(t, a, id, protocol.Chat{Text: "chat is fine"})
	submit(t, a, id, protocol.StreamPos{Pos: 1}, tool(1))
	if u, _ := a.User(id); u.SyncWait || u.Layer != 1 {
		t.Errorf("user = %+v", u)
	}
}

func TestAuthority_SuppressesDuplicateTool(t *testing.T) {
	a := newAuthority(t)
	op, p := join(t, a, "alice")
	before := len(p.received())
	submit(t, a, op, tool(1), tool(1), protocol.ToolChange{Ctx: 5, Layer: 1, Blend: uint8(tile.BlendNormal),
		Spacing: 25, SizeHi: 2, SizeLo: 2, HardHi: 100, HardLo: 100, OpacityHi: 255, OpacityLo: 255,
		ColorHi: 0xFF000000, ColorLo: 0xFF000000})
	if got := len(p.received()) - before; got != 1 {
		t.Errorf("relayed %d ToolChanges, want 1", got)
	}
	t2 := tool(1)
	t2.SizeHi = 9
	submit(t, a, op, t2)
	if got := len(p.received()) - before; got != 2 {
		t.Error("changed tool not relayed")
	}
}

func TestAuthority_DeafSkipsChat(t *testing.T) {
	a := newAuthority(t)
	op, opPeer := join(t, a, "alice")
	_, guestPeer := join(t, a, "bob")
	submit(t, a, op, protocol.UserAttr{ID: 2, Flags: protocol.AttrDeaf})

	before := len(guestPeer.received())
	submit(t, a, op, protocol.Chat{Text: "psst"}, protocol.LayerCreate{Title: "x"})
	got := guestPeer.received()[before:]
	if len(got) != 1 || got[0].Type() != protocol.TypeLayerCreate {
		t.Errorf("deaf participant got %v", got)
	}
	if _, ok := opPeer.received()[len(opPeer.received())-2].(protocol.Chat); !ok {
		t.Error("sender did not receive its own chat")
	}
}

func TestAuthority_LeaveEndsStroke(t *testing.T) {
	a := newAuthority(t)
	_, p := join(t, a, "alice")
	guest, _ := join(t, a, "bob")
	submit(t, a, guest, tool(1), protocol.PenMove{Points: []protocol.PenPoint{{X: 40, Y: 40, Pressure: 255}}})

	bg := a.Tracker().Stack().Layer(1)
	if bg.Sublayer(guest) == nil {
		t.Fatal("no pending stroke")
	}
	if err := a.Leave(context.Background(), guest); err != nil {
		t.Fatal(err)
	}
	if bg.Sublayer(guest) != nil {
		t.Error("stroke still pending after Leave")
	}
	if got := bg.ColorAt(40, 40); got != 0xFF000000 {
		t.Errorf("merged pixel = %#08x", got)
	}
	if got, want := p.last(), (protocol.UserLeave{ID: guest}); got != want {
		t.Errorf("remaining participant got %v, want %v", got, want)
	}
}

type recordingSink struct {
	seqs []uint64
	err  error
}

func (s *recordingSink) Record(_ context.Context, id string, seq uint64, _ protocol.Message) error {
	s.seqs = append(s.seqs, seq)
	return s.err
}

func TestAuthority_Sinks(t *testing.T) {
	good := &recordingSink{}
	bad := &recordingSink{err: errors.New("disk full")}
	a := newAuthority(t, WithSink(bad), WithSink(good))
	op, _ := join(t, a, "alice")
	submit(t, a, op, tool(1), protocol.PenUp{})

	want := []uint64{3, 4, 5, 6}
	if !slices.Equal(good.seqs, want) {
		t.Errorf("recorded seqs = %v, want %v", good.seqs, want)
	}
	if !slices.Equal(bad.seqs, want) {
		t.Errorf("failing sink seqs = %v, want %v", bad.seqs, want)
	}
}

func TestNewAuthority_Archive(t *testing.T) {
	initial := InitSequence(64, 64, "", 0xFFFFFFFF)
	archive := slices.Clone(initial)
	for i := range 1000 {
		archive = append(archive, protocol.Chat{ID: 1, Text: fmt.Sprintf("message %04d", i)})
	}
	a := NewAuthority(context.Background(), "restored", archive,
		WithArchive(protocol.Size(initial)),
		WithTrackerOptions(state.WithMaxHistory(2<<10)),
	)

	tr := a.Tracker()
	if got := tr.MaxHistorySize(); got != 2<<10 {
		t.Errorf("MaxHistorySize() = %d, want %d", got, 2<<10)
	}
	if tr.HistoryStart() == 0 {
		t.Error("archive not trimmed")
	}
	if tr.Seq() != uint64(len(archive)) {
		t.Errorf("Seq() = %d, want %d", tr.Seq(), len(archive))
	}
	if got, limit := protocol.Size(tr.Catchup()), protocol.Size(archive)/4; got >= limit {
		t.Errorf("catch-up is %d bytes, want less than %d", got, limit)
	}
}

func TestNewAuthority_RemovesStaleUsers(t *testing.T) {
	msgs := append(InitSequence(64, 64, "", 0), protocol.UserJoin{ID: 4, Name: "ghost"})
	a := NewAuthority(context.Background(), "restored", msgs)
	if users := a.Tracker().Users(); len(users) != 0 {
		t.Errorf("stale users = %v", users)
	}
	if a.Tracker().Seq() != uint64(len(msgs)+1) {
		t.Errorf("Seq() = %d, want %d", a.Tracker().Seq(), len(msgs)+1)
	}
}
