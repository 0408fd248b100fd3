package session

import (
	"context"
	"sync"
	"time"

	"github.com/gogpu/paintnet/protocol"
)

// Info summarizes a session.
type Info struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Width   int       `json:"width"`
	Height  int       `json:"height"`
	Users   int       `json:"users"`
	Locked  bool      `json:"locked"`
	Closed  bool      `json:"closed"`
	Seq     uint64    `json:"seq"`
	Created time.Time `json:"created"`
}

// Session runs an Authority on its own goroutine. Its methods may be
// called from any goroutine; calls are processed one at a time in
// arrival order.
//
// A call whose context ends before the session picks it up fails with
// the context's error. Once picked up, a call always runs to completion.
type Session struct {
	a       *Authority
	created time.Time
	reqs    chan func(context.Context)
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	once    sync.Once
}

// New creates a session and starts its event loop. Sinks are called with a
// context that lives until Close.
func New(id string, init []protocol.Message, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		a:       NewAuthority(ctx, id, init, opts...),
		created: time.Now(),
		reqs:    make(chan func(context.Context)),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	go s.run()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.a.id }

func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case fn := <-s.reqs:
			fn(s.ctx)
		case <-s.ctx.Done():
			s.a.disconnectAll(ErrStopped)
			return
		}
	}
}

// do runs fn on the session goroutine and waits for it.
func (s *Session) do(ctx context.Context, fn func(ctx context.Context)) error {
	done := make(chan struct{})
	req := func(ctx context.Context) {
		defer close(done)
		fn(ctx)
	}
	select {
	case s.reqs <- req:
	case <-s.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Join admits a participant. See Authority.Join.
func (s *Session) Join(ctx context.Context, peer Peer, name string) (id uint8, err error) {
	if derr := s.do(ctx, func(ctx context.Context) {
		id, err = s.a.Join(ctx, peer, name)
	}); derr != nil {
		return 0, derr
	}
	return id, err
}

// Submit validates and sequences a message. See Authority.Submit.
func (s *Session) Submit(ctx context.Context, id uint8, msg protocol.Message) (err error) {
	if derr := s.do(ctx, func(ctx context.Context) {
		err = s.a.Submit(ctx, id, msg)
	}); derr != nil {
		return derr
	}
	return err
}

// Leave removes a participant. See Authority.Leave.
func (s *Session) Leave(ctx context.Context, id uint8) (err error) {
	if derr := s.do(ctx, func(ctx context.Context) {
		err = s.a.Leave(ctx, id)
	}); derr != nil {
		return derr
	}
	return err
}

// Info returns a summary of the session state.
func (s *Session) Info(ctx context.Context) (info Info, err error) {
	err = s.do(ctx, func(context.Context) {
		t := s.a.tracker
		info = Info{
			ID:      s.a.id,
			Title:   t.Title(),
			Width:   t.Stack().Width(),
			Height:  t.Stack().Height(),
			Users:   len(s.a.users),
			Locked:  t.Locked(),
			Closed:  t.Closed(),
			Seq:     t.Seq(),
			Created: s.created,
		}
	})
	return info, err
}

// Snapshot returns a fresh snapshot of the session state.
func (s *Session) Snapshot(ctx context.Context) (msgs []protocol.Message, err error) {
	err = s.do(ctx, func(context.Context) {
		msgs = s.a.tracker.GenerateSnapshot(true)
	})
	return msgs, err
}

// Kick removes a participant. See Authority.Kick.
func (s *Session) Kick(ctx context.Context, id uint8) (err error) {
	if derr := s.do(ctx, func(ctx context.Context) {
		err = s.a.Kick(ctx, id)
	}); derr != nil {
		return derr
	}
	return err
}

// Close stops the event loop and disconnects every participant with
// ErrStopped. Pending and later calls fail with ErrStopped. Close is
// idempotent.
func (s *Session) Close() {
	s.once.Do(func() {
		s.cancel()
		<-s.stopped
		s.a.log.Info("session: stopped")
	})
}

// InitSequence returns the messages that start a w x h canvas with one
// layer filled with the premultiplied background color.
func InitSequence(w, h int, title string, background uint32) []protocol.Message {
	return []protocol.Message{
		protocol.CanvasResize{Width: uint16(w), Height: uint16(h)},
		protocol.LayerCreate{ID: 1, Fill: background, Title: "Background"},
		protocol.SessionTitle{Title: normalize(title)},
	}
}
