// Package client connects to a paintnet server and keeps a local replica
// of a session.
//
// The replica is fed only by the stream the server relays: intents such
// as PenMove are sent to the server and take effect locally when they come
// back in order, like everyone else's.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gogpu/paintnet"
	"github.com/gogpu/paintnet/internal/blend"
	"github.com/gogpu/paintnet/layer"
	"github.com/gogpu/paintnet/protocol"
	"github.com/gogpu/paintnet/state"
	"github.com/gogpu/paintnet/tile"
)

// Client errors.
var (
	// ErrHandshake is returned by Dial when the server does not open the
	// stream with a catch-up.
	ErrHandshake = errors.New("client: unexpected handshake")

	// ErrClosed is returned by intents on a closed client.
	ErrClosed = errors.New("client: connection closed")

	// ErrProtocolVersion is returned by Dial when the server does not
	// negotiate the subprotocol of paintnet.ProtocolVersion.
	ErrProtocolVersion = errors.New("client: protocol version mismatch")

	// ErrOutsideCanvas is returned by PutImage for an image that does not
	// overlap the canvas.
	ErrOutsideCanvas = errors.New("client: image outside the canvas")

	// ErrEmptyChat is returned by Chat for an empty message.
	ErrEmptyChat = errors.New("client: empty chat message")
)

// imageBlock bounds the width and height of one PutImage message.
const imageBlock = 256

// Rejection is a notice that the server refused a message.
type Rejection struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type config struct {
	dialer       *websocket.Dialer
	trackerOpts  []state.Option
	onRejection  func(Rejection)
	writeTimeout time.Duration
}

// Option configures a Client.
type Option func(*config)

// WithDialer sets the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *config) {
		c.dialer = d
	}
}

// WithTrackerOptions passes options to the local state.Tracker, such as
// state.WithObserver. The local user id is set by the client.
func WithTrackerOptions(opts ...state.Option) Option {
	return func(c *config) {
		c.trackerOpts = append(c.trackerOpts, opts...)
	}
}

// WithRejectionHandler registers a callback for rejection notices. It is
// called from the read goroutine.
func WithRejectionHandler(fn func(Rejection)) Option {
	return func(c *config) {
		c.onRejection = fn
	}
}

// Client is a connection to one session.
type Client struct {
	ws  *websocket.Conn
	cfg config
	id  uint8
	log *slog.Logger

	mu      sync.Mutex // guards tracker
	tracker *state.Tracker

	wmu sync.Mutex // serializes writes

	done chan struct{}
	err  error
}

// Dial joins the session at the WebSocket URL rawURL as name. It returns
// once the catch-up has been applied and acknowledged.
func Dial(ctx context.Context, rawURL, name string, opts ...Option) (*Client, error) {
	cfg := config{dialer: websocket.DefaultDialer, writeTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	q := u.Query()
	q.Set("name", name)
	u.RawQuery = q.Encode()

	dialer := *cfg.dialer
	dialer.Subprotocols = []string{paintnet.Subprotocol()}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", u.Redacted(), err)
	}
	if got := ws.Subprotocol(); got != paintnet.Subprotocol() {
		ws.Close()
		return nil, fmt.Errorf("%w: server chose %q", ErrProtocolVersion, got)
	}
	c := &Client{
		ws:   ws,
		cfg:  cfg,
		log:  paintnet.Logger().With("url", u.Redacted()),
		done: make(chan struct{}),
	}
	if deadline, ok := ctx.Deadline(); ok {
		ws.SetReadDeadline(deadline)
	}
	if err := c.handshake(); err != nil {
		ws.Close()
		return nil, err
	}
	ws.SetReadDeadline(time.Time{})

	go c.readLoop()
	return c, nil
}

// handshake applies the catch-up, acknowledges it and learns the local
// user id from the UserJoin that follows.
func (c *Client) handshake() error {
	first, err := c.read()
	if err != nil {
		return err
	}
	pos, ok := first.(protocol.StreamPos)
	if !ok {
		return fmt.Errorf("%w: %v before catch-up", ErrHandshake, first.Type())
	}

	var catchup []protocol.Message
	for size := 0; size < int(pos.Pos); {
		m, err := c.read()
		if err != nil {
			return err
		}
		catchup = append(catchup, m)
		size += m.Len()
	}
	if err := c.Send(pos); err != nil {
		return err
	}

	m, err := c.read()
	if err != nil {
		return err
	}
	join, ok := m.(protocol.UserJoin)
	if !ok {
		return fmt.Errorf("%w: %v instead of UserJoin", ErrHandshake, m.Type())
	}
	c.id = join.ID
	c.log = c.log.With("user", c.id)

	opts := append([]state.Option{state.WithLocalUser(c.id)}, c.cfg.trackerOpts...)
	c.tracker = state.NewTracker(opts...)
	for _, m := range catchup {
		c.tracker.Receive(m)
	}
	c.tracker.Receive(join)
	c.log.Info("client: joined", "catchup", len(catchup), "bytes", pos.Pos)
	return nil
}

// read returns the next protocol message, handling rejection notices.
func (c *Client) read() (protocol.Message, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage {
			var r Rejection
			if err := json.Unmarshal(data, &r); err == nil {
				c.log.Warn("client: message rejected", "type", r.Type, "err", r.Error)
				if c.cfg.onRejection != nil {
					c.cfg.onRejection(r)
				}
			}
			continue
		}
		msg, err := protocol.Unmarshal(data)
		if err != nil {
			deadline := time.Now().Add(c.cfg.writeTimeout)
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseProtocolError, "malformed message"), deadline)
			return nil, err
		}
		return msg, nil
	}
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		msg, err := c.read()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, net.ErrClosed) {
				c.err = err
				c.log.Warn("client: connection ended", "err", err)
			}
			break
		}
		c.mu.Lock()
		c.tracker.Receive(msg)
		c.mu.Unlock()
	}

	c.ws.Close()
	c.mu.Lock()
	c.tracker.EndRemoteContexts()
	c.mu.Unlock()
}

// ID returns the local user id.
func (c *Client) ID() uint8 { return c.id }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the connection, or nil after a normal
// close. It is valid once Done is closed.
func (c *Client) Err() error {
	<-c.done
	return c.err
}

// View calls fn with the replica locked. fn must not keep the tracker.
func (c *Client) View(fn func(t *state.Tracker)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.tracker)
}

// Seq returns the number of messages applied to the replica.
func (c *Client) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.Seq()
}

// Snapshot returns a fresh snapshot of the replica.
func (c *Client) Snapshot() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.GenerateSnapshot(true)
}

// Image returns the flattened canvas.
func (c *Client) Image() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.Stack().Flatten()
}

// PickColor returns the straight-alpha 0xAARRGGBB color of the flattened
// canvas at x, y. It reports false outside the canvas.
func (c *Client) PickColor(x, y int) (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.tracker.Stack()
	if x < 0 || y < 0 || x >= s.Width() || y >= s.Height() {
		return 0, false
	}
	t := s.FlattenTile(x/tile.Size, y/tile.Size)
	if t == nil {
		return 0, true
	}
	defer t.Release()
	return blend.Unpremultiply(t.Pixel(x%tile.Size, y%tile.Size)), true
}

func (c *Client) canvas() image.Rectangle {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.tracker.Stack()
	return image.Rect(0, 0, s.Width(), s.Height())
}

// Send transmits a raw message.
func (c *Client) Send(msg protocol.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, protocol.Marshal(msg)); err != nil {
		return fmt.Errorf("client: send %v: %w", msg.Type(), err)
	}
	return nil
}

// SetTool selects the brush and layer for the following strokes.
func (c *Client) SetTool(b layer.Brush, layerID uint8) error {
	m := protocol.ToolChange{
		Layer:     layerID,
		Blend:     uint8(b.Blend),
		Spacing:   clampByte(b.Spacing),
		SizeHi:    clampByte(b.RadiusHi),
		SizeLo:    clampByte(b.RadiusLo),
		HardHi:    clampByte(b.HardnessHi),
		HardLo:    clampByte(b.HardnessLo),
		OpacityHi: clampByte(b.OpacityHi),
		OpacityLo: clampByte(b.OpacityLo),
		ColorHi:   b.ColorHi,
		ColorLo:   b.ColorLo,
	}
	if b.Incremental {
		m.Mode |= protocol.ToolIncremental
	}
	return c.Send(m)
}

// PenMove continues the current stroke through pts, starting a new
// stroke after PenUp.
func (c *Client) PenMove(pts ...layer.Point) error {
	if len(pts) == 0 {
		return nil
	}
	m := protocol.PenMove{Points: make([]protocol.PenPoint, len(pts))}
	for i, p := range pts {
		m.Points[i] = protocol.PenPoint{
			X:        int16(max(min(math.Round(p.X), math.MaxInt16), math.MinInt16)),
			Y:        int16(max(min(math.Round(p.Y), math.MaxInt16), math.MinInt16)),
			Pressure: pressure(p.Pressure),
		}
	}
	return c.Send(m)
}

// PenUp ends the current stroke.
func (c *Client) PenUp() error {
	return c.Send(protocol.PenUp{})
}

// CreateLayer asks for a new layer on top of the stack.
func (c *Client) CreateLayer(title string, fill uint32) error {
	return c.Send(protocol.LayerCreate{Fill: fill, Title: title})
}

// PutImage writes img onto a layer with its top-left corner at x, y. The
// part outside the canvas is cut off. With composite set the image is
// blended over the layer, otherwise it replaces the covered pixels.
func (c *Client) PutImage(layerID uint8, x, y int, img image.Image, composite bool) error {
	w, h, px := layer.FromImage(img)
	return c.putPixels(layerID, image.Rect(x, y, x+w, y+h), px, composite)
}

// LoadImage scales img to the canvas size and writes it onto a layer.
func (c *Client) LoadImage(layerID uint8, img image.Image, composite bool) error {
	r := c.canvas()
	return c.putPixels(layerID, r, layer.FromImageScaled(img, r.Dx(), r.Dy()), composite)
}

// putPixels sends the part of the pixels covering r that lies on the
// canvas, in blocks of at most imageBlock square.
func (c *Client) putPixels(layerID uint8, r image.Rectangle, px []uint32, composite bool) error {
	clip := r.Intersect(c.canvas())
	if clip.Empty() {
		return ErrOutsideCanvas
	}
	for by := clip.Min.Y; by < clip.Max.Y; by += imageBlock {
		for bx := clip.Min.X; bx < clip.Max.X; bx += imageBlock {
			bw, bh := min(imageBlock, clip.Max.X-bx), min(imageBlock, clip.Max.Y-by)
			block := make([]uint32, 0, bw*bh)
			for row := by; row < by+bh; row++ {
				i := (row-r.Min.Y)*r.Dx() + bx - r.Min.X
				block = append(block, px[i:i+bw]...)
			}
			m, err := protocol.NewPutImage(0, layerID, bx, by, bw, bh, block, composite)
			if err != nil {
				return fmt.Errorf("client: %w", err)
			}
			if err := c.Send(m); err != nil {
				return err
			}
		}
	}
	return nil
}

// Chat sends a chat message.
func (c *Client) Chat(text string) error {
	if text == "" {
		return ErrEmptyChat
	}
	return c.Send(protocol.Chat{Text: text})
}

// Kick asks the session to remove participant id. Only operators may.
func (c *Client) Kick(id uint8) error {
	return c.Send(protocol.UserKick{ID: id})
}

// Close ends the connection and waits for the read loop to finish.
func (c *Client) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	c.wmu.Lock()
	err := c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(c.cfg.writeTimeout))
	c.wmu.Unlock()

	select {
	case <-c.done:
	case <-time.After(c.cfg.writeTimeout):
		c.ws.Close()
		<-c.done
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		err = nil
	}
	return err
}

func pressure(p float64) uint8 {
	if !(p > 0) {
		return 0
	}
	return uint8(min(p, 1)*255 + 0.5)
}

func clampByte(v int) uint8 {
	return uint8(max(min(v, 255), 0))
}
