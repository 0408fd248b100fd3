package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gogpu/paintnet/protocol"
	"github.com/gogpu/paintnet/session"
)

// maxCloseReason is the longest close reason a control frame can carry.
const maxCloseReason = 120

type frame struct {
	kind int
	data []byte
}

// rejection is the text notice sent for a refused message.
type rejection struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

var _ session.Peer = (*conn)(nil)

// conn is one participant connection. It implements session.Peer with a
// byte-bounded queue drained by the write pump, so the session goroutine
// never waits on the network.
type conn struct {
	ws  *websocket.Conn
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	queue   []frame
	pending int    // bytes queued or being written
	closing []byte // close frame payload; set once the connection ends

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newConn(ws *websocket.Conn, cfg Config, log *slog.Logger) *conn {
	return &conn{
		ws:   ws,
		cfg:  cfg,
		log:  log,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Send queues a relayed message.
func (c *conn) Send(msg protocol.Message) {
	c.enqueue(frame{websocket.BinaryMessage, protocol.Marshal(msg)})
}

// Reject queues a rejection notice.
func (c *conn) Reject(msg protocol.Message, err error) {
	data, jerr := json.Marshal(rejection{Type: msg.Type().String(), Error: err.Error()})
	if jerr != nil {
		return
	}
	c.enqueue(frame{websocket.TextMessage, data})
}

// Disconnect ends the connection after the frames already queued. A
// kicked participant gets a policy violation close, everyone else a
// going-away close.
func (c *conn) Disconnect(err error) {
	code := websocket.CloseGoingAway
	if errors.Is(err, session.ErrKicked) {
		code = websocket.ClosePolicyViolation
	}
	c.stop(code, err.Error())
}

func (c *conn) enqueue(f frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing != nil {
		return
	}
	if c.pending+len(f.data) > c.cfg.SendBuffer {
		c.log.Warn("server: send buffer full, dropping connection", "pending", c.pending)
		c.queue = nil
		c.closing = websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too slow")
		c.drop()
		return
	}
	c.queue = append(c.queue, f)
	c.pending += len(f.data)
	c.signal()
}

func (c *conn) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// take hands the queued frames to the write pump. Their bytes stay
// pending until written.
func (c *conn) take() ([]frame, []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.queue
	c.queue = nil
	return q, c.closing
}

func (c *conn) written(n int) {
	c.mu.Lock()
	c.pending -= n
	c.mu.Unlock()
}

// stop asks the write pump to flush the queue, send a close frame and
// close the connection. Only the first call has an effect. It never
// blocks.
func (c *conn) stop(code int, reason string) {
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing != nil {
		return
	}
	c.closing = websocket.FormatCloseMessage(code, reason)
	c.signal()
}

// drop closes the connection at once. Blocked reads and writes fail.
func (c *conn) drop() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// write sends one frame, dropping the connection on failure.
func (c *conn) write(kind int, data []byte) bool {
	c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	if err := c.ws.WriteMessage(kind, data); err != nil {
		c.log.Debug("server: write failed", "err", err)
		c.drop()
		return false
	}
	return true
}

func (c *conn) writePump() {
	ticker := time.NewTicker(c.cfg.PongWait * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
			frames, closing := c.take()
			for _, f := range frames {
				if !c.write(f.kind, f.data) {
					return
				}
				c.written(len(f.data))
			}
			if closing != nil {
				c.write(websocket.CloseMessage, closing)
				c.drop()
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// serve joins sess and pumps messages from the connection into it until
// the connection ends.
func (c *conn) serve(ctx context.Context, sess *session.Session, name string) {
	go c.writePump()

	c.ws.SetReadLimit(c.cfg.ReadLimit)
	c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	id, err := sess.Join(ctx, c, name)
	if err != nil {
		c.log.Info("server: join refused", "err", err)
		c.stop(websocket.CloseTryAgainLater, err.Error())
		return
	}
	log := c.log.With("user", id)
	defer func() {
		if err := sess.Leave(context.WithoutCancel(ctx), id); err != nil && !errors.Is(err, session.ErrStopped) {
			log.Warn("server: leave", "err", err)
		}
		c.stop(websocket.CloseNormalClosure, "")
	}()

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info("server: connection lost", "err", err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			c.stop(websocket.CloseUnsupportedData, "binary messages only")
			return
		}
		msg, err := protocol.Unmarshal(data)
		if err != nil {
			log.Warn("server: protocol violation", "err", err)
			c.stop(websocket.CloseProtocolError, err.Error())
			return
		}
		if err := sess.Submit(ctx, id, msg); err != nil && !errors.Is(err, session.ErrRejected) {
			log.Info("server: submit failed", "err", err)
			return
		}
	}
}
