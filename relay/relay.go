// Package relay mirrors accepted session messages onto Redis pub/sub so
// read-only observers on other hosts can follow a session live.
//
// Each session publishes on the channel "<prefix>:<session id>". A payload
// is the big-endian sequence number followed by the marshaled message.
package relay

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/gogpu/paintnet"
	"github.com/gogpu/paintnet/protocol"
)

// DefaultPrefix is the channel prefix used when none is given.
const DefaultPrefix = "paintnet"

// ErrShortPayload is returned for a payload without a sequence number.
var ErrShortPayload = errors.New("relay: payload too short")

// Event is one relayed message.
type Event struct {
	Seq uint64
	Msg protocol.Message
}

// Relay publishes and subscribes session streams.
type Relay struct {
	rdb    redis.UniversalClient
	prefix string
}

// New creates a relay on rdb. An empty prefix selects DefaultPrefix.
func New(rdb redis.UniversalClient, prefix string) *Relay {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Relay{rdb: rdb, prefix: prefix}
}

// Channel returns the pub/sub channel of a session.
func (r *Relay) Channel(sessionID string) string {
	return r.prefix + ":" + sessionID
}

// Record publishes one accepted message. It implements session.Sink.
func (r *Relay) Record(ctx context.Context, sessionID string, seq uint64, msg protocol.Message) error {
	if err := r.rdb.Publish(ctx, r.Channel(sessionID), encode(seq, msg)).Err(); err != nil {
		return fmt.Errorf("relay: publish %s: %w", sessionID, err)
	}
	return nil
}

// Subscribe follows a session. The returned channel is closed when ctx
// ends or the subscription fails. Undecodable payloads are logged and
// skipped.
func (r *Relay) Subscribe(ctx context.Context, sessionID string) (<-chan Event, error) {
	channel := r.Channel(sessionID)
	pubsub := r.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("relay: subscribe %s: %w", channel, err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer pubsub.Close()

		log := paintnet.Logger().With("channel", channel)
		in := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				ev, err := decode([]byte(m.Payload))
				if err != nil {
					log.Warn("relay: bad payload", "err", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func encode(seq uint64, msg protocol.Message) []byte {
	b := make([]byte, 0, 8+msg.Len())
	b = binary.BigEndian.AppendUint64(b, seq)
	return protocol.Append(b, msg)
}

func decode(p []byte) (Event, error) {
	if len(p) < 8 {
		return Event{}, ErrShortPayload
	}
	msg, err := protocol.Unmarshal(p[8:])
	if err != nil {
		return Event{}, err
	}
	return Event{Seq: binary.BigEndian.Uint64(p), Msg: msg}, nil
}
