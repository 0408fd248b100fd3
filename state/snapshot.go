package state

import (
	"maps"
	"slices"

	"github.com/gogpu/paintnet/layer"
	"github.com/gogpu/paintnet/protocol"
	"github.com/gogpu/paintnet/tile"
)

// GenerateSnapshot returns a message sequence that rebuilds the current
// state on an empty replica: canvas size, session flags, users, layers
// with their non-blank tiles, annotations, the title and the tools and
// in-progress strokes of every drawing context.
//
// The result is cached. Unless forceNew is set, a cached snapshot is
// returned as long as the messages applied after it are still in the
// history; Catchup pairs it with that tail.
func (t *Tracker) GenerateSnapshot(forceNew bool) []protocol.Message {
	if forceNew || !t.hasSnap || t.snapshotAt < t.historyStart {
		t.snapshot = t.buildSnapshot()
		t.snapshotAt = t.Seq()
		t.hasSnap = true
		t.log.Debug("state: snapshot generated", "seq", t.snapshotAt, "messages", len(t.snapshot),
			"bytes", protocol.Size(t.snapshot))
	}
	return slices.Clone(t.snapshot)
}

func (t *Tracker) buildSnapshot() []protocol.Message {
	s := t.stack
	msgs := []protocol.Message{
		protocol.CanvasResize{Width: uint16(s.Width()), Height: uint16(s.Height())},
		protocol.SessionConf{Locked: t.locked, Closed: t.closed},
	}

	for _, id := range slices.Sorted(maps.Keys(t.users)) {
		u := t.users[id]
		msgs = append(msgs, protocol.UserJoin{ID: id, Name: u.name})
		if u.flags != 0 {
			msgs = append(msgs, protocol.UserAttr{ID: id, Flags: u.flags})
		}
		if u.layerLock != 0 {
			msgs = append(msgs, protocol.LayerLock{User: id, Layer: u.layerLock})
		}
	}

	for _, l := range s.Layers() {
		msgs = append(msgs,
			protocol.LayerCreate{ID: l.ID(), Title: l.Title()},
			protocol.LayerAttributes{ID: l.ID(), Opacity: l.Opacity(), Blend: uint8(l.Blend())},
		)
		msgs = t.appendTiles(msgs, l, 0, 0)
	}

	for _, a := range s.Annotations() {
		msgs = append(msgs,
			protocol.AnnotationCreate{
				ID: a.ID,
				X:  uint16(a.X), Y: uint16(a.Y),
				W: uint16(a.W), H: uint16(a.H),
			},
			protocol.AnnotationEdit{ID: a.ID, Background: a.Background, Text: a.Text},
		)
	}
	msgs = append(msgs, protocol.SessionTitle{Title: t.title})

	for _, id := range slices.Sorted(maps.Keys(t.contexts)) {
		c := t.contexts[id]
		if !c.hasTool {
			continue
		}
		msgs = append(msgs, c.tool)
		if !c.stroking {
			continue
		}
		if !c.brush.Incremental {
			if l := s.Layer(c.tool.Layer); l != nil {
				if sub := l.Sublayer(id); sub != nil {
					msgs = t.appendTiles(msgs, sub, id, protocol.PutImageSublayer)
				}
			}
		}
		msgs = append(msgs, protocol.StrokeResume{Ctx: id, Last: c.last, Distance: c.stroke.Distance})
	}
	return msgs
}

// appendTiles appends one PutImage per non-blank tile of l, clipped to
// the canvas. Sublayers are addressed through their parent layer.
func (t *Tracker) appendTiles(msgs []protocol.Message, l *layer.Layer, ctx, flags uint8) []protocol.Message {
	target := l.ID()
	if flags&protocol.PutImageSublayer != 0 {
		target = t.contexts[ctx].tool.Layer
	}

	buf := make([]uint32, tile.Pixels)
	for ty := range l.YTiles() {
		for tx := range l.XTiles() {
			tl := l.Tile(tx, ty)
			if tl == nil || tl.IsBlank() {
				continue
			}
			x, y := tx*tile.Size, ty*tile.Size
			w, h := min(tile.Size, l.Width()-x), min(tile.Size, l.Height()-y)

			tl.CopyTo(buf)
			pixels := make([]uint32, 0, w*h)
			for row := range h {
				pixels = append(pixels, buf[row*tile.Size:row*tile.Size+w]...)
			}
			m, err := protocol.NewPutImage(ctx, target, x, y, w, h, pixels, false)
			if err != nil {
				t.log.Error("state: snapshot tile", "layer", target, "tx", tx, "ty", ty, "err", err)
				continue
			}
			m.Flags |= flags
			msgs = append(msgs, m)
		}
	}
	return msgs
}
