package state

import (
	"errors"

	"github.com/gogpu/paintnet/layer"
	"github.com/gogpu/paintnet/protocol"
	"github.com/gogpu/paintnet/tile"
)

var (
	errNoTool   = errors.New("state: context has no tool")
	errNoStroke = errors.New("state: context has no stroke on layer")
)

// apply performs the effect of one message on the replica.
func (t *Tracker) apply(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.UserJoin:
		t.users[m.ID] = &user{name: m.Name}
		for _, o := range t.observers {
			o.UserJoined(m.ID, m.Name)
		}
	case protocol.UserLeave:
		t.endContext(m.ID)
		if _, ok := t.users[m.ID]; ok {
			delete(t.users, m.ID)
			for _, o := range t.observers {
				o.UserLeft(m.ID)
			}
		}
	case protocol.UserAttr:
		if u := t.users[m.ID]; u != nil {
			u.flags = m.Flags
		}
	case protocol.LayerLock:
		if u := t.users[m.User]; u != nil {
			u.layerLock = m.Layer
		}
	case protocol.Chat:
		for _, o := range t.observers {
			o.Chat(m.ID, m.Text)
		}
	case protocol.SessionTitle:
		t.title = m.Title
		for _, o := range t.observers {
			o.TitleChanged(m.Title)
		}
	case protocol.SessionConf:
		t.locked, t.closed = m.Locked, m.Closed
		for _, o := range t.observers {
			o.SessionConfChanged(m.Locked, m.Closed)
		}
	case protocol.StreamPos:
		// Synchronization marker only.

	case protocol.CanvasResize:
		t.stack.Resize(int(m.Width), int(m.Height))
	case protocol.LayerCreate:
		if _, err := t.stack.CreateLayer(m.ID, m.Fill, m.Title); err != nil {
			t.skip(msg, err)
			return
		}
		for _, o := range t.observers {
			o.LayerCreated(m.ID, t.mine(m.Ctx))
		}
	case protocol.LayerAttributes:
		l := t.findLayer(msg, m.ID)
		if l == nil {
			return
		}
		mode := tile.BlendMode(m.Blend)
		if !mode.Valid() {
			mode = tile.BlendNormal
		}
		l.SetAttributes(m.Opacity, mode)
	case protocol.LayerRetitle:
		if l := t.findLayer(msg, m.ID); l != nil {
			l.SetTitle(m.Title)
		}
	case protocol.LayerOrder:
		if err := t.stack.Reorder(m.Order); err != nil {
			t.skip(msg, err)
		}
	case protocol.LayerDelete:
		for _, c := range t.contexts {
			if c.hasTool && c.tool.Layer == m.ID {
				c.stroking = false
				c.stroke.Reset()
			}
		}
		if err := t.stack.DeleteLayer(m.ID, m.Merge); err != nil {
			t.skip(msg, err)
		}
	case protocol.PutImage:
		t.putImage(m)
	case protocol.ToolChange:
		c := t.context(m.Ctx)
		t.penUp(m.Ctx, c)
		c.tool = m
		c.hasTool = true
		c.brush = brushFromTool(m)
	case protocol.PenMove:
		t.penMove(m)
	case protocol.PenUp:
		if c := t.contexts[m.Ctx]; c != nil {
			t.penUp(m.Ctx, c)
		}
	case protocol.StrokeResume:
		c := t.context(m.Ctx)
		c.stroking = true
		c.last = m.Last
		c.stroke.Distance = m.Distance
	case protocol.AnnotationCreate:
		err := t.stack.AddAnnotation(layer.Annotation{
			ID: m.ID,
			X:  int(m.X), Y: int(m.Y),
			W: int(m.W), H: int(m.H),
		})
		if err != nil {
			t.skip(msg, err)
			return
		}
		for _, o := range t.observers {
			o.AnnotationCreated(m.ID, t.mine(m.Ctx))
		}
	case protocol.AnnotationReshape:
		if err := t.stack.ReshapeAnnotation(m.ID, int(m.X), int(m.Y), int(m.W), int(m.H)); err != nil {
			t.skip(msg, err)
		}
	case protocol.AnnotationEdit:
		if err := t.stack.EditAnnotation(m.ID, m.Background, m.Text); err != nil {
			t.skip(msg, err)
		}
	case protocol.AnnotationDelete:
		if err := t.stack.DeleteAnnotation(m.ID); err != nil {
			t.skip(msg, err)
		}
	}
}

func (t *Tracker) mine(ctx uint8) bool {
	return t.localID != 0 && ctx == t.localID
}

// skip logs a command that could not be applied.
func (t *Tracker) skip(msg protocol.Message, err error) {
	t.log.Warn("state: command skipped", "type", msg.Type(), "seq", t.Seq(), "err", err)
}

// layer returns the layer with the given id, logging when it is missing.
func (t *Tracker) findLayer(msg protocol.Message, id uint8) *layer.Layer {
	l := t.stack.Layer(id)
	if l == nil {
		t.skip(msg, layer.ErrNoLayer)
	}
	return l
}

func (t *Tracker) putImage(m protocol.PutImage) {
	l := t.findLayer(m, m.Layer)
	if l == nil {
		return
	}
	pixels, err := m.Pixels(t.stack.Width() * t.stack.Height())
	if err != nil {
		t.skip(m, err)
		return
	}

	if m.Sublayer() {
		c := t.contexts[m.Ctx]
		if c == nil || !c.hasTool || c.brush.Incremental || c.tool.Layer != m.Layer {
			t.skip(m, errNoStroke)
			return
		}
		l.StrokeTarget(m.Ctx, c.brush).PutImage(int(m.X), int(m.Y), int(m.W), int(m.H), pixels, false)
		return
	}
	l.PutImage(int(m.X), int(m.Y), int(m.W), int(m.H), pixels, m.Blend())
	l.Optimize()
}

func (t *Tracker) penMove(m protocol.PenMove) {
	c := t.contexts[m.Ctx]
	if c == nil || !c.hasTool {
		t.skip(m, errNoTool)
		return
	}
	l := t.findLayer(m, c.tool.Layer)
	if l == nil {
		return
	}

	for _, p := range m.Points {
		pt := penPoint(p)
		if !c.stroking {
			c.stroking = true
			c.stroke.Reset()
			l.Dab(m.Ctx, c.brush, pt)
		} else {
			l.DrawLine(m.Ctx, c.brush, penPoint(c.last), pt, &c.stroke)
		}
		c.last = p
	}
}

// penUp ends the stroke of a context, merging its sublayer.
// penUp ends the stroke of a context. The finished layer is optimized so
// tiles emptied by the stroke are released.
func (t *Tracker) penUp(id uint8, c *drawContext) {
	if c.stroking && c.hasTool {
		if l := t.stack.Layer(c.tool.Layer); l != nil {
			if !c.brush.Incremental {
				l.MergeSublayer(id)
			}
			l.Optimize()
		}
	}
	c.stroking = false
	c.stroke.Reset()
}

func penPoint(p protocol.PenPoint) layer.Point {
	return layer.Point{
		X:        float64(p.X),
		Y:        float64(p.Y),
		Pressure: float64(p.Pressure) / 255,
	}
}

// brushFromTool converts a ToolChange into a brush. Unknown blend modes
// fall back to normal.
func brushFromTool(m protocol.ToolChange) layer.Brush {
	mode := tile.BlendMode(m.Blend)
	if !mode.Valid() {
		mode = tile.BlendNormal
	}
	return layer.Brush{
		RadiusHi:    int(m.SizeHi),
		RadiusLo:    int(m.SizeLo),
		HardnessHi:  int(m.HardHi),
		HardnessLo:  int(m.HardLo),
		OpacityHi:   int(m.OpacityHi),
		OpacityLo:   int(m.OpacityLo),
		ColorHi:     m.ColorHi,
		ColorLo:     m.ColorLo,
		Spacing:     int(m.Spacing),
		Blend:       mode,
		Incremental: m.Incremental(),
	}
}
