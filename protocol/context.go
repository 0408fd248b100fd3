package protocol

// Context returns the drawing context (originating user) of a command.
// Meta messages report false.
func Context(m Message) (uint8, bool) {
	switch m := m.(type) {
	case LayerCreate:
		return m.Ctx, true
	case LayerAttributes:
		return m.Ctx, true
	case LayerRetitle:
		return m.Ctx, true
	case LayerOrder:
		return m.Ctx, true
	case LayerDelete:
		return m.Ctx, true
	case PutImage:
		return m.Ctx, true
	case ToolChange:
		return m.Ctx, true
	case PenMove:
		return m.Ctx, true
	case PenUp:
		return m.Ctx, true
	case AnnotationCreate:
		return m.Ctx, true
	case AnnotationReshape:
		return m.Ctx, true
	case AnnotationEdit:
		return m.Ctx, true
	case AnnotationDelete:
		return m.Ctx, true
	case StrokeResume:
		return m.Ctx, true
	}
	return 0, false
}

// WithContext returns a copy of m attributed to context ctx. Messages that
// carry a user id (Chat) get ctx as their user. Other messages are
// returned unchanged.
func WithContext(m Message, ctx uint8) Message {
	switch m := m.(type) {
	case LayerCreate:
		m.Ctx = ctx
		return m
	case LayerAttributes:
		m.Ctx = ctx
		return m
	case LayerRetitle:
		m.Ctx = ctx
		return m
	case LayerOrder:
		m.Ctx = ctx
		return m
	case LayerDelete:
		m.Ctx = ctx
		return m
	case PutImage:
		m.Ctx = ctx
		return m
	case ToolChange:
		m.Ctx = ctx
		return m
	case PenMove:
		m.Ctx = ctx
		return m
	case PenUp:
		m.Ctx = ctx
		return m
	case AnnotationCreate:
		m.Ctx = ctx
		return m
	case AnnotationReshape:
		m.Ctx = ctx
		return m
	case AnnotationEdit:
		m.Ctx = ctx
		return m
	case AnnotationDelete:
		m.Ctx = ctx
		return m
	case StrokeResume:
		m.Ctx = ctx
		return m
	case Chat:
		m.ID = ctx
		return m
	}
	return m
}

// TargetLayer returns the layer a command writes to or modifies, when the
// command names one. PenMove and PenUp paint on the layer chosen by the
// context's last ToolChange and report false.
func TargetLayer(m Message) (uint8, bool) {
	switch m := m.(type) {
	case LayerAttributes:
		return m.ID, true
	case LayerRetitle:
		return m.ID, true
	case LayerDelete:
		return m.ID, true
	case PutImage:
		return m.Layer, true
	case ToolChange:
		return m.Layer, true
	}
	return 0, false
}
