package state

import "github.com/gogpu/paintnet/protocol"

// Observer receives notifications from a Tracker. Methods are called
// synchronously on the goroutine applying messages and must not call back
// into the Tracker.
//
// Embed NopObserver to implement only the notifications of interest.
type Observer interface {
	// CommandApplied is called after every message is applied.
	CommandApplied(seq uint64, msg protocol.Message)

	// CanvasModified reports the tiles (grid coordinates) whose pixels may
	// have changed.
	CanvasModified(tiles [][2]int)

	// LayerCreated reports a new layer; mine is set when the local user
	// created it.
	LayerCreated(id uint8, mine bool)

	// AnnotationCreated reports a new annotation; mine is set when the
	// local user created it.
	AnnotationCreated(id uint8, mine bool)

	UserJoined(id uint8, name string)
	UserLeft(id uint8)
	Chat(id uint8, text string)
	SessionConfChanged(locked, closed bool)
	TitleChanged(title string)
}

// NopObserver implements Observer with no-op methods.
type NopObserver struct{}

func (NopObserver) CommandApplied(uint64, protocol.Message) {}
func (NopObserver) CanvasModified([][2]int)                 {}
func (NopObserver) LayerCreated(uint8, bool)                {}
func (NopObserver) AnnotationCreated(uint8, bool)           {}
func (NopObserver) UserJoined(uint8, string)                {}
func (NopObserver) UserLeft(uint8)                          {}
func (NopObserver) Chat(uint8, string)                      {}
func (NopObserver) SessionConfChanged(bool, bool)           {}
func (NopObserver) TitleChanged(string)                     {}
