// Package paintnet is a collaborative canvas synchronization engine.
//
// # Overview
//
// Several participants edit one raster image at the same time. Every
// drawing intent is encoded as a compact binary message, sequenced by a
// single session authority and replayed in that order on every replica,
// so all participants converge to pixel-identical canvases.
//
// # Architecture
//
// The module is organized leaf-first:
//   - tile: 64x64 premultiplied ARGB pixel blocks
//   - layer: layers, per-user stroke sublayers, the layer stack and brushes
//   - protocol: the wire codec (a closed set of message types)
//   - state: the state tracker applying ordered messages, history and snapshots
//   - session: the authority that orders, authorizes and relays messages
//   - store, relay: archive and mirror sinks for the ordered stream
//   - server, client: WebSocket transport for hosts and participants
//
// # Logging
//
// paintnet is silent by default. Use [SetLogger] to route diagnostics to
// a [log/slog] logger shared by all sub-packages.
package paintnet

import "strconv"

// Version information
const (
	// Version is the current version of the module.
	Version = "0.3.0"

	// ProtocolVersion identifies the wire format. Replicas speaking
	// different protocol versions cannot share a session.
	ProtocolVersion = 4
)

// Subprotocol returns the WebSocket subprotocol name of ProtocolVersion.
// Servers and clients refuse a connection that does not negotiate it.
func Subprotocol() string {
	return "paintnet.v" + strconv.Itoa(ProtocolVersion)
}
