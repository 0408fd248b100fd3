// Package layer implements the paintable surfaces of a canvas.
//
// A Stack holds Layers bottom to top; each Layer is a grid of tiles from
// package tile plus its compositing attributes. Brushes paint dabs and
// lines onto layers: incremental brushes directly, others into a sublayer
// per drawing context that is merged when the stroke ends, so concurrent
// strokes of different users on one layer never interleave their writes.
//
// All pixel arithmetic is integer or carefully ordered float64 math, so a
// given sequence of operations produces byte-identical tiles on every
// replica.
package layer
