// Package blend implements the integer compositing kernels used by tiles.
//
// All operations work on premultiplied alpha values in the range 0-255 and
// use integer arithmetic only, so every replica of a canvas produces the
// same bytes for the same sequence of operations regardless of platform.
//
// References:
//   - Porter-Duff: "Compositing Digital Images" (1984)
//   - W3C Compositing and Blending Level 1: https://www.w3.org/TR/compositing-1/
package blend

// Op identifies a blend kernel. The numeric values are part of the wire
// format: they are transmitted in layer attributes and tool changes.
type Op uint8

const (
	OpErase      Op = iota // Result: D*(1-Sa)
	OpNormal               // Result: S + D*(1-Sa)
	OpMultiply             // B = S*D
	OpBurn                 // B = 1 - (1-D)/S
	OpDodge                // B = D/(1-S)
	OpDarken               // B = min(S, D)
	OpLighten              // B = max(S, D)
	OpSubtract             // B = max(D-S, 0)
	OpAdd                  // B = min(S+D, 1)
	OpScreen               // B = 1 - (1-S)*(1-D)
	OpOverlay              // HardLight with swapped layers
	OpHardLight            // Multiply or Screen depending on source
	OpDifference           // B = |S-D|
	OpExclusion            // B = S + D - 2*S*D
	OpReplace              // Result: S

	opCount
)

// opNames maps Op values to their string representation.
var opNames = [...]string{
	OpErase:      "Erase",
	OpNormal:     "Normal",
	OpMultiply:   "Multiply",
	OpBurn:       "Burn",
	OpDodge:      "Dodge",
	OpDarken:     "Darken",
	OpLighten:    "Lighten",
	OpSubtract:   "Subtract",
	OpAdd:        "Add",
	OpScreen:     "Screen",
	OpOverlay:    "Overlay",
	OpHardLight:  "HardLight",
	OpDifference: "Difference",
	OpExclusion:  "Exclusion",
	OpReplace:    "Replace",
}

// String returns the string representation of an Op.
func (op Op) String() string {
	if op < opCount {
		return opNames[op]
	}
	return "Unknown"
}

// Valid reports whether op names a known kernel.
func (op Op) Valid() bool {
	return op < opCount
}

// Func is the signature for blend operations.
// All values are premultiplied alpha, 0-255.
type Func func(sr, sg, sb, sa, dr, dg, db, da byte) (r, g, b, a byte)

// kernels is indexed by Op.
var kernels = [opCount]Func{
	OpErase:      blendErase,
	OpNormal:     blendSourceOver,
	OpMultiply:   blendMultiply,
	OpBurn:       blendColorBurn,
	OpDodge:      blendColorDodge,
	OpDarken:     blendDarken,
	OpLighten:    blendLighten,
	OpSubtract:   blendSubtract,
	OpAdd:        blendAdd,
	OpScreen:     blendScreen,
	OpOverlay:    blendOverlay,
	OpHardLight:  blendHardLight,
	OpDifference: blendDifference,
	OpExclusion:  blendExclusion,
	OpReplace:    blendReplace,
}

// Lookup returns the blend function for op.
// Unknown ops fall back to normal compositing.
func Lookup(op Op) Func {
	if op < opCount {
		return kernels[op]
	}
	return blendSourceOver
}

// Pixel blends two premultiplied 0xAARRGGBB values.
func Pixel(fn Func, src, dst uint32) uint32 {
	r, g, b, a := fn(
		byte(src>>16), byte(src>>8), byte(src), byte(src>>24),
		byte(dst>>16), byte(dst>>8), byte(dst), byte(dst>>24),
	)
	return uint32(a)<<24 | uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}
