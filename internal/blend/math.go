package blend

// MulDiv255 multiplies two bytes and divides by 255 with rounding.
//
// Formula: (a * b + 127) / 255
//
// The exact form is used instead of a shift approximation: replicas must
// agree bit for bit, and the approximation differs from the exact result
// for some inputs.
func MulDiv255(a, b byte) byte {
	return byte((uint16(a)*uint16(b) + 127) / 255)
}

// mulDiv255 is the package-local spelling used by the kernels.
func mulDiv255(a, b byte) byte {
	return MulDiv255(a, b)
}

// addClamp adds two bytes and clamps to 255.
func addClamp(a, b byte) byte {
	sum := uint16(a) + uint16(b)
	if sum > 255 {
		return 255
	}
	return byte(sum)
}

// subClamp subtracts b from a, clamping to 0.
func subClamp(a, b byte) byte {
	if b >= a {
		return 0
	}
	return a - b
}

// minByte returns the smaller of two bytes.
func minByte(a, b byte) byte {
	if a < b {
		return a
	}
	return b
}

// maxByte returns the larger of two bytes.
func maxByte(a, b byte) byte {
	if a > b {
		return a
	}
	return b
}

// Premultiply scales the color channels of a straight-alpha 0xAARRGGBB
// value by its alpha.
func Premultiply(c uint32) uint32 {
	a := byte(c >> 24)
	if a == 255 {
		return c
	}
	r := mulDiv255(byte(c>>16), a)
	g := mulDiv255(byte(c>>8), a)
	b := mulDiv255(byte(c), a)
	return uint32(a)<<24 | uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// Unpremultiply converts a premultiplied 0xAARRGGBB value back to
// straight alpha.
func Unpremultiply(c uint32) uint32 {
	a := uint32(c >> 24)
	if a == 0 || a == 255 {
		if a == 0 {
			return 0
		}
		return c
	}
	r := min((uint32(byte(c>>16))*255+a/2)/a, 255)
	g := min((uint32(byte(c>>8))*255+a/2)/a, 255)
	b := min((uint32(byte(c))*255+a/2)/a, 255)
	return a<<24 | r<<16 | g<<8 | b
}

// Scale multiplies every channel of a premultiplied value by k/255.
func Scale(c uint32, k byte) uint32 {
	if k == 255 {
		return c
	}
	if k == 0 {
		return 0
	}
	return uint32(mulDiv255(byte(c>>24), k))<<24 |
		uint32(mulDiv255(byte(c>>16), k))<<16 |
		uint32(mulDiv255(byte(c>>8), k))<<8 |
		uint32(mulDiv255(byte(c), k))
}
