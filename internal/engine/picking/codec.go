// Package picking identifies the geometry under a pixel.
//
// Geometry is redrawn with every instance or primitive colored by its encoded
// id, the pixels around the cursor are read back, and the id covering most of
// that window wins. The window vote absorbs edge anti-aliasing and sub-pixel
// cursor placement.
package picking

// IDBits is the number of id bits carried by a picking color.
const IDBits = 23

// IDMask masks the id part of an encoded value.
const IDMask uint32 = 1<<IDBits - 1

// Flags carried in the bits above the id.
const (
	FlagSelected uint32 = 1 << IDBits

	FlagMask = FlagSelected
)

// NoHit is the id decoded from the background color.
const NoHit uint32 = 0

// Encode packs id (masked to 23 bits) and flags into an RGB triple,
// most significant byte first.
func Encode(id, flags uint32) [3]uint8 {
	v := id&IDMask | flags&FlagMask
	return [3]uint8{uint8(v >> 16), uint8(v >> 8), uint8(v)}
}

// Decode returns the id of an encoded color, dropping flag bits.
// Black decodes to NoHit.
func Decode(c [3]uint8) uint32 {
	v := uint32(c[0])<<16 | uint32(c[1])<<8 | uint32(c[2])
	return v & IDMask
}

// DecodeFlags returns the flag bits of an encoded color.
func DecodeFlags(c [3]uint8) uint32 {
	return uint32(c[0])<<16 & FlagMask
}

// ColorOf returns the opaque RGBA draw color for id and flags.
func ColorOf(id, flags uint32) [4]uint8 {
	c := Encode(id, flags)
	return [4]uint8{c[0], c[1], c[2], 255}
}

// MajorityIDInSquare decodes every RGBA pixel of a width x height window and
// returns the non-zero id seen most often. Ties go to the id seen first in
// scan order. A window holding only background returns NoHit.
func MajorityIDInSquare(pixels []byte, width, height int) uint32 {
	n := width * height
	if n <= 0 || len(pixels) < n*4 {
		return NoHit
	}

	counts := make(map[uint32]int)
	var order []uint32
	for i := 0; i < n; i++ {
		p := pixels[i*4:]
		id := Decode([3]uint8{p[0], p[1], p[2]})
		if id == NoHit {
			continue
		}
		if counts[id] == 0 {
			order = append(order, id)
		}
		counts[id]++
	}

	best, bestCount := NoHit, 0
	for _, id := range order {
		if counts[id] > bestCount {
			best, bestCount = id, counts[id]
		}
	}
	return best
}
