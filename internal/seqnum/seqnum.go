// Package seqnum implements the 16-to-32-bit sequence number arithmetic
// used throughout the repair core. Packets carry a 16-bit RTP sequence
// number on the wire; all internal state (pak_seq slots, bitmap indices,
// scheduler bookkeeping) works in a lifted 32-bit space so that ordinary
// signed-difference comparisons keep working across 16-bit wraps.
package seqnum

// InitialReference is the starting value for a fresh per-stream
// reference sequence. Centering it at 0x8000 guarantees the first
// incoming 16-bit sequence number, whatever its value, lifts into
// generation 0 rather than landing in generation -1.
const InitialReference uint32 = 0x8000

// Lift maps a 16-bit wire sequence number to the 32-bit value nearest
// (mod 2^32) to ref. This is how an RTP sequence number binds to a
// "generation" (the high 16 bits of the lifted value).
func Lift(s uint16, ref uint32) uint32 {
	base := ref &^ 0xffff // clear low 16 bits, keep generation
	candidate := base | uint32(s)

	// candidate, candidate-0x10000 and candidate+0x10000 are the three
	// neighbors of ref in 16-bit-periodic space; pick whichever is
	// closest by signed difference.
	best := candidate
	bestDist := abs32(int32(candidate - ref))

	for _, alt := range [2]uint32{candidate - 0x10000, candidate + 0x10000} {
		if d := abs32(int32(alt - ref)); d < bestDist {
			best = alt
			bestDist = d
		}
	}
	return best
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// Sub returns the signed delta a-b, mod 2^32.
func Sub(a, b uint32) int32 { return int32(a - b) }

// Add advances a seq by a signed delta.
func Add(a uint32, delta int32) uint32 { return a + uint32(delta) }

// Lt reports whether a precedes b.
func Lt(a, b uint32) bool { return Sub(a, b) < 0 }

// Le reports whether a precedes or equals b.
func Le(a, b uint32) bool { return Sub(a, b) <= 0 }

// Gt reports whether a follows b.
func Gt(a, b uint32) bool { return Sub(a, b) > 0 }

// Ge reports whether a follows or equals b.
func Ge(a, b uint32) bool { return Sub(a, b) >= 0 }

// Eq reports whether a equals b.
func Eq(a, b uint32) bool { return a == b }

// Min returns whichever of a, b precedes the other.
func Min(a, b uint32) uint32 {
	if Lt(a, b) {
		return a
	}
	return b
}

// Max returns whichever of a, b follows the other.
func Max(a, b uint32) uint32 {
	if Gt(a, b) {
		return a
	}
	return b
}

// MarkDiscontinuity advances ref into the next 16-bit generation: the
// high 16 bits are incremented and the low 16 bits are cleared. This is
// used after a flush/under-run so subsequent 16-bit wire sequence
// numbers bind to a fresh generation and cannot be mistaken for seq
// numbers from before the discontinuity.
func MarkDiscontinuity(ref uint32) uint32 {
	generation := ref >> 16
	return (generation + 1) << 16
}
