// Package bitmap implements the compact gap bitmap that underlies both
// retransmission gap reporting and FEC loss enumeration: a power-of-two
// length bit array with MSB-first-within-word addressing, range
// set/clear, block inspection, strided search, and contiguous gap-run
// extraction.
package bitmap

import "github.com/pkg/errors"

const (
	bitsPerWord = 32

	// MinSize and MaxSize bound the bitmap's bit length, per spec: a
	// power of two in [32, 65536].
	MinSize = 32
	MaxSize = 65536
)

// ErrInvalidArgs is returned for malformed ranges or sizes; callers must
// not assume partial state changes took effect.
var ErrInvalidArgs = errors.New("bitmap: invalid arguments")

// Bitmap is a fixed-size, power-of-two-length array of bits, addressed
// MSB-first within each 32-bit word: bit i lives in word i>>5, at mask
// 1<<(31-(i&31)).
type Bitmap struct {
	size  uint32 // bit length, power of two
	words []uint32
}

// New creates a bitmap of the given bit size. size must be a power of
// two in [MinSize, MaxSize].
func New(size uint32) (*Bitmap, error) {
	if size < MinSize || size > MaxSize || size&(size-1) != 0 {
		return nil, ErrInvalidArgs
	}
	return &Bitmap{
		size:  size,
		words: make([]uint32, size/bitsPerWord),
	}, nil
}

// Size returns the bitmap's bit length.
func (b *Bitmap) Size() uint32 { return b.size }

func (b *Bitmap) index(i uint32) (word, mask uint32) {
	i %= b.size
	word = i / bitsPerWord
	mask = uint32(1) << (31 - (i % bitsPerWord))
	return
}

// Flush zeroes every bit. Idempotent.
func (b *Bitmap) Flush() {
	for i := range b.words {
		b.words[i] = 0
	}
}

// SetBit sets bit i (mod size).
func (b *Bitmap) SetBit(i uint32) {
	w, m := b.index(i)
	b.words[w] |= m
}

// ClearBit clears bit i (mod size).
func (b *Bitmap) ClearBit(i uint32) {
	w, m := b.index(i)
	b.words[w] &^= m
}

// GetBit returns the current value of bit i (mod size).
func (b *Bitmap) GetBit(i uint32) bool {
	w, m := b.index(i)
	return b.words[w]&m != 0
}

// GetBlock returns the 32-bit word containing bit i, word-aligned to
// i &^ 31.
func (b *Bitmap) GetBlock(i uint32) uint32 {
	w, _ := b.index(i)
	return b.words[w]
}

// ClearBlock zeroes the word containing bit i.
func (b *Bitmap) ClearBlock(i uint32) {
	w, _ := b.index(i)
	b.words[w] = 0
}

// ModifyBitRange sets (v=true) or clears (v=false) bits [a,b] inclusive.
// a>b is rejected as invalid; the range never wraps.
func (b *Bitmap) ModifyBitRange(a, b32 uint32, v bool) error {
	if a > b32 {
		return ErrInvalidArgs
	}
	for i := a; i <= b32; i++ {
		if v {
			b.SetBit(i)
		} else {
			b.ClearBit(i)
		}
		if i == b32 { // guard against uint32 overflow when b32 == max uint32
			break
		}
	}
	return nil
}

// GapRun is a closed run [Start, Start+Extent] of missing (zero) bits
// on the inverted view of the bitmap.
type GapRun struct {
	Start  uint32
	Extent uint32 // run covers Start..Start+Extent inclusive
}

// GapEnumerate walks the *inverted* view of the bitmap (0 bits are
// "gaps") over the inclusive range [seq1, seq2], writing up to
// len(buf) runs into buf. It returns the runs written and more=true if
// it stopped because buf filled before reaching seq2.
//
// The caller is responsible for inverting generation/semantics: the
// scheduler's bitmap means "bit set == present", so gap enumeration
// here operates on set bits meaning "missing" — invert before calling
// if your bitmap uses the opposite polarity (see Inverted()).
func (b *Bitmap) GapEnumerate(seq1, seq2 uint32, buf []GapRun) (n int, more bool) {
	if seq1 > seq2 || len(buf) == 0 {
		return 0, false
	}

	inRun := false
	var runStart uint32

	// flush closes a pending run; end is one-past-the-last gap index,
	// so the run covers [runStart, end-1] and has extent end-runStart-1.
	flush := func(end uint32) bool {
		if inRun {
			buf[n] = GapRun{Start: runStart, Extent: end - runStart - 1}
			n++
			inRun = false
		}
		return n < len(buf)
	}

	i := seq1
	for i <= seq2 {
		// fast path: word-aligned and the whole word lies inside range
		if i%bitsPerWord == 0 && i+bitsPerWord-1 <= seq2 {
			word := b.GetBlock(i)
			switch word {
			case 0xffffffff: // all gaps (inverted-view all-zero means all-gap here; see Inverted)
				if !inRun {
					inRun = true
					runStart = i
				}
				i += bitsPerWord
				continue
			case 0x00000000: // all present
				if !flush(i) {
					return n, true
				}
				i += bitsPerWord
				continue
			}
		}

		// slow path: single bit
		gap := b.GetBit(i)
		if gap {
			if !inRun {
				inRun = true
				runStart = i
			}
		} else {
			if !flush(i) {
				return n, true
			}
		}
		if i == seq2 {
			break
		}
		i++
	}
	flush(seq2 + 1)
	return n, false
}

// StridedSearch reads count bits starting at `start`, stepping by
// `stride` each iteration (on the inverted view, where a set bit means
// "gap"), and returns the sequence numbers where the bit is set.
func (b *Bitmap) StridedSearch(start, stride uint32, count int) []uint32 {
	var out []uint32
	seq := start
	for k := 0; k < count; k++ {
		if b.GetBit(seq) {
			out = append(out, seq)
		}
		seq += stride
	}
	return out
}

// Inverted returns a bitmap with every word bitwise-complemented: used
// by FEC and gap reporting to flip the "present" polarity (bit=1 means
// present in PCM's own bitmap) into the "gap" polarity (bit=1 means
// missing) that GapEnumerate/StridedSearch expect.
func (b *Bitmap) Inverted() *Bitmap {
	out := &Bitmap{size: b.size, words: make([]uint32, len(b.words))}
	for i, w := range b.words {
		out.words[i] = ^w
	}
	return out
}
