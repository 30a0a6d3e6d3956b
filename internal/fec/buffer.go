package fec

import (
	"github.com/xtaci/vqerepair/internal/packet"
	"github.com/xtaci/vqerepair/internal/seqnum"
)

// MaxGapSize bounds how far a FEC packet's sn_base may lie from the
// buffer's current tail before it is rejected as out of range (spec
// §4.4 "Buffering"; default from original_source/'s VQEC_FEC_MAX_GAP_SIZE).
const MaxGapSize = 50

// dimension buffers one axis (column or row) of FEC packets in a
// pak_seq ring, tracking head/tail and the reference seq used to lift
// incoming 16-bit sn_base values.
type dimension struct {
	ring      *packet.Seq
	lastSeq   uint32
	haveLast  bool
	head      uint32
	tail      uint32
	count     uint32
}

func newDimension(ringSize uint32) *dimension {
	return &dimension{ring: packet.NewSeq(ringSize)}
}

func (d *dimension) empty() bool { return d.count == 0 }

// Buffer holds the column and row FEC rings for one FEC stream (e.g.
// FEC0 or FEC1), plus the shared order-detection and (L, D, order)
// cache spec §4.4 describes as per-channel state.
type Buffer struct {
	column *dimension
	row    *dimension

	detector OrderDetector
	l, d     uint8
	order    Order
	haveLD   bool

	CountLate         uint64
	CountOutOfRange   uint64
	CountDuplicate    uint64
	CountBadHeader    uint64
	CountOverflow     uint64
}

// NewBuffer creates a Buffer whose column/row rings hold ringSize slots
// each (a power of two).
func NewBuffer(ringSize uint32) *Buffer {
	return &Buffer{
		column: newDimension(ringSize),
		row:    newDimension(ringSize),
	}
}

func (b *Buffer) dim(hdr *packet.FECHeader) *dimension {
	if hdr.D {
		return b.row
	}
	return b.column
}

// Insert lifts and stores a FEC packet's sn_base into the appropriate
// dimension ring, rejecting duplicates and out-of-range packets with
// per-category counters, and flushing that dimension alone on overflow.
// It also feeds the order detector when the packet lands in the column
// dimension.
func (b *Buffer) Insert(pak *packet.Packet) error {
	hdr := pak.FECHeader
	d := b.dim(hdr)

	if !d.haveLast {
		d.lastSeq = hdr.SNBase
		d.haveLast = true
	}
	hdr.SNBase = seqnum.Lift(uint16(hdr.SNBase), d.lastSeq)
	pak.Seq = hdr.SNBase

	if !d.empty() {
		if snLess(hdr.SNBase, d.head) && d.tail-d.head >= MaxGapSize {
			b.CountLate++
			return ErrOutOfRange
		}
		if d.ring.Occupied(hdr.SNBase) {
			b.CountDuplicate++
			return ErrDuplicate
		}
		if snDelta(hdr.SNBase, d.tail) > MaxGapSize || snDelta(d.head, hdr.SNBase) > MaxGapSize {
			b.CountOutOfRange++
			return ErrOutOfRange
		}
	}

	if err := d.ring.Insert(hdr.SNBase, pak); err != nil {
		b.CountOverflow++
		d.ring.Flush()
		d.count = 0
		_ = d.ring.Insert(hdr.SNBase, pak)
	}

	if d.empty() {
		d.head, d.tail = hdr.SNBase, hdr.SNBase
	} else {
		if snLess(hdr.SNBase, d.head) {
			d.head = hdr.SNBase
		}
		if snLess(d.tail, hdr.SNBase) {
			d.tail = hdr.SNBase
		}
	}
	d.count++
	d.lastSeq = hdr.SNBase

	if !hdr.D {
		order := b.detector.Sample(hdr.SNBase, hdr.L, hdr.NABits)
		b.l, b.d, b.haveLD = hdr.L, hdr.NABits, true
		if order != NotDecided {
			b.order = order
		}
	}
	return nil
}

// Remove discards the FEC packet with the given sn_base from the
// appropriate dimension, advancing head/tail with the same
// bucket-skipping abort rule pcm.RemovePacket uses (spec §4.3
// "Removal"), so a retired FEC packet's slot stops narrowing the
// dimension's out-of-range window in Insert.
func (b *Buffer) Remove(hdr *packet.FECHeader, snBase uint32) *packet.Packet {
	d := b.dim(hdr)
	pak := d.ring.Remove(snBase)
	if pak == nil {
		return nil
	}
	d.count--

	if d.count == 0 {
		d.head, d.tail = 0, 0
		return pak
	}

	if snBase == d.head {
		cur := snBase
		for {
			next := cur + 1
			if d.ring.SameBucket(cur, next) {
				break
			}
			if d.ring.Occupied(next) {
				d.head = next
				break
			}
			cur = next
			if next == d.tail {
				break
			}
		}
	}
	if snBase == d.tail {
		cur := snBase
		for {
			prev := cur - 1
			if d.ring.SameBucket(cur, prev) {
				break
			}
			if d.ring.Occupied(prev) {
				d.tail = prev
				break
			}
			cur = prev
			if prev == d.head {
				break
			}
		}
	}
	return pak
}

// Triple returns the currently cached (L, D, order); ok is false until
// at least one column FEC packet has been seen.
func (b *Buffer) Triple() (l, d uint8, order Order, ok bool) {
	return b.l, b.d, b.order, b.haveLD
}

// RowFECs and ColumnFECs expose the live packets in each dimension, for
// the 2-D iteration driver in decode.go.
func (b *Buffer) RowFECs(fn func(*packet.Packet)) { walkDim(b.row, fn) }
func (b *Buffer) ColumnFECs(fn func(*packet.Packet)) { walkDim(b.column, fn) }

func walkDim(d *dimension, fn func(*packet.Packet)) {
	if d.empty() {
		return
	}
	for seq := d.head; ; seq++ {
		if pak := d.ring.Get(seq); pak != nil {
			fn(pak)
		}
		if seq == d.tail {
			break
		}
	}
}

func snLess(a, b uint32) bool { return int32(a-b) < 0 }

func snDelta(a, b uint32) uint32 {
	if snLess(a, b) {
		return b - a
	}
	return a - b
}
