package packet

import "github.com/pkg/errors"

// emptySentinel is the seq value stored in a fresh slot at a given
// bucket index: any value that cannot itself collide with that bucket,
// so an empty slot can always be distinguished from an occupied one
// without a separate boolean.
func emptySentinel(bucket uint32) uint32 {
	if bucket == 0 {
		return 1
	}
	return 0
}

// ErrDuplicate is returned by Insert when a packet already occupies the
// target slot at the given sequence number.
var ErrDuplicate = errors.New("packet: duplicate sequence number")

type slot struct {
	seq uint32
	pak *Packet
}

// Seq is pak_seq: a power-of-two array of (seq, *Packet) slots indexed
// by seq & mask. At most one packet occupies a given slot; inserting a
// second packet at a seq that maps to an already-occupied slot with a
// different seq is a collision the caller must resolve by growing or
// flushing first — Insert never overwrites silently.
type Seq struct {
	mask  uint32
	slots []slot
}

// NewSeq creates a ring with size slots; size must be a power of two.
func NewSeq(size uint32) *Seq {
	if size == 0 || size&(size-1) != 0 {
		panic("packet: pak_seq size must be a power of two")
	}
	s := &Seq{mask: size - 1, slots: make([]slot, size)}
	for i := range s.slots {
		s.slots[i].seq = emptySentinel(uint32(i))
	}
	return s
}

func (s *Seq) bucket(seq uint32) uint32 { return seq & s.mask }

// Get returns the packet stored at seq, or nil if that slot is empty or
// holds a different seq.
func (s *Seq) Get(seq uint32) *Packet {
	sl := &s.slots[s.bucket(seq)]
	if sl.seq != seq {
		return nil
	}
	return sl.pak
}

// Occupied reports whether seq's slot currently holds seq (i.e. not
// empty and not a different seq occupying the same bucket).
func (s *Seq) Occupied(seq uint32) bool { return s.Get(seq) != nil }

// Insert places pak at seq. Returns ErrDuplicate if that exact seq is
// already occupied; does not complain if a *different* seq occupies the
// bucket (the caller is responsible for head/tail bookkeeping that
// prevents this — in a correctly sized ring it cannot happen for seqs
// within [head,tail]).
func (s *Seq) Insert(seq uint32, pak *Packet) error {
	b := s.bucket(seq)
	if s.slots[b].seq == seq {
		return ErrDuplicate
	}
	s.slots[b] = slot{seq: seq, pak: pak}
	return nil
}

// Remove clears the slot at seq if it holds seq, returning the packet
// that was there (or nil).
func (s *Seq) Remove(seq uint32) *Packet {
	b := s.bucket(seq)
	sl := &s.slots[b]
	if sl.seq != seq {
		return nil
	}
	pak := sl.pak
	sl.seq = emptySentinel(b)
	sl.pak = nil
	return pak
}

// Size returns the number of slots in the ring.
func (s *Seq) Size() uint32 { return s.mask + 1 }

// Flush empties every slot without releasing the packets it held; the
// caller is responsible for releasing them (PCM does this on overflow
// and under-run flushes, per spec ownership rules).
func (s *Seq) Flush() {
	for i := range s.slots {
		s.slots[i].seq = emptySentinel(uint32(i))
		s.slots[i].pak = nil
	}
}

// SameBucket reports whether a and b map to the same ring slot. A
// head/tail walk that steps from a to the next candidate b and finds
// them sharing a bucket knows there is no other seq left to find there
// and must stop (spec §4.3 "Removal": bucket-skipping abort rule).
func (s *Seq) SameBucket(a, b uint32) bool { return s.bucket(a) == s.bucket(b) }
