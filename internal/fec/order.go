package fec

// Order is the detected head-end sending order for column FEC packets.
type Order uint8

const (
	NotDecided Order = iota
	AnnexA
	AnnexB
	Other
)

func (o Order) String() string {
	switch o {
	case AnnexA:
		return "annex-a"
	case AnnexB:
		return "annex-b"
	case Other:
		return "other"
	default:
		return "not-decided"
	}
}

// OrderDetector watches consecutive column FEC packets sharing the same
// (L, D) and decides Annex A vs Annex B sending order from the spacing
// between their sn_base values (spec §4.4). It is reset whenever (L, D)
// changes, since the detection window only compares samples from a
// single matrix configuration.
type OrderDetector struct {
	l, d     uint8
	snBase   [3]uint32
	n        int // number of samples collected for the current (l, d)
	detected Order
}

// Sample feeds one column FEC packet's (sn_base, L, D) into the
// detector. It returns the detector's current order (NotDecided until
// three matching samples have been seen).
func (o *OrderDetector) Sample(snBase uint32, l, d uint8) Order {
	if l != o.l || d != o.d {
		o.l, o.d = l, d
		o.n = 0
		o.detected = NotDecided
	}

	if o.detected != NotDecided {
		// Already locked in for this (l, d); a fresh disagreeing sample
		// does not un-decide it — the caller re-derives fec_delay off the
		// cached triple, not off every sample.
		return o.detected
	}

	if o.n < 3 {
		o.snBase[o.n] = snBase
		o.n++
	} else {
		o.snBase[0], o.snBase[1], o.snBase[2] = o.snBase[1], o.snBase[2], snBase
	}

	if o.n < 3 {
		return NotDecided
	}

	delta1 := int64(o.snBase[1]) - int64(o.snBase[0])
	delta2 := int64(o.snBase[2]) - int64(o.snBase[1])

	ld := int64(l) * int64(d)
	annexBStride := ld - int64(l-1)

	switch {
	case delta1 == annexBStride || delta2 == annexBStride:
		o.detected = AnnexB
	case delta1 == 1 && delta2 == 1:
		o.detected = AnnexB
	case delta1 == int64(l)+1 || delta2 == int64(l)+1:
		o.detected = AnnexA
	default:
		o.detected = Other
	}
	return o.detected
}

// Detected returns the currently locked-in order without feeding a new
// sample (NotDecided if fewer than three matching samples were seen).
func (o *OrderDetector) Detected() Order { return o.detected }

// Reset clears all accumulated samples, forcing re-detection on the next
// Sample call regardless of (L, D).
func (o *OrderDetector) Reset() {
	o.l, o.d = 0, 0
	o.n = 0
	o.detected = NotDecided
}
