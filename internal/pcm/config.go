// Package pcm implements the Packet Cache Manager: a sequence-indexed
// ring store of received packets backed by a gap bitmap, an inorder
// tail queue, a candidate array that gates retransmission requests, and
// the TR-135 loss-event state machine.
package pcm

import "time"

// GapmapSize is the default bitmap size backing the PCM gap map
// (original_source/ VQEC_PCM_GAPMAP_SIZE).
const GapmapSize = 8192

// MaxHeadTailSpread bounds tail-head for any non-empty PCM; the source
// pins it to the same constant as the gap bitmap size.
const MaxHeadTailSpread = GapmapSize

// MaxGapSize bounds how far an inserted packet's seq may lie from head
// or tail before being range-rejected (original_source/ VQEC_PCM_MAX_GAP_SIZE).
const MaxGapSize = 6000

// MaxCandidates is the default candidate-array depth N.
const MaxCandidates = 10

// FECInfo is the narrow view PCM needs of a channel's FEC state to
// compute fec_delay: the last learned (L, D, order) triple, if any.
// pcm does not import the fec package directly (spec §9, "Cyclic
// ownership"); a caller wires fec.Buffer.Triple into this interface.
type FECInfo interface {
	// Triple returns the cached (L, D) and whether order is Annex A
	// (annexA=true), plus ok=false if nothing has been learned yet.
	Triple() (l, d uint8, annexA, ok bool)
}

// Config holds the parameters PCM is created with (spec §4.3
// "Configuration and delays").
type Config struct {
	EREnabled          bool
	FECEnabled         bool
	RCCEnabled         bool
	AvgPktTime         time.Duration
	ConfiguredDelay    time.Duration
	RepairTriggerTime  time.Duration
	ReorderDelay       time.Duration
	SevereLossMinDist  uint32 // TR-135 gmin-adjacent threshold
	GMin               uint32 // TR-135 good-run-to-close-loss-event threshold; 0 disables TR-135
	DefaultBlockSize   uint32 // L*D fallback when (L,D) unknown
	FEC                FECInfo
}

// delays bundles the three derived timing values spec §4.3 computes
// from Config plus the FEC learning state.
type delays struct {
	fecDelay     time.Duration
	defaultDelay time.Duration
	gapHoldTime  time.Duration
}

// computeDelays derives fec_delay, default_delay and gap_hold_time from
// cfg and the best currently-available per-packet time estimate
// (newRTPPktTime, zero if not yet measured).
func computeDelays(cfg Config, prevFecDelay time.Duration, newRTPPktTime time.Duration) delays {
	var fecDelay time.Duration

	switch {
	case !cfg.FECEnabled:
		fecDelay = 0
	default:
		pktTime := cfg.AvgPktTime
		if newRTPPktTime > pktTime {
			pktTime = newRTPPktTime
		}
		var l, d uint8
		var annexA, ok bool
		if cfg.FEC != nil {
			l, d, annexA, ok = cfg.FEC.Triple()
		}
		if ok {
			var factor uint32
			if annexA {
				factor = uint32(l)*uint32(d) + uint32(l)
			} else {
				factor = 2 * uint32(l) * uint32(d)
			}
			fecDelay = time.Duration(factor) * pktTime
		} else {
			fecDelay = time.Duration(2*cfg.DefaultBlockSize) * pktTime
		}
		// Open Question #2: a newly learned (L, D, order) may only shrink
		// fec_delay, never grow it; the cached value is a ceiling.
		if prevFecDelay > 0 && fecDelay > prevFecDelay {
			fecDelay = prevFecDelay
		}
	}

	return delays{
		fecDelay:     fecDelay,
		defaultDelay: fecDelay + cfg.ConfiguredDelay,
		gapHoldTime:  fecDelay + cfg.ReorderDelay,
	}
}
