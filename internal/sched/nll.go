// Package sched implements the output scheduler: the nonlinear loop
// (NLL) that turns received-time/RTP-timestamp samples into predicted
// play-out times, and the per-tick state machine that drives RCC
// burst-to-primary transitions, reorder handling, and fastfill.
package sched

import "time"

// NLL is the nonlinear loop filter (spec §4.5 "NLL (nonlinear loop)
// contract"). In tracking mode it low-pass-filters the offset between
// receive time and RTP timestamp; in non-tracking mode (an RCC repair
// burst) it advances purely off the cumulative RTP delta.
type NLL struct {
	tracking    bool
	haveOffset  bool
	offset      time.Duration
	lastRTPTs   uint32
	haveLastRTP bool

	// gain is the low-pass filter's smoothing factor in [0,1]; smaller
	// values react more slowly to new samples.
	gain float64
}

// NewNLL creates an NLL starting in tracking mode with the given filter
// gain (spec leaves the exact constant unspecified; 0.1 matches the
// "slow" end the original jitter-buffer tuning favors for RTP offset
// smoothing).
func NewNLL(gain float64) *NLL {
	return &NLL{tracking: true, gain: gain}
}

// Reset drops all filter state; the next Adjust call reseeds it from
// scratch (spec: "A discontinuity resets the filter").
func (n *NLL) Reset() {
	n.haveOffset = false
	n.haveLastRTP = false
}

// SetTracking switches between tracking (offset low-pass filter) and
// non-tracking (cumulative RTP delta) modes.
func (n *NLL) SetTracking(tracking bool) { n.tracking = tracking }

// LastOffset returns the filter's current tracking-mode offset, for
// feeding internal/stats' NLL-offset histogram.
func (n *NLL) LastOffset() time.Duration { return n.offset }

// Adjust feeds one (rcvTs, rtpTs, estRTPDelta) sample and returns the
// predicted play-out time. discontinuity forces a filter reset before
// the sample is applied.
func (n *NLL) Adjust(rcvTs time.Time, rtpTs uint32, estRTPDelta time.Duration, discontinuity bool) time.Time {
	if discontinuity {
		n.Reset()
	}

	if !n.tracking {
		if !n.haveLastRTP {
			n.lastRTPTs = rtpTs
			n.haveLastRTP = true
			return rcvTs.Add(estRTPDelta)
		}
		pred := rcvTs.Add(estRTPDelta)
		n.lastRTPTs = rtpTs
		return pred
	}

	sample := rcvTs.Sub(rtpTsAsTime(rtpTs))
	if !n.haveOffset {
		n.offset = sample
		n.haveOffset = true
	} else {
		n.offset += time.Duration(n.gain * float64(sample-n.offset))
	}
	return rtpTsAsTime(rtpTs).Add(n.offset)
}

// rtpTsAsTime maps a raw RTP timestamp onto the time.Time axis so it can
// be compared/added against wall-clock receive times; callers are
// expected to have already normalized rtpTs units to match rcvTs
// (e.g. by pre-scaling to nanoseconds before calling Adjust).
func rtpTsAsTime(rtpTs uint32) time.Time {
	return time.Unix(0, int64(rtpTs))
}
