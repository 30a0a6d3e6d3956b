// Package stats tracks the distribution of NLL offset corrections and
// loss-distance samples (spec §4.3 "TR-135 loss-state machine") with
// HdrHistogram, and exposes all of the repair core's counters to
// Prometheus through Exporter.
package stats

import (
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// offsetHistMin/Max bound the NLL offset histogram at +/-5 seconds,
	// generously past any plausible jitter-buffer offset.
	offsetHistMin  = -5 * int64(time.Second)
	offsetHistMax  = 5 * int64(time.Second)
	offsetHistSigFigs = 3

	// lossDistHistMax bounds the good-run-length histogram; runs longer
	// than this collapse into the top bucket, which is fine since only
	// percentiles in the tail matter for TR-135 reporting.
	lossDistHistMax    = 1 << 20
	lossDistHistSigFigs = 3
)

// Recorder accumulates NLL offset and loss-distance samples across a
// channel's lifetime. Nil-safe: a nil *Recorder's methods are no-ops,
// so callers can wire it in only when the stats subsystem is enabled.
type Recorder struct {
	offset   *hdrhistogram.Histogram
	lossDist *hdrhistogram.Histogram
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		offset:   hdrhistogram.New(offsetHistMin, offsetHistMax, offsetHistSigFigs),
		lossDist: hdrhistogram.New(0, lossDistHistMax, lossDistHistSigFigs),
	}
}

// RecordOffset records one NLL tracking-mode offset sample.
func (r *Recorder) RecordOffset(d time.Duration) {
	if r == nil {
		return
	}
	_ = r.offset.RecordValue(clamp(int64(d), offsetHistMin, offsetHistMax))
}

// RecordLossDistance records one good-run length between loss events.
func (r *Recorder) RecordLossDistance(n uint32) {
	if r == nil {
		return
	}
	_ = r.lossDist.RecordValue(clamp(int64(n), 0, lossDistHistMax))
}

// Snapshot is a point-in-time set of percentiles pulled from the live
// histograms; get_status reports these alongside the raw counters.
type Snapshot struct {
	OffsetP50, OffsetP99         time.Duration
	LossDistanceP50, LossDistanceP99 int64
}

// Snapshot reads the current percentiles without resetting the
// underlying histograms (get_status is cumulative per spec §6).
func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		OffsetP50:       time.Duration(r.offset.ValueAtQuantile(50.0)),
		OffsetP99:       time.Duration(r.offset.ValueAtQuantile(99.0)),
		LossDistanceP50: r.lossDist.ValueAtQuantile(50.0),
		LossDistanceP99: r.lossDist.ValueAtQuantile(99.0),
	}
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
