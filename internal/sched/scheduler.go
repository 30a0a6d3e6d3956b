package sched

import (
	"time"

	"github.com/xtaci/vqerepair/internal/packet"
	"github.com/xtaci/vqerepair/internal/pcm"
	"github.com/xtaci/vqerepair/internal/seqnum"
	"github.com/xtaci/vqerepair/internal/stats"
)

// Config holds the scheduler's tunable timing parameters (spec §4.5).
type Config struct {
	ReorderDelay    time.Duration
	AvgPktTime      time.Duration
	FastfillEnabled bool
	FastFillTime    time.Duration
	MinBackfill     time.Duration
	RepairEndDelay  time.Duration // dt_repair_end: grace period after first packet out
	NLLGain         float64
}

// Scheduler drives the per-tick emit loop and the RCC/NLL state
// machine described in spec §4.5.
type Scheduler struct {
	cfg Config
	pcm *pcm.PCM
	nll *NLL

	sinks []Sink

	state RCCState

	havePrevTick bool
	prevTick     time.Time

	lastPakSeq      uint32
	lastPakSeqValid bool

	haveLastInorder bool
	lastInorderSeq  uint32
	lastInorderTs   time.Time

	pakPend *packet.Packet

	haveFirstPakOut     bool
	firstPakOutTime     time.Time
	haveFirstPrimaryOut bool

	rccBurstNotified bool

	fastfillActive  bool
	fastfillDone    bool
	fastfillStart   time.Time
	fastfillElapsed time.Duration

	UnderrunCount   uint64
	OutputGapCount  uint64
	OutputLossCount uint64

	rec *stats.Recorder
}

// SetRecorder attaches a stats.Recorder that samples NLL offset and
// loss-distance observations; nil detaches it.
func (s *Scheduler) SetRecorder(rec *stats.Recorder) { s.rec = rec }

// Counters returns the scheduler's running underrun/gap/loss counts.
func (s *Scheduler) Counters() (underrun, outputGap, outputLoss uint64) {
	return s.UnderrunCount, s.OutputGapCount, s.OutputLossCount
}

// RecorderSnapshot returns the attached Recorder's current percentile
// snapshot, or a zero Snapshot if none is attached.
func (s *Scheduler) RecorderSnapshot() stats.Snapshot {
	if s.rec == nil {
		return stats.Snapshot{}
	}
	return s.rec.Snapshot()
}

// New creates a scheduler bound to p, starting in RCCApp state when
// rccEnabled, else Normal.
func New(cfg Config, p *pcm.PCM, rccEnabled bool) *Scheduler {
	s := &Scheduler{cfg: cfg, pcm: p, nll: NewNLL(cfg.NLLGain), state: Normal}
	if rccEnabled {
		s.state = RCCApp
	}
	return s
}

// AddSink registers a downstream stream to receive released packets.
func (s *Scheduler) AddSink(sink Sink) { s.sinks = append(s.sinks, sink) }

// RCCBurstDoneNotify records that the RCC burst has finished sending;
// combined with the first-packet-out time plus RepairEndDelay, this
// defines IsRCCBurstDone (spec §4.5, "Scheduler-visible state
// transitions driven externally").
func (s *Scheduler) RCCBurstDoneNotify() { s.rccBurstNotified = true }

// IsRCCBurstDone reports whether the RCC burst is considered finished.
func (s *Scheduler) IsRCCBurstDone(now time.Time) bool {
	return s.rccBurstNotified && s.haveFirstPakOut && now.Sub(s.firstPakOutTime) >= s.cfg.RepairEndDelay
}

// State returns the scheduler's current RCC/normal state.
func (s *Scheduler) State() RCCState { return s.state }

// Tick runs one scheduler iteration at time now (spec §4.5 "Scheduler
// tick").
func (s *Scheduler) Tick(now time.Time) {
	if s.havePrevTick && now.Before(s.prevTick) {
		// Step 1: clock jump-back invalidates all timing state.
		s.pcm.Flush()
		s.rccBurstNotified = false
		s.state = Normal
		s.prevTick = now
		return
	}
	s.havePrevTick, s.prevTick = true, now

	// Step 2: candidate timeout.
	if !s.pcm.CandidatesAddedSinceTick() {
		s.pcm.TimeoutOldCandidates(now)
	}

	for {
		pak := s.emitOne(now)
		if pak == nil {
			break
		}
		s.dispatch(pak, now)
	}
}

// emitOne implements the emit loop body (steps a-e): it returns the next
// packet eligible for release at now, or nil if nothing can be released
// this tick.
func (s *Scheduler) emitOne(now time.Time) *packet.Packet {
	if s.pakPend != nil {
		if s.pakPend.PredPlayout.After(now) {
			return nil
		}
		pak := s.pakPend
		s.pakPend = nil
		return pak
	}

	next := s.pcm.PeekHead()
	if next == nil {
		s.UnderrunCount++
		return nil
	}

	// Fastfill gating: only Repair/APP may proceed until the burst ends.
	if s.cfg.FastfillEnabled && !s.fastfillActive && !s.fastfillDone && !s.IsRCCBurstDone(now) {
		if next.Type != packet.Repair && next.Type != packet.APP {
			return nil
		}
	}

	// Minimum backfill: hold if fastfill has nearly finished and the
	// ring doesn't yet hold enough buffered time.
	if s.fastfillActive && s.fastfillElapsed >= s.cfg.FastFillTime-s.cfg.MinBackfill {
		held := time.Duration(s.pcm.NumPaks()) * s.cfg.AvgPktTime
		if held < s.cfg.MinBackfill {
			return nil
		}
	}

	// Reorder delay: only gates non-reordered primaries.
	if next.Type == packet.Primary && !next.Flags.Has(packet.Reordered) {
		if next.RecvTime.Add(s.cfg.ReorderDelay).After(now) {
			return nil
		}
	}

	removed := s.pcm.RemovePacket(next.Seq)
	if removed == nil {
		return nil
	}

	if s.lastPakSeqValid && removed.Seq != s.lastPakSeq+1 {
		s.OutputGapCount++
		if gap := seqnum.Sub(removed.Seq, s.lastPakSeq) - 1; gap > 0 {
			s.OutputLossCount += uint64(gap)
			s.rec.RecordLossDistance(uint32(gap))
		}
	}
	s.lastPakSeq, s.lastPakSeqValid = removed.Seq, true
	s.pcm.SetLastPakSeq(removed.Seq, true)

	return removed
}

// dispatch runs the state machine (step 4), fastfill accounting (step
// 5), computes pred_ts (step 6), and releases the packet to every sink.
func (s *Scheduler) dispatch(pak *packet.Packet, now time.Time) {
	predTs := s.runStateMachine(pak, now)

	if s.fastfillActive {
		clamped := pak.RecvTime
		if now.Before(clamped) {
			clamped = now
		}
		predTs = clamped
		s.fastfillElapsed = now.Sub(s.fastfillStart)
		if s.fastfillElapsed >= s.cfg.FastFillTime {
			s.fastfillActive, s.fastfillDone = false, true
			s.nll.Reset()
		}
	}

	if s.nll.tracking {
		s.rec.RecordOffset(s.nll.LastOffset())
	}

	pak.PredPlayout = predTs.Add(s.pcm.DefaultDelay()).Add(pak.AppDelay)

	if !s.haveFirstPakOut {
		s.haveFirstPakOut, s.firstPakOutTime = true, now
	}
	if !s.haveFirstPrimaryOut && pak.Type == packet.Primary {
		s.haveFirstPrimaryOut = true
	}

	for _, sink := range s.sinks {
		_ = sink.Receive(pak)
	}
	pak.Release()
}

// runStateMachine implements the RCC/NORMAL transition table (spec
// §4.5 step 4) and returns the predicted play-out time before
// default_delay/app_cpy_delay are added.
func (s *Scheduler) runStateMachine(pak *packet.Packet, now time.Time) time.Time {
	switch s.state {
	case RCCApp:
		switch pak.Type {
		case packet.APP:
			return pak.RecvTime
		case packet.Repair:
			s.state = RCCRepair
			s.nll.SetTracking(false)
			return s.nll.Adjust(pak.RecvTime, pak.RTPTs, s.cfg.AvgPktTime, true)
		case packet.Primary:
			s.state = Normal
			s.nll.SetTracking(true)
			s.recordInorder(pak)
			return s.nll.Adjust(pak.RecvTime, pak.RTPTs, 0, true)
		}
	case RCCRepair:
		switch pak.Type {
		case packet.Repair:
			delta := time.Duration(0)
			if s.haveLastInorder {
				delta = s.cfg.AvgPktTime * time.Duration(seqnum.Sub(pak.Seq, s.lastInorderSeq))
			}
			return s.nll.Adjust(pak.RecvTime, pak.RTPTs, delta, false)
		case packet.Primary:
			s.state = Normal
			s.nll.SetTracking(true)
			s.recordInorder(pak)
			return s.nll.Adjust(pak.RecvTime, pak.RTPTs, 0, true)
		}
	case Normal:
		if pak.Flags.Has(packet.Reordered) {
			s.interpolateRx(pak)
			return s.nll.Adjust(pak.RecvTime, pak.RTPTs, 0, false)
		}
		s.recordInorder(pak)
		return s.nll.Adjust(pak.RecvTime, pak.RTPTs, 0, false)
	}
	return s.nll.Adjust(pak.RecvTime, pak.RTPTs, 0, false)
}

func (s *Scheduler) recordInorder(pak *packet.Packet) {
	s.haveLastInorder = true
	s.lastInorderSeq, s.lastInorderTs = pak.Seq, pak.RecvTime
}

// interpolateRx rewrites a reordered packet's RecvTime by interpolating
// between the last in-order primary emitted and the next one still in
// PCM, per spec §4.5 "Rx-interpolation for a reordered packet".
func (s *Scheduler) interpolateRx(pak *packet.Packet) {
	if !s.haveLastInorder {
		return
	}
	next := s.pcm.PeekNextInorder(pak.Seq)
	if next == nil {
		return
	}
	sp, sn := s.lastInorderSeq, next.Seq
	if !(seqnum.Lt(sp, pak.Seq) && seqnum.Lt(pak.Seq, sn)) {
		return
	}
	span := seqnum.Sub(sn, sp)
	if span <= 0 {
		return
	}
	perPacket := next.RecvTime.Sub(s.lastInorderTs) / time.Duration(span)
	pak.RecvTime = s.lastInorderTs.Add(perPacket * time.Duration(seqnum.Sub(pak.Seq, sp)))
}

// StartFastfill begins the memory-optimized fastfill burst.
func (s *Scheduler) StartFastfill(now time.Time) {
	s.fastfillActive, s.fastfillDone = true, false
	s.fastfillStart = now
	s.fastfillElapsed = 0
}
