package pcm

import (
	"time"

	"github.com/xtaci/vqerepair/internal/bitmap"
	"github.com/xtaci/vqerepair/internal/packet"
	"github.com/xtaci/vqerepair/internal/ring"
)

// PCM is the packet cache manager: one pak_seq ring, one gap bitmap, an
// inorder tail queue, a candidate array, and the TR-135 machinery,
// indexed by 32-bit lifted sequence numbers (spec §3 "PCM").
type PCM struct {
	cfg  Config
	pool *packet.Pool

	seq    *packet.Seq
	bmp    *bitmap.Bitmap
	inord  *ring.Queue[*packet.Packet]
	cands  *candidateArray
	trPre  *TR135
	trPost *TR135

	haveHead, haveTail bool
	head, tail         uint32
	numPaks            uint32

	lastRxSeqNum uint32

	lastPakSeq      uint32
	lastPakSeqValid bool

	highestErSeqNum       uint32
	lastRequestedErSeqNum uint32
	haveLastRequested     bool

	pktflowSrcSeqNumStart uint32
	havePktflowClamp      bool

	delayFromApps time.Duration

	fecDelay     time.Duration
	defaultDelay time.Duration
	gapHoldTime  time.Duration

	haveFirstPrimarySeq bool
	firstPrimarySeq     uint32
	prePrimaryCBFired   bool

	havePrevPrimary bool
	prevSeq         uint32
	prevRTPTs       uint32
	NewRTPPktTime   time.Duration
	TSCalcDone      bool

	OnPrePrimaryRepairsDone func()
	OnRCCBurstDone          func()

	candidateAddedSinceTick bool

	OverrunCount         uint64
	UnderrunCount        uint64
	DuplicateRepairCount uint64
	InputGapCount        uint64
	LateCount            uint64
	BadRangeCount        uint64
}

// New creates a PCM backed by bitmap size bmSize (a power of two),
// pak_seq ring of ringSize slots (a power of two, large enough to hold
// MaxHeadTailSpread worth of distinct buckets), and the given config.
func New(cfg Config, pool *packet.Pool, bmSize, ringSize uint32) (*PCM, error) {
	bmp, err := bitmap.New(bmSize)
	if err != nil {
		return nil, err
	}
	p := &PCM{
		cfg:          cfg,
		pool:         pool,
		seq:          packet.NewSeq(ringSize),
		bmp:          bmp,
		inord:        ring.New[*packet.Packet](256),
		cands:        newCandidateArray(MaxCandidates),
		trPre:        NewTR135(cfg.GMin, cfg.SevereLossMinDist),
		trPost:       NewTR135(cfg.GMin, cfg.SevereLossMinDist),
		lastRxSeqNum: 0x8000,
	}
	d := computeDelays(cfg, 0, 0)
	p.fecDelay, p.defaultDelay, p.gapHoldTime = d.fecDelay, d.defaultDelay, d.gapHoldTime
	p.cands.setHoldTime(p.gapHoldTime)
	return p, nil
}

// Head returns the lowest seq currently present.
func (p *PCM) Head() (uint32, bool) { return p.head, p.haveHead }

// Tail returns the highest seq currently present.
func (p *PCM) Tail() (uint32, bool) { return p.tail, p.haveTail }

// Get returns the packet at seq, or nil.
func (p *PCM) Get(seq uint32) *packet.Packet { return p.seq.Get(seq) }

// NumPaks returns the number of packets currently cached.
func (p *PCM) NumPaks() uint32 { return p.numPaks }

// LossStatus is a snapshot of the pre-EC and post-EC TR-135 counters
// plus the raw input/overrun counters, for internal/stats' get_status
// (spec §6, "Control-plane queries").
type LossStatus struct {
	PreECLossEvents   uint64
	PreECMinDistance  uint32
	PreECMaxPeriod    uint32
	PreECSevereIndex  uint64
	PostECLossEvents  uint64
	PostECMinDistance uint32
	PostECMaxPeriod   uint32
	PostECSevereIndex uint64

	OverrunCount         uint64
	UnderrunCount        uint64
	DuplicateRepairCount uint64
	InputGapCount        uint64
	LateCount            uint64
	BadRangeCount        uint64
}

// Status returns a snapshot of PCM's TR-135 and input counters.
func (p *PCM) Status() LossStatus {
	return LossStatus{
		PreECLossEvents:   p.trPre.LossEvents(),
		PreECMinDistance:  p.trPre.MinLossDistance,
		PreECMaxPeriod:    p.trPre.MaxLossPeriod,
		PreECSevereIndex:  p.trPre.SevereLossIndex,
		PostECLossEvents:  p.trPost.LossEvents(),
		PostECMinDistance: p.trPost.MinLossDistance,
		PostECMaxPeriod:   p.trPost.MaxLossPeriod,
		PostECSevereIndex: p.trPost.SevereLossIndex,

		OverrunCount:         p.OverrunCount,
		UnderrunCount:        p.UnderrunCount,
		DuplicateRepairCount: p.DuplicateRepairCount,
		InputGapCount:        p.InputGapCount,
		LateCount:            p.LateCount,
		BadRangeCount:        p.BadRangeCount,
	}
}

// PeekHead returns the packet currently stored at head, the next one
// due for emission in sequence order, or nil if PCM is empty.
func (p *PCM) PeekHead() *packet.Packet {
	if !p.haveHead {
		return nil
	}
	return p.seq.Get(p.head)
}

// PeekNextInorder returns the next primary after seq on the inorder
// queue, used by the scheduler's reorder-time interpolation (spec
// §4.5 "Rx-interpolation for a reordered packet").
func (p *PCM) PeekNextInorder(afterSeq uint32) *packet.Packet {
	var found *packet.Packet
	p.inord.Walk(func(pp **packet.Packet) bool {
		if seqGreater((*pp).Seq, afterSeq) {
			found = *pp
			return false
		}
		return true
	})
	return found
}

// DefaultDelay returns the current default_delay (fec_delay + configured
// delay), the base play-out delay added on top of the NLL's pred_ts.
func (p *PCM) DefaultDelay() time.Duration { return p.defaultDelay }

// TimeoutOldCandidates evicts candidates older than gap_hold_time as of
// now and advances highest_er_seq_num to the oldest remaining candidate,
// letting ER requests progress despite sparse input (spec §4.5 scheduler
// tick step 2).
func (p *PCM) TimeoutOldCandidates(now time.Time) {
	if oldest, ok := p.cands.TimeoutOld(now); ok {
		p.highestErSeqNum = oldest
	}
}

// CandidatesAddedSinceTick reports whether Insert added a new candidate
// since the last call, then resets the flag; the scheduler tick uses
// this to decide whether it must force a timeout pass itself.
func (p *PCM) CandidatesAddedSinceTick() bool {
	v := p.candidateAddedSinceTick
	p.candidateAddedSinceTick = false
	return v
}

// recomputeDelays refreshes fec_delay/default_delay/gap_hold_time from
// the current FEC learning state and the freshest inter-packet time
// estimate, per spec §4.3/§4.4.
func (p *PCM) recomputeDelays() {
	d := computeDelays(p.cfg, p.fecDelay, p.NewRTPPktTime)
	p.fecDelay, p.defaultDelay, p.gapHoldTime = d.fecDelay, d.defaultDelay, d.gapHoldTime
	p.cands.setHoldTime(p.gapHoldTime)
}

// bumpGeneration advances the internal lifting reference into the next
// 16-bit generation. Per Open Question #1, a single insert_packets call
// that triggers both an overflow flush and an under-run must bump the
// generation exactly once; callers arrange this by calling bumpGeneration
// at most once per InsertPackets invocation and reusing its result.
func (p *PCM) bumpGeneration() uint32 {
	generation := p.lastRxSeqNum >> 16
	p.lastRxSeqNum = (generation + 1) << 16
	return p.lastRxSeqNum
}

// flushAll empties the ring, bitmap and inorder queue, releasing every
// cached packet, and resets head/tail/numPaks. Used by overflow and by
// explicit RCC-abort flushes.
func (p *PCM) flushAll() {
	for p.haveHead {
		pak := p.seq.Remove(p.head)
		if pak != nil {
			pak.Release()
		}
		if p.head == p.tail {
			break
		}
		p.head++
	}
	p.seq.Flush()
	p.bmp.Flush()
	p.inord.Reset()
	p.haveHead, p.haveTail = false, false
	p.head, p.tail, p.numPaks = 0, 0, 0
}

// Flush is the externally visible reset used by RCC abort and by tests:
// it also restores default_delay to cfg_delay + fec_delay and clears
// accumulated APP replication delay (spec §4.5 "notify_rcc_abort").
func (p *PCM) Flush() {
	p.flushAll()
	p.delayFromApps = 0
	p.recomputeDelays()
}

// InsertPackets runs the 7-step insertion pipeline (spec §4.3
// "Insertion") over paks, returning the count accepted. contig is
// accepted for interface parity with spec §6 but is not required for
// correctness here: every packet is still checked individually.
func (p *PCM) InsertPackets(paks []*packet.Packet, contig bool) int {
	accepted := 0
	for _, pak := range paks {
		if p.insertOne(pak) {
			accepted++
		}
	}
	p.maybeFirePrePrimaryCallback()
	return accepted
}

func (p *PCM) insertOne(pak *packet.Packet) bool {
	// Step 1: overflow -> flush + single generation bump.
	bumped := false
	var newGen uint32
	if p.numPaks > 0 && p.tail-p.head >= MaxHeadTailSpread-1 {
		p.flushAll()
		p.OverrunCount++
		newGen = p.bumpGeneration()
		bumped = true
	}

	// Step 2: under-run, unless RCC suppresses it.
	if !p.haveHead && p.lastPakSeqValid && !p.cfg.RCCEnabled {
		p.UnderrunCount++
		p.lastPakSeqValid = false
		p.delayFromApps = 0
		if !bumped {
			newGen = p.bumpGeneration()
			bumped = true
		}
	}

	if bumped {
		pak.Seq = newGen | (pak.Seq & 0xffff)
		pak.Flags |= packet.Discontinuity
	}

	// Step 3: APP replication delay accumulation.
	if pak.Type == packet.APP {
		p.delayFromApps += pak.AppDelay
	}
	pak.AppDelay = p.delayFromApps

	// Step 4: duplicates.
	if existing := p.seq.Get(pak.Seq); existing != nil {
		if pak.Type == packet.Primary && existing.Type == packet.Repair {
			existing.Flags &^= packet.AfterEC
		} else if pak.Type == packet.Repair && existing.Type == packet.Repair {
			p.DuplicateRepairCount++
		}
		return false
	}

	// Step 5: range check.
	if p.haveHead {
		if seqGreater(pak.Seq, p.tail) && delta(pak.Seq, p.tail) > MaxGapSize {
			p.BadRangeCount++
			return false
		}
		if seqLess(pak.Seq, p.head) && delta(p.head, pak.Seq) > MaxGapSize {
			p.BadRangeCount++
			return false
		}
	}
	if p.lastPakSeqValid && !seqGreater(pak.Seq, p.lastPakSeq) {
		p.LateCount++
		return false
	}

	// Step 6: accept.
	p.bmp.SetBit(pak.Seq)
	if err := p.seq.Insert(pak.Seq, pak); err != nil {
		return false
	}
	p.numPaks++

	inOrder := false
	if !p.haveHead {
		p.head, p.tail = pak.Seq, pak.Seq
		p.haveHead, p.haveTail = true, true
		inOrder = true
	} else if seqGreater(pak.Seq, p.tail) {
		if pak.Seq != p.tail+1 {
			p.InputGapCount++
		}
		p.tail = pak.Seq
		inOrder = true
	} else if seqLess(pak.Seq, p.head) {
		if pak.Seq != p.head-1 {
			p.InputGapCount++
		}
		p.head = pak.Seq
		pak.Flags |= packet.Reordered
	} else {
		pak.Flags |= packet.Reordered
	}

	if pak.Type == packet.Primary {
		p.trPre.Observe(pak.Seq)
	}

	if inOrder && pak.Type == packet.Primary {
		pak.Flags |= packet.OnInorderQueue
		p.inord.PushBack(pak)
		p.cands.Insert(pak.Seq, pak.RecvTime)
		p.candidateAddedSinceTick = true
		if oldest, ok := p.cands.TimeoutOld(pak.RecvTime); ok {
			p.highestErSeqNum = oldest
		}

		if !p.haveFirstPrimarySeq {
			p.haveFirstPrimarySeq = true
			p.firstPrimarySeq = pak.Seq
		}
	}

	// Step 7: inter-packet time estimation.
	if pak.Type == packet.Primary {
		if p.havePrevPrimary && pak.Seq == p.prevSeq+1 && !pak.Flags.Has(packet.Discontinuity) && pak.RTPTs > p.prevRTPTs {
			p.NewRTPPktTime = time.Duration(pak.RTPTs-p.prevRTPTs) * time.Nanosecond
			p.TSCalcDone = true
			p.recomputeDelays()
		}
		p.prevSeq, p.prevRTPTs, p.havePrevPrimary = pak.Seq, pak.RTPTs, true
	}

	return true
}

// maybeFirePrePrimaryCallback invokes the RCC "pre-primary repairs done"
// callback once a primary has been received and the repair immediately
// preceding it is present in the ring (spec §4.3, end of "Insertion").
func (p *PCM) maybeFirePrePrimaryCallback() {
	if p.prePrimaryCBFired || !p.haveFirstPrimarySeq {
		return
	}
	if p.seq.Get(p.firstPrimarySeq-1) == nil {
		return
	}
	p.prePrimaryCBFired = true
	if p.OnPrePrimaryRepairsDone != nil {
		p.OnPrePrimaryRepairsDone()
	}
	if p.OnRCCBurstDone != nil {
		p.OnRCCBurstDone()
	}
}

// RemovePacket deletes the packet at seq, if any, from the ring, the
// bitmap, and the inorder queue, updating head/tail with the
// bucket-skipping abort rule from spec §4.3 "Removal".
func (p *PCM) RemovePacket(seq uint32) *packet.Packet {
	pak := p.seq.Remove(seq)
	if pak == nil {
		return nil
	}
	p.bmp.ClearBit(seq)
	p.numPaks--
	if pak.Flags.Has(packet.OnInorderQueue) {
		p.removeFromInorder(pak)
	}
	if pak.Type == packet.Primary || pak.Type == packet.Repair {
		p.trPost.Observe(seq)
	}

	if p.numPaks == 0 {
		p.haveHead, p.haveTail = false, false
		p.head, p.tail = 0, 0
		return pak
	}

	if seq == p.head {
		cur := seq
		for {
			next := cur + 1
			if p.seq.SameBucket(cur, next) {
				break
			}
			if p.seq.Occupied(next) {
				p.head = next
				break
			}
			cur = next
			if next == p.tail {
				break
			}
		}
	}
	if seq == p.tail {
		cur := seq
		for {
			prev := cur - 1
			if p.seq.SameBucket(cur, prev) {
				break
			}
			if p.seq.Occupied(prev) {
				p.tail = prev
				break
			}
			cur = prev
			if prev == p.head {
				break
			}
		}
	}
	return pak
}

func (p *PCM) removeFromInorder(target *packet.Packet) {
	var kept []*packet.Packet
	p.inord.Walk(func(pp **packet.Packet) bool {
		if *pp != target {
			kept = append(kept, *pp)
		}
		return true
	})
	p.inord.Reset()
	for _, pp := range kept {
		p.inord.PushBack(pp)
	}
	target.Flags &^= packet.OnInorderQueue
}

// InsertRecovered inserts an FEC-recovered packet back into the cache as
// though it had arrived, satisfying fec.PCMView structurally.
func (p *PCM) InsertRecovered(pak *packet.Packet) error {
	p.insertOne(pak)
	return nil
}

// GetGaps returns the next batch of gap runs eligible for
// retransmission, advancing the internal already-requested cursor (spec
// §4.3 "Gap reporting").
func (p *PCM) GetGaps(buf []bitmap.GapRun) (n int, more bool) {
	if !p.haveLastRequested {
		// First call after ER enable: time out all candidates so the
		// first gap is reported immediately (aggressive RCC).
		p.cands.TimeoutOld(timeFarFuture())
		p.haveLastRequested = true
		p.lastRequestedErSeqNum = p.head
	}

	seq1 := p.head
	if p.lastRequestedErSeqNum+1 > seq1 {
		seq1 = p.lastRequestedErSeqNum + 1
	}
	if p.havePktflowClamp && p.pktflowSrcSeqNumStart > seq1 {
		seq1 = p.pktflowSrcSeqNumStart
	}
	p.havePktflowClamp = false
	seq2 := p.highestErSeqNum

	if seq1 > seq2 {
		return 0, false
	}

	inverted := p.bmp.Inverted()
	n, more = inverted.GapEnumerate(seq1, seq2, buf)

	if more && n > 0 {
		last := buf[n-1]
		p.lastRequestedErSeqNum = last.Start + last.Extent
	} else {
		p.lastRequestedErSeqNum = seq2
	}
	return n, more
}

// NotifyPktflowSourceChange records a one-shot clamp for the next
// GetGaps call so that gaps in a previous unicast-failover source's
// transmission are never blamed on the newly active source.
func (p *PCM) NotifyPktflowSourceChange(seq uint32) {
	p.pktflowSrcSeqNumStart = seq
	p.havePktflowClamp = true
}

// NotifyRCCEnableER turns on local ER, snapping last_requested_er_seq to
// head and highest_er_seq to tail (spec §4.5 "notify_rcc_en_er").
func (p *PCM) NotifyRCCEnableER() {
	p.cfg.EREnabled = true
	p.lastRequestedErSeqNum = p.head
	p.haveLastRequested = true
	p.highestErSeqNum = p.tail
}

// NotifyRCCAbort flushes PCM, restores default_delay to the
// configuration-only value plus fec_delay, and clears APP delay (spec
// §4.5 "notify_rcc_abort").
func (p *PCM) NotifyRCCAbort() {
	p.Flush()
	if p.OnRCCBurstDone != nil {
		p.OnRCCBurstDone()
	}
}

// SetLastPakSeq records the scheduler's most recently emitted seq, used
// by under-run detection and the late-packet range check.
func (p *PCM) SetLastPakSeq(seq uint32, valid bool) {
	p.lastPakSeq, p.lastPakSeqValid = seq, valid
}

func seqGreater(a, b uint32) bool { return int32(a-b) > 0 }
func seqLess(a, b uint32) bool    { return int32(a-b) < 0 }

func delta(a, b uint32) uint32 {
	if seqGreater(a, b) {
		return a - b
	}
	return b - a
}

func timeFarFuture() time.Time { return time.Unix(1<<62, 0) }
