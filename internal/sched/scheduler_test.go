package sched

import (
	"testing"
	"time"

	"github.com/xtaci/vqerepair/internal/packet"
	"github.com/xtaci/vqerepair/internal/pcm"
)

type recordingSink struct {
	received []*packet.Packet
}

func (r *recordingSink) Receive(pak *packet.Packet) error {
	cp := *pak
	r.received = append(r.received, &cp)
	return nil
}
func (r *recordingSink) StripRTPHeader() bool { return false }

func newTestScheduler(t *testing.T) (*Scheduler, *pcm.PCM, *packet.Pool, *recordingSink) {
	t.Helper()
	pool := packet.NewPool(packet.MTU)
	p, err := pcm.New(pcm.Config{AvgPktTime: 20 * time.Millisecond}, pool, 8192, 8192)
	if err != nil {
		t.Fatalf("pcm.New: %v", err)
	}
	s := New(Config{
		ReorderDelay: 0,
		AvgPktTime:   20 * time.Millisecond,
		NLLGain:      0.5,
	}, p, false)
	sink := &recordingSink{}
	s.AddSink(sink)
	return s, p, pool, sink
}

func TestEveryReleasedPacketHasPredTsBeforeNow(t *testing.T) {
	s, p, pool, sink := newTestScheduler(t)
	now := time.Now()

	pak := packet.New(pool)
	pak.Seq = 1
	pak.Type = packet.Primary
	pak.RecvTime = now.Add(-time.Second)
	p.InsertPackets([]*packet.Packet{pak}, false)

	s.Tick(now)

	if len(sink.received) != 1 {
		t.Fatalf("got %d released packets, want 1", len(sink.received))
	}
	if sink.received[0].PredPlayout.After(now) {
		t.Fatalf("pred_ts %v should not be after now %v", sink.received[0].PredPlayout, now)
	}
}

func TestClockJumpbackFlushesPCMWithoutReleasing(t *testing.T) {
	s, p, pool, sink := newTestScheduler(t)
	now := time.Now()

	pak := packet.New(pool)
	pak.Seq = 1
	pak.Type = packet.Primary
	pak.RecvTime = now.Add(-time.Second)
	p.InsertPackets([]*packet.Packet{pak}, false)
	s.Tick(now)
	sink.received = nil

	pak2 := packet.New(pool)
	pak2.Seq = 2
	pak2.Type = packet.Primary
	pak2.RecvTime = now.Add(-time.Second)
	p.InsertPackets([]*packet.Packet{pak2}, false)

	// jump backwards
	s.Tick(now.Add(-time.Minute))

	if len(sink.received) != 0 {
		t.Fatalf("clock jumpback should not release any packet, got %d", len(sink.received))
	}
	if p.NumPaks() != 0 {
		t.Fatalf("clock jumpback should flush PCM, NumPaks=%d", p.NumPaks())
	}
}

func TestReorderDelayHoldsNonReorderedPrimary(t *testing.T) {
	pool := packet.NewPool(packet.MTU)
	p, _ := pcm.New(pcm.Config{AvgPktTime: 20 * time.Millisecond}, pool, 8192, 8192)
	s := New(Config{ReorderDelay: time.Second, AvgPktTime: 20 * time.Millisecond, NLLGain: 0.5}, p, false)
	sink := &recordingSink{}
	s.AddSink(sink)

	now := time.Now()
	pak := packet.New(pool)
	pak.Seq = 1
	pak.Type = packet.Primary
	pak.RecvTime = now // arrived "now"; reorder delay of 1s not yet elapsed
	p.InsertPackets([]*packet.Packet{pak}, false)

	s.Tick(now)
	if len(sink.received) != 0 {
		t.Fatalf("packet should be held by reorder delay, got %d released", len(sink.received))
	}

	s.Tick(now.Add(2 * time.Second))
	if len(sink.received) != 1 {
		t.Fatalf("packet should release once reorder delay elapses, got %d", len(sink.received))
	}
}
