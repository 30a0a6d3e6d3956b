package pcm

import (
	"testing"
	"time"

	"github.com/xtaci/vqerepair/internal/bitmap"
	"github.com/xtaci/vqerepair/internal/packet"
)

func newTestPCM(t *testing.T) (*PCM, *packet.Pool) {
	t.Helper()
	pool := packet.NewPool(packet.MTU)
	p, err := New(Config{AvgPktTime: 20 * time.Millisecond}, pool, 8192, 8192)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, pool
}

func primaryAt(pool *packet.Pool, seq uint32, rcv time.Time) *packet.Packet {
	pk := packet.New(pool)
	pk.Seq = seq
	pk.Type = packet.Primary
	pk.RecvTime = rcv
	return pk
}

func TestInsertKeepsHeadTailWithinStoredRange(t *testing.T) {
	p, pool := newTestPCM(t)
	base := time.Now()
	seqs := []uint32{100, 101, 99, 105, 98}
	for _, s := range seqs {
		p.InsertPackets([]*packet.Packet{primaryAt(pool, s, base)}, false)
	}
	head, _ := p.Head()
	tail, _ := p.Tail()
	if head != 98 || tail != 105 {
		t.Fatalf("head=%d tail=%d, want 98,105", head, tail)
	}
	for _, s := range seqs {
		if p.Get(s) == nil {
			t.Fatalf("seq %d should be stored", s)
		}
	}
}

func TestInsertDuplicateRejected(t *testing.T) {
	p, pool := newTestPCM(t)
	now := time.Now()
	n := p.InsertPackets([]*packet.Packet{primaryAt(pool, 10, now)}, false)
	if n != 1 {
		t.Fatalf("first insert accepted=%d, want 1", n)
	}
	n = p.InsertPackets([]*packet.Packet{primaryAt(pool, 10, now)}, false)
	if n != 0 {
		t.Fatalf("duplicate insert accepted=%d, want 0", n)
	}
}

func TestPrimaryOverRepairClearsAfterEC(t *testing.T) {
	p, pool := newTestPCM(t)
	now := time.Now()
	repair := primaryAt(pool, 10, now)
	repair.Type = packet.Repair
	repair.Flags |= packet.AfterEC
	p.InsertPackets([]*packet.Packet{repair}, false)

	primary := primaryAt(pool, 10, now)
	p.InsertPackets([]*packet.Packet{primary}, false)

	existing := p.Get(10)
	if existing == nil {
		t.Fatal("seq 10 should still be present (the repair)")
	}
	if existing.Flags.Has(packet.AfterEC) {
		t.Fatal("AfterEC should have been cleared by the primary duplicate")
	}
}

func TestFlushResetsState(t *testing.T) {
	p, pool := newTestPCM(t)
	now := time.Now()
	p.InsertPackets([]*packet.Packet{primaryAt(pool, 10, now), primaryAt(pool, 11, now)}, false)
	p.Flush()
	if p.NumPaks() != 0 {
		t.Fatalf("NumPaks after Flush = %d, want 0", p.NumPaks())
	}
	head, haveHead := p.Head()
	tail, haveTail := p.Tail()
	if haveHead || haveTail || head != 0 || tail != 0 {
		t.Fatalf("head/tail after Flush: %d(%v) %d(%v), want 0(false) 0(false)", head, haveHead, tail, haveTail)
	}
}

func TestRemovePacketUpdatesHeadTail(t *testing.T) {
	p, pool := newTestPCM(t)
	now := time.Now()
	for _, s := range []uint32{10, 11, 12} {
		p.InsertPackets([]*packet.Packet{primaryAt(pool, s, now)}, false)
	}
	p.RemovePacket(10)
	head, _ := p.Head()
	if head != 11 {
		t.Fatalf("head after removing old head = %d, want 11", head)
	}
	p.RemovePacket(12)
	tail, _ := p.Tail()
	if tail != 11 {
		t.Fatalf("tail after removing old tail = %d, want 11", tail)
	}
}

func TestGetGapsNeverReturnsBelowHead(t *testing.T) {
	p, pool := newTestPCM(t)
	now := time.Now()
	// insert seq 10 and 15, leaving a gap at 11..14
	p.InsertPackets([]*packet.Packet{primaryAt(pool, 10, now), primaryAt(pool, 15, now)}, false)
	p.NotifyRCCEnableER()

	buf := make([]bitmap.GapRun, 10)
	n, _ := p.GetGaps(buf)
	if n == 0 {
		t.Fatal("expected at least one gap run")
	}
	for _, r := range buf[:n] {
		if r.Start < 10 {
			t.Fatalf("gap run starts before head: %+v", r)
		}
	}
}
