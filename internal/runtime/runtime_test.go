package runtime

import (
	"testing"
	"time"

	"github.com/xtaci/vqerepair/internal/packet"
	"github.com/xtaci/vqerepair/internal/pcm"
	"github.com/xtaci/vqerepair/internal/sched"
)

func TestRegistryOpenGetClose(t *testing.T) {
	r := NewRegistry()
	pool := packet.NewPool(packet.MTU)

	ch, err := r.Open(pcm.Config{AvgPktTime: 20 * time.Millisecond}, sched.Config{AvgPktTime: 20 * time.Millisecond, NLLGain: 0.5}, pool, 8192, 8192, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if ch.Handle == "" {
		t.Fatal("expected non-empty handle")
	}

	got, err := r.Get(ch.Handle)
	if err != nil || got != ch {
		t.Fatalf("Get returned %v, %v; want %v, nil", got, err, ch)
	}

	if err := r.Close(ch.Handle); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := r.Get(ch.Handle); err != ErrUnknownHandle {
		t.Fatalf("Get after Close = %v, want ErrUnknownHandle", err)
	}
}

func TestOpenMintsDistinctHandles(t *testing.T) {
	r := NewRegistry()
	pool := packet.NewPool(packet.MTU)
	cfg := pcm.Config{AvgPktTime: 20 * time.Millisecond}
	scfg := sched.Config{AvgPktTime: 20 * time.Millisecond, NLLGain: 0.5}

	a, _ := r.Open(cfg, scfg, pool, 8192, 8192, false)
	b, _ := r.Open(cfg, scfg, pool, 8192, 8192, false)
	if a.Handle == b.Handle {
		t.Fatal("expected distinct handles for distinct channels")
	}
	if len(r.Handles()) != 2 {
		t.Fatalf("Handles() len = %d, want 2", len(r.Handles()))
	}
}

func TestInsertPrimaryThenTickReleasesPacket(t *testing.T) {
	r := NewRegistry()
	pool := packet.NewPool(packet.MTU)
	ch, err := r.Open(pcm.Config{AvgPktTime: 20 * time.Millisecond}, sched.Config{AvgPktTime: 20 * time.Millisecond, NLLGain: 0.5}, pool, 8192, 8192, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	now := time.Now()
	pak := packet.New(pool)
	pak.Seq = 1
	pak.Type = packet.Primary
	pak.RecvTime = now.Add(-time.Second)

	if n := ch.InsertPrimary([]*packet.Packet{pak}, false); n != 1 {
		t.Fatalf("InsertPrimary returned %d, want 1", n)
	}

	ch.Tick(now)
	if ch.PCM.NumPaks() != 0 {
		t.Fatalf("expected packet to be released by Tick, NumPaks=%d", ch.PCM.NumPaks())
	}
}

// TestInsertFECRetainsUnrecoverableOnceThenRetires exercises the §4.4
// "Error disposition" table end to end: a FEC packet protecting two
// primaries that are both absent comes back Unrecoverable and must
// survive exactly one extra look before a later arrival retires it.
func TestInsertFECRetainsUnrecoverableOnceThenRetires(t *testing.T) {
	r := NewRegistry()
	pool := packet.NewPool(packet.MTU)
	ch, err := r.Open(pcm.Config{AvgPktTime: 20 * time.Millisecond}, sched.Config{AvgPktTime: 20 * time.Millisecond, NLLGain: 0.5}, pool, 8192, 8192, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	countColumnFECs := func() int {
		n := 0
		ch.FEC.ColumnFECs(func(*packet.Packet) { n++ })
		return n
	}

	first := packet.New(pool)
	first.Type = packet.FEC
	first.Seq = 100
	first.FECHeader = &packet.FECHeader{SNBase: 100, L: 1, NABits: 2}
	if err := ch.InsertFEC(first, true); err != nil {
		t.Fatalf("InsertFEC #1: %v", err)
	}
	if first.FECTouched != 1 {
		t.Fatalf("FECTouched = %d, want 1 after the first look", first.FECTouched)
	}
	if n := countColumnFECs(); n != 1 {
		t.Fatalf("column FECs after first touch = %d, want 1 (retained)", n)
	}

	second := packet.New(pool)
	second.Type = packet.FEC
	second.Seq = 110
	second.FECHeader = &packet.FECHeader{SNBase: 110, L: 1, NABits: 2}
	if err := ch.InsertFEC(second, true); err != nil {
		t.Fatalf("InsertFEC #2: %v", err)
	}
	if first.FECTouched != 2 {
		t.Fatalf("FECTouched = %d, want 2 after the second look", first.FECTouched)
	}
	if n := countColumnFECs(); n != 1 {
		t.Fatalf("column FECs after second touch = %d, want 1 (first packet retired, second retained)", n)
	}
}
