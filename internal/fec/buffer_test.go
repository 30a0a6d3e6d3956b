package fec

import (
	"testing"

	"github.com/xtaci/vqerepair/internal/packet"
)

func fecPacketWithHeader(pool *packet.Pool, snBase uint32, l, d uint8, dBit bool) *packet.Packet {
	p := packet.New(pool)
	p.Seq = snBase
	p.FECHeader = &packet.FECHeader{SNBase: snBase, L: l, NABits: d, D: dBit}
	return p
}

func TestBufferInsertColumnFeedsOrderDetector(t *testing.T) {
	pool := packet.NewPool(packet.MTU)
	buf := NewBuffer(1024)

	buf.Insert(fecPacketWithHeader(pool, 1000, 10, 10, false))
	buf.Insert(fecPacketWithHeader(pool, 1001, 10, 10, false))
	buf.Insert(fecPacketWithHeader(pool, 1002, 10, 10, false))

	l, d, order, ok := buf.Triple()
	if !ok {
		t.Fatal("Triple should be valid after column packets")
	}
	if l != 10 || d != 10 {
		t.Fatalf("got l=%d d=%d, want 10,10", l, d)
	}
	if order != AnnexB {
		t.Fatalf("order = %v, want AnnexB", order)
	}
}

func TestBufferRejectsDuplicate(t *testing.T) {
	pool := packet.NewPool(packet.MTU)
	buf := NewBuffer(1024)
	if err := buf.Insert(fecPacketWithHeader(pool, 5000, 4, 10, false)); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := buf.Insert(fecPacketWithHeader(pool, 5000, 4, 10, false)); err != ErrDuplicate {
		t.Fatalf("duplicate insert: got %v, want ErrDuplicate", err)
	}
}

func TestBufferRemoveAdvancesHeadAndTail(t *testing.T) {
	pool := packet.NewPool(packet.MTU)
	buf := NewBuffer(1024)

	for _, sn := range []uint32{100, 101, 102} {
		if err := buf.Insert(fecPacketWithHeader(pool, sn, 4, 10, false)); err != nil {
			t.Fatalf("insert %d: %v", sn, err)
		}
	}

	if removed := buf.Remove(&packet.FECHeader{SNBase: 100}, 100); removed == nil {
		t.Fatal("expected to remove sn_base 100")
	}

	var seen []uint32
	buf.ColumnFECs(func(p *packet.Packet) { seen = append(seen, p.Seq) })
	if len(seen) != 2 || seen[0] != 101 || seen[1] != 102 {
		t.Fatalf("walk after removing head = %v, want [101 102]", seen)
	}

	if removed := buf.Remove(&packet.FECHeader{SNBase: 102}, 102); removed == nil {
		t.Fatal("expected to remove sn_base 102")
	}
	seen = nil
	buf.ColumnFECs(func(p *packet.Packet) { seen = append(seen, p.Seq) })
	if len(seen) != 1 || seen[0] != 101 {
		t.Fatalf("walk after removing tail = %v, want [101]", seen)
	}

	if removed := buf.Remove(&packet.FECHeader{SNBase: 101}, 101); removed == nil {
		t.Fatal("expected to remove sn_base 101")
	}
	seen = nil
	buf.ColumnFECs(func(p *packet.Packet) { seen = append(seen, p.Seq) })
	if len(seen) != 0 {
		t.Fatalf("walk after emptying dimension = %v, want none", seen)
	}
}

func TestBufferSeparatesColumnAndRow(t *testing.T) {
	pool := packet.NewPool(packet.MTU)
	buf := NewBuffer(1024)
	buf.Insert(fecPacketWithHeader(pool, 42, 4, 10, false))
	buf.Insert(fecPacketWithHeader(pool, 42, 1, 4, true))

	var cols, rows int
	buf.ColumnFECs(func(*packet.Packet) { cols++ })
	buf.RowFECs(func(*packet.Packet) { rows++ })
	if cols != 1 || rows != 1 {
		t.Fatalf("cols=%d rows=%d, want 1,1 (same sn_base, different dimension)", cols, rows)
	}
}
