package packet

import "testing"

func TestSeqInsertGetRemove(t *testing.T) {
	s := NewSeq(16)
	pool := NewPool(MTU)
	p := New(pool)
	p.Seq = 5

	if s.Occupied(5) {
		t.Fatal("slot should start empty")
	}
	if err := s.Insert(5, p); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if got := s.Get(5); got != p {
		t.Fatalf("Get(5) = %v, want %v", got, p)
	}
	if removed := s.Remove(5); removed != p {
		t.Fatalf("Remove(5) = %v, want %v", removed, p)
	}
	if s.Occupied(5) {
		t.Fatal("slot should be empty after Remove")
	}
}

func TestSeqInsertDuplicateRejected(t *testing.T) {
	s := NewSeq(16)
	pool := NewPool(MTU)
	p1, p2 := New(pool), New(pool)
	if err := s.Insert(3, p1); err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	if err := s.Insert(3, p2); err != ErrDuplicate {
		t.Fatalf("second Insert(3): got %v, want ErrDuplicate", err)
	}
}

// Bucket 0's empty sentinel is seq=1 (since seq=0 must be representable
// as occupied at bucket 0); every other bucket's sentinel is 0.
func TestEmptySentinelAvoidsBucketZeroCollision(t *testing.T) {
	s := NewSeq(16)
	if s.Occupied(0) {
		t.Fatal("seq 0 should start unoccupied")
	}
	pool := NewPool(MTU)
	p := New(pool)
	if err := s.Insert(0, p); err != nil {
		t.Fatalf("Insert(0): %v", err)
	}
	if got := s.Get(0); got != p {
		t.Fatal("seq 0 should be retrievable once inserted")
	}
}

func TestSeqWrapsModuloSize(t *testing.T) {
	s := NewSeq(16)
	pool := NewPool(MTU)
	p := New(pool)
	if err := s.Insert(20, p); err != nil { // bucket 4, same as seq 4
		t.Fatalf("Insert(20): %v", err)
	}
	if s.Get(4) != nil {
		t.Fatal("seq 4 should read as empty: bucket holds seq 20, not 4")
	}
	if s.Get(20) != p {
		t.Fatal("seq 20 should be retrievable")
	}
}

func TestSameBucket(t *testing.T) {
	s := NewSeq(16)
	if !s.SameBucket(4, 20) {
		t.Fatal("4 and 20 should share a bucket mod 16")
	}
	if s.SameBucket(4, 5) {
		t.Fatal("4 and 5 should not share a bucket")
	}
}

func TestFlush(t *testing.T) {
	s := NewSeq(16)
	pool := NewPool(MTU)
	p := New(pool)
	s.Insert(7, p)
	s.Flush()
	if s.Occupied(7) {
		t.Fatal("Flush should empty every slot")
	}
}
