package seqnum

import "testing"

func TestLiftNearestGeneration(t *testing.T) {
	ref := uint32(0x8000)
	if got := Lift(0x8001, ref); got != 0x8001 {
		t.Fatalf("Lift same generation: got %#x", got)
	}

	// wrap forward: wire seq just past 0xffff should lift into the next
	// generation when ref is near the top of the current one.
	ref = 0xfff0
	if got := Lift(0x0005, ref); got != 0x10005 {
		t.Fatalf("Lift forward wrap: got %#x, want %#x", got, 0x10005)
	}

	// wrap backward: wire seq just below 0 should lift into the previous
	// generation when ref is near the bottom of the current one.
	ref = 0x00010 // generation 0, low offset
	if got := Lift(0xfff0, ref); got != 0xfffffff0 {
		t.Fatalf("Lift backward wrap: got %#x, want %#x", got, 0xfffffff0)
	}
}

func TestComparisons(t *testing.T) {
	if !Lt(5, 10) || Lt(10, 5) {
		t.Fatal("Lt broken")
	}
	if !Le(5, 5) || !Ge(5, 5) {
		t.Fatal("Le/Ge reflexive case broken")
	}
	if !Gt(0, 0xffffffff) {
		t.Fatal("Gt should treat 0 as one step past 0xffffffff (wraparound)")
	}
	if Sub(0, 0xffffffff) != 1 {
		t.Fatalf("Sub across wrap: got %d, want 1", Sub(0, 0xffffffff))
	}
}

func TestMarkDiscontinuity(t *testing.T) {
	ref := uint32(0x0000abcd)
	next := MarkDiscontinuity(ref)
	if next != 0x00010000 {
		t.Fatalf("MarkDiscontinuity: got %#x, want %#x", next, 0x00010000)
	}
	// not idempotent: applying it again advances one more generation
	next2 := MarkDiscontinuity(next)
	if next2 != 0x00020000 {
		t.Fatalf("MarkDiscontinuity twice: got %#x, want %#x", next2, 0x00020000)
	}
}

func TestMinMax(t *testing.T) {
	if Min(5, 10) != 5 || Max(5, 10) != 10 {
		t.Fatal("Min/Max broken")
	}
}
