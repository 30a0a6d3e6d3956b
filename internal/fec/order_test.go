package fec

import "testing"

func TestOrderDetectorAnnexB(t *testing.T) {
	var o OrderDetector
	o.Sample(1000, 10, 10)
	o.Sample(1001, 10, 10)
	got := o.Sample(1002, 10, 10)
	if got != AnnexB {
		t.Fatalf("delta=1,1: got %v, want AnnexB", got)
	}
}

func TestOrderDetectorAnnexBWideStride(t *testing.T) {
	var o OrderDetector
	l, d := uint8(4), uint8(10)
	stride := uint32(int64(l)*int64(d) - int64(l-1)) // L*D - (L-1)
	o.Sample(1000, l, d)
	o.Sample(1000+stride, l, d)
	got := o.Sample(1000+2*stride, l, d)
	if got != AnnexB {
		t.Fatalf("annex-b stride: got %v, want AnnexB", got)
	}
}

func TestOrderDetectorAnnexA(t *testing.T) {
	var o OrderDetector
	l, d := uint8(4), uint8(10)
	stride := uint32(l) + 1
	o.Sample(1000, l, d)
	o.Sample(1000+stride, l, d)
	got := o.Sample(1000+2*stride, l, d)
	if got != AnnexA {
		t.Fatalf("annex-a: got %v, want AnnexA", got)
	}
}

func TestOrderDetectorNotDecidedUntilThree(t *testing.T) {
	var o OrderDetector
	if got := o.Sample(1000, 4, 10); got != NotDecided {
		t.Fatalf("first sample: got %v, want NotDecided", got)
	}
	if got := o.Sample(1005, 4, 10); got != NotDecided {
		t.Fatalf("second sample: got %v, want NotDecided", got)
	}
}

func TestOrderDetectorResetsOnLDChange(t *testing.T) {
	var o OrderDetector
	o.Sample(1000, 4, 10)
	o.Sample(1001, 4, 10)
	o.Sample(1002, 4, 10) // decides AnnexB
	if o.Detected() != AnnexB {
		t.Fatalf("setup: want AnnexB, got %v", o.Detected())
	}
	// changing L resets the window
	got := o.Sample(2000, 5, 10)
	if got != NotDecided {
		t.Fatalf("after L change: got %v, want NotDecided", got)
	}
}
