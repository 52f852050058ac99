package buffer

import "testing"

func TestAllocateSingleFloatSignalSizesToRing(t *testing.T) {
	sizes := Allocate(1<<20, []SignalRateInfo{
		{SignalID: 0, SampleRate: 1000, ElementSizeBits: 32},
	})
	if len(sizes) != 1 {
		t.Fatalf("len(sizes) = %d, want 1", len(sizes))
	}
	if sizes[0].R0 != R0Float {
		t.Errorf("R0 = %d, want %d (float32 signal)", sizes[0].R0, R0Float)
	}
	if sizes[0].N == 0 {
		t.Error("N = 0, want a non-zero ring capacity")
	}
	if sizes[0].N%uint64(sizes[0].R0) != 0 {
		t.Errorf("N = %d is not a multiple of R0 = %d", sizes[0].N, sizes[0].R0)
	}
}

func TestAllocatePackedSignalUsesPackedR0(t *testing.T) {
	sizes := Allocate(1<<20, []SignalRateInfo{
		{SignalID: 1, SampleRate: 1_000_000, ElementSizeBits: 1},
	})
	if sizes[0].R0 != R0Packed {
		t.Errorf("R0 = %d, want %d (1-bit packed signal)", sizes[0].R0, R0Packed)
	}
}

func TestAllocateSplitsBudgetAcrossSignals(t *testing.T) {
	sizes := Allocate(1<<20, []SignalRateInfo{
		{SignalID: 0, SampleRate: 1000, ElementSizeBits: 32},
		{SignalID: 1, SampleRate: 1000, ElementSizeBits: 32},
	})
	if len(sizes) != 2 {
		t.Fatalf("len(sizes) = %d, want 2", len(sizes))
	}
	// Two identical-rate signals splitting one budget should land on
	// (roughly) the same ring size.
	diff := int64(sizes[0].N) - int64(sizes[1].N)
	if diff < -int64(sizes[0].R0) || diff > int64(sizes[0].R0) {
		t.Errorf("N0=%d N1=%d, want them within one R0 unit of each other", sizes[0].N, sizes[1].N)
	}
}

func TestAllocateZeroBudgetReturnsZeroSizes(t *testing.T) {
	sizes := Allocate(0, []SignalRateInfo{{SignalID: 0, SampleRate: 1000, ElementSizeBits: 32}})
	if sizes[0].N != 0 {
		t.Errorf("N = %d, want 0 for a zero byte budget", sizes[0].N)
	}
}

func TestLevelCountHoldsAtLeastOneTopEntry(t *testing.T) {
	n := uint64(R0Float) * RN * RN
	l := levelCount(n, R0Float)
	if l < 2 {
		t.Fatalf("levelCount(%d) = %d, want at least 2", n, l)
	}
	topEntries := n / uint64(R0Float)
	for k := 1; k < l; k++ {
		topEntries /= RN
	}
	if topEntries < 1 {
		t.Errorf("top level would hold %d entries, want >= 1", topEntries)
	}
}
