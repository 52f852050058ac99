package buffer

import "github.com/jsdrv/jsdrv-go/internal/constants"

// R0Float is the level-1 reduction factor for float32 signals; R0Packed
// is the level-1 reduction factor for packed 1- or 4-bit integer
// signals (spec.md §4.5). Every other integer width uses R0Float,
// since the spec names only these two cases and the packed case exists
// specifically because sub-byte widths pack many more raw samples per
// byte than a float32 stream does.
const (
	R0Float           = constants.R0Float
	R0Packed          = constants.R0Packed
	RN                = constants.RN
	summaryEntryBytes = constants.SummaryEntrySize
)

// SignalRateInfo is the per-signal shape the allocation policy needs:
// sample rate and element width, known only once the worker has seen
// that signal's first stream header (the Await state).
type SignalRateInfo struct {
	SignalID        uint8
	SampleRate      uint32
	ElementSizeBits uint8
}

// AllocatedSize is the outcome of the allocation policy for one
// signal: the ring capacity N (in post-decimation samples) it should
// be sized to hold.
type AllocatedSize struct {
	SignalID uint8
	N        uint64
	R0       uint32
	L        int
}

func r0For(bits uint8) uint32 {
	if bits <= 4 {
		return R0Packed
	}
	return R0Float
}

// levelCount returns the number of pyramid levels needed so the top
// level holds at least one entry for n post-decimation samples
// (spec.md §4.5 "L chosen so that the top-level holds at least one
// entry"), mirroring bufsig.buildPyramid's own level-count loop.
func levelCount(n uint64, r0 uint32) int {
	if r0 == 0 || n < uint64(r0) {
		return 0
	}
	entries := n / uint64(r0)
	l := 1
	for entries >= RN {
		entries /= RN
		l++
	}
	return l
}

// pyramidOverheadPerSample is summary_entry_size · Σ_{k=1..L}
// 1/(r0·rN^(k−1)), the amortized pyramid storage cost per raw input
// sample (spec.md §4.5).
func pyramidOverheadPerSample(r0 uint32, l int) float64 {
	sum := 0.0
	scale := 1.0
	for k := 1; k <= l; k++ {
		sum += 1.0 / (float64(r0) * scale)
		scale *= RN
	}
	return summaryEntryBytes * sum
}

// Allocate implements the Await→Active sizing policy (spec.md §4.5):
// every active signal's per-second byte cost (raw samples plus
// pyramid overhead) is summed, the byte budget is divided by that
// total rate to get a duration, and each signal is sized to the
// nearest r0·rN^L samples for that duration. L depends on each
// signal's own resulting N, which depends on L — resolved by a short
// fixed-point iteration that converges in at most a few passes since L
// only takes a handful of integer values in practice.
func Allocate(budgetBytes uint64, signals []SignalRateInfo) []AllocatedSize {
	if len(signals) == 0 || budgetBytes == 0 {
		out := make([]AllocatedSize, len(signals))
		for i, s := range signals {
			out[i] = AllocatedSize{SignalID: s.SignalID, R0: r0For(s.ElementSizeBits)}
		}
		return out
	}

	levels := make([]int, len(signals))
	for i, s := range signals {
		levels[i] = 1
		_ = s
	}

	var duration float64
	for iter := 0; iter < 6; iter++ {
		totalRate := 0.0
		for i, s := range signals {
			r0 := r0For(s.ElementSizeBits)
			raw := float64(s.SampleRate) * float64(s.ElementSizeBits) / 8.0
			overhead := pyramidOverheadPerSample(r0, levels[i]) * float64(s.SampleRate)
			totalRate += raw + overhead
		}
		if totalRate <= 0 {
			break
		}
		duration = float64(budgetBytes) / totalRate

		changed := false
		for i, s := range signals {
			r0 := r0For(s.ElementSizeBits)
			n := uint64(float64(s.SampleRate) * duration)
			l := levelCount(n, r0)
			if l == 0 {
				l = 1
			}
			if l != levels[i] {
				levels[i] = l
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	out := make([]AllocatedSize, len(signals))
	for i, s := range signals {
		r0 := r0For(s.ElementSizeBits)
		l := levels[i]
		unit := uint64(r0)
		for k := 0; k < l; k++ {
			unit *= RN
		}
		n := float64(s.SampleRate) * duration
		rounded := roundToNearestUnit(n, unit)
		out[i] = AllocatedSize{SignalID: s.SignalID, N: rounded, R0: r0, L: l}
	}
	return out
}

func roundToNearestUnit(n float64, unit uint64) uint64 {
	if unit == 0 {
		return uint64(n)
	}
	units := n / float64(unit)
	rounded := uint64(units + 0.5)
	if rounded == 0 {
		rounded = 1
	}
	return rounded * unit
}
