// Package jsdrvtime implements the fixed-point UTC time representation
// used throughout the driver core: a signed 64-bit value with the low
// 30 bits fractional (1 second == 1<<30), epoch 2018-01-01T00:00:00Z.
package jsdrvtime

import "fmt"

// Time is a signed Q34.30 fixed-point UTC timestamp. One second is
// 1<<30 ticks; the epoch is 2018-01-01T00:00:00Z.
type Time int64

// Frac is the number of fractional bits (spec.md §4.1).
const Frac = 30

// Second is one second expressed in Time ticks.
const Second Time = 1 << Frac

// Minute, Hour and Day follow from Second for readability at call sites.
const (
	Minute = 60 * Second
	Hour   = 60 * Minute
	Day    = 24 * Hour
)

// daysFromEpoch is the number of days between 1970-01-01 and the driver
// epoch 2018-01-01, used to bias into/out of the civil calendar.
const daysFromEpoch = 17532

// FromSeconds converts a float64 seconds-since-epoch value to Time,
// rounding half-away-from-zero.
func FromSeconds(seconds float64) Time {
	scaled := seconds * float64(Second)
	if scaled >= 0 {
		return Time(scaled + 0.5)
	}
	return Time(scaled - 0.5)
}

// ToSeconds converts a Time value to float64 seconds since epoch.
func (t Time) ToSeconds() float64 {
	return float64(t) / float64(Second)
}

// RoundNearest converts a counter value sampled at counterRate Hz,
// referenced to offsetCounter/offsetTime, into a Time, rounding
// half-away-from-zero. time(c) = offsetTime + ((c-offsetCounter)/rate)*2^30
func RoundNearest(offsetTime Time, offsetCounter uint64, counterRate float64, counter uint64) Time {
	delta := float64(int64(counter) - int64(offsetCounter))
	seconds := delta / counterRate
	return offsetTime + FromSeconds(seconds)
}

// RoundToZero is like RoundNearest but truncates toward zero.
func RoundToZero(offsetTime Time, offsetCounter uint64, counterRate float64, counter uint64) Time {
	delta := float64(int64(counter) - int64(offsetCounter))
	seconds := delta / counterRate
	return offsetTime + Time(seconds*float64(Second))
}

// RoundToInfinity rounds away from zero unconditionally (ceiling for
// positive deltas, floor for negative).
func RoundToInfinity(offsetTime Time, offsetCounter uint64, counterRate float64, counter uint64) Time {
	delta := float64(int64(counter) - int64(offsetCounter))
	seconds := delta / counterRate
	scaled := seconds * float64(Second)
	truncated := Time(scaled)
	hasRemainder := scaled != float64(truncated)
	if scaled >= 0 {
		if hasRemainder {
			truncated++
		}
		return offsetTime + truncated
	}
	if hasRemainder {
		truncated--
	}
	return offsetTime + truncated
}

// CounterAt inverts RoundNearest: given a Time, recover the counter
// value at the given rate/offset (symmetric with RoundNearest).
func CounterAt(offsetTime Time, offsetCounter uint64, counterRate float64, t Time) uint64 {
	deltaSeconds := (t - offsetTime).ToSeconds()
	deltaCounter := deltaSeconds * counterRate
	var rounded int64
	if deltaCounter >= 0 {
		rounded = int64(deltaCounter + 0.5)
	} else {
		rounded = int64(deltaCounter - 0.5)
	}
	return uint64(int64(offsetCounter) + rounded)
}

// civilFromDays converts a day count since 1970-01-01 (Howard Hinnant's
// civil_from_days algorithm) into (year, month, day).
func civilFromDays(z int64) (year int, month int, day int) {
	z += 719468
	era := z
	if z < 0 {
		era -= 146096
	}
	era /= 146097
	doe := z - era*146097
	yoe := (doe - doe/1460 + doe/36524 - doe/146096) / 365
	y := yoe + era*400
	doy := doe - (365*yoe + yoe/4 - yoe/100)
	mp := (5*doy + 2) / 153
	d := doy - (153*mp+2)/5 + 1
	m := mp + 3
	if mp >= 10 {
		m = mp - 9
	}
	if m <= 2 {
		y++
	}
	return int(y), int(m), int(d)
}

// ToISO8601 formats a Time as "YYYY-MM-DDTHH:MM:SS.ffffff" (six
// fractional digits), matching the original driver's diagnostic format.
func (t Time) ToISO8601() string {
	// totalSeconds is the floor of t/Second; frac is the remaining
	// sub-second ticks in [0, Second).
	totalSeconds := int64(t >> Frac)
	frac := t - (Time(totalSeconds) << Frac)
	if frac < 0 {
		frac += Second
		totalSeconds--
	}

	totalDays := totalSeconds / 86400
	secOfDay := totalSeconds % 86400
	if secOfDay < 0 {
		secOfDay += 86400
		totalDays--
	}

	year, month, day := civilFromDays(totalDays + daysFromEpoch)

	micros := (int64(frac) * 1_000_000) >> Frac

	hh := secOfDay / 3600
	mm := (secOfDay / 60) % 60
	ss := secOfDay % 60

	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d.%06d", year, month, day, hh, mm, ss, micros)
}

// String implements fmt.Stringer.
func (t Time) String() string {
	return t.ToISO8601()
}

// FormatISO8601 is the free-function form of Time.ToISO8601.
func FormatISO8601(t Time) string { return t.ToISO8601() }

// RoundDuration rounds a relative duration (a difference of two Time
// values, not an absolute timestamp) to the nearest multiple of
// resolution, half-away-from-zero.
func RoundDuration(d, resolution Time) Time {
	if resolution <= 0 {
		return d
	}
	half := resolution / 2
	if d >= 0 {
		return (d + half) / resolution * resolution
	}
	return (d - half) / resolution * resolution
}

// FormatDuration renders a relative duration as "HhMMmSS.ffffffs",
// omitting leading zero components, matching the original driver's
// human-readable elapsed-time diagnostic.
func FormatDuration(d Time) string {
	neg := d < 0
	if neg {
		d = -d
	}
	totalSeconds := int64(d >> Frac)
	frac := d - (Time(totalSeconds) << Frac)
	micros := (int64(frac) * 1_000_000) >> Frac

	h := totalSeconds / 3600
	m := (totalSeconds / 60) % 60
	s := totalSeconds % 60

	var out string
	switch {
	case h > 0:
		out = fmt.Sprintf("%dh%02dm%02d.%06ds", h, m, s, micros)
	case m > 0:
		out = fmt.Sprintf("%dm%02d.%06ds", m, s, micros)
	default:
		out = fmt.Sprintf("%d.%06ds", s, micros)
	}
	if neg {
		return "-" + out
	}
	return out
}
