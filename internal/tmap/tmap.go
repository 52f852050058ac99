// Package tmap implements the sample-id↔UTC time map: a reference
// counted, single-writer/multi-reader ring of {offset_time,
// offset_counter, counter_rate} entries shared between a data-producing
// device worker and any number of data-consuming buffer/query threads
// (spec.md §4.7).
package tmap

import (
	"sync"
	"sync/atomic"

	"github.com/jsdrv/jsdrv-go/internal/jsdrverr"
	"github.com/jsdrv/jsdrv-go/internal/jsdrvtime"
)

// Entry anchors a counter value to a UTC time and a local counter
// rate; time(c) = OffsetTime + (c-OffsetCounter)/CounterRate seconds.
type Entry struct {
	OffsetTime    jsdrvtime.Time
	OffsetCounter uint64
	CounterRate   float64
}

func (e Entry) equal(o Entry) bool {
	return e.OffsetTime == o.OffsetTime && e.OffsetCounter == o.OffsetCounter && e.CounterRate == o.CounterRate
}

const initialCapacity = 8

// Tmap is the time map ring described by spec.md §4.7. Zero value is
// not usable; construct with New.
type Tmap struct {
	mu sync.Mutex

	buf   []Entry
	head  int // next write slot
	tail  int // oldest entry slot
	count int

	readerCount int

	// pending-writer slots: at most one outstanding tail (expire) and
	// one outstanding entry (add) update while readers are active; a
	// pending clear supersedes both.
	pendingExpireSet bool
	pendingExpireSID uint64
	pendingEntrySet  bool
	pendingEntry     Entry
	pendingClear     bool

	refCount int32
	released bool
}

// New returns a Tmap with one owning reference already held.
func New() *Tmap {
	return &Tmap{
		buf:      make([]Entry, initialCapacity),
		refCount: 1,
	}
}

// RefIncr takes an additional reference, to be matched by RefDecr
// before the calling thread exits.
func (t *Tmap) RefIncr() { atomic.AddInt32(&t.refCount, 1) }

// RefDecr releases a reference; storage is reclaimed once the count
// reaches zero.
func (t *Tmap) RefDecr() {
	if atomic.AddInt32(&t.refCount, -1) == 0 {
		t.mu.Lock()
		t.buf = nil
		t.count = 0
		t.released = true
		t.mu.Unlock()
	}
}

// ReaderEnter brackets a read-side critical section; pair with
// ReaderExit. Writers never block on readers: they stash updates in
// the pending slots instead.
func (t *Tmap) ReaderEnter() {
	t.mu.Lock()
	t.readerCount++
	t.mu.Unlock()
}

// ReaderExit ends a read-side critical section. The last exiting
// reader applies any pending writer updates.
func (t *Tmap) ReaderExit() {
	t.mu.Lock()
	t.readerCount--
	if t.readerCount == 0 {
		t.applyPendingLocked()
	}
	t.mu.Unlock()
}

func (t *Tmap) applyPendingLocked() {
	if t.pendingClear {
		t.clearLocked()
		t.pendingClear = false
		t.pendingEntrySet = false
		t.pendingExpireSet = false
		return
	}
	if t.pendingExpireSet {
		t.expireLocked(t.pendingExpireSID)
		t.pendingExpireSet = false
	}
	if t.pendingEntrySet {
		t.pushLocked(t.pendingEntry)
		t.pendingEntrySet = false
	}
}

// Add appends entry, coalescing with the newest entry (applied or
// pending) if it is identical. Deferred to the pending slot while
// readers are active.
func (t *Tmap) Add(entry Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readerCount > 0 {
		if t.pendingEntrySet && t.pendingEntry.equal(entry) {
			return
		}
		if !t.pendingEntrySet && t.count > 0 && t.at(t.count-1).equal(entry) {
			return
		}
		t.pendingEntry = entry
		t.pendingEntrySet = true
		return
	}
	t.pushLocked(entry)
}

// ExpireBySampleID drops entries that ended before sid. Deferred to
// the pending slot while readers are active.
func (t *Tmap) ExpireBySampleID(sid uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readerCount > 0 {
		t.pendingExpireSID = sid
		t.pendingExpireSet = true
		return
	}
	t.expireLocked(sid)
}

// Clear drops all entries. Deferred to the pending slot while readers
// are active.
func (t *Tmap) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readerCount > 0 {
		t.pendingClear = true
		return
	}
	t.clearLocked()
}

func (t *Tmap) clearLocked() {
	t.head, t.tail, t.count = 0, 0, 0
}

func (t *Tmap) at(i int) Entry {
	return t.buf[(t.tail+i)%len(t.buf)]
}

func (t *Tmap) pushLocked(e Entry) {
	if t.count > 0 && t.at(t.count-1).equal(e) {
		return
	}
	if t.count == len(t.buf) {
		t.growLocked()
	}
	t.buf[t.head] = e
	t.head = (t.head + 1) % len(t.buf)
	t.count++
}

func (t *Tmap) growLocked() {
	newBuf := make([]Entry, len(t.buf)*2)
	for i := 0; i < t.count; i++ {
		newBuf[i] = t.at(i)
	}
	t.buf = newBuf
	t.tail = 0
	t.head = t.count
}

func (t *Tmap) expireLocked(sid uint64) {
	for t.count > 1 && t.at(1).OffsetCounter <= sid {
		t.tail = (t.tail + 1) % len(t.buf)
		t.count--
	}
}

// Size returns the number of entries currently in the ring. Must be
// called between ReaderEnter/ReaderExit (or while holding the sole
// writer role).
func (t *Tmap) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Get returns the entry at the given logical index (0 = oldest).
func (t *Tmap) Get(index int) (Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= t.count {
		return Entry{}, jsdrverr.New("Get", "", jsdrverr.CodeParameterInvalid)
	}
	return t.at(index), nil
}

// segmentForSampleID returns the index of the entry whose validity
// range covers sid, using an interpolation guess followed by a local
// linear walk (spec.md §4.7 "O(1) expected steps").
func (t *Tmap) segmentForSampleID(sid uint64) int {
	if t.count == 1 {
		return 0
	}
	first, last := t.at(0), t.at(t.count-1)
	var guess int
	switch {
	case sid <= first.OffsetCounter:
		guess = 0
	case sid >= last.OffsetCounter:
		guess = t.count - 1
	default:
		span := last.OffsetCounter - first.OffsetCounter
		frac := float64(sid-first.OffsetCounter) / float64(span)
		guess = int(frac * float64(t.count-1))
		if guess < 0 {
			guess = 0
		}
		if guess > t.count-1 {
			guess = t.count - 1
		}
	}
	for guess > 0 && t.at(guess).OffsetCounter > sid {
		guess--
	}
	for guess < t.count-1 && t.at(guess+1).OffsetCounter <= sid {
		guess++
	}
	return guess
}

func (t *Tmap) segmentForTimestamp(ts jsdrvtime.Time) int {
	if t.count == 1 {
		return 0
	}
	first, last := t.at(0), t.at(t.count-1)
	var guess int
	switch {
	case ts <= first.OffsetTime:
		guess = 0
	case ts >= last.OffsetTime:
		guess = t.count - 1
	default:
		span := int64(last.OffsetTime - first.OffsetTime)
		frac := float64(int64(ts-first.OffsetTime)) / float64(span)
		guess = int(frac * float64(t.count-1))
		if guess < 0 {
			guess = 0
		}
		if guess > t.count-1 {
			guess = t.count - 1
		}
	}
	for guess > 0 && t.at(guess).OffsetTime > ts {
		guess--
	}
	for guess < t.count-1 && t.at(guess+1).OffsetTime <= ts {
		guess++
	}
	return guess
}

// SampleIDToTimestamp converts a counter value to UTC time using
// double-precision interpolation within the covering segment. Returns
// Unavailable on an empty map (spec.md §4.7).
func (t *Tmap) SampleIDToTimestamp(sid uint64) (jsdrvtime.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		return 0, jsdrverr.New("SampleIDToTimestamp", "", jsdrverr.CodeUnavailable)
	}
	e := t.at(t.segmentForSampleID(sid))
	return jsdrvtime.RoundNearest(e.OffsetTime, e.OffsetCounter, e.CounterRate, sid), nil
}

// TimestampToSampleID is the inverse of SampleIDToTimestamp.
func (t *Tmap) TimestampToSampleID(ts jsdrvtime.Time) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		return 0, jsdrverr.New("TimestampToSampleID", "", jsdrverr.CodeUnavailable)
	}
	e := t.at(t.segmentForTimestamp(ts))
	return jsdrvtime.CounterAt(e.OffsetTime, e.OffsetCounter, e.CounterRate, ts), nil
}
