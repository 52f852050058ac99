package jsdrv

import (
	"time"

	"github.com/jsdrv/jsdrv-go/internal/constants"
)

// timeoutOutcome is delivered to a blocked PublishSync caller once its
// timeout entry resolves, one way or another.
type timeoutOutcome struct {
	value Value
	err   error
}

// timeoutEntry is one outstanding deadline in the frontend's timeout
// store (spec.md §4.3): sorted by deadline, matched on arrival by the
// topic its return code will be published to.
type timeoutEntry struct {
	deadline time.Time
	keyTopic string // original topic with "#" appended
	resultCh chan timeoutOutcome
	onExpire func() // released resources (e.g. a one-shot bus subscription) if the deadline wins
}

// timeoutStore is owned exclusively by the frontend's dispatch
// goroutine — every method below assumes that serialization, the same
// invariant internal/pubsub.Bus relies on for its own un-synchronized
// node tree.
type timeoutStore struct {
	byDeadline []*timeoutEntry          // sorted ascending by deadline
	byTopic    map[string][]*timeoutEntry // FIFO per keyTopic, for arrival matching
}

func newTimeoutStore() *timeoutStore {
	return &timeoutStore{byTopic: make(map[string][]*timeoutEntry)}
}

// add registers a new timeout for keyTopic, due after d, inserting it
// in deadline order (spec.md §4.3 "sorted insertion by deadline").
func (s *timeoutStore) add(keyTopic string, d time.Duration) *timeoutEntry {
	e := &timeoutEntry{
		deadline: time.Now().Add(d),
		keyTopic: keyTopic,
		resultCh: make(chan timeoutOutcome, 1),
	}
	i := len(s.byDeadline)
	for i > 0 && s.byDeadline[i-1].deadline.After(e.deadline) {
		i--
	}
	s.byDeadline = append(s.byDeadline, nil)
	copy(s.byDeadline[i+1:], s.byDeadline[i:])
	s.byDeadline[i] = e
	s.byTopic[keyTopic] = append(s.byTopic[keyTopic], e)
	return e
}

// nextPollInterval returns how long the dispatch loop should wait
// before it next needs to check for expiry, capped at one second
// (spec.md §4.3 "timeout_next_ms... capped at 1 s for polling").
func (s *timeoutStore) nextPollInterval() time.Duration {
	const pollCap = constants.TimeoutPollCap
	if len(s.byDeadline) == 0 {
		return pollCap
	}
	until := time.Until(s.byDeadline[0].deadline)
	if until < 0 {
		return 0
	}
	if until > pollCap {
		return pollCap
	}
	return until
}

// expire resolves every entry whose deadline has passed as TimedOut
// (spec.md §4.3).
func (s *timeoutStore) expire(now time.Time) {
	i := 0
	for i < len(s.byDeadline) && !s.byDeadline[i].deadline.After(now) {
		e := s.byDeadline[i]
		s.removeFromTopic(e)
		if e.onExpire != nil {
			e.onExpire()
		}
		e.resultCh <- timeoutOutcome{err: NewError("Timeout", e.keyTopic, CodeTimeout)}
		i++
	}
	s.byDeadline = s.byDeadline[i:]
}

// resolve matches an arriving return-code publish on keyTopic against
// the oldest pending entry for that topic, if any, and reports
// success. A topic with no pending timeout is not an error — most
// return-code publishes are fire-and-forget.
func (s *timeoutStore) resolve(keyTopic string, v Value) bool {
	pending := s.byTopic[keyTopic]
	if len(pending) == 0 {
		return false
	}
	e := pending[0]
	s.byTopic[keyTopic] = pending[1:]
	if len(s.byTopic[keyTopic]) == 0 {
		delete(s.byTopic, keyTopic)
	}
	s.removeFromDeadline(e)
	e.resultCh <- timeoutOutcome{value: v}
	return true
}

// abortAll resolves every outstanding entry as Aborted, used when the
// frontend finalizes (spec.md §4.3 "Finalize... aborts any remaining
// timeouts with Aborted").
func (s *timeoutStore) abortAll() {
	for _, e := range s.byDeadline {
		if e.onExpire != nil {
			e.onExpire()
		}
		e.resultCh <- timeoutOutcome{err: NewError("Finalize", e.keyTopic, CodeAborted)}
	}
	s.byDeadline = nil
	s.byTopic = make(map[string][]*timeoutEntry)
}

func (s *timeoutStore) removeFromTopic(e *timeoutEntry) {
	pending := s.byTopic[e.keyTopic]
	for i, cand := range pending {
		if cand == e {
			s.byTopic[e.keyTopic] = append(pending[:i], pending[i+1:]...)
			break
		}
	}
	if len(s.byTopic[e.keyTopic]) == 0 {
		delete(s.byTopic, e.keyTopic)
	}
}

func (s *timeoutStore) removeFromDeadline(e *timeoutEntry) {
	for i, cand := range s.byDeadline {
		if cand == e {
			s.byDeadline = append(s.byDeadline[:i], s.byDeadline[i+1:]...)
			return
		}
	}
}
