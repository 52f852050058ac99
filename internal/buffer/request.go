package buffer

import "github.com/jsdrv/jsdrv-go/internal/uapi"

// Request is one pending buffer-data request, queued on a per-buffer
// FIFO (spec.md §4.5).
type Request struct {
	SignalID uint8
	TimeType uint8 // uapi.TimeTypeUTC or uapi.TimeTypeSamples
	Start    int64
	End      int64
	RspTopic string
	RspID    uint32
	// Length is zero for a raw-samples request, or the summary window
	// count for a summary request (spec.md §4.5, §6).
	Length uint32
}

func (r Request) dedupKey() dedupKey {
	return dedupKey{SignalID: r.SignalID, RspTopic: r.RspTopic, RspID: r.RspID}
}

type dedupKey struct {
	SignalID uint8
	RspTopic string
	RspID    uint32
}

// requestFIFO is the per-buffer request queue: identical
// (signal_id, rsp_topic, rsp_id) tuples collapse to the latest
// parameters rather than queuing twice (spec.md §4.5 "deduplication").
type requestFIFO struct {
	order []dedupKey
	byKey map[dedupKey]Request
}

func newRequestFIFO() *requestFIFO {
	return &requestFIFO{byKey: make(map[dedupKey]Request)}
}

// Push enqueues req, replacing an existing entry with the same
// dedup key in place (preserving its original FIFO position) rather
// than appending a duplicate.
func (f *requestFIFO) Push(req Request) {
	key := req.dedupKey()
	if _, exists := f.byKey[key]; exists {
		f.byKey[key] = req
		return
	}
	f.byKey[key] = req
	f.order = append(f.order, key)
}

// Pop removes and returns the oldest request, or ok=false if empty.
func (f *requestFIFO) Pop() (Request, bool) {
	for len(f.order) > 0 {
		key := f.order[0]
		f.order = f.order[1:]
		req, ok := f.byKey[key]
		if ok {
			delete(f.byKey, key)
			return req, true
		}
	}
	return Request{}, false
}

// Len reports the number of distinct pending requests.
func (f *requestFIFO) Len() int { return len(f.order) }

func fillFromBufferRequest(br uapi.BufferRequest, signalID uint8) Request {
	return Request{
		SignalID: signalID,
		TimeType: br.TimeType,
		Start:    br.Start,
		End:      br.End,
		RspTopic: br.RspTopic,
		RspID:    br.RspID,
		Length:   br.Length,
	}
}
