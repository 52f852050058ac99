// Package uapi defines the wire-layout structs exchanged as binary
// Value payloads (spec.md §6): the stream sample block produced by
// device workers, and the buffer request/response/info structures
// exchanged with the buffer manager. Layouts are fixed-size and
// little-endian so they marshal identically regardless of host
// architecture.
package uapi

// Element type tags carried in a StreamSampleBlock header.
const (
	ElementTypeFloat    uint8 = 0
	ElementTypeUnsigned uint8 = 1
	ElementTypeSigned   uint8 = 2
)

// TimeMap expresses time(c) = OffsetTime + ((c-OffsetCounter)/CounterRate)*2^30
// (spec.md §3 "Tmap").
type TimeMap struct {
	OffsetTime    int64
	OffsetCounter uint64
	CounterRate   float64
}

// StreamBlockHeaderSize is the fixed wire size of StreamSampleBlock's
// header, excluding the trailing sample data (spec.md §6: 48 bytes).
const StreamBlockHeaderSize = 48

// StreamSampleBlock is the wire payload for a "data" message produced
// by a device worker and consumed by a bufsig (spec.md §6).
type StreamSampleBlock struct {
	SampleID        uint64
	FieldID         uint8
	Index           uint8
	ElementType     uint8
	ElementSizeBits uint8
	ElementCount    uint32
	SampleRate      uint32
	DecimateFactor  uint32
	TimeMap         TimeMap
	Data            []byte
}

// Buffer request time-range kind (spec.md §4.5).
const (
	TimeTypeUTC     uint8 = 0
	TimeTypeSamples uint8 = 1
)

// RspTopicMaxLen bounds the response-topic field embedded in a
// BufferRequest, matching the bus-wide topic length limit (spec.md §6).
const RspTopicMaxLen = 64

// BufferRequestWireSize is the fixed marshaled size of BufferRequest.
const BufferRequestWireSize = 1 + 1 + 2 + 8 + 8 + RspTopicMaxLen + 4 + 4

// BufferRequest is the binary payload (app=buffer_req) that asks a
// per-buffer worker for a sample- or time-domain window, either raw
// samples or a multi-resolution summary (spec.md §1, §4.5, §6).
type BufferRequest struct {
	Version  uint8
	TimeType uint8
	// Start/End are either UTC ticks or sample ids depending on TimeType.
	Start int64
	End   int64

	RspTopic string
	RspID    uint32

	// Length selects the response kind: zero requests raw samples
	// (response_type=samples); a positive value requests that many
	// equal-width summary windows over [Start, End] (response_type=summary,
	// spec.md §4.5's length-driven incr algorithm).
	Length uint32
}

// Buffer response kinds (spec.md §6).
const (
	ResponseTypeSamples uint8 = 0
	ResponseTypeSummary uint8 = 1
)

// BufferInfoWireSize is the fixed marshaled size of BufferInfo.
const BufferInfoWireSize = 1 + 1 + 1 + 1 + 4 + 4 + 8 + 8 + 8 + 8

// BufferInfo describes the shape of a sample or summary response and
// is also published, retained, to `m/{id}/s/{signal_id}/info`
// (spec.md §4.5).
type BufferInfo struct {
	Version         uint8
	SignalID        uint8
	ElementType     uint8
	ElementSizeBits uint8
	SampleRate      uint32
	DecimateFactor  uint32

	TimeStartUTC int64
	TimeEndUTC   int64

	SampleIDStart uint64
	SampleIDEnd   uint64
}

// BufferResponseHeaderSize is the fixed marshaled size of
// BufferResponse excluding the trailing Data slice.
const BufferResponseHeaderSize = 1 + 1 + 2 + 4 + BufferInfoWireSize

// BufferResponse is the binary payload (app=buffer_rsp) published to
// the requester's rsp_topic (spec.md §4.5, §6).
type BufferResponse struct {
	Version      uint8
	ResponseType uint8
	RspID        uint32
	Info         BufferInfo
	Data         []byte
}
