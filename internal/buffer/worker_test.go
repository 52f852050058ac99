package buffer

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/jsdrv/jsdrv-go/internal/constants"
	"github.com/jsdrv/jsdrv-go/internal/pubsub"
	"github.com/jsdrv/jsdrv-go/internal/uapi"
	"github.com/jsdrv/jsdrv-go/internal/value"
)

func newTestWorker() (*Worker, *pubsub.Bus) {
	bus := pubsub.New(nil, nil)
	w := NewWorker(7, bus, nil, nil)
	return w, bus
}

func streamBlock(sid uint64, sampleRate uint32, values []float32) uapi.StreamSampleBlock {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return uapi.StreamSampleBlock{
		SampleID:        sid,
		ElementType:     uapi.ElementTypeFloat,
		ElementSizeBits: 32,
		ElementCount:    uint32(len(values)),
		SampleRate:      sampleRate,
		DecimateFactor:  1,
		TimeMap:         uapi.TimeMap{OffsetTime: 0, OffsetCounter: sid, CounterRate: float64(sampleRate)},
		Data:            data,
	}
}

func TestParseCommandRecognizesEveryBufferSubtopic(t *testing.T) {
	w, _ := newTestWorker()

	if cmd := w.parseCommand("a/!add", value.U32(3)); cmd.(cmdAddSignal).SignalID != 3 {
		t.Errorf("a/!add parsed SignalID = %v, want 3", cmd)
	}
	if cmd := w.parseCommand("a/!remove", value.U32(3)); cmd.(cmdRemoveSignal).SignalID != 3 {
		t.Errorf("a/!remove parsed SignalID = %v, want 3", cmd)
	}
	if cmd := w.parseCommand("g/size", value.U64(4096)); cmd.(cmdSetSize).Bytes != 4096 {
		t.Errorf("g/size parsed Bytes = %v, want 4096", cmd)
	}
	if cmd := w.parseCommand("g/hold", value.U8(1)); !cmd.(cmdSetHold).Hold {
		t.Errorf("g/hold parsed Hold = %v, want true", cmd)
	}
	if _, ok := w.parseCommand("g/!clear", value.Null()).(cmdClear); !ok {
		t.Error("g/!clear did not parse to cmdClear")
	}
	if cmd := w.parseCommand("s/5/topic", value.Str("u/dev/ch0")); cmd.(cmdSetTopic).SignalID != 5 || cmd.(cmdSetTopic).Topic != "u/dev/ch0" {
		t.Errorf("s/5/topic parsed = %+v, want signal 5 topic u/dev/ch0", cmd)
	}
}

func TestWorkerAddSignalPublishesListAndReturnCode(t *testing.T) {
	w, bus := newTestWorker()
	var rc value.Value
	var list value.Value
	bus.Subscribe("m/7/a/!add", pubsub.Subscriber{ID: "t", Flags: pubsub.FlagReturnCode, Target: func(_ string, v value.Value) byte {
		rc = v
		return 0
	}})
	bus.Subscribe("m/7/g/list", pubsub.Subscriber{ID: "t2", Flags: pubsub.FlagPub, Target: func(_ string, v value.Value) byte {
		list = v
		return 0
	}})

	w.apply(cmdAddSignal{SignalID: 2})

	u, err := rc.AsI64()
	if err != nil || u != 0 {
		t.Errorf("a/!add return code = %v (err=%v), want 0 (success)", u, err)
	}
	if len(list.Bytes()) != 2 || list.Bytes()[0] != 2 || list.Bytes()[1] != 0 {
		t.Errorf("g/list = %v, want [2, 0]", list.Bytes())
	}
	if _, ok := w.signals[2]; !ok {
		t.Error("signal 2 was not registered after a/!add")
	}
}

func TestWorkerAwaitTransitionsToActiveOnceEverySignalHeaderSeen(t *testing.T) {
	w, _ := newTestWorker()
	w.apply(cmdAddSignal{SignalID: 0})
	w.apply(cmdAddSignal{SignalID: 1})
	w.apply(cmdSetSize{Bytes: 1 << 20})
	if w.State() != StateAwait {
		t.Fatalf("State() = %v, want Await after g/size", w.State())
	}

	w.apply(cmdDataBlock{SignalID: 0, Block: streamBlock(0, 1000, []float32{1, 2, 3})})
	if w.State() != StateAwait {
		t.Fatalf("State() = %v, want still Await (signal 1 hasn't reported yet)", w.State())
	}

	w.apply(cmdDataBlock{SignalID: 1, Block: streamBlock(0, 2000, []float32{4, 5})})
	if w.State() != StateActive {
		t.Fatalf("State() = %v, want Active once every active signal has a header", w.State())
	}
	if w.signals[0].ring == nil || w.signals[1].ring == nil {
		t.Error("expected both signals to have an allocated ring once Active")
	}
}

func TestWorkerHoldDropsIncomingSamples(t *testing.T) {
	w, _ := newTestWorker()
	w.apply(cmdAddSignal{SignalID: 0})
	w.apply(cmdSetSize{Bytes: 1 << 20})
	w.apply(cmdSetHold{Hold: true})
	w.apply(cmdDataBlock{SignalID: 0, Block: streamBlock(0, 1000, []float32{1, 2, 3})})

	if w.signals[0].headerSeen {
		t.Error("expected a held worker to drop incoming stream blocks entirely")
	}
}

func TestWorkerRequestDedupAndServiceOneAtATime(t *testing.T) {
	w, bus := newTestWorker()
	var responses int
	bus.Subscribe("rsp/topic", pubsub.Subscriber{ID: "r", Flags: pubsub.FlagPub, Target: func(_ string, v value.Value) byte {
		responses++
		return 0
	}})

	w.apply(cmdAddSignal{SignalID: 0})
	w.apply(cmdSetSize{Bytes: 1 << 20})
	w.apply(cmdDataBlock{SignalID: 0, Block: streamBlock(0, 1000, []float32{1, 2, 3, 4, 5})})

	req := Request{SignalID: 0, TimeType: uapi.TimeTypeSamples, Start: 0, End: 4, RspTopic: "rsp/topic", RspID: 1}
	w.apply(cmdEnqueueRequest{Req: req})
	w.apply(cmdEnqueueRequest{Req: req}) // identical dedup key, should not double-queue

	if w.requests.Len() != 1 {
		t.Fatalf("requests.Len() = %d, want 1 after a deduplicated re-enqueue", w.requests.Len())
	}

	w.handleOneRequest()
	if responses != 1 {
		t.Errorf("responses = %d, want 1 after servicing the single pending request", responses)
	}
	if w.requests.Len() != 0 {
		t.Errorf("requests.Len() = %d, want 0 after the request was serviced", w.requests.Len())
	}
}

func TestWorkerRequestWithLengthRespondsWithSummary(t *testing.T) {
	w, bus := newTestWorker()
	var resp uapi.BufferResponse
	bus.Subscribe("rsp/topic", pubsub.Subscriber{ID: "r", Flags: pubsub.FlagPub, Target: func(_ string, v value.Value) byte {
		_ = uapi.Unmarshal(v.Bytes(), &resp)
		return 0
	}})

	w.apply(cmdAddSignal{SignalID: 0})
	w.apply(cmdSetSize{Bytes: 1 << 20})
	w.apply(cmdDataBlock{SignalID: 0, Block: streamBlock(0, 1000, []float32{1, 2, 3, 4, 5, 6})})

	req := Request{SignalID: 0, TimeType: uapi.TimeTypeSamples, Start: 0, End: 5, RspTopic: "rsp/topic", RspID: 1, Length: 2}
	w.apply(cmdEnqueueRequest{Req: req})
	w.handleOneRequest()

	if resp.ResponseType != uapi.ResponseTypeSummary {
		t.Fatalf("ResponseType = %d, want ResponseTypeSummary", resp.ResponseType)
	}
	if len(resp.Data) != 2*constants.SummaryEntrySize {
		t.Fatalf("len(Data) = %d, want %d (2 summary entries)", len(resp.Data), 2*constants.SummaryEntrySize)
	}
	avg0 := math.Float32frombits(binary.LittleEndian.Uint32(resp.Data[0:4]))
	if avg0 != 2 {
		t.Errorf("first window avg = %v, want 2 (mean of samples 0-2)", avg0)
	}
}
