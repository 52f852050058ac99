// Package buffer implements the buffer manager and its per-buffer
// worker (spec.md §4.5): the `m/@/!add`/`m/@/!remove`/`m/@/list`
// provisioning topics, per-buffer signal slots backed by
// internal/bufsig rings, the Idle/Await/Active state machine, the
// per-second-byte-cost allocation policy, and the deduplicating
// per-buffer request FIFO.
package buffer

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/jsdrv/jsdrv-go/internal/bufsig"
	"github.com/jsdrv/jsdrv-go/internal/constants"
	"github.com/jsdrv/jsdrv-go/internal/interfaces"
	"github.com/jsdrv/jsdrv-go/internal/jsdrverr"
	"github.com/jsdrv/jsdrv-go/internal/jsdrvtime"
	"github.com/jsdrv/jsdrv-go/internal/pubsub"
	"github.com/jsdrv/jsdrv-go/internal/queue"
	"github.com/jsdrv/jsdrv-go/internal/stats"
	"github.com/jsdrv/jsdrv-go/internal/uapi"
	"github.com/jsdrv/jsdrv-go/internal/value"
)

// State is a buffer worker's position in the Idle/Await/Active
// lifecycle (spec.md §4.5).
type State int

const (
	StateIdle State = iota
	StateAwait
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwait:
		return "await"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

type signalSlot struct {
	active          bool
	sourceTopic     string
	headerSeen      bool
	elementType     uint8
	elementSizeBits uint8
	sampleRate      uint32
	decimateFactor  uint32
	ring            *bufsig.Bufsig
}

// Worker owns one buffer's signal slots, request FIFO, and command
// queue; it runs on its own goroutine, the only thread that ever
// mutates its state directly (spec.md §5).
type Worker struct {
	id       uint32
	bus      *pubsub.Bus
	logger   interfaces.Logger
	observer interfaces.Observer
	relay    func(func())

	cmdQueue *queue.Queue

	state      State
	sizeBudget uint64
	hold       bool
	signals    map[uint8]*signalSlot
	requests   *requestFIFO

	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewWorker constructs an unstarted Worker for buffer id.
func NewWorker(id uint32, bus *pubsub.Bus, logger interfaces.Logger, observer interfaces.Observer) *Worker {
	return &Worker{
		id:       id,
		bus:      bus,
		logger:   logger,
		observer: observer,
		cmdQueue: queue.New(256),
		signals:  make(map[uint8]*signalSlot),
		requests: newRequestFIFO(),
		doneCh:   make(chan struct{}),
	}
}

func (w *Worker) rootTopic() string { return "m/" + strconv.FormatUint(uint64(w.id), 10) }

// SetRelay installs the function this worker uses to reach the bus
// from its own loop goroutine (spec.md §5): relay must run fn on the
// frontend thread and block until it returns. Nil means call the bus
// directly, which is only safe when nothing else shares it concurrently.
func (w *Worker) SetRelay(relay func(func())) { w.relay = relay }

// busDo runs fn against the bus, through the relay if one is set. Every
// bus.Publish/Subscribe/Unsubscribe call made from the worker's own
// loop goroutine (as opposed to Start/Stop, called by whatever thread
// already owns the bus) must go through this, never the bus directly.
func (w *Worker) busDo(fn func()) {
	if w.relay != nil {
		w.relay(fn)
		return
	}
	fn()
}

// Start subscribes the worker to its own topic subtree and launches
// its command-processing goroutine.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.bus.Subscribe(w.rootTopic(), pubsub.Subscriber{
		ID:     "buffer-worker",
		Flags:  pubsub.FlagPub,
		Target: w.onBusMessage,
	})

	go w.loop(ctx)
}

// Stop cancels the worker's loop, unsubscribes it, and blocks until
// its goroutine has exited.
func (w *Worker) Stop() {
	w.bus.Unsubscribe(w.rootTopic(), "buffer-worker", nil)
	if w.cancel != nil {
		w.cancel()
	}
	w.cmdQueue.Close()
	<-w.doneCh
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() State { return w.state }

// onBusMessage runs on whatever goroutine published the message
// (a device worker streaming data, or the frontend relaying a client
// command); it only ever hands the event off to the worker's own
// queue, never touching worker state directly.
func (w *Worker) onBusMessage(topic string, v value.Value) byte {
	rel := strings.TrimPrefix(topic, w.rootTopic()+"/")
	if rel == topic {
		return 0
	}
	cmd := w.parseCommand(rel, v)
	if cmd == nil {
		return 0
	}
	if err := w.cmdQueue.TryPush(cmd); err != nil {
		if w.logger != nil {
			w.logger.Warn("buffer worker command queue full, dropping", "buffer", w.id, "topic", topic)
		}
	}
	return 0
}

type cmdAddSignal struct{ SignalID uint8 }
type cmdRemoveSignal struct{ SignalID uint8 }
type cmdSetTopic struct {
	SignalID uint8
	Topic    string
}
type cmdEnqueueRequest struct{ Req Request }
type cmdSetSize struct{ Bytes uint64 }
type cmdSetHold struct{ Hold bool }
type cmdClear struct{}
type cmdDataBlock struct {
	SignalID uint8
	Block    uapi.StreamSampleBlock
}

func (w *Worker) parseCommand(rel string, v value.Value) any {
	switch {
	case rel == "a/!add":
		u, _ := v.NarrowU32()
		return cmdAddSignal{SignalID: uint8(u)}
	case rel == "a/!remove":
		u, _ := v.NarrowU32()
		return cmdRemoveSignal{SignalID: uint8(u)}
	case rel == "g/size":
		u, _ := v.AsU64()
		return cmdSetSize{Bytes: u}
	case rel == "g/hold":
		b, _ := v.AsBool()
		return cmdSetHold{Hold: b}
	case rel == "g/!clear":
		return cmdClear{}
	case strings.HasPrefix(rel, "s/"):
		return w.parseSignalCommand(rel, v)
	default:
		return nil
	}
}

func (w *Worker) parseSignalCommand(rel string, v value.Value) any {
	// rel is "s/{signal_id}/{subtopic...}"
	parts := strings.SplitN(rel, "/", 3)
	if len(parts) != 3 {
		return nil
	}
	sid64, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return nil
	}
	sid := uint8(sid64)
	switch parts[2] {
	case "topic":
		return cmdSetTopic{SignalID: sid, Topic: v.ToString()}
	case "!req":
		var br uapi.BufferRequest
		if err := uapi.Unmarshal(v.Bytes(), &br); err != nil {
			return nil
		}
		return cmdEnqueueRequest{Req: fillFromBufferRequest(br, sid)}
	case "data":
		var block uapi.StreamSampleBlock
		if err := uapi.Unmarshal(v.Bytes(), &block); err != nil {
			return nil
		}
		return cmdDataBlock{SignalID: sid, Block: block}
	default:
		return nil
	}
}

// loop is the worker's single long-lived goroutine: drain the command
// queue, handle at most one pending data request, then sleep on the
// queue handle (spec.md §4.5).
func (w *Worker) loop(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		drained := w.drainCommands()
		if w.observer != nil {
			w.observer.ObserveQueueDepth(fmt.Sprintf("buffer:%d", w.id), uint32(w.cmdQueue.Len()))
		}
		w.handleOneRequest()

		if !drained {
			continue
		}
		if item, ok := w.cmdQueue.Pop(queue.DefaultPopTimeout); ok {
			w.apply(item)
		}
	}
}

// drainCommands pops and applies every command currently queued,
// returning true once the queue went empty (rather than being stopped
// mid-drain by a full batch limit).
func (w *Worker) drainCommands() bool {
	const maxBatch = 256
	for i := 0; i < maxBatch; i++ {
		item, ok := w.cmdQueue.Pop(0)
		if !ok {
			return true
		}
		w.apply(item)
	}
	return false
}

func (w *Worker) apply(item any) {
	switch cmd := item.(type) {
	case cmdAddSignal:
		w.handleAddSignal(cmd.SignalID)
	case cmdRemoveSignal:
		w.handleRemoveSignal(cmd.SignalID)
	case cmdSetTopic:
		w.handleSetTopic(cmd.SignalID, cmd.Topic)
	case cmdEnqueueRequest:
		w.requests.Push(cmd.Req)
		w.publishReturnCode(w.signalTopic(cmd.Req.SignalID, "!req"), jsdrverr.CodeSuccess)
	case cmdSetSize:
		w.sizeBudget = cmd.Bytes
		w.state = StateAwait
		for _, sig := range w.signals {
			sig.headerSeen = false
			sig.ring = nil
		}
		w.publishReturnCode(w.rootTopic()+"/g/size", jsdrverr.CodeSuccess)
	case cmdSetHold:
		w.hold = cmd.Hold
		w.publishReturnCode(w.rootTopic()+"/g/hold", jsdrverr.CodeSuccess)
	case cmdClear:
		w.handleClear()
	case cmdDataBlock:
		w.handleDataBlock(cmd.SignalID, cmd.Block)
	}
}

func (w *Worker) signalTopic(sid uint8, subtopic string) string {
	return w.rootTopic() + "/s/" + strconv.FormatUint(uint64(sid), 10) + "/" + subtopic
}

func (w *Worker) publishReturnCode(subtopic string, code jsdrverr.Code) {
	w.busDo(func() { _ = w.bus.Publish(subtopic+"#", value.I32(code.ReturnCode())) })
}

func (w *Worker) handleAddSignal(sid uint8) {
	w.signals[sid] = &signalSlot{active: true}
	w.publishReturnCode(w.rootTopic()+"/a/!add", jsdrverr.CodeSuccess)
	w.publishSignalList()
}

func (w *Worker) handleRemoveSignal(sid uint8) {
	if sig, ok := w.signals[sid]; ok && sig.sourceTopic != "" {
		id := "buffer-worker:" + strconv.FormatUint(uint64(w.id), 10)
		w.busDo(func() { w.bus.Unsubscribe(sig.sourceTopic, id, sid) })
	}
	delete(w.signals, sid)
	w.publishReturnCode(w.rootTopic()+"/a/!remove", jsdrverr.CodeSuccess)
	w.publishSignalList()
}

func (w *Worker) handleSetTopic(sid uint8, topic string) {
	sig, ok := w.signals[sid]
	if !ok {
		w.publishReturnCode(w.signalTopic(sid, "topic"), jsdrverr.CodeNotFound)
		return
	}
	id := "buffer-worker:" + strconv.FormatUint(uint64(w.id), 10)
	if sig.sourceTopic != "" {
		w.busDo(func() { w.bus.Unsubscribe(sig.sourceTopic, id, sid) })
	}
	sig.sourceTopic = topic
	w.busDo(func() {
		w.bus.Subscribe(topic, pubsub.Subscriber{
			ID:      id,
			Context: sid,
			Flags:   pubsub.FlagPub,
			Target: func(t string, v value.Value) byte {
				var block uapi.StreamSampleBlock
				if err := uapi.Unmarshal(v.Bytes(), &block); err != nil {
					return 0
				}
				_ = w.cmdQueue.TryPush(cmdDataBlock{SignalID: sid, Block: block})
				return 0
			},
		})
	})
	w.publishReturnCode(w.signalTopic(sid, "topic"), jsdrverr.CodeSuccess)
}

func (w *Worker) handleClear() {
	for _, sig := range w.signals {
		sig.ring = nil
		sig.headerSeen = false
	}
	w.publishReturnCode(w.rootTopic()+"/g/!clear", jsdrverr.CodeSuccess)
}

// handleDataBlock ingests a stream sample block into its signal's
// ring, allocating (or, on the first header after a g/size change,
// re-allocating) the whole buffer's rings once every active signal has
// reported its sample rate and element width (spec.md §4.5 Await →
// Active transition).
func (w *Worker) handleDataBlock(sid uint8, block uapi.StreamSampleBlock) {
	if w.hold {
		return
	}
	sig, ok := w.signals[sid]
	if !ok || !sig.active {
		return
	}
	if !sig.headerSeen {
		sig.headerSeen = true
		sig.elementType = block.ElementType
		sig.elementSizeBits = block.ElementSizeBits
		sig.sampleRate = block.SampleRate
		sig.decimateFactor = block.DecimateFactor
		if w.state == StateAwait && w.allSignalsReady() {
			w.allocate()
			w.state = StateActive
		}
	}
	if sig.ring == nil {
		return
	}
	if err := sig.ring.RecvData(block); err != nil {
		if w.logger != nil {
			w.logger.Warn("buffer worker data ingest failed", "buffer", w.id, "signal", sid, "error", err.Error())
		}
	} else if w.observer != nil {
		w.observer.ObserveIngest(sid, block.ElementCount)
	}
	w.publishSignalInfo(sid, sig)
}

func (w *Worker) allSignalsReady() bool {
	haveActive := false
	for _, sig := range w.signals {
		if !sig.active {
			continue
		}
		haveActive = true
		if !sig.headerSeen {
			return false
		}
	}
	return haveActive
}

// allocate applies the allocation policy to every ready signal and
// constructs its ring (spec.md §4.5).
func (w *Worker) allocate() {
	var rates []SignalRateInfo
	ids := activeSignalIDs(w.signals)
	for _, id := range ids {
		sig := w.signals[id]
		if !sig.active || !sig.headerSeen {
			continue
		}
		rates = append(rates, SignalRateInfo{SignalID: id, SampleRate: sig.sampleRate, ElementSizeBits: sig.elementSizeBits})
	}
	sizes := Allocate(w.sizeBudget, rates)
	for _, sz := range sizes {
		sig := w.signals[sz.SignalID]
		sig.ring = bufsig.New(bufsig.Config{
			N:               sz.N,
			R0:              sz.R0,
			RN:              RN,
			ElementType:     sig.elementType,
			ElementSizeBits: sig.elementSizeBits,
			SampleRate:      sig.sampleRate,
			DecimateFactor:  sig.decimateFactor,
			Index:           sz.SignalID,
			SourceTopic:     w.signalTopic(sz.SignalID, "data"),
		}, w.logger)
	}
}

func activeSignalIDs(signals map[uint8]*signalSlot) []uint8 {
	ids := make([]uint8, 0, len(signals))
	for id := range signals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (w *Worker) publishSignalList() {
	ids := activeSignalIDs(w.signals)
	out := make([]byte, 0, len(ids)+1)
	for _, id := range ids {
		if w.signals[id].active {
			out = append(out, id)
		}
	}
	out = append(out, 0)
	w.busDo(func() { _ = w.bus.Publish(w.rootTopic()+"/g/list", value.Binary(out).WithRetain()) })
}

// publishSignalInfo republishes the retained s/{id}/info snapshot
// describing the signal's currently available sample range (spec.md
// §4.5 "s/{signal_id}/info (retained output, binary) — current info
// structure").
func (w *Worker) publishSignalInfo(sid uint8, sig *signalSlot) {
	if sig.ring == nil || sig.ring.Size() == 0 {
		return
	}
	res, err := sig.ring.SampleQuery(sig.ring.SampleIDHead()-sig.ring.Size(), sig.ring.SampleIDHead()-1)
	if err != nil {
		return
	}
	info := uapi.BufferInfo{
		SignalID:        sid,
		ElementType:     sig.elementType,
		ElementSizeBits: sig.elementSizeBits,
		SampleRate:      sig.sampleRate,
		DecimateFactor:  sig.decimateFactor,
		TimeStartUTC:    int64(res.TimeStartUTC),
		TimeEndUTC:      int64(res.TimeEndUTC),
		SampleIDStart:   res.SampleIDStart,
		SampleIDEnd:     res.SampleIDEnd,
	}
	infoBytes, err := uapi.Marshal(&info)
	if err != nil {
		return
	}
	topic := w.signalTopic(sid, "info")
	w.busDo(func() { _ = w.bus.Publish(topic, value.BinaryApp(infoBytes, value.AppBufferInfo).WithRetain()) })
}

// handleOneRequest services at most one pending request per loop
// iteration (spec.md §4.5).
func (w *Worker) handleOneRequest() {
	req, ok := w.requests.Pop()
	if !ok {
		return
	}
	sig, ok := w.signals[req.SignalID]
	if !ok || sig.ring == nil {
		w.respondError(req, jsdrverr.CodeUnavailable)
		return
	}

	start, end, err := w.resolveRange(sig, req)
	if err != nil {
		w.respondError(req, jsdrverr.CodeParameterInvalid)
		return
	}

	if req.Length > 0 {
		w.respondSummary(req, sig, start, end)
		return
	}

	res, err := sig.ring.SampleQuery(start, end)
	if err != nil {
		w.respondError(req, jsdrverr.CodeUnavailable)
		return
	}

	resp := uapi.BufferResponse{
		ResponseType: uapi.ResponseTypeSamples,
		RspID:        req.RspID,
		Info: uapi.BufferInfo{
			SignalID:        req.SignalID,
			ElementType:     sig.elementType,
			ElementSizeBits: sig.elementSizeBits,
			SampleRate:      sig.sampleRate,
			DecimateFactor:  sig.decimateFactor,
			TimeStartUTC:    int64(res.TimeStartUTC),
			TimeEndUTC:      int64(res.TimeEndUTC),
			SampleIDStart:   res.SampleIDStart,
			SampleIDEnd:     res.SampleIDEnd,
		},
		Data: res.Data,
	}
	buf, err := uapi.Marshal(&resp)
	if err != nil {
		w.respondError(req, jsdrverr.CodeUnspecified)
		return
	}
	w.busDo(func() { _ = w.bus.Publish(req.RspTopic, value.BinaryApp(buf, value.AppBufferResponse)) })
}

// respondSummary answers a length-selected request with multi-resolution
// summary windows rather than raw samples (spec.md §1, §4.5, §6).
func (w *Worker) respondSummary(req Request, sig *signalSlot, start, end uint64) {
	entries, err := sig.ring.SummaryQuery(start, end, uint64(req.Length))
	if err != nil {
		w.respondError(req, jsdrverr.CodeUnavailable)
		return
	}

	tm := sig.ring.Tmap()
	tm.ReaderEnter()
	tStart, errStart := tm.SampleIDToTimestamp(start)
	tEnd, errEnd := tm.SampleIDToTimestamp(end)
	tm.ReaderExit()
	if errStart != nil || errEnd != nil {
		w.respondError(req, jsdrverr.CodeUnavailable)
		return
	}

	resp := uapi.BufferResponse{
		ResponseType: uapi.ResponseTypeSummary,
		RspID:        req.RspID,
		Info: uapi.BufferInfo{
			SignalID:        req.SignalID,
			ElementType:     sig.elementType,
			ElementSizeBits: sig.elementSizeBits,
			SampleRate:      sig.sampleRate,
			DecimateFactor:  sig.decimateFactor,
			TimeStartUTC:    int64(tStart),
			TimeEndUTC:      int64(tEnd),
			SampleIDStart:   start,
			SampleIDEnd:     end,
		},
		Data: marshalSummaryEntries(entries),
	}
	buf, err := uapi.Marshal(&resp)
	if err != nil {
		w.respondError(req, jsdrverr.CodeUnspecified)
		return
	}
	w.busDo(func() { _ = w.bus.Publish(req.RspTopic, value.BinaryApp(buf, value.AppBufferResponse)) })
}

// marshalSummaryEntries packs {avg, std, min, max} windows into the
// fixed 16-byte-per-entry little-endian layout (spec.md §6).
func marshalSummaryEntries(entries []stats.Entry) []byte {
	buf := make([]byte, len(entries)*constants.SummaryEntrySize)
	for i, e := range entries {
		off := i * constants.SummaryEntrySize
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(e.Avg))
		binary.LittleEndian.PutUint32(buf[off+4:off+8], math.Float32bits(e.Std))
		binary.LittleEndian.PutUint32(buf[off+8:off+12], math.Float32bits(e.Min))
		binary.LittleEndian.PutUint32(buf[off+12:off+16], math.Float32bits(e.Max))
	}
	return buf
}

func (w *Worker) resolveRange(sig *signalSlot, req Request) (uint64, uint64, error) {
	if req.TimeType == uapi.TimeTypeSamples {
		if req.Start < 0 || req.End < 0 {
			return 0, 0, jsdrverr.New("resolveRange", "", jsdrverr.CodeParameterInvalid)
		}
		return uint64(req.Start), uint64(req.End), nil
	}
	tm := sig.ring.Tmap()
	tm.ReaderEnter()
	defer tm.ReaderExit()
	start, err := tm.TimestampToSampleID(jsdrvtime.Time(req.Start))
	if err != nil {
		return 0, 0, err
	}
	end, err := tm.TimestampToSampleID(jsdrvtime.Time(req.End))
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func (w *Worker) respondError(req Request, code jsdrverr.Code) {
	w.publishReturnCode(req.RspTopic, code)
}
