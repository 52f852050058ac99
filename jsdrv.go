// Package jsdrv implements the host-side driver core for a USB
// precision instrument: a hierarchical publish/subscribe bus, a
// frontend dispatcher that owns device and buffer lifecycles, and the
// streaming sample buffer manager built on top of it (spec.md §4).
//
// Every exported type below is a thin alias or wrapper over an
// internal package so that external callers never need to import
// anything under internal/ directly, while the bus, value, and error
// types stay defined exactly once.
package jsdrv

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jsdrv/jsdrv-go/internal/buffer"
	"github.com/jsdrv/jsdrv-go/internal/constants"
	"github.com/jsdrv/jsdrv-go/internal/interfaces"
	"github.com/jsdrv/jsdrv-go/internal/logging"
	"github.com/jsdrv/jsdrv-go/internal/metrics"
	"github.com/jsdrv/jsdrv-go/internal/pubsub"
	"github.com/jsdrv/jsdrv-go/internal/queue"
)

// Logger is the logging sink honored by the frontend, its device
// workers, and its buffer workers.
type Logger = interfaces.Logger

// Observer receives bus activity counters; see internal/metrics for a
// Prometheus-backed implementation.
type Observer = interfaces.Observer

// Flags classifies a subscriber's delivery category (spec.md §3).
type Flags = pubsub.Flags

const (
	FlagRetain      = pubsub.FlagRetain
	FlagPub         = pubsub.FlagPub
	FlagMetadataReq = pubsub.FlagMetadataReq
	FlagMetadataRsp = pubsub.FlagMetadataRsp
	FlagQueryReq    = pubsub.FlagQueryReq
	FlagQueryRsp    = pubsub.FlagQueryRsp
	FlagReturnCode  = pubsub.FlagReturnCode
)

// Options configures a Frontend at construction.
type Options struct {
	// Logger receives diagnostic messages from the dispatcher and its
	// workers. If nil, Initialize takes a reference on the shared logger
	// via logging.Initialize(logging.DefaultConfig()), released by
	// Finalize.
	Logger Logger
	// Observer receives bus activity counters. Defaults to a no-op.
	Observer Observer
	// Trace makes Frontend.Publish log each published topic at debug
	// level, for debugging a misbehaving device or buffer session
	// without recompiling. Other publishes (PublishSync, device and
	// buffer responses) are not logged.
	Trace bool
}

// Stats is a snapshot of the frontend's internal bookkeeping, useful
// for diagnostics and tests.
type Stats struct {
	ActiveDevices   int
	ActiveBuffers   int
	PendingTimeouts int
	Iterations      uint64
}

// Frontend is the single long-lived dispatcher that owns the pubsub
// bus, the device list, the timeout store, and the buffer manager
// (spec.md §4.3). All bus access is serialized onto its own goroutine;
// every other exported method reaches that goroutine by enqueuing a
// closure and waiting for it to run.
type Frontend struct {
	bus      *pubsub.Bus
	logger   Logger
	observer Observer
	trace    bool

	apiQueue     *queue.Queue
	backendQueue *queue.Queue

	mu           sync.Mutex
	devices      map[string]*deviceEntry
	deviceModels map[string]DeviceFactory
	backendRefs  int

	timeouts  *timeoutStore
	bufferMgr *buffer.Manager

	ownsLogger bool
	iterations uint64
	stopping   bool
	doneCh     chan struct{}
}

// Initialize constructs and starts a Frontend (spec.md §4.3), ref-
// counting the shared log drain thread the way the original driver's
// jsdrv_initialize does (internal/logging.Initialize).
func Initialize(opts Options) (*Frontend, error) {
	logger := opts.Logger
	ownsLogger := false
	if logger == nil {
		logger = logging.Initialize(logging.DefaultConfig())
		ownsLogger = true
	}
	observer := opts.Observer
	if observer == nil {
		observer = metrics.NoOpObserver{}
	}

	f := &Frontend{
		logger:       logger,
		observer:     observer,
		trace:        opts.Trace,
		ownsLogger:   ownsLogger,
		apiQueue:     queue.New(constants.DefaultQueueDepth),
		backendQueue: queue.New(0),
		devices:      make(map[string]*deviceEntry),
		deviceModels: make(map[string]DeviceFactory),
		timeouts:     newTimeoutStore(),
		doneCh:       make(chan struct{}),
	}
	f.bus = pubsub.New(logger, observer)
	f.bufferMgr = buffer.NewManager(f.bus, logger, observer)
	f.bufferMgr.SetRelay(f.relay)
	f.bufferMgr.SetPump(f.drainUntilDone)

	f.bus.Subscribe("@", pubsub.Subscriber{
		ID:     "frontend",
		Flags:  pubsub.FlagPub | pubsub.FlagQueryReq,
		Target: f.onRootMessage,
	})
	f.bufferMgr.Start(context.Background())

	go f.loop()
	return f, nil
}

// Finalize joins every device worker, stops the buffer manager, aborts
// any outstanding timeouts with CodeAborted, and releases the shared
// log thread (spec.md §4.3, §5 "finalize... must not be invoked from
// a subscriber callback or from the frontend thread"). Callers must
// not call Finalize from within a Subscribe callback.
func (f *Frontend) Finalize() error {
	done := make(chan struct{})
	f.submitAPI(func() {
		f.finalizeLocked()
		f.stopping = true
		close(done)
	})
	<-done
	<-f.doneCh
	if f.ownsLogger {
		logging.Finalize()
	}
	return nil
}

func (f *Frontend) finalizeLocked() {
	f.mu.Lock()
	prefixes := make([]string, 0, len(f.devices))
	for p := range f.devices {
		prefixes = append(prefixes, p)
	}
	f.mu.Unlock()
	for _, p := range prefixes {
		_ = f.handleDeviceRemove(deviceRemoveRequest{Prefix: p})
	}
	// Manager.Stop joins every buffer worker through the pump installed
	// in Initialize, so a worker blocked inside a relayed bus call can
	// still make progress while this goroutine waits for it to exit.
	f.bufferMgr.Stop()
}

// loop is the frontend's single dispatch goroutine (spec.md §4.3):
// each iteration drains the backend-event queue, then the API-command
// queue, then expires due timeouts, mirroring internal/buffer.Worker's
// own drain-then-dispatch loop but over two queues instead of one.
func (f *Frontend) loop() {
	defer close(f.doneCh)
	for {
		atomic.AddUint64(&f.iterations, 1)

		backendEmpty := f.drainQueue(f.backendQueue)
		apiEmpty := f.drainQueue(f.apiQueue)
		f.timeouts.expire(time.Now())

		if f.stopping {
			f.timeouts.abortAll()
			return
		}
		if !backendEmpty || !apiEmpty {
			continue
		}

		wait := f.timeouts.nextPollInterval()
		if wait > queue.DefaultPopTimeout {
			wait = queue.DefaultPopTimeout
		}
		if item, ok := f.backendQueue.Pop(wait); ok {
			f.runClosure(item)
		}
	}
}

func (f *Frontend) drainQueue(q *queue.Queue) bool {
	const maxBatch = 256
	for i := 0; i < maxBatch; i++ {
		item, ok := q.Pop(0)
		if !ok {
			return true
		}
		f.runClosure(item)
	}
	return false
}

func (f *Frontend) runClosure(item any) {
	if fn, ok := item.(func()); ok {
		fn()
	}
}

// submitAPI enqueues fn to run on the dispatch goroutine without
// waiting for it, for callers (Finalize, the public command wrappers
// below) that supply their own completion signal inside fn.
func (f *Frontend) submitAPI(fn func()) {
	_ = f.apiQueue.TryPush(fn)
}

// relay is the synchronous hand-off internal/buffer.Worker and the
// per-device goroutines use to reach the bus: it blocks the calling
// goroutine until fn has run on the dispatch goroutine (spec.md §5
// "the pubsub tree is accessed only on the frontend thread").
func (f *Frontend) relay(fn func()) {
	done := make(chan struct{})
	_ = f.backendQueue.TryPush(func() {
		fn()
		close(done)
	})
	<-done
}

// enqueueVoid is the device.go entry point into the same relay: device
// workers call it from their own goroutine to publish a response.
func (f *Frontend) enqueueVoid(fn func()) { f.relay(fn) }

// call runs fn on the dispatch goroutine and returns its error,
// blocking the caller — the synchronous half of the command pattern
// every public mutating method below uses.
func (f *Frontend) call(fn func() error) error {
	errCh := make(chan error, 1)
	f.submitAPI(func() { errCh <- fn() })
	return <-errCh
}

// Publish publishes v to topic (spec.md §4.1). timeout_ms == 0 in the
// original driver's fire-and-forget sense is simply never waiting on
// the result; use PublishSync to block for a return code.
func (f *Frontend) Publish(topic string, v Value) error {
	return f.call(func() error {
		if f.trace {
			f.logger.Debug("publish", "topic", topic)
		}
		return f.bus.Publish(topic, v)
	})
}

// PublishSync publishes v to topic and blocks until a return code
// arrives on topic+"#" or timeout elapses, mirroring the stack-
// allocated timeout object the original API uses for synchronous
// calls (spec.md §5). timeout <= 0 uses constants.DefaultAPITimeout.
func (f *Frontend) PublishSync(topic string, v Value, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = constants.DefaultAPITimeout
	}
	outcomeCh := make(chan timeoutOutcome, 1)
	err := f.call(func() error {
		entry := f.timeouts.add(topic+"#", timeout)
		subID := entry
		entry.onExpire = func() { f.bus.Unsubscribe(topic, subID, "publish-sync") }
		f.bus.Subscribe(topic, pubsub.Subscriber{
			ID:      subID,
			Flags:   pubsub.FlagReturnCode,
			Context: "publish-sync",
			Target: func(t string, v Value) byte {
				f.timeouts.resolve(entry.keyTopic, v)
				f.bus.Unsubscribe(topic, subID, "publish-sync")
				return 0
			},
		})
		go func() { outcomeCh <- <-entry.resultCh }()
		return f.bus.Publish(topic, v)
	})
	if err != nil {
		return err
	}
	outcome := <-outcomeCh
	return outcome.err
}

// Query returns the retained value at topic (spec.md §4.2).
func (f *Frontend) Query(topic string) (Value, error) {
	var v Value
	err := f.call(func() error {
		var qerr error
		v, qerr = f.bus.Query(topic)
		return qerr
	})
	return v, err
}

// Subscribe registers cb to receive every message matching flags
// beneath topic (spec.md §4.2). id disambiguates this subscription
// for a later Unsubscribe/UnsubscribeAll call; ctx is carried through
// unchanged as part of that identity.
func (f *Frontend) Subscribe(topic string, flags Flags, id, ctx any, cb func(topic string, v Value)) error {
	return f.call(func() error {
		f.bus.Subscribe(topic, pubsub.Subscriber{
			ID:      id,
			Context: ctx,
			Flags:   flags,
			Target: func(t string, v Value) byte {
				cb(t, v)
				return 0
			},
		})
		return nil
	})
}

// Unsubscribe removes the (id, ctx) subscriber from topic only.
func (f *Frontend) Unsubscribe(topic string, id, ctx any) error {
	return f.call(func() error {
		f.bus.Unsubscribe(topic, id, ctx)
		return nil
	})
}

// UnsubscribeAll removes the (id, ctx) subscriber from every topic.
func (f *Frontend) UnsubscribeAll(id, ctx any) error {
	return f.call(func() error {
		f.bus.UnsubscribeAll(id, ctx)
		return nil
	})
}

// AddDevice provisions a device worker of the given model under
// prefix (spec.md §4.3 `@/!add`).
func (f *Frontend) AddDevice(prefix, model string) error {
	return f.call(func() error { return f.handleDeviceAdd(deviceAddRequest{Prefix: prefix, Model: model}) })
}

// RemoveDevice tears down the device worker at prefix (spec.md §4.3
// `@/!remove`).
func (f *Frontend) RemoveDevice(prefix string) error {
	return f.call(func() error { return f.handleDeviceRemove(deviceRemoveRequest{Prefix: prefix}) })
}

// Stats reports the dispatcher's current bookkeeping.
func (f *Frontend) Stats() Stats {
	f.mu.Lock()
	devices := len(f.devices)
	f.mu.Unlock()
	var s Stats
	_ = f.call(func() error {
		s = Stats{
			ActiveDevices:   devices,
			ActiveBuffers:   len(f.bufferMgr.Buffers()),
			PendingTimeouts: len(f.timeouts.byDeadline),
			Iterations:      atomic.LoadUint64(&f.iterations),
		}
		return nil
	})
	return s
}

// onRootMessage answers the reserved `@` topics that are not routed to
// any individual device: provisioning (`!add`/`!remove`), backend
// reference counting (`!init`/`!deinit`), and the liveness probe
// (`!echo`). It runs on the dispatch goroutine, already inside the
// call stack of whatever Publish delivered the message.
func (f *Frontend) onRootMessage(topic string, v Value) byte {
	switch topic {
	case "@/!add":
		var req deviceAddRequest
		err := json.Unmarshal(v.Bytes(), &req)
		if err == nil {
			err = f.handleDeviceAdd(req)
		}
		f.publishRootReturn("@/!add", err)
	case "@/!remove":
		var req deviceRemoveRequest
		err := json.Unmarshal(v.Bytes(), &req)
		if err == nil {
			err = f.handleDeviceRemove(req)
		}
		f.publishRootReturn("@/!remove", err)
	case "@/!init":
		f.backendRefs++
		f.publishRootReturn("@/!init", nil)
	case "@/!deinit":
		if f.backendRefs > 0 {
			f.backendRefs--
		}
		f.publishRootReturn("@/!deinit", nil)
	case "@/!echo":
		_ = f.bus.Publish("@/!echo#", v)
	}
	return 0
}

func (f *Frontend) publishRootReturn(topic string, err error) {
	code := CodeSuccess
	if err != nil {
		code = WrapError(topic, topic, err).Code
	}
	_ = f.bus.Publish(topic+"#", I32Value(code.ReturnCode()))
}
