package jsdrv

import (
	"sort"
	"strings"
	"time"

	"github.com/jsdrv/jsdrv-go/internal/interfaces"
	"github.com/jsdrv/jsdrv-go/internal/pubsub"
	"github.com/jsdrv/jsdrv-go/internal/queue"
	"github.com/jsdrv/jsdrv-go/internal/value"
)

// DeviceWorker is the per-device worker contract (spec.md §4.4): it
// receives every message published under its device prefix and
// answers with a response value or a structured error.
type DeviceWorker = interfaces.DeviceWorker

// DeviceFactory constructs a fresh DeviceWorker for one `@/!add` call.
// The frontend looks one up by the device model string carried in the
// add request (spec.md §4.3 "the frontend selects an upper-level
// worker by device model string").
type DeviceFactory func() DeviceWorker

type deviceEntry struct {
	prefix string
	model  string
	worker DeviceWorker
	q      *queue.Queue
	done   chan struct{}
}

type deviceMsg struct {
	topic string
	v     Value
}

// deviceMessageID coalesces every device worker's pubsub subscription
// under one identity string disambiguated by prefix, mirroring how
// internal/buffer.Worker disambiguates per-signal subscriptions with a
// Context value rather than a unique ID string per subscription.
const deviceMessageID = "frontend:device"

func (f *Frontend) runDevice(d *deviceEntry) {
	defer close(d.done)
	for {
		item, ok := d.q.Pop(queue.DefaultPopTimeout)
		if !ok {
			if d.q.Len() == 0 && f.deviceClosing(d.prefix) {
				return
			}
			continue
		}
		msg := item.(deviceMsg)
		resp, err := d.worker.Handle(msg.topic, msg.v)
		f.completeDeviceMessage(msg.topic, resp, err)
	}
}

// completeDeviceMessage runs on the device worker's own goroutine, so
// it reaches the bus through the same command queue every other
// thread must use to touch the (non-thread-safe) pubsub tree.
func (f *Frontend) completeDeviceMessage(topic string, resp Value, err error) {
	f.enqueueVoid(func() {
		base, kind := splitSuffix(topic)
		if kind == pubsub.FlagQueryReq {
			if err != nil {
				_ = f.bus.Publish(base+"#", I32Value(WrapError("Handle", topic, err).Code.ReturnCode()))
				return
			}
			_ = f.bus.Publish(base+"&", resp)
			return
		}
		code := CodeSuccess
		if err != nil {
			code = WrapError("Handle", topic, err).Code
		}
		_ = f.bus.Publish(base+"#", I32Value(code.ReturnCode()))
	})
}

func splitSuffix(topic string) (string, pubsub.Flags) {
	if topic == "" {
		return topic, pubsub.FlagPub
	}
	switch topic[len(topic)-1] {
	case '?':
		return topic[:len(topic)-1], pubsub.FlagQueryReq
	default:
		return topic, pubsub.FlagPub
	}
}

// drainUntilDone services the backend relay queue until done closes,
// so a blocked relay() call from the very goroutine being joined can
// still make progress against this, its only consumer.
func (f *Frontend) drainUntilDone(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}
		if item, ok := f.backendQueue.Pop(time.Millisecond); ok {
			f.runClosure(item)
		}
	}
}

func (f *Frontend) deviceClosing(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.devices[prefix]
	return !ok
}

// RegisterDeviceModel associates a device model string (e.g. "js220")
// with a factory, so a later `@/!add` naming that model can construct
// a worker for it (spec.md §4.3).
func (f *Frontend) RegisterDeviceModel(model string, factory DeviceFactory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deviceModels[model] = factory
}

// deviceAddRequest is the JSON shape of an `@/!add` payload (spec.md
// §4.3: "payload names the device prefix and lower-level queue
// handles"; the queue-handle plumbing is the out-of-scope USB
// transport, so only prefix/model survive into this Go binding).
type deviceAddRequest struct {
	Prefix string `json:"prefix"`
	Model  string `json:"model"`
}

type deviceRemoveRequest struct {
	Prefix string `json:"prefix"`
}

func (f *Frontend) handleDeviceAdd(req deviceAddRequest) error {
	if req.Prefix == "" {
		return NewError("@/!add", "@/!add", CodeParameterInvalid)
	}
	f.mu.Lock()
	if _, exists := f.devices[req.Prefix]; exists {
		f.mu.Unlock()
		return NewError("@/!add", "@/!add", CodeAlreadyExists)
	}
	factory, ok := f.deviceModels[req.Model]
	f.mu.Unlock()
	if !ok {
		return NewError("@/!add", "@/!add", CodeNotSupported)
	}

	worker := factory()
	if err := worker.Open(); err != nil {
		return WrapError("@/!add", "@/!add", err)
	}

	d := &deviceEntry{
		prefix: req.Prefix,
		model:  req.Model,
		worker: worker,
		q:      queue.New(256),
		done:   make(chan struct{}),
	}
	f.mu.Lock()
	f.devices[req.Prefix] = d
	f.mu.Unlock()

	f.bus.Subscribe(req.Prefix, pubsub.Subscriber{
		ID:      deviceMessageID,
		Context: req.Prefix,
		Flags:   pubsub.FlagPub | pubsub.FlagQueryReq,
		Target: func(topic string, v Value) byte {
			_ = d.q.TryPush(deviceMsg{topic: topic, v: v.Clone()})
			return 0
		},
	})
	go f.runDevice(d)
	f.publishDeviceList()
	return nil
}

func (f *Frontend) handleDeviceRemove(req deviceRemoveRequest) error {
	f.mu.Lock()
	d, ok := f.devices[req.Prefix]
	if ok {
		delete(f.devices, req.Prefix)
	}
	f.mu.Unlock()
	if !ok {
		return NewError("@/!remove", "@/!remove", CodeNotFound)
	}

	// Unsubscribe before joining, ahead of spec.md §4.3's documented
	// join-then-unsubscribe order: runDevice only exits once its queue
	// drains empty, and the bus would keep refilling that queue for as
	// long as the subscription stays live, so joining first could wait
	// on a goroutine that never quiesces.
	f.bus.Unsubscribe(req.Prefix, deviceMessageID, req.Prefix)
	d.q.Close()
	// The device goroutine may still be mid-Handle and about to relay a
	// completion back through f.backendQueue; pump it ourselves while
	// waiting so that relay doesn't block forever against the very
	// dispatch goroutine it is trying to reach (spec.md §5 join semantics).
	f.drainUntilDone(d.done)
	err := d.worker.Close()
	f.publishDeviceList()
	if err != nil {
		return WrapError("@/!remove", "@/!remove", err)
	}
	return nil
}

// publishDeviceList republishes the comma-separated device prefix list
// retained to `@/list` (spec.md §4.3).
func (f *Frontend) publishDeviceList() {
	f.mu.Lock()
	prefixes := make([]string, 0, len(f.devices))
	for p := range f.devices {
		prefixes = append(prefixes, p)
	}
	f.mu.Unlock()
	sort.Strings(prefixes)
	_ = f.bus.Publish("@/list", value.Str(strings.Join(prefixes, ",")).WithRetain())
}
