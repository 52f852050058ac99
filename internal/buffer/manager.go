package buffer

import (
	"context"
	"strings"
	"sync"

	"github.com/jsdrv/jsdrv-go/internal/constants"
	"github.com/jsdrv/jsdrv-go/internal/interfaces"
	"github.com/jsdrv/jsdrv-go/internal/jsdrverr"
	"github.com/jsdrv/jsdrv-go/internal/pubsub"
	"github.com/jsdrv/jsdrv-go/internal/value"
)

// MaxBufferID bounds buffer ids accepted by m/@/!add (spec.md §4.5
// "u32 id in [1, MAX]").
const MaxBufferID = constants.MaxBufferID

// Manager runs on the frontend thread (spec.md §4.5) and owns the
// `m/@/!add`/`m/@/!remove`/`m/@/list` provisioning topics plus the
// lifecycle of every per-buffer Worker.
type Manager struct {
	bus      *pubsub.Bus
	logger   interfaces.Logger
	observer interfaces.Observer
	relay    func(func())
	pump     func(<-chan struct{})

	mu      sync.Mutex
	workers map[uint32]*Worker
	ctx     context.Context
}

// NewManager constructs a Manager bound to bus. Start must be called
// before it will respond to provisioning topics.
func NewManager(bus *pubsub.Bus, logger interfaces.Logger, observer interfaces.Observer) *Manager {
	return &Manager{bus: bus, logger: logger, observer: observer, workers: make(map[uint32]*Worker)}
}

// SetRelay installs the function every Worker the manager creates uses
// to reach the bus from its own goroutine (spec.md §5 "the pubsub tree
// is accessed only on the frontend thread"): relay must run fn on that
// thread and block until it returns. Nil (the default) means the
// caller accepts direct, unsynchronized bus access — fine for a
// Manager exercised alone in a test, wrong for one sharing a bus with
// a live frontend dispatcher.
func (m *Manager) SetRelay(relay func(func())) { m.relay = relay }

// SetPump installs the function the manager uses to wait for a worker
// to join (spec.md §5): a worker's own goroutine may still be blocked
// inside a relayed bus call when Stop asks it to exit, so simply
// blocking the caller on the worker's done channel can deadlock
// against the very thread the relay is trying to reach. pump must
// service whatever lets that relay complete until done closes. Nil
// (the default) just waits on done directly — fine when relay is also
// nil.
func (m *Manager) SetPump(pump func(<-chan struct{})) { m.pump = pump }

// stopWorker joins w off the calling goroutine so a pump, if set, can
// keep making progress on its behalf while it waits.
func (m *Manager) stopWorker(w *Worker) {
	done := make(chan struct{})
	go func() { w.Stop(); close(done) }()
	if m.pump != nil {
		m.pump(done)
		return
	}
	<-done
}

// Start subscribes the manager to the `m/@` provisioning subtree.
func (m *Manager) Start(ctx context.Context) {
	m.ctx = ctx
	m.bus.Subscribe("m/@", pubsub.Subscriber{
		ID:     "buffer-manager",
		Flags:  pubsub.FlagPub,
		Target: m.onMessage,
	})
}

// Stop tears down every active buffer worker and unsubscribes the
// manager itself.
func (m *Manager) Stop() {
	m.bus.Unsubscribe("m/@", "buffer-manager", nil)
	m.mu.Lock()
	workers := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.workers = make(map[uint32]*Worker)
	m.mu.Unlock()
	for _, w := range workers {
		m.stopWorker(w)
	}
}

func (m *Manager) onMessage(topic string, v value.Value) byte {
	rel := strings.TrimPrefix(topic, "m/@/")
	if rel == topic {
		return 0
	}
	switch rel {
	case "!add":
		m.add(v)
	case "!remove":
		m.remove(v)
	}
	return 0
}

func (m *Manager) add(v value.Value) {
	id, err := v.NarrowU32()
	if err != nil || id < 1 || id > MaxBufferID {
		m.publishReturnCode("!add", jsdrverr.CodeParameterInvalid)
		return
	}

	m.mu.Lock()
	if _, exists := m.workers[id]; exists {
		m.mu.Unlock()
		m.publishReturnCode("!add", jsdrverr.CodeAlreadyExists)
		return
	}
	w := NewWorker(id, m.bus, m.logger, m.observer)
	w.SetRelay(m.relay)
	m.workers[id] = w
	m.mu.Unlock()

	w.Start(m.ctx)
	m.publishReturnCode("!add", jsdrverr.CodeSuccess)
	m.publishList()
}

func (m *Manager) remove(v value.Value) {
	id, err := v.NarrowU32()
	if err != nil {
		m.publishReturnCode("!remove", jsdrverr.CodeParameterInvalid)
		return
	}

	m.mu.Lock()
	w, exists := m.workers[id]
	if exists {
		delete(m.workers, id)
	}
	m.mu.Unlock()

	if !exists {
		m.publishReturnCode("!remove", jsdrverr.CodeNotFound)
		return
	}
	m.stopWorker(w)
	m.publishReturnCode("!remove", jsdrverr.CodeSuccess)
	m.publishList()
}

func (m *Manager) publishReturnCode(subtopic string, code jsdrverr.Code) {
	_ = m.bus.Publish("m/@/"+subtopic+"#", value.I32(code.ReturnCode()))
}

// publishList republishes the retained, zero-terminated list of
// active buffer ids (spec.md §4.5).
func (m *Manager) publishList() {
	m.mu.Lock()
	ids := make([]uint32, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	sortU32(ids)
	out := make([]byte, 0, 4*len(ids)+4)
	for _, id := range ids {
		out = appendU32LE(out, id)
	}
	out = appendU32LE(out, 0)
	_ = m.bus.Publish("m/@/list", value.Binary(out).WithRetain())
}

func sortU32(ids []uint32) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

func appendU32LE(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// Buffers returns the sorted list of currently active buffer ids, for
// diagnostics and tests.
func (m *Manager) Buffers() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint32, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	sortU32(ids)
	return ids
}
