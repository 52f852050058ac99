// Package interfaces holds the internal-only interface boundaries
// between the frontend dispatcher and its pluggable device/buffer
// workers, kept separate from the public package to avoid circular
// imports (spec.md §4.2, §4.3).
package interfaces

import "github.com/jsdrv/jsdrv-go/internal/value"

// DeviceWorker is implemented by every device backend the frontend
// dispatcher can attach to a `@` node (spec.md §4.3). Handle receives
// one already-routed message at a time from the worker's owning
// goroutine; implementations must not block indefinitely since the
// worker thread also services its own command queue.
type DeviceWorker interface {
	// Open is called once, by the device-add path before the worker's
	// own goroutine is started, so it always precedes any Handle call.
	Open() error
	// Handle processes a publish/query addressed to topic beneath this
	// device's subtree and returns the Value to publish in response (or
	// jsdrverr.CodeNotFound / jsdrverr.CodeNotSupported wrapped errors).
	Handle(topic string, v value.Value) (value.Value, error)
	// Close releases resources; called once as the device is removed.
	Close() error
}

// Logger is the internal-only logging interface honored by the
// dispatcher and workers, mirroring the subset of
// internal/logging.Logger used off the hot path.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
}

// Observer receives counters for bus activity; implementations must
// be safe for concurrent use since they are invoked from the
// dispatcher, device-worker, and buffer-worker threads alike
// (spec.md §5).
type Observer interface {
	ObservePublish(topic string, bytes int, success bool)
	ObserveQuery(topic string, latencyNs uint64, success bool)
	ObserveIngest(signalID uint8, sampleCount uint32)
	ObserveQueueDepth(queueName string, depth uint32)
}
