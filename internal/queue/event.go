package queue

import "time"

// event is the OS-backed wakeup primitive a Queue uses so a consumer
// blocked in Pop wakes immediately on Push instead of polling
// (spec.md §5). Two implementations exist: eventfd+poll on Linux
// (event_linux.go) and a channel-based fallback elsewhere
// (event_other.go), mirroring the teacher's real/stub split between
// its io_uring-backed and stub Ring implementations.
type event interface {
	// signal wakes one pending waiter (or the next Wait call if none
	// is currently blocked); safe to call from any goroutine.
	signal()
	// wait blocks until signal is called or the timeout elapses,
	// returning true if it was woken by a signal.
	wait(timeout time.Duration) bool
	// close releases OS resources held by the event.
	close() error
}
