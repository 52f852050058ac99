//go:build linux

package queue

import (
	"time"

	"golang.org/x/sys/unix"
)

// eventfdEvent wakes waiters through a non-blocking Linux eventfd
// polled with a bounded timeout, avoiding the busy-wait a pure
// channel-based implementation would need to support a timeout that
// also resets across multiple signals.
type eventfdEvent struct {
	fd int
}

func newEvent() (event, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &eventfdEvent{fd: fd}, nil
}

func (e *eventfdEvent) signal() {
	var buf [8]byte
	buf[7] = 1
	_, _ = unix.Write(e.fd, buf[:])
}

func (e *eventfdEvent) wait(timeout time.Duration) bool {
	fds := []unix.PollFd{{Fd: int32(e.fd), Events: unix.POLLIN}}
	timeoutMs := int(timeout / time.Millisecond)
	if timeout < 0 {
		timeoutMs = -1
	}
	n, err := unix.Poll(fds, timeoutMs)
	if err != nil || n <= 0 {
		return false
	}
	var buf [8]byte
	_, _ = unix.Read(e.fd, buf[:])
	return true
}

func (e *eventfdEvent) close() error {
	return unix.Close(e.fd)
}
