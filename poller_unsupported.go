//go:build !linux

package netloop

import "time"

// netloop's demultiplexer backends (epoll, poll(2)+eventfd wakeup) are
// Linux-specific. On any other platform, backend selection is refused
// with a clear error rather than silently returning a nil poller
// (resolving spec.md §9's open question about the incomplete alternative
// backend honestly, instead of papering over it with an unsupported
// build).
func usePollBackend() bool { return false }

func newEpollPoller(loop *EventLoop) (demultiplexer, error) {
	return nil, ErrNoBackend
}

func newPollPoller(loop *EventLoop) (demultiplexer, error) {
	return nil, ErrNoBackend
}

func newWakeupFD() (int, error)  { return 0, ErrNoBackend }
func wakeupWrite(fd int) error   { return ErrNoBackend }
func wakeupRead(fd int) error    { return ErrNoBackend }
func closeWakeupFD(fd int) error { return nil }
