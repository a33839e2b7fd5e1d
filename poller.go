package netloop

import "time"

// demultiplexer wraps the OS readiness mechanism for one EventLoop. All
// of its operations are invoked only on the owner loop's goroutine
// (spec.md §4.1). Two implementations exist: epollPoller (default,
// Linux epoll) and pollPoller (NETLOOP_USE_POLL, portable poll(2)
// fallback) — see poller_epoll_linux.go and poller_poll_linux.go.
type demultiplexer interface {
	// poll blocks up to timeout or until >=1 descriptor is ready or the
	// call is interrupted, appending ready Channels to active and
	// returning the receive timestamp. A spurious interrupt returns with
	// active unchanged and no error.
	poll(timeout time.Duration, active *[]*Channel) (time.Time, error)

	// update registers/modifies/deregisters ch's interest set in the
	// kernel per the state machine in spec.md §4.1.
	update(ch *Channel)

	// remove deregisters ch entirely and resets its state to NEW.
	remove(ch *Channel)

	// hasChannel reports whether fd is currently tracked.
	hasChannel(fd int) bool

	// close releases the underlying poller descriptor.
	close() error
}

// newDefaultDemultiplexer selects a backend at startup: the edge-capable
// epoll backend unless NETLOOP_USE_POLL is set in the environment
// (spec.md §6), in which case the poll(2) fallback is used. This
// resolves spec.md §9's open question about the incomplete alternative
// backend by implementing it rather than returning nil.
func newDefaultDemultiplexer(loop *EventLoop) (demultiplexer, error) {
	if usePollBackend() {
		return newPollPoller(loop)
	}
	return newEpollPoller(loop)
}
