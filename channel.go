package netloop

import "time"

// pollState mirrors the Channel.poll-state field from spec.md §3.
type pollState int

const (
	pollStateNew pollState = iota
	pollStateAdded
	pollStateDeleted
)

// Event bits for Channel.events / Channel.revents. Values match the
// epoll bit positions directly so the epoll backend can pass masks
// through unchanged; the poll(2) backend passes them through unchanged
// too, since POLLIN etc. have the same values on Linux.
const (
	EventNone  = 0
	EventRead  = 0x001 // EPOLLIN
	EventPri   = 0x002 // EPOLLPRI
	EventWrite = 0x004 // EPOLLOUT
	EventErr   = 0x008 // EPOLLERR
	EventHup   = 0x010 // EPOLLHUP
)

// ReadCallback is invoked when a Channel's descriptor becomes readable.
type ReadCallback func(receiveTime time.Time)

// Channel binds one file descriptor to an interest mask and up to four
// event callbacks. It does not own fd: closing the descriptor is the
// owner's (Connection's or Acceptor's) responsibility. A Channel is
// modified only on its owner loop's goroutine (invariant 5).
type Channel struct {
	loop *EventLoop
	fd   int

	events  uint32
	revents uint32
	state   pollState

	readCallback  ReadCallback
	writeCallback func()
	closeCallback func()
	errorCallback func()

	// tie is the weak back-reference to the owning Connection, upgraded
	// before every dispatch; see Tie and tryUpgradeTie.
	tieOwner *Conn
	tied     bool

	// addedToLoop is set by update and cleared by Remove. It records
	// whether the channel has been handed to its loop since the last
	// Remove; nothing reads it to guard dispatch or removal.
	addedToLoop bool
}

// NewChannel constructs a Channel bound to fd on loop, with no interest
// and no callbacks registered yet.
func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{loop: loop, fd: fd, state: pollStateNew}
}

// Fd returns the bound descriptor.
func (c *Channel) Fd() int { return c.fd }

// Events returns the current interest mask.
func (c *Channel) Events() uint32 { return c.events }

// SetRevents is called by the Demultiplexer to record which events were
// reported ready for this Channel's descriptor.
func (c *Channel) SetRevents(revents uint32) { c.revents = revents }

// State returns the channel's current poll-state.
func (c *Channel) State() pollState { return c.state }

// SetState is used by the Demultiplexer to record registration state.
func (c *Channel) SetState(s pollState) { c.state = s }

// SetReadCallback registers the read handler.
func (c *Channel) SetReadCallback(cb ReadCallback) { c.readCallback = cb }

// SetWriteCallback registers the write handler.
func (c *Channel) SetWriteCallback(cb func()) { c.writeCallback = cb }

// SetCloseCallback registers the close handler.
func (c *Channel) SetCloseCallback(cb func()) { c.closeCallback = cb }

// SetErrorCallback registers the error handler.
func (c *Channel) SetErrorCallback(cb func()) { c.errorCallback = cb }

// Tie binds a weak back-reference to owner: before any handler runs,
// the tie is "upgraded" by checking owner is still alive, so a Channel
// dispatched after its Connection has been destroyed is safely skipped
// (spec.md §4.7, §9 "back-reference from Channel to Connection"). Unlike
// a GC weak pointer, Channel's lifetime here is already bounded by its
// owning Connection (the Connection owns the Channel, not vice versa),
// so "upgrade" is really a liveness check on the Connection's destroyed
// flag rather than a reachability-preventing reference.
func (c *Channel) Tie(owner *Conn) {
	c.tieOwner = owner
	c.tied = true
}

func (c *Channel) tryUpgradeTie() (*Conn, bool) {
	if !c.tied {
		return nil, true
	}
	if c.tieOwner == nil || c.tieOwner.isDestroyed() {
		return nil, false
	}
	return c.tieOwner, true
}

// EnableReading sets the read+priority-read interest bits and
// reconciles with the loop's demultiplexer.
func (c *Channel) EnableReading() {
	c.events |= EventRead | EventPri
	c.update()
}

// DisableReading clears the read+priority-read interest bits.
func (c *Channel) DisableReading() {
	c.events &^= EventRead | EventPri
	c.update()
}

// EnableWriting sets the write interest bit.
func (c *Channel) EnableWriting() {
	c.events |= EventWrite
	c.update()
}

// DisableWriting clears the write interest bit.
func (c *Channel) DisableWriting() {
	c.events &^= EventWrite
	c.update()
}

// DisableAll clears every interest bit.
func (c *Channel) DisableAll() {
	c.events = EventNone
	c.update()
}

// IsWriting reports whether the write interest bit is set.
func (c *Channel) IsWriting() bool { return c.events&EventWrite != 0 }

// IsReading reports whether the read interest bit is set.
func (c *Channel) IsReading() bool { return c.events&EventRead != 0 }

// IsNoneEvent reports whether the interest mask is empty.
func (c *Channel) IsNoneEvent() bool { return c.events == EventNone }

func (c *Channel) update() {
	c.addedToLoop = true
	c.loop.updateChannel(c)
}

// Remove deregisters the channel from its loop's demultiplexer.
func (c *Channel) Remove() {
	c.addedToLoop = false
	c.loop.removeChannel(c)
}

// Handle dispatches revents in the fixed order spec.md §4.2 mandates:
// close (hangup without readable data) takes priority, then error, then
// read/priority-read, then write. The close case is terminal: when it
// fires, no other callback runs. Otherwise error may coexist with read
// and write, and every applicable callback fires within one call. If the
// weak tie fails to upgrade, dispatch is skipped entirely.
func (c *Channel) Handle(receiveTime time.Time) {
	if _, ok := c.tryUpgradeTie(); !ok {
		return
	}

	if c.revents&EventHup != 0 && c.revents&EventRead == 0 {
		if c.closeCallback != nil {
			c.closeCallback()
		}
		return
	}

	if c.revents&EventErr != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}

	if c.revents&(EventRead|EventPri) != 0 {
		if c.readCallback != nil {
			c.readCallback(receiveTime)
		}
	}

	if c.revents&EventWrite != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}
