package netloop

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// ConnState is the Connection state machine from spec.md §3.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ConnectionCallback fires on connect-up and on disconnect.
type ConnectionCallback func(c *Conn)

// MessageCallback fires whenever bytes are read into a Conn's input
// buffer.
type MessageCallback func(c *Conn, in *Buffer, receiveTime time.Time)

// WriteCompleteCallback fires when a Conn's output buffer fully drains.
type WriteCompleteCallback func(c *Conn)

// HighWaterMarkCallback fires when a Conn's buffered output crosses its
// configured high-water mark. It fires once per crossing: it does not
// fire again until the output buffer has fully drained.
type HighWaterMarkCallback func(c *Conn, bufferedBytes int)

const defaultHighWaterMark = 64 * 1024 * 1024 // 64 MiB

// Conn is the per-accepted-socket state machine: it owns a Channel and
// two Buffers, and drives the four user callbacks. All access to
// in/out buffers, state, and channel happens on loop's goroutine
// (invariant 5); Send and Shutdown are the only methods safe to call
// from other goroutines.
type Conn struct {
	loop *EventLoop
	name string
	fd   int

	channel *Channel
	state   int32 // ConnState, atomic because Send/Shutdown read it from other goroutines

	inputBuffer  *Buffer
	outputBuffer *Buffer

	localAddr InetAddress
	peerAddr  InetAddress

	highWaterMark int
	overHighWater bool

	destroyed int32 // atomic bool, guards the tie's upgrade check

	connectionCb    ConnectionCallback
	messageCb       MessageCallback
	writeCompleteCb WriteCompleteCallback
	highWaterCb     HighWaterMarkCallback
	closeCb         func(c *Conn)

	lastActive atomic.Value // time.Time
}

// NewConn constructs a Connection in StateConnecting, owned by loop.
func NewConn(loop *EventLoop, name string, fd int, local, peer InetAddress) *Conn {
	c := &Conn{
		loop:          loop,
		name:          name,
		fd:            fd,
		state:         int32(StateConnecting),
		inputBuffer:   NewBuffer(),
		outputBuffer:  NewBuffer(),
		localAddr:     local,
		peerAddr:      peer,
		highWaterMark: defaultHighWaterMark,
	}
	c.lastActive.Store(time.Now())
	c.channel = NewChannel(loop, fd)
	c.channel.Tie(c)
	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleClose)
	c.channel.SetErrorCallback(c.handleError)
	return c
}

func (c *Conn) Name() string          { return c.name }
func (c *Conn) Fd() int                { return c.fd }
func (c *Conn) Loop() *EventLoop       { return c.loop }
func (c *Conn) LocalAddr() InetAddress { return c.localAddr }
func (c *Conn) PeerAddr() InetAddress  { return c.peerAddr }
func (c *Conn) State() ConnState       { return ConnState(atomic.LoadInt32(&c.state)) }

// LastActive returns the time of the most recent successful read or
// write. It is an idle-tracking hook added on top of spec.md's
// Connection, without introducing a timer (Non-goal).
func (c *Conn) LastActive() time.Time { return c.lastActive.Load().(time.Time) }

func (c *Conn) setState(s ConnState) { atomic.StoreInt32(&c.state, int32(s)) }

func (c *Conn) isDestroyed() bool { return atomic.LoadInt32(&c.destroyed) == 1 }

func (c *Conn) SetConnectionCallback(cb ConnectionCallback)         { c.connectionCb = cb }
func (c *Conn) SetMessageCallback(cb MessageCallback)               { c.messageCb = cb }
func (c *Conn) SetWriteCompleteCallback(cb WriteCompleteCallback)   { c.writeCompleteCb = cb }
func (c *Conn) SetHighWaterMarkCallback(cb HighWaterMarkCallback, n int) {
	c.highWaterCb = cb
	c.highWaterMark = n
}
func (c *Conn) setCloseCallback(cb func(c *Conn)) { c.closeCb = cb }

// Establish transitions CONNECTING -> CONNECTED, enables read interest,
// and fires the connection callback. The channel is already tied to the
// Conn by NewConn. Must run on loop's goroutine.
func (c *Conn) Establish() {
	c.loop.assertInLoopThread()
	if c.State() != StateConnecting {
		c.loop.logger().Errorf("netloop: Establish called in state %s for %s", c.State(), c.name)
		return
	}
	c.setState(StateConnected)
	c.channel.EnableReading()
	if c.connectionCb != nil {
		c.connectionCb(c)
	}
}

func (c *Conn) handleRead(receiveTime time.Time) {
	c.loop.assertInLoopThread()
	n, err := c.inputBuffer.ReadFromFD(c.fd)
	switch {
	case n > 0:
		c.lastActive.Store(receiveTime)
		if c.messageCb != nil {
			c.messageCb(c, c.inputBuffer, receiveTime)
		}
	case n == 0:
		c.handleClose()
	default:
		if isRetryable(err) {
			return
		}
		c.loop.logger().Errorf("netloop: %s read error: %v", c.name, err)
		c.handleError()
	}
}

func (c *Conn) handleWrite() {
	c.loop.assertInLoopThread()
	if !c.channel.IsWriting() {
		c.loop.logger().Debugf("netloop: %s handleWrite called with no write interest", c.name)
		return
	}

	n, err := c.outputBuffer.WriteToFD(c.fd)
	if err != nil {
		if isRetryable(err) {
			return
		}
		c.loop.logger().Errorf("netloop: %s write error: %v", c.name, err)
		return
	}

	c.lastActive.Store(time.Now())
	c.outputBuffer.Retrieve(n)
	if c.outputBuffer.ReadableBytes() == 0 {
		c.channel.DisableWriting()
		c.overHighWater = false
		if c.writeCompleteCb != nil {
			cb := c.writeCompleteCb
			c.loop.QueueInLoop(func() { cb(c) })
		}
		if c.State() == StateDisconnecting {
			c.shutdownInLoop()
		}
	}
}

// handleClose fires exactly once per connection lifetime (invariant 6):
// disables all channel interest, transitions to DISCONNECTED, fires the
// connection callback, then the close callback (which drives Server
// removal).
func (c *Conn) handleClose() {
	c.loop.assertInLoopThread()
	if c.State() == StateDisconnected {
		return
	}
	c.channel.DisableAll()
	c.setState(StateDisconnected)

	if c.connectionCb != nil {
		c.connectionCb(c)
	}
	if c.closeCb != nil {
		c.closeCb(c)
	}
}

func (c *Conn) handleError() {
	if errno := socketError(c.fd); errno != nil {
		c.loop.logger().Errorf("netloop: %s socket error: %v", c.name, errno)
	}
}

// Send queues data for write. If called from the owning goroutine it
// writes (or buffers) immediately; otherwise it's submitted as a task
// with a copy of data, since data may be reused by the caller after
// Send returns.
func (c *Conn) Send(data []byte) {
	if c.State() != StateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(data)
	} else {
		cp := append([]byte(nil), data...)
		c.loop.QueueInLoop(func() { c.sendInLoop(cp) })
	}
}

func (c *Conn) sendInLoop(data []byte) {
	if c.State() == StateDisconnected {
		c.loop.logger().Debugf("netloop: %s sendInLoop on disconnected connection, dropped", c.name)
		return
	}

	remaining := data
	if !c.channel.IsWriting() && c.outputBuffer.ReadableBytes() == 0 {
		n, err := unix.Write(c.fd, data)
		if err != nil && !isRetryable(err) {
			c.loop.logger().Errorf("netloop: %s write error: %v", c.name, err)
			return
		}
		if n > 0 {
			remaining = data[n:]
			c.lastActive.Store(time.Now())
		}
		if len(remaining) == 0 {
			if c.writeCompleteCb != nil {
				cb := c.writeCompleteCb
				c.loop.QueueInLoop(func() { cb(c) })
			}
			return
		}
	}

	if len(remaining) == 0 {
		return
	}

	c.outputBuffer.Append(remaining)
	if !c.channel.IsWriting() {
		c.channel.EnableWriting()
	}

	buffered := c.outputBuffer.ReadableBytes()
	if buffered >= c.highWaterMark && !c.overHighWater {
		c.overHighWater = true
		if c.highWaterCb != nil {
			cb := c.highWaterCb
			c.loop.QueueInLoop(func() { cb(c, buffered) })
		}
	}
}

// Shutdown half-closes the write direction once the output buffer has
// drained: CONNECTED -> DISCONNECTING immediately, then SHUT_WR once
// draining completes.
func (c *Conn) Shutdown() {
	if c.State() == StateConnected {
		c.setState(StateDisconnecting)
		c.loop.RunInLoop(c.shutdownInLoop)
	}
}

func (c *Conn) shutdownInLoop() {
	c.loop.assertInLoopThread()
	if !c.channel.IsWriting() {
		unix.Shutdown(c.fd, unix.SHUT_WR)
	}
}

// Destroy transitions CONNECTED -> DISCONNECTED (firing the connection
// callback if it hadn't already fired via handleClose), removes the
// channel from the poller, and closes the descriptor. Idempotent.
func (c *Conn) Destroy() {
	c.loop.assertInLoopThread()
	if atomic.SwapInt32(&c.destroyed, 1) == 1 {
		return
	}
	if c.State() == StateConnected {
		c.setState(StateDisconnected)
		c.channel.DisableAll()
		if c.connectionCb != nil {
			c.connectionCb(c)
		}
	}
	c.channel.Remove()
	unix.Close(c.fd)
}

func isRetryable(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR
}

func socketError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno == 0 {
		return nil
	}
	return unix.Errno(errno)
}
