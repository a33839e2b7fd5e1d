package netloop

import (
	"context"
	"net"
	"syscall"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"golang.org/x/sys/unix"
)

// ReusePortOption selects whether the listening socket sets SO_REUSEPORT,
// matching spec.md §6's Server construction option.
type ReusePortOption int

const (
	NoReusePort ReusePortOption = iota
	ReusePort
)

// NewConnCallback is invoked by the Acceptor on the base loop for every
// accepted descriptor.
type NewConnCallback func(fd int, peer InetAddress)

// Acceptor owns the listening socket. On read-readiness it accepts in a
// loop until EAGAIN, invoking newConnCallback for each accepted
// descriptor, or closing it if no callback is registered. Grounded on
// spec.md §4.5 and original_source/Acceptor.h's shape (a Channel bound
// to the listening fd, a newConnectionCallback, a listening bool).
type Acceptor struct {
	loop            *EventLoop
	listenFD        int
	channel         *Channel
	newConnCallback NewConnCallback
	listening       bool

	// idleFD is the reserved descriptor used to ride out EMFILE: closed
	// and reopened around an accept-and-immediately-close, so a
	// descriptor-exhausted process doesn't spin the event loop in a
	// tight accept/EMFILE busy loop. Grounded on spec.md §4.5's
	// described technique and the teacher's general care around fd
	// exhaustion in watcher.go's releaseConn bookkeeping.
	idleFD int
}

// NewAcceptor creates and binds the listening socket for addr. The
// socket is set non-blocking with close-on-exec; SO_REUSEADDR is always
// set, SO_REUSEPORT iff reuse == ReusePort.
func NewAcceptor(loop *EventLoop, addr InetAddress, reuse ReusePortOption) (*Acceptor, error) {
	var ln net.Listener
	var err error

	if reuse == ReusePort {
		ln, err = reuseport.Listen("tcp", addr.ToIPPort())
	} else {
		lc := net.ListenConfig{Control: setReuseAddr}
		ln, err = lc.Listen(context.Background(), "tcp", addr.ToIPPort())
	}
	if err != nil {
		return nil, err
	}

	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return nil, ErrNoBackend
	}

	fd, err := dupListenerFD(tcpLn)
	if err != nil {
		return nil, err
	}

	idleFD, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	a := &Acceptor{
		loop:     loop,
		listenFD: fd,
		idleFD:   idleFD,
	}
	a.channel = NewChannel(loop, fd)
	a.channel.SetReadCallback(a.handleRead)
	return a, nil
}

func setReuseAddr(_, _ string, c syscall.RawConn) error {
	return c.Control(func(fd uintptr) {
		unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
}

// SetNewConnCallback registers the callback invoked per accepted
// descriptor.
func (a *Acceptor) SetNewConnCallback(cb NewConnCallback) { a.newConnCallback = cb }

// Listen begins listening and enables read interest on the base loop.
// Must be called on the Acceptor's loop.
func (a *Acceptor) Listen() {
	a.loop.assertInLoopThread()
	a.listening = true
	if err := unix.Listen(a.listenFD, unix.SOMAXCONN); err != nil {
		a.loop.logger().Errorf("netloop: listen: %v", err)
	}
	a.channel.EnableReading()
}

func (a *Acceptor) handleRead(time.Time) {
	a.loop.assertInLoopThread()
	for {
		nfd, sa, err := unix.Accept(a.listenFD)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return
			case unix.EMFILE:
				a.handleEMFILE()
				return
			case unix.EINTR, unix.ECONNABORTED:
				continue
			default:
				a.loop.logger().Errorf("netloop: accept: %v", err)
				return
			}
		}

		unix.SetNonblock(nfd, true)
		unix.FcntlInt(uintptr(nfd), unix.F_SETFD, unix.FD_CLOEXEC)
		unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

		if a.newConnCallback != nil {
			a.newConnCallback(nfd, sockaddrToInetAddress(sa))
		} else {
			unix.Close(nfd)
		}
	}
}

// handleEMFILE rides out file-descriptor exhaustion by freeing the
// reserved idle descriptor, accepting (and immediately discarding) the
// one pending connection that triggered EMFILE, then reopening the
// reserved descriptor. This prevents accept() from being retried in a
// tight busy loop while fds remain exhausted (spec.md §4.5).
func (a *Acceptor) handleEMFILE() {
	unix.Close(a.idleFD)
	nfd, _, _ := unix.Accept(a.listenFD)
	if nfd >= 0 {
		unix.Close(nfd)
	}
	a.loop.logger().Errorf("netloop: accept: EMFILE, dropped one pending connection")
	if fd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0); err == nil {
		a.idleFD = fd
	}
}

func sockaddrToInetAddress(sa unix.Sockaddr) InetAddress {
	if sa4, ok := sa.(*unix.SockaddrInet4); ok {
		ip := net.IPv4(sa4.Addr[0], sa4.Addr[1], sa4.Addr[2], sa4.Addr[3])
		return NewInetAddress(uint16(sa4.Port), ip.String())
	}
	return InetAddress{}
}

// Close releases the listening and reserved descriptors.
func (a *Acceptor) Close() error {
	a.channel.DisableAll()
	a.channel.Remove()
	unix.Close(a.idleFD)
	return unix.Close(a.listenFD)
}
