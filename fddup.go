package netloop

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// syscallConner is satisfied by *net.TCPListener and *net.TCPConn.
type syscallConner interface {
	SyscallConn() (syscall.RawConn, error)
}

// dupFD duplicates the file descriptor underneath a net.Conn/net.Listener
// and sets it non-blocking with close-on-exec, so netloop can own the
// descriptor's lifecycle independently of the standard library object
// (which would otherwise close it via its own finalizer). Grounded
// directly on xtaci/gaio's watcher.go dupconn technique (dup(2) the fd
// out of a net.Conn, then close the original), applied here to both
// listening sockets and accepted connections.
func dupFD(sc syscallConner) (int, error) {
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}

	var dupfd int
	var dupErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		dupfd, dupErr = unix.Dup(int(fd))
	})
	if ctrlErr != nil {
		return -1, ctrlErr
	}
	if dupErr != nil {
		return -1, dupErr
	}

	if err := unix.SetNonblock(dupfd, true); err != nil {
		unix.Close(dupfd)
		return -1, err
	}
	if _, err := unix.FcntlInt(uintptr(dupfd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		unix.Close(dupfd)
		return -1, err
	}

	return dupfd, nil
}

// dupListenerFD duplicates a *net.TCPListener's fd and closes the
// original listener, handing ownership of the raw descriptor to the
// caller.
func dupListenerFD(ln *net.TCPListener) (int, error) {
	fd, err := dupFD(ln)
	ln.Close()
	if err != nil {
		return -1, err
	}
	return fd, nil
}

// dupConnFD duplicates a *net.TCPConn's fd and closes the original
// connection, handing ownership of the raw descriptor to the caller.
func dupConnFD(c *net.TCPConn) (int, error) {
	fd, err := dupFD(c)
	c.Close()
	if err != nil {
		return -1, err
	}
	return fd, nil
}
