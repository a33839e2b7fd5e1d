//go:build linux

package netloop

import "golang.org/x/sys/unix"

// newWakeupFD creates the eventfd used to break a blocking poll() call
// from another goroutine. Grounded directly on
// joeycumines-go-utilpkg/eventloop's wakeup_linux.go, which uses the same
// unix.Eventfd call for the identical purpose.
func newWakeupFD() (int, error) {
	return unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
}

// wakeupWrite writes the 8-byte counter increment that causes a blocked
// epoll_wait/poll to return.
func wakeupWrite(fd int) error {
	var buf [8]byte
	buf[7] = 1
	for {
		_, err := unix.Write(fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

// wakeupRead drains the eventfd counter so repeated writes don't leave
// poll() returning immediately forever.
func wakeupRead(fd int) error {
	var buf [8]byte
	for {
		_, err := unix.Read(fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

func closeWakeupFD(fd int) error {
	return unix.Close(fd)
}
