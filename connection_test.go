package netloop

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// dupAcceptedConn listens on loopback, dials it once, and returns the
// accepted side's duplicated raw fd plus the client's plain net.Conn for
// driving I/O from the test goroutine.
func dupAcceptedConn(t *testing.T) (fd int, client net.Conn, local, peer InetAddress) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		accepted <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	serverSide := (<-accepted).(*net.TCPConn)
	fd, err = dupConnFD(serverSide)
	require.NoError(t, err)

	local = NewInetAddressFromTCPAddr(client.RemoteAddr().(*net.TCPAddr))
	peer = NewInetAddressFromTCPAddr(client.LocalAddr().(*net.TCPAddr))
	return fd, client, local, peer
}

func TestConn_EchoRoundTrip(t *testing.T) {
	loop, stop := runLoop(t)
	defer stop()

	fd, client, local, peer := dupAcceptedConn(t)
	defer client.Close()

	established := make(chan struct{})
	loop.RunInLoop(func() {
		conn := NewConn(loop, "echo-test", fd, local, peer)
		conn.SetMessageCallback(func(c *Conn, in *Buffer, _ time.Time) {
			c.Send(in.RetrieveAllBytes())
		})
		conn.Establish()
		close(established)
	})
	<-established

	_, err := client.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = readFull(client, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))
}

func TestConn_HighWaterMarkFiresOnce(t *testing.T) {
	loop, stop := runLoop(t)
	defer stop()

	fd, client, local, peer := dupAcceptedConn(t)
	defer client.Close()

	var fires int
	fired := make(chan struct{}, 8)
	ready := make(chan struct{})

	loop.RunInLoop(func() {
		conn := NewConn(loop, "hwm-test", fd, local, peer)
		conn.SetHighWaterMarkCallback(func(c *Conn, n int) {
			fired <- struct{}{}
		}, 16)
		conn.Establish()
		close(ready)

		// The client isn't draining, so once the kernel socket buffers
		// fill, the rest of this 10 MiB push is buffered past the 16-byte
		// mark and queues one callback.
		conn.Send(make([]byte, 10<<20))
	})
	<-ready

	select {
	case <-fired:
		fires++
	case <-time.After(2 * time.Second):
		t.Fatal("high water mark callback never fired")
	}

	select {
	case <-fired:
		t.Fatal("high water mark callback fired more than once without draining")
	case <-time.After(100 * time.Millisecond):
	}

	_ = fires
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
