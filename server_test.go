package netloop

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// closeServerOnLoop runs srv.Close on the base loop's goroutine, which
// owns the acceptor's channel, and waits for it to finish.
func closeServerOnLoop(baseLoop *EventLoop, srv *Server) {
	closed := make(chan struct{})
	baseLoop.RunInLoop(func() {
		srv.Close()
		close(closed)
	})
	<-closed
}

func TestServer_EchoAcrossWorkerPool(t *testing.T) {
	baseLoop, stopBase := runLoop(t)
	defer stopBase()

	addr := NewInetAddress(0, "127.0.0.1")

	var srv *Server
	ready := make(chan struct{})
	baseLoop.RunInLoop(func() {
		var err error
		srv, err = NewServer(baseLoop, addr, "echo-test-server", NoReusePort, WithThreadNum(2))
		require.NoError(t, err)
		srv.SetMessageCallback(func(c *Conn, in *Buffer, _ time.Time) {
			c.Send(in.RetrieveAllBytes())
		})
		srv.Start()
		close(ready)
	})
	<-ready
	defer closeServerOnLoop(baseLoop, srv)

	// The ephemeral port was assigned inside Listen; recover it via the
	// acceptor's own listening descriptor.
	var ipPort string
	done := make(chan struct{})
	baseLoop.RunInLoop(func() {
		ipPort = localAddrOf(srv.acceptor.listenFD).ToIPPort()
		close(done)
	})
	<-done

	for i := 0; i < 5; i++ {
		conn, err := net.Dial("tcp", ipPort)
		require.NoError(t, err)

		msg := []byte("ping-" + string(rune('a'+i)))
		_, err = conn.Write(msg)
		require.NoError(t, err)

		buf := make([]byte, len(msg))
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err = readFull(conn, buf)
		require.NoError(t, err)
		require.Equal(t, msg, buf)

		conn.Close()
	}
}

func TestServer_HalfCloseAfterShutdown(t *testing.T) {
	baseLoop, stopBase := runLoop(t)
	defer stopBase()

	addr := NewInetAddress(0, "127.0.0.1")

	var srv *Server
	var lastConn *Conn
	ready := make(chan struct{})
	baseLoop.RunInLoop(func() {
		var err error
		srv, err = NewServer(baseLoop, addr, "halfclose-test-server", NoReusePort)
		require.NoError(t, err)
		srv.SetConnectionCallback(func(c *Conn) {
			if c.State() == StateConnected {
				lastConn = c
			}
		})
		srv.Start()
		close(ready)
	})
	<-ready
	defer closeServerOnLoop(baseLoop, srv)

	var ipPort string
	done := make(chan struct{})
	baseLoop.RunInLoop(func() {
		ipPort = localAddrOf(srv.acceptor.listenFD).ToIPPort()
		close(done)
	})
	<-done

	conn, err := net.Dial("tcp", ipPort)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return lastConn != nil }, 2*time.Second, time.Millisecond)

	lastConn.Shutdown()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	n, err := conn.Read(buf)
	require.Equal(t, 0, n)
	require.Error(t, err) // EOF: peer half-closed its write side
}
