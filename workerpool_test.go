package netloop

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestWorkerPool_NextLoopRoundRobin is spec.md §8 scenario 2: with 4
// worker threads, NextLoop assignments must cycle
// [w0,w1,w2,w3,w0,w1,w2,w3,...].
func TestWorkerPool_NextLoopRoundRobin(t *testing.T) {
	baseLoop, stop := runLoop(t)
	defer stop()

	pool := NewWorkerPool(baseLoop, "rr-test")
	pool.SetThreadNum(4)

	done := make(chan struct{})
	var assigned []*EventLoop
	baseLoop.RunInLoop(func() {
		pool.Start(nil)
		for i := 0; i < 8; i++ {
			assigned = append(assigned, pool.NextLoop())
		}
		close(done)
	})
	<-done

	loops := pool.Loops()
	require.Len(t, loops, 4)

	want := []*EventLoop{loops[0], loops[1], loops[2], loops[3], loops[0], loops[1], loops[2], loops[3]}
	require.Equal(t, want, assigned)

	for _, l := range loops {
		l.Quit()
	}
	pool.WaitForStop()
}

// TestServer_WorkerAssignmentCycles drives 8 serial accepted connections
// through a 4-worker Server and asserts the io loop each Conn lands on
// cycles round-robin, matching WorkerPool's own assignment order rather
// than just proving echo correctness.
func TestServer_WorkerAssignmentCycles(t *testing.T) {
	baseLoop, stopBase := runLoop(t)
	defer stopBase()

	addr := NewInetAddress(0, "127.0.0.1")

	var srv *Server
	ready := make(chan struct{})
	baseLoop.RunInLoop(func() {
		var err error
		srv, err = NewServer(baseLoop, addr, "rr-server-test", NoReusePort, WithThreadNum(4))
		require.NoError(t, err)
		srv.Start()
		close(ready)
	})
	<-ready
	defer closeServerOnLoop(baseLoop, srv)

	var ipPort string
	addrDone := make(chan struct{})
	baseLoop.RunInLoop(func() {
		ipPort = localAddrOf(srv.acceptor.listenFD).ToIPPort()
		close(addrDone)
	})
	<-addrDone

	const n = 8
	assignedLoop := make(chan *EventLoop, n)
	srv.SetConnectionCallback(func(c *Conn) {
		if c.State() == StateConnected {
			assignedLoop <- c.Loop()
		}
	})

	// Dial and fully establish each connection serially, one at a time,
	// waiting for its connection callback before dialing the next, so
	// accept order (and therefore worker assignment order) matches dial
	// order exactly.
	var clients []net.Conn
	var assigned []*EventLoop
	for i := 0; i < n; i++ {
		conn, err := net.Dial("tcp", ipPort)
		require.NoError(t, err)
		clients = append(clients, conn)

		select {
		case loop := <-assignedLoop:
			assigned = append(assigned, loop)
		case <-time.After(2 * time.Second):
			t.Fatal("connection never established")
		}
	}
	for _, c := range clients {
		c.Close()
	}

	loops := srv.workerPool.Loops()
	require.Len(t, loops, 4)

	want := []*EventLoop{loops[0], loops[1], loops[2], loops[3], loops[0], loops[1], loops[2], loops[3]}
	require.Equal(t, want, assigned)
}
