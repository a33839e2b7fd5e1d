// Package netloop implements a Reactor-pattern TCP server core: a single
// acceptor loop and a fixed pool of worker loops, each multiplexing
// thousands of connections with one epoll instance per loop and no
// per-connection goroutine.
//
// Typical use:
//
//	loop := netloop.NewEventLoop(nil)
//	addr := netloop.NewInetAddress(9981, "127.0.0.1")
//	srv, err := netloop.NewServer(loop, addr, "echo", netloop.NoReusePort, netloop.WithThreadNum(4))
//	srv.SetMessageCallback(func(c *netloop.Conn, buf *netloop.Buffer, t time.Time) {
//	    c.Send(buf.RetrieveAllBytes())
//	})
//	loop.RunInLoop(func() { srv.Start() })
//	loop.Loop()
package netloop
