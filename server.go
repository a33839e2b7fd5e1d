package netloop

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Server is the user-facing façade: it owns an Acceptor and a
// WorkerPool, tracks live connections, and dispatches newly accepted
// descriptors to worker loops round-robin. Grounded on
// original_source/TcpServer.cc's shape and lifecycle.
type Server struct {
	baseLoop *EventLoop
	name     string
	ipPort   string

	acceptor   *Acceptor
	workerPool *WorkerPool

	mu          sync.Mutex
	connections map[string]*Conn
	nextConnID  uint64

	started int32 // atomic, guards idempotent Start
	closed  int32 // atomic, set by Close

	threadInitCb    ThreadInitCallback
	connectionCb    ConnectionCallback
	messageCb       MessageCallback
	writeCompleteCb WriteCompleteCallback
	highWaterCb     HighWaterMarkCallback
	highWaterMark   int

	log Logger
}

// NewServer constructs a Server bound to baseLoop, listening on addr
// once Start is called. name is used to build per-connection names and
// for diagnostics.
func NewServer(baseLoop *EventLoop, addr InetAddress, name string, reuse ReusePortOption, opts ...Option) (*Server, error) {
	if baseLoop == nil {
		defaultLogger.Fatalf("netloop: NewServer requires a non-nil base loop")
	}

	acceptor, err := NewAcceptor(baseLoop, addr, reuse)
	if err != nil {
		return nil, err
	}

	s := &Server{
		baseLoop:      baseLoop,
		name:          name,
		ipPort:        addr.ToIPPort(),
		acceptor:      acceptor,
		workerPool:    NewWorkerPool(baseLoop, name),
		connections:   make(map[string]*Conn),
		highWaterMark: defaultHighWaterMark,
		log:           baseLoop.log,
	}
	for _, opt := range opts {
		opt(s)
	}
	acceptor.SetNewConnCallback(s.newConnection)
	return s, nil
}

func (s *Server) SetConnectionCallback(cb ConnectionCallback)             { s.connectionCb = cb }
func (s *Server) SetMessageCallback(cb MessageCallback)                   { s.messageCb = cb }
func (s *Server) SetWriteCompleteCallback(cb WriteCompleteCallback)       { s.writeCompleteCb = cb }
func (s *Server) SetHighWaterMarkCallback(cb HighWaterMarkCallback, n int) {
	s.highWaterCb = cb
	s.highWaterMark = n
}
func (s *Server) SetThreadInitCallback(cb ThreadInitCallback) { s.threadInitCb = cb }

// SetThreadNum selects the worker count; 0 runs everything on the base
// loop.
func (s *Server) SetThreadNum(n int) { s.workerPool.SetThreadNum(n) }

// Start is idempotent per construction: only the first call spawns the
// worker pool and submits the listen. Returns ErrServerStopped if Close
// already ran.
func (s *Server) Start() error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrServerStopped
	}
	if atomic.AddInt32(&s.started, 1) != 1 {
		return nil
	}
	s.workerPool.Start(s.threadInitCb)
	s.baseLoop.RunInLoop(s.acceptor.Listen)
	return nil
}

// newConnection runs on the base loop: it picks the next worker loop,
// builds a unique connection name, resolves the local address, builds
// the Connection on that worker's domain, registers it, and submits
// Establish.
func (s *Server) newConnection(fd int, peerAddr InetAddress) {
	s.baseLoop.assertInLoopThread()

	ioLoop := s.workerPool.NextLoop()

	id := atomic.AddUint64(&s.nextConnID, 1)
	connName := fmt.Sprintf("%s-%s#%d", s.name, s.ipPort, id)

	localAddr := localAddrOf(fd)

	s.log.Infof("netloop: %s - new connection %s from %s", s.name, connName, peerAddr.ToIPPort())

	conn := NewConn(ioLoop, connName, fd, localAddr, peerAddr)
	conn.SetConnectionCallback(s.connectionCb)
	conn.SetMessageCallback(s.messageCb)
	conn.SetWriteCompleteCallback(s.writeCompleteCb)
	if s.highWaterCb != nil {
		conn.SetHighWaterMarkCallback(s.highWaterCb, s.highWaterMark)
	}
	conn.setCloseCallback(s.removeConnection)

	s.mu.Lock()
	s.connections[connName] = conn
	s.mu.Unlock()

	ioLoop.RunInLoop(conn.Establish)
}

// removeConnection may run on a worker loop (it's invoked as a
// Connection's close callback); it submits the actual table removal to
// the base loop.
func (s *Server) removeConnection(conn *Conn) {
	s.baseLoop.RunInLoop(func() { s.removeConnectionInLoop(conn) })
}

func (s *Server) removeConnectionInLoop(conn *Conn) {
	s.baseLoop.assertInLoopThread()
	s.log.Infof("netloop: %s - removing connection %s", s.name, conn.Name())

	s.mu.Lock()
	delete(s.connections, conn.Name())
	s.mu.Unlock()

	conn.Loop().QueueInLoop(conn.Destroy)
}

// Connections returns a snapshot of the currently live connections.
func (s *Server) Connections() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, 0, len(s.connections))
	for _, c := range s.connections {
		out = append(out, c)
	}
	return out
}

// Close tears down every live connection and the acceptor. For each
// connection, a local strong reference is taken before it's dropped
// from the table, and its destruction is submitted to its own worker
// loop, matching spec.md §4.8's destructor semantics. Must run on the
// base loop's goroutine, since closing the acceptor updates its channel.
func (s *Server) Close() error {
	atomic.StoreInt32(&s.closed, 1)

	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.connections))
	for name, c := range s.connections {
		conns = append(conns, c)
		delete(s.connections, name)
	}
	s.mu.Unlock()

	for _, c := range conns {
		conn := c
		conn.Loop().RunInLoop(conn.Destroy)
	}

	return s.acceptor.Close()
}

func localAddrOf(fd int) InetAddress {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return InetAddress{}
	}
	if sa4, ok := sa.(*unix.SockaddrInet4); ok {
		ip := fmt.Sprintf("%d.%d.%d.%d", sa4.Addr[0], sa4.Addr[1], sa4.Addr[2], sa4.Addr[3])
		return NewInetAddress(uint16(sa4.Port), ip)
	}
	return InetAddress{}
}
