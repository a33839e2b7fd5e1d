package netloop

import "sync"

// ThreadInitCallback runs once per worker goroutine before it enters its
// EventLoop, matching spec.md §6.
type ThreadInitCallback func(loop *EventLoop)

// WorkerPool owns N worker loops, each driven by its own goroutine.
// next-loop access is confined to the base loop's goroutine (spec.md
// §4.6), so no lock guards the round-robin index.
type WorkerPool struct {
	baseLoop *EventLoop
	name     string

	started bool
	numLoops int

	loops []*EventLoop
	wg    sync.WaitGroup

	next int
}

// NewWorkerPool constructs a pool bound to baseLoop with a given name
// (used only for diagnostic goroutine labeling).
func NewWorkerPool(baseLoop *EventLoop, name string) *WorkerPool {
	return &WorkerPool{baseLoop: baseLoop, name: name}
}

// SetThreadNum selects the worker count; 0 means "run everything on the
// base loop" (spec.md §6).
func (p *WorkerPool) SetThreadNum(n int) { p.numLoops = n }

// Start spawns one goroutine per worker, each running a fresh EventLoop.
// Start blocks until each worker's loop is constructed and published;
// the worker goroutine then runs initCallback(loop) before entering
// Loop(). initCallback may be nil.
func (p *WorkerPool) Start(initCallback ThreadInitCallback) {
	p.baseLoop.assertInLoopThread()
	p.started = true

	for i := 0; i < p.numLoops; i++ {
		ready := make(chan *EventLoop, 1)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			loop := NewEventLoop(p.baseLoop.log)
			ready <- loop
			if initCallback != nil {
				initCallback(loop)
			}
			loop.Loop()
			loop.Close()
		}()
		p.loops = append(p.loops, <-ready)
	}

	if p.numLoops == 0 && initCallback != nil {
		initCallback(p.baseLoop)
	}
}

// NextLoop returns the next worker loop round-robin, or the base loop if
// no workers were configured.
func (p *WorkerPool) NextLoop() *EventLoop {
	p.baseLoop.assertInLoopThread()
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	loop := p.loops[p.next]
	p.next = (p.next + 1) % len(p.loops)
	return loop
}

// Loops returns every worker loop.
func (p *WorkerPool) Loops() []*EventLoop {
	return p.loops
}

// WaitForStop blocks until every worker goroutine's Loop has returned
// (all loops Quit). Intended for tests and graceful process shutdown.
func (p *WorkerPool) WaitForStop() {
	p.wg.Wait()
}
