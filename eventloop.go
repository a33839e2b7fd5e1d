package netloop

import (
	"sync"
	"sync/atomic"
	"time"
)

const defaultPollTimeout = 10 * time.Second

// loopRegistry enforces spec.md invariant 4 ("at most one EventLoop
// exists per OS thread"), adapted to Go's goroutine model: at most one
// EventLoop per goroutine, keyed by the goroutineID captured at
// construction. See goroutine.go for why a parsed stack-trace id stands
// in for the thread-local pointer the spec describes.
var loopRegistry sync.Map // goroutine id (uint64) -> *EventLoop

// EventLoop drives one goroutine: poll, dispatch active channels, run
// queued tasks, repeat. Exactly one loop may exist per goroutine
// (constructor panics via Fatalf otherwise). All mutation of
// activeChannels, looping, quit, and callingPendingTasks happens only on
// the owning goroutine; pendingTasks is guarded by pendingMutex.
type EventLoop struct {
	ownerGID    uint64
	ownerGIDSet bool

	looping             int32 // atomic bool
	quit                int32 // atomic bool
	callingPendingTasks int32 // atomic bool

	activeChannels []*Channel

	pendingMutex  sync.Mutex
	pendingTasks  []func()

	wakeupFD      int
	wakeupChannel *Channel

	poller demultiplexer
	log    Logger

	recorder Recorder
}

// NewEventLoop constructs an EventLoop pinned to the calling goroutine.
// log may be nil, in which case a no-op Logger is used.
func NewEventLoop(log Logger) *EventLoop {
	if log == nil {
		log = defaultLogger
	}

	gid, hasGID := goroutineID()
	if hasGID {
		if _, exists := loopRegistry.Load(gid); exists {
			log.Fatalf("netloop: EventLoop already exists on this goroutine (%d)", gid)
		}
	}

	loop := &EventLoop{
		ownerGID:    gid,
		ownerGIDSet: hasGID,
		log:         log,
	}

	wfd, err := newWakeupFD()
	if err != nil {
		log.Fatalf("netloop: failed to create wakeup descriptor: %v", err)
	}
	loop.wakeupFD = wfd

	poller, err := newDefaultDemultiplexer(loop)
	if err != nil {
		log.Fatalf("netloop: failed to create poller: %v", err)
	}
	loop.poller = poller

	loop.wakeupChannel = NewChannel(loop, wfd)
	loop.wakeupChannel.SetReadCallback(func(time.Time) {
		if err := wakeupRead(wfd); err != nil {
			loop.log.Errorf("netloop: wakeup read: %v", err)
		}
	})
	loop.wakeupChannel.EnableReading()

	if hasGID {
		loopRegistry.Store(gid, loop)
	}

	return loop
}

func (l *EventLoop) logger() Logger {
	if l.log != nil {
		return l.log
	}
	return defaultLogger
}

// SetRecorder installs an optional per-iteration metrics hook.
func (l *EventLoop) SetRecorder(r Recorder) { l.recorder = r }

// IsInLoopThread reports whether the calling goroutine owns this loop.
func (l *EventLoop) IsInLoopThread() bool {
	gid, ok := goroutineID()
	if !ok || !l.ownerGIDSet {
		// Can't determine identity cheaply; treat as cross-goroutine so
		// callers always take the safe (queueing) path.
		return false
	}
	return gid == l.ownerGID
}

func (l *EventLoop) assertInLoopThread() {
	if !l.IsInLoopThread() {
		l.logger().Fatalf("netloop: operation invoked from a goroutine that does not own this EventLoop")
	}
}

// Loop runs the main cycle until Quit is called: clear the active list,
// poll up to defaultPollTimeout, dispatch each active channel, then run
// queued tasks.
func (l *EventLoop) Loop() {
	atomic.StoreInt32(&l.looping, 1)
	atomic.StoreInt32(&l.quit, 0)
	l.logger().Infof("netloop: EventLoop starting")

	for atomic.LoadInt32(&l.quit) == 0 {
		l.activeChannels = l.activeChannels[:0]

		pollStart := time.Now()
		receiveTime, err := l.poller.poll(defaultPollTimeout, &l.activeChannels)
		if err != nil {
			l.logger().Errorf("netloop: poll error: %v", err)
		}

		for _, ch := range l.activeChannels {
			ch.Handle(receiveTime)
		}

		l.doPendingTasks()

		if l.recorder != nil {
			l.recorder.RecordIteration(len(l.activeChannels), l.pendingTaskCount(), receiveTime.Sub(pollStart))
		}
	}

	l.logger().Infof("netloop: EventLoop stopping")
	atomic.StoreInt32(&l.looping, 0)
}

func (l *EventLoop) pendingTaskCount() int {
	l.pendingMutex.Lock()
	defer l.pendingMutex.Unlock()
	return len(l.pendingTasks)
}

// Quit requests loop exit. The loop exits after its current iteration's
// poll and dispatch complete. Safe to call from any goroutine.
func (l *EventLoop) Quit() {
	atomic.StoreInt32(&l.quit, 1)
	if !l.IsInLoopThread() {
		l.wakeup()
	}
}

// RunInLoop executes task immediately if called from the owning
// goroutine, else schedules it via QueueInLoop.
func (l *EventLoop) RunInLoop(task func()) {
	if l.IsInLoopThread() {
		task()
	} else {
		l.QueueInLoop(task)
	}
}

// QueueInLoop appends task under pendingMutex and wakes the loop if the
// caller isn't the owner, or if the owner is itself inside the
// pending-task execution phase for this iteration (spec.md §9's resolved
// open question: waking only on not-owner is incorrect for the
// reentrant-enqueue-from-owner case, since the local copy already being
// drained would never see the new task this iteration).
func (l *EventLoop) QueueInLoop(task func()) {
	l.pendingMutex.Lock()
	l.pendingTasks = append(l.pendingTasks, task)
	l.pendingMutex.Unlock()

	if !l.IsInLoopThread() || atomic.LoadInt32(&l.callingPendingTasks) == 1 {
		l.wakeup()
	}
}

// doPendingTasks swaps pendingTasks into a local slice under lock, then
// executes the local copy with the lock released, so enqueued tasks can
// enqueue further tasks without reentrant deadlock. Tasks appended after
// the swap run on the next iteration, never this one.
func (l *EventLoop) doPendingTasks() {
	atomic.StoreInt32(&l.callingPendingTasks, 1)
	defer atomic.StoreInt32(&l.callingPendingTasks, 0)

	l.pendingMutex.Lock()
	tasks := l.pendingTasks
	l.pendingTasks = nil
	l.pendingMutex.Unlock()

	for _, task := range tasks {
		task()
	}
}

func (l *EventLoop) wakeup() {
	if err := wakeupWrite(l.wakeupFD); err != nil {
		l.logger().Errorf("netloop: wakeup write: %v", err)
	}
}

// updateChannel asserts loop-thread ownership then delegates to the
// poller.
func (l *EventLoop) updateChannel(ch *Channel) {
	l.assertInLoopThread()
	l.poller.update(ch)
}

// removeChannel asserts loop-thread ownership then delegates to the
// poller.
func (l *EventLoop) removeChannel(ch *Channel) {
	l.assertInLoopThread()
	l.poller.remove(ch)
}

// HasChannel asserts loop-thread ownership then delegates to the poller.
func (l *EventLoop) HasChannel(fd int) bool {
	l.assertInLoopThread()
	return l.poller.hasChannel(fd)
}

// Close tears down the loop's poller and wakeup descriptor, and
// deregisters it from the per-goroutine registry. Call only after Loop
// has returned.
func (l *EventLoop) Close() error {
	if l.ownerGIDSet {
		loopRegistry.Delete(l.ownerGID)
	}
	err := l.poller.close()
	if cerr := closeWakeupFD(l.wakeupFD); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Recorder receives one call per Loop iteration. Purely additive: it is
// never on the hot per-channel dispatch path.
type Recorder interface {
	RecordIteration(activeChannels, pendingTasks int, pollLatency time.Duration)
}
