package netloop

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runLoop(t *testing.T) (*EventLoop, func()) {
	t.Helper()
	var loop *EventLoop
	ready := make(chan struct{})
	done := make(chan struct{})
	go func() {
		loop = NewEventLoop(nil)
		close(ready)
		loop.Loop()
		close(done)
	}()
	<-ready
	return loop, func() {
		loop.Quit()
		<-done
		loop.Close()
	}
}

func TestEventLoop_QueuedTaskRunsOnOwner(t *testing.T) {
	loop, stop := runLoop(t)
	defer stop()

	var ran int32
	loop.QueueInLoop(func() {
		assert.True(t, loop.IsInLoopThread())
		atomic.StoreInt32(&ran, 1)
	})

	require.Eventually(t, func() bool { return atomic.LoadInt32(&ran) == 1 }, time.Second, time.Millisecond)
}

func TestEventLoop_QueueInLoopFromOtherGoroutine(t *testing.T) {
	loop, stop := runLoop(t)
	defer stop()

	var wg sync.WaitGroup
	var counter int64
	const n = 10000

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			loop.QueueInLoop(func() { atomic.AddInt64(&counter, 1) })
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return atomic.LoadInt64(&counter) == n }, 2*time.Second, time.Millisecond)
}

func TestEventLoop_QuitFromNonOwner(t *testing.T) {
	loop, _ := runLoop(t)

	assert.False(t, loop.IsInLoopThread())
	loop.Quit()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&loop.looping) == 0 }, time.Second, time.Millisecond)
	loop.Close()
}

func TestEventLoop_RefusesSecondLoopOnSameGoroutine(t *testing.T) {
	if _, ok := goroutineID(); !ok {
		t.Skip("goroutine id not obtainable in this environment")
	}

	loop := NewEventLoop(nil)
	defer loop.Close()

	assert.Panics(t, func() {
		NewEventLoop(nil)
	})
}
