package netloop

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID returns the numeric id of the calling goroutine.
//
// Go has no public API for this and no true thread-local storage; unlike
// the OS-thread model spec.md describes, an EventLoop here is pinned to
// the goroutine that created it, not an OS thread. The pack's
// goroutineid module (joeycumines-go-utilpkg/goroutineid) is a bare
// go.mod with no retrievable source, so this uses the standard fallback
// technique such libraries themselves implement: parse the numeric id out
// of the "goroutine N [running]:" header that runtime.Stack always
// writes first. It is used only for the cheap single-loop-per-goroutine
// assertion (invariant 4), the run-in-loop/queue-in-loop fast path and
// the owner-goroutine assertions. If parsing fails, IsInLoopThread
// reports false for every caller: RunInLoop always queues, and every
// assertInLoopThread check fails (Fatalf).
func goroutineID() (id uint64, ok bool) {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	const prefix = "goroutine "
	if !bytes.HasPrefix(b, []byte(prefix)) {
		return 0, false
	}
	b = b[len(prefix):]
	idx := bytes.IndexByte(b, ' ')
	if idx < 0 {
		return 0, false
	}
	v, err := strconv.ParseUint(string(b[:idx]), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
