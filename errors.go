package netloop

import "errors"

// Sentinel errors for recoverable, non-fatal conditions. Programming
// errors (duplicate loop per OS thread/goroutine, wakeup descriptor
// creation failure, poller creation failure, nil base loop) are not
// represented here: they go through Logger.Fatalf and panic, since they
// indicate a bug rather than a runtime condition a caller can recover
// from.
var (
	// ErrServerStopped is returned by Start when a Server's Close has
	// already run.
	ErrServerStopped = errors.New("netloop: server already stopped")

	// ErrNoBackend is returned at startup when no demultiplexer backend
	// is available for the running platform.
	ErrNoBackend = errors.New("netloop: no poller backend available on this platform")
)
