package netloop

import (
	"github.com/joeycumines/logiface"
)

// LogifaceLogger adapts a github.com/joeycumines/logiface Logger to the
// netloop.Logger interface. Constructed with NewLogifaceLogger, typically
// wired to a zerolog-backed logiface.Logger by the process entry point
// (see cmd/echo); the core package itself never imports zerolog.
type LogifaceLogger[E logiface.Event] struct {
	l *logiface.Logger[E]
}

// NewLogifaceLogger wraps an existing *logiface.Logger[E].
func NewLogifaceLogger[E logiface.Event](l *logiface.Logger[E]) *LogifaceLogger[E] {
	return &LogifaceLogger[E]{l: l}
}

func (a *LogifaceLogger[E]) Tracef(format string, args ...interface{}) {
	a.l.Trace().Logf(format, args...)
}

func (a *LogifaceLogger[E]) Debugf(format string, args ...interface{}) {
	a.l.Debug().Logf(format, args...)
}

func (a *LogifaceLogger[E]) Infof(format string, args ...interface{}) {
	a.l.Info().Logf(format, args...)
}

func (a *LogifaceLogger[E]) Errorf(format string, args ...interface{}) {
	a.l.Err().Logf(format, args...)
}

// Fatalf logs at the Emergency level (logiface's analogue of spec.md's
// FATAL) and panics; it never calls os.Exit.
func (a *LogifaceLogger[E]) Fatalf(format string, args ...interface{}) {
	a.l.Emerg().Logf(format, args...)
	panic("netloop: fatal error, see log")
}
