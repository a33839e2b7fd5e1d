package netloop

// Option configures a Server at construction time, generalizing beyond
// spec.md §6's fixed four-argument constructor for the knobs this
// expanded spec adds (logger, thread count, high-water mark).
type Option func(*Server)

// WithLogger installs the Logger the Server itself logs through. The
// EventLoops and Conns it drives keep logging through the base loop's
// Logger (the one passed to NewEventLoop), which worker loops inherit.
func WithLogger(log Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithThreadNum is equivalent to calling SetThreadNum after
// construction.
func WithThreadNum(n int) Option {
	return func(s *Server) { s.SetThreadNum(n) }
}

// WithHighWaterMark sets the output-buffer high-water mark the Server
// passes to each new connection together with the callback set by
// Server.SetHighWaterMarkCallback; a later SetHighWaterMarkCallback call
// replaces it. Without a Server high-water callback, new connections keep
// the 64 MiB default.
func WithHighWaterMark(n int) Option {
	return func(s *Server) { s.highWaterMark = n }
}

// WithThreadInitCallback is equivalent to calling SetThreadInitCallback
// after construction.
func WithThreadInitCallback(cb ThreadInitCallback) Option {
	return func(s *Server) { s.threadInitCb = cb }
}
