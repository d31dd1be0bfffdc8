package master

import "log/slog"

// Options configures an Engine. The zero value, as produced by
// applying no Option, matches original_source's defaults: a
// MAX_REQUEST-sized slot pool of 32, MASTER_REPEATS of 3 transmission
// attempts, and retries enabled.
type Options struct {
	MaxRequests int
	Repeats     uint8
	NoRetries   bool
	Logger      *slog.Logger
}

func defaultOptions() Options {
	return Options{
		MaxRequests: 32,
		Repeats:     3,
		NoRetries:   false,
		Logger:      slog.Default(),
	}
}

// Option mutates an Engine's configuration at construction time.
type Option func(*Options)

// WithMaxRequests sets the size of the pre-allocated pending-request
// pool. Must be a power of two (the pool backs an internal FIFO ring);
// a non-power-of-two value panics at NewEngine, same as ring.New's
// contract.
func WithMaxRequests(n int) Option {
	return func(o *Options) { o.MaxRequests = n }
}

// WithRepeats sets how many times a timed-out request is retransmitted
// before being reported to its caller as timed out. Ignored when
// NoRetries is set.
func WithRepeats(n uint8) Option {
	return func(o *Options) { o.Repeats = n }
}

// WithNoRetries disables retransmission entirely: a request that times
// out is reported to its caller immediately, matching
// original_source's NO_RETRIES=1 build-time switch.
func WithNoRetries(noRetries bool) Option {
	return func(o *Options) { o.NoRetries = noRetries }
}

// WithLogger sets the logger used for protocol exceptions, timeouts,
// and frames discarded because they arrived before the head request
// was transmitted. Parser resyncs are not logged. A nil logger passed here is replaced with slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}
