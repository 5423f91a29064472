package docevent

import "log/slog"

// publisherOptions holds configuration for a Publisher (unexported).
type publisherOptions struct {
	logger          *slog.Logger
	tracingEnabled  bool
	metricsEnabled  bool
	recoveryEnabled bool
	retryJitter     float64
}

// Option is an option function for Publisher configuration.
type Option func(*publisherOptions)

// WithLogger sets a custom logger for the publisher.
func WithLogger(l *slog.Logger) Option {
	return func(o *publisherOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTracing enables/disables OpenTelemetry tracing for publish calls.
// Default is true.
func WithTracing(enabled bool) Option {
	return func(o *publisherOptions) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables/disables OpenTelemetry metrics. Default is true.
func WithMetrics(enabled bool) Option {
	return func(o *publisherOptions) {
		o.metricsEnabled = enabled
	}
}

// WithRecovery enables/disables panic recovery in handlers. Default is
// true; disable only in tests that want panics to surface.
func WithRecovery(enabled bool) Option {
	return func(o *publisherOptions) {
		o.recoveryEnabled = enabled
	}
}

// WithRetryJitter spreads retry backoff delays by up to +/- factor
// (0 to 1) to prevent synchronized retries across concurrent publishes.
// Default is 0: delays follow the policy's curve exactly.
func WithRetryJitter(factor float64) Option {
	return func(o *publisherOptions) {
		if factor >= 0 && factor <= 1 {
			o.retryJitter = factor
		}
	}
}

// newPublisherOptions creates options with defaults and applies opts.
func newPublisherOptions(opts ...Option) *publisherOptions {
	o := &publisherOptions{
		logger:          slog.Default(),
		tracingEnabled:  true,
		metricsEnabled:  true,
		recoveryEnabled: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
