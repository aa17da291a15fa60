package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Limiter decides whether a request is admitted under one tier's policy.
//
// Check never returns an error: when the counter store fails the request is
// admitted (fail-open) and the Decision has FailOpen set.
type Limiter interface {
	Check(ctx context.Context, d Descriptor) Decision
}

// limiterOptions holds the settings shared by both limiters.
type limiterOptions struct {
	clock  Clock
	logger *slog.Logger
}

// LimiterOption configures a limiter.
type LimiterOption func(*limiterOptions)

// WithClock sets the time source. Defaults to time.Now.
func WithClock(c Clock) LimiterOption {
	return func(o *limiterOptions) { o.clock = c }
}

// WithLogger sets the logger used for store failures. Defaults to slog.Default().
func WithLogger(l *slog.Logger) LimiterOption {
	return func(o *limiterOptions) { o.logger = l }
}

func buildOptions(opts []LimiterOption) limiterOptions {
	o := limiterOptions{clock: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// failOpen returns the decision used when the store could not be consulted.
// The request is reported as if it were the first in a fresh window.
func failOpen(p Policy, now int64) Decision {
	return Decision{
		Allowed:   true,
		Limit:     p.MaxRequests,
		Remaining: p.MaxRequests - 1,
		ResetTime: time.UnixMilli(now + p.WindowMillis()),
		FailOpen:  true,
	}
}
