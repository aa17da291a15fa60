// Package ratelimit provides the request admission domain: tier policies,
// counting keys, the counter store contract and the two admission algorithms.
package ratelimit

import (
	"time"
)

// Built-in tier names.
const (
	TierPublic   = "public"
	TierAuth     = "auth"
	TierRealtime = "realtime"
	TierML       = "ml"
	TierAdmin    = "admin"
)

// KeyFunc derives a custom counting key for a tier and request.
// Implementations must be deterministic for identical inputs.
type KeyFunc func(tier string, d Descriptor) string

// Policy defines the admission parameters of a tier.
// Policies are only built through NewPolicy or a Registry so the
// window and threshold invariants always hold.
type Policy struct {
	// Window is the trailing time span over which requests are counted.
	// Always positive and a whole number of milliseconds.
	Window time.Duration

	// MaxRequests is the number of requests admitted per window. Always >= 1.
	MaxRequests int

	// SkipSuccessful and SkipFailed are carried from configuration.
	// Admission runs before the response status is known, so the limiters
	// do not consume them.
	SkipSuccessful bool
	SkipFailed     bool

	// IncludeUserAgent adds the client user-agent to the counting key.
	IncludeUserAgent bool

	// KeyFunc overrides the default key composition when set.
	KeyFunc KeyFunc
}

// WindowMillis returns the window length in milliseconds.
func (p Policy) WindowMillis() int64 {
	return p.Window.Milliseconds()
}

// Descriptor describes one inbound request as seen by the admission core.
// It is built once per request by the transport and never modified.
type Descriptor struct {
	IP        string
	Path      string
	Method    string
	UserAgent string
	UserID    string
}

// Decision is the result of one admission check. It is never persisted.
type Decision struct {
	// Allowed indicates whether the request may proceed.
	Allowed bool

	// Limit is the tier's MaxRequests.
	Limit int

	// Remaining is the number of further requests admitted in the window.
	Remaining int

	// ResetTime is when the key's quota next frees up.
	ResetTime time.Time

	// TotalHits is the number of hits retained for the current window,
	// including this one. The sliding limiter retains denied requests but
	// keeps at most MaxRequests+1 timestamps, so under sustained denial it
	// reports MaxRequests+1 rather than every request seen. The
	// fixed-window limiter only counts admitted requests.
	TotalHits int

	// RetryAfter is how long the client should wait before retrying.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration

	// FailOpen is set when the store failed and the request was admitted
	// without accounting.
	FailOpen bool
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds, at least 1.
func (d Decision) RetryAfterSeconds() int {
	secs := ceilSeconds(d.RetryAfter)
	if secs < 1 {
		return 1
	}
	return secs
}

// ceilSeconds rounds a duration up to whole seconds.
func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// Clock returns the current time. Limiters and the ephemeral store take one
// so tests can drive time explicitly.
type Clock func() time.Time
