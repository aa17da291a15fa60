package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"time"
)

// SlidingWindowLimiter admits requests by counting the timestamps of
// previous requests that are still inside the trailing window.
//
// Every check writes the updated hit list back to the store, including
// denied ones, so the window keeps decaying for future checks. The stored
// list is capped at MaxRequests+1 entries, which is enough to reproduce
// every decision the uncapped list would make.
type SlidingWindowLimiter struct {
	tier   string
	policy Policy
	store  CounterStore
	opts   limiterOptions
}

// NewSlidingWindowLimiter creates a sliding-window limiter for one tier.
func NewSlidingWindowLimiter(tier string, policy Policy, store CounterStore, opts ...LimiterOption) (*SlidingWindowLimiter, error) {
	if err := validatePolicy(tier, policy); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("sliding window limiter for tier %q: counter store is required", tier)
	}
	return &SlidingWindowLimiter{
		tier:   tier,
		policy: policy,
		store:  store,
		opts:   buildOptions(opts),
	}, nil
}

// Check counts the request and returns the admission decision.
func (l *SlidingWindowLimiter) Check(ctx context.Context, d Descriptor) Decision {
	key := KeyFor(l.tier, l.policy, d, false)
	now := l.opts.clock().UnixMilli()
	windowMs := l.policy.WindowMillis()
	windowStart := now - windowMs
	maxReq := l.policy.MaxRequests

	var hits []int64
	err := Update(ctx, l.store, key, ttlFor(l.policy.Window), func(current []byte, found bool) ([]byte, error) {
		hits = nil
		if found {
			decoded, err := decodeHits(current)
			if err != nil {
				l.opts.logger.Warn("discarding unreadable sliding window record",
					"tier", l.tier,
					"key", key,
					"error", err,
				)
			} else {
				hits = decoded
			}
		}
		hits = recordHit(hits, windowStart, now, maxReq+1)
		return json.Marshal(hits)
	})
	if err != nil {
		l.opts.logger.Error("rate limit check failed, allowing request",
			"tier", l.tier,
			"key", key,
			"error", err,
		)
		return failOpen(l.policy, now)
	}

	total := len(hits)
	decision := Decision{
		Allowed:   total <= maxReq,
		Limit:     maxReq,
		Remaining: max(0, maxReq-total),
		TotalHits: total,
	}
	if decision.Allowed {
		decision.ResetTime = time.UnixMilli(hits[0] + windowMs)
	} else {
		// The next request is admitted once all but maxReq-1 retained hits
		// have left the window.
		resetMs := hits[total-maxReq] + windowMs
		decision.ResetTime = time.UnixMilli(resetMs)
		decision.RetryAfter = time.Duration(resetMs-now) * time.Millisecond
	}
	return decision
}

// recordHit drops hits at or before windowStart, inserts now in order and
// keeps at most limit of the newest entries.
func recordHit(hits []int64, windowStart, now int64, limit int) []int64 {
	retained := hits[:0]
	for _, h := range hits {
		if h > windowStart {
			retained = append(retained, h)
		}
	}

	// Concurrent writers may have stored a hit newer than our clock reading.
	idx := sort.Search(len(retained), func(i int) bool { return retained[i] > now })
	retained = slices.Insert(retained, idx, now)

	if over := len(retained) - limit; over > 0 {
		retained = retained[over:]
	}
	return retained
}

func decodeHits(data []byte) ([]int64, error) {
	var hits []int64
	if err := json.Unmarshal(data, &hits); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if !sort.SliceIsSorted(hits, func(i, j int) bool { return hits[i] < hits[j] }) {
		sort.Slice(hits, func(i, j int) bool { return hits[i] < hits[j] })
	}
	return hits, nil
}

var _ Limiter = (*SlidingWindowLimiter)(nil)
