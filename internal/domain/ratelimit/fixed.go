package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FixedWindowLimiter is the simplified edge algorithm: one counter and one
// expiry timestamp per key, reset wholesale once the window has passed.
//
// It is used while the counter store runs on the process-local backend, so
// every instance of the service enforces its own independent quota.
// Keys always include the user-agent to reduce collisions behind shared IPs.
type FixedWindowLimiter struct {
	tier   string
	policy Policy
	store  CounterStore
	opts   limiterOptions
}

// NewFixedWindowLimiter creates a fixed-window limiter for one tier.
func NewFixedWindowLimiter(tier string, policy Policy, store CounterStore, opts ...LimiterOption) (*FixedWindowLimiter, error) {
	if err := validatePolicy(tier, policy); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("fixed window limiter for tier %q: counter store is required", tier)
	}
	return &FixedWindowLimiter{
		tier:   tier,
		policy: policy,
		store:  store,
		opts:   buildOptions(opts),
	}, nil
}

// fixedRecord is the persisted state of one fixed-window key.
type fixedRecord struct {
	count     int
	expiresAt int64 // ms since epoch
}

// Check counts the request and returns the admission decision.
func (l *FixedWindowLimiter) Check(ctx context.Context, d Descriptor) Decision {
	key := KeyFor(l.tier, l.policy, d, true)
	now := l.opts.clock().UnixMilli()
	maxReq := l.policy.MaxRequests

	var rec fixedRecord
	var allowed bool
	err := Update(ctx, l.store, key, ttlFor(l.policy.Window), func(current []byte, found bool) ([]byte, error) {
		rec = fixedRecord{}
		if found {
			decoded, err := decodeFixed(current)
			if err != nil {
				l.opts.logger.Warn("discarding unreadable fixed window record",
					"tier", l.tier,
					"key", key,
					"error", err,
				)
			} else {
				rec = decoded
			}
		}

		switch {
		case rec.count == 0 || now >= rec.expiresAt:
			rec = fixedRecord{count: 1, expiresAt: now + l.policy.WindowMillis()}
			allowed = true
		case rec.count < maxReq:
			rec.count++
			allowed = true
		default:
			allowed = false
		}
		return rec.encode(), nil
	})
	if err != nil {
		l.opts.logger.Error("rate limit check failed, allowing request",
			"tier", l.tier,
			"key", key,
			"error", err,
		)
		return failOpen(l.policy, now)
	}

	decision := Decision{
		Allowed:   allowed,
		Limit:     maxReq,
		Remaining: max(0, maxReq-rec.count),
		ResetTime: time.UnixMilli(rec.expiresAt),
		TotalHits: rec.count,
	}
	if !allowed {
		decision.Remaining = 0
		decision.RetryAfter = time.Duration(rec.expiresAt-now) * time.Millisecond
	}
	return decision
}

func (r fixedRecord) encode() []byte {
	return []byte(strconv.Itoa(r.count) + ":" + strconv.FormatInt(r.expiresAt, 10))
}

func decodeFixed(data []byte) (fixedRecord, error) {
	countStr, expiresStr, ok := strings.Cut(string(data), ":")
	if !ok {
		return fixedRecord{}, fmt.Errorf("%w: missing separator", ErrInvalidRecord)
	}
	count, err := strconv.Atoi(countStr)
	if err != nil || count < 0 {
		return fixedRecord{}, fmt.Errorf("%w: bad count %q", ErrInvalidRecord, countStr)
	}
	expiresAt, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return fixedRecord{}, fmt.Errorf("%w: bad expiry %q", ErrInvalidRecord, expiresStr)
	}
	return fixedRecord{count: count, expiresAt: expiresAt}, nil
}

var _ Limiter = (*FixedWindowLimiter)(nil)
