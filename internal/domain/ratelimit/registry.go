package ratelimit

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// ErrUnknownTier is returned when a tier name is not registered.
var ErrUnknownTier = errors.New("unknown rate limit tier")

// ConfigError reports an invalid policy. A policy that fails validation is
// never returned to callers.
type ConfigError struct {
	Tier   string
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("rate limit tier %q: %s %s", e.Tier, e.Field, e.Reason)
}

// PolicyOverride carries optional per-tier settings. Nil fields keep the
// tier's default value.
type PolicyOverride struct {
	Window           *time.Duration
	MaxRequests      *int
	SkipSuccessful   *bool
	SkipFailed       *bool
	IncludeUserAgent *bool
	KeyFunc          KeyFunc
}

// defaultPolicies lists the built-in tiers.
func defaultPolicies() map[string]Policy {
	return map[string]Policy{
		TierPublic:   {Window: 15 * time.Minute, MaxRequests: 100},
		TierAuth:     {Window: 15 * time.Minute, MaxRequests: 5},
		TierRealtime: {Window: time.Minute, MaxRequests: 60},
		TierML:       {Window: 5 * time.Minute, MaxRequests: 20},
		TierAdmin:    {Window: 60 * time.Minute, MaxRequests: 100},
	}
}

// DefaultPolicy returns the built-in policy for a tier.
func DefaultPolicy(tier string) (Policy, bool) {
	p, ok := defaultPolicies()[tier]
	return p, ok
}

// NewPolicy validates and returns a policy for the given tier name.
func NewPolicy(tier string, window time.Duration, maxRequests int) (Policy, error) {
	p := Policy{Window: window, MaxRequests: maxRequests}
	if err := validatePolicy(tier, p); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func validatePolicy(tier string, p Policy) error {
	if p.Window <= 0 {
		return &ConfigError{Tier: tier, Field: "window", Reason: "must be positive"}
	}
	if p.Window%time.Millisecond != 0 {
		return &ConfigError{Tier: tier, Field: "window", Reason: "must be a whole number of milliseconds"}
	}
	if p.MaxRequests < 1 {
		return &ConfigError{Tier: tier, Field: "max_requests", Reason: "must be at least 1"}
	}
	return nil
}

// merge applies the override's non-nil fields to base.
func (o PolicyOverride) merge(base Policy) Policy {
	if o.Window != nil {
		base.Window = *o.Window
	}
	if o.MaxRequests != nil {
		base.MaxRequests = *o.MaxRequests
	}
	if o.SkipSuccessful != nil {
		base.SkipSuccessful = *o.SkipSuccessful
	}
	if o.SkipFailed != nil {
		base.SkipFailed = *o.SkipFailed
	}
	if o.IncludeUserAgent != nil {
		base.IncludeUserAgent = *o.IncludeUserAgent
	}
	if o.KeyFunc != nil {
		base.KeyFunc = o.KeyFunc
	}
	return base
}

// Registry is the fixed table of named tiers. It is immutable after
// construction and safe for concurrent use.
type Registry struct {
	policies map[string]Policy
}

// NewRegistry builds a registry from the built-in tiers with the given
// overrides merged on top. An override for a name without a built-in
// default defines a new tier and must set both Window and MaxRequests.
func NewRegistry(overrides map[string]PolicyOverride) (*Registry, error) {
	policies := defaultPolicies()

	for name, o := range overrides {
		if name == "" {
			return nil, &ConfigError{Tier: name, Field: "name", Reason: "must not be empty"}
		}
		if strings.Contains(name, ":") {
			return nil, &ConfigError{Tier: name, Field: "name", Reason: "must not contain ':'"}
		}
		base, ok := policies[name]
		if !ok && (o.Window == nil || o.MaxRequests == nil) {
			return nil, &ConfigError{Tier: name, Field: "window/max_requests", Reason: "are required for a custom tier"}
		}
		policies[name] = o.merge(base)
	}

	for name, p := range policies {
		if err := validatePolicy(name, p); err != nil {
			return nil, err
		}
	}

	return &Registry{policies: policies}, nil
}

// Resolve returns the policy registered under name.
func (r *Registry) Resolve(name string) (Policy, error) {
	p, ok := r.policies[name]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %s", ErrUnknownTier, name)
	}
	return p, nil
}

// ResolveWith returns the named policy with a caller-supplied override
// merged on top. The registry itself is not modified.
func (r *Registry) ResolveWith(name string, o PolicyOverride) (Policy, error) {
	base, err := r.Resolve(name)
	if err != nil {
		return Policy{}, err
	}
	p := o.merge(base)
	if err := validatePolicy(name, p); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Names returns the registered tier names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LogUnusedExemptions warns about tiers that set skip flags. Admission
// happens before the response is known, so those flags have no effect.
func (r *Registry) LogUnusedExemptions(logger *slog.Logger) {
	for _, name := range r.Names() {
		p := r.policies[name]
		if p.SkipSuccessful || p.SkipFailed {
			logger.Warn("skip_successful/skip_failed are not applied by the admission check",
				"tier", name,
				"skip_successful", p.SkipSuccessful,
				"skip_failed", p.SkipFailed,
			)
		}
	}
}
