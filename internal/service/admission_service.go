package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sentinel-Gate/admitgate/internal/ctxkey"
	"github.com/Sentinel-Gate/admitgate/internal/domain/ratelimit"
)

// Decision result labels used by stats, metrics and spans.
const (
	ResultAllowed  = "allowed"
	ResultDenied   = "denied"
	ResultFailOpen = "fail_open"
	ResultBypassed = "bypassed"
)

// DecisionObserver receives one call per admission check.
type DecisionObserver interface {
	ObserveDecision(tier, result string, elapsed time.Duration)
}

// Outcome is the result of an admission check.
type Outcome struct {
	// Tier is the resolved tier. Empty when Ignored.
	Tier string

	// Ignored is true when the path bypasses admission entirely.
	Ignored bool

	// Mode is the store mode the decision was made under.
	Mode ratelimit.StoreMode

	Decision ratelimit.Decision
}

// Result returns the label for o.
func (o Outcome) Result() string {
	switch {
	case o.Ignored:
		return ResultBypassed
	case o.Decision.FailOpen:
		return ResultFailOpen
	case o.Decision.Allowed:
		return ResultAllowed
	default:
		return ResultDenied
	}
}

// TierInfo describes a registered tier and the route prefixes bound to it.
type TierInfo struct {
	Name             string   `json:"name"`
	WindowMs         int64    `json:"window_ms"`
	MaxRequests      int      `json:"max_requests"`
	IncludeUserAgent bool     `json:"include_user_agent"`
	CustomKey        bool     `json:"custom_key"`
	Routes           []string `json:"routes"`
	Default          bool     `json:"default,omitempty"`
}

type limiterKey struct {
	tier string
	mode ratelimit.StoreMode
}

// AdmissionOption configures an AdmissionService.
type AdmissionOption func(*AdmissionService)

// WithStats records decisions into stats.
func WithStats(stats *StatsService) AdmissionOption {
	return func(s *AdmissionService) { s.stats = stats }
}

// WithObserver reports every decision to o, typically Prometheus metrics.
func WithObserver(o DecisionObserver) AdmissionOption {
	return func(s *AdmissionService) { s.observer = o }
}

// WithTracer sets the tracer for admission spans. Defaults to a no-op tracer.
func WithTracer(t trace.Tracer) AdmissionOption {
	return func(s *AdmissionService) { s.tracer = t }
}

// WithMeter sets the meter for the OpenTelemetry decision counter.
func WithMeter(m metric.Meter) AdmissionOption {
	return func(s *AdmissionService) { s.meter = m }
}

// WithAdmissionLogger sets the logger. Defaults to slog.Default().
func WithAdmissionLogger(l *slog.Logger) AdmissionOption {
	return func(s *AdmissionService) { s.logger = l }
}

// WithAdmissionClock sets the limiters' time source.
func WithAdmissionClock(c ratelimit.Clock) AdmissionOption {
	return func(s *AdmissionService) { s.clock = c }
}

// AdmissionService resolves a request's tier and asks the limiter that
// matches the current store mode for a decision. Durable stores get the
// sliding window limiter, ephemeral ones the fixed window limiter.
type AdmissionService struct {
	registry *ratelimit.Registry
	routes   *ratelimit.RouteTable
	store    ratelimit.CounterStore
	limiters map[limiterKey]ratelimit.Limiter

	stats     *StatsService
	observer  DecisionObserver
	tracer    trace.Tracer
	meter     metric.Meter
	decisions metric.Int64Counter
	logger    *slog.Logger
	clock     ratelimit.Clock
}

// NewAdmissionService builds limiters for every registered tier in both
// store modes. The limiter set is fixed for the service's lifetime.
func NewAdmissionService(
	registry *ratelimit.Registry,
	routes *ratelimit.RouteTable,
	store ratelimit.CounterStore,
	opts ...AdmissionOption,
) (*AdmissionService, error) {
	s := &AdmissionService{
		registry: registry,
		routes:   routes,
		store:    store,
		limiters: make(map[limiterKey]ratelimit.Limiter),
		tracer:   tracenoop.NewTracerProvider().Tracer(""),
		meter:    metricnoop.NewMeterProvider().Meter(""),
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	decisions, err := s.meter.Int64Counter("admitgate.decisions",
		metric.WithDescription("Admission decisions by tier and result"))
	if err != nil {
		return nil, fmt.Errorf("failed to create decision counter: %w", err)
	}
	s.decisions = decisions

	limiterOpts := []ratelimit.LimiterOption{
		ratelimit.WithClock(s.clock),
		ratelimit.WithLogger(s.logger),
	}
	for _, tier := range registry.Names() {
		policy, err := registry.Resolve(tier)
		if err != nil {
			return nil, err
		}
		sliding, err := ratelimit.NewSlidingWindowLimiter(tier, policy, store, limiterOpts...)
		if err != nil {
			return nil, err
		}
		fixed, err := ratelimit.NewFixedWindowLimiter(tier, policy, store, limiterOpts...)
		if err != nil {
			return nil, err
		}
		s.limiters[limiterKey{tier, ratelimit.ModeDurable}] = sliding
		s.limiters[limiterKey{tier, ratelimit.ModeEphemeral}] = fixed
	}

	return s, nil
}

// Check decides whether the request described by d is admitted. It never
// fails: store errors surface as fail-open decisions.
func (s *AdmissionService) Check(ctx context.Context, d ratelimit.Descriptor) Outcome {
	tier, ignored := s.routes.Resolve(d.Path)
	if ignored {
		out := Outcome{Ignored: true, Decision: ratelimit.Decision{Allowed: true}}
		s.record(ctx, out, 0)
		return out
	}

	ctx, span := s.tracer.Start(ctx, "admission.check",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("admitgate.tier", tier),
			attribute.String("http.request.method", d.Method),
			attribute.String("url.path", d.Path),
		),
	)
	defer span.End()

	start := time.Now()
	mode := ratelimit.ModeOf(s.store)
	limiter, ok := s.limiters[limiterKey{tier, mode}]
	if !ok {
		// Route tables are validated against the registry, so this only
		// happens when the two were built from different configs.
		s.logger.Error("no limiter for tier, admitting request", "tier", tier, "store_mode", mode)
		out := Outcome{Tier: tier, Mode: mode, Decision: ratelimit.Decision{Allowed: true, FailOpen: true}}
		s.record(ctx, out, time.Since(start))
		return out
	}

	out := Outcome{Tier: tier, Mode: mode, Decision: limiter.Check(ctx, d)}
	elapsed := time.Since(start)

	span.SetAttributes(
		attribute.String("admitgate.result", out.Result()),
		attribute.String("admitgate.store_mode", string(mode)),
		attribute.Int("admitgate.remaining", out.Decision.Remaining),
	)
	s.record(ctx, out, elapsed)

	if !out.Decision.Allowed {
		ctxkey.Logger(ctx, s.logger).Debug("request rate limited",
			"tier", tier,
			"ip", d.IP,
			"path", d.Path,
			"retry_after", out.Decision.RetryAfterSeconds(),
		)
	}
	return out
}

func (s *AdmissionService) record(ctx context.Context, out Outcome, elapsed time.Duration) {
	result := out.Result()

	if s.stats != nil {
		switch result {
		case ResultBypassed:
			s.stats.RecordBypass()
		case ResultFailOpen:
			s.stats.RecordFailOpen(out.Tier)
		case ResultAllowed:
			s.stats.RecordAllow(out.Tier)
		default:
			s.stats.RecordDeny(out.Tier)
		}
	}
	if s.observer != nil {
		s.observer.ObserveDecision(out.Tier, result, elapsed)
	}
	s.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", out.Tier),
		attribute.String("result", result),
	))
}

// Mode returns the store mode new checks will run under.
func (s *AdmissionService) Mode() ratelimit.StoreMode {
	return ratelimit.ModeOf(s.store)
}

// Tiers lists the registered tiers with their policies and routes.
func (s *AdmissionService) Tiers() []TierInfo {
	byTier := make(map[string][]string)
	for _, r := range s.routes.Routes() {
		byTier[r.Tier] = append(byTier[r.Tier], r.Prefix)
	}
	defaultTier := s.routes.DefaultTier()

	names := s.registry.Names()
	out := make([]TierInfo, 0, len(names))
	for _, name := range names {
		p, err := s.registry.Resolve(name)
		if err != nil {
			continue
		}
		routes := byTier[name]
		if routes == nil {
			routes = []string{}
		}
		out = append(out, TierInfo{
			Name:             name,
			WindowMs:         p.WindowMillis(),
			MaxRequests:      p.MaxRequests,
			IncludeUserAgent: p.IncludeUserAgent,
			CustomKey:        p.KeyFunc != nil,
			Routes:           routes,
			Default:          name == defaultTier,
		})
	}
	return out
}
