// Package config provides configuration types for admitgate.
//
// Configuration comes from an optional YAML file plus ADMITGATE_* environment
// variables. Everything has a default: an empty configuration runs the
// built-in tiers and routes on the ephemeral counter store.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/Sentinel-Gate/admitgate/internal/domain/ratelimit"
)

// Config is the top-level configuration for admitgate.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Store selects and tunes the counter store.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// RateLimit configures tiers, routes and response headers.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Upstreams are the reverse proxy targets that receive admitted requests.
	// Optional: without upstreams admitted requests get a JSON 404.
	Upstreams []UpstreamConfig `yaml:"upstreams" mapstructure:"upstreams" validate:"omitempty,dive"`

	// UpstreamTimeout bounds each proxied request (e.g., "30s").
	UpstreamTimeout string `yaml:"upstream_timeout" mapstructure:"upstream_timeout" validate:"omitempty,duration"`

	// Admin configures access to the admin API.
	Admin AdminConfig `yaml:"admin" mapstructure:"admin"`

	// Telemetry configures OpenTelemetry export.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode enables development features (debug logging).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string `yaml:"tls_cert_file" mapstructure:"tls_cert_file" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `yaml:"tls_key_file" mapstructure:"tls_key_file" validate:"required_with=TLSCertFile"`
}

// StoreConfig configures the counter store.
type StoreConfig struct {
	// Backend is "auto", "durable" or "ephemeral".
	// auto uses Redis when RedisURL is set and the in-memory store otherwise.
	// Defaults to "auto".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,store_backend"`

	// RedisURL is the connection string of the durable store
	// (e.g., "redis://localhost:6379/0"). Falls back to $REDIS_URL.
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url" validate:"omitempty,redis_url"`

	// Prefix namespaces every key in Redis. Defaults to "admitgate:".
	Prefix string `yaml:"prefix" mapstructure:"prefix"`

	// ConnectTimeout bounds the first connection attempt. Defaults to "5s".
	ConnectTimeout string `yaml:"connect_timeout" mapstructure:"connect_timeout" validate:"omitempty,duration"`

	// DialTimeout, ReadTimeout and WriteTimeout bound each Redis call.
	DialTimeout  string `yaml:"dial_timeout" mapstructure:"dial_timeout" validate:"omitempty,duration"`
	ReadTimeout  string `yaml:"read_timeout" mapstructure:"read_timeout" validate:"omitempty,duration"`
	WriteTimeout string `yaml:"write_timeout" mapstructure:"write_timeout" validate:"omitempty,duration"`

	// MaxRetries is the go-redis retry budget per command. Defaults to 1.
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries" validate:"min=0"`

	// CleanupInterval is how often the in-memory store sweeps expired keys.
	// Defaults to "1m".
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty,duration"`
}

// RateLimitConfig configures admission control.
type RateLimitConfig struct {
	// Headers controls the informational X-RateLimit-* headers on admitted
	// responses. Rejections always carry them. Defaults to true.
	Headers bool `yaml:"headers" mapstructure:"headers"`

	// TrustUserHeader keys requests by the X-User-ID header when present.
	// Only enable this behind a proxy that sets the header itself.
	TrustUserHeader bool `yaml:"trust_user_header" mapstructure:"trust_user_header"`

	// DefaultTier applies to paths no route matches. Defaults to "public".
	DefaultTier string `yaml:"default_tier" mapstructure:"default_tier"`

	// Tiers overrides built-in tiers or defines new ones.
	Tiers map[string]TierConfig `yaml:"tiers" mapstructure:"tiers" validate:"omitempty,dive"`

	// Routes maps path prefixes to tiers. Defaults to the built-in routes.
	Routes []RouteConfig `yaml:"routes" mapstructure:"routes" validate:"omitempty,dive"`

	// Ignore lists path prefixes that bypass admission entirely.
	// Defaults to /api/health, /api/status, /health and /metrics.
	Ignore []string `yaml:"ignore" mapstructure:"ignore" validate:"omitempty,dive,route_prefix"`
}

// TierConfig overrides one tier. Unset fields keep the built-in value.
type TierConfig struct {
	// Window is the counting window (e.g., "15m").
	Window string `yaml:"window,omitempty" mapstructure:"window" validate:"omitempty,duration"`

	// MaxRequests is the number of requests admitted per window.
	MaxRequests *int `yaml:"max_requests,omitempty" mapstructure:"max_requests" validate:"omitempty,min=1"`

	SkipSuccessful   *bool `yaml:"skip_successful,omitempty" mapstructure:"skip_successful"`
	SkipFailed       *bool `yaml:"skip_failed,omitempty" mapstructure:"skip_failed"`
	IncludeUserAgent *bool `yaml:"include_user_agent,omitempty" mapstructure:"include_user_agent"`

	// KeyExpression is a CEL expression that returns the counter key
	// (e.g., `"team:" + user_id`). An empty result falls back to the default key.
	KeyExpression string `yaml:"key_expression,omitempty" mapstructure:"key_expression"`
}

// RouteConfig maps a path prefix to a tier.
type RouteConfig struct {
	Prefix string `yaml:"prefix" mapstructure:"prefix" validate:"required,route_prefix"`
	Tier   string `yaml:"tier" mapstructure:"tier" validate:"required"`
}

// UpstreamConfig configures a reverse proxy target.
type UpstreamConfig struct {
	// Name is a human-readable name for this target.
	Name string `yaml:"name" mapstructure:"name"`
	// PathPrefix is the URL path prefix to match (e.g., "/api/").
	PathPrefix string `yaml:"path_prefix" mapstructure:"path_prefix" validate:"required,route_prefix"`
	// Upstream is the target URL base (e.g., "http://localhost:3000").
	Upstream string `yaml:"upstream" mapstructure:"upstream" validate:"required,url"`
	// StripPrefix controls whether PathPrefix is stripped before forwarding.
	StripPrefix bool `yaml:"strip_prefix" mapstructure:"strip_prefix"`
	// Headers are additional headers to inject into proxied requests.
	Headers map[string]string `yaml:"headers,omitempty" mapstructure:"headers"`
}

// AdminConfig configures the admin API.
type AdminConfig struct {
	// APIKeyHash is the Argon2id hash of the admin bearer key, as printed by
	// `admitgate hash-key`. When empty the admin API only answers localhost.
	APIKeyHash string `yaml:"api_key_hash,omitempty" mapstructure:"api_key_hash" validate:"omitempty,startswith=$argon2id$"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// Stdout exports spans and metrics to stdout. Defaults to false.
	Stdout bool `yaml:"stdout" mapstructure:"stdout"`

	// ServiceName is the service.name resource attribute. Defaults to "admitgate".
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`

	// MetricInterval is the metric export period. Defaults to "30s".
	MetricInterval string `yaml:"metric_interval" mapstructure:"metric_interval" validate:"omitempty,duration"`
}

// KeyCompiler turns a key expression into a key function.
type KeyCompiler func(expr string) (ratelimit.KeyFunc, error)

// PolicyOverrides converts the tier settings into registry overrides.
// compile is called for tiers with a key expression and may be nil when
// none are configured.
func (c *RateLimitConfig) PolicyOverrides(compile KeyCompiler) (map[string]ratelimit.PolicyOverride, error) {
	if len(c.Tiers) == 0 {
		return nil, nil
	}
	out := make(map[string]ratelimit.PolicyOverride, len(c.Tiers))
	for name, tc := range c.Tiers {
		o := ratelimit.PolicyOverride{
			MaxRequests:      tc.MaxRequests,
			SkipSuccessful:   tc.SkipSuccessful,
			SkipFailed:       tc.SkipFailed,
			IncludeUserAgent: tc.IncludeUserAgent,
		}
		if tc.Window != "" {
			d, err := time.ParseDuration(tc.Window)
			if err != nil {
				return nil, fmt.Errorf("rate_limit.tiers.%s.window: %w", name, err)
			}
			o.Window = &d
		}
		if tc.KeyExpression != "" {
			if compile == nil {
				return nil, fmt.Errorf("rate_limit.tiers.%s.key_expression: no key compiler available", name)
			}
			fn, err := compile(tc.KeyExpression)
			if err != nil {
				return nil, fmt.Errorf("rate_limit.tiers.%s.key_expression: %w", name, err)
			}
			o.KeyFunc = fn
		}
		out[name] = o
	}
	return out, nil
}

// RouteList returns the configured routes, or the built-in routes when none
// are configured.
func (c *RateLimitConfig) RouteList() []ratelimit.Route {
	if len(c.Routes) == 0 {
		return ratelimit.DefaultRoutes()
	}
	routes := make([]ratelimit.Route, 0, len(c.Routes))
	for _, r := range c.Routes {
		routes = append(routes, ratelimit.Route{Prefix: r.Prefix, Tier: r.Tier})
	}
	return routes
}

// IgnoreList returns the configured ignored paths, or the built-in list.
func (c *RateLimitConfig) IgnoreList() []string {
	if c.Ignore == nil {
		return ratelimit.DefaultIgnoreList()
	}
	return c.Ignore
}

// Duration parses a duration that has already passed validation.
// Empty or invalid values return 0, which every consumer treats as "use the default".
func Duration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// SetDevDefaults applies development mode settings.
// These are applied BEFORE validation.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Server.LogLevel = "debug"
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	c.setDefaults(viper.GetViper())
}

func (c *Config) setDefaults(v *viper.Viper) {
	// Server defaults: bind to localhost only.
	// Users who need network access must explicitly set http_addr: ":8080" or "0.0.0.0:8080".
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	// Store defaults
	if c.Store.Backend == "" {
		c.Store.Backend = "auto"
	}
	if c.Store.Prefix == "" {
		c.Store.Prefix = "admitgate:"
	}
	if c.Store.ConnectTimeout == "" {
		c.Store.ConnectTimeout = "5s"
	}
	if c.Store.DialTimeout == "" {
		c.Store.DialTimeout = "2s"
	}
	if c.Store.ReadTimeout == "" {
		c.Store.ReadTimeout = "500ms"
	}
	if c.Store.WriteTimeout == "" {
		c.Store.WriteTimeout = "500ms"
	}
	if !v.IsSet("store.max_retries") && c.Store.MaxRetries == 0 {
		c.Store.MaxRetries = 1
	}
	if c.Store.CleanupInterval == "" {
		c.Store.CleanupInterval = "1m"
	}

	// Rate limit defaults. viper.IsSet distinguishes "not set" from "explicitly false".
	if !v.IsSet("rate_limit.headers") {
		c.RateLimit.Headers = true
	}
	if c.RateLimit.DefaultTier == "" {
		c.RateLimit.DefaultTier = ratelimit.TierPublic
	}

	if c.UpstreamTimeout == "" {
		c.UpstreamTimeout = "30s"
	}

	// Telemetry defaults
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "admitgate"
	}
	if c.Telemetry.MetricInterval == "" {
		c.Telemetry.MetricInterval = "30s"
	}
}
