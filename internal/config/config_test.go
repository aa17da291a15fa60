package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/Sentinel-Gate/admitgate/internal/domain/ratelimit"
)

func ptr[T any](v T) *T { return &v }

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.setDefaults(viper.New())

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:8080")
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Store.Backend != "auto" {
		t.Errorf("Store.Backend = %q, want auto", cfg.Store.Backend)
	}
	if cfg.Store.Prefix != "admitgate:" {
		t.Errorf("Store.Prefix = %q, want admitgate:", cfg.Store.Prefix)
	}
	if cfg.Store.MaxRetries != 1 {
		t.Errorf("Store.MaxRetries = %d, want 1", cfg.Store.MaxRetries)
	}
	if !cfg.RateLimit.Headers {
		t.Error("RateLimit.Headers should default to true")
	}
	if cfg.RateLimit.DefaultTier != ratelimit.TierPublic {
		t.Errorf("DefaultTier = %q, want public", cfg.RateLimit.DefaultTier)
	}
	if cfg.UpstreamTimeout != "30s" {
		t.Errorf("UpstreamTimeout = %q, want 30s", cfg.UpstreamTimeout)
	}
	if cfg.Telemetry.ServiceName != "admitgate" {
		t.Errorf("Telemetry.ServiceName = %q, want admitgate", cfg.Telemetry.ServiceName)
	}
}

func TestConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server: ServerConfig{HTTPAddr: ":9090"},
		Store:  StoreConfig{Backend: "ephemeral", ReadTimeout: "1s"},
		RateLimit: RateLimitConfig{
			DefaultTier: ratelimit.TierAuth,
		},
	}
	cfg.setDefaults(viper.New())

	if cfg.Server.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr was overwritten: got %q", cfg.Server.HTTPAddr)
	}
	if cfg.Store.Backend != "ephemeral" || cfg.Store.ReadTimeout != "1s" {
		t.Errorf("Store was overwritten: %+v", cfg.Store)
	}
	if cfg.RateLimit.DefaultTier != ratelimit.TierAuth {
		t.Errorf("DefaultTier was overwritten: got %q", cfg.RateLimit.DefaultTier)
	}
}

func TestConfig_SetDefaults_ExplicitFalseHeaders(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.Set("rate_limit.headers", false)
	v.Set("store.max_retries", 0)

	var cfg Config
	cfg.setDefaults(v)

	if cfg.RateLimit.Headers {
		t.Error("explicit headers: false must not be replaced by the default")
	}
	if cfg.Store.MaxRetries != 0 {
		t.Errorf("explicit max_retries: 0 was overwritten with %d", cfg.Store.MaxRetries)
	}
}

func TestConfig_SetDevDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{DevMode: true, Server: ServerConfig{LogLevel: "warn"}}
	cfg.SetDevDefaults()
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug in dev mode", cfg.Server.LogLevel)
	}

	cfg = Config{Server: ServerConfig{LogLevel: "warn"}}
	cfg.SetDevDefaults()
	if cfg.Server.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn outside dev mode", cfg.Server.LogLevel)
	}
}

func TestRateLimitConfig_PolicyOverrides(t *testing.T) {
	t.Parallel()

	rl := RateLimitConfig{Tiers: map[string]TierConfig{
		"auth":    {MaxRequests: ptr(3)},
		"partner": {Window: "1m", MaxRequests: ptr(500), IncludeUserAgent: ptr(true), KeyExpression: `"p:" + ip`},
	}}

	var compiled []string
	compile := func(expr string) (ratelimit.KeyFunc, error) {
		compiled = append(compiled, expr)
		return func(string, ratelimit.Descriptor) string { return "fixed" }, nil
	}

	overrides, err := rl.PolicyOverrides(compile)
	if err != nil {
		t.Fatalf("PolicyOverrides() error: %v", err)
	}

	auth := overrides["auth"]
	if auth.Window != nil || auth.MaxRequests == nil || *auth.MaxRequests != 3 || auth.KeyFunc != nil {
		t.Errorf("auth override = %+v", auth)
	}
	partner := overrides["partner"]
	if partner.Window == nil || *partner.Window != time.Minute {
		t.Errorf("partner window = %v, want 1m", partner.Window)
	}
	if partner.KeyFunc == nil || partner.KeyFunc("partner", ratelimit.Descriptor{}) != "fixed" {
		t.Error("partner key function not wired")
	}
	if len(compiled) != 1 || compiled[0] != `"p:" + ip` {
		t.Errorf("compiled = %v", compiled)
	}

	// The overrides must build a registry.
	if _, err := ratelimit.NewRegistry(overrides); err != nil {
		t.Errorf("NewRegistry(overrides) error: %v", err)
	}
}

func TestRateLimitConfig_PolicyOverrides_Errors(t *testing.T) {
	t.Parallel()

	rl := RateLimitConfig{Tiers: map[string]TierConfig{"auth": {KeyExpression: "ip"}}}
	if _, err := rl.PolicyOverrides(nil); err == nil {
		t.Error("expected an error for a key expression without a compiler")
	}

	rl = RateLimitConfig{Tiers: map[string]TierConfig{"auth": {Window: "soon"}}}
	if _, err := rl.PolicyOverrides(nil); err == nil {
		t.Error("expected an error for an unparseable window")
	}

	var empty RateLimitConfig
	overrides, err := empty.PolicyOverrides(nil)
	if err != nil || overrides != nil {
		t.Errorf("PolicyOverrides() on empty config = %v, %v", overrides, err)
	}
}

func TestRateLimitConfig_RoutesAndIgnoreDefaults(t *testing.T) {
	t.Parallel()

	var rl RateLimitConfig
	if got := rl.RouteList(); len(got) != len(ratelimit.DefaultRoutes()) {
		t.Errorf("RouteList() = %v, want built-in routes", got)
	}
	if got := rl.IgnoreList(); len(got) != len(ratelimit.DefaultIgnoreList()) {
		t.Errorf("IgnoreList() = %v, want built-in list", got)
	}

	rl = RateLimitConfig{
		Routes: []RouteConfig{{Prefix: "/v2/login", Tier: "auth"}},
		Ignore: []string{},
	}
	routes := rl.RouteList()
	if len(routes) != 1 || routes[0] != (ratelimit.Route{Prefix: "/v2/login", Tier: "auth"}) {
		t.Errorf("RouteList() = %v", routes)
	}
	if got := rl.IgnoreList(); len(got) != 0 {
		t.Errorf("IgnoreList() = %v, want explicitly empty list", got)
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"500ms", 500 * time.Millisecond},
		{"15m", 15 * time.Minute},
		{"garbage", 0},
	}
	for _, tt := range tests {
		if got := Duration(tt.in); got != tt.want {
			t.Errorf("Duration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "admitgate.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func noConfigFile() string { return "" }

func TestLoad_FileAndEnv(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("ADMITGATE_STORE_REDIS_URL", "")
	t.Setenv("ADMITGATE_SERVER_HTTP_ADDR", "0.0.0.0:9000")

	path := writeConfig(t, `
server:
  http_addr: 127.0.0.1:7000
  log_level: warn
store:
  backend: ephemeral
rate_limit:
  headers: false
  tiers:
    auth:
      max_requests: 3
    partner:
      window: 1m
      max_requests: 500
  routes:
    - prefix: /api/partner
      tier: partner
upstreams:
  - name: app
    path_prefix: /
    upstream: http://localhost:3000
`)

	v := viper.New()
	initViper(v, path, noConfigFile)
	cfg, err := load(v, true)
	if err != nil {
		t.Fatalf("load() error: %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:9000" {
		t.Errorf("HTTPAddr = %q, want env override 0.0.0.0:9000", cfg.Server.HTTPAddr)
	}
	if cfg.Server.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.Server.LogLevel)
	}
	if cfg.RateLimit.Headers {
		t.Error("Headers should be false as configured")
	}
	if got := cfg.RateLimit.Tiers["auth"].MaxRequests; got == nil || *got != 3 {
		t.Errorf("auth max_requests = %v, want 3", got)
	}
	if cfg.RateLimit.Tiers["partner"].Window != "1m" {
		t.Errorf("partner window = %q", cfg.RateLimit.Tiers["partner"].Window)
	}
	if len(cfg.Upstreams) != 1 || cfg.Upstreams[0].Upstream != "http://localhost:3000" {
		t.Errorf("Upstreams = %+v", cfg.Upstreams)
	}
}

func TestLoad_RedisURLFallback(t *testing.T) {
	t.Setenv("ADMITGATE_STORE_REDIS_URL", "")
	t.Setenv("REDIS_URL", "redis://cache.internal:6379/2")

	v := viper.New()
	initViper(v, "", noConfigFile)
	cfg, err := load(v, true)
	if err != nil {
		t.Fatalf("load() error: %v", err)
	}
	if cfg.Store.RedisURL != "redis://cache.internal:6379/2" {
		t.Errorf("RedisURL = %q, want REDIS_URL value", cfg.Store.RedisURL)
	}

	t.Setenv("ADMITGATE_STORE_REDIS_URL", "redis://primary:6379/0")
	v = viper.New()
	initViper(v, "", noConfigFile)
	cfg, err = load(v, true)
	if err != nil {
		t.Fatalf("load() error: %v", err)
	}
	if cfg.Store.RedisURL != "redis://primary:6379/0" {
		t.Errorf("RedisURL = %q, want ADMITGATE_STORE_REDIS_URL to win", cfg.Store.RedisURL)
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("ADMITGATE_STORE_REDIS_URL", "")

	v := viper.New()
	initViper(v, "", noConfigFile)
	cfg, err := load(v, true)
	if err != nil {
		t.Fatalf("load() error: %v", err)
	}
	if cfg.Store.Backend != "auto" || cfg.Store.RedisURL != "" {
		t.Errorf("Store = %+v, want auto with no redis url", cfg.Store)
	}
}

func TestLoad_InvalidConfig(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("ADMITGATE_STORE_REDIS_URL", "")

	path := writeConfig(t, "store:\n  backend: durable\n")
	v := viper.New()
	initViper(v, path, noConfigFile)
	if _, err := load(v, true); err == nil {
		t.Fatal("expected validation error for durable backend without redis url")
	}

	// Raw loading skips validation.
	v = viper.New()
	initViper(v, path, noConfigFile)
	if _, err := load(v, false); err != nil {
		t.Errorf("raw load() error: %v", err)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	v := viper.New()
	initViper(v, filepath.Join(t.TempDir(), "missing.yaml"), noConfigFile)
	if _, err := load(v, true); err == nil {
		t.Error("expected an error for a missing explicit config file")
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths(empty dir) = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_MatchesYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "admitgate.yaml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_MatchesYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "admitgate.yml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_IgnoresNoExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// Simulate the binary: a file named "admitgate" with no extension
	_ = os.WriteFile(filepath.Join(dir, "admitgate"), []byte("\x7fELF binary"), 0755)

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths matched binary = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_PrefersYAMLOverYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "admitgate.yaml")
	ymlPath := filepath.Join(dir, "admitgate.yml")
	_ = os.WriteFile(yamlPath, []byte("server:\n  http_addr: :8080\n"), 0644)
	_ = os.WriteFile(ymlPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != yamlPath {
		t.Errorf("findConfigFileInPaths = %q, want %q (.yaml preferred)", got, yamlPath)
	}
}

