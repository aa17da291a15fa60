package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/admitgate/internal/adapter/inbound/admin"
	httptransport "github.com/Sentinel-Gate/admitgate/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/admitgate/internal/adapter/inbound/httpgw"
	"github.com/Sentinel-Gate/admitgate/internal/adapter/outbound/cel"
	"github.com/Sentinel-Gate/admitgate/internal/adapter/outbound/fallback"
	"github.com/Sentinel-Gate/admitgate/internal/adapter/outbound/telemetry"
	"github.com/Sentinel-Gate/admitgate/internal/config"
	"github.com/Sentinel-Gate/admitgate/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/admitgate/internal/service"
)

var devMode bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the admitgate server",
	Long: `Start the admission gateway.

Every request is classified into a tier by path prefix and counted per
client. Requests over their tier limit get 429 with Retry-After. Admitted
requests are forwarded to the first upstream whose path_prefix matches.

Built-in routes:
  /health          Liveness and store status
  /metrics         Prometheus metrics
  /admin/api/...   Admin API (localhost only unless admin.api_key_hash is set)

Examples:
  # Start with defaults (in-memory counters, 127.0.0.1:8080)
  admitgate start

  # Use Redis for counters shared across instances
  REDIS_URL=redis://localhost:6379/0 admitgate start

  # Start with debug logging
  admitgate start --dev`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "enable development mode (debug logging)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), gracefulSignals()...)
	defer stop()

	logger := newLogger(cfg)
	if used := config.ConfigFileUsed(); used != "" {
		logger.Info("loaded config file", "path", used)
	} else {
		logger.Info("no config file found, using defaults and environment")
	}

	pidPath := pidFilePath()
	if pid := readPIDFile(pidPath); pid != 0 && pid != os.Getpid() {
		if proc, err := os.FindProcess(pid); err == nil && processIsAlive(proc) {
			return fmt.Errorf("admitgate is already running (PID %d)", pid)
		}
	}
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	return run(ctx, cfg, logger)
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	tel, err := telemetry.Setup(telemetry.Config{
		Stdout:         cfg.Telemetry.Stdout,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		MetricInterval: config.Duration(cfg.Telemetry.MetricInterval),
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	promRegistry := httptransport.NewRegistry()
	metrics := httptransport.NewMetrics(promRegistry)

	store, err := fallback.NewFromConfig(storeConfig(cfg.Store), logger,
		fallback.WithDegradeHook(func() { metrics.SetStoreDegraded(true) }),
	)
	if err != nil {
		return fmt.Errorf("failed to create counter store: %w", err)
	}
	store.Start(ctx)
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("error closing counter store", "error", err)
		}
	}()

	evaluator, err := cel.NewEvaluator(logger)
	if err != nil {
		return fmt.Errorf("failed to create key expression evaluator: %w", err)
	}
	overrides, err := cfg.RateLimit.PolicyOverrides(evaluator.KeyFunc)
	if err != nil {
		return err
	}
	registry, err := ratelimit.NewRegistry(overrides)
	if err != nil {
		return err
	}
	routes, err := ratelimit.NewRouteTable(cfg.RateLimit.RouteList(), cfg.RateLimit.IgnoreList(), cfg.RateLimit.DefaultTier, registry)
	if err != nil {
		return err
	}
	registry.LogUnusedExemptions(logger)

	stats := service.NewStatsService()
	admission, err := service.NewAdmissionService(registry, routes, store,
		service.WithStats(stats),
		service.WithObserver(metrics),
		service.WithTracer(tel.Tracer()),
		service.WithMeter(tel.Meter()),
		service.WithAdmissionLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create admission service: %w", err)
	}
	invalidation := service.NewInvalidationService(store, metrics, logger)

	proxy := httpgw.NewReverseProxy(logger)
	targets := make([]httpgw.UpstreamTarget, 0, len(cfg.Upstreams))
	for _, u := range cfg.Upstreams {
		targets = append(targets, httpgw.UpstreamTarget{
			Name:        u.Name,
			PathPrefix:  u.PathPrefix,
			Upstream:    u.Upstream,
			StripPrefix: u.StripPrefix,
			Headers:     u.Headers,
		})
	}
	proxy.SetTargets(targets)
	proxy.SetTimeout(config.Duration(cfg.UpstreamTimeout))

	adminHandler := admin.NewAdminAPIHandler(
		admin.WithAdmissionService(admission),
		admin.WithInvalidationService(invalidation),
		admin.WithStatsService(stats),
		admin.WithAPIKeyHash(cfg.Admin.APIKeyHash),
		admin.WithAPILogger(logger),
		admin.WithBuildInfo(&admin.BuildInfo{Version: Version, Commit: Commit, BuildDate: BuildDate}),
		admin.WithStartTime(time.Now()),
	)

	opts := []httptransport.Option{
		httptransport.WithAddr(cfg.Server.HTTPAddr),
		httptransport.WithLogger(logger),
		httptransport.WithMetrics(promRegistry, metrics),
		httptransport.WithHealthChecker(httptransport.NewHealthChecker(store, Version)),
		httptransport.WithAdminHandler(adminHandler.Routes()),
		httptransport.WithRateLimitOptions(httptransport.RateLimitOptions{
			Headers:         cfg.RateLimit.Headers,
			TrustUserHeader: cfg.RateLimit.TrustUserHeader,
		}),
	}
	if len(targets) > 0 {
		opts = append(opts, httptransport.WithUpstreamHandler(proxy))
	}
	if cfg.Server.TLSCertFile != "" && cfg.Server.TLSKeyFile != "" {
		opts = append(opts, httptransport.WithTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile))
	}
	transport := httptransport.NewHTTPTransport(admission, opts...)

	logger.Info("admitgate starting",
		"version", Version,
		"addr", cfg.Server.HTTPAddr,
		"store_mode", store.Mode(),
		"store_state", store.State().String(),
		"tiers", len(registry.Names()),
		"upstreams", len(targets),
		"admin_auth", cfg.Admin.APIKeyHash != "",
	)

	if err := transport.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("admitgate stopped")
	return nil
}
