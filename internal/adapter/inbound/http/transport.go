package http

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// HTTPTransport is the inbound adapter that puts admission control in front
// of the upstream handler and serves the health, metrics and admin routes.
type HTTPTransport struct {
	admitter      Admitter
	server        *http.Server
	addr          string
	certFile      string
	keyFile       string
	logger        *slog.Logger
	adminHandler  http.Handler   // Optional admin API handler
	upstream      http.Handler   // Catch-all handler for admitted requests
	healthChecker *HealthChecker // Health check handler
	rateLimitOpts RateLimitOptions

	registry *prometheus.Registry
	metrics  *Metrics

	listening chan struct{}
	boundAddr net.Addr
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
// If not set, the server runs without TLS (plain HTTP).
func WithTLS(certFile, keyFile string) Option {
	return func(t *HTTPTransport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithAdminHandler mounts the admin API under /admin/api/.
func WithAdminHandler(h http.Handler) Option {
	return func(t *HTTPTransport) {
		t.adminHandler = h
	}
}

// WithUpstreamHandler sets the handler that receives admitted requests not
// served by a built-in route. Defaults to a JSON 404.
func WithUpstreamHandler(h http.Handler) Option {
	return func(t *HTTPTransport) {
		t.upstream = h
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *HTTPTransport) {
		t.healthChecker = hc
	}
}

// WithMetrics serves reg on /metrics and records request metrics into m.
// Without it the transport creates its own registry.
func WithMetrics(reg *prometheus.Registry, m *Metrics) Option {
	return func(t *HTTPTransport) {
		t.registry = reg
		t.metrics = m
	}
}

// WithRateLimitOptions configures the admission middleware.
func WithRateLimitOptions(o RateLimitOptions) Option {
	return func(t *HTTPTransport) {
		t.rateLimitOpts = o
	}
}

// NewHTTPTransport creates an HTTP transport that admits requests through admitter.
func NewHTTPTransport(admitter Admitter, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		admitter:      admitter,
		addr:          "127.0.0.1:8080",
		logger:        slog.Default(),
		rateLimitOpts: RateLimitOptions{Headers: true},
		listening:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.registry == nil {
		t.registry = NewRegistry()
		t.metrics = NewMetrics(t.registry)
	}
	if t.upstream == nil {
		t.upstream = notFoundHandler()
	}

	return t
}

// NewRegistry returns a Prometheus registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler builds the full middleware chain and route table.
//
// Middleware order (outermost first):
//  1. MetricsMiddleware - Record duration and status (MUST be outermost to capture full duration)
//  2. RequestID - Extract/generate request ID and enrich logger
//  3. RateLimit - Admission check; ignored paths pass straight through
//  4. Mux - health, metrics, admin API, upstream catch-all
func (t *HTTPTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	if t.healthChecker != nil {
		mux.Handle("/health", t.healthChecker.Handler())
	} else {
		mux.Handle("/health", healthHandler())
	}
	mux.Handle("/metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{
		Registry: t.registry,
	}))
	if t.adminHandler != nil {
		mux.Handle("/admin/api/", t.adminHandler)
	}
	mux.Handle("/", t.upstream)

	var handler http.Handler = mux
	handler = RateLimitMiddleware(t.admitter, t.rateLimitOpts)(handler)
	handler = RequestIDMiddleware(t.logger)(handler)
	handler = MetricsMiddleware(t.metrics)(handler)
	return handler
}

// Start begins accepting HTTP connections.
// It blocks until the context is cancelled or an error occurs.
func (t *HTTPTransport) Start(ctx context.Context) error {
	t.server = &http.Server{
		Addr:              t.addr,
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Configure TLS if certificates provided
	useTLS := t.certFile != "" && t.keyFile != ""
	if useTLS {
		t.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}
	t.boundAddr = ln.Addr()
	close(t.listening)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if useTLS {
			t.logger.Info("starting HTTPS server", "addr", t.boundAddr.String())
			err = t.server.ServeTLS(ln, t.certFile, t.keyFile)
		} else {
			t.logger.Info("starting HTTP server", "addr", t.boundAddr.String())
			err = t.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// Addr returns the bound listen address once the server is listening, or
// nil if ctx ends first.
func (t *HTTPTransport) Addr(ctx context.Context) net.Addr {
	select {
	case <-t.listening:
		return t.boundAddr
	case <-ctx.Done():
		return nil
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (t *HTTPTransport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *HTTPTransport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}

func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}

func notFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":   "Not found",
			"message": "no upstream configured for this path",
		})
	})
}
