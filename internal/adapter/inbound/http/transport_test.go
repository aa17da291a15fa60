package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Sentinel-Gate/admitgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/admitgate/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/admitgate/internal/service"
)

// markerHandler returns an http.Handler that writes a specific marker string.
// Used in routing tests to verify which handler received the request.
func markerHandler(marker string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Handler", marker)
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, marker)
	})
}

// newTestTransport builds a transport whose admission service shares the
// transport's metrics.
func newTestTransport(t *testing.T, overrides map[string]ratelimit.PolicyOverride, opts ...Option) (*HTTPTransport, *Metrics) {
	t.Helper()

	reg := NewRegistry()
	metrics := NewMetrics(reg)

	registry, err := ratelimit.NewRegistry(overrides)
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}
	routes, err := ratelimit.NewRouteTable(ratelimit.DefaultRoutes(), ratelimit.DefaultIgnoreList(), ratelimit.TierPublic, registry)
	if err != nil {
		t.Fatalf("NewRouteTable() error: %v", err)
	}
	store := memory.NewCounterStore()
	admission, err := service.NewAdmissionService(registry, routes, store,
		service.WithObserver(metrics),
		service.WithAdmissionLogger(discardLogger()),
	)
	if err != nil {
		t.Fatalf("NewAdmissionService() error: %v", err)
	}

	opts = append([]Option{
		WithLogger(discardLogger()),
		WithMetrics(reg, metrics),
		WithHealthChecker(NewHealthChecker(store, "test")),
	}, opts...)
	return NewHTTPTransport(admission, opts...), metrics
}

func TestHTTPTransport_Routing(t *testing.T) {
	transport, _ := newTestTransport(t, nil,
		WithAdminHandler(markerHandler("admin")),
		WithUpstreamHandler(markerHandler("upstream")),
	)
	srv := httptest.NewServer(transport.Handler())
	defer srv.Close()

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/admin/api/ratelimit/stats", http.StatusOK, "admin"},
		{"/api/products", http.StatusOK, "upstream"},
		{"/", http.StatusOK, "upstream"},
		{"/health", http.StatusOK, `"status":"healthy"`},
		{"/metrics", http.StatusOK, "admitgate_"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("GET %s: %v", tt.path, err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if !strings.Contains(string(body), tt.wantBody) {
				t.Errorf("body %q does not contain %q", body, tt.wantBody)
			}
			if resp.Header.Get("X-Request-ID") == "" {
				t.Error("X-Request-ID missing")
			}
		})
	}
}

func TestHTTPTransport_DefaultUpstreamIs404(t *testing.T) {
	transport, _ := newTestTransport(t, nil)

	rec := httptest.NewRecorder()
	transport.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nothing/here", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"error":"Not found"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHTTPTransport_RateLimitsAndRecordsMetrics(t *testing.T) {
	transport, metrics := newTestTransport(t, map[string]ratelimit.PolicyOverride{
		ratelimit.TierAuth: {MaxRequests: ptr(2)},
	}, WithUpstreamHandler(markerHandler("upstream")))
	handler := transport.Handler()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = "198.51.100.1:999"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != 429 {
		t.Fatalf("status codes = %v, want [200 200 429]", codes)
	}

	if got := testutil.ToFloat64(metrics.DecisionsTotal.WithLabelValues("auth", "allowed")); got != 2 {
		t.Errorf("decisions_total{auth,allowed} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.DecisionsTotal.WithLabelValues("auth", "denied")); got != 1 {
		t.Errorf("decisions_total{auth,denied} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("POST", "limited")); got != 1 {
		t.Errorf("requests_total{POST,limited} = %v, want 1", got)
	}
}

func TestHTTPTransport_StartAndShutdown(t *testing.T) {
	transport, _ := newTestTransport(t, nil, WithAddr("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- transport.Start(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	addr := transport.Addr(waitCtx)
	if addr == nil {
		t.Fatal("server did not start listening")
	}

	resp, err := http.Get("http://" + addr.String() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() returned %v after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}

func TestHTTPTransport_CloseWithoutStart(t *testing.T) {
	transport, _ := newTestTransport(t, nil)
	if err := transport.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}
