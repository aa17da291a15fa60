package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/Sentinel-Gate/admitgate/internal/domain/ratelimit"
)

// healthProbeKey is looked up to exercise the counter store. It is never written.
const healthProbeKey = "admitgate:health:probe"

// healthTimeout bounds the store probe.
const healthTimeout = 2 * time.Second

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// HealthChecker verifies component health.
type HealthChecker struct {
	store   ratelimit.CounterStore
	version string
}

// NewHealthChecker creates a HealthChecker. store may be nil.
func NewHealthChecker(store ratelimit.CounterStore, version string) *HealthChecker {
	return &HealthChecker{store: store, version: version}
}

// Check performs health checks on all components. A degraded counter store
// is reported but does not make the service unhealthy: admission continues
// on the in-memory store.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.store != nil {
		ctx, cancel := context.WithTimeout(ctx, healthTimeout)
		defer cancel()

		if _, err := h.store.Exists(ctx, healthProbeKey); err != nil {
			checks["counter_store"] = "error: " + err.Error()
			healthy = false
		} else if sr, ok := h.store.(ratelimit.StateReporter); ok && sr.Degraded() {
			checks["counter_store"] = "degraded: using in-memory store"
		} else {
			checks["counter_store"] = "ok"
		}
		checks["store_mode"] = string(ratelimit.ModeOf(h.store))
	} else {
		checks["counter_store"] = "not configured"
	}

	// Add Go runtime info
	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable) // 503
		} else {
			w.WriteHeader(http.StatusOK) // 200
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
