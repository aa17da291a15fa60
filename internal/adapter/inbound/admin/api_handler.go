// Package admin provides the JSON admin API for the admission gateway:
// counter store inspection and invalidation, tier listing, decision
// statistics and system information.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Sentinel-Gate/admitgate/internal/service"
)

// AdminAPIHandler provides JSON API endpoints for the operational dashboard.
type AdminAPIHandler struct {
	admissionService    *service.AdmissionService
	invalidationService *service.InvalidationService
	statsService        *service.StatsService
	apiKeyHash          string
	buildInfo           *BuildInfo
	logger              *slog.Logger
	startTime           time.Time
}

// AdminAPIOption configures an AdminAPIHandler dependency.
type AdminAPIOption func(*AdminAPIHandler)

// WithAdmissionService sets the admission service used to list tiers.
func WithAdmissionService(s *service.AdmissionService) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.admissionService = s }
}

// WithInvalidationService sets the counter store inspection service.
func WithInvalidationService(s *service.InvalidationService) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.invalidationService = s }
}

// WithStatsService sets the stats service for decision counters.
func WithStatsService(s *service.StatsService) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.statsService = s }
}

// WithAPIKeyHash requires a bearer key matching the Argon2id hash on every
// request. Without it the API only answers loopback clients.
func WithAPIKeyHash(hash string) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.apiKeyHash = hash }
}

// WithAPILogger sets the logger.
func WithAPILogger(l *slog.Logger) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.logger = l }
}

// WithBuildInfo sets the build version information.
func WithBuildInfo(info *BuildInfo) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.buildInfo = info }
}

// WithStartTime sets the server start time for uptime calculation.
func WithStartTime(t time.Time) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.startTime = t }
}

// NewAdminAPIHandler creates a new AdminAPIHandler with the given options.
func NewAdminAPIHandler(opts ...AdminAPIOption) *AdminAPIHandler {
	h := &AdminAPIHandler{
		logger:    slog.Default(),
		startTime: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns an http.Handler with all admin API routes registered.
// Every route goes through the auth middleware.
func (h *AdminAPIHandler) Routes() http.Handler {
	mux := http.NewServeMux()

	// Counter store inspection and invalidation.
	mux.HandleFunc("GET /admin/api/ratelimit/stats", h.handleStoreStats)
	mux.HandleFunc("GET /admin/api/ratelimit/keys", h.handleListKeys)
	mux.HandleFunc("DELETE /admin/api/ratelimit/keys", h.handleDeleteKeys)
	mux.HandleFunc("GET /admin/api/ratelimit/tiers", h.handleListTiers)

	// Decision counters and system info.
	mux.HandleFunc("GET /admin/api/stats", h.handleGetStats)
	mux.HandleFunc("GET /admin/api/system", h.handleSystemInfo)

	return securityHeadersMiddleware(h.adminAuthMiddleware(mux))
}

// --- JSON helper methods ---

// respondJSON writes a JSON response with the given status code and data.
func (h *AdminAPIHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response with the given status code and message.
func (h *AdminAPIHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
