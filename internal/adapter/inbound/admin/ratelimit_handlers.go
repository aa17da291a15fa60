package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Sentinel-Gate/admitgate/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/admitgate/internal/service"
)

// defaultKeyListLimit caps GET /admin/api/ratelimit/keys without ?limit=.
const defaultKeyListLimit = 100

// KeyListResponse is the JSON response for GET /admin/api/ratelimit/keys.
type KeyListResponse struct {
	Pattern   string   `json:"pattern"`
	Keys      []string `json:"keys"`
	Total     int      `json:"total"`
	Truncated bool     `json:"truncated"`
}

// DeleteKeysResponse is the JSON response for DELETE /admin/api/ratelimit/keys.
type DeleteKeysResponse struct {
	Pattern string `json:"pattern"`
	Deleted int    `json:"deleted"`
}

// TiersResponse is the JSON response for GET /admin/api/ratelimit/tiers.
type TiersResponse struct {
	Mode  ratelimit.StoreMode `json:"mode"`
	Tiers []service.TierInfo  `json:"tiers"`
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

// handleStoreStats returns the key count and a sample of keys.
func (h *AdminAPIHandler) handleStoreStats(w http.ResponseWriter, r *http.Request) {
	if h.invalidationService == nil {
		h.respondError(w, http.StatusServiceUnavailable, "counter store not configured")
		return
	}
	sample, err := queryInt(r, "sample", service.DefaultSampleSize)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.invalidationService.Stats(r.Context(), sample)
	if err != nil {
		h.logger.Error("failed to read counter store stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to read counter store stats")
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}

// handleListKeys lists keys matching ?pattern= (default "*").
func (h *AdminAPIHandler) handleListKeys(w http.ResponseWriter, r *http.Request) {
	if h.invalidationService == nil {
		h.respondError(w, http.StatusServiceUnavailable, "counter store not configured")
		return
	}
	limit, err := queryInt(r, "limit", defaultKeyListLimit)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "*"
	}

	keys, total, err := h.invalidationService.ListKeys(r.Context(), pattern, limit)
	if err != nil {
		h.logger.Error("failed to list counter keys", "pattern", pattern, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list keys")
		return
	}
	if keys == nil {
		keys = []string{}
	}

	h.respondJSON(w, http.StatusOK, KeyListResponse{
		Pattern:   pattern,
		Keys:      keys,
		Total:     total,
		Truncated: len(keys) < total,
	})
}

// handleDeleteKeys deletes every key matching ?pattern=. The pattern is
// required so that a bare DELETE cannot wipe the store.
func (h *AdminAPIHandler) handleDeleteKeys(w http.ResponseWriter, r *http.Request) {
	if h.invalidationService == nil {
		h.respondError(w, http.StatusServiceUnavailable, "counter store not configured")
		return
	}
	pattern := r.URL.Query().Get("pattern")

	deleted, err := h.invalidationService.DeleteByPattern(r.Context(), pattern)
	if errors.Is(err, service.ErrEmptyPattern) {
		h.respondError(w, http.StatusBadRequest, "pattern query parameter is required")
		return
	}
	if err != nil {
		h.logger.Error("failed to delete counter keys", "pattern", pattern, "deleted", deleted, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to delete keys")
		return
	}

	h.respondJSON(w, http.StatusOK, DeleteKeysResponse{Pattern: pattern, Deleted: deleted})
}

// handleListTiers returns the effective policy of every tier.
func (h *AdminAPIHandler) handleListTiers(w http.ResponseWriter, r *http.Request) {
	if h.admissionService == nil {
		h.respondError(w, http.StatusServiceUnavailable, "admission service not configured")
		return
	}
	h.respondJSON(w, http.StatusOK, TiersResponse{
		Mode:  h.admissionService.Mode(),
		Tiers: h.admissionService.Tiers(),
	})
}
