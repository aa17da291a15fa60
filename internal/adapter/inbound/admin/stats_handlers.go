package admin

import (
	"net/http"

	"github.com/Sentinel-Gate/admitgate/internal/service"
)

// StatsResponse is the JSON response for GET /admin/api/stats.
type StatsResponse struct {
	Allowed  int64                        `json:"allowed"`
	Denied   int64                        `json:"denied"`
	FailOpen int64                        `json:"fail_open"`
	Bypassed int64                        `json:"bypassed"`
	Tiers    map[string]service.TierStats `json:"tiers"`
}

// handleGetStats returns the admission decision counters since start.
func (h *AdminAPIHandler) handleGetStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{}

	if h.statsService != nil {
		stats := h.statsService.GetStats()
		resp.Allowed = stats.Allowed
		resp.Denied = stats.Denied
		resp.FailOpen = stats.FailOpen
		resp.Bypassed = stats.Bypassed
		resp.Tiers = stats.Tiers
	}

	// Ensure maps are never null in JSON output.
	if resp.Tiers == nil {
		resp.Tiers = make(map[string]service.TierStats)
	}

	h.respondJSON(w, http.StatusOK, resp)
}
