package ratelimit

import (
	"fmt"
	"sort"
	"strings"
)

// Route maps a path prefix to a tier.
type Route struct {
	Prefix string
	Tier   string
}

// DefaultRoutes returns the built-in route table.
func DefaultRoutes() []Route {
	return []Route{
		{Prefix: "/api/auth", Tier: TierAuth},
		{Prefix: "/api/realtime", Tier: TierRealtime},
		{Prefix: "/api/ws", Tier: TierRealtime},
		{Prefix: "/api/ml", Tier: TierML},
		{Prefix: "/api/admin", Tier: TierAdmin},
		{Prefix: "/admin/api", Tier: TierAdmin},
	}
}

// DefaultIgnoreList returns the paths that bypass admission by default.
func DefaultIgnoreList() []string {
	return []string{"/api/health", "/api/status", "/health", "/metrics"}
}

// RouteTable resolves request paths to tiers by longest matching prefix.
// Prefixes match on path segment boundaries: "/api/ml" matches "/api/ml"
// and "/api/ml/predictions" but not "/api/mlops".
type RouteTable struct {
	routes      []Route // sorted by prefix length, longest first
	ignore      []string
	defaultTier string
}

// NewRouteTable builds a route table. Every route tier must be registered
// in the registry, and so must the default tier.
func NewRouteTable(routes []Route, ignore []string, defaultTier string, registry *Registry) (*RouteTable, error) {
	if _, err := registry.Resolve(defaultTier); err != nil {
		return nil, fmt.Errorf("default tier: %w", err)
	}

	sorted := make([]Route, 0, len(routes))
	for _, r := range routes {
		if !strings.HasPrefix(r.Prefix, "/") {
			return nil, fmt.Errorf("route prefix %q must start with '/'", r.Prefix)
		}
		if _, err := registry.Resolve(r.Tier); err != nil {
			return nil, fmt.Errorf("route %q: %w", r.Prefix, err)
		}
		sorted = append(sorted, Route{Prefix: normalizePrefix(r.Prefix), Tier: r.Tier})
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})

	ign := make([]string, 0, len(ignore))
	for _, p := range ignore {
		if !strings.HasPrefix(p, "/") {
			return nil, fmt.Errorf("ignored path %q must start with '/'", p)
		}
		ign = append(ign, normalizePrefix(p))
	}

	return &RouteTable{routes: sorted, ignore: ign, defaultTier: defaultTier}, nil
}

// Resolve returns the tier for path, or ignored=true when the path is on
// the ignore list and must bypass admission entirely.
func (t *RouteTable) Resolve(path string) (tier string, ignored bool) {
	for _, p := range t.ignore {
		if prefixMatch(path, p) {
			return "", true
		}
	}
	for _, r := range t.routes {
		if prefixMatch(path, r.Prefix) {
			return r.Tier, false
		}
	}
	return t.defaultTier, false
}

// DefaultTier returns the tier used for unmatched paths.
func (t *RouteTable) DefaultTier() string {
	return t.defaultTier
}

// Ignored returns the ignored path prefixes.
func (t *RouteTable) Ignored() []string {
	out := make([]string, len(t.ignore))
	copy(out, t.ignore)
	return out
}

// Routes returns the table's routes, longest prefix first.
func (t *RouteTable) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// normalizePrefix strips a trailing slash except for the root prefix.
func normalizePrefix(p string) string {
	if len(p) > 1 {
		return strings.TrimRight(p, "/")
	}
	return p
}

func prefixMatch(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
