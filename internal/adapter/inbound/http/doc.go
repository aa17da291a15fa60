// Package http is the inbound HTTP adapter of admitgate.
//
// # Endpoints
//
//	GET /health        - Store and runtime health (JSON)
//	GET /metrics       - Prometheus exposition
//	/admin/api/...     - Admin API, when an admin handler is configured
//	/                  - Everything else goes to the upstream handler
//
// # Middleware Chain
//
// Requests pass through middleware in this order:
//
//  1. MetricsMiddleware - Records duration and status
//  2. RequestIDMiddleware - Extracts or generates X-Request-ID and enriches the logger
//  3. RateLimitMiddleware - Resolves the tier and admits or rejects the request
//  4. Mux - Routes to health, metrics, admin or upstream
//
// Paths on the ignore list (by default /health, /metrics, /api/health and
// /api/status) bypass admission entirely.
//
// # Rejections
//
// A rejected request gets status 429 and a JSON body:
//
//	{"error":"Rate limit exceeded","message":"Too many requests. Try again in 55 seconds.","retryAfter":55}
//
// with X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset (epoch
// milliseconds) and Retry-After (seconds) headers. Admitted responses carry
// the X-RateLimit-* headers too unless they are disabled.
//
// # Client Identity
//
// The client IP is the first X-Forwarded-For entry, then X-Real-IP, then the
// connection's remote address. X-User-ID is only read when the gateway is
// configured to trust it.
package http
