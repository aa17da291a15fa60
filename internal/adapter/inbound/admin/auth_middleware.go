package admin

import (
	"net"
	"net/http"
	"strings"

	"github.com/Sentinel-Gate/admitgate/internal/domain/auth"
)

// isLocalhost checks if the request originates from a loopback address.
// It parses the host portion from r.RemoteAddr and checks for 127.0.0.1,
// ::1, or localhost. X-Forwarded-For is not trusted here.
func isLocalhost(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return host == "127.0.0.1" || host == "::1" || host == "localhost"
}

// bearerToken returns the token from an "Authorization: Bearer <token>" header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// adminAuthMiddleware enforces admin access.
// Without a configured key hash only loopback clients are served (403
// otherwise; use an SSH tunnel for remote access). With a key hash every
// client, local or not, must present the matching bearer key.
func (h *AdminAPIHandler) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.apiKeyHash == "" {
			if isLocalhost(r) {
				next.ServeHTTP(w, r)
				return
			}
			h.respondError(w, http.StatusForbidden, "admin API requires localhost access")
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="admitgate"`)
			h.respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		match, err := auth.VerifyKey(token, h.apiKeyHash)
		if err != nil {
			h.logger.Error("admin key verification failed", "error", err)
			h.respondError(w, http.StatusInternalServerError, "admin key verification failed")
			return
		}
		if !match {
			w.Header().Set("WWW-Authenticate", `Bearer realm="admitgate", error="invalid_token"`)
			h.respondError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
