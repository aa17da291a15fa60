package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Sentinel-Gate/admitgate/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/admitgate/internal/service"
)

// Rate limit response headers.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Admitter decides admission for one request.
type Admitter interface {
	Check(ctx context.Context, d ratelimit.Descriptor) service.Outcome
}

// RateLimitOptions configures RateLimitMiddleware.
type RateLimitOptions struct {
	// Headers adds X-RateLimit-* headers to admitted responses. Rejected
	// responses always carry them.
	Headers bool

	// TrustUserHeader reads the user id from X-User-ID.
	TrustUserHeader bool
}

// rateLimitBody is the JSON body of a 429 response.
type rateLimitBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

// RateLimitMiddleware admits or rejects each request. Ignored paths and
// admitted requests reach next unchanged; rejected ones get a 429 JSON body.
func RateLimitMiddleware(admitter Admitter, opts RateLimitOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			out := admitter.Check(r.Context(), DescriptorFromRequest(r, opts.TrustUserHeader))
			if out.Ignored {
				next.ServeHTTP(w, r)
				return
			}

			if out.Decision.Allowed {
				if opts.Headers {
					setRateLimitHeaders(w.Header(), out.Decision)
				}
				next.ServeHTTP(w, r)
				return
			}

			LoggerFromContext(r.Context()).Info("request rejected by rate limit",
				"tier", out.Tier,
				"path", r.URL.Path,
				"retry_after", out.Decision.RetryAfterSeconds(),
			)
			writeRateLimited(w, out.Decision)
		})
	}
}

func setRateLimitHeaders(h http.Header, d ratelimit.Decision) {
	h.Set(HeaderLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(max(0, d.Remaining)))
	if !d.ResetTime.IsZero() {
		h.Set(HeaderReset, strconv.FormatInt(d.ResetTime.UnixMilli(), 10))
	}
}

func writeRateLimited(w http.ResponseWriter, d ratelimit.Decision) {
	retryAfter := d.RetryAfterSeconds()

	setRateLimitHeaders(w.Header(), d)
	w.Header().Set(HeaderRetryAfter, strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	_ = json.NewEncoder(w).Encode(rateLimitBody{
		Error:      "Rate limit exceeded",
		Message:    fmt.Sprintf("Too many requests. Try again in %d seconds.", retryAfter),
		RetryAfter: retryAfter,
	})
}
