package ratelimit

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// unknownIP is used when the transport could not determine a client address.
const unknownIP = "unknown"

// keyEscaper percent-escapes the separator inside the ip and path
// components. Tier names cannot contain the separator, so distinct
// (tier, ip, path) triples never produce the same key.
var keyEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// GenerateKey returns the counting key for a tier and request.
// Format: "{tier}:{ip}:{path}" or "{tier}:{ip}:{path}:ua={hash}" when the
// user-agent is included. The user-agent is reduced to a 64-bit xxhash so
// keys stay short and glob-friendly. Colons in IPv6 addresses are escaped
// as %3A.
//
// Examples:
//   - GenerateKey("public", {IP: "10.0.0.1", Path: "/api/items"}, false) -> "public:10.0.0.1:/api/items"
//   - GenerateKey("auth", {IP: "10.0.0.1", Path: "/api/auth/login", UserAgent: "curl/8"}, true) -> "auth:10.0.0.1:/api/auth/login:ua=..."
func GenerateKey(tier string, d Descriptor, includeUserAgent bool) string {
	ip := d.IP
	if ip == "" {
		ip = unknownIP
	}
	path := d.Path
	if path == "" {
		path = "/"
	}

	var b strings.Builder
	b.Grow(len(tier) + len(ip) + len(path) + 24)
	b.WriteString(tier)
	b.WriteByte(':')
	b.WriteString(keyEscaper.Replace(ip))
	b.WriteByte(':')
	b.WriteString(keyEscaper.Replace(path))
	if includeUserAgent {
		b.WriteString(":ua=")
		b.WriteString(userAgentHash(d.UserAgent))
	}
	return b.String()
}

// KeyFor returns the counting key for a request under the given policy.
// A policy KeyFunc takes precedence over the default composition.
func KeyFor(tier string, p Policy, d Descriptor, forceUserAgent bool) string {
	if p.KeyFunc != nil {
		return p.KeyFunc(tier, d)
	}
	return GenerateKey(tier, d, p.IncludeUserAgent || forceUserAgent)
}

func userAgentHash(ua string) string {
	return strconv.FormatUint(xxhash.Sum64String(ua), 16)
}
