package ratelimit

import "strings"

// Glob is a compiled key pattern. Only '*' is special and matches any run
// of characters, including none. Every other character matches itself.
type Glob struct {
	pattern string
	parts   []string
}

// CompileGlob compiles a key pattern.
func CompileGlob(pattern string) Glob {
	return Glob{pattern: pattern, parts: strings.Split(pattern, "*")}
}

// String returns the source pattern.
func (g Glob) String() string {
	return g.pattern
}

// Match reports whether s matches the whole pattern.
func (g Glob) Match(s string) bool {
	if len(g.parts) == 1 {
		return s == g.parts[0]
	}

	first := g.parts[0]
	last := g.parts[len(g.parts)-1]
	if len(s) < len(first)+len(last) || !strings.HasPrefix(s, first) || !strings.HasSuffix(s, last) {
		return false
	}

	// Greedy leftmost matching of the middle literals is sufficient for
	// patterns whose only wildcard is '*'.
	rest := s[len(first) : len(s)-len(last)]
	for _, part := range g.parts[1 : len(g.parts)-1] {
		idx := strings.Index(rest, part)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(part):]
	}
	return true
}

// redisGlobEscaper escapes characters that Redis MATCH treats specially,
// leaving '*' as the only wildcard.
var redisGlobEscaper = strings.NewReplacer(`\`, `\\`, "?", `\?`, "[", `\[`, "]", `\]`)

// RedisPattern returns the pattern in Redis SCAN MATCH syntax.
func (g Glob) RedisPattern() string {
	return redisGlobEscaper.Replace(g.pattern)
}
