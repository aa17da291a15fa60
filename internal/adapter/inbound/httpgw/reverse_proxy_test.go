package httpgw

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestReverseProxy_MatchLongestPrefix verifies that the most specific (longest)
// matching path prefix wins when multiple targets could match.
func TestReverseProxy_MatchLongestPrefix(t *testing.T) {
	rp := NewReverseProxy(testLogger())
	rp.SetTargets([]UpstreamTarget{
		{Name: "broad", PathPrefix: "/api/", Upstream: "http://broad.local"},
		{Name: "specific", PathPrefix: "/api/v2/", Upstream: "http://specific.local"},
	})

	target := rp.Match("/api/v2/foo")
	if target == nil || target.Name != "specific" {
		t.Fatalf("expected 'specific' target, got %+v", target)
	}

	target = rp.Match("/api/v1/bar")
	if target == nil || target.Name != "broad" {
		t.Fatalf("expected 'broad' target, got %+v", target)
	}
}

// TestReverseProxy_NoMatch verifies that unmatched paths get a 404 JSON body.
func TestReverseProxy_NoMatch(t *testing.T) {
	rp := NewReverseProxy(testLogger())
	rp.SetTargets([]UpstreamTarget{
		{Name: "api", PathPrefix: "/api/", Upstream: "http://api.local"},
	})

	if target := rp.Match("/other/path"); target != nil {
		t.Errorf("expected nil match, got %v", target)
	}

	rec := httptest.NewRecorder()
	rp.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other/path", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] != "Not found" {
		t.Errorf("error = %q", resp["error"])
	}
}

// TestReverseProxy_CatchAll verifies that a "/" target serves every path.
func TestReverseProxy_CatchAll(t *testing.T) {
	rp := NewReverseProxy(testLogger())
	rp.SetTargets([]UpstreamTarget{{Name: "app", PathPrefix: "/", Upstream: "http://app.local"}})

	if target := rp.Match("/anything"); target == nil || target.Name != "app" {
		t.Errorf("expected catch-all match, got %+v", target)
	}
}

// TestReverseProxy_SetTargetsCopies verifies that later changes to the
// caller's slice are not observed.
func TestReverseProxy_SetTargetsCopies(t *testing.T) {
	targets := []UpstreamTarget{{Name: "a", PathPrefix: "/a/", Upstream: "http://a.local"}}
	rp := NewReverseProxy(testLogger())
	rp.SetTargets(targets)
	targets[0].Name = "changed"

	if got := rp.Targets()[0].Name; got != "a" {
		t.Errorf("target name = %q, want a", got)
	}
}

func TestReverseProxy_Forward(t *testing.T) {
	tests := []struct {
		name        string
		prefix      string
		strip       bool
		requestPath string
		wantPath    string
	}{
		{"strip prefix", "/api/app/", true, "/api/app/v1/chat", "/v1/chat"},
		{"keep prefix", "/api/", false, "/api/data/items", "/api/data/items"},
		{"strip to root", "/svc", true, "/svc", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var receivedPath, receivedQuery string
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				receivedPath = r.URL.Path
				receivedQuery = r.URL.RawQuery
				w.Header().Set("X-Upstream", "yes")
				w.WriteHeader(http.StatusCreated)
				fmt.Fprint(w, "ok")
			}))
			defer upstream.Close()

			rp := NewReverseProxy(testLogger())
			target := &UpstreamTarget{Name: "t", PathPrefix: tt.prefix, Upstream: upstream.URL, StripPrefix: tt.strip}

			rec := httptest.NewRecorder()
			rp.Forward(rec, httptest.NewRequest(http.MethodGet, tt.requestPath+"?q=1", nil), target)

			if rec.Code != http.StatusCreated {
				t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
			}
			if receivedPath != tt.wantPath {
				t.Errorf("upstream path = %q, want %q", receivedPath, tt.wantPath)
			}
			if receivedQuery != "q=1" {
				t.Errorf("upstream query = %q, want q=1", receivedQuery)
			}
			if rec.Header().Get("X-Upstream") != "yes" || rec.Body.String() != "ok" {
				t.Error("upstream response not copied back")
			}
		})
	}
}

// TestReverseProxy_Headers covers header injection, hop-by-hop removal and
// the X-Forwarded-* headers.
func TestReverseProxy_Headers(t *testing.T) {
	var received http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	rp := NewReverseProxy(testLogger())
	target := &UpstreamTarget{
		Name:       "test",
		PathPrefix: "/api/",
		Upstream:   upstream.URL,
		Headers:    map[string]string{"Authorization": "Bearer injected", "X-Custom": "injected"},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.RemoteAddr = "10.0.0.2:12345"
	req.Host = "gateway.example.com"
	req.Header.Set("Authorization", "Bearer original")
	req.Header.Set("X-Existing", "preserved")
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Proxy-Authorization", "Bearer secret")
	req.Header.Set("Upgrade", "websocket")
	rec := httptest.NewRecorder()

	rp.Forward(rec, req, target)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if received.Get("Authorization") != "Bearer injected" || received.Get("X-Custom") != "injected" {
		t.Errorf("injected headers missing: %v", received)
	}
	if received.Get("X-Existing") != "preserved" {
		t.Errorf("X-Existing = %q", received.Get("X-Existing"))
	}
	for _, h := range []string{"Connection", "Proxy-Authorization", "Upgrade"} {
		if received.Get(h) != "" {
			t.Errorf("hop-by-hop header %q should be removed", h)
		}
	}
	if xff := received.Get("X-Forwarded-For"); xff != "10.0.0.1, 10.0.0.2" {
		t.Errorf("X-Forwarded-For = %q", xff)
	}
	if received.Get("X-Forwarded-Proto") != "http" || received.Get("X-Forwarded-Host") != "gateway.example.com" {
		t.Errorf("X-Forwarded-Proto/Host = %q/%q", received.Get("X-Forwarded-Proto"), received.Get("X-Forwarded-Host"))
	}
}

// TestReverseProxy_UpstreamError verifies that an unreachable upstream returns
// a 502 Bad Gateway response with a JSON error body.
func TestReverseProxy_UpstreamError(t *testing.T) {
	rp := NewReverseProxy(testLogger())
	target := &UpstreamTarget{Name: "test", PathPrefix: "/api/", Upstream: "http://127.0.0.1:1"}

	rec := httptest.NewRecorder()
	rp.Forward(rec, httptest.NewRequest(http.MethodGet, "/api/data", nil), target)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] != "Bad gateway" || resp["message"] != "upstream unreachable" {
		t.Errorf("unexpected body %v", resp)
	}
}
