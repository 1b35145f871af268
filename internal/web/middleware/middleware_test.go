package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		remote  string
		headers map[string]string
		want    string
	}{
		{
			name:    "untrusted peer keeps remote addr",
			trusted: []string{"10.0.0.0/8"},
			remote:  "203.0.113.9:5555",
			headers: map[string]string{"X-Real-IP": "1.2.3.4"},
			want:    "203.0.113.9:5555",
		},
		{
			name:    "trusted proxy with X-Real-IP",
			trusted: []string{"10.0.0.0/8"},
			remote:  "10.1.2.3:4000",
			headers: map[string]string{"X-Real-IP": " 198.51.100.7 "},
			want:    "198.51.100.7",
		},
		{
			name:    "trusted bare address with X-Forwarded-For",
			trusted: []string{"127.0.0.1"},
			remote:  "127.0.0.1:4000",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.7, 10.0.0.1"},
			want:    "198.51.100.7",
		},
		{
			name:    "invalid header ignored",
			trusted: []string{"127.0.0.1/32"},
			remote:  "127.0.0.1:4000",
			headers: map[string]string{"X-Real-IP": "not-an-ip"},
			want:    "127.0.0.1:4000",
		},
		{
			name:    "no trusted proxies",
			remote:  "127.0.0.1:4000",
			headers: map[string]string{"X-Real-IP": "1.2.3.4"},
			want:    "127.0.0.1:4000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseTrustedProxies(t *testing.T) {
	got := ParseTrustedProxies([]string{"10.0.0.0/8", " ", "::1", "bogus", "192.168.1.7/24"})
	if len(got) != 3 {
		t.Fatalf("prefixes = %v, want 3", got)
	}
	if got[2].String() != "192.168.1.0/24" {
		t.Errorf("prefix = %s, want masked 192.168.1.0/24", got[2])
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2)
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := do("192.0.2.1:1000"); rec.Code != http.StatusNoContent {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	rec := do("192.0.2.1:2000")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if rec := do("192.0.2.2:1000"); rec.Code != http.StatusNoContent {
		t.Errorf("other ip status = %d", rec.Code)
	}

	if n := rl.Sweep(time.Now().Add(time.Hour)); n != 0 {
		t.Errorf("visitors after sweep = %d, want 0", n)
	}
}

func TestLogger_RecordsRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Logger)
	r.Get("/api/products/{productID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/products/42", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want passthrough", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/products/42", nil)
	rctx := chi.NewRouteContext()
	rctx.RoutePatterns = []string{"/api/products/{productID}"}
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	if got := routePattern(req); got != "/api/products/{productID}" {
		t.Errorf("routePattern() = %q", got)
	}
	if got := routePattern(httptest.NewRequest(http.MethodGet, "/x", nil)); got != "unmatched" {
		t.Errorf("routePattern() without chi = %q", got)
	}
}
