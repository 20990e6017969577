package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestCallerRateLimiter_Allow(t *testing.T) {
	cfg := RateLimitConfig{
		Rate:            rate.Limit(2),
		Burst:           2,
		CleanupInterval: 1 * time.Hour,
		MaxAge:          1 * time.Hour,
	}
	rl := NewCallerRateLimiter(cfg)
	defer rl.Stop()

	// First two requests should be allowed (burst = 2).
	if !rl.Allow("192.168.1.1") {
		t.Fatal("expected first request to be allowed")
	}
	if !rl.Allow("192.168.1.1") {
		t.Fatal("expected second request to be allowed")
	}

	// Third request should exceed burst.
	if rl.Allow("192.168.1.1") {
		t.Fatal("expected third request to be rate limited")
	}

	// A different caller has its own bucket.
	if !rl.Allow("192.168.1.2") {
		t.Fatal("expected request from different IP to be allowed")
	}
}

func TestCallerRateLimiter_EvictIdle(t *testing.T) {
	cfg := RateLimitConfig{
		Rate:            rate.Limit(10),
		Burst:           10,
		CleanupInterval: 1 * time.Hour,
		MaxAge:          0, // expire immediately
	}
	rl := NewCallerRateLimiter(cfg)
	defer rl.Stop()

	rl.Allow("10.0.0.1")

	rl.mu.Lock()
	count := len(rl.callers)
	rl.mu.Unlock()

	if count != 1 {
		t.Fatalf("expected 1 entry, got %d", count)
	}

	// MaxAge is zero, so every caller is idle.
	rl.evictIdle()

	rl.mu.Lock()
	count = len(rl.callers)
	rl.mu.Unlock()

	if count != 0 {
		t.Fatalf("expected 0 entries after eviction, got %d", count)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := RateLimitConfig{
		Rate:            rate.Limit(1),
		Burst:           1,
		CleanupInterval: 1 * time.Hour,
		MaxAge:          1 * time.Hour,
	}
	rl := NewCallerRateLimiter(cfg)
	defer rl.Stop()

	handler := RateLimit(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// First request should succeed.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/commands/call", nil)
	req.RemoteAddr = "10.0.0.5:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	// Second request should be rate limited.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}

	if rec.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After header, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"192.168.1.1:8080", "192.168.1.1"},
		{"[::1]:8080", "::1"},
		{"10.0.0.1", "10.0.0.1"}, // no port
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tt.remoteAddr
		got := extractIP(r)
		if got != tt.want {
			t.Errorf("extractIP(%q) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}

func TestNewRateLimitConfig(t *testing.T) {
	cfg := NewRateLimitConfig(20)
	if cfg.Rate != rate.Limit(20) || cfg.Burst != 40 {
		t.Fatalf("expected 20/s burst 40, got %v burst %d", cfg.Rate, cfg.Burst)
	}

	cfg = NewRateLimitConfig(0)
	if cfg.Rate != rate.Limit(1) || cfg.Burst != 2 {
		t.Fatalf("expected floor of 1/s burst 2, got %v burst %d", cfg.Rate, cfg.Burst)
	}
}

func TestRateLimitKeysByClient(t *testing.T) {
	rl := NewCallerRateLimiter(RateLimitConfig{
		Rate:            rate.Limit(1),
		Burst:           1,
		CleanupInterval: time.Hour,
		MaxAge:          time.Hour,
	})
	defer rl.Stop()
	defer rl.Stop()

	handler := RateLimit(rl)(okHandler())
	request := func(client string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/commands/hangup", nil)
		req.RemoteAddr = "10.0.0.5:12345"
		if client != "" {
			req = req.WithContext(context.WithValue(req.Context(), clientIDKey, client))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := request("phone"); code != http.StatusOK {
		t.Fatalf("expected 200 for first client request, got %d", code)
	}
	// Same IP, different identity: separate bucket.
	if code := request("tablet"); code != http.StatusOK {
		t.Fatalf("expected 200 for second client, got %d", code)
	}
	if code := request(""); code != http.StatusOK {
		t.Fatalf("expected 200 for anonymous caller, got %d", code)
	}
	if code := request("phone"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for repeated client, got %d", code)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		wait time.Duration
		want int
	}{
		{0, 1},
		{300 * time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
	}
	for _, tt := range tests {
		if got := retryAfterSeconds(tt.wait); got != tt.want {
			t.Errorf("retryAfterSeconds(%s) = %d, want %d", tt.wait, got, tt.want)
		}
	}
}
