package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func serve(t *testing.T, limiter *RateLimiter, key, forwardedFor string) int {
	t.Helper()
	handler := limiter.Middleware(key)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/v1/submit", nil)
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimiterEnforcesBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"submit": {RequestsPerMinute: 1, Burst: 2},
	}, nil)
	if code := serve(t, limiter, "submit", "10.0.0.1"); code != http.StatusOK {
		t.Fatalf("first request: %d", code)
	}
	if code := serve(t, limiter, "submit", "10.0.0.1"); code != http.StatusOK {
		t.Fatalf("second request: %d", code)
	}
	if code := serve(t, limiter, "submit", "10.0.0.1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", code)
	}
}

func TestRateLimiterIsolatesClients(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"submit": {RequestsPerMinute: 1, Burst: 1},
	}, nil)
	if code := serve(t, limiter, "submit", "10.0.0.1"); code != http.StatusOK {
		t.Fatalf("client a: %d", code)
	}
	if code := serve(t, limiter, "submit", "10.0.0.2"); code != http.StatusOK {
		t.Fatalf("client b should have its own bucket: %d", code)
	}
	if code := serve(t, limiter, "submit", "10.0.0.1"); code != http.StatusTooManyRequests {
		t.Fatalf("client a should be limited: %d", code)
	}
}

func TestRateLimiterPassesUnregisteredRoutes(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{}, nil)
	for i := 0; i < 10; i++ {
		if code := serve(t, limiter, "analysis", "10.0.0.1"); code != http.StatusOK {
			t.Fatalf("unregistered route limited on request %d: %d", i, code)
		}
	}
}

func TestRateLimiterPrune(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"submit": {RequestsPerMinute: 1, Burst: 1},
	}, nil)
	now := time.Now()
	limiter.clockNow = func() time.Time { return now }
	serve(t, limiter, "submit", "10.0.0.1")
	if len(limiter.visitors) != 1 {
		t.Fatalf("expected 1 visitor, got %d", len(limiter.visitors))
	}
	now = now.Add(time.Hour)
	limiter.Prune(30 * time.Minute)
	if len(limiter.visitors) != 0 {
		t.Fatalf("expected pruned visitors, got %d", len(limiter.visitors))
	}
}
