package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRateLimitConfigValidate(t *testing.T) {
	if err := (RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute}).Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
	if err := (RateLimitConfig{RequestsPerWindow: 0, WindowDuration: time.Minute}).Validate(); err == nil {
		t.Error("zero RequestsPerWindow accepted")
	}
	if err := (RateLimitConfig{RequestsPerWindow: 10, WindowDuration: 0}).Validate(); err == nil {
		t.Error("zero WindowDuration accepted")
	}
}

func TestInMemoryStoreFixedWindow(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	cfg := RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}
	ctx := context.Background()

	for i := range 3 {
		if allowed, _ := store.Allow(ctx, "key", cfg); !allowed {
			t.Fatalf("request %d blocked within limit", i+1)
		}
	}
	allowed, retryAfter := store.Allow(ctx, "key", cfg)
	if allowed {
		t.Error("request over limit allowed")
	}
	if retryAfter <= 0 || retryAfter > 60 {
		t.Errorf("retryAfter = %d, want within (0, 60]", retryAfter)
	}

	// Independent keys do not share buckets.
	if allowed, _ := store.Allow(ctx, "other", cfg); !allowed {
		t.Error("independent key blocked")
	}
}

func TestInMemoryStoreWindowExpiry(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	cfg := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: 10 * time.Millisecond}
	ctx := context.Background()

	if allowed, _ := store.Allow(ctx, "key", cfg); !allowed {
		t.Fatal("first request blocked")
	}
	if allowed, _ := store.Allow(ctx, "key", cfg); allowed {
		t.Fatal("second request in window allowed")
	}

	time.Sleep(15 * time.Millisecond)
	if allowed, _ := store.Allow(ctx, "key", cfg); !allowed {
		t.Error("request after window expiry blocked")
	}
}

func TestInMemoryStoreCleanup(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	cfg := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Millisecond}

	store.Allow(context.Background(), "stale", cfg)
	time.Sleep(5 * time.Millisecond)
	store.Cleanup()

	store.mu.Lock()
	remaining := len(store.buckets)
	store.mu.Unlock()
	if remaining != 0 {
		t.Errorf("buckets = %d, want 0 after cleanup", remaining)
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	cfg := RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}
	handler := RateLimiter(store, cfg, IPKeyFunc())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := range 2 {
		req := httptest.NewRequest(http.MethodGet, "/sign", nil)
		req.RemoteAddr = "203.0.113.9:1000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/sign", nil)
	req.RemoteAddr = "203.0.113.9:1000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("X-RateLimit-Reset header missing")
	}

	// The 429 body is the same envelope the handlers emit.
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var envelope struct {
		Success bool `json:"success"`
		Error   *struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("429 body is not JSON: %v", err)
	}
	if envelope.Success || envelope.Error == nil || envelope.Error.Code != "rate_limit_exceeded" {
		t.Errorf("429 body = %s, want rate_limit_exceeded envelope", rec.Body.String())
	}
}

func TestIPKeyFunc(t *testing.T) {
	keyFunc := IPKeyFunc()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:4321"
	if got := keyFunc(req); got != "203.0.113.9" {
		t.Errorf("key = %q, want 203.0.113.9", got)
	}

	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	if got := keyFunc(req); got != "198.51.100.7" {
		t.Errorf("key = %q, want first forwarded IP", got)
	}
}

func TestSignerKeyFunc(t *testing.T) {
	keyFunc := SignerKeyFunc()

	req := httptest.NewRequest(http.MethodGet, "/sign", nil)
	req.RemoteAddr = "203.0.113.9:4321"
	if got := keyFunc(req); got != "ip:203.0.113.9" {
		t.Errorf("key = %q, want ip fallback", got)
	}

	// The same credential keys to the same bucket regardless of address.
	a := httptest.NewRequest(http.MethodGet, "/sign?documentId=doc-1&token=token-0", nil)
	a.RemoteAddr = "203.0.113.9:4321"
	b := httptest.NewRequest(http.MethodGet, "/sign?documentId=doc-1&token=token-0", nil)
	b.RemoteAddr = "198.51.100.7:9999"

	keyA, keyB := keyFunc(a), keyFunc(b)
	if keyA != keyB {
		t.Errorf("keys %q and %q differ, want shared bucket per credential", keyA, keyB)
	}
	if !strings.HasPrefix(keyA, "signer:") {
		t.Errorf("key = %q, want signer: prefix", keyA)
	}
	if strings.Contains(keyA, "token-0") {
		t.Errorf("key = %q, raw token must not appear in bucket keys", keyA)
	}

	// A different token is a different bucket.
	c := httptest.NewRequest(http.MethodGet, "/sign?documentId=doc-1&token=token-1", nil)
	if keyC := keyFunc(c); keyC == keyA {
		t.Errorf("distinct credentials share key %q", keyC)
	}

	// A partial credential falls back to IP.
	d := httptest.NewRequest(http.MethodGet, "/sign?documentId=doc-1", nil)
	d.RemoteAddr = "203.0.113.9:4321"
	if got := keyFunc(d); got != "ip:203.0.113.9" {
		t.Errorf("key = %q, want ip fallback without a token", got)
	}
}

func TestScopedKeyFunc(t *testing.T) {
	base := func(r *http.Request) string { return "ip:10.0.0.1" }

	read := ScopedKeyFunc("sign:read", base)
	write := ScopedKeyFunc("sign:write", base)

	req := httptest.NewRequest(http.MethodGet, "/sign", nil)
	if read(req) == write(req) {
		t.Error("scoped keys for different policies must not collide")
	}
	if got := read(req); got != "sign:read:ip:10.0.0.1" {
		t.Errorf("key = %q, want sign:read:ip:10.0.0.1", got)
	}
}
