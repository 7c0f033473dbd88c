package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig defines the rate limiting configuration for one route.
// Policies are injected per route at wiring time rather than read from
// ambient process state, so the signing core's tests stay independent of
// global configuration.
type RateLimitConfig struct {
	// RequestsPerWindow is the maximum number of requests allowed per window.
	// Must be > 0.
	RequestsPerWindow int
	// WindowDuration is the time window for the rate limit.
	// Must be > 0.
	WindowDuration time.Duration
}

// Validate checks that the RateLimitConfig has valid values.
func (c RateLimitConfig) Validate() error {
	if c.RequestsPerWindow <= 0 {
		return fmt.Errorf("RequestsPerWindow must be > 0 (got %d)", c.RequestsPerWindow)
	}
	if c.WindowDuration <= 0 {
		return fmt.Errorf("WindowDuration must be > 0 (got %s)", c.WindowDuration)
	}
	return nil
}

// DefaultSignReadLimit is the default limit for the signing read path
// (60 requests per minute per client).
func DefaultSignReadLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 60, WindowDuration: time.Minute}
}

// DefaultSignWriteLimit is the default limit for signature submissions
// (10 requests per minute per client).
func DefaultSignWriteLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute}
}

// RateLimitStore defines the interface for rate limit state storage.
// This allows for different backends (in-memory, Redis, etc.).
type RateLimitStore interface {
	// Allow checks if a request from the given key should be allowed.
	// Returns true if allowed, false if rate limited.
	// The second return value is the number of seconds until the limit resets.
	Allow(ctx context.Context, key string, config RateLimitConfig) (allowed bool, retryAfter int)
}

// bucket represents a rate limit bucket for a single key.
type bucket struct {
	count     int
	windowEnd time.Time
}

// InMemoryRateLimitStore implements RateLimitStore using an in-memory map.
// It uses a simple fixed window counter algorithm.
// Thread-safe for concurrent access.
type InMemoryRateLimitStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewInMemoryRateLimitStore creates a new in-memory rate limit store.
func NewInMemoryRateLimitStore() *InMemoryRateLimitStore {
	return &InMemoryRateLimitStore{
		buckets: make(map[string]*bucket),
	}
}

// Allow checks if a request from the given key should be allowed.
func (s *InMemoryRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	b, exists := s.buckets[key]
	if !exists || now.After(b.windowEnd) {
		// New window or expired window
		s.buckets[key] = &bucket{
			count:     1,
			windowEnd: now.Add(config.WindowDuration),
		}
		return true, 0
	}

	if b.count < config.RequestsPerWindow {
		b.count++
		return true, 0
	}

	retryAfter := int(b.windowEnd.Sub(now).Seconds())
	if retryAfter <= 0 {
		retryAfter = 1
	}
	return false, retryAfter
}

// Cleanup removes expired buckets to prevent memory leaks.
// This should be called periodically in production.
func (s *InMemoryRateLimitStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, b := range s.buckets {
		if now.After(b.windowEnd) {
			delete(s.buckets, key)
		}
	}
}

// KeyFunc extracts a rate limit key from an HTTP request.
type KeyFunc func(r *http.Request) string

// IPKeyFunc returns a KeyFunc that uses the client's IP address.
func IPKeyFunc() KeyFunc {
	return func(r *http.Request) string {
		// Check X-Forwarded-For header first (for proxied requests)
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// Use the first IP in the chain, trimming whitespace per RFC 7239
			if idx := strings.Index(xff, ","); idx != -1 {
				return strings.TrimSpace(xff[:idx])
			}
			return strings.TrimSpace(xff)
		}
		// Check X-Real-IP header
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
		// Fall back to RemoteAddr (strip port properly for both IPv4 and IPv6)
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			// RemoteAddr might not have a port
			return r.RemoteAddr
		}
		return host
	}
}

// SignerKeyFunc returns a KeyFunc that buckets requests by the signing
// credential carried in the query string, so one token holder's retries
// share a bucket even across addresses. Requests without query credentials
// (the JSON-body write path) fall back to client IP. Only a digest of the
// (documentId, token) pair enters the bucket map, never the token itself.
func SignerKeyFunc() KeyFunc {
	ipFunc := IPKeyFunc()
	return func(r *http.Request) string {
		q := r.URL.Query()
		documentID, token := q.Get("documentId"), q.Get("token")
		if documentID == "" || token == "" {
			return "ip:" + ipFunc(r)
		}
		sum := sha256.Sum256([]byte(documentID + "\x00" + token))
		return "signer:" + hex.EncodeToString(sum[:8])
	}
}

// ScopedKeyFunc namespaces a KeyFunc so limiters with different policies
// never share a bucket for the same client.
func ScopedKeyFunc(scope string, keyFunc KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		return scope + ":" + keyFunc(r)
	}
}

// RateLimiter is a middleware that limits request rates.
// It returns HTTP 429 Too Many Requests when the limit is exceeded.
func RateLimiter(store RateLimitStore, config RateLimitConfig, keyFunc KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			allowed, retryAfter := store.Allow(r.Context(), key, config)

			if !allowed {
				writeRateLimited(w, r, retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// InstrumentedRateLimiter is RateLimiter with Prometheus counters for
// checks and rejections, labeled by endpoint and key type.
func InstrumentedRateLimiter(store RateLimitStore, config RateLimitConfig, keyFunc KeyFunc, metrics *Metrics, endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			keyType := "ip"
			if strings.Contains(key, "signer:") {
				keyType = "signer"
			}
			metrics.IncRateLimitRequests(endpoint, keyType)

			allowed, retryAfter := store.Allow(r.Context(), key, config)
			if !allowed {
				metrics.IncRateLimitBlocked(endpoint, keyType)
				writeRateLimited(w, r, retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeRateLimited writes the 429 response with Retry-After and reset
// headers, recording the error code for the logging middleware. The body
// uses the same response envelope as the handlers so clients parse every
// error the same way.
func writeRateLimited(w http.ResponseWriter, r *http.Request, retryAfter int) {
	ctx := SetErrorCode(r.Context(), "rate_limit_exceeded")
	UpdateResponseContext(w, ctx)

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	// X-RateLimit-Reset is a Unix timestamp per API conventions
	resetTime := time.Now().Add(time.Duration(retryAfter) * time.Second).Unix()
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime, 10))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error": map[string]string{
			"code":    "rate_limit_exceeded",
			"message": "Too many requests, retry later.",
		},
		"correlationId": GetCorrelationID(r.Context()),
	})
}
