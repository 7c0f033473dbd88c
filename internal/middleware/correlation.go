// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// correlationIDKey is the context key for the correlation id.
type correlationIDKey struct{}

// CorrelationIDHeader is the HTTP header echoed on every response.
const CorrelationIDHeader = "X-Correlation-Id"

// RequestIDHeader is accepted as an inbound alias for the correlation id.
const RequestIDHeader = "X-Request-ID"

// CorrelationID is a middleware that threads a correlation id through the
// request. It propagates an inbound X-Correlation-Id (or X-Request-ID)
// header, generating a new UUID when neither is present, and echoes the id
// in the response so a signer contacting support can be matched to
// server-side logs and audit entries.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get(CorrelationIDHeader)
		if correlationID == "" {
			correlationID = r.Header.Get(RequestIDHeader)
		}
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		// Echo the header in the response
		w.Header().Set(CorrelationIDHeader, correlationID)

		ctx := context.WithValue(r.Context(), correlationIDKey{}, correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCorrelationID returns the correlation id from context. Returns empty
// string if not present.
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}
