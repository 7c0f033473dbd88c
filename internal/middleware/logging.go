package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// signerIDKey is the context key for the gateway-validated recipient id.
type signerIDKey struct{}

// errorCodeKey is the context key for error code.
type errorCodeKey struct{}

// SetSignerID stores the recipient id in the context.
// This should be called after the access gateway validated the token.
func SetSignerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, signerIDKey{}, id)
}

// GetSignerID retrieves the recipient id from context. Returns empty string
// if not present.
func GetSignerID(ctx context.Context) string {
	if id, ok := ctx.Value(signerIDKey{}).(string); ok {
		return id
	}
	return ""
}

// SetErrorCode stores an error code in the context.
// This should be called by handlers when returning error responses.
func SetErrorCode(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, errorCodeKey{}, code)
}

// GetErrorCode retrieves the error code from context. Returns empty string
// if not present.
func GetErrorCode(ctx context.Context) string {
	if code, ok := ctx.Value(errorCodeKey{}).(string); ok {
		return code
	}
	return ""
}

// contextCarrier is implemented by response writers that can carry an
// updated request context back to outer middleware (the logging middleware
// uses it to pick up error codes set deep inside handlers).
type contextCarrier interface {
	setContext(ctx context.Context)
}

// UpdateResponseContext hands an updated context to the logging middleware
// when the response writer supports it. Safe to call with any writer.
func UpdateResponseContext(w http.ResponseWriter, ctx context.Context) {
	if carrier, ok := w.(contextCarrier); ok {
		carrier.setContext(ctx)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code, response
// size, and handler-updated context.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int
	wroteHeader bool
	ctx         context.Context
}

// WriteHeader captures the status code before writing it.
// Only the first call sets the status code; subsequent calls are ignored
// to match http.ResponseWriter behavior where only the first status is sent.
func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size and writes the data.
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

func (rw *responseWriter) setContext(ctx context.Context) {
	rw.ctx = ctx
}

// newResponseWriter creates a new responseWriter with default 200 status.
func newResponseWriter(w http.ResponseWriter, ctx context.Context) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		ctx:            ctx,
	}
}

// NewLogger creates an slog.Logger based on the environment.
// In production (env == "production"), it returns a JSON handler.
// Otherwise, it returns a text handler for development.
func NewLogger(env string) *slog.Logger {
	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}
	return slog.New(handler)
}

// Logging is a middleware that logs HTTP requests with structured fields.
// It captures: method, path, status, latency (ms), correlation id, signer
// id (if the access gateway validated one), response size, and error_code
// for error responses.
//
// Note: If a handler panics, the log entry will not be written. To ensure
// logging even on panics, place a recovery middleware outside of the
// logging middleware.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status, size, and context
			rw := newResponseWriter(w, r.Context())

			next.ServeHTTP(rw, r)

			latency := time.Since(start).Milliseconds()

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rw.statusCode),
				slog.Int64("latency_ms", latency),
				slog.Int("size", rw.size),
			}

			if correlationID := GetCorrelationID(r.Context()); correlationID != "" {
				attrs = append(attrs, slog.String("correlation_id", correlationID))
			}

			// Handlers may have updated the context via UpdateResponseContext
			ctx := rw.ctx
			if signerID := GetSignerID(ctx); signerID != "" {
				attrs = append(attrs, slog.String("signer_id", signerID))
			}

			if rw.statusCode >= 400 {
				if errorCode := GetErrorCode(ctx); errorCode != "" {
					attrs = append(attrs, slog.String("error_code", errorCode))
				}
			}

			if rw.statusCode >= 500 {
				logger.LogAttrs(r.Context(), slog.LevelError, "request completed", attrs...)
			} else if rw.statusCode >= 400 {
				logger.LogAttrs(r.Context(), slog.LevelWarn, "request completed", attrs...)
			} else {
				logger.LogAttrs(r.Context(), slog.LevelInfo, "request completed", attrs...)
			}
		})
	}
}
