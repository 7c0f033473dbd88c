package audit

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/inkseal/inkseal/internal/middleware"
)

var (
	// ErrNilRepository is returned when a nil repository is passed to NewRecorder.
	ErrNilRepository = errors.New("audit repository cannot be nil")
	// ErrInvalidDocumentID is returned when an entry has no document id.
	ErrInvalidDocumentID = errors.New("document ID cannot be empty")
	// ErrInvalidAction is returned when an entry's action is not in the allowed set.
	ErrInvalidAction = errors.New("action is not a recognized audit action")
)

// validateEntry validates the required fields of an entry against the
// closed action set.
func validateEntry(content EntryContent) error {
	if content.DocumentID == "" {
		return ErrInvalidDocumentID
	}
	if !ValidActions[content.Action] {
		return ErrInvalidAction
	}
	return nil
}

// ExtractIPAddress extracts the client IP address from an HTTP request.
// It checks X-Forwarded-For, X-Real-IP, and RemoteAddr in that order.
// The port is stripped from the IP address to ensure compatibility with
// database storage.
func ExtractIPAddress(r *http.Request) string {
	// Check X-Forwarded-For header first (for proxied requests)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Use the first IP in the chain, trimming whitespace per RFC 7239
		var firstIP string
		if idx := strings.Index(xff, ","); idx != -1 {
			firstIP = strings.TrimSpace(xff[:idx])
		} else {
			firstIP = strings.TrimSpace(xff)
		}
		if firstIP != "" {
			host, _, err := net.SplitHostPort(firstIP)
			if err != nil {
				// IP might not have a port
				return firstIP
			}
			return host
		}
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		xri = strings.TrimSpace(xri)
		host, _, err := net.SplitHostPort(xri)
		if err != nil {
			return xri
		}
		return host
	}

	// Fall back to RemoteAddr (strip port properly for both IPv4 and IPv6)
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Recorder appends audit entries as a best-effort side effect of the
// primary operation. A failed append is logged and counted but never
// propagated: signing success for the signer is the primary contract,
// evidentiary logging is secondary.
type Recorder struct {
	repo   Repository
	logger *slog.Logger
}

// NewRecorder creates a Recorder over the given repository.
func NewRecorder(repo Repository, logger *slog.Logger) (*Recorder, error) {
	if repo == nil {
		return nil, ErrNilRepository
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, logger: logger}, nil
}

// Record appends one audit entry, stamping the correlation id from the
// context. Errors are logged, never returned.
func (r *Recorder) Record(ctx context.Context, content EntryContent) {
	if content.CorrelationID == "" {
		content.CorrelationID = middleware.GetCorrelationID(ctx)
	}

	if err := validateEntry(content); err != nil {
		r.logger.ErrorContext(ctx, "dropping invalid audit entry",
			"error", err,
			"action", content.Action,
			"document_id", content.DocumentID)
		return
	}

	if _, err := r.repo.Append(ctx, content); err != nil {
		r.logger.ErrorContext(ctx, "audit append failed",
			"error", err,
			"action", content.Action,
			"document_id", content.DocumentID,
			"recipient_id", content.RecipientID)
	}
}
