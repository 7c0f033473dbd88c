// Package api provides the HTTP surface of the signing service: the
// external signer endpoints, the internal back-office endpoints, and the
// shared response envelope.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/inkseal/inkseal/internal/middleware"
	"github.com/inkseal/inkseal/internal/signing"
)

// Error codes used throughout the API.
const (
	// ErrCodeValidation indicates input validation failure.
	ErrCodeValidation = "validation_error"

	// ErrCodeUnauthorized indicates an invalid signing token or missing
	// staff credentials.
	ErrCodeUnauthorized = "unauthorized"

	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodeConflict indicates the recipient is already in a terminal state.
	ErrCodeConflict = "conflict"

	// ErrCodeGone indicates an expired link or a voided/closed document.
	ErrCodeGone = "gone"

	// ErrCodeBadRequest indicates a malformed request.
	ErrCodeBadRequest = "bad_request"

	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal = "internal_error"
)

// Envelope is the response format for every endpoint: exactly one of Data
// or Error is set, and the correlation id is always present so a signer
// contacting support can be matched to server-side logs and audit entries.
type Envelope struct {
	Success       bool         `json:"success"`
	Data          any          `json:"data,omitempty"`
	Error         *ErrorDetail `json:"error,omitempty"`
	CorrelationID string       `json:"correlationId"`
}

// ErrorDetail contains the error code, a human-readable message, and
// optional per-field details for validation failures.
type ErrorDetail struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// WriteSuccess writes the success envelope with the given payload.
func WriteSuccess(w http.ResponseWriter, ctx context.Context, status int, data any) {
	writeEnvelope(w, ctx, status, Envelope{
		Success:       true,
		Data:          data,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
}

// WriteError writes the error envelope and records the error code for the
// logging middleware.
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string, details ...string) {
	ctx = middleware.SetErrorCode(ctx, code)
	middleware.UpdateResponseContext(w, ctx)

	writeEnvelope(w, ctx, status, Envelope{
		Success: false,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
}

func writeEnvelope(w http.ResponseWriter, ctx context.Context, status int, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		slog.ErrorContext(ctx, "failed to marshal response envelope", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write response", "error", err)
	}
}

// WriteDomainError maps a signing-core error to its HTTP representation.
// Anything unrecognized reduces to a generic 500 with no internal detail
// leaked to the external signer.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var missing *signing.MissingFieldsError
	if errors.As(err, &missing) {
		details := make([]string, 0, len(missing.FieldIDs))
		for _, id := range missing.FieldIDs {
			details = append(details, "required field has no value: "+id)
		}
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, missing.Error(), details...)
		return
	}

	switch {
	case errors.Is(err, signing.ErrUnauthorized):
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeUnauthorized, "Invalid signing link")
	case errors.Is(err, signing.ErrTokenExpired):
		WriteError(w, ctx, http.StatusGone, ErrCodeGone, "This signing link has expired")
	case errors.Is(err, signing.ErrDocumentNotFound):
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Document not found")
	case errors.Is(err, signing.ErrDocumentVoided):
		WriteError(w, ctx, http.StatusGone, ErrCodeGone, "This document has been voided")
	case errors.Is(err, signing.ErrDocumentTerminal):
		WriteError(w, ctx, http.StatusGone, ErrCodeGone, "This document is no longer accepting signatures")
	case errors.Is(err, signing.ErrAlreadySigned):
		WriteError(w, ctx, http.StatusConflict, ErrCodeConflict, "This document has already been signed")
	case errors.Is(err, signing.ErrAlreadyDeclined):
		WriteError(w, ctx, http.StatusConflict, ErrCodeConflict, "This document has already been declined")
	default:
		slog.ErrorContext(ctx, "unexpected error", "error", err, "path", r.URL.Path)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "An unexpected error occurred")
	}
}
