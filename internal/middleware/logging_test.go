package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

// logEntry captures the fields the logging middleware emits.
type logEntry struct {
	Msg           string `json:"msg"`
	Level         string `json:"level"`
	Method        string `json:"method"`
	Path          string `json:"path"`
	Status        int    `json:"status"`
	Size          int    `json:"size"`
	CorrelationID string `json:"correlation_id"`
	SignerID      string `json:"signer_id"`
	ErrorCode     string `json:"error_code"`
}

func captureLog(t *testing.T, handler http.Handler, req *http.Request) logEntry {
	t.Helper()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	rec := httptest.NewRecorder()
	Logging(logger)(handler).ServeHTTP(rec, req)

	var entry logEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestLoggingBasicFields(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	})

	entry := captureLog(t, handler, httptest.NewRequest(http.MethodGet, "/sign", nil))

	if entry.Msg != "request completed" {
		t.Errorf("msg = %q, want %q", entry.Msg, "request completed")
	}
	if entry.Method != http.MethodGet {
		t.Errorf("method = %q, want GET", entry.Method)
	}
	if entry.Path != "/sign" {
		t.Errorf("path = %q, want /sign", entry.Path)
	}
	if entry.Status != http.StatusOK {
		t.Errorf("status = %d, want 200", entry.Status)
	}
	if entry.Size != len("hello") {
		t.Errorf("size = %d, want %d", entry.Size, len("hello"))
	}
	if entry.Level != "INFO" {
		t.Errorf("level = %q, want INFO", entry.Level)
	}
}

func TestLoggingCapturesStatusCode(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	entry := captureLog(t, handler, httptest.NewRequest(http.MethodGet, "/missing", nil))

	if entry.Status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", entry.Status)
	}
	if entry.Level != "WARN" {
		t.Errorf("level = %q, want WARN for 4xx", entry.Level)
	}
}

func TestLoggingServerErrorLevel(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	entry := captureLog(t, handler, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if entry.Level != "ERROR" {
		t.Errorf("level = %q, want ERROR for 5xx", entry.Level)
	}
}

func TestLoggingIncludesCorrelationID(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	req := httptest.NewRequest(http.MethodGet, "/sign", nil)
	req.Header.Set(CorrelationIDHeader, "corr-abc-123")
	rec := httptest.NewRecorder()

	CorrelationID(Logging(logger)(handler)).ServeHTTP(rec, req)

	var entry logEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log line: %v", err)
	}
	if entry.CorrelationID != "corr-abc-123" {
		t.Errorf("correlation_id = %q, want corr-abc-123", entry.CorrelationID)
	}
}

func TestLoggingIncludesSignerID(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := SetSignerID(r.Context(), "rec-42")
		UpdateResponseContext(w, ctx)
		w.WriteHeader(http.StatusOK)
	})

	entry := captureLog(t, handler, httptest.NewRequest(http.MethodGet, "/sign", nil))

	if entry.SignerID != "rec-42" {
		t.Errorf("signer_id = %q, want rec-42", entry.SignerID)
	}
}

func TestLoggingIncludesErrorCodeOnFailure(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := SetErrorCode(r.Context(), "unauthorized")
		UpdateResponseContext(w, ctx)
		w.WriteHeader(http.StatusUnauthorized)
	})

	entry := captureLog(t, handler, httptest.NewRequest(http.MethodPost, "/sign", nil))

	if entry.ErrorCode != "unauthorized" {
		t.Errorf("error_code = %q, want unauthorized", entry.ErrorCode)
	}
}

func TestLoggingOmitsErrorCodeOnSuccess(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := SetErrorCode(r.Context(), "should_not_appear")
		UpdateResponseContext(w, ctx)
		w.WriteHeader(http.StatusOK)
	})

	entry := captureLog(t, handler, httptest.NewRequest(http.MethodGet, "/sign", nil))

	if entry.ErrorCode != "" {
		t.Errorf("error_code = %q, want empty for 2xx", entry.ErrorCode)
	}
}

func TestSignerIDContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := GetSignerID(ctx); got != "" {
		t.Errorf("GetSignerID on empty context = %q, want empty", got)
	}
	ctx = SetSignerID(ctx, "rec-1")
	if got := GetSignerID(ctx); got != "rec-1" {
		t.Errorf("GetSignerID = %q, want rec-1", got)
	}
}

func TestErrorCodeContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := GetErrorCode(ctx); got != "" {
		t.Errorf("GetErrorCode on empty context = %q, want empty", got)
	}
	ctx = SetErrorCode(ctx, "token_expired")
	if got := GetErrorCode(ctx); got != "token_expired" {
		t.Errorf("GetErrorCode = %q, want token_expired", got)
	}
}

func TestResponseWriterFirstStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec, context.Background())

	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusInternalServerError)

	if rw.statusCode != http.StatusCreated {
		t.Errorf("statusCode = %d, want 201", rw.statusCode)
	}
}
