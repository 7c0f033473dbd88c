package audit

import (
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"testing"
)

func TestNewRecorderNilRepository(t *testing.T) {
	if _, err := NewRecorder(nil, slog.Default()); !errors.Is(err, ErrNilRepository) {
		t.Errorf("expected ErrNilRepository, got %v", err)
	}
}

func TestRecordAppendsValidEntry(t *testing.T) {
	repo := NewInMemoryRepository()
	recorder, err := NewRecorder(repo, slog.Default())
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}

	recorder.Record(context.Background(), EntryContent{
		DocumentID:  "doc-1",
		RecipientID: "rec-1",
		Action:      ActionDocumentSigned,
		Details:     map[string]any{"fields_signed": 2},
		ActorEmail:  "jane@example.com",
	})

	entries, err := repo.QueryByDocument(context.Background(), "doc-1", 0)
	if err != nil {
		t.Fatalf("QueryByDocument failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Action != ActionDocumentSigned {
		t.Errorf("action = %s, want document_signed", entries[0].Action)
	}
	if entries[0].CreatedAt.IsZero() {
		t.Error("created_at should be stamped")
	}
}

func TestRecordDropsInvalidEntries(t *testing.T) {
	repo := NewInMemoryRepository()
	recorder, err := NewRecorder(repo, slog.Default())
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}

	// Missing document id.
	recorder.Record(context.Background(), EntryContent{Action: ActionDocumentViewed})
	// Unknown action.
	recorder.Record(context.Background(), EntryContent{DocumentID: "doc-1", Action: "document_shredded"})

	entries, err := repo.QueryByDocument(context.Background(), "doc-1", 0)
	if err != nil {
		t.Fatalf("QueryByDocument failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries, want 0 (invalid entries dropped)", len(entries))
	}
}

type failingRepository struct{}

func (failingRepository) Append(ctx context.Context, content EntryContent) (*Entry, error) {
	return nil, errors.New("storage down")
}

func (failingRepository) QueryByDocument(ctx context.Context, documentID string, limit int) ([]*Entry, error) {
	return nil, nil
}

func TestRecordNeverPropagatesAppendFailure(t *testing.T) {
	recorder, err := NewRecorder(failingRepository{}, slog.Default())
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}

	// Must not panic or surface the error; Record has no error return by
	// contract.
	recorder.Record(context.Background(), EntryContent{
		DocumentID: "doc-1",
		Action:     ActionDocumentSigned,
	})
}

func TestExtractIPAddress(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{"remote addr with port", "203.0.113.9:4312", "", "", "203.0.113.9"},
		{"x-forwarded-for single", "10.0.0.1:80", "198.51.100.7", "", "198.51.100.7"},
		{"x-forwarded-for chain", "10.0.0.1:80", "198.51.100.7, 10.0.0.2", "", "198.51.100.7"},
		{"x-real-ip", "10.0.0.1:80", "", "198.51.100.8", "198.51.100.8"},
		{"xff wins over x-real-ip", "10.0.0.1:80", "198.51.100.7", "198.51.100.8", "198.51.100.7"},
		{"ipv6 remote addr", "[2001:db8::1]:443", "", "", "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/sign", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			if got := ExtractIPAddress(r); got != tt.want {
				t.Errorf("ExtractIPAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}
