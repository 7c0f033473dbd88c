package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for audit log operations.
type Repository interface {
	// Append records one audit event. Returns the created entry.
	Append(ctx context.Context, content EntryContent) (*Entry, error)

	// QueryByDocument retrieves audit entries for a document, newest first.
	// Limit specifies the maximum number of entries to return (0 = no limit).
	QueryByDocument(ctx context.Context, documentID string, limit int) ([]*Entry, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	// Maintain insertion order for queries
	order []string
}

// NewInMemoryRepository creates a new in-memory audit repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		entries: make(map[string]*Entry),
		order:   make([]string, 0),
	}
}

// Append records one audit event.
func (r *InMemoryRepository) Append(ctx context.Context, content EntryContent) (*Entry, error) {
	entry := &Entry{
		ID:            uuid.New().String(),
		DocumentID:    content.DocumentID,
		RecipientID:   content.RecipientID,
		Action:        content.Action,
		Details:       content.Details,
		ActorEmail:    content.ActorEmail,
		ActorName:     content.ActorName,
		CreatedAt:     time.Now().UTC(),
		CorrelationID: content.CorrelationID,
		IPAddress:     content.IPAddress,
		UserAgent:     content.UserAgent,
	}

	r.mu.Lock()
	r.entries[entry.ID] = entry
	r.order = append(r.order, entry.ID)
	r.mu.Unlock()

	// Return a copy to prevent external modification
	entryCopy := *entry
	return &entryCopy, nil
}

// QueryByDocument retrieves audit entries for a document, newest first.
func (r *InMemoryRepository) QueryByDocument(ctx context.Context, documentID string, limit int) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Entry
	for i := len(r.order) - 1; i >= 0; i-- {
		entry := r.entries[r.order[i]]
		if entry.DocumentID != documentID {
			continue
		}
		entryCopy := *entry
		results = append(results, &entryCopy)
		if limit > 0 && len(results) >= limit {
			break
		}
	}

	return results, nil
}
