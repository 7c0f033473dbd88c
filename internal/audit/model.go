// Package audit provides the append-only evidentiary trail for document
// signing: every view, signature, decline, and void is recorded with actor
// identity and client metadata for legal traceability.
package audit

import (
	"encoding/json"
	"time"
)

// Actions recorded in the audit log. The set is closed; Recorder rejects
// anything else.
const (
	ActionDocumentViewed   = "document_viewed"
	ActionDocumentSigned   = "document_signed"
	ActionDocumentDeclined = "document_declined"
	ActionDocumentVoided   = "document_voided"
	ActionAccessDenied     = "access_denied"
)

// ValidActions defines the allowed actions for audit entries.
var ValidActions = map[string]bool{
	ActionDocumentViewed:   true,
	ActionDocumentSigned:   true,
	ActionDocumentDeclined: true,
	ActionDocumentVoided:   true,
	ActionAccessDenied:     true,
}

// EntryContent is the input for appending an audit entry.
type EntryContent struct {
	DocumentID  string
	RecipientID string
	Action      string
	Details     map[string]any
	ActorEmail  string
	ActorName   string

	// Request metadata
	CorrelationID string
	IPAddress     string
	UserAgent     string
}

// Entry is a single immutable audit event. Entries are never mutated or
// deleted.
type Entry struct {
	ID          string         `json:"id"`
	DocumentID  string         `json:"document_id"`
	RecipientID string         `json:"recipient_id,omitempty"`
	Action      string         `json:"action"`
	Details     map[string]any `json:"details,omitempty"`
	ActorEmail  string         `json:"actor_email,omitempty"`
	ActorName   string         `json:"actor_name,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`

	CorrelationID string `json:"correlation_id,omitempty"`
	IPAddress     string `json:"ip_address,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
}

// detailsJSON serializes the structured payload for storage. A nil map
// serializes to SQL NULL rather than the JSON literal "null".
func detailsJSON(details map[string]any) ([]byte, error) {
	if details == nil {
		return nil, nil
	}
	return json.Marshal(details)
}
