// Package signing implements the document e-signature core: the document and
// recipient state machines, token-gated access for external signers, field
// collection and validation, and completion detection.
package signing

import "fmt"

// DocumentStatus is the lifecycle status of a signable document.
type DocumentStatus string

// Document lifecycle states. Voided is reachable from any non-terminal state
// and is absorbing; completed is terminal.
const (
	DocumentDraft      DocumentStatus = "draft"
	DocumentSent       DocumentStatus = "sent"
	DocumentInProgress DocumentStatus = "in_progress"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentVoided     DocumentStatus = "voided"
)

// RecipientStatus is the lifecycle status of a single signer.
type RecipientStatus string

// Recipient lifecycle states. Signed and declined are terminal.
const (
	RecipientPending  RecipientStatus = "pending"
	RecipientSent     RecipientStatus = "sent"
	RecipientViewed   RecipientStatus = "viewed"
	RecipientSigned   RecipientStatus = "signed"
	RecipientDeclined RecipientStatus = "declined"
)

// documentTransitions is the closed transition table for documents.
// Any (from, to) pair not listed here is rejected.
var documentTransitions = map[DocumentStatus]map[DocumentStatus]bool{
	DocumentDraft: {
		DocumentSent:   true,
		DocumentVoided: true,
	},
	DocumentSent: {
		DocumentInProgress: true,
		DocumentCompleted:  true, // single-signer documents skip in_progress
		DocumentVoided:     true,
	},
	DocumentInProgress: {
		DocumentInProgress: true, // further signatures while signers remain
		DocumentCompleted:  true,
		DocumentVoided:     true,
	},
	DocumentCompleted: {},
	DocumentVoided:    {},
}

// recipientTransitions is the closed transition table for recipients.
// Viewed is best-effort: a recipient may sign or decline directly from
// pending/sent when read and write arrive in rapid succession.
var recipientTransitions = map[RecipientStatus]map[RecipientStatus]bool{
	RecipientPending: {
		RecipientSent:     true,
		RecipientViewed:   true,
		RecipientSigned:   true,
		RecipientDeclined: true,
	},
	RecipientSent: {
		RecipientViewed:   true,
		RecipientSigned:   true,
		RecipientDeclined: true,
	},
	RecipientViewed: {
		RecipientSigned:   true,
		RecipientDeclined: true,
	},
	RecipientSigned:   {},
	RecipientDeclined: {},
}

// ValidDocumentStatus reports whether s is a known document status.
func ValidDocumentStatus(s DocumentStatus) bool {
	_, ok := documentTransitions[s]
	return ok
}

// ValidRecipientStatus reports whether s is a known recipient status.
func ValidRecipientStatus(s RecipientStatus) bool {
	_, ok := recipientTransitions[s]
	return ok
}

// CanTransitionDocument reports whether a document may move from one status
// to another. Unknown statuses are never allowed.
func CanTransitionDocument(from, to DocumentStatus) bool {
	return documentTransitions[from][to]
}

// CanTransitionRecipient reports whether a recipient may move from one
// status to another. Unknown statuses are never allowed.
func CanTransitionRecipient(from, to RecipientStatus) bool {
	return recipientTransitions[from][to]
}

// Terminal reports whether the document status accepts no further
// transitions.
func (s DocumentStatus) Terminal() bool {
	return len(documentTransitions[s]) == 0 && ValidDocumentStatus(s)
}

// Terminal reports whether the recipient status accepts no further
// transitions.
func (s RecipientStatus) Terminal() bool {
	return len(recipientTransitions[s]) == 0 && ValidRecipientStatus(s)
}

// CheckDocumentTransition returns a descriptive error when the transition is
// not in the table.
func CheckDocumentTransition(from, to DocumentStatus) error {
	if !CanTransitionDocument(from, to) {
		return fmt.Errorf("invalid document transition %s -> %s", from, to)
	}
	return nil
}

// CheckRecipientTransition returns a descriptive error when the transition
// is not in the table.
func CheckRecipientTransition(from, to RecipientStatus) error {
	if !CanTransitionRecipient(from, to) {
		return fmt.Errorf("invalid recipient transition %s -> %s", from, to)
	}
	return nil
}
