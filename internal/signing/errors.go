package signing

import (
	"errors"
	"fmt"
)

// Domain errors for the signing core. Handlers map these to HTTP statuses;
// the wording stays generic so an external signer cannot distinguish an
// unknown token from one belonging to another document.
var (
	// ErrUnauthorized is returned when no recipient matches the
	// (document, token) pair. Deliberately indistinguishable from an
	// unknown token.
	ErrUnauthorized = errors.New("invalid signing link")

	// ErrTokenExpired is returned when the token is past token_expires_at.
	ErrTokenExpired = errors.New("this signing link has expired")

	// ErrDocumentNotFound is returned when the document row is missing.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrRecipientNotFound is returned by repositories when a recipient
	// lookup fails.
	ErrRecipientNotFound = errors.New("recipient not found")

	// ErrFieldNotFound is returned by repositories when a field lookup fails.
	ErrFieldNotFound = errors.New("field not found")

	// ErrDocumentVoided is returned when the document has been voided.
	// Voiding takes precedence over the recipient's own state.
	ErrDocumentVoided = errors.New("this document has been voided")

	// ErrAlreadySigned is returned when the recipient already signed.
	ErrAlreadySigned = errors.New("this document has already been signed")

	// ErrAlreadyDeclined is returned when the recipient already declined.
	ErrAlreadyDeclined = errors.New("this document has already been declined")

	// ErrDocumentTerminal is returned when voiding a document that is
	// already completed or voided.
	ErrDocumentTerminal = errors.New("document is already in a terminal state")
)

// MissingFieldsError reports required fields that have no supplied value.
// Carries the field IDs so the boundary can surface a details array.
type MissingFieldsError struct {
	FieldIDs []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("%d required field(s) missing a value", len(e.FieldIDs))
}

// Count returns the number of missing required fields.
func (e *MissingFieldsError) Count() int {
	return len(e.FieldIDs)
}
