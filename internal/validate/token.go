package validate

import (
	"errors"
	"regexp"

	"github.com/google/uuid"
)

// Credential validation errors.
var (
	ErrInvalidDocumentID = errors.New("document id is not a valid UUID")
	ErrInvalidToken      = errors.New("token has an invalid format")
)

// tokenPattern accepts opaque URL-safe tokens. Tokens are generated server
// side, so anything outside this set is a mangled or forged link.
var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_.~-]+$`)

// DocumentID validates that the given id is a well-formed UUID, returning
// its canonical form. Rejecting malformed ids here keeps garbage out of the
// uuid-typed database columns.
func DocumentID(id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", ErrInvalidDocumentID
	}
	return parsed.String(), nil
}

// AccessToken validates the shape of a signing link token. This is a format
// check only; the store decides whether the token matches a recipient.
func AccessToken(token string) (string, error) {
	validated, err := String(token, StringConstraints{
		MaxLength:      MaxTokenLength,
		AllowedPattern: tokenPattern,
		TrimSpace:      true,
	})
	if err != nil {
		return "", ErrInvalidToken
	}
	return validated, nil
}
