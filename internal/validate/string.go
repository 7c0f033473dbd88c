// Package validate provides input validation for the signing API. It bounds
// the values signers submit before they reach the service layer; the database
// constraints remain the authoritative defense.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// String validation errors.
var (
	ErrEmpty             = errors.New("string is empty")
	ErrStringTooLong     = errors.New("string is too long")
	ErrInvalidCharacters = errors.New("string contains invalid characters")
)

// Value bounds for signer-submitted input.
const (
	MaxFieldValueLength = 10000
	MaxTokenLength      = 256
)

// StringConstraints defines validation constraints for a string.
type StringConstraints struct {
	MaxLength      int            // Maximum length in runes (0 = no maximum)
	AllowedPattern *regexp.Regexp // Optional pattern the whole string must match
	AllowEmpty     bool           // Whether empty strings are allowed
	TrimSpace      bool           // Whether to trim whitespace before validation
}

// String validates a string against the given constraints. Returns the
// validated (and optionally trimmed) string.
func String(s string, constraints StringConstraints) (string, error) {
	if constraints.TrimSpace {
		s = strings.TrimSpace(s)
	}

	if s == "" {
		if !constraints.AllowEmpty {
			return "", ErrEmpty
		}
		return s, nil
	}

	length := utf8.RuneCountInString(s)
	if constraints.MaxLength > 0 && length > constraints.MaxLength {
		return "", fmt.Errorf("%w: got %d chars, maximum is %d", ErrStringTooLong, length, constraints.MaxLength)
	}

	if constraints.AllowedPattern != nil && !constraints.AllowedPattern.MatchString(s) {
		return "", fmt.Errorf("%w: does not match required pattern", ErrInvalidCharacters)
	}

	return s, nil
}

// FieldValue validates a submitted field value. Values are trimmed and
// bounded; an empty result is allowed because the service treats an empty
// value as the field not being filled.
func FieldValue(value string) (string, error) {
	return String(value, StringConstraints{
		MaxLength:  MaxFieldValueLength,
		AllowEmpty: true,
		TrimSpace:  true,
	})
}
