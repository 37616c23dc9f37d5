package chainlog

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidLevel is returned when Append receives a level other than INFO, WARNING or ERROR.
	ErrInvalidLevel = errors.New("invalid log level, use INFO, WARNING or ERROR")
	// ErrMissingIdentity is returned when Append receives an empty identity.
	ErrMissingIdentity = errors.New("identity cannot be empty")
	// ErrEmptyMessage is returned when Append receives an empty message.
	ErrEmptyMessage = errors.New("message cannot be empty")
	// ErrMultilineField is returned when an identity or message contains a line break.
	ErrMultilineField = errors.New("identity and message cannot contain line breaks")
	// ErrQuotedIdentity is returned when an identity contains the quote that delimits the digest.
	ErrQuotedIdentity = errors.New("identity cannot contain a single quote")
	// ErrMissingPath is returned when a Log is constructed without a backing file path.
	ErrMissingPath = errors.New("log file path is required")
	// ErrIntegrityViolation is the sentinel wrapped by every IntegrityError.
	ErrIntegrityViolation = errors.New("hash chain integrity violation")
)

// IntegrityError describes where a chain failed verification.
type IntegrityError struct {
	Reason   Reason
	Position int // 0-based chain index of the first bad entry, -1 if structural
	Line     int // 1-based file line of the first bad entry, 0 if structural
}

func (e *IntegrityError) Error() string {
	if e.Position < 0 {
		return fmt.Sprintf("%s: %s", ErrIntegrityViolation, e.Reason)
	}
	return fmt.Sprintf("%s: %s at position %d (line %d)", ErrIntegrityViolation, e.Reason, e.Position, e.Line)
}

// Unwrap lets errors.Is match ErrIntegrityViolation.
func (e *IntegrityError) Unwrap() error {
	return ErrIntegrityViolation
}
