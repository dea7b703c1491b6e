// Package credentials contains pure functions for reading credential store
// contents. This is part of the Functional Core - all functions are pure with no I/O.
package credentials

import (
	"fmt"

	"github.com/artpar/deploycheck/internal/core/domain"
)

// =============================================================================
// Error Types
// =============================================================================

// Both errors satisfy errors.Is(err, domain.ErrCredentialParse).
var (
	ErrInvalidJSON       = fmt.Errorf("%w: invalid JSON", domain.ErrCredentialParse)
	ErrUnrecognizedShape = fmt.Errorf("%w: unrecognized store shape", domain.ErrCredentialParse)
)

// ParseError wraps errors with context about where parsing failed.
type ParseError struct {
	Source  string // file the content came from
	Field   string // e.g., "[2]" or "TWITTER"
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	prefix := e.Source
	if e.Field != "" {
		if prefix != "" {
			prefix += " "
		}
		prefix += e.Field
	}
	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError.
func NewParseError(source, field, message string, err error) *ParseError {
	return &ParseError{
		Source:  source,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
