package app

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized indicates no authenticated identity for the request.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound covers both a missing entity and an entity owned by
	// someone else; callers cannot tell the two apart.
	ErrNotFound = errors.New("not found")
)

// ValidationError reports invalid input. Validation runs before any
// persistence call, so a failing operation has no side effects.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
