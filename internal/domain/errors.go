package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrSessionClosed     = errors.New("session closed")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrRateLimited       = errors.New("rate limited")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrMissingCredential = errors.New("provider credential not configured")
	ErrAlreadyExists     = errors.New("already exists")
)

// ValidationError is a client mistake caught before any side effect.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func Invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}
