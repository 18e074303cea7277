// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates the request was rejected before any mutation.
var ErrValidation = errors.New("validation failed")

// ErrInvalidTransition indicates an illegal agent status change.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// Validation wraps ErrValidation with a field-specific message.
func Validation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

