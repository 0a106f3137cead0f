// Package apperr holds the error kinds domain services return. HTTP handlers
// map them to status codes with errors.Is.
package apperr

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("permission denied")
	ErrInvalid   = errors.New("invalid input")
	ErrConflict  = errors.New("conflict")
)

// Invalid wraps ErrInvalid with a field-level message
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Forbidden wraps ErrForbidden with the reason
func Forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// Conflict wraps ErrConflict with the reason
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// FromDB turns gorm's record-not-found into ErrNotFound and wraps anything
// else with what was being loaded.
func FromDB(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}

// IsDuplicate reports whether a write failed on a unique constraint
func IsDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
