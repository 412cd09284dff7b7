package models

import "github.com/pkg/errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrConflict             = errors.New("conflict: entity was modified concurrently")
	ErrValidation           = errors.New("validation failed")
	ErrNoAvailableCollector = errors.New("no available collector")
	ErrForbidden            = errors.New("forbidden")
	ErrStoreUnavailable     = errors.New("store unavailable")
)

// Validationf returns an error matching ErrValidation with a caller-facing message.
func Validationf(format string, args ...any) error {
	return errors.Wrapf(ErrValidation, format, args...)
}
