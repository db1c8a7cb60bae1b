package library

import (
	"errors"
	"fmt"

	"melodycloud/internal/catalog"
)

// Error classes. Callers test with errors.Is.
var (
	ErrMissingAudio     = errors.New("audio file is required")
	ErrInvalidMediaType = errors.New("invalid media type")
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrNotFound         = errors.New("track not found")
	ErrStorageWrite     = errors.New("storage write failed")

	// ErrPersistence is the catalog store's error class, re-exported so
	// callers need only this package.
	ErrPersistence = catalog.ErrPersistence
)

// ValidationError describes rejected input. It wraps one of
// ErrMissingAudio, ErrInvalidMediaType or ErrPayloadTooLarge.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
