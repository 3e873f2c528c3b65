package errors

import (
	"errors"
)

// Error classes of the moderation pipeline.
var (
	ErrTransport    = errors.New("transport error")
	ErrStorage      = errors.New("storage error")
	ErrClassifier   = errors.New("classifier error")
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// IsStorage reports whether err aborts the event being processed.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}
