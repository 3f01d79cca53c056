package faults

import (
	"errors"
	"strings"
	"time"
)

// Kind is the closed classification of failure causes shared across workers.
// Queue consumers receive one of these regardless of which internal step failed.
type Kind string

const (
	KindVideoUnavailable Kind = "VIDEO_UNAVAILABLE"
	KindNetworkError     Kind = "NETWORK_ERROR"
	KindConversionError  Kind = "CONVERSION_ERROR"
	KindValidationError  Kind = "VALIDATION_ERROR"
	KindStorageError     Kind = "STORAGE_ERROR"
	KindTimeout          Kind = "TIMEOUT"
	KindUnknownError     Kind = "UNKNOWN_ERROR"
)

// Error is a classified failure with a human-readable message.
// Classification happens once, at the point of detection; callers
// never pattern-match on internal error types.
type Error struct {
	Kind      Kind
	Message   string
	Timestamp time.Time
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// New creates a classified error with the current timestamp.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// As extracts a classified error from an error chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the classification of an error. Errors that were never
// classified map to KindUnknownError.
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return KindUnknownError
}

// Wrap classifies an arbitrary error, preserving an existing classification
// if the error already carries one.
func Wrap(kind Kind, err error) *Error {
	if fe, ok := As(err); ok {
		return fe
	}
	return New(kind, err.Error())
}

// ClassifyConverterOutput maps the stderr of the external converter to an
// error kind using the same substring rules the converter tool emits.
func ClassifyConverterOutput(stderr string) *Error {
	if strings.Contains(stderr, "Video unavailable") {
		return New(KindVideoUnavailable, "The requested video is unavailable")
	}
	if strings.Contains(stderr, "Unable to download") || strings.Contains(stderr, "Network Error") {
		return New(KindNetworkError, "Failed to download due to network issues")
	}
	if strings.Contains(stderr, "ERROR:") {
		return New(KindConversionError, "Failed to convert audio")
	}
	return New(KindUnknownError, "An unexpected error occurred")
}
