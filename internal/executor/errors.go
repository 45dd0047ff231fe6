package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/ShayCichocki/delegate/pkg/models"
)

var (
	// ErrCapabilityMismatch is returned when the executor lacks a required capability.
	ErrCapabilityMismatch = errors.New("executor capability mismatch")
	// ErrResourceExceeded is returned when a call would exceed the executor's budget.
	ErrResourceExceeded = errors.New("executor resource budget exceeded")
	// ErrUnavailable is a generic transient backend failure.
	ErrUnavailable = errors.New("executor temporarily unavailable")
)

// Error is a backend failure tagged with its kind.
type Error struct {
	Kind models.ErrorKind
	Err  error
}

// NewError wraps err with a kind.
func NewError(kind models.ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Errorf creates an Error with a formatted message.
func Errorf(kind models.ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf classifies an error returned by a backend.
func KindOf(err error) models.ErrorKind {
	if err == nil {
		return models.ErrorKindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		return models.ErrorKindCancelled
	case errors.Is(err, ErrCapabilityMismatch):
		return models.ErrorKindCapabilityUnsupported
	case errors.Is(err, ErrResourceExceeded):
		return models.ErrorKindResourceExceeded
	case errors.Is(err, ErrUnavailable):
		return models.ErrorKindTransientUnavailable
	default:
		return models.ErrorKindUnknown
	}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return KindOf(err).Transient()
}
