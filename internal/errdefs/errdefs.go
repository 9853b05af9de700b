package errdefs

import (
	"context"
	"errors"
	"fmt"
)

// Failure classes surfaced by the engine. Callers compare with errors.Is.
var (
	ErrNetwork             = errors.New("network error")
	ErrNotFound            = errors.New("not found")
	ErrToolFailed          = errors.New("patch tool failed")
	ErrDisk                = errors.New("disk error")
	ErrInvalidRange        = errors.New("invalid version range")
	ErrOperationInProgress = errors.New("operation already in progress")
	ErrCancelled           = errors.New("operation cancelled")
	ErrNotImplemented      = errors.New("not implemented")
	ErrInvalidRequest      = errors.New("invalid request")
)

// Error attaches a failure class to an underlying cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap classifies err under kind. A nil err yields a bare classified error.
func Wrap(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// FromContext maps a context error to ErrCancelled. Deadline expiry is also
// reported as a cancellation.
func FromContext(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Wrap(ErrCancelled, op, err)
	}
	return err
}

// IsCancelled reports whether err represents a cooperative cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// Kind returns a stable string code for err, used by bridge responses.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsCancelled(err):
		return "cancelled"
	case errors.Is(err, ErrOperationInProgress):
		return "in_progress"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrToolFailed):
		return "tool_failed"
	case errors.Is(err, ErrInvalidRange):
		return "invalid_range"
	case errors.Is(err, ErrDisk):
		return "disk"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrNotImplemented):
		return "not_implemented"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return "internal"
	}
}

// Fallbackable reports whether a patch failure should be retried as a full
// download.
func Fallbackable(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrToolFailed)
}
