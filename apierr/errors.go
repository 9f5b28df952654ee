package apierr

import (
	"errors"
	"fmt"
)

// Error is a classified backend failure.
type Error struct {
	Op      string // Operation that failed ("refresh", "exchange")
	Kind    Kind   // Classified category
	Message string // Normalized backend message
	Status  int    // HTTP status, 0 when not from an HTTP response
	Err     error  // Underlying transport error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d, %s)", e.Op, msg, e.Status, e.Kind)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Op, msg, e.Kind)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// New classifies msg and wraps it as an Error.
func New(op, msg string, status int) *Error {
	return &Error{
		Op:      op,
		Kind:    Classify(msg),
		Message: msg,
		Status:  status,
	}
}

// Wrap classifies a local failure such as a transport error.
func Wrap(op string, err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &Error{
		Op:      op,
		Kind:    Classify(err.Error()),
		Message: err.Error(),
		Err:     err,
	}
}

// KindOf returns the Kind carried by err, or Unknown.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return Unknown
}

// IsRetryable reports whether a later retry of the same call may succeed.
// Expired sessions are retryable because the next call refreshes first.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case RateLimitExceeded, ConcurrentMessageInProgress, SessionExpired:
		return true
	default:
		return false
	}
}
