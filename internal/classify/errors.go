package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// ErrorKind groups classifier failures.
type ErrorKind string

const (
	KindTransport ErrorKind = "transport"
	KindStatus    ErrorKind = "status"
	KindMalformed ErrorKind = "malformed"
)

// Error is a failed classifier call.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

// Error formats the kind, the status code when known, and the cause.
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("classifier %s error (%d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("classifier %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether retrying the call may succeed.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindTransport:
		return !errors.Is(e.Err, context.Canceled)
	case KindStatus:
		return e.StatusCode == http.StatusTooManyRequests ||
			e.StatusCode == http.StatusRequestTimeout ||
			e.StatusCode >= 500
	case KindMalformed:
		return false
	default:
		return false
	}
}

// IsError reports whether err (or any error in its chain) is an Error.
func IsError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// IsTransient reports whether err is worth retrying: a transient Error, a
// network error, or a deadline. Cancellation never is.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce.Transient()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func malformed(format string, args ...interface{}) *Error {
	return &Error{Kind: KindMalformed, Err: fmt.Errorf(format, args...)}
}
