package gateway

import (
	"errors"
	"fmt"
	"time"
)

// Common errors returned by gateway operations.
var (
	// ErrNotAuthenticated indicates the client holds no valid token and
	// re-authentication failed.
	ErrNotAuthenticated = errors.New("gateway: not authenticated")

	// ErrSpaNotFound indicates the configured spa ID does not exist on
	// the account.
	ErrSpaNotFound = errors.New("gateway: spa not found")

	// ErrUnknownTarget indicates a TargetID that does not map to any
	// cloud endpoint.
	ErrUnknownTarget = errors.New("gateway: unknown target")
)

// ValidationError reports a request the cloud rejected as malformed or
// addressed at a nonexistent resource. Commands that fail this way are
// never retried.
type ValidationError struct {
	Status  int
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("gateway: request rejected (HTTP %d): %s", e.Status, e.Message)
}

// TransportError reports a timeout, connection failure, or transient
// server error. Callers retry these a bounded number of times.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gateway: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ThrottledError reports a rate-limit rejection. RetryAfter is the
// server-suggested wait, zero when the response carried no hint.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("gateway: rate limited, retry after %s", e.RetryAfter)
	}
	return "gateway: rate limited"
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsThrottled reports whether err is (or wraps) a ThrottledError. The
// second return is the server-suggested wait when present.
func IsThrottled(err error) (time.Duration, bool) {
	var th *ThrottledError
	if errors.As(err, &th) {
		return th.RetryAfter, true
	}
	return 0, false
}
