package transport

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/st-keller/quakefeed-client/earthquake"
)

// StatusError reports a response whose status was not 200.
// It matches both earthquake.ErrNetwork and earthquake.ErrUnexpectedStatus.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

func (e *StatusError) Unwrap() []error {
	return []error{earthquake.ErrNetwork, earthquake.ErrUnexpectedStatus}
}

// NetworkError reports a transport-level failure: timeout, DNS, refused or reset connection.
type NetworkError struct {
	Cause   error
	Timeout bool
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("network timeout: %v", e.Cause)
	}
	return fmt.Sprintf("network error: %v", e.Cause)
}

func (e *NetworkError) Unwrap() []error {
	return []error{earthquake.ErrNetwork, e.Cause}
}

func newNetworkError(cause error) *NetworkError {
	return &NetworkError{Cause: cause, Timeout: isTimeout(cause)}
}

// isTimeout walks the whole chain: *url.Error implements Timeout() itself and
// reports false when the deadline error sits deeper.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if t, ok := e.(interface{ Timeout() bool }); ok && t.Timeout() {
			return true
		}
	}
	return false
}
