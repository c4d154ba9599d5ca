package upstream

import (
	"errors"
	"fmt"
)

// NetworkError is a transient transport failure. Callers may retry per
// their own backoff policy.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("upstream %s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RejectedError is a server refusal (session expired, payload rejected).
// Never retried; surfaced immediately.
type RejectedError struct {
	Op      string
	Status  int
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("upstream %s: rejected (%d %s): %s", e.Op, e.Status, e.Code, e.Message)
}

// IsNetwork reports whether err is (or wraps) a transient NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsRejected reports whether err is (or wraps) a terminal RejectedError.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
