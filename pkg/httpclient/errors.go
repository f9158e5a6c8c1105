package httpclient

import (
	"fmt"
	"time"
)

// RetryableError reports a request that failed after its retry budget, with
// the delay that would have preceded the next attempt.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	msg := fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %v)", e.RetryAfter)
	}
	return msg
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable reports that the failure was transient; callers holding one of
// these may try again later.
func (e *RetryableError) IsRetryable() bool {
	return true
}
