package sink

import (
	"errors"
	"fmt"
)

// Push failures fall into two classes. Retryable failures (sink unreachable,
// server-side 5xx) are retried at the same record by the caller. Rejected
// failures (malformed payload, client-side 4xx) are data-level: retrying the
// same bytes cannot succeed.
var (
	ErrRetryable = errors.New("sink: transient failure")
	ErrRejected  = errors.New("sink: request rejected")
)

// RetryableErr wraps err as a transient sink failure.
func RetryableErr(err error) error {
	return fmt.Errorf("%w: %w", ErrRetryable, err)
}

// RejectedErr wraps err as a data-level rejection.
func RejectedErr(err error) error {
	return fmt.Errorf("%w: %w", ErrRejected, err)
}

func Retryable(err error) bool { return errors.Is(err, ErrRetryable) }
func Rejected(err error) bool  { return errors.Is(err, ErrRejected) }
