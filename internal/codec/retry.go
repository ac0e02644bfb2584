package codec

import (
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// #region constants

const maxRetries = 2 // max 2 retries = 3 total attempts

// #endregion

// #region policy

// RetryPolicy decides whether a failed RPC is tried again.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// DefaultRetryPolicy retries transient failures twice.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: maxRetries, Backoff: 100 * time.Millisecond}
}

// #endregion

// #region should-retry

// ShouldRetry returns whether to retry and how long to wait first.
// attempts holds every error so far, including the one just returned.
func (p RetryPolicy) ShouldRetry(attempts []error) (time.Duration, bool) {
	if len(attempts) == 0 {
		return 0, false
	}

	// Max retries reached
	if len(attempts) > p.MaxRetries {
		return 0, false
	}

	switch status.Code(attempts[len(attempts)-1]) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
	default:
		return 0, false
	}
	return p.Backoff * time.Duration(len(attempts)), true
}

// #endregion
