package quoteapi

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError signals upstream throttling (HTTP 429) or an exhausted local
// request budget. RetryAfter carries the server hint when one was provided.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// TransientError wraps a timeout or connection failure. Retried up to the
// attempt budget, then surfaced.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// StatusError is a terminal non-2xx, non-429 response. Never retried.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// MalformedResponseError is a body that could not be decoded. Retrying will
// not fix a parse failure, so it is terminal.
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string { return fmt.Sprintf("malformed response: %v", e.Err) }
func (e *MalformedResponseError) Unwrap() error { return e.Err }

// IsRateLimit reports whether err carries a rate-limit signal anywhere in its
// chain. The feed uses this to decide between per-symbol error delivery and a
// backoff transition.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// RetryAfterHint extracts the server-provided delay from a rate-limit error,
// or 0 when none was given.
func RetryAfterHint(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}
