package throttle

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrThrottleStopped is returned to callers whose queued calls were flushed
// by a shutdown before they could run.
var ErrThrottleStopped = errors.New("throttle stopped")

// RateLimitError marks a downstream response as a rate-limit/overload
// condition the throttle should retry with backoff. RetryAfter is optional;
// when set it takes precedence over the computed backoff delay.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Err == nil {
		return "rate limited"
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// IsRateLimit reports whether err marks a retryable rate-limit condition.
func IsRateLimit(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}

// ParseRetryAfter parses a Retry-After header value, either delta-seconds or
// an HTTP date.
func ParseRetryAfter(value string) (time.Duration, error) {
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	if t, err := time.Parse(time.RFC1123, value); err == nil {
		return time.Until(t), nil
	}

	return 0, fmt.Errorf("invalid Retry-After value: %s", value)
}
