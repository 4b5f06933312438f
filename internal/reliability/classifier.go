package reliability

import (
	"strings"
	"time"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsTransientPageError classifies page-level failures that a fresh attempt on
// the same session can recover from, as opposed to a dead browser connection.
func IsTransientPageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"element is not attached",
		"element is not visible",
		"element is not enabled",
		"timeout",
		"navigation interrupted",
		"execution context was destroyed",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsConnectionLost classifies errors that mean the browser session itself is
// gone and must be reacquired before retrying.
func IsConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"target closed",
		"browser has been closed",
		"connection refused",
		"websocket: close",
		"context or browser has been closed",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
