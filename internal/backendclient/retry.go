package backendclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	maxRetries = 3
	baseDelay  = 2 * time.Second
	maxDelay   = 30 * time.Second
)

// backoffDelay returns the delay before retry attempt n (1-indexed): 2s,
// 4s, 8s, 16s, ... capped at 30s. Exposed standalone so its schedule can be
// asserted directly (testable property 6) independent of the attempt cap.
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

// httpStatusError carries a non-2xx HTTP status code so isRetryable can
// classify it without callers needing to pass the status around separately.
type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Body)
}

// retryableSubstrings is the closed set of failure patterns worth retrying.
// Anything else is reported to the caller without retry.
var retryableSubstrings = []string{
	"timeout",
	"connection refused",
	"connection reset",
	"network unreachable",
	"temporary failure",
	"rate limit",
}

// isRetryable classifies a request failure by its status code (for HTTP
// responses) and, failing that, by matching its error text against the
// closed retry set.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case 429, 502, 503, 504:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	lower := strings.ToLower(err.Error())
	for _, substr := range retryableSubstrings {
		if strings.Contains(lower, substr) {
			return true
		}
	}
	return false
}

// sleepBetweenRetries is a package-level hook so tests can shrink the
// backoff wait without changing the schedule withRetry asks for.
var sleepBetweenRetries = func(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// withRetry runs fn up to 1+maxRetries times, sleeping backoffDelay(attempt)
// between attempts while the failure remains retryable and the context has
// not been canceled.
func withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
		if attempt > maxRetries {
			break
		}
		if err := sleepBetweenRetries(ctx, backoffDelay(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}
