package tasks

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// retryable classifies a failed delivery attempt. A non-zero status means a
// response arrived: only 429 and 5xx are worth repeating. Without a
// response, cancellation is final while timeouts and network errors are
// retried.
func retryable(err error, status int) bool {
	if err == nil {
		return false
	}
	if status != 0 {
		return status == http.StatusTooManyRequests || status >= 500
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// backoff returns base * 2^retry, capped at maxDelay.
func backoff(base, maxDelay time.Duration, retry int) time.Duration {
	delay := base
	for i := 0; i < retry && delay < maxDelay; i++ {
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// waitBackoff sleeps for delay or returns early with the context error.
func waitBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
