package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"
)

// RetryCap bounds every computed backoff delay.
const RetryCap = 30 * time.Second

// HTTPError is a non-2xx response from the server, carrying the body's
// message when one could be decoded.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("server returned %d", e.StatusCode)
}

// RetryPolicy decides whether a failed chunk send is retried and with what
// delay.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
}

// NewRetryPolicy creates a policy with maxAttempts tries and base delay.
func NewRetryPolicy(maxAttempts int, base time.Duration) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	return &RetryPolicy{MaxAttempts: maxAttempts, Base: base}
}

// Retryable reports whether err is worth retrying. Transport errors and
// timeouts are; cancellation and client-fault statuses are not.
func (p *RetryPolicy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		switch he.StatusCode {
		case http.StatusRequestTimeout,
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}
	// Anything else is a transport error or timeout.
	return true
}

// Delay computes the backoff for attempt k (0-based):
// min(base*2^k + jitter, cap) with jitter in [0, 0.1*base*2^k).
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	backoff := p.Base << uint(attempt)
	if backoff <= 0 || backoff > RetryCap {
		return RetryCap
	}
	jitter := time.Duration(rand.Int63n(max(int64(backoff)/10, 1)))
	d := backoff + jitter
	if d > RetryCap {
		return RetryCap
	}
	return d
}
