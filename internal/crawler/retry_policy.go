package crawler

import (
	"math"
	"time"
)

// MaxRetries bounds how often a transient failure is requeued.
const MaxRetries = 5

// ExponentialRetryPolicy decides whether a transient failure is requeued and
// how far in the future the next attempt becomes eligible.
type ExponentialRetryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewExponentialRetryPolicy builds a policy with sane defaults.
func NewExponentialRetryPolicy() *ExponentialRetryPolicy {
	return &ExponentialRetryPolicy{
		maxRetries: MaxRetries,
		baseDelay:  30 * time.Second,
		maxDelay:   6 * time.Hour,
	}
}

// NewRetryPolicy builds a policy with explicit bounds.
func NewRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration) *ExponentialRetryPolicy {
	p := NewExponentialRetryPolicy()
	if maxRetries > 0 {
		p.maxRetries = maxRetries
	}
	if baseDelay > 0 {
		p.baseDelay = baseDelay
	}
	if maxDelay > 0 {
		p.maxDelay = maxDelay
	}
	return p
}

// ShouldRetry reports whether a task that has already been retried
// numRetries times may be requeued again.
func (p *ExponentialRetryPolicy) ShouldRetry(numRetries int) bool {
	return numRetries < p.maxRetries
}

// Backoff returns the delay before the next attempt. A server supplied
// Retry-After wins when it is longer.
func (p *ExponentialRetryPolicy) Backoff(numRetries int, retryAfter time.Duration) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(numRetries))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	d := time.Duration(delay)
	if retryAfter > d {
		return retryAfter
	}
	return d
}
