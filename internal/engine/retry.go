package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net/http"
	"time"

	"github.com/streamforge/catalog-crawler/internal/crawler"
)

// retryPolicy implements jittered exponential backoff bounded by the
// crawler's configured retry count. maxRetries counts retries after
// the first attempt, so maxRetries=0 means exactly one attempt.
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func newRetryPolicy(maxRetries int) *retryPolicy {
	return &retryPolicy{
		maxRetries: maxRetries,
		baseDelay:  250 * time.Millisecond,
		maxDelay:   5 * time.Second,
	}
}

// ShouldRetry decides whether the error is retryable. attempt is the
// zero-based index of the attempt that just failed.
func (p *retryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxRetries {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *crawler.HTTPStatusError
	if errors.As(err, &statusErr) {
		// Server errors and throttling are worth another attempt; any
		// other client error will not change on retry.
		return statusErr.StatusCode >= http.StatusInternalServerError ||
			statusErr.StatusCode == http.StatusTooManyRequests
	}
	// Transport failures (timeouts, refused or reset connections) are
	// transient.
	return true
}

// Backoff returns the wait duration before the next attempt.
func (p *retryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *retryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
