package engine

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamforge/catalog-crawler/internal/crawler"
)

func statusErr(code int) error {
	return &crawler.HTTPStatusError{StatusCode: code, URL: "https://cinehub.example/api/v1/items/x"}
}

func TestShouldRetryClassifiesErrors(t *testing.T) {
	t.Parallel()
	p := newRetryPolicy(3)

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"server error", statusErr(http.StatusInternalServerError), true},
		{"bad gateway", statusErr(http.StatusBadGateway), true},
		{"throttled", statusErr(http.StatusTooManyRequests), true},
		{"not found", statusErr(http.StatusNotFound), false},
		{"bad request", statusErr(http.StatusBadRequest), false},
		{"forbidden", statusErr(http.StatusForbidden), false},
		{"connection refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, true},
		{"generic transport", errors.New("connection reset by peer"), true},
		{"context canceled", context.Canceled, false},
		{"context deadline", context.DeadlineExceeded, false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, p.ShouldRetry(tc.err, 0))
		})
	}
}

func TestShouldRetryStopsAtMaxRetries(t *testing.T) {
	t.Parallel()
	p := newRetryPolicy(2)
	err := statusErr(http.StatusServiceUnavailable)

	require.True(t, p.ShouldRetry(err, 0))
	require.True(t, p.ShouldRetry(err, 1))
	require.False(t, p.ShouldRetry(err, 2))
}

func TestBackoffGrowsAndStaysBounded(t *testing.T) {
	t.Parallel()
	p := newRetryPolicy(5)

	for attempt := 0; attempt < 8; attempt++ {
		d := p.Backoff(attempt)
		require.Greater(t, d, time.Duration(0))
		require.LessOrEqual(t, d, p.maxDelay)
	}
	// Half the delay is fixed, so attempt 2 always exceeds the full
	// base delay of attempt 0.
	require.Greater(t, p.Backoff(2), p.baseDelay)
}
