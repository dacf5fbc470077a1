package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/streamforge/catalog-crawler/internal/metrics"
)

// pacer enforces the crawler's rateLimitDelay as minimum spacing
// between outbound fetches. One pacer is shared by all workers of a
// run, so the spacing holds across the whole worker pool.
type pacer struct {
	crawlerName string
	limiter     *rate.Limiter
}

func newPacer(crawlerName string, delay time.Duration) *pacer {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &pacer{
		crawlerName: crawlerName,
		limiter:     rate.NewLimiter(limit, 1),
	}
}

// Wait blocks until the next fetch slot, respecting the context.
func (p *pacer) Wait(ctx context.Context) error {
	start := time.Now()
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObservePacerDelay(p.crawlerName, waited)
	}
	return nil
}
