package redisstream

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/streamforge/catalog-crawler/internal/crawler"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	q, err := NewQueue(context.Background(), Config{
		Addr:   mr.Addr(),
		Stream: "runs",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func runRequest(runID string) crawler.RunRequest {
	return crawler.RunRequest{
		RunID:   runID,
		Crawler: crawler.Settings{Name: "cinehub"},
	}
}

func TestDequeueDeliversRequestEnqueuedFirst(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)

	require.NoError(t, q.Enqueue(context.Background(), runRequest("run-1")))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "run-1", got.RunID)
	require.Equal(t, "cinehub", got.Crawler.Name)
}

func TestConcurrentDequeueDeliversEachRequestOnce(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)

	const total = 8
	for i := 0; i < total; i++ {
		require.NoError(t, q.Enqueue(context.Background(), runRequest(fmt.Sprintf("run-%d", i))))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				req, err := q.Dequeue(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[req.RunID]++
				done := len(seen) == total
				mu.Unlock()
				if done {
					cancel()
					return
				}
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, total)
	for runID, count := range seen {
		require.Equal(t, 1, count, "run %s delivered %d times", runID, count)
	}
}

func TestDequeueSkipsMalformedEntries(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)

	err := q.client.XAdd(context.Background(), &redis.XAddArgs{
		Stream: "runs",
		Values: map[string]any{"request": "{not json"},
	}).Err()
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(context.Background(), runRequest("run-ok")))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "run-ok", got.RunID)
}

func TestDequeueTimesOutWhenEmpty(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
