// Package engine consumes run requests and executes catalog walks.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/streamforge/catalog-crawler/internal/crawler"
	"github.com/streamforge/catalog-crawler/internal/metrics"
)

// Config controls engine behavior.
type Config struct {
	// ArchivePrefix is prepended to payload object paths.
	ArchivePrefix string
	// ArchiveContentType is the content type recorded for archived
	// payloads.
	ArchiveContentType string
}

// Engine consumes run requests from the queue and walks source
// catalogs. Each request carries its own settings snapshot; the engine
// never reads the settings store.
type Engine struct {
	queue   crawler.Queue
	catalog crawler.CatalogStore
	tracker crawler.RunTracker
	archive crawler.ArchiveStore
	hasher  crawler.Hasher
	clock   crawler.Clock
	sources crawler.SourceFactory
	cfg     Config
	logger  *zap.Logger
}

func New(
	queue crawler.Queue,
	catalog crawler.CatalogStore,
	tracker crawler.RunTracker,
	archive crawler.ArchiveStore,
	hasher crawler.Hasher,
	clock crawler.Clock,
	sources crawler.SourceFactory,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ArchiveContentType == "" {
		cfg.ArchiveContentType = "application/json"
	}
	return &Engine{
		queue:   queue,
		catalog: catalog,
		tracker: tracker,
		archive: archive,
		hasher:  hasher,
		clock:   clock,
		sources: sources,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run blocks, consuming run requests until the context finishes.
func (e *Engine) Run(ctx context.Context) {
	for {
		req, err := e.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		e.processRun(ctx, req)
	}
}

func (e *Engine) processRun(ctx context.Context, req crawler.RunRequest) {
	name := req.Crawler.Name
	logger := e.logger.With(
		zap.String("crawler", name),
		zap.String("run_id", req.RunID),
	)

	// When the request was dispatched by another instance, the local
	// tracker has no slot yet; claim it so Finish has a run to close.
	e.tracker.TryStart(name, req.RunID)

	metrics.IncActiveRuns()
	defer metrics.DecActiveRuns()

	logger.Info("run started",
		zap.String("slug", req.Slug),
		zap.Bool("force_update", req.Crawler.ForceUpdate),
	)

	start := e.clock.Now()
	status, counters := e.crawl(ctx, req, logger)
	e.tracker.Finish(name, status, counters)
	metrics.ObserveRun(name, string(status))

	logger.Info("run finished",
		zap.String("status", string(status)),
		zap.Int("items_fetched", counters.ItemsFetched),
		zap.Int("items_skipped", counters.ItemsSkipped),
		zap.Int("items_failed", counters.ItemsFailed),
		zap.Int("retries", counters.Retries),
		zap.Duration("elapsed", e.clock.Now().Sub(start)),
	)
}

// runTally accumulates per-run counters. consecutiveSkips is the
// early-exit trigger; it resets on any fetch or failure and is never
// mixed into ItemsFailed.
type runTally struct {
	mu               sync.Mutex
	counters         crawler.RunCounters
	consecutiveSkips int
}

func (t *runTally) fetched() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters.ItemsFetched++
	t.consecutiveSkips = 0
}

// skipped reports whether the consecutive-skip threshold has been
// reached. A threshold of zero disables the early exit.
func (t *runTally) skipped(threshold int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters.ItemsSkipped++
	t.consecutiveSkips++
	return threshold > 0 && t.consecutiveSkips >= threshold
}

func (t *runTally) failed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters.ItemsFailed++
	t.consecutiveSkips = 0
}

func (t *runTally) retried() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters.Retries++
}

func (t *runTally) snapshot() crawler.RunCounters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters
}

func (e *Engine) crawl(ctx context.Context, req crawler.RunRequest, logger *zap.Logger) (crawler.RunStatus, crawler.RunCounters) {
	settings := req.Crawler
	source := e.sources(settings)
	pace := newPacer(settings.Name, settings.RateLimitDelay())
	retries := newRetryPolicy(settings.MaxRetries)
	tally := &runTally{}

	if req.SingleItem() {
		e.processSlug(ctx, source, settings, req.Slug, pace, retries, tally, logger)
		counters := tally.snapshot()
		switch {
		case ctx.Err() != nil:
			return crawler.RunStatusCanceled, counters
		case counters.ItemsFailed > 0:
			return crawler.RunStatusFailed, counters
		default:
			return crawler.RunStatusCompleted, counters
		}
	}

	// walkCtx is canceled when the consecutive-skip threshold fires so
	// in-flight workers stop promptly.
	walkCtx, cancelWalk := context.WithCancel(ctx)
	defer cancelWalk()

	aborted := false
	var walkErr error

	for page := 1; ; page++ {
		slugs, hasMore, err := e.listPage(walkCtx, source, page, retries, tally)
		if err != nil {
			walkErr = err
			break
		}

		e.walkPage(walkCtx, source, settings, slugs, pace, retries, tally, &aborted, cancelWalk, logger)
		if aborted || walkCtx.Err() != nil || !hasMore {
			break
		}
	}

	counters := tally.snapshot()
	switch {
	case aborted:
		return crawler.RunStatusAbortedSkips, counters
	case ctx.Err() != nil:
		return crawler.RunStatusCanceled, counters
	case walkErr != nil:
		logger.Error("catalog walk failed", zap.Error(walkErr))
		return crawler.RunStatusFailed, counters
	default:
		return crawler.RunStatusCompleted, counters
	}
}

// listPage fetches one catalog page, retrying transient failures per
// the run's policy.
func (e *Engine) listPage(ctx context.Context, source crawler.Source, page int, retries *retryPolicy, tally *runTally) ([]string, bool, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		slugs, hasMore, err := source.ListSlugs(ctx, page)
		if err == nil {
			return slugs, hasMore, nil
		}
		lastErr = err
		if !retries.ShouldRetry(err, attempt) {
			break
		}
		tally.retried()
		if !sleepCtx(ctx, retries.Backoff(attempt)) {
			break
		}
	}
	return nil, false, fmt.Errorf("list catalog page %d: %w", page, lastErr)
}

// walkPage runs a bounded worker pool over the page's slugs. The pool
// size is the crawler's maxConcurrentRequests; the shared pacer keeps
// the minimum spacing across all workers.
func (e *Engine) walkPage(
	ctx context.Context,
	source crawler.Source,
	settings crawler.Settings,
	slugs []string,
	pace *pacer,
	retries *retryPolicy,
	tally *runTally,
	aborted *bool,
	cancelWalk context.CancelFunc,
	logger *zap.Logger,
) {
	work := make(chan string)
	var wg sync.WaitGroup
	var abortOnce sync.Once

	for i := 0; i < settings.MaxConcurrentRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for slug := range work {
				outcome := e.processSlug(ctx, source, settings, slug, pace, retries, tally, logger)
				if outcome == outcomeSkipLimit {
					abortOnce.Do(func() {
						*aborted = true
						cancelWalk()
					})
					return
				}
			}
		}()
	}

feed:
	for _, slug := range slugs {
		select {
		case <-ctx.Done():
			break feed
		case work <- slug:
		}
	}
	close(work)
	wg.Wait()
}

type slugOutcome int

const (
	outcomeFetched slugOutcome = iota
	outcomeSkipped
	outcomeSkipLimit
	outcomeFailed
)

// processSlug fetches one item, decides skip vs upsert and records the
// outcome.
func (e *Engine) processSlug(
	ctx context.Context,
	source crawler.Source,
	settings crawler.Settings,
	slug string,
	pace *pacer,
	retries *retryPolicy,
	tally *runTally,
	logger *zap.Logger,
) slugOutcome {
	item, err := e.fetchWithRetry(ctx, source, slug, pace, retries, tally)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeFailed
		}
		tally.failed()
		metrics.ObserveItem(settings.Name, metrics.OutcomeFailed)
		logger.Warn("item fetch failed",
			zap.String("slug", slug),
			zap.Error(err),
		)
		return outcomeFailed
	}

	hash, err := e.hasher.Hash(item.Payload)
	if err != nil {
		tally.failed()
		metrics.ObserveItem(settings.Name, metrics.OutcomeFailed)
		logger.Error("hash payload failed", zap.String("slug", slug), zap.Error(err))
		return outcomeFailed
	}

	if !settings.ForceUpdate {
		stored, err := e.catalog.ContentHash(ctx, settings.Name, slug)
		if err != nil {
			tally.failed()
			metrics.ObserveItem(settings.Name, metrics.OutcomeFailed)
			logger.Error("content hash lookup failed", zap.String("slug", slug), zap.Error(err))
			return outcomeFailed
		}
		if stored != "" && stored == hash {
			metrics.ObserveItem(settings.Name, metrics.OutcomeSkipped)
			if tally.skipped(settings.MaxContinuousSkips) {
				logger.Info("continuous skip limit reached",
					zap.Int("max_continuous_skips", settings.MaxContinuousSkips),
				)
				return outcomeSkipLimit
			}
			return outcomeSkipped
		}
	}

	if err := e.upsert(ctx, settings, slug, item, hash); err != nil {
		tally.failed()
		metrics.ObserveItem(settings.Name, metrics.OutcomeFailed)
		logger.Error("catalog upsert failed", zap.String("slug", slug), zap.Error(err))
		return outcomeFailed
	}

	tally.fetched()
	metrics.ObserveItem(settings.Name, metrics.OutcomeFetched)
	return outcomeFetched
}

func (e *Engine) fetchWithRetry(
	ctx context.Context,
	source crawler.Source,
	slug string,
	pace *pacer,
	retries *retryPolicy,
	tally *runTally,
) (crawler.Item, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := pace.Wait(ctx); err != nil {
			return crawler.Item{}, err
		}
		item, err := source.FetchItem(ctx, slug)
		if err == nil {
			return item, nil
		}
		lastErr = err
		if !retries.ShouldRetry(err, attempt) {
			break
		}
		tally.retried()
		if !sleepCtx(ctx, retries.Backoff(attempt)) {
			break
		}
	}
	return crawler.Item{}, lastErr
}

func (e *Engine) upsert(ctx context.Context, settings crawler.Settings, slug string, item crawler.Item, hash string) error {
	if e.archive != nil {
		path := e.archivePath(settings.Name, slug, hash)
		if _, err := e.archive.PutObject(ctx, path, e.cfg.ArchiveContentType, item.Payload); err != nil {
			return fmt.Errorf("archive payload: %w", err)
		}
	}

	record := crawler.MovieRecord{
		Source:      settings.Name,
		Slug:        slug,
		Title:       item.Title,
		PosterURL:   item.PosterURL,
		ContentHash: hash,
		FetchedAt:   e.clock.Now(),
	}
	if err := e.catalog.Upsert(ctx, record); err != nil {
		return fmt.Errorf("upsert movie: %w", err)
	}
	return nil
}

func (e *Engine) archivePath(source, slug, hash string) string {
	prefix := strings.Trim(e.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s/%s.json", source, slug, hash)
	}
	return fmt.Sprintf("%s/%s/%s/%s.json", prefix, source, slug, hash)
}

// sleepCtx waits for d or until the context ends; it reports whether
// the full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
