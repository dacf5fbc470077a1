// Package trigger accepts crawl invocations and dispatches run
// requests onto the engine queue.
package trigger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/streamforge/catalog-crawler/internal/crawler"
	"github.com/streamforge/catalog-crawler/internal/metrics"
)

// Config tunes trigger-side dispatch behavior.
type Config struct {
	// AllowDisabled lets a manual trigger run a crawler whose settings
	// are disabled. Scheduled triggers never set this.
	AllowDisabled bool
	// DispatchTimeout bounds the enqueue call. Zero means no bound
	// beyond the caller's context.
	DispatchTimeout time.Duration
}

// Service resolves a crawler by name and enqueues a run request
// carrying a settings snapshot. Dispatch is fire-and-forget: callers
// get an ack, not a run result.
type Service struct {
	store   crawler.SettingsStore
	tracker crawler.RunTracker
	queue   crawler.Queue
	idGen   crawler.IDGenerator
	clock   crawler.Clock
	cfg     Config
	logger  *zap.Logger
}

func NewService(store crawler.SettingsStore, tracker crawler.RunTracker, queue crawler.Queue, idGen crawler.IDGenerator, clock crawler.Clock, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		tracker: tracker,
		queue:   queue,
		idGen:   idGen,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// Trigger looks up the named crawler, claims its run slot and enqueues
// a run request. A crawler that is already running is treated as a
// successful no-op trigger.
func (s *Service) Trigger(ctx context.Context, in crawler.TriggerInput) error {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		metrics.ObserveTrigger("rejected")
		return crawler.NewValidationError("name", "must not be empty")
	}

	settings, err := s.store.GetByName(ctx, name)
	if err != nil {
		if crawler.IsNotFound(err) {
			metrics.ObserveTrigger("not_found")
		} else {
			metrics.ObserveTrigger("error")
		}
		return err
	}
	if !settings.Enabled && !s.cfg.AllowDisabled {
		metrics.ObserveTrigger("rejected")
		return crawler.NewConflictError("crawler %q is disabled", name)
	}

	runID, err := s.idGen.NewID()
	if err != nil {
		metrics.ObserveTrigger("error")
		return fmt.Errorf("generating run id: %w", err)
	}

	if !s.tracker.TryStart(name, runID) {
		s.logger.Info("trigger ignored, run already in flight",
			zap.String("crawler", name),
		)
		metrics.ObserveTrigger("deduped")
		return nil
	}

	req := crawler.RunRequest{
		RunID:     runID,
		Crawler:   settings,
		Slug:      strings.TrimSpace(in.Slug),
		Requested: s.clock.Now(),
	}

	dispatchCtx := ctx
	if s.cfg.DispatchTimeout > 0 {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(ctx, s.cfg.DispatchTimeout)
		defer cancel()
	}
	if err := s.queue.Enqueue(dispatchCtx, req); err != nil {
		s.tracker.Release(name, runID)
		metrics.ObserveTrigger("dispatch_error")
		return &crawler.EngineDispatchError{Err: err}
	}

	s.logger.Info("run dispatched",
		zap.String("crawler", name),
		zap.String("run_id", runID),
		zap.String("slug", req.Slug),
	)
	metrics.ObserveTrigger("dispatched")
	return nil
}
