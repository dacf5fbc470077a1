// Package scheduler registers enabled crawler settings with a cron
// runner and fires triggers on schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/streamforge/catalog-crawler/internal/crawler"
)

// maxSettingsLimit bounds the listing used to sync schedules.
const maxSettingsLimit = 1000

// Triggerer fires a crawl for a named crawler. Scheduled invocations
// never override the enabled flag.
type Triggerer interface {
	Trigger(ctx context.Context, in crawler.TriggerInput) error
}

// Config controls scheduler behavior.
type Config struct {
	// ReloadInterval is how often schedules are re-synced from the
	// settings store.
	ReloadInterval time.Duration
}

// entry is what the scheduler registered for one crawler.
type entry struct {
	id       cron.EntryID
	schedule string
}

// Scheduler keeps cron registrations in sync with the settings store.
// Disabled settings are never registered; a settings edit takes effect
// on the next sync.
type Scheduler struct {
	store     crawler.SettingsStore
	triggerer Triggerer
	cron      *cron.Cron
	cfg       Config
	logger    *zap.Logger

	mu      sync.Mutex
	entries map[string]entry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(store crawler.SettingsStore, triggerer Triggerer, cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReloadInterval <= 0 {
		cfg.ReloadInterval = 5 * time.Minute
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Scheduler{
		store:     store,
		triggerer: triggerer,
		cron:      cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		cfg:       cfg,
		logger:    logger,
		entries:   make(map[string]entry),
	}
}

// Start begins cron execution and the periodic schedule sync.
func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.cron.Start()
	if err := s.syncSchedules(runCtx); err != nil {
		s.logger.Error("initial schedule sync failed", zap.Error(err))
	}

	s.wg.Add(1)
	go s.reloadLoop(runCtx)

	s.logger.Info("scheduler started",
		zap.Duration("reload_interval", s.cfg.ReloadInterval),
	)
	return nil
}

// Stop halts cron execution and waits for the sync loop to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	cronCtx := s.cron.Stop()
	<-cronCtx.Done()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) reloadLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ReloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.syncSchedules(ctx); err != nil {
				s.logger.Error("schedule sync failed", zap.Error(err))
			}
		}
	}
}

// syncSchedules diffs the enabled settings against the registered cron
// entries: new and changed schedules are (re)registered, disabled and
// deleted crawlers are removed.
func (s *Scheduler) syncSchedules(ctx context.Context) error {
	settings, _, err := s.store.List(ctx, crawler.ListFilter{Page: 1, Limit: maxSettingsLimit})
	if err != nil {
		return fmt.Errorf("list settings: %w", err)
	}

	want := make(map[string]crawler.Settings, len(settings))
	for _, rec := range settings {
		if rec.Enabled {
			want[rec.Name] = rec
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for name, ent := range s.entries {
		rec, keep := want[name]
		if keep && rec.CronSchedule == ent.schedule {
			delete(want, name)
			continue
		}
		s.cron.Remove(ent.id)
		delete(s.entries, name)
		if !keep {
			s.logger.Info("schedule removed", zap.String("crawler", name))
		}
	}

	for name, rec := range want {
		if err := s.register(ctx, rec); err != nil {
			s.logger.Error("schedule registration failed",
				zap.String("crawler", name),
				zap.String("schedule", rec.CronSchedule),
				zap.Error(err),
			)
		}
	}
	return nil
}

// register adds one cron entry. Caller holds s.mu.
func (s *Scheduler) register(ctx context.Context, rec crawler.Settings) error {
	name := rec.Name
	id, err := s.cron.AddFunc(rec.CronSchedule, func() {
		if err := s.triggerer.Trigger(ctx, crawler.TriggerInput{Name: name}); err != nil {
			s.logger.Warn("scheduled trigger failed",
				zap.String("crawler", name),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("add cron entry: %w", err)
	}

	s.entries[name] = entry{id: id, schedule: rec.CronSchedule}
	s.logger.Info("schedule registered",
		zap.String("crawler", name),
		zap.String("schedule", rec.CronSchedule),
	)
	return nil
}

// Registered returns the crawler names currently scheduled.
func (s *Scheduler) Registered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}
