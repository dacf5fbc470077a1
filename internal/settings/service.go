package settings

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/streamforge/catalog-crawler/internal/crawler"
)

// Service validates and persists crawler settings.
type Service struct {
	store  crawler.SettingsStore
	idGen  crawler.IDGenerator
	clock  crawler.Clock
	logger *zap.Logger
}

// NewService constructs a Service.
func NewService(
	store crawler.SettingsStore,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		idGen:  idGen,
		clock:  clock,
		logger: logger,
	}
}

// Create validates the input, assigns an id and timestamps, and
// persists the record. Duplicate names surface as ConflictError.
func (s *Service) Create(ctx context.Context, in crawler.SettingsInput) (crawler.Settings, error) {
	if err := validateInput(in); err != nil {
		return crawler.Settings{}, err
	}
	id, err := s.idGen.NewID()
	if err != nil {
		return crawler.Settings{}, fmt.Errorf("generate settings id: %w", err)
	}
	now := s.clock.Now()
	rec := crawler.Settings{
		ID:                    id,
		Name:                  in.Name,
		Host:                  in.Host,
		ImgHost:               in.ImgHost,
		CronSchedule:          in.CronSchedule,
		Enabled:               in.Enabled,
		ForceUpdate:           in.ForceUpdate,
		MaxRetries:            in.MaxRetries,
		RateLimitDelayMs:      in.RateLimitDelayMs,
		MaxConcurrentRequests: in.MaxConcurrentRequests,
		MaxContinuousSkips:    in.MaxContinuousSkips,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return crawler.Settings{}, err
	}
	s.logger.Info("crawler settings created",
		zap.String("id", rec.ID),
		zap.String("name", rec.Name),
	)
	return rec, nil
}

// Update applies a partial patch to an existing record. The stored
// name always survives: SettingsPatch has no name field, and the
// record's name is carried over verbatim.
func (s *Service) Update(ctx context.Context, id string, patch crawler.SettingsPatch) (crawler.Settings, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return crawler.Settings{}, err
	}
	applyPatch(&rec, patch)
	if err := validateInput(inputFrom(rec)); err != nil {
		return crawler.Settings{}, err
	}
	rec.UpdatedAt = s.clock.Now()
	if err := s.store.Update(ctx, rec); err != nil {
		return crawler.Settings{}, err
	}
	s.logger.Info("crawler settings updated",
		zap.String("id", rec.ID),
		zap.String("name", rec.Name),
	)
	return rec, nil
}

// Get fetches a record by id.
func (s *Service) Get(ctx context.Context, id string) (crawler.Settings, error) {
	return s.store.Get(ctx, id)
}

// GetByName fetches a record by its unique name.
func (s *Service) GetByName(ctx context.Context, name string) (crawler.Settings, error) {
	return s.store.GetByName(ctx, name)
}

// List returns one page plus the total match count. Page and limit
// are clamped to sane values for the admin table.
func (s *Service) List(ctx context.Context, filter crawler.ListFilter) ([]crawler.Settings, int, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	return s.store.List(ctx, filter)
}

// Delete hard-deletes a record. In-flight runs keep their snapshot.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("crawler settings deleted", zap.String("id", id))
	return nil
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func applyPatch(rec *crawler.Settings, patch crawler.SettingsPatch) {
	if patch.Host != nil {
		rec.Host = *patch.Host
	}
	if patch.ImgHost != nil {
		rec.ImgHost = *patch.ImgHost
	}
	if patch.CronSchedule != nil {
		rec.CronSchedule = *patch.CronSchedule
	}
	if patch.Enabled != nil {
		rec.Enabled = *patch.Enabled
	}
	if patch.ForceUpdate != nil {
		rec.ForceUpdate = *patch.ForceUpdate
	}
	if patch.MaxRetries != nil {
		rec.MaxRetries = *patch.MaxRetries
	}
	if patch.RateLimitDelayMs != nil {
		rec.RateLimitDelayMs = *patch.RateLimitDelayMs
	}
	if patch.MaxConcurrentRequests != nil {
		rec.MaxConcurrentRequests = *patch.MaxConcurrentRequests
	}
	if patch.MaxContinuousSkips != nil {
		rec.MaxContinuousSkips = *patch.MaxContinuousSkips
	}
}

func inputFrom(rec crawler.Settings) crawler.SettingsInput {
	return crawler.SettingsInput{
		Name:                  rec.Name,
		Host:                  rec.Host,
		ImgHost:               rec.ImgHost,
		CronSchedule:          rec.CronSchedule,
		Enabled:               rec.Enabled,
		ForceUpdate:           rec.ForceUpdate,
		MaxRetries:            rec.MaxRetries,
		RateLimitDelayMs:      rec.RateLimitDelayMs,
		MaxConcurrentRequests: rec.MaxConcurrentRequests,
		MaxContinuousSkips:    rec.MaxContinuousSkips,
	}
}
