// Package main wires together the catalog crawler service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/streamforge/catalog-crawler/internal/api"
	"github.com/streamforge/catalog-crawler/internal/clock/system"
	"github.com/streamforge/catalog-crawler/internal/config"
	"github.com/streamforge/catalog-crawler/internal/crawler"
	"github.com/streamforge/catalog-crawler/internal/engine"
	"github.com/streamforge/catalog-crawler/internal/hash/sha256"
	"github.com/streamforge/catalog-crawler/internal/id/uuid"
	"github.com/streamforge/catalog-crawler/internal/logging"
	queueMemory "github.com/streamforge/catalog-crawler/internal/queue/memory"
	queuePubsub "github.com/streamforge/catalog-crawler/internal/queue/pubsub"
	queueRedis "github.com/streamforge/catalog-crawler/internal/queue/redisstream"
	"github.com/streamforge/catalog-crawler/internal/runstate"
	"github.com/streamforge/catalog-crawler/internal/scheduler"
	"github.com/streamforge/catalog-crawler/internal/settings"
	"github.com/streamforge/catalog-crawler/internal/source"
	storageGCS "github.com/streamforge/catalog-crawler/internal/storage/gcs"
	storageMemory "github.com/streamforge/catalog-crawler/internal/storage/memory"
	storagePostgres "github.com/streamforge/catalog-crawler/internal/storage/postgres"
	"github.com/streamforge/catalog-crawler/internal/trigger"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clock := system.New()
	idGen := uuid.New()
	hasher := sha256.New()

	settingsStore, catalogStore, closeStorage, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStorage()

	queue, closeQueue, err := buildQueue(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeQueue()

	archiveStore, err := buildArchive(ctx, cfg, logger)
	if err != nil {
		return err
	}

	tracker := runstate.NewTracker(clock)
	settingsSvc := settings.NewService(settingsStore, idGen, clock, logging.Named(logger, "settings"))
	triggerSvc := trigger.NewService(settingsStore, tracker, queue, idGen, clock, trigger.Config{
		AllowDisabled:   cfg.Trigger.AllowDisabled,
		DispatchTimeout: cfg.DispatchTimeout(),
	}, logging.Named(logger, "trigger"))

	eng := engine.New(
		queue,
		catalogStore,
		tracker,
		archiveStore,
		hasher,
		clock,
		source.Factory(source.Config{
			UserAgent: cfg.Engine.UserAgent,
			Timeout:   cfg.FetchTimeout(),
		}),
		engine.Config{ArchivePrefix: cfg.Archive.Prefix},
		logging.Named(logger, "engine"),
	)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Engine.Consumers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			logger.Info("engine consumer started", zap.Int("index", idx))
			eng.Run(ctx)
		}(i)
	}

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(settingsStore, triggerSvc, scheduler.Config{
			ReloadInterval: cfg.SchedulerReloadInterval(),
		}, logging.Named(logger, "scheduler"))
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	apiServer := api.NewServer(settingsSvc, triggerSvc, tracker, api.Config{
		RequestTimeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
	}, logging.Named(logger, "api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	wg.Wait()
	logger.Info("shutdown complete")
	return nil
}

func buildStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.SettingsStore, crawler.CatalogStore, func(), error) {
	switch cfg.Storage.Provider {
	case "postgres":
		logger.Info("connecting to PostgreSQL")
		settingsStore, err := storagePostgres.NewSettingsStore(ctx, storagePostgres.SettingsStoreConfig{
			DSN:      cfg.Storage.DSN,
			Table:    cfg.Storage.SettingsTable,
			MaxConns: cfg.Storage.MaxConns,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init settings store: %w", err)
		}
		catalogStore, err := storagePostgres.NewCatalogStoreWithPool(settingsStore.Pool(), cfg.Storage.MoviesTable)
		if err != nil {
			settingsStore.Close()
			return nil, nil, nil, fmt.Errorf("init catalog store: %w", err)
		}
		return settingsStore, catalogStore, settingsStore.Close, nil
	case "memory":
		logger.Info("using in-memory storage; data is not persisted")
		return storageMemory.NewSettingsStore(), storageMemory.NewCatalogStore(), func() {}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown storage provider: %s", cfg.Storage.Provider)
	}
}

func buildQueue(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.Queue, func(), error) {
	switch cfg.Queue.Provider {
	case "pubsub":
		logger.Info("connecting to GCP Pub/Sub", zap.String("topic", cfg.Queue.TopicID))
		q, err := queuePubsub.NewQueue(ctx, queuePubsub.Config{
			ProjectID:      cfg.Queue.ProjectID,
			TopicID:        cfg.Queue.TopicID,
			SubscriptionID: cfg.Queue.SubscriptionID,
		}, logging.Named(logger, "queue"))
		if err != nil {
			return nil, nil, fmt.Errorf("init pubsub queue: %w", err)
		}
		return q, closeQuietly(q.Close, logger, "pubsub queue"), nil
	case "redis":
		logger.Info("connecting to Redis", zap.String("addr", cfg.Queue.RedisAddr))
		q, err := queueRedis.NewQueue(ctx, queueRedis.Config{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
			Stream:   cfg.Queue.RedisStream,
			Group:    cfg.Queue.RedisGroup,
		}, logging.Named(logger, "queue"))
		if err != nil {
			return nil, nil, fmt.Errorf("init redis queue: %w", err)
		}
		return q, closeQuietly(q.Close, logger, "redis queue"), nil
	case "memory":
		q := queueMemory.NewQueue(cfg.Queue.Depth)
		return q, q.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue provider: %s", cfg.Queue.Provider)
	}
}

func buildArchive(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.ArchiveStore, error) {
	switch cfg.Archive.Provider {
	case "gcs":
		logger.Info("using GCS payload archive", zap.String("bucket", cfg.Archive.GCSBucket))
		store, err := storageGCS.NewArchiveStore(ctx, storageGCS.Config{
			Bucket: cfg.Archive.GCSBucket,
		})
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		return store, nil
	case "memory":
		return storageMemory.NewArchiveStore(), nil
	case "none":
		logger.Info("payload archive disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown archive provider: %s", cfg.Archive.Provider)
	}
}

func closeQuietly(fn func() error, logger *zap.Logger, what string) func() {
	return func() {
		if err := fn(); err != nil {
			logger.Warn("close failed", zap.String("component", what), zap.Error(err))
		}
	}
}
