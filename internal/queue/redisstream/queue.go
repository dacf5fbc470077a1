// Package redisstream implements the run queue on Redis Streams.
package redisstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/streamforge/catalog-crawler/internal/crawler"
)

// blockInterval bounds each XREADGROUP so context cancellation is
// observed promptly even when the stream is quiet.
const blockInterval = 2 * time.Second

const defaultGroup = "engine"

// Config holds the Redis connection and stream parameters.
type Config struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	// Group is the consumer group name. Defaults to "engine".
	Group string
	// Consumer identifies this reader within the group. Defaults to a
	// generated id, so every Queue instance reads as its own consumer.
	Consumer string
}

// Queue appends run requests to a Redis stream and reads them back
// through a consumer group, so each request is delivered to exactly
// one consumer even when several engine workers dequeue concurrently.
type Queue struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	logger   *zap.Logger
}

func NewQueue(ctx context.Context, cfg Config, logger *zap.Logger) (*Queue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Group == "" {
		cfg.Group = defaultGroup
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "engine-" + uuid.NewString()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}

	// Start the group at "0" so requests enqueued before the first read
	// are still delivered.
	err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		_ = client.Close()
		return nil, fmt.Errorf("create consumer group %s on stream %s: %w", cfg.Group, cfg.Stream, err)
	}

	return &Queue{
		client:   client,
		stream:   cfg.Stream,
		group:    cfg.Group,
		consumer: cfg.Consumer,
		logger:   logger,
	}, nil
}

// Enqueue appends the run request to the stream.
func (q *Queue) Enqueue(ctx context.Context, req crawler.RunRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal run request: %w", err)
	}

	result := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{
			"request": string(payload),
		},
	})
	if err := result.Err(); err != nil {
		return fmt.Errorf("append to stream %s: %w", q.stream, err)
	}

	q.logger.Debug("run request appended",
		zap.String("stream_id", result.Val()),
		zap.String("run_id", req.RunID),
	)
	return nil
}

// Dequeue blocks until the next run request arrives or the context
// ends. Entries are acknowledged on delivery; malformed entries are
// acknowledged, logged and skipped.
func (q *Queue) Dequeue(ctx context.Context) (crawler.RunRequest, error) {
	for {
		if err := ctx.Err(); err != nil {
			return crawler.RunRequest{}, fmt.Errorf("dequeue canceled: %w", err)
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    1,
			Block:    blockInterval,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return crawler.RunRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
			}
			return crawler.RunRequest{}, fmt.Errorf("read stream %s: %w", q.stream, err)
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				if err := q.client.XAck(ctx, q.stream, q.group, msg.ID).Err(); err != nil {
					q.logger.Warn("ack stream entry failed",
						zap.String("stream_id", msg.ID),
						zap.Error(err),
					)
				}
				raw, ok := msg.Values["request"].(string)
				if !ok {
					q.logger.Warn("dropping stream entry without request field",
						zap.String("stream_id", msg.ID),
					)
					continue
				}
				var req crawler.RunRequest
				if err := json.Unmarshal([]byte(raw), &req); err != nil {
					q.logger.Warn("dropping malformed run request",
						zap.String("stream_id", msg.ID),
						zap.Error(err),
					)
					continue
				}
				return req, nil
			}
		}
	}
}

// Close releases the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

var _ crawler.Queue = (*Queue)(nil)
