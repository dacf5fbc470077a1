// Package pubsub implements the run queue on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/streamforge/catalog-crawler/internal/crawler"
)

// Config identifies the topic and subscription used for run requests.
type Config struct {
	ProjectID      string
	TopicID        string
	SubscriptionID string
}

// Queue publishes run requests to a topic and consumes them from a
// subscription. Authentication uses Application Default Credentials.
type Queue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	cfg    Config
	logger *zap.Logger

	recvOnce   sync.Once
	recvCancel context.CancelFunc
	msgs       chan crawler.RunRequest
}

func NewQueue(ctx context.Context, cfg Config, logger *zap.Logger) (*Queue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	topic := client.Topic(cfg.TopicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("checking topic %q: %w", cfg.TopicID, err)
	}
	if !exists {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", cfg.TopicID, cfg.ProjectID)
	}

	return &Queue{
		client: client,
		topic:  topic,
		cfg:    cfg,
		logger: logger,
		msgs:   make(chan crawler.RunRequest),
	}, nil
}

// Enqueue marshals the run request to JSON and publishes it.
func (q *Queue) Enqueue(ctx context.Context, req crawler.RunRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal run request: %w", err)
	}

	result := q.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"crawler": req.Crawler.Name,
			"run_id":  req.RunID,
		},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish run request: %w", err)
	}
	q.logger.Debug("run request published",
		zap.String("message_id", id),
		zap.String("run_id", req.RunID),
	)
	return nil
}

// Dequeue returns the next run request from the subscription. The
// receive loop is started on first use and acks messages as they are
// handed to the caller; malformed messages are acked and dropped.
func (q *Queue) Dequeue(ctx context.Context) (crawler.RunRequest, error) {
	if q.cfg.SubscriptionID == "" {
		return crawler.RunRequest{}, fmt.Errorf("pubsub queue has no subscription configured")
	}
	q.recvOnce.Do(q.startReceive)

	select {
	case <-ctx.Done():
		return crawler.RunRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case req, ok := <-q.msgs:
		if !ok {
			return crawler.RunRequest{}, fmt.Errorf("pubsub receive loop stopped")
		}
		return req, nil
	}
}

func (q *Queue) startReceive() {
	recvCtx, cancel := context.WithCancel(context.Background())
	q.recvCancel = cancel
	sub := q.client.Subscription(q.cfg.SubscriptionID)

	go func() {
		defer close(q.msgs)
		err := sub.Receive(recvCtx, func(ctx context.Context, m *pubsub.Message) {
			var req crawler.RunRequest
			if err := json.Unmarshal(m.Data, &req); err != nil {
				q.logger.Warn("dropping malformed run request",
					zap.String("message_id", m.ID),
					zap.Error(err),
				)
				m.Ack()
				return
			}
			select {
			case q.msgs <- req:
				m.Ack()
			case <-ctx.Done():
				m.Nack()
			}
		})
		if err != nil && recvCtx.Err() == nil {
			q.logger.Error("pubsub receive loop failed", zap.Error(err))
		}
	}()
}

// Close stops the receive loop, flushes pending publishes and closes
// the client.
func (q *Queue) Close() error {
	if q.recvCancel != nil {
		q.recvCancel()
	}
	q.topic.Stop()
	return q.client.Close()
}

var _ crawler.Queue = (*Queue)(nil)
