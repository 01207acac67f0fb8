package publisher

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// PubSubConfig holds Cloud Pub/Sub connection settings.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// PubSub publishes events to Google Cloud Pub/Sub. Topic handles are cached
// per topic id so repeated publishes reuse the batching goroutines.
type PubSub struct {
	client *pubsub.Client
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewPubSub connects to Pub/Sub using Application Default Credentials.
func NewPubSub(ctx context.Context, cfg PubSubConfig, logger *zap.Logger) (*PubSub, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("pubsub.project_id is required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return &PubSub{client: client, logger: logger, topics: make(map[string]*pubsub.Topic)}, nil
}

// Publish sends the payload and blocks until the server acknowledges it, so
// a run cannot report success with its event still in flight.
func (p *PubSub) Publish(ctx context.Context, topicID string, payload []byte) error {
	topic, err := p.topic(ctx, topicID)
	if err != nil {
		return err
	}
	result := topic.Publish(ctx, &pubsub.Message{Data: payload})
	id, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish to topic %s: %w", topicID, err)
	}
	p.logger.Debug("Event published",
		zap.String("topic", topicID),
		zap.String("message_id", id))
	return nil
}

func (p *PubSub) topic(ctx context.Context, topicID string) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[topicID]; ok {
		return t, nil
	}
	t := p.client.Topic(topicID)
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %s: %w", topicID, err)
	}
	if !ok {
		return nil, fmt.Errorf("topic %s does not exist", topicID)
	}
	p.topics[topicID] = t
	return t, nil
}

// Close stops pending publishes and releases the client.
func (p *PubSub) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.mu.Unlock()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
