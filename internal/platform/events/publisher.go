package events

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/pubsub"

	"github.com/weave/storefront/internal/platform/config"
	"github.com/weave/storefront/internal/services"
)

// Nop discards events.
type Nop struct{}

func (Nop) PublishOrderEvent(context.Context, services.OrderEvent) error { return nil }

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// New builds the publisher selected by cfg.Backend. The returned closer releases the backend
// client and is never nil.
func New(ctx context.Context, cfg config.EventsConfig, projectID string) (services.OrderEventPublisher, io.Closer, error) {
	switch cfg.Backend {
	case config.EventsBackendNone, "":
		return Nop{}, closerFunc(func() error { return nil }), nil
	case config.EventsBackendPubSub:
		client, err := pubsub.NewClient(ctx, projectID)
		if err != nil {
			return nil, nil, fmt.Errorf("events: pubsub client: %w", err)
		}
		topic := client.Topic(cfg.PubSubTopic)
		publisher, err := NewPubSubPublisher(topic)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return publisher, closerFunc(func() error {
			topic.Stop()
			return client.Close()
		}), nil
	case config.EventsBackendKafka:
		publisher, err := NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		return publisher, publisher, nil
	default:
		return nil, nil, errors.New("events: unknown backend " + cfg.Backend)
	}
}
