package kafka

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/flexprice/billing/internal/config"
	saramaConfig "github.com/flexprice/billing/internal/kafka"
	"github.com/flexprice/billing/internal/logger"
	"github.com/flexprice/billing/internal/pubsub"
)

type PubSub struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *logger.Logger
}

// NewPubSubFromConfig connects a Kafka publisher and a subscriber in
// consumerGroup.
func NewPubSubFromConfig(cfg *config.Configuration, log *logger.Logger, consumerGroup string) (pubsub.PubSub, error) {
	sc := saramaConfig.GetSaramaConfig(cfg)
	wl := log.GetWatermillLogger()

	publisher, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:               cfg.Kafka.Brokers,
		Marshaler:             kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: sc,
	}, wl)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}

	subscriber, err := kafka.NewSubscriber(kafka.SubscriberConfig{
		Brokers:               cfg.Kafka.Brokers,
		Unmarshaler:           kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: sc,
		ConsumerGroup:         consumerGroup,
	}, wl)
	if err != nil {
		_ = publisher.Close()
		return nil, fmt.Errorf("failed to create kafka subscriber: %w", err)
	}

	log.Infow("connected to kafka",
		"brokers", cfg.Kafka.Brokers,
		"consumer_group", consumerGroup,
	)

	return &PubSub{
		publisher:  publisher,
		subscriber: subscriber,
		logger:     log,
	}, nil
}

func (p *PubSub) Publish(ctx context.Context, topic string, msg *message.Message) error {
	msg.SetContext(ctx)
	p.logger.Debugw("publishing message to kafka", "topic", topic, "message_uuid", msg.UUID)
	return p.publisher.Publish(topic, msg)
}

func (p *PubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return p.subscriber.Subscribe(ctx, topic)
}

func (p *PubSub) Close() error {
	if err := p.publisher.Close(); err != nil {
		return err
	}
	return p.subscriber.Close()
}
