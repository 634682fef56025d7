package memory

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/flexprice/billing/internal/logger"
	"github.com/flexprice/billing/internal/pubsub"
)

type PubSub struct {
	ch     *gochannel.GoChannel
	logger *logger.Logger
}

// NewPubSub returns an in-process bus. Messages are persisted so that a
// subscriber attached after publishing still receives them.
func NewPubSub(log *logger.Logger) pubsub.PubSub {
	return &PubSub{
		ch: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 1024,
			Persistent:          true,
		}, log.GetWatermillLogger()),
		logger: log,
	}
}

func (p *PubSub) Publish(ctx context.Context, topic string, msg *message.Message) error {
	msg.SetContext(ctx)
	p.logger.Debugw("publishing message", "topic", topic, "message_uuid", msg.UUID)
	return p.ch.Publish(topic, msg)
}

func (p *PubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return p.ch.Subscribe(ctx, topic)
}

func (p *PubSub) Close() error {
	return p.ch.Close()
}
