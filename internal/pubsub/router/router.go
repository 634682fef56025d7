package router

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/flexprice/billing/internal/logger"
	"github.com/flexprice/billing/internal/pubsub"
)

// Router dispatches subscribed messages to handlers. A handler error nacks
// the message after the retry middleware gave up.
type Router struct {
	router *message.Router
	logger *logger.Logger
}

func NewRouter(log *logger.Logger) (*Router, error) {
	r, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: 15 * time.Second,
	}, log.GetWatermillLogger())
	if err != nil {
		return nil, err
	}

	r.AddMiddleware(
		middleware.CorrelationID,
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2,
			Logger:          log.GetWatermillLogger(),
		}.Middleware,
		middleware.Recoverer,
	)

	return &Router{router: r, logger: log}, nil
}

// AddNoPublishHandler registers handler on topic with per-handler
// middlewares such as a throttle.
func (r *Router) AddNoPublishHandler(
	name string,
	topic string,
	subscriber pubsub.PubSub,
	handler message.NoPublishHandlerFunc,
	middlewares ...message.HandlerMiddleware,
) {
	h := r.router.AddNoPublisherHandler(name, topic, subscriber, handler)
	for _, m := range middlewares {
		h.AddMiddleware(m)
	}
}

// Run blocks until ctx is done or the router is closed.
func (r *Router) Run(ctx context.Context) error {
	r.logger.Infow("starting message router")
	return r.router.Run(ctx)
}

// Running is closed once all handlers are subscribed.
func (r *Router) Running() chan struct{} {
	return r.router.Running()
}

func (r *Router) Close() error {
	r.logger.Infow("closing message router")
	return r.router.Close()
}
