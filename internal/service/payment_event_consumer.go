package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/flexprice/billing/internal/api/dto"
	"github.com/flexprice/billing/internal/domain/events"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/pubsub"
	pubsubRouter "github.com/flexprice/billing/internal/pubsub/router"
	"github.com/flexprice/billing/internal/types"
	"github.com/flexprice/billing/internal/validator"
	"github.com/samber/lo"
)

// PaymentEventConsumer reacts to events of the payment and invoicing
// services: failed payments open a retry campaign and mark the
// subscription past due, successful ones close the campaign and restore it.
type PaymentEventConsumer interface {
	// RegisterHandler registers the payment event handler with the router
	RegisterHandler(router *pubsubRouter.Router)
	// HandleEvent processes one decoded event.
	HandleEvent(ctx context.Context, event *events.PaymentEvent) error
}

type paymentEventConsumer struct {
	ServiceParams
	subscriptionService SubscriptionService
	retryService        PaymentRetryService
	subscriber          pubsub.PubSub
}

// NewPaymentEventConsumer creates a new payment event consumer reading from subscriber
func NewPaymentEventConsumer(
	params ServiceParams,
	subscriptionService SubscriptionService,
	retryService PaymentRetryService,
	subscriber pubsub.PubSub,
) PaymentEventConsumer {
	return &paymentEventConsumer{
		ServiceParams:       params,
		subscriptionService: subscriptionService,
		retryService:        retryService,
		subscriber:          subscriber,
	}
}

func (s *paymentEventConsumer) RegisterHandler(router *pubsubRouter.Router) {
	cfg := s.Config.Events
	if !cfg.ConsumerEnabled {
		s.Logger.Infow("payment event handler disabled by configuration")
		return
	}

	rateLimit := cfg.ConsumerRateLimit
	if rateLimit <= 0 {
		rateLimit = 10
	}
	throttle := middleware.NewThrottle(rateLimit, time.Second)

	router.AddNoPublishHandler(
		"payment_events_handler",
		cfg.PaymentEventsTopic,
		s.subscriber,
		s.processMessage,
		throttle.Middleware,
	)

	s.Logger.Infow("registered payment event handler",
		"topic", cfg.PaymentEventsTopic,
		"rate_limit", rateLimit,
	)
}

// processMessage acks messages that can never succeed, such as malformed
// payloads or events for unknown subscriptions, and returns an error for
// everything else so the router retries them.
func (s *paymentEventConsumer) processMessage(msg *message.Message) error {
	var event events.PaymentEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		s.Logger.Errorw("failed to unmarshal payment event",
			"message_uuid", msg.UUID,
			"payload", string(msg.Payload),
			"error", err)
		s.Sentry.CaptureException(err)
		s.countEvent("unknown", "malformed")
		return nil
	}

	ctx := msg.Context()
	err := s.HandleEvent(ctx, &event)
	switch {
	case err == nil:
		s.countEvent(string(event.Type), "processed")
		return nil
	case ierr.IsNotFound(err), ierr.IsValidation(err), ierr.IsInvalidOperation(err):
		s.Logger.Warnw("dropping payment event",
			"message_uuid", msg.UUID,
			"event_type", event.Type,
			"invoice_id", event.InvoiceID,
			"subscription_id", event.SubscriptionID,
			"error", err)
		s.countEvent(string(event.Type), "dropped")
		return nil
	default:
		s.Logger.Errorw("failed to process payment event",
			"message_uuid", msg.UUID,
			"event_type", event.Type,
			"invoice_id", event.InvoiceID,
			"error", err)
		s.Sentry.CaptureExceptionWithTags(err, map[string]string{
			"event_type": string(event.Type),
			"invoice_id": event.InvoiceID,
		})
		s.countEvent(string(event.Type), "failed")
		return fmt.Errorf("failed to process payment event %s: %w", msg.UUID, err)
	}
}

func (s *paymentEventConsumer) HandleEvent(ctx context.Context, event *events.PaymentEvent) error {
	if err := validator.ValidateRequest(event); err != nil {
		return err
	}

	switch event.Type {
	case types.EventPaymentFailed:
		return s.handlePaymentFailed(ctx, event)
	case types.EventPaymentSuccess:
		return s.handlePaymentSucceeded(ctx, event)
	case types.EventInvoiceCreated:
		s.Logger.Infow("invoice created",
			"invoice_id", event.InvoiceID,
			"invoice_number", event.InvoiceNumber,
			"customer_id", event.CustomerID)
		return nil
	default:
		s.Logger.Debugw("ignoring payment event", "event_type", event.Type)
		return nil
	}
}

func (s *paymentEventConsumer) handlePaymentFailed(ctx context.Context, event *events.PaymentEvent) error {
	r, err := s.retryService.ScheduleRetry(ctx, dto.ScheduleRetryRequest{
		PaymentID:      event.RetryKey(),
		InvoiceID:      event.InvoiceID,
		SubscriptionID: event.SubscriptionID,
		FailureReason:  event.Reason,
	})
	if err != nil {
		return err
	}

	if event.SubscriptionID == "" {
		return nil
	}

	sub, err := s.subscriptionService.GetSubscription(ctx, event.SubscriptionID)
	if err != nil {
		return err
	}
	if sub.Status != types.SubscriptionStatusActive {
		s.Logger.Debugw("subscription not active, status unchanged",
			"subscription_id", sub.ID,
			"status", sub.Status,
			"payment_retry_id", r.ID)
		return nil
	}

	_, err = s.subscriptionService.UpdateSubscriptionStatus(ctx, sub.ID, dto.UpdateSubscriptionStatusRequest{
		Status: types.SubscriptionStatusPastDue,
		Reason: lo.ToPtr(fmt.Sprintf("payment failed: %s", lo.Ternary(event.Reason != "", event.Reason, "unknown reason"))),
	})
	return err
}

func (s *paymentEventConsumer) handlePaymentSucceeded(ctx context.Context, event *events.PaymentEvent) error {
	if _, err := s.retryService.MarkSucceeded(ctx, event.RetryKey()); err != nil && !ierr.IsNotFound(err) {
		return err
	}

	if event.SubscriptionID == "" {
		return nil
	}

	sub, err := s.subscriptionService.GetSubscription(ctx, event.SubscriptionID)
	if err != nil {
		return err
	}

	switch sub.Status {
	case types.SubscriptionStatusPending:
		_, err = s.subscriptionService.ActivateSubscription(ctx, sub.ID)
	case types.SubscriptionStatusPastDue:
		_, err = s.subscriptionService.UpdateSubscriptionStatus(ctx, sub.ID, dto.UpdateSubscriptionStatusRequest{
			Status: types.SubscriptionStatusActive,
			Reason: lo.ToPtr("payment succeeded"),
		})
	}
	return err
}

func (s *paymentEventConsumer) countEvent(eventType, status string) {
	if s.Metrics == nil {
		return
	}
	s.Metrics.PaymentEventsConsumed.WithLabelValues(eventType, status).Inc()
}
