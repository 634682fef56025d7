package service

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/flexprice/billing/internal/domain/events"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/types"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	MetadataKeyEventType   = "event_type"
	MetadataKeyAggregateID = "aggregate_id"
)

// OutboxRelayService publishes committed outbox events to the event bus.
// Delivery is at least once: an event published right before a failed
// MarkPublished is sent again on the next run.
type OutboxRelayService interface {
	RelayPendingEvents(ctx context.Context) (*types.BatchResult, error)
}

type outboxRelayService struct {
	ServiceParams
}

// NewOutboxRelayService creates a new outbox relay service
func NewOutboxRelayService(params ServiceParams) OutboxRelayService {
	return &outboxRelayService{
		ServiceParams: params,
	}
}

func (s *outboxRelayService) RelayPendingEvents(ctx context.Context) (*types.BatchResult, error) {
	started := time.Now()
	result := &types.BatchResult{Sweep: types.BillingSweepOutboxRelay}

	err := s.runExclusive(ctx, sweepLockKey(result.Sweep), result, func(ctx context.Context) error {
		pending, err := s.OutboxRepo.ListPending(ctx, s.Config.Events.RelayBatchSize)
		if err != nil {
			return err
		}

		for _, e := range pending {
			e := e
			s.processItem(ctx, result, e.ID, func(ctx context.Context) (sweepOutcome, error) {
				return s.relay(ctx, e)
			})
		}
		return nil
	})
	if err != nil {
		s.Logger.Errorw("outbox relay failed", "error", err)
		s.Sentry.CaptureExceptionWithTags(err, map[string]string{"sweep": string(result.Sweep)})
		return nil, err
	}

	s.finishSweep(result, started)
	return result, nil
}

func (s *outboxRelayService) relay(ctx context.Context, e *events.Event) (sweepOutcome, error) {
	msg, err := newEventMessage(e)
	if err != nil {
		return outcomeFailed, err
	}

	topic := s.Config.Events.OutboundTopic
	maxAttempts := s.Config.Events.RelayMaxAttempts
	if err := s.EventPublisher.Publish(ctx, topic, msg); err != nil {
		if markErr := s.OutboxRepo.MarkFailed(ctx, e.ID, err.Error(), maxAttempts); markErr != nil {
			s.Logger.Errorw("failed to record outbox publish failure",
				"event_id", e.ID,
				"error", markErr)
		} else if maxAttempts > 0 && e.Attempts+1 >= maxAttempts {
			s.Logger.Errorw("giving up on outbox event",
				"event_id", e.ID,
				"event_type", e.Type,
				"aggregate_id", e.AggregateID,
				"attempts", e.Attempts+1)
		}
		if s.Metrics != nil {
			s.Metrics.OutboxFailedTotal.Inc()
		}
		return outcomeFailed, ierr.WithError(err).
			WithHintf("Failed to publish event %s to %s", e.Type, topic).
			WithReportableDetails(map[string]interface{}{
				"event_id":   e.ID,
				"event_type": e.Type,
				"attempts":   e.Attempts + 1,
			}).
			Mark(ierr.ErrSystem)
	}

	if err := s.OutboxRepo.MarkPublished(ctx, e.ID, s.now()); err != nil {
		return outcomeFailed, err
	}
	if s.Metrics != nil {
		s.Metrics.OutboxPublishedTotal.Inc()
	}

	s.Logger.Debugw("event published",
		"event_id", e.ID,
		"event_type", e.Type,
		"aggregate_id", e.AggregateID,
		"topic", topic)
	return outcomeSucceeded, nil
}

// newEventMessage wraps the envelope of e in a message keyed by the event
// id, so consumers can deduplicate redeliveries.
func newEventMessage(e *events.Event) (*message.Message, error) {
	payload, err := json.Marshal(e.Envelope())
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Failed to marshal event %s", e.ID).
			Mark(ierr.ErrInternal)
	}

	msg := message.NewMessage(e.ID, payload)
	msg.Metadata.Set(MetadataKeyEventType, string(e.Type))
	msg.Metadata.Set(MetadataKeyAggregateID, e.AggregateID)
	return msg, nil
}
