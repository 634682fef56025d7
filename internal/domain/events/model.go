package events

import (
	"context"
	"time"

	"github.com/flexprice/billing/internal/types"
)

// Event is a domain event waiting in the outbox or already relayed.
type Event struct {
	ID          string             `json:"id"`
	Type        types.EventType    `json:"type"`
	AggregateID string             `json:"aggregate_id"`
	Payload     types.Metadata     `json:"payload"`
	Status      types.OutboxStatus `json:"status"`
	Attempts    int                `json:"attempts"`
	LastError   *string            `json:"last_error,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	PublishedAt *time.Time         `json:"published_at,omitempty"`
}

func NewEvent(eventType types.EventType, aggregateID string, payload types.Metadata, now time.Time) *Event {
	if payload == nil {
		payload = types.Metadata{}
	}
	return &Event{
		ID:          types.GenerateUUIDWithPrefix(types.UUID_PREFIX_EVENT),
		Type:        eventType,
		AggregateID: aggregateID,
		Payload:     payload,
		Status:      types.OutboxStatusPending,
		CreatedAt:   now,
	}
}

// Envelope is the wire form of an event on the bus.
type Envelope struct {
	ID          string          `json:"id"`
	Type        types.EventType `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     types.Metadata  `json:"payload"`
}

func (e *Event) Envelope() *Envelope {
	return &Envelope{
		ID:          e.ID,
		Type:        e.Type,
		AggregateID: e.AggregateID,
		OccurredAt:  e.CreatedAt,
		Payload:     e.Payload,
	}
}

// OutboxRepository stores events in the same transaction as the mutation
// that produced them.
type OutboxRepository interface {
	Create(ctx context.Context, events ...*Event) error
	// ListPending returns unpublished events, oldest first.
	ListPending(ctx context.Context, limit int) ([]*Event, error)
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error
	// MarkFailed counts a failed publish. Once attempts reach maxAttempts the
	// row is moved to failed; maxAttempts <= 0 never gives up.
	MarkFailed(ctx context.Context, id string, errMsg string, maxAttempts int) error
}
