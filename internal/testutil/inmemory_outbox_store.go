package testutil

import (
	"context"
	"time"

	"github.com/flexprice/billing/internal/domain/events"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/types"
	"github.com/samber/lo"
)

// InMemoryOutboxStore implements events.OutboxRepository
type InMemoryOutboxStore struct {
	*InMemoryStore[*events.Event]
}

func NewInMemoryOutboxStore() *InMemoryOutboxStore {
	return &InMemoryOutboxStore{
		InMemoryStore: NewInMemoryStore[*events.Event](),
	}
}

func (s *InMemoryOutboxStore) Create(ctx context.Context, evts ...*events.Event) error {
	for _, e := range evts {
		c := *e
		if err := s.InMemoryStore.Create(ctx, e.ID, &c); err != nil {
			return ierr.WithError(err).
				WithHint("Failed to store event").
				Mark(ierr.ErrDatabase)
		}
	}
	return nil
}

func (s *InMemoryOutboxStore) ListPending(ctx context.Context, limit int) ([]*events.Event, error) {
	items, _ := s.InMemoryStore.List(ctx, nil,
		func(_ context.Context, e *events.Event, _ interface{}) bool {
			return e.Status == types.OutboxStatusPending
		},
		eventSortFn,
	)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return lo.Map(items, func(e *events.Event, _ int) *events.Event {
		c := *e
		return &c
	}), nil
}

func (s *InMemoryOutboxStore) MarkPublished(_ context.Context, id string, publishedAt time.Time) error {
	_, err := s.InMemoryStore.Mutate(id, func(e *events.Event) (*events.Event, bool) {
		c := *e
		c.Status = types.OutboxStatusPublished
		c.PublishedAt = lo.ToPtr(publishedAt)
		c.Attempts++
		return &c, true
	})
	return err
}

func (s *InMemoryOutboxStore) MarkFailed(_ context.Context, id string, errMsg string, maxAttempts int) error {
	_, err := s.InMemoryStore.Mutate(id, func(e *events.Event) (*events.Event, bool) {
		c := *e
		c.Attempts++
		c.LastError = lo.ToPtr(errMsg)
		if maxAttempts > 0 && c.Attempts >= maxAttempts {
			c.Status = types.OutboxStatusFailed
		}
		return &c, true
	})
	return err
}

// All returns every stored event in creation order.
func (s *InMemoryOutboxStore) All() []*events.Event {
	items, _ := s.InMemoryStore.List(context.Background(), nil, nil, eventSortFn)
	return items
}

// Types returns the types of every stored event in creation order.
func (s *InMemoryOutboxStore) Types() []types.EventType {
	return lo.Map(s.All(), func(e *events.Event, _ int) types.EventType { return e.Type })
}

func eventSortFn(a, b *events.Event) bool {
	return a.CreatedAt.Before(b.CreatedAt)
}
