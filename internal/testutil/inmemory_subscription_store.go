package testutil

import (
	"context"

	domainSub "github.com/flexprice/billing/internal/domain/subscription"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/types"
	"github.com/samber/lo"
)

// InMemorySubscriptionStore implements subscription.Repository
type InMemorySubscriptionStore struct {
	*InMemoryStore[*domainSub.Subscription]
}

func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		InMemoryStore: NewInMemoryStore[*domainSub.Subscription](),
	}
}

func copySubscription(s *domainSub.Subscription) *domainSub.Subscription {
	if s == nil {
		return nil
	}
	c := *s
	if s.Metadata != nil {
		c.Metadata = s.Metadata.Clone()
	}
	return &c
}

func (s *InMemorySubscriptionStore) Create(ctx context.Context, sub *domainSub.Subscription) error {
	if sub == nil {
		return ierr.NewError("subscription cannot be nil").
			WithHint("Subscription cannot be nil").
			Mark(ierr.ErrValidation)
	}

	if err := s.InMemoryStore.Create(ctx, sub.ID, copySubscription(sub)); err != nil {
		return ierr.WithError(err).
			WithHint("Subscription already exists").
			Mark(ierr.ErrAlreadyExists)
	}
	return nil
}

func (s *InMemorySubscriptionStore) Get(ctx context.Context, id string) (*domainSub.Subscription, error) {
	sub, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, ierr.NewError("subscription not found").
			WithHintf("Subscription %s was not found", id).
			WithReportableDetails(map[string]interface{}{
				"id": id,
			}).
			Mark(ierr.ErrNotFound)
	}
	return copySubscription(sub), nil
}

func (s *InMemorySubscriptionStore) Update(ctx context.Context, sub *domainSub.Subscription) error {
	if err := s.InMemoryStore.Update(ctx, sub.ID, copySubscription(sub)); err != nil {
		return ierr.WithError(err).
			WithHintf("Subscription %s was not found", sub.ID).
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (s *InMemorySubscriptionStore) List(ctx context.Context, filter *types.SubscriptionFilter) ([]*domainSub.Subscription, error) {
	if filter == nil {
		filter = types.NewSubscriptionFilter()
	}

	subs, err := s.InMemoryStore.List(ctx, filter, subscriptionFilterFn, subscriptionSortFn)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list subscriptions").
			Mark(ierr.ErrDatabase)
	}
	return lo.Map(subs, func(sub *domainSub.Subscription, _ int) *domainSub.Subscription {
		return copySubscription(sub)
	}), nil
}

func (s *InMemorySubscriptionStore) Count(ctx context.Context, filter *types.SubscriptionFilter) (int, error) {
	if filter == nil {
		filter = types.NewSubscriptionFilter()
	}
	return s.InMemoryStore.Count(ctx, filter, subscriptionFilterFn)
}

func subscriptionFilterFn(_ context.Context, sub *domainSub.Subscription, filter interface{}) bool {
	f, ok := filter.(*types.SubscriptionFilter)
	if !ok {
		return true
	}

	if len(f.SubscriptionIDs) > 0 && !lo.Contains(f.SubscriptionIDs, sub.ID) {
		return false
	}
	if f.CustomerID != "" && sub.CustomerID != f.CustomerID {
		return false
	}
	if len(f.SubscriptionStatus) > 0 && !lo.Contains(f.SubscriptionStatus, sub.Status) {
		return false
	}
	if f.CancelAtPeriodEnd != nil && sub.CancelAtPeriodEnd != *f.CancelAtPeriodEnd {
		return false
	}
	if f.TrialEndBefore != nil && (sub.TrialEnd == nil || sub.TrialEnd.After(*f.TrialEndBefore)) {
		return false
	}
	if f.CurrentPeriodEndBefore != nil && sub.CurrentPeriodEnd.After(*f.CurrentPeriodEndBefore) {
		return false
	}
	return true
}

func subscriptionSortFn(a, b *domainSub.Subscription) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// InMemorySubscriptionHistoryStore implements subscription.HistoryRepository
type InMemorySubscriptionHistoryStore struct {
	*InMemoryStore[*domainSub.History]
}

func NewInMemorySubscriptionHistoryStore() *InMemorySubscriptionHistoryStore {
	return &InMemorySubscriptionHistoryStore{
		InMemoryStore: NewInMemoryStore[*domainSub.History](),
	}
}

func (s *InMemorySubscriptionHistoryStore) Create(ctx context.Context, h *domainSub.History) error {
	c := *h
	if err := s.InMemoryStore.Create(ctx, h.ID, &c); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to append subscription history").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (s *InMemorySubscriptionHistoryStore) ListBySubscription(ctx context.Context, subscriptionID string, filter *types.QueryFilter) ([]*domainSub.History, error) {
	if filter == nil {
		filter = types.NewNoLimitQueryFilter()
	}

	return s.InMemoryStore.List(ctx, filter,
		func(_ context.Context, h *domainSub.History, _ interface{}) bool {
			return h.SubscriptionID == subscriptionID
		},
		func(a, b *domainSub.History) bool {
			return a.CreatedAt.Before(b.CreatedAt)
		},
	)
}
