package testutil

import (
	"context"
	"time"

	"github.com/flexprice/billing/internal/domain/paymentretry"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/types"
	"github.com/samber/lo"
)

// InMemoryPaymentRetryStore implements paymentretry.Repository
type InMemoryPaymentRetryStore struct {
	*InMemoryStore[*paymentretry.PaymentRetry]
}

func NewInMemoryPaymentRetryStore() *InMemoryPaymentRetryStore {
	return &InMemoryPaymentRetryStore{
		InMemoryStore: NewInMemoryStore[*paymentretry.PaymentRetry](),
	}
}

func copyPaymentRetry(r *paymentretry.PaymentRetry) *paymentretry.PaymentRetry {
	if r == nil {
		return nil
	}
	c := *r
	c.RetryHistory = append([]paymentretry.RetryAttempt{}, r.RetryHistory...)
	return &c
}

func (s *InMemoryPaymentRetryStore) Create(ctx context.Context, r *paymentretry.PaymentRetry) error {
	if existing, _ := s.GetByPaymentID(ctx, r.PaymentID); existing != nil {
		return ierr.NewErrorf("payment retry for payment %s already exists", r.PaymentID).
			WithHintf("A payment retry for payment %s already exists", r.PaymentID).
			Mark(ierr.ErrAlreadyExists)
	}

	if err := s.InMemoryStore.Create(ctx, r.ID, copyPaymentRetry(r)); err != nil {
		return ierr.WithError(err).
			WithHint("Payment retry already exists").
			Mark(ierr.ErrAlreadyExists)
	}
	return nil
}

func (s *InMemoryPaymentRetryStore) Get(ctx context.Context, id string) (*paymentretry.PaymentRetry, error) {
	r, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, ierr.NewError("payment retry not found").
			WithHintf("Payment retry %s was not found", id).
			Mark(ierr.ErrNotFound)
	}
	return copyPaymentRetry(r), nil
}

func (s *InMemoryPaymentRetryStore) GetByPaymentID(ctx context.Context, paymentID string) (*paymentretry.PaymentRetry, error) {
	items, _ := s.InMemoryStore.List(ctx, nil, func(_ context.Context, r *paymentretry.PaymentRetry, _ interface{}) bool {
		return r.PaymentID == paymentID
	}, nil)
	if len(items) == 0 {
		return nil, ierr.NewError("payment retry not found").
			WithHintf("No payment retry exists for payment %s", paymentID).
			Mark(ierr.ErrNotFound)
	}
	return copyPaymentRetry(items[0]), nil
}

func (s *InMemoryPaymentRetryStore) Update(ctx context.Context, r *paymentretry.PaymentRetry) error {
	if err := s.InMemoryStore.Update(ctx, r.ID, copyPaymentRetry(r)); err != nil {
		return ierr.WithError(err).
			WithHintf("Payment retry %s was not found", r.ID).
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (s *InMemoryPaymentRetryStore) List(ctx context.Context, filter *types.PaymentRetryFilter) ([]*paymentretry.PaymentRetry, error) {
	if filter == nil {
		filter = types.NewPaymentRetryFilter()
	}

	items, err := s.InMemoryStore.List(ctx, filter, paymentRetryFilterFn, func(a, b *paymentretry.PaymentRetry) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	return lo.Map(items, func(r *paymentretry.PaymentRetry, _ int) *paymentretry.PaymentRetry {
		return copyPaymentRetry(r)
	}), nil
}

func (s *InMemoryPaymentRetryStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*paymentretry.PaymentRetry, error) {
	items, _ := s.InMemoryStore.List(ctx, nil,
		func(_ context.Context, r *paymentretry.PaymentRetry, _ interface{}) bool {
			return r.IsDue(now)
		},
		func(a, b *paymentretry.PaymentRetry) bool {
			return a.NextRetryAt.Before(*b.NextRetryAt)
		},
	)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return lo.Map(items, func(r *paymentretry.PaymentRetry, _ int) *paymentretry.PaymentRetry {
		return copyPaymentRetry(r)
	}), nil
}

func (s *InMemoryPaymentRetryStore) Claim(_ context.Context, id string, now time.Time) (bool, error) {
	won, err := s.InMemoryStore.Mutate(id, func(r *paymentretry.PaymentRetry) (*paymentretry.PaymentRetry, bool) {
		if !r.IsDue(now) {
			return r, false
		}
		c := copyPaymentRetry(r)
		c.Status = types.PaymentRetryStatusRetrying
		c.NextRetryAt = nil
		c.UpdatedAt = now
		return c, true
	})
	if err != nil {
		return false, ierr.WithError(err).
			WithHintf("Payment retry %s was not found", id).
			Mark(ierr.ErrNotFound)
	}
	return won, nil
}

func (s *InMemoryPaymentRetryStore) ReleaseStaleClaims(ctx context.Context, staleBefore, now time.Time) (int, error) {
	stale := func(r *paymentretry.PaymentRetry) bool {
		return r.Status == types.PaymentRetryStatusRetrying && r.UpdatedAt.Before(staleBefore)
	}
	items, _ := s.InMemoryStore.List(ctx, nil, func(_ context.Context, r *paymentretry.PaymentRetry, _ interface{}) bool {
		return stale(r)
	}, nil)

	released := 0
	for _, item := range items {
		ok, _ := s.InMemoryStore.Mutate(item.ID, func(r *paymentretry.PaymentRetry) (*paymentretry.PaymentRetry, bool) {
			if !stale(r) {
				return r, false
			}
			c := copyPaymentRetry(r)
			c.Status = types.PaymentRetryStatusPending
			c.NextRetryAt = lo.ToPtr(now)
			c.UpdatedAt = now
			return c, true
		})
		if ok {
			released++
		}
	}
	return released, nil
}

func (s *InMemoryPaymentRetryStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int, error) {
	return s.InMemoryStore.DeleteWhere(func(r *paymentretry.PaymentRetry) bool {
		return r.IsTerminal() && r.UpdatedAt.Before(cutoff)
	}), nil
}

func (s *InMemoryPaymentRetryStore) CountByStatus(ctx context.Context, filter *types.PaymentRetryFilter) (map[types.PaymentRetryStatus]int, error) {
	if filter == nil {
		filter = types.NewPaymentRetryFilter()
	}

	items, _ := s.InMemoryStore.List(ctx, types.NewNoLimitQueryFilter(), func(ctx context.Context, r *paymentretry.PaymentRetry, _ interface{}) bool {
		return paymentRetryFilterFn(ctx, r, filter)
	}, nil)

	counts := make(map[types.PaymentRetryStatus]int)
	for _, r := range items {
		counts[r.Status]++
	}
	return counts, nil
}

func paymentRetryFilterFn(_ context.Context, r *paymentretry.PaymentRetry, filter interface{}) bool {
	f, ok := filter.(*types.PaymentRetryFilter)
	if !ok {
		return true
	}

	if len(f.PaymentIDs) > 0 && !lo.Contains(f.PaymentIDs, r.PaymentID) {
		return false
	}
	if len(f.SubscriptionIDs) > 0 && !lo.Contains(f.SubscriptionIDs, r.SubscriptionID) {
		return false
	}
	if len(f.Statuses) > 0 && !lo.Contains(f.Statuses, r.Status) {
		return false
	}
	if f.NextRetryBefore != nil && (r.NextRetryAt == nil || r.NextRetryAt.After(*f.NextRetryBefore)) {
		return false
	}
	return true
}
