package subscription

import (
	"context"

	"github.com/flexprice/billing/internal/types"
)

// Repository persists subscriptions. Rows are never deleted.
type Repository interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	List(ctx context.Context, filter *types.SubscriptionFilter) ([]*Subscription, error)
	Count(ctx context.Context, filter *types.SubscriptionFilter) (int, error)
}

// HistoryRepository appends and reads subscription history.
type HistoryRepository interface {
	Create(ctx context.Context, h *History) error
	// ListBySubscription returns rows oldest first.
	ListBySubscription(ctx context.Context, subscriptionID string, filter *types.QueryFilter) ([]*History, error)
}
