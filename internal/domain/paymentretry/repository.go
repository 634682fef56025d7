package paymentretry

import (
	"context"
	"time"

	"github.com/flexprice/billing/internal/types"
)

// Repository persists payment retry campaigns.
type Repository interface {
	Create(ctx context.Context, r *PaymentRetry) error
	Get(ctx context.Context, id string) (*PaymentRetry, error)
	// GetByPaymentID returns ErrNotFound when no campaign exists for the payment.
	GetByPaymentID(ctx context.Context, paymentID string) (*PaymentRetry, error)
	Update(ctx context.Context, r *PaymentRetry) error
	List(ctx context.Context, filter *types.PaymentRetryFilter) ([]*PaymentRetry, error)
	// ListDue returns pending campaigns with next_retry_at <= now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*PaymentRetry, error)
	// Claim atomically moves a due campaign from pending to retrying and
	// reports whether this caller won it.
	Claim(ctx context.Context, id string, now time.Time) (bool, error)
	// ReleaseStaleClaims moves campaigns left retrying since before
	// staleBefore back to pending, due at now.
	ReleaseStaleClaims(ctx context.Context, staleBefore, now time.Time) (int, error)
	// DeleteTerminalBefore removes closed campaigns last updated before cutoff.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
	CountByStatus(ctx context.Context, filter *types.PaymentRetryFilter) (map[types.PaymentRetryStatus]int, error)
}
