package postgres

import (
	"context"

	domainSub "github.com/flexprice/billing/internal/domain/subscription"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/logger"
	"github.com/flexprice/billing/internal/postgres"
	"github.com/flexprice/billing/internal/types"
	"github.com/lib/pq"
)

const subscriptionColumns = `id, customer_id, plan_id, plan_name, amount, billing_cycle, status,
	current_period_start, current_period_end, is_trial_used, trial_start, trial_end,
	cancel_at_period_end, cancelled_at, cancellation_reason, metadata, created_at, updated_at`

type subscriptionRepository struct {
	client postgres.IClient
	log    *logger.Logger
}

func NewSubscriptionRepository(client postgres.IClient, log *logger.Logger) domainSub.Repository {
	return &subscriptionRepository{client: client, log: log}
}

func (r *subscriptionRepository) Create(ctx context.Context, sub *domainSub.Subscription) error {
	r.log.Debugw("creating subscription",
		"subscription_id", sub.ID,
		"customer_id", sub.CustomerID,
		"plan_id", sub.PlanID,
		"status", sub.Status,
	)

	md, err := marshalJSON(metadataOrEmpty(sub.Metadata))
	if err != nil {
		return err
	}

	_, err = r.client.Writer(ctx).ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		sub.ID, sub.CustomerID, sub.PlanID, sub.PlanName, sub.Amount, string(sub.BillingCycle), string(sub.Status),
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.IsTrialUsed, sub.TrialStart, sub.TrialEnd,
		sub.CancelAtPeriodEnd, sub.CancelledAt, sub.CancellationReason, md, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ierr.WithError(err).
				WithHint("Subscription already exists").
				WithReportableDetails(map[string]interface{}{
					"subscription_id": sub.ID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create subscription").
			WithReportableDetails(map[string]interface{}{
				"subscription_id": sub.ID,
				"customer_id":     sub.CustomerID,
			}).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *subscriptionRepository) Get(ctx context.Context, id string) (*domainSub.Subscription, error) {
	row := r.client.Reader(ctx).QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)

	sub, err := scanSubscription(row)
	if err != nil {
		return nil, notFoundOr(err, "Subscription", id)
	}
	return sub, nil
}

func (r *subscriptionRepository) Update(ctx context.Context, sub *domainSub.Subscription) error {
	r.log.Debugw("updating subscription",
		"subscription_id", sub.ID,
		"status", sub.Status,
		"plan_id", sub.PlanID,
	)

	md, err := marshalJSON(metadataOrEmpty(sub.Metadata))
	if err != nil {
		return err
	}

	res, err := r.client.Writer(ctx).ExecContext(ctx, `
		UPDATE subscriptions SET
			plan_id = $2, plan_name = $3, amount = $4, billing_cycle = $5, status = $6,
			current_period_start = $7, current_period_end = $8, is_trial_used = $9,
			trial_start = $10, trial_end = $11, cancel_at_period_end = $12,
			cancelled_at = $13, cancellation_reason = $14, metadata = $15, updated_at = $16
		WHERE id = $1`,
		sub.ID, sub.PlanID, sub.PlanName, sub.Amount, string(sub.BillingCycle), string(sub.Status),
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.IsTrialUsed,
		sub.TrialStart, sub.TrialEnd, sub.CancelAtPeriodEnd,
		sub.CancelledAt, sub.CancellationReason, md, sub.UpdatedAt,
	)
	if err != nil {
		return ierr.WithError(err).
			WithHintf("Failed to update subscription %s", sub.ID).
			Mark(ierr.ErrDatabase)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ierr.NewErrorf("subscription %s not found", sub.ID).
			WithHintf("Subscription %s was not found", sub.ID).
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (r *subscriptionRepository) List(ctx context.Context, filter *types.SubscriptionFilter) ([]*domainSub.Subscription, error) {
	if filter == nil {
		filter = types.NewSubscriptionFilter()
	}

	conds := subscriptionConditions(filter)
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions` + conds.where() +
		` ORDER BY created_at ASC, id ASC` + conds.page(filter.QueryFilter)

	rows, err := r.client.Reader(ctx).QueryContext(ctx, query, conds.args...)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list subscriptions").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	subs := make([]*domainSub.Subscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to read subscription").
				Mark(ierr.ErrDatabase)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list subscriptions").
			Mark(ierr.ErrDatabase)
	}
	return subs, nil
}

func (r *subscriptionRepository) Count(ctx context.Context, filter *types.SubscriptionFilter) (int, error) {
	if filter == nil {
		filter = types.NewSubscriptionFilter()
	}

	conds := subscriptionConditions(filter)
	var count int
	if err := r.client.Reader(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions`+conds.where(), conds.args...).Scan(&count); err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to count subscriptions").
			Mark(ierr.ErrDatabase)
	}
	return count, nil
}

func subscriptionConditions(f *types.SubscriptionFilter) *conditions {
	c := &conditions{}
	if len(f.SubscriptionIDs) > 0 {
		c.add("id = ANY(?)", pq.Array(f.SubscriptionIDs))
	}
	if f.CustomerID != "" {
		c.add("customer_id = ?", f.CustomerID)
	}
	if len(f.SubscriptionStatus) > 0 {
		c.add("status = ANY(?)", pq.Array(statusStrings(f.SubscriptionStatus)))
	}
	if f.CancelAtPeriodEnd != nil {
		c.add("cancel_at_period_end = ?", *f.CancelAtPeriodEnd)
	}
	if f.TrialEndBefore != nil {
		c.add("trial_end <= ?", *f.TrialEndBefore)
	}
	if f.CurrentPeriodEndBefore != nil {
		c.add("current_period_end <= ?", *f.CurrentPeriodEndBefore)
	}
	return c
}

func scanSubscription(row rowScanner) (*domainSub.Subscription, error) {
	var (
		sub domainSub.Subscription
		md  []byte
	)
	err := row.Scan(
		&sub.ID, &sub.CustomerID, &sub.PlanID, &sub.PlanName, &sub.Amount, &sub.BillingCycle, &sub.Status,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.IsTrialUsed, &sub.TrialStart, &sub.TrialEnd,
		&sub.CancelAtPeriodEnd, &sub.CancelledAt, &sub.CancellationReason, &md, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(md, &sub.Metadata); err != nil {
		return nil, err
	}
	return &sub, nil
}

func metadataOrEmpty(m types.Metadata) types.Metadata {
	if m == nil {
		return types.Metadata{}
	}
	return m
}
