package postgres

import (
	"context"

	domainSub "github.com/flexprice/billing/internal/domain/subscription"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/logger"
	"github.com/flexprice/billing/internal/postgres"
	"github.com/flexprice/billing/internal/types"
)

const historyColumns = `id, subscription_id, action, previous_status, new_status,
	previous_plan_id, new_plan_id, details, metadata, created_at`

type subscriptionHistoryRepository struct {
	client postgres.IClient
	log    *logger.Logger
}

func NewSubscriptionHistoryRepository(client postgres.IClient, log *logger.Logger) domainSub.HistoryRepository {
	return &subscriptionHistoryRepository{client: client, log: log}
}

func (r *subscriptionHistoryRepository) Create(ctx context.Context, h *domainSub.History) error {
	md, err := marshalJSON(metadataOrEmpty(h.Metadata))
	if err != nil {
		return err
	}

	_, err = r.client.Writer(ctx).ExecContext(ctx, `
		INSERT INTO subscription_history (`+historyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		h.ID, h.SubscriptionID, string(h.Action), h.PreviousStatus, h.NewStatus,
		h.PreviousPlanID, h.NewPlanID, h.Details, md, h.CreatedAt,
	)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to append subscription history").
			WithReportableDetails(map[string]interface{}{
				"subscription_id": h.SubscriptionID,
				"action":          h.Action,
			}).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *subscriptionHistoryRepository) ListBySubscription(ctx context.Context, subscriptionID string, filter *types.QueryFilter) ([]*domainSub.History, error) {
	c := &conditions{}
	c.add("subscription_id = ?", subscriptionID)
	query := `SELECT ` + historyColumns + ` FROM subscription_history` + c.where() +
		` ORDER BY created_at ASC, id ASC` + c.page(filter)

	rows, err := r.client.Reader(ctx).QueryContext(ctx, query, c.args...)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Failed to list history for subscription %s", subscriptionID).
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	items := make([]*domainSub.History, 0)
	for rows.Next() {
		var (
			h  domainSub.History
			md []byte
		)
		if err := rows.Scan(
			&h.ID, &h.SubscriptionID, &h.Action, &h.PreviousStatus, &h.NewStatus,
			&h.PreviousPlanID, &h.NewPlanID, &h.Details, &md, &h.CreatedAt,
		); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to read subscription history").
				Mark(ierr.ErrDatabase)
		}
		if err := unmarshalJSON(md, &h.Metadata); err != nil {
			return nil, err
		}
		items = append(items, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list subscription history").
			Mark(ierr.ErrDatabase)
	}
	return items, nil
}
