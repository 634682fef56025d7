package postgres

import (
	"context"
	"time"

	"github.com/flexprice/billing/internal/domain/events"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/logger"
	"github.com/flexprice/billing/internal/postgres"
	"github.com/flexprice/billing/internal/types"
)

const outboxColumns = `id, event_type, aggregate_id, payload, status, attempts, last_error, created_at, published_at`

type outboxRepository struct {
	client postgres.IClient
	log    *logger.Logger
}

func NewOutboxRepository(client postgres.IClient, log *logger.Logger) events.OutboxRepository {
	return &outboxRepository{client: client, log: log}
}

func (r *outboxRepository) Create(ctx context.Context, evts ...*events.Event) error {
	db := r.client.Writer(ctx)
	for _, e := range evts {
		payload, err := marshalJSON(metadataOrEmpty(e.Payload))
		if err != nil {
			return err
		}

		if _, err := db.ExecContext(ctx, `
			INSERT INTO event_outbox (`+outboxColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			e.ID, string(e.Type), e.AggregateID, payload, string(e.Status), e.Attempts, e.LastError, e.CreatedAt, e.PublishedAt,
		); err != nil {
			return ierr.WithError(err).
				WithHint("Failed to store event").
				WithReportableDetails(map[string]interface{}{
					"event_id":   e.ID,
					"event_type": e.Type,
				}).
				Mark(ierr.ErrDatabase)
		}
	}
	return nil
}

// ListPending locks the returned rows until the surrounding transaction
// ends, so concurrent relays skip them.
func (r *outboxRepository) ListPending(ctx context.Context, limit int) ([]*events.Event, error) {
	rows, err := r.client.Reader(ctx).QueryContext(ctx, `
		SELECT `+outboxColumns+` FROM event_outbox
		WHERE status = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		string(types.OutboxStatusPending), limit,
	)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list pending events").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	out := make([]*events.Event, 0)
	for rows.Next() {
		var (
			e       events.Event
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.AggregateID, &payload, &e.Status, &e.Attempts, &e.LastError, &e.CreatedAt, &e.PublishedAt); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to read event").
				Mark(ierr.ErrDatabase)
		}
		if err := unmarshalJSON(payload, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list pending events").
			Mark(ierr.ErrDatabase)
	}
	return out, nil
}

func (r *outboxRepository) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	if _, err := r.client.Writer(ctx).ExecContext(ctx, `
		UPDATE event_outbox SET status = $2, published_at = $3, attempts = attempts + 1 WHERE id = $1`,
		id, string(types.OutboxStatusPublished), publishedAt,
	); err != nil {
		return ierr.WithError(err).
			WithHintf("Failed to mark event %s published", id).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string, errMsg string, maxAttempts int) error {
	if _, err := r.client.Writer(ctx).ExecContext(ctx, `
		UPDATE event_outbox SET attempts = attempts + 1, last_error = $2,
			status = CASE WHEN $3 > 0 AND attempts + 1 >= $3 THEN $4 ELSE status END
		WHERE id = $1`,
		id, errMsg, maxAttempts, string(types.OutboxStatusFailed),
	); err != nil {
		return ierr.WithError(err).
			WithHintf("Failed to record publish failure for event %s", id).
			Mark(ierr.ErrDatabase)
	}
	return nil
}
