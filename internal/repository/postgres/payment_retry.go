package postgres

import (
	"context"
	"time"

	"github.com/flexprice/billing/internal/domain/paymentretry"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/logger"
	"github.com/flexprice/billing/internal/postgres"
	"github.com/flexprice/billing/internal/types"
	"github.com/lib/pq"
)

const paymentRetryColumns = `id, payment_id, invoice_id, subscription_id, attempt_number, max_attempts, status,
	first_failure_at, last_retry_at, next_retry_at, succeeded_at, failure_reason, last_error,
	retry_history, metadata, created_at, updated_at`

type paymentRetryRepository struct {
	client postgres.IClient
	log    *logger.Logger
}

func NewPaymentRetryRepository(client postgres.IClient, log *logger.Logger) paymentretry.Repository {
	return &paymentRetryRepository{client: client, log: log}
}

func (r *paymentRetryRepository) Create(ctx context.Context, pr *paymentretry.PaymentRetry) error {
	r.log.Debugw("creating payment retry",
		"payment_retry_id", pr.ID,
		"payment_id", pr.PaymentID,
		"subscription_id", pr.SubscriptionID,
	)

	history, md, err := encodeRetryJSON(pr)
	if err != nil {
		return err
	}

	_, err = r.client.Writer(ctx).ExecContext(ctx, `
		INSERT INTO payment_retries (`+paymentRetryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		pr.ID, pr.PaymentID, pr.InvoiceID, pr.SubscriptionID, pr.AttemptNumber, pr.MaxAttempts, string(pr.Status),
		pr.FirstFailureAt, pr.LastRetryAt, pr.NextRetryAt, pr.SucceededAt, pr.FailureReason, pr.LastError,
		history, md, pr.CreatedAt, pr.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ierr.WithError(err).
				WithHintf("A payment retry for payment %s already exists", pr.PaymentID).
				WithReportableDetails(map[string]interface{}{
					"payment_id": pr.PaymentID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create payment retry").
			WithReportableDetails(map[string]interface{}{
				"payment_id": pr.PaymentID,
			}).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *paymentRetryRepository) Get(ctx context.Context, id string) (*paymentretry.PaymentRetry, error) {
	row := r.client.Reader(ctx).QueryRowContext(ctx,
		`SELECT `+paymentRetryColumns+` FROM payment_retries WHERE id = $1`, id)

	pr, err := scanPaymentRetry(row)
	if err != nil {
		return nil, notFoundOr(err, "Payment retry", id)
	}
	return pr, nil
}

func (r *paymentRetryRepository) GetByPaymentID(ctx context.Context, paymentID string) (*paymentretry.PaymentRetry, error) {
	row := r.client.Reader(ctx).QueryRowContext(ctx,
		`SELECT `+paymentRetryColumns+` FROM payment_retries WHERE payment_id = $1`, paymentID)

	pr, err := scanPaymentRetry(row)
	if err != nil {
		return nil, notFoundOr(err, "Payment retry for payment", paymentID)
	}
	return pr, nil
}

func (r *paymentRetryRepository) Update(ctx context.Context, pr *paymentretry.PaymentRetry) error {
	history, md, err := encodeRetryJSON(pr)
	if err != nil {
		return err
	}

	res, err := r.client.Writer(ctx).ExecContext(ctx, `
		UPDATE payment_retries SET
			attempt_number = $2, max_attempts = $3, status = $4, last_retry_at = $5,
			next_retry_at = $6, succeeded_at = $7, last_error = $8, retry_history = $9,
			metadata = $10, updated_at = $11
		WHERE id = $1`,
		pr.ID, pr.AttemptNumber, pr.MaxAttempts, string(pr.Status), pr.LastRetryAt,
		pr.NextRetryAt, pr.SucceededAt, pr.LastError, history,
		md, pr.UpdatedAt,
	)
	if err != nil {
		return ierr.WithError(err).
			WithHintf("Failed to update payment retry %s", pr.ID).
			Mark(ierr.ErrDatabase)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ierr.NewErrorf("payment retry %s not found", pr.ID).
			WithHintf("Payment retry %s was not found", pr.ID).
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (r *paymentRetryRepository) List(ctx context.Context, filter *types.PaymentRetryFilter) ([]*paymentretry.PaymentRetry, error) {
	if filter == nil {
		filter = types.NewPaymentRetryFilter()
	}

	c := paymentRetryConditions(filter)
	query := `SELECT ` + paymentRetryColumns + ` FROM payment_retries` + c.where() +
		` ORDER BY created_at ASC, id ASC` + c.page(filter.QueryFilter)
	return r.query(ctx, query, c.args...)
}

func (r *paymentRetryRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*paymentretry.PaymentRetry, error) {
	return r.query(ctx, `
		SELECT `+paymentRetryColumns+` FROM payment_retries
		WHERE status = $1 AND next_retry_at IS NOT NULL AND next_retry_at <= $2
		ORDER BY next_retry_at ASC, id ASC
		LIMIT $3`,
		string(types.PaymentRetryStatusPending), now, limit,
	)
}

func (r *paymentRetryRepository) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.client.Writer(ctx).ExecContext(ctx, `
		UPDATE payment_retries
		SET status = $2, next_retry_at = NULL, updated_at = $3
		WHERE id = $1 AND status = $4 AND next_retry_at IS NOT NULL AND next_retry_at <= $3`,
		id, string(types.PaymentRetryStatusRetrying), now, string(types.PaymentRetryStatusPending),
	)
	if err != nil {
		return false, ierr.WithError(err).
			WithHintf("Failed to claim payment retry %s", id).
			Mark(ierr.ErrDatabase)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, ierr.WithError(err).
			WithHintf("Failed to claim payment retry %s", id).
			Mark(ierr.ErrDatabase)
	}
	return n == 1, nil
}

func (r *paymentRetryRepository) ReleaseStaleClaims(ctx context.Context, staleBefore, now time.Time) (int, error) {
	res, err := r.client.Writer(ctx).ExecContext(ctx, `
		UPDATE payment_retries
		SET status = $1, next_retry_at = $2, updated_at = $2
		WHERE status = $3 AND updated_at < $4`,
		string(types.PaymentRetryStatusPending), now, string(types.PaymentRetryStatusRetrying), staleBefore,
	)
	if err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to release stale payment retry claims").
			Mark(ierr.ErrDatabase)
	}

	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *paymentRetryRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.client.Writer(ctx).ExecContext(ctx, `
		DELETE FROM payment_retries WHERE status = ANY($1) AND updated_at < $2`,
		pq.Array(statusStrings(types.TerminalPaymentRetryStatuses)), cutoff,
	)
	if err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to delete old payment retries").
			Mark(ierr.ErrDatabase)
	}

	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *paymentRetryRepository) CountByStatus(ctx context.Context, filter *types.PaymentRetryFilter) (map[types.PaymentRetryStatus]int, error) {
	if filter == nil {
		filter = types.NewPaymentRetryFilter()
	}

	c := paymentRetryConditions(filter)
	rows, err := r.client.Reader(ctx).QueryContext(ctx,
		`SELECT status, COUNT(*) FROM payment_retries`+c.where()+` GROUP BY status`, c.args...)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to count payment retries").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	counts := make(map[types.PaymentRetryStatus]int)
	for rows.Next() {
		var (
			status types.PaymentRetryStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to read payment retry counts").
				Mark(ierr.ErrDatabase)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to count payment retries").
			Mark(ierr.ErrDatabase)
	}
	return counts, nil
}

func (r *paymentRetryRepository) query(ctx context.Context, query string, args ...interface{}) ([]*paymentretry.PaymentRetry, error) {
	rows, err := r.client.Reader(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list payment retries").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	items := make([]*paymentretry.PaymentRetry, 0)
	for rows.Next() {
		pr, err := scanPaymentRetry(rows)
		if err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to read payment retry").
				Mark(ierr.ErrDatabase)
		}
		items = append(items, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list payment retries").
			Mark(ierr.ErrDatabase)
	}
	return items, nil
}

func paymentRetryConditions(f *types.PaymentRetryFilter) *conditions {
	c := &conditions{}
	if len(f.PaymentIDs) > 0 {
		c.add("payment_id = ANY(?)", pq.Array(f.PaymentIDs))
	}
	if len(f.SubscriptionIDs) > 0 {
		c.add("subscription_id = ANY(?)", pq.Array(f.SubscriptionIDs))
	}
	if len(f.Statuses) > 0 {
		c.add("status = ANY(?)", pq.Array(statusStrings(f.Statuses)))
	}
	if f.NextRetryBefore != nil {
		c.add("next_retry_at <= ?", *f.NextRetryBefore)
	}
	return c
}

func encodeRetryJSON(pr *paymentretry.PaymentRetry) ([]byte, []byte, error) {
	attempts := pr.RetryHistory
	if attempts == nil {
		attempts = []paymentretry.RetryAttempt{}
	}
	history, err := marshalJSON(attempts)
	if err != nil {
		return nil, nil, err
	}
	md, err := marshalJSON(pr.Metadata)
	if err != nil {
		return nil, nil, err
	}
	return history, md, nil
}

func scanPaymentRetry(row rowScanner) (*paymentretry.PaymentRetry, error) {
	var (
		pr      paymentretry.PaymentRetry
		history []byte
		md      []byte
	)
	err := row.Scan(
		&pr.ID, &pr.PaymentID, &pr.InvoiceID, &pr.SubscriptionID, &pr.AttemptNumber, &pr.MaxAttempts, &pr.Status,
		&pr.FirstFailureAt, &pr.LastRetryAt, &pr.NextRetryAt, &pr.SucceededAt, &pr.FailureReason, &pr.LastError,
		&history, &md, &pr.CreatedAt, &pr.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(history, &pr.RetryHistory); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(md, &pr.Metadata); err != nil {
		return nil, err
	}
	return &pr, nil
}
