package paymentretry

import (
	"time"

	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/types"
	"github.com/samber/lo"
)

// PaymentRetry is one failed-payment recovery campaign, keyed by PaymentID.
type PaymentRetry struct {
	ID             string                   `json:"id"`
	PaymentID      string                   `json:"payment_id"`
	InvoiceID      string                   `json:"invoice_id"`
	SubscriptionID string                   `json:"subscription_id"`
	AttemptNumber  int                      `json:"attempt_number"`
	MaxAttempts    int                      `json:"max_attempts"`
	Status         types.PaymentRetryStatus `json:"status"`
	FirstFailureAt time.Time                `json:"first_failure_at"`
	LastRetryAt    *time.Time               `json:"last_retry_at,omitempty"`
	NextRetryAt    *time.Time               `json:"next_retry_at,omitempty"`
	SucceededAt    *time.Time               `json:"succeeded_at,omitempty"`
	FailureReason  string                   `json:"failure_reason"`
	LastError      *string                  `json:"last_error,omitempty"`
	RetryHistory   []RetryAttempt           `json:"retry_history"`
	Metadata       RetryMetadata            `json:"metadata"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

// RetryAttempt is one entry of the retry history. DelayMs is the delay
// scheduled after the attempt, zero when the attempt ended the campaign.
type RetryAttempt struct {
	AttemptNumber int       `json:"attempt_number"`
	AttemptedAt   time.Time `json:"attempted_at"`
	Success       bool      `json:"success"`
	Error         *string   `json:"error,omitempty"`
	DelayMs       int64     `json:"delay_ms"`
}

type RetryMetadata struct {
	FailureType       types.PaymentFailureType `json:"failure_type"`
	Retryable         bool                     `json:"retryable"`
	CustomerNotified  bool                     `json:"customer_notified"`
	NotificationsSent int                      `json:"notifications_sent"`
}

// New builds the campaign for a first payment failure. Retryable failures
// get their first retry at firstFailureAt + delay(1); permanent ones stay
// pending without a next retry and wait for the customer.
func New(paymentID, invoiceID, subscriptionID, failureReason string, policy Policy, firstFailureAt time.Time) *PaymentRetry {
	failureType := ClassifyFailure(failureReason)
	retryable := IsRetryable(failureType)

	r := &PaymentRetry{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PAYMENT_RETRY),
		PaymentID:      paymentID,
		InvoiceID:      invoiceID,
		SubscriptionID: subscriptionID,
		AttemptNumber:  0,
		MaxAttempts:    policy.MaxAttempts,
		Status:         types.PaymentRetryStatusPending,
		FirstFailureAt: firstFailureAt,
		FailureReason:  failureReason,
		RetryHistory:   []RetryAttempt{},
		Metadata: RetryMetadata{
			FailureType: failureType,
			Retryable:   retryable,
		},
		CreatedAt: firstFailureAt,
		UpdatedAt: firstFailureAt,
	}

	if retryable {
		r.NextRetryAt = lo.ToPtr(firstFailureAt.Add(policy.CalculateRetryDelay(1)))
	}
	return r
}

// IsTerminal reports whether the campaign is closed for good.
func (r *PaymentRetry) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// IsDue reports whether the campaign should be attempted at now.
func (r *PaymentRetry) IsDue(now time.Time) bool {
	return r.Status == types.PaymentRetryStatusPending && r.NextRetryAt != nil && !r.NextRetryAt.After(now)
}

// RecordAttempt appends the outcome of a payment attempt. A failed attempt
// is rescheduled while the policy allows it and exhausts the campaign
// otherwise. The returned attempt is the history entry just appended.
func (r *PaymentRetry) RecordAttempt(success bool, attemptErr *string, policy Policy, now time.Time) (*RetryAttempt, error) {
	if err := r.ensureMutable(); err != nil {
		return nil, err
	}

	attempt := RetryAttempt{
		AttemptNumber: r.AttemptNumber + 1,
		AttemptedAt:   now,
		Success:       success,
		Error:         attemptErr,
	}

	r.AttemptNumber = attempt.AttemptNumber
	r.LastRetryAt = lo.ToPtr(now)
	r.UpdatedAt = now

	// the cap stored on the campaign wins over the current config
	limits := policy
	if r.MaxAttempts > 0 {
		limits.MaxAttempts = r.MaxAttempts
	}

	switch {
	case success:
		r.Status = types.PaymentRetryStatusSucceeded
		r.SucceededAt = lo.ToPtr(now)
		r.NextRetryAt = nil
	case limits.CanRetry(attempt.AttemptNumber, r.FirstFailureAt, now):
		delay := policy.CalculateRetryDelay(attempt.AttemptNumber + 1)
		attempt.DelayMs = delay.Milliseconds()
		r.Status = types.PaymentRetryStatusPending
		r.NextRetryAt = lo.ToPtr(now.Add(delay))
		r.LastError = attemptErr
	default:
		r.Status = types.PaymentRetryStatusExhausted
		r.NextRetryAt = nil
		r.LastError = attemptErr
	}

	r.RetryHistory = append(r.RetryHistory, attempt)
	return &attempt, nil
}

// MarkSucceeded closes the campaign after a payment succeeded outside the
// retry processor, for example after the customer updated their card.
func (r *PaymentRetry) MarkSucceeded(now time.Time) error {
	if err := r.ensureMutable(); err != nil {
		return err
	}

	r.Status = types.PaymentRetryStatusSucceeded
	r.SucceededAt = lo.ToPtr(now)
	r.NextRetryAt = nil
	r.UpdatedAt = now
	return nil
}

func (r *PaymentRetry) Cancel(now time.Time) error {
	if err := r.ensureMutable(); err != nil {
		return err
	}

	r.Status = types.PaymentRetryStatusCancelled
	r.NextRetryAt = nil
	r.UpdatedAt = now
	return nil
}

func (r *PaymentRetry) ensureMutable() error {
	if r.IsTerminal() {
		return ierr.NewErrorf("payment retry %s is already %s", r.ID, r.Status).
			WithHint("A closed payment retry cannot be changed").
			WithReportableDetails(map[string]interface{}{
				"payment_retry_id": r.ID,
				"status":           r.Status,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	return nil
}
