package dto

import (
	"github.com/flexprice/billing/internal/domain/paymentretry"
	"github.com/flexprice/billing/internal/types"
	"github.com/flexprice/billing/internal/validator"
)

// ScheduleRetryRequest opens a retry campaign for a failed payment.
type ScheduleRetryRequest struct {
	PaymentID      string `json:"payment_id" validate:"required"`
	InvoiceID      string `json:"invoice_id" validate:"required"`
	SubscriptionID string `json:"subscription_id"`
	FailureReason  string `json:"failure_reason"`
}

func (r *ScheduleRetryRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// RecordAttemptRequest reports the outcome of one payment attempt.
type RecordAttemptRequest struct {
	Success bool    `json:"success"`
	Error   *string `json:"error,omitempty"`
}

// PaymentRetryStatsResponse counts campaigns per status.
type PaymentRetryStatsResponse struct {
	Total    int                              `json:"total"`
	ByStatus map[types.PaymentRetryStatus]int `json:"by_status"`
	// Due is the number of pending campaigns whose next retry has passed.
	Due int `json:"due"`
}

type ListPaymentRetriesResponse struct {
	Items []*paymentretry.PaymentRetry `json:"items"`
}
