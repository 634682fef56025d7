package payment

import "context"

// RetryRequest identifies the payment to re-initiate.
type RetryRequest struct {
	PaymentID      string `json:"payment_id"`
	InvoiceID      string `json:"invoice_id"`
	SubscriptionID string `json:"subscription_id"`
	AttemptNumber  int    `json:"attempt_number"`
	IdempotencyKey string `json:"idempotency_key"`
}

// RetryResult is the outcome reported by the payment provider. A declined
// payment is a result with Success false, not an error.
type RetryResult struct {
	Success       bool   `json:"success"`
	FailureReason string `json:"failure_reason,omitempty"`
	ProviderRef   string `json:"provider_ref,omitempty"`
}

// Gateway re-initiates payments for the retry processor.
type Gateway interface {
	RetryPayment(ctx context.Context, req *RetryRequest) (*RetryResult, error)
}
