package events

import (
	"github.com/flexprice/billing/internal/types"
	"github.com/shopspring/decimal"
)

// PaymentEvent is the payload of PAYMENT_SUCCESS, PAYMENT_FAILED and
// INVOICE_CREATED events published by the payment and invoicing services.
type PaymentEvent struct {
	Type           types.EventType  `json:"type" validate:"required"`
	PaymentID      string           `json:"payment_id"`
	InvoiceID      string           `json:"invoice_id" validate:"required"`
	InvoiceNumber  string           `json:"invoice_number,omitempty"`
	CustomerID     string           `json:"customer_id"`
	SubscriptionID string           `json:"subscription_id,omitempty"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	Reason         string           `json:"reason,omitempty"`
}

// RetryKey identifies the retry campaign of the event, falling back to the
// invoice when the producer did not send a payment id.
func (e *PaymentEvent) RetryKey() string {
	if e.PaymentID != "" {
		return e.PaymentID
	}
	return e.InvoiceID
}
