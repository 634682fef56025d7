package types

import (
	"time"

	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/samber/lo"
)

// PaymentRetryStatus is the state of a failed-payment recovery campaign.
type PaymentRetryStatus string

const (
	PaymentRetryStatusPending   PaymentRetryStatus = "pending"
	PaymentRetryStatusRetrying  PaymentRetryStatus = "retrying"
	PaymentRetryStatusSucceeded PaymentRetryStatus = "succeeded"
	PaymentRetryStatusExhausted PaymentRetryStatus = "exhausted"
	PaymentRetryStatusCancelled PaymentRetryStatus = "cancelled"
)

// TerminalPaymentRetryStatuses are never mutated again.
var TerminalPaymentRetryStatuses = []PaymentRetryStatus{
	PaymentRetryStatusSucceeded,
	PaymentRetryStatusExhausted,
	PaymentRetryStatusCancelled,
}

func (s PaymentRetryStatus) IsTerminal() bool {
	return lo.Contains(TerminalPaymentRetryStatuses, s)
}

func (s PaymentRetryStatus) Validate() error {
	switch s {
	case PaymentRetryStatusPending, PaymentRetryStatusRetrying,
		PaymentRetryStatusSucceeded, PaymentRetryStatusExhausted, PaymentRetryStatusCancelled:
		return nil
	}
	return ierr.NewErrorf("invalid payment retry status: %s", s).
		Mark(ierr.ErrValidation)
}

// PaymentFailureType classifies a failure reason for retry eligibility.
type PaymentFailureType string

const (
	PaymentFailureTypePermanent PaymentFailureType = "permanent"
	PaymentFailureTypeTemporary PaymentFailureType = "temporary"
	PaymentFailureTypeUnknown   PaymentFailureType = "unknown"
)

// PaymentRetryFilter selects payment retry records.
type PaymentRetryFilter struct {
	*QueryFilter
	PaymentIDs      []string             `json:"payment_ids,omitempty"`
	SubscriptionIDs []string             `json:"subscription_ids,omitempty"`
	Statuses        []PaymentRetryStatus `json:"statuses,omitempty"`
	NextRetryBefore *time.Time           `json:"next_retry_before,omitempty"`
}

func NewPaymentRetryFilter() *PaymentRetryFilter {
	return &PaymentRetryFilter{QueryFilter: NewDefaultQueryFilter()}
}
