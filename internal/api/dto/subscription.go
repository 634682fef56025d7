package dto

import (
	"time"

	"github.com/flexprice/billing/internal/domain/proration"
	"github.com/flexprice/billing/internal/domain/subscription"
	"github.com/flexprice/billing/internal/types"
	"github.com/flexprice/billing/internal/validator"
	"github.com/shopspring/decimal"
)

// CreateSubscriptionRequest starts a subscription for a customer.
type CreateSubscriptionRequest struct {
	// customer_id is the id of the customer in the customer service
	CustomerID string `json:"customer_id" validate:"required"`

	// plan_id is the id of the plan in the catalogue
	PlanID string `json:"plan_id" validate:"required"`

	// promotion_code is recorded on the subscription and its creation event
	PromotionCode *string `json:"promotion_code,omitempty"`

	// use_trial starts a trial when the plan offers one
	UseTrial bool `json:"use_trial"`

	Metadata types.Metadata `json:"metadata,omitempty"`
}

func (r *CreateSubscriptionRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// CancelSubscriptionRequest cancels now or at the end of the period.
type CancelSubscriptionRequest struct {
	Reason            *string `json:"reason,omitempty"`
	CancelAtPeriodEnd bool    `json:"cancel_at_period_end"`
}

// ChangePlanRequest moves an active subscription to another plan.
type ChangePlanRequest struct {
	NewPlanID string `json:"new_plan_id" validate:"required"`

	// immediate starts a new period now and charges the full new price
	Immediate bool `json:"immediate"`
}

func (r *ChangePlanRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// UpdateSubscriptionStatusRequest overwrites the status of a subscription.
type UpdateSubscriptionStatusRequest struct {
	Status types.SubscriptionStatus `json:"status" validate:"required"`
	Reason *string                  `json:"reason,omitempty"`
}

func (r *UpdateSubscriptionStatusRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	return r.Status.Validate()
}

// SubscriptionResponse is a subscription as returned by the service.
type SubscriptionResponse struct {
	*subscription.Subscription
}

// ChangePlanResponse carries the updated subscription and the proration
// that was applied.
type ChangePlanResponse struct {
	Subscription *subscription.Subscription `json:"subscription"`
	Proration    *proration.Result          `json:"proration"`
	// reconciliation is invoice, credit or none
	Reconciliation string `json:"reconciliation"`
}

// ProrationPreviewRequest computes a proration without changing anything.
type ProrationPreviewRequest struct {
	SubscriptionID string     `json:"subscription_id" validate:"required"`
	NewPlanID      string     `json:"new_plan_id" validate:"required"`
	Immediate      bool       `json:"immediate"`
	ChangeDate     *time.Time `json:"change_date,omitempty"`
}

func (r *ProrationPreviewRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// ListSubscriptionsResponse is one page of subscriptions.
type ListSubscriptionsResponse struct {
	Items []*subscription.Subscription `json:"items"`
	Total int                          `json:"total"`
}

// CancellationRefundPreview is the unused-time refund for an immediate cancel.
type CancellationRefundPreview struct {
	SubscriptionID string          `json:"subscription_id"`
	RefundAmount   decimal.Decimal `json:"refund_amount"`
	RemainingDays  int             `json:"remaining_days"`
}
