package subscription

import (
	"time"

	"github.com/flexprice/billing/internal/types"
	"github.com/shopspring/decimal"
)

// MetadataKeyLastProration holds the snapshot of the most recent plan change.
const MetadataKeyLastProration = "lastProration"

// Subscription is one customer-plan relationship.
type Subscription struct {
	ID                 string                   `json:"id"`
	CustomerID         string                   `json:"customer_id"`
	PlanID             string                   `json:"plan_id"`
	PlanName           string                   `json:"plan_name"`
	Amount             decimal.Decimal          `json:"amount"`
	BillingCycle       types.BillingCycle       `json:"billing_cycle"`
	Status             types.SubscriptionStatus `json:"status"`
	CurrentPeriodStart time.Time                `json:"current_period_start"`
	CurrentPeriodEnd   time.Time                `json:"current_period_end"`
	IsTrialUsed        bool                     `json:"is_trial_used"`
	TrialStart         *time.Time               `json:"trial_start,omitempty"`
	TrialEnd           *time.Time               `json:"trial_end,omitempty"`
	CancelAtPeriodEnd  bool                     `json:"cancel_at_period_end"`
	CancelledAt        *time.Time               `json:"cancelled_at,omitempty"`
	CancellationReason *string                  `json:"cancellation_reason,omitempty"`
	Metadata           types.Metadata           `json:"metadata,omitempty"`
	CreatedAt          time.Time                `json:"created_at"`
	UpdatedAt          time.Time                `json:"updated_at"`
}

// ShouldBill reports whether the subscription is renewed at period end.
func (s *Subscription) ShouldBill() bool {
	return (s.Status == types.SubscriptionStatusActive || s.Status == types.SubscriptionStatusPastDue) &&
		!s.CancelAtPeriodEnd
}

// IsTrialExpired reports whether a trial has run out at now.
func (s *Subscription) IsTrialExpired(now time.Time) bool {
	return s.Status == types.SubscriptionStatusTrial && s.TrialEnd != nil && !s.TrialEnd.After(now)
}

// History is an immutable audit row appended for every mutation.
type History struct {
	ID             string                          `json:"id"`
	SubscriptionID string                          `json:"subscription_id"`
	Action         types.SubscriptionHistoryAction `json:"action"`
	PreviousStatus *types.SubscriptionStatus       `json:"previous_status,omitempty"`
	NewStatus      *types.SubscriptionStatus       `json:"new_status,omitempty"`
	PreviousPlanID *string                         `json:"previous_plan_id,omitempty"`
	NewPlanID      *string                         `json:"new_plan_id,omitempty"`
	Details        string                          `json:"details"`
	Metadata       types.Metadata                  `json:"metadata,omitempty"`
	CreatedAt      time.Time                       `json:"created_at"`
}
