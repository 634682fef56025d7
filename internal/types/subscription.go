package types

import (
	"fmt"
	"strings"
	"time"

	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/samber/lo"
)

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "PENDING"
	SubscriptionStatusTrial     SubscriptionStatus = "TRIAL"
	SubscriptionStatusActive    SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue   SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCancelled SubscriptionStatus = "CANCELLED"
	SubscriptionStatusExpired   SubscriptionStatus = "EXPIRED"
)

var allSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusPending,
	SubscriptionStatusTrial,
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
	SubscriptionStatusCancelled,
	SubscriptionStatusExpired,
}

func (s SubscriptionStatus) String() string {
	return string(s)
}

func (s SubscriptionStatus) Validate() error {
	if lo.Contains(allSubscriptionStatuses, s) {
		return nil
	}
	return ierr.NewErrorf("invalid subscription status: %s", s).
		WithHintf("Subscription status must be one of: %s", joinStatuses(allSubscriptionStatuses)).
		Mark(ierr.ErrValidation)
}

// IsTerminal reports whether no further lifecycle transition is expected.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusCancelled || s == SubscriptionStatusExpired
}

func joinStatuses(statuses []SubscriptionStatus) string {
	return strings.Join(lo.Map(statuses, func(s SubscriptionStatus, _ int) string { return string(s) }), ", ")
}

// BillingCycle is the length of one billing period.
type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

func (b BillingCycle) String() string {
	return string(b)
}

func (b BillingCycle) Validate() error {
	switch b {
	case BillingCycleMonthly, BillingCycleYearly:
		return nil
	}
	return ierr.NewErrorf("invalid billing cycle: %s", b).
		WithHint("Billing cycle must be monthly or yearly").
		Mark(ierr.ErrValidation)
}

// AddTo advances t by one billing cycle using calendar arithmetic, so a
// month added to Jan 31 normalises into March like time.AddDate does.
func (b BillingCycle) AddTo(t time.Time) time.Time {
	switch b {
	case BillingCycleYearly:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 1, 0)
	}
}

// SubscriptionHistoryAction tags a subscription_history row.
type SubscriptionHistoryAction string

const (
	HistoryActionCreated       SubscriptionHistoryAction = "created"
	HistoryActionActivated     SubscriptionHistoryAction = "activated"
	HistoryActionCancelled     SubscriptionHistoryAction = "cancelled"
	HistoryActionRenewed       SubscriptionHistoryAction = "renewed"
	HistoryActionPlanChanged   SubscriptionHistoryAction = "plan_changed"
	HistoryActionStatusChanged SubscriptionHistoryAction = "status_changed"
	HistoryActionTrialEnded    SubscriptionHistoryAction = "trial_ended"
)

// SubscriptionFilter selects subscriptions for list queries and sweeps.
type SubscriptionFilter struct {
	*QueryFilter
	SubscriptionIDs        []string             `json:"subscription_ids,omitempty"`
	CustomerID             string               `json:"customer_id,omitempty"`
	SubscriptionStatus     []SubscriptionStatus `json:"subscription_status,omitempty"`
	CancelAtPeriodEnd      *bool                `json:"cancel_at_period_end,omitempty"`
	TrialEndBefore         *time.Time           `json:"trial_end_before,omitempty"`
	CurrentPeriodEndBefore *time.Time           `json:"current_period_end_before,omitempty"`
}

func NewSubscriptionFilter() *SubscriptionFilter {
	return &SubscriptionFilter{QueryFilter: NewDefaultQueryFilter()}
}

func (f *SubscriptionFilter) Validate() error {
	if f == nil {
		return nil
	}
	for _, s := range f.SubscriptionStatus {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (f *SubscriptionFilter) String() string {
	return fmt.Sprintf("customer=%s statuses=%v", f.CustomerID, f.SubscriptionStatus)
}
