package subscription

import (
	"fmt"
	"time"

	"github.com/flexprice/billing/internal/domain/events"
	"github.com/flexprice/billing/internal/domain/plan"
	"github.com/flexprice/billing/internal/domain/proration"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Transition is the result of a state machine operation: the history row
// and the events the caller must persist together with the subscription.
type Transition struct {
	Subscription *Subscription
	History      *History
	Events       []*events.Event
}

type CreateParams struct {
	CustomerID    string
	Plan          *plan.Plan
	PromotionCode *string
	UseTrial      bool
	Metadata      types.Metadata
}

// New starts a subscription for the current period. It is TRIAL when a
// trial is requested and the plan offers one, PENDING otherwise.
func New(params CreateParams, now time.Time) (*Transition, error) {
	if params.CustomerID == "" {
		return nil, ierr.NewError("customer_id is required").
			WithHint("Please provide a customer").
			Mark(ierr.ErrValidation)
	}
	if params.Plan == nil {
		return nil, ierr.NewError("plan is required").
			WithHint("Please provide a plan").
			Mark(ierr.ErrValidation)
	}
	if err := params.Plan.BillingCycle.Validate(); err != nil {
		return nil, err
	}

	md := params.Metadata.Clone()
	if params.PromotionCode != nil {
		md["promotion_code"] = *params.PromotionCode
	}

	s := &Subscription{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		CustomerID:         params.CustomerID,
		PlanID:             params.Plan.ID,
		PlanName:           params.Plan.Name,
		Amount:             params.Plan.Price,
		BillingCycle:       params.Plan.BillingCycle,
		Status:             types.SubscriptionStatusPending,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   params.Plan.BillingCycle.AddTo(now),
		Metadata:           md,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	trial := params.UseTrial && params.Plan.HasTrial()
	if trial {
		s.Status = types.SubscriptionStatusTrial
		s.TrialStart = lo.ToPtr(now)
		s.TrialEnd = lo.ToPtr(now.AddDate(0, 0, params.Plan.TrialDays))
		s.IsTrialUsed = true
	}

	h := s.newHistory(types.HistoryActionCreated, nil, fmt.Sprintf("Subscription created on plan %s", s.PlanName), nil, now)
	h.NewPlanID = lo.ToPtr(s.PlanID)

	evts := []*events.Event{
		s.newEvent(types.EventSubscriptionCreated, types.Metadata{
			"plan_name":            s.PlanName,
			"amount":               s.Amount.String(),
			"billing_cycle":        string(s.BillingCycle),
			"current_period_start": formatTime(s.CurrentPeriodStart),
			"current_period_end":   formatTime(s.CurrentPeriodEnd),
			"promotion_code":       lo.FromPtr(params.PromotionCode),
		}, now),
	}
	if trial {
		evts = append(evts, s.newEvent(types.EventSubscriptionTrialStarted, types.Metadata{
			"trial_start": formatTime(*s.TrialStart),
			"trial_end":   formatTime(*s.TrialEnd),
			"trial_days":  params.Plan.TrialDays,
		}, now))
	}

	return &Transition{Subscription: s, History: h, Events: evts}, nil
}

// Activate finalises a PENDING subscription once its first payment cleared.
func (s *Subscription) Activate(now time.Time) (*Transition, error) {
	if s.Status != types.SubscriptionStatusPending {
		return nil, s.invalidTransition("activate", "Only pending subscriptions can be activated")
	}

	prev := s.Status
	s.Status = types.SubscriptionStatusActive
	s.UpdatedAt = now

	h := s.newHistory(types.HistoryActionActivated, &prev, "Subscription activated", nil, now)
	return s.transition(h, s.newEvent(types.EventSubscriptionActivated, types.Metadata{
		"activated_at": formatTime(now),
	}, now)), nil
}

// Cancel either flags the subscription to end with the current period or
// cancels it right away. Immediate cancellation of an ACTIVE subscription
// records the unused-time refund on the history row.
func (s *Subscription) Cancel(reason *string, atPeriodEnd bool, now time.Time) (*Transition, error) {
	if s.Status == types.SubscriptionStatusCancelled {
		return nil, s.invalidTransition("cancel", "Subscription is already cancelled")
	}

	prev := s.Status
	md := types.Metadata{"cancel_at_period_end": atPeriodEnd}
	payload := types.Metadata{
		"cancel_at_period_end": atPeriodEnd,
		"reason":               lo.FromPtr(reason),
	}

	var details string
	if atPeriodEnd {
		s.CancelAtPeriodEnd = true
		s.CancellationReason = reason
		details = fmt.Sprintf("Subscription will cancel at period end (%s)", formatTime(s.CurrentPeriodEnd))
		payload["effective_at"] = formatTime(s.CurrentPeriodEnd)
	} else {
		if s.Status == types.SubscriptionStatusActive {
			if refund, err := proration.CalculateCancellationRefund(s.Amount, s.CurrentPeriodStart, s.CurrentPeriodEnd, now); err == nil {
				md["refund"] = refund.ToMetadata()
				payload["refund_amount"] = refund.RefundAmount.StringFixed(2)
			}
		}
		s.Status = types.SubscriptionStatusCancelled
		s.CancelledAt = lo.ToPtr(now)
		s.CancellationReason = reason
		details = "Subscription cancelled"
		payload["effective_at"] = formatTime(now)
		payload["cancelled_at"] = formatTime(now)
	}
	if reason != nil {
		details = fmt.Sprintf("%s: %s", details, *reason)
	}
	s.UpdatedAt = now

	h := s.newHistory(types.HistoryActionCancelled, &prev, details, md, now)
	return s.transition(h, s.newEvent(types.EventSubscriptionCancelled, payload, now)), nil
}

// CompletePeriodEndCancellation cancels a subscription flagged with
// CancelAtPeriodEnd once its period is over.
func (s *Subscription) CompletePeriodEndCancellation(now time.Time) (*Transition, error) {
	if !s.CancelAtPeriodEnd || s.Status.IsTerminal() {
		return nil, s.invalidTransition("complete period-end cancellation", "Subscription is not awaiting period-end cancellation")
	}
	if s.CurrentPeriodEnd.After(now) {
		return nil, s.invalidTransition("complete period-end cancellation", "Current period has not ended yet")
	}

	prev := s.Status
	s.Status = types.SubscriptionStatusCancelled
	s.CancelledAt = lo.ToPtr(now)
	s.UpdatedAt = now

	h := s.newHistory(types.HistoryActionCancelled, &prev, "Subscription cancelled at period end", types.Metadata{
		"cancel_at_period_end": true,
		"period_end":           formatTime(s.CurrentPeriodEnd),
	}, now)
	return s.transition(h, s.newEvent(types.EventSubscriptionCancelled, types.Metadata{
		"cancel_at_period_end": true,
		"reason":               lo.FromPtr(s.CancellationReason),
		"effective_at":         formatTime(s.CurrentPeriodEnd),
		"cancelled_at":         formatTime(now),
	}, now)), nil
}

// Renew advances the billing period by one cycle.
func (s *Subscription) Renew(now time.Time) (*Transition, error) {
	if !s.ShouldBill() {
		return nil, s.invalidTransition("renew", "Only active or past due subscriptions that are not cancelling can be renewed")
	}

	prevStart, prevEnd := s.CurrentPeriodStart, s.CurrentPeriodEnd
	s.CurrentPeriodStart = prevEnd
	s.CurrentPeriodEnd = s.BillingCycle.AddTo(prevEnd)
	s.UpdatedAt = now

	h := s.newHistory(types.HistoryActionRenewed, nil, fmt.Sprintf("Subscription renewed until %s", formatTime(s.CurrentPeriodEnd)), types.Metadata{
		"previous_period_start": formatTime(prevStart),
		"previous_period_end":   formatTime(prevEnd),
		"period_start":          formatTime(s.CurrentPeriodStart),
		"period_end":            formatTime(s.CurrentPeriodEnd),
	}, now)
	return s.transition(h, s.newEvent(types.EventSubscriptionRenewed, types.Metadata{
		"plan_name":     s.PlanName,
		"amount":        s.Amount.String(),
		"billing_cycle": string(s.BillingCycle),
		"period_start":  formatTime(s.CurrentPeriodStart),
		"period_end":    formatTime(s.CurrentPeriodEnd),
	}, now)), nil
}

// ChangePlan moves an ACTIVE subscription to newPlan. The prorated variant
// keeps the current period; the immediate one starts a new period at now.
// An invoice or credit event follows when the net amount reaches threshold.
func (s *Subscription) ChangePlan(newPlan *plan.Plan, immediate bool, threshold decimal.Decimal, now time.Time) (*Transition, *proration.Result, error) {
	if s.Status != types.SubscriptionStatusActive {
		return nil, nil, s.invalidTransition("change plan", "Only active subscriptions can change plan")
	}
	if newPlan == nil {
		return nil, nil, ierr.NewError("new plan is required").
			Mark(ierr.ErrValidation)
	}

	params := proration.Params{
		OldAmount:    s.Amount,
		NewAmount:    newPlan.Price,
		PeriodStart:  s.CurrentPeriodStart,
		PeriodEnd:    s.CurrentPeriodEnd,
		ChangeDate:   now,
		BillingCycle: newPlan.BillingCycle,
	}

	var (
		res *proration.Result
		err error
	)
	if immediate {
		res, err = proration.CalculateImmediateChangeProration(params)
	} else {
		res, err = proration.CalculateProration(params)
	}
	if err != nil {
		return nil, nil, err
	}

	prevPlanID, prevPlanName := s.PlanID, s.PlanName
	s.PlanID = newPlan.ID
	s.PlanName = newPlan.Name
	s.Amount = newPlan.Price
	s.BillingCycle = newPlan.BillingCycle
	if immediate {
		s.CurrentPeriodStart = now
		s.CurrentPeriodEnd = res.NextBillingDate
	}

	snapshot := res.ToMetadata()
	md := s.Metadata.Clone()
	md[MetadataKeyLastProration] = snapshot
	s.Metadata = md
	s.UpdatedAt = now

	h := s.newHistory(types.HistoryActionPlanChanged, nil,
		fmt.Sprintf("Plan changed from %s to %s (%s)", prevPlanName, s.PlanName, res.ChangeType),
		types.Metadata{"proration": snapshot}, now)
	h.PreviousPlanID = lo.ToPtr(prevPlanID)
	h.NewPlanID = lo.ToPtr(s.PlanID)

	evts := []*events.Event{
		s.newEvent(types.EventSubscriptionPlanChanged, types.Metadata{
			"previous_plan_id": prevPlanID,
			"new_plan_id":      s.PlanID,
			"plan_name":        s.PlanName,
			"amount":           s.Amount.String(),
			"billing_cycle":    string(s.BillingCycle),
			"change_type":      string(res.ChangeType),
			"immediate":        immediate,
			"proration":        snapshot,
		}, now),
	}

	if proration.ShouldApplyProration(res.NetAmount, threshold) {
		reconciliation := types.Metadata{
			"amount":    res.NetAmount.Abs().StringFixed(2),
			"reason":    "proration",
			"proration": snapshot,
		}
		if res.NetAmount.IsPositive() {
			evts = append(evts, s.newEvent(types.EventInvoiceCreated, reconciliation, now))
		} else {
			evts = append(evts, s.newEvent(types.EventBillingCreditApplied, reconciliation, now))
		}
	}

	return &Transition{Subscription: s, History: h, Events: evts}, res, nil
}

// UpdateStatus overwrites the status. Used by payment event handlers, so it
// does not check the current state.
func (s *Subscription) UpdateStatus(newStatus types.SubscriptionStatus, reason *string, now time.Time) (*Transition, error) {
	if err := newStatus.Validate(); err != nil {
		return nil, err
	}

	prev := s.Status
	s.Status = newStatus
	s.UpdatedAt = now

	details := fmt.Sprintf("Status changed from %s to %s", prev, newStatus)
	if reason != nil {
		details = fmt.Sprintf("%s: %s", details, *reason)
	}

	h := s.newHistory(types.HistoryActionStatusChanged, &prev, details, nil, now)
	return s.transition(h, s.newEvent(types.EventSubscriptionUpdated, types.Metadata{
		"previous_status": string(prev),
		"new_status":      string(newStatus),
		"reason":          lo.FromPtr(reason),
	}, now)), nil
}

// EndTrial converts an expired trial to ACTIVE. The event carries the plan
// and amount so billing can issue the first real invoice.
func (s *Subscription) EndTrial(now time.Time) (*Transition, error) {
	if !s.IsTrialExpired(now) {
		return nil, s.invalidTransition("end trial", "Only trials past their end date can be ended")
	}

	prev := s.Status
	s.Status = types.SubscriptionStatusActive
	s.UpdatedAt = now

	h := s.newHistory(types.HistoryActionTrialEnded, &prev, "Trial ended, subscription is now active", nil, now)
	return s.transition(h, s.newEvent(types.EventSubscriptionTrialEnded, types.Metadata{
		"plan_name":            s.PlanName,
		"amount":               s.Amount.String(),
		"billing_cycle":        string(s.BillingCycle),
		"trial_end":            formatTime(*s.TrialEnd),
		"current_period_start": formatTime(s.CurrentPeriodStart),
		"current_period_end":   formatTime(s.CurrentPeriodEnd),
	}, now)), nil
}

func (s *Subscription) transition(h *History, evts ...*events.Event) *Transition {
	return &Transition{Subscription: s, History: h, Events: evts}
}

func (s *Subscription) newHistory(action types.SubscriptionHistoryAction, prev *types.SubscriptionStatus, details string, md types.Metadata, now time.Time) *History {
	return &History{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION_HISTORY),
		SubscriptionID: s.ID,
		Action:         action,
		PreviousStatus: prev,
		NewStatus:      lo.ToPtr(s.Status),
		Details:        details,
		Metadata:       md,
		CreatedAt:      now,
	}
}

func (s *Subscription) newEvent(eventType types.EventType, extra types.Metadata, now time.Time) *events.Event {
	payload := types.Metadata{
		"subscription_id": s.ID,
		"customer_id":     s.CustomerID,
		"plan_id":         s.PlanID,
		"status":          string(s.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	return events.NewEvent(eventType, s.ID, payload, now)
}

func (s *Subscription) invalidTransition(op, hint string) error {
	return ierr.NewErrorf("cannot %s subscription %s in status %s", op, s.ID, s.Status).
		WithHint(hint).
		WithReportableDetails(map[string]interface{}{
			"subscription_id": s.ID,
			"status":          s.Status,
		}).
		Mark(ierr.ErrInvalidOperation)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
