package service

import (
	"context"
	"time"

	"github.com/flexprice/billing/internal/api/dto"
	"github.com/flexprice/billing/internal/domain/subscription"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/types"
	"github.com/samber/lo"
)

// SubscriptionService owns the subscription lifecycle: creation, the state
// transitions driven by requests and payment events, and the periodic sweeps.
type SubscriptionService interface {
	CreateSubscription(ctx context.Context, req dto.CreateSubscriptionRequest) (*subscription.Subscription, error)
	ActivateSubscription(ctx context.Context, id string) (*subscription.Subscription, error)
	CancelSubscription(ctx context.Context, id string, req dto.CancelSubscriptionRequest) (*subscription.Subscription, error)
	RenewSubscription(ctx context.Context, id string) (*subscription.Subscription, error)
	ChangePlan(ctx context.Context, id string, req dto.ChangePlanRequest) (*dto.ChangePlanResponse, error)
	UpdateSubscriptionStatus(ctx context.Context, id string, req dto.UpdateSubscriptionStatusRequest) (*subscription.Subscription, error)

	GetSubscription(ctx context.Context, id string) (*subscription.Subscription, error)
	ListSubscriptionsByCustomer(ctx context.Context, customerID string, filter *types.QueryFilter) (*dto.ListSubscriptionsResponse, error)
	GetSubscriptionHistory(ctx context.Context, id string, filter *types.QueryFilter) ([]*subscription.History, error)

	// Sweeps
	ProcessExpiredTrials(ctx context.Context) (*types.BatchResult, error)
	ProcessUpcomingRenewals(ctx context.Context) (*types.BatchResult, error)
	ProcessPeriodEndCancellations(ctx context.Context) (*types.BatchResult, error)
}

type subscriptionService struct {
	ServiceParams
}

// NewSubscriptionService creates a new subscription service
func NewSubscriptionService(params ServiceParams) SubscriptionService {
	return &subscriptionService{
		ServiceParams: params,
	}
}

func (s *subscriptionService) CreateSubscription(ctx context.Context, req dto.CreateSubscriptionRequest) (*subscription.Subscription, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.CustomerLookup.GetCustomerByID(ctx, req.CustomerID); err != nil {
		return nil, err
	}

	p, err := s.Catalogue.GetPlanByID(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}

	var created *subscription.Subscription
	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		// serialises concurrent creates for the same customer
		if err := s.DB.LockKey(ctx, types.LockRequest{
			Key: types.GenerateLockKey(types.LockScopeSubscriptionOwner, map[string]interface{}{
				"customer_id": req.CustomerID,
			}),
		}); err != nil {
			return ierr.WithError(err).
				WithHint("Could not lock the customer's subscriptions, please retry").
				Mark(ierr.ErrDatabase)
		}

		filter := types.NewSubscriptionFilter()
		filter.CustomerID = req.CustomerID
		filter.SubscriptionStatus = []types.SubscriptionStatus{
			types.SubscriptionStatusActive,
			types.SubscriptionStatusPending,
		}
		existing, err := s.SubRepo.List(ctx, filter)
		if err != nil {
			return err
		}

		if active, ok := lo.Find(existing, func(sub *subscription.Subscription) bool {
			return sub.Status == types.SubscriptionStatusActive
		}); ok {
			return ierr.NewErrorf("customer %s already has an active subscription", req.CustomerID).
				WithHint("Cancel the current subscription or change its plan instead").
				WithReportableDetails(map[string]interface{}{
					"customer_id":     req.CustomerID,
					"subscription_id": active.ID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}

		if len(existing) > 0 {
			created = existing[0]
			if created.PlanID != req.PlanID {
				s.Logger.Warnw("returning pending subscription on a different plan",
					"subscription_id", created.ID,
					"customer_id", req.CustomerID,
					"pending_plan_id", created.PlanID,
					"requested_plan_id", req.PlanID)
			}
			return nil
		}

		t, err := subscription.New(subscription.CreateParams{
			CustomerID:    req.CustomerID,
			Plan:          p,
			PromotionCode: req.PromotionCode,
			UseTrial:      req.UseTrial,
			Metadata:      req.Metadata,
		}, s.now())
		if err != nil {
			return err
		}

		if err := s.applyTransition(ctx, t, true); err != nil {
			return err
		}
		created = t.Subscription
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("subscription created",
		"subscription_id", created.ID,
		"customer_id", created.CustomerID,
		"plan_id", created.PlanID,
		"status", created.Status)
	return created, nil
}

func (s *subscriptionService) ActivateSubscription(ctx context.Context, id string) (*subscription.Subscription, error) {
	return s.mutate(ctx, id, func(sub *subscription.Subscription, now time.Time) (*subscription.Transition, error) {
		return sub.Activate(now)
	})
}

func (s *subscriptionService) CancelSubscription(ctx context.Context, id string, req dto.CancelSubscriptionRequest) (*subscription.Subscription, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	t, err := sub.Cancel(req.Reason, req.CancelAtPeriodEnd, now)
	if err != nil {
		return nil, err
	}

	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.applyTransition(ctx, t, false); err != nil {
			return err
		}
		if req.CancelAtPeriodEnd {
			return nil
		}
		_, err := s.cancelOpenRetries(ctx, sub.ID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("subscription cancelled",
		"subscription_id", sub.ID,
		"cancel_at_period_end", req.CancelAtPeriodEnd,
		"status", sub.Status)
	return sub, nil
}

func (s *subscriptionService) RenewSubscription(ctx context.Context, id string) (*subscription.Subscription, error) {
	return s.mutate(ctx, id, func(sub *subscription.Subscription, now time.Time) (*subscription.Transition, error) {
		return sub.Renew(now)
	})
}

func (s *subscriptionService) ChangePlan(ctx context.Context, id string, req dto.ChangePlanRequest) (*dto.ChangePlanResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != types.SubscriptionStatusActive {
		return nil, ierr.NewErrorf("cannot change plan of subscription %s in status %s", sub.ID, sub.Status).
			WithHint("Only active subscriptions can change plan").
			WithReportableDetails(map[string]interface{}{
				"subscription_id": sub.ID,
				"status":          sub.Status,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	newPlan, err := s.Catalogue.GetPlanByID(ctx, req.NewPlanID)
	if err != nil {
		return nil, err
	}

	threshold := s.Config.Subscription.ProrationThreshold
	t, result, err := sub.ChangePlan(newPlan, req.Immediate, threshold, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.applyTransition(ctx, t, false); err != nil {
		return nil, err
	}

	reconciliation := "none"
	for _, e := range t.Events {
		switch e.Type {
		case types.EventInvoiceCreated:
			reconciliation = "invoice"
		case types.EventBillingCreditApplied:
			reconciliation = "credit"
		}
	}

	s.Logger.Infow("subscription plan changed",
		"subscription_id", sub.ID,
		"new_plan_id", sub.PlanID,
		"immediate", req.Immediate,
		"change_type", result.ChangeType,
		"net_amount", result.NetAmount.String(),
		"reconciliation", reconciliation)

	return &dto.ChangePlanResponse{
		Subscription:   sub,
		Proration:      result,
		Reconciliation: reconciliation,
	}, nil
}

func (s *subscriptionService) UpdateSubscriptionStatus(ctx context.Context, id string, req dto.UpdateSubscriptionStatusRequest) (*subscription.Subscription, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	return s.mutate(ctx, id, func(sub *subscription.Subscription, now time.Time) (*subscription.Transition, error) {
		return sub.UpdateStatus(req.Status, req.Reason, now)
	})
}

func (s *subscriptionService) GetSubscription(ctx context.Context, id string) (*subscription.Subscription, error) {
	if id == "" {
		return nil, ierr.NewError("subscription_id is required").
			WithHint("Please provide a subscription id").
			Mark(ierr.ErrValidation)
	}
	return s.SubRepo.Get(ctx, id)
}

func (s *subscriptionService) ListSubscriptionsByCustomer(ctx context.Context, customerID string, queryFilter *types.QueryFilter) (*dto.ListSubscriptionsResponse, error) {
	if customerID == "" {
		return nil, ierr.NewError("customer_id is required").
			WithHint("Please provide a customer id").
			Mark(ierr.ErrValidation)
	}
	if queryFilter == nil {
		queryFilter = types.NewDefaultQueryFilter()
	}

	filter := &types.SubscriptionFilter{
		QueryFilter: queryFilter,
		CustomerID:  customerID,
	}
	items, err := s.SubRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.SubRepo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	return &dto.ListSubscriptionsResponse{Items: items, Total: total}, nil
}

func (s *subscriptionService) GetSubscriptionHistory(ctx context.Context, id string, filter *types.QueryFilter) ([]*subscription.History, error) {
	if _, err := s.SubRepo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.SubHistoryRepo.ListBySubscription(ctx, id, filter)
}

// ProcessExpiredTrials converts every trial whose end date has passed to
// ACTIVE.
func (s *subscriptionService) ProcessExpiredTrials(ctx context.Context) (*types.BatchResult, error) {
	now := s.now()
	filter := s.sweepFilter()
	filter.SubscriptionStatus = []types.SubscriptionStatus{types.SubscriptionStatusTrial}
	filter.TrialEndBefore = lo.ToPtr(now)

	return s.sweepSubscriptions(ctx, types.BillingSweepTrialExpiry, filter, func(ctx context.Context, sub *subscription.Subscription) (*subscription.Transition, error) {
		return sub.EndTrial(now)
	})
}

// ProcessUpcomingRenewals renews active subscriptions whose period ends
// within the look-ahead window. Renewal happens as soon as a subscription
// enters the window, so the new period starts before the old one elapsed.
func (s *subscriptionService) ProcessUpcomingRenewals(ctx context.Context) (*types.BatchResult, error) {
	now := s.now()
	lookAhead := s.Config.Subscription.RenewalLookAhead
	if lookAhead <= 0 {
		lookAhead = 72 * time.Hour
	}

	filter := s.sweepFilter()
	filter.SubscriptionStatus = []types.SubscriptionStatus{types.SubscriptionStatusActive}
	filter.CancelAtPeriodEnd = lo.ToPtr(false)
	filter.CurrentPeriodEndBefore = lo.ToPtr(now.Add(lookAhead))

	return s.sweepSubscriptions(ctx, types.BillingSweepRenewal, filter, func(ctx context.Context, sub *subscription.Subscription) (*subscription.Transition, error) {
		return sub.Renew(now)
	})
}

// ProcessPeriodEndCancellations cancels subscriptions flagged to cancel at
// period end once the period is over.
func (s *subscriptionService) ProcessPeriodEndCancellations(ctx context.Context) (*types.BatchResult, error) {
	now := s.now()
	filter := s.sweepFilter()
	filter.SubscriptionStatus = []types.SubscriptionStatus{
		types.SubscriptionStatusActive,
		types.SubscriptionStatusPastDue,
		types.SubscriptionStatusTrial,
		types.SubscriptionStatusPending,
	}
	filter.CancelAtPeriodEnd = lo.ToPtr(true)
	filter.CurrentPeriodEndBefore = lo.ToPtr(now)

	return s.sweepSubscriptions(ctx, types.BillingSweepPeriodEndCancellation, filter, func(ctx context.Context, sub *subscription.Subscription) (*subscription.Transition, error) {
		t, err := sub.CompletePeriodEndCancellation(now)
		if err != nil {
			return nil, err
		}
		if _, err := s.cancelOpenRetries(ctx, sub.ID, now); err != nil {
			return nil, err
		}
		return t, nil
	})
}

func (s *subscriptionService) sweepFilter() *types.SubscriptionFilter {
	limit := s.Config.Subscription.SweepBatchSize
	if limit <= 0 {
		limit = types.FILTER_MAX_LIMIT
	}
	return &types.SubscriptionFilter{
		QueryFilter: &types.QueryFilter{Limit: lo.ToPtr(limit), Offset: lo.ToPtr(0)},
	}
}

// sweepSubscriptions applies fn to every subscription matching filter, one
// at a time, each in its own transaction.
func (s *subscriptionService) sweepSubscriptions(
	ctx context.Context,
	sweep types.BillingSweep,
	filter *types.SubscriptionFilter,
	fn func(ctx context.Context, sub *subscription.Subscription) (*subscription.Transition, error),
) (*types.BatchResult, error) {
	started := time.Now()
	result := &types.BatchResult{Sweep: sweep}

	err := s.runExclusive(ctx, sweepLockKey(sweep), result, func(ctx context.Context) error {
		subs, err := s.SubRepo.List(ctx, filter)
		if err != nil {
			return err
		}

		s.Logger.Infow("starting subscription sweep",
			"sweep", sweep,
			"candidates", len(subs))

		for _, sub := range subs {
			s.processItem(ctx, result, sub.ID, func(ctx context.Context) (sweepOutcome, error) {
				err := s.DB.WithTx(ctx, func(ctx context.Context) error {
					t, err := fn(ctx, sub)
					if err != nil {
						return err
					}
					return s.applyTransition(ctx, t, false)
				})
				if err != nil {
					return outcomeFailed, err
				}
				return outcomeSucceeded, nil
			})
		}
		return nil
	})
	if err != nil {
		s.Logger.Errorw("subscription sweep failed", "sweep", sweep, "error", err)
		s.Sentry.CaptureExceptionWithTags(err, map[string]string{"sweep": string(sweep)})
		return nil, err
	}

	s.finishSweep(result, started)
	return result, nil
}

// mutate loads a subscription, applies a state machine operation and
// persists the transition.
func (s *subscriptionService) mutate(
	ctx context.Context,
	id string,
	op func(sub *subscription.Subscription, now time.Time) (*subscription.Transition, error),
) (*subscription.Subscription, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	t, err := op(sub, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.applyTransition(ctx, t, false); err != nil {
		return nil, err
	}

	s.Logger.Infow("subscription updated",
		"subscription_id", sub.ID,
		"action", t.History.Action,
		"status", sub.Status)
	return sub, nil
}
