package service

import (
	"context"
	"testing"
	"time"

	"github.com/flexprice/billing/internal/api/dto"
	"github.com/flexprice/billing/internal/domain/subscription"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/testutil"
	"github.com/flexprice/billing/internal/types"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

type SubscriptionServiceSuite struct {
	testutil.BaseServiceTestSuite
	service SubscriptionService
}

func TestSubscriptionService(t *testing.T) {
	suite.Run(t, new(SubscriptionServiceSuite))
}

func (s *SubscriptionServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewSubscriptionService(newTestServiceParams(&s.BaseServiceTestSuite))

	s.GetStores().CustomerLookup.AddCustomer("cust_1")
	s.AddPlan("plan_basic", "30", types.BillingCycleMonthly, 0)
	s.AddPlan("plan_pro", "50", types.BillingCycleMonthly, 14)
	s.AddPlan("plan_yearly", "300", types.BillingCycleYearly, 0)
}

func (s *SubscriptionServiceSuite) history(id string) []*subscription.History {
	rows, err := s.GetStores().SubscriptionHistoryRepo.ListBySubscription(s.GetContext(), id, nil)
	s.Require().NoError(err)
	return rows
}

func (s *SubscriptionServiceSuite) seed(sub *subscription.Subscription) {
	s.Require().NoError(s.GetStores().SubscriptionRepo.Create(s.GetContext(), sub))
}

func (s *SubscriptionServiceSuite) TestCreateSubscription() {
	tests := []struct {
		name        string
		req         dto.CreateSubscriptionRequest
		wantStatus  types.SubscriptionStatus
		wantEvents  []types.EventType
		wantTrial   bool
		wantErrFunc func(error) bool
	}{
		{
			name:       "pending without trial",
			req:        dto.CreateSubscriptionRequest{CustomerID: "cust_1", PlanID: "plan_basic"},
			wantStatus: types.SubscriptionStatusPending,
			wantEvents: []types.EventType{types.EventSubscriptionCreated},
		},
		{
			name:       "trial when requested and offered",
			req:        dto.CreateSubscriptionRequest{CustomerID: "cust_1", PlanID: "plan_pro", UseTrial: true},
			wantStatus: types.SubscriptionStatusTrial,
			wantEvents: []types.EventType{types.EventSubscriptionCreated, types.EventSubscriptionTrialStarted},
			wantTrial:  true,
		},
		{
			name:       "trial requested but plan has none",
			req:        dto.CreateSubscriptionRequest{CustomerID: "cust_1", PlanID: "plan_basic", UseTrial: true},
			wantStatus: types.SubscriptionStatusPending,
			wantEvents: []types.EventType{types.EventSubscriptionCreated},
		},
		{
			name:        "unknown customer",
			req:         dto.CreateSubscriptionRequest{CustomerID: "cust_missing", PlanID: "plan_basic"},
			wantErrFunc: ierr.IsNotFound,
		},
		{
			name:        "unknown plan",
			req:         dto.CreateSubscriptionRequest{CustomerID: "cust_1", PlanID: "plan_missing"},
			wantErrFunc: ierr.IsNotFound,
		},
		{
			name:        "missing plan id",
			req:         dto.CreateSubscriptionRequest{CustomerID: "cust_1"},
			wantErrFunc: ierr.IsValidation,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.ClearStores()

			sub, err := s.service.CreateSubscription(s.GetContext(), tt.req)
			if tt.wantErrFunc != nil {
				s.Error(err)
				s.True(tt.wantErrFunc(err), "unexpected error: %v", err)
				s.Empty(s.GetStores().OutboxRepo.All())
				return
			}

			s.NoError(err)
			s.Equal(tt.wantStatus, sub.Status)
			s.Equal(s.GetNow(), sub.CurrentPeriodStart)
			s.Equal(s.GetNow().AddDate(0, 1, 0), sub.CurrentPeriodEnd)
			s.Equal(tt.wantTrial, sub.IsTrialUsed)
			if tt.wantTrial {
				s.Equal(s.GetNow().AddDate(0, 0, 14), *sub.TrialEnd)
			}

			stored, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), sub.ID)
			s.NoError(err)
			s.Equal(sub.Status, stored.Status)

			rows := s.history(sub.ID)
			s.Len(rows, 1)
			s.Equal(types.HistoryActionCreated, rows[0].Action)
			s.Equal(tt.wantEvents, s.GetStores().OutboxRepo.Types())
		})
	}
}

func (s *SubscriptionServiceSuite) TestCreateSubscription_IdempotentWhilePending() {
	req := dto.CreateSubscriptionRequest{CustomerID: "cust_1", PlanID: "plan_basic"}

	first, err := s.service.CreateSubscription(s.GetContext(), req)
	s.Require().NoError(err)

	second, err := s.service.CreateSubscription(s.GetContext(), req)
	s.Require().NoError(err)

	s.Equal(first.ID, second.ID)
	s.Len(s.history(first.ID), 1)
	s.Len(s.GetStores().OutboxRepo.All(), 1)
}

func (s *SubscriptionServiceSuite) TestCreateSubscription_ConflictWhenActive() {
	req := dto.CreateSubscriptionRequest{CustomerID: "cust_1", PlanID: "plan_basic"}

	sub, err := s.service.CreateSubscription(s.GetContext(), req)
	s.Require().NoError(err)
	_, err = s.service.ActivateSubscription(s.GetContext(), sub.ID)
	s.Require().NoError(err)

	_, err = s.service.CreateSubscription(s.GetContext(), req)
	s.Error(err)
	s.True(ierr.IsAlreadyExists(err))
}

func (s *SubscriptionServiceSuite) TestCreateSubscription_CollaboratorFailurePropagates() {
	s.GetStores().Catalogue.Err = ierr.NewError("catalogue unavailable").Mark(ierr.ErrHTTPClient)

	_, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{CustomerID: "cust_1", PlanID: "plan_basic"})
	s.Error(err)
	s.Equal(1, s.GetStores().Catalogue.Calls())
	s.Empty(s.GetStores().OutboxRepo.All())
}

func (s *SubscriptionServiceSuite) TestActivateSubscription() {
	sub, err := s.service.CreateSubscription(s.GetContext(), dto.CreateSubscriptionRequest{CustomerID: "cust_1", PlanID: "plan_basic"})
	s.Require().NoError(err)

	activated, err := s.service.ActivateSubscription(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusActive, activated.Status)

	rows := s.history(sub.ID)
	s.Len(rows, 2)
	s.Equal(types.HistoryActionActivated, rows[1].Action)
	s.Equal(types.SubscriptionStatusPending, *rows[1].PreviousStatus)

	_, err = s.service.ActivateSubscription(s.GetContext(), sub.ID)
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
	s.Len(s.history(sub.ID), 2)

	_, err = s.service.ActivateSubscription(s.GetContext(), "subs_missing")
	s.True(ierr.IsNotFound(err))
}

func (s *SubscriptionServiceSuite) TestCancelSubscription_AtPeriodEndThenImmediately() {
	sub := testSubscription("subs_1", "cust_1", types.SubscriptionStatusActive, "30", date(time.January, 1), date(time.January, 31))
	s.seed(sub)

	flagged, err := s.service.CancelSubscription(s.GetContext(), sub.ID, dto.CancelSubscriptionRequest{
		Reason:            lo.ToPtr("too expensive"),
		CancelAtPeriodEnd: true,
	})
	s.NoError(err)
	s.Equal(types.SubscriptionStatusActive, flagged.Status)
	s.True(flagged.CancelAtPeriodEnd)
	s.Nil(flagged.CancelledAt)

	cancelled, err := s.service.CancelSubscription(s.GetContext(), sub.ID, dto.CancelSubscriptionRequest{})
	s.NoError(err)
	s.Equal(types.SubscriptionStatusCancelled, cancelled.Status)
	s.Equal(s.GetNow(), *cancelled.CancelledAt)

	_, err = s.service.CancelSubscription(s.GetContext(), sub.ID, dto.CancelSubscriptionRequest{})
	s.True(ierr.IsInvalidOperation(err))

	rows := s.history(sub.ID)
	s.Len(rows, 2)
	s.Equal(types.HistoryActionCancelled, rows[0].Action)
	s.Equal(types.HistoryActionCancelled, rows[1].Action)
}

func (s *SubscriptionServiceSuite) TestCancelSubscription_ImmediateRecordsRefundAndCancelsRetries() {
	sub := testSubscription("subs_1", "cust_1", types.SubscriptionStatusActive, "30", date(time.January, 1), date(time.January, 31))
	s.seed(sub)
	s.GetClock().Set(date(time.January, 15))

	retryStore := s.GetStores().PaymentRetryRepo
	s.Require().NoError(retryStore.Create(s.GetContext(), testRetry("pr_1", "pay_1", sub.ID, date(time.January, 14))))
	s.Require().NoError(retryStore.Create(s.GetContext(), testRetry("pr_2", "pay_2", "subs_other", date(time.January, 14))))

	_, err := s.service.CancelSubscription(s.GetContext(), sub.ID, dto.CancelSubscriptionRequest{})
	s.Require().NoError(err)

	rows := s.history(sub.ID)
	s.Require().Len(rows, 1)
	refund, ok := rows[0].Metadata["refund"].(types.Metadata)
	s.Require().True(ok)
	s.Equal("16.00", refund["refund_amount"])

	own, err := retryStore.Get(s.GetContext(), "pr_1")
	s.NoError(err)
	s.Equal(types.PaymentRetryStatusCancelled, own.Status)
	s.Nil(own.NextRetryAt)

	other, err := retryStore.Get(s.GetContext(), "pr_2")
	s.NoError(err)
	s.Equal(types.PaymentRetryStatusPending, other.Status)
}

func (s *SubscriptionServiceSuite) TestRenewSubscription() {
	tests := []struct {
		name              string
		status            types.SubscriptionStatus
		cancelAtPeriodEnd bool
		wantErr           bool
	}{
		{name: "active", status: types.SubscriptionStatusActive},
		{name: "past due stays past due", status: types.SubscriptionStatusPastDue},
		{name: "trial", status: types.SubscriptionStatusTrial, wantErr: true},
		{name: "pending", status: types.SubscriptionStatusPending, wantErr: true},
		{name: "cancelling", status: types.SubscriptionStatusActive, cancelAtPeriodEnd: true, wantErr: true},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.ClearStores()
			sub := testSubscription("subs_1", "cust_1", tt.status, "30", date(time.January, 1), date(time.February, 1))
			sub.CancelAtPeriodEnd = tt.cancelAtPeriodEnd
			s.seed(sub)

			renewed, err := s.service.RenewSubscription(s.GetContext(), sub.ID)
			if tt.wantErr {
				s.True(ierr.IsInvalidOperation(err))
				s.Empty(s.history(sub.ID))
				return
			}

			s.NoError(err)
			s.Equal(tt.status, renewed.Status)
			s.Equal(date(time.February, 1), renewed.CurrentPeriodStart)
			s.Equal(date(time.March, 1), renewed.CurrentPeriodEnd)
			s.Equal([]types.EventType{types.EventSubscriptionRenewed}, s.GetStores().OutboxRepo.Types())
		})
	}
}

func (s *SubscriptionServiceSuite) TestChangePlan_ProratedUpgrade() {
	sub := testSubscription("subs_1", "cust_1", types.SubscriptionStatusActive, "30", date(time.January, 1), date(time.January, 31))
	s.seed(sub)
	s.GetClock().Set(date(time.January, 15))

	resp, err := s.service.ChangePlan(s.GetContext(), sub.ID, dto.ChangePlanRequest{NewPlanID: "plan_pro"})
	s.Require().NoError(err)

	s.Equal(16, resp.Proration.RemainingDays)
	s.Equal("16.00", resp.Proration.CreditAmount.StringFixed(2))
	s.Equal("26.67", resp.Proration.ChargeAmount.StringFixed(2))
	s.Equal("10.67", resp.Proration.NetAmount.StringFixed(2))
	s.Equal("invoice", resp.Reconciliation)

	s.Equal("plan_pro", resp.Subscription.PlanID)
	s.Equal("50", resp.Subscription.Amount.String())
	s.Equal(date(time.January, 31), resp.Subscription.CurrentPeriodEnd)
	s.Contains(resp.Subscription.Metadata, subscription.MetadataKeyLastProration)

	rows := s.history(sub.ID)
	s.Require().Len(rows, 1)
	s.Equal(types.HistoryActionPlanChanged, rows[0].Action)
	s.Equal("plan_basic", *rows[0].PreviousPlanID)
	s.Equal("plan_pro", *rows[0].NewPlanID)
	s.Contains(rows[0].Metadata, "proration")

	s.Equal([]types.EventType{types.EventSubscriptionPlanChanged, types.EventInvoiceCreated}, s.GetStores().OutboxRepo.Types())
}

func (s *SubscriptionServiceSuite) TestChangePlan_ProratedDowngradeCredits() {
	sub := testSubscription("subs_1", "cust_1", types.SubscriptionStatusActive, "50", date(time.January, 1), date(time.January, 31))
	s.seed(sub)
	s.GetClock().Set(date(time.January, 15))

	resp, err := s.service.ChangePlan(s.GetContext(), sub.ID, dto.ChangePlanRequest{NewPlanID: "plan_basic"})
	s.Require().NoError(err)

	s.Equal("-10.67", resp.Proration.NetAmount.StringFixed(2))
	s.Equal("credit", resp.Reconciliation)
	s.Equal([]types.EventType{types.EventSubscriptionPlanChanged, types.EventBillingCreditApplied}, s.GetStores().OutboxRepo.Types())
}

func (s *SubscriptionServiceSuite) TestChangePlan_Immediate() {
	sub := testSubscription("subs_1", "cust_1", types.SubscriptionStatusActive, "30", date(time.January, 1), date(time.January, 31))
	s.seed(sub)
	s.GetClock().Set(date(time.January, 15))

	resp, err := s.service.ChangePlan(s.GetContext(), sub.ID, dto.ChangePlanRequest{NewPlanID: "plan_pro", Immediate: true})
	s.Require().NoError(err)

	s.Equal("16.00", resp.Proration.CreditAmount.StringFixed(2))
	s.Equal("50.00", resp.Proration.ChargeAmount.StringFixed(2))
	s.Equal("34.00", resp.Proration.NetAmount.StringFixed(2))
	s.Equal(date(time.February, 15), resp.Proration.NextBillingDate)
	s.Equal(date(time.January, 15), resp.Subscription.CurrentPeriodStart)
	s.Equal(date(time.February, 15), resp.Subscription.CurrentPeriodEnd)
}

func (s *SubscriptionServiceSuite) TestChangePlan_BelowThresholdHasNoReconciliation() {
	s.AddPlan("plan_basic_plus", "30.50", types.BillingCycleMonthly, 0)
	sub := testSubscription("subs_1", "cust_1", types.SubscriptionStatusActive, "30", date(time.January, 1), date(time.January, 31))
	s.seed(sub)
	s.GetClock().Set(date(time.January, 15))

	resp, err := s.service.ChangePlan(s.GetContext(), sub.ID, dto.ChangePlanRequest{NewPlanID: "plan_basic_plus"})
	s.Require().NoError(err)

	s.Equal("none", resp.Reconciliation)
	s.Equal([]types.EventType{types.EventSubscriptionPlanChanged}, s.GetStores().OutboxRepo.Types())
}

func (s *SubscriptionServiceSuite) TestChangePlan_Errors() {
	pending := testSubscription("subs_pending", "cust_1", types.SubscriptionStatusPending, "30", date(time.January, 1), date(time.January, 31))
	active := testSubscription("subs_active", "cust_2", types.SubscriptionStatusActive, "30", date(time.January, 1), date(time.January, 31))
	s.seed(pending)
	s.seed(active)

	_, err := s.service.ChangePlan(s.GetContext(), pending.ID, dto.ChangePlanRequest{NewPlanID: "plan_pro"})
	s.True(ierr.IsInvalidOperation(err))

	_, err = s.service.ChangePlan(s.GetContext(), active.ID, dto.ChangePlanRequest{NewPlanID: "plan_missing"})
	s.True(ierr.IsNotFound(err))

	_, err = s.service.ChangePlan(s.GetContext(), active.ID, dto.ChangePlanRequest{})
	s.True(ierr.IsValidation(err))

	s.Empty(s.history(active.ID))
}

func (s *SubscriptionServiceSuite) TestUpdateSubscriptionStatus() {
	sub := testSubscription("subs_1", "cust_1", types.SubscriptionStatusActive, "30", date(time.January, 1), date(time.January, 31))
	s.seed(sub)

	updated, err := s.service.UpdateSubscriptionStatus(s.GetContext(), sub.ID, dto.UpdateSubscriptionStatusRequest{
		Status: types.SubscriptionStatusPastDue,
		Reason: lo.ToPtr("payment failed"),
	})
	s.NoError(err)
	s.Equal(types.SubscriptionStatusPastDue, updated.Status)

	rows := s.history(sub.ID)
	s.Require().Len(rows, 1)
	s.Equal(types.HistoryActionStatusChanged, rows[0].Action)
	s.Contains(rows[0].Details, "payment failed")

	_, err = s.service.UpdateSubscriptionStatus(s.GetContext(), sub.ID, dto.UpdateSubscriptionStatusRequest{Status: "BOGUS"})
	s.True(ierr.IsValidation(err))
}

func (s *SubscriptionServiceSuite) TestProcessExpiredTrials() {
	now := s.GetNow()
	expired := testSubscription("subs_expired", "cust_1", types.SubscriptionStatusTrial, "30", now.AddDate(0, 0, -14), now.AddDate(0, 0, 16))
	expired.TrialEnd = lo.ToPtr(now.Add(-time.Minute))
	running := testSubscription("subs_running", "cust_2", types.SubscriptionStatusTrial, "30", now.AddDate(0, 0, -1), now.AddDate(0, 0, 29))
	running.TrialEnd = lo.ToPtr(now.AddDate(0, 0, 13))
	s.seed(expired)
	s.seed(running)

	result, err := s.service.ProcessExpiredTrials(s.GetContext())
	s.Require().NoError(err)
	s.Equal(types.BillingSweepTrialExpiry, result.Sweep)
	s.Equal(1, result.Processed)
	s.Equal(1, result.Succeeded)

	got, _ := s.GetStores().SubscriptionRepo.Get(s.GetContext(), expired.ID)
	s.Equal(types.SubscriptionStatusActive, got.Status)
	got, _ = s.GetStores().SubscriptionRepo.Get(s.GetContext(), running.ID)
	s.Equal(types.SubscriptionStatusTrial, got.Status)

	s.Equal([]types.EventType{types.EventSubscriptionTrialEnded}, s.GetStores().OutboxRepo.Types())
}

func (s *SubscriptionServiceSuite) TestProcessUpcomingRenewals() {
	now := s.GetNow()
	due := testSubscription("subs_due", "cust_1", types.SubscriptionStatusActive, "30", now.AddDate(0, -1, 2), now.AddDate(0, 0, 2))
	later := testSubscription("subs_later", "cust_2", types.SubscriptionStatusActive, "30", now.AddDate(0, 0, -10), now.AddDate(0, 0, 20))
	cancelling := testSubscription("subs_cancelling", "cust_3", types.SubscriptionStatusActive, "30", now.AddDate(0, -1, 1), now.AddDate(0, 0, 1))
	cancelling.CancelAtPeriodEnd = true
	s.seed(due)
	s.seed(later)
	s.seed(cancelling)

	result, err := s.service.ProcessUpcomingRenewals(s.GetContext())
	s.Require().NoError(err)
	s.Equal(1, result.Succeeded)
	s.Equal(0, result.Failed)

	got, _ := s.GetStores().SubscriptionRepo.Get(s.GetContext(), due.ID)
	s.Equal(now.AddDate(0, 0, 2), got.CurrentPeriodStart)
	s.Equal(now.AddDate(0, 0, 2).AddDate(0, 1, 0), got.CurrentPeriodEnd)

	got, _ = s.GetStores().SubscriptionRepo.Get(s.GetContext(), later.ID)
	s.Equal(later.CurrentPeriodEnd, got.CurrentPeriodEnd)
	got, _ = s.GetStores().SubscriptionRepo.Get(s.GetContext(), cancelling.ID)
	s.Equal(cancelling.CurrentPeriodEnd, got.CurrentPeriodEnd)
}

func (s *SubscriptionServiceSuite) TestProcessPeriodEndCancellations() {
	now := s.GetNow()
	ended := testSubscription("subs_ended", "cust_1", types.SubscriptionStatusActive, "30", now.AddDate(0, -1, 0), now.Add(-time.Hour))
	ended.CancelAtPeriodEnd = true
	notYet := testSubscription("subs_not_yet", "cust_2", types.SubscriptionStatusActive, "30", now.AddDate(0, 0, -5), now.AddDate(0, 0, 25))
	notYet.CancelAtPeriodEnd = true
	s.seed(ended)
	s.seed(notYet)
	s.Require().NoError(s.GetStores().PaymentRetryRepo.Create(s.GetContext(), testRetry("pr_1", "pay_1", ended.ID, now.AddDate(0, 0, -2))))

	result, err := s.service.ProcessPeriodEndCancellations(s.GetContext())
	s.Require().NoError(err)
	s.Equal(1, result.Succeeded)

	got, _ := s.GetStores().SubscriptionRepo.Get(s.GetContext(), ended.ID)
	s.Equal(types.SubscriptionStatusCancelled, got.Status)
	got, _ = s.GetStores().SubscriptionRepo.Get(s.GetContext(), notYet.ID)
	s.Equal(types.SubscriptionStatusActive, got.Status)

	r, _ := s.GetStores().PaymentRetryRepo.Get(s.GetContext(), "pr_1")
	s.Equal(types.PaymentRetryStatusCancelled, r.Status)
}

func (s *SubscriptionServiceSuite) TestSweep_IsolatesItemFailures() {
	now := s.GetNow()
	for _, id := range []string{"subs_a", "subs_b", "subs_c"} {
		sub := testSubscription(id, "cust_"+id, types.SubscriptionStatusActive, "30", now.AddDate(0, -1, 1), now.AddDate(0, 0, 1))
		s.seed(sub)
	}

	failing := &failingHistoryRepo{
		HistoryRepository: s.GetStores().SubscriptionHistoryRepo,
		failFor:           "subs_b",
	}
	params := newTestServiceParams(&s.BaseServiceTestSuite)
	params.SubHistoryRepo = failing
	svc := NewSubscriptionService(params)

	result, err := svc.ProcessUpcomingRenewals(s.GetContext())
	s.Require().NoError(err)
	s.Equal(3, result.Processed)
	s.Equal(2, result.Succeeded)
	s.Equal(1, result.Failed)
	s.Require().Len(result.Errors, 1)
	s.Contains(result.Errors[0], "subs_b")
}

func (s *SubscriptionServiceSuite) TestSweep_SkippedWhenLockHeld() {
	s.GetDB().HoldLock(sweepLockKey(types.BillingSweepRenewal))

	result, err := s.service.ProcessUpcomingRenewals(s.GetContext())
	s.NoError(err)
	s.True(result.Skipped)
	s.Zero(result.Processed)
}

func (s *SubscriptionServiceSuite) TestReadOperations() {
	for i, id := range []string{"subs_1", "subs_2"} {
		sub := testSubscription(id, "cust_1", types.SubscriptionStatusCancelled, "30", date(time.January, 1+i), date(time.February, 1+i))
		s.seed(sub)
	}
	s.seed(testSubscription("subs_3", "cust_2", types.SubscriptionStatusActive, "30", date(time.January, 1), date(time.February, 1)))

	list, err := s.service.ListSubscriptionsByCustomer(s.GetContext(), "cust_1", nil)
	s.NoError(err)
	s.Equal(2, list.Total)
	s.Equal([]string{"subs_1", "subs_2"}, lo.Map(list.Items, func(sub *subscription.Subscription, _ int) string { return sub.ID }))

	_, err = s.service.ListSubscriptionsByCustomer(s.GetContext(), "", nil)
	s.True(ierr.IsValidation(err))

	got, err := s.service.GetSubscription(s.GetContext(), "subs_3")
	s.NoError(err)
	s.Equal("cust_2", got.CustomerID)

	_, err = s.service.GetSubscriptionHistory(s.GetContext(), "subs_missing", nil)
	s.True(ierr.IsNotFound(err))
}

// failingHistoryRepo fails history writes for one subscription.
type failingHistoryRepo struct {
	subscription.HistoryRepository
	failFor string
}

func (r *failingHistoryRepo) Create(ctx context.Context, h *subscription.History) error {
	if h.SubscriptionID == r.failFor {
		return ierr.NewError("history write failed").Mark(ierr.ErrDatabase)
	}
	return r.HistoryRepository.Create(ctx, h)
}
