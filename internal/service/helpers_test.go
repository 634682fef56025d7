package service

import (
	"time"

	"github.com/flexprice/billing/internal/domain/paymentretry"
	"github.com/flexprice/billing/internal/domain/subscription"
	"github.com/flexprice/billing/internal/testutil"
	"github.com/flexprice/billing/internal/types"
	"github.com/shopspring/decimal"
)

func newTestServiceParams(s *testutil.BaseServiceTestSuite) ServiceParams {
	return ServiceParams{
		Logger:           s.GetLogger(),
		Config:           s.GetConfig(),
		DB:               s.GetDB(),
		Clock:            s.GetClock(),
		Metrics:          s.GetMetrics(),
		SubRepo:          s.GetStores().SubscriptionRepo,
		SubHistoryRepo:   s.GetStores().SubscriptionHistoryRepo,
		PaymentRetryRepo: s.GetStores().PaymentRetryRepo,
		OutboxRepo:       s.GetStores().OutboxRepo,
		Catalogue:        s.GetStores().Catalogue,
		CustomerLookup:   s.GetStores().CustomerLookup,
		PaymentGateway:   s.GetStores().PaymentGateway,
		EventPublisher:   s.GetPublisher(),
	}
}

func date(month time.Month, day int) time.Time {
	return time.Date(2024, month, day, 0, 0, 0, 0, time.UTC)
}

// testSubscription builds a subscription with the given period, ready to
// be stored directly.
func testSubscription(id, customerID string, status types.SubscriptionStatus, amount string, start, end time.Time) *subscription.Subscription {
	return &subscription.Subscription{
		ID:                 id,
		CustomerID:         customerID,
		PlanID:             "plan_basic",
		PlanName:           "Basic",
		Amount:             decimal.RequireFromString(amount),
		BillingCycle:       types.BillingCycleMonthly,
		Status:             status,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
		Metadata:           types.Metadata{},
		CreatedAt:          start,
		UpdatedAt:          start,
	}
}

func testRetry(id, paymentID, subscriptionID string, firstFailureAt time.Time) *paymentretry.PaymentRetry {
	r := paymentretry.New(paymentID, "inv_"+paymentID, subscriptionID, "insufficient_funds", paymentretry.DefaultPolicy(), firstFailureAt)
	r.ID = id
	return r
}
