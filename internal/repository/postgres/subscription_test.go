package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	domainSub "github.com/flexprice/billing/internal/domain/subscription"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/logger"
	"github.com/flexprice/billing/internal/postgres"
	"github.com/flexprice/billing/internal/types"
	"github.com/lib/pq"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var subscriptionColumnNames = []string{
	"id", "customer_id", "plan_id", "plan_name", "amount", "billing_cycle", "status",
	"current_period_start", "current_period_end", "is_trial_used", "trial_start", "trial_end",
	"cancel_at_period_end", "cancelled_at", "cancellation_reason", "metadata", "created_at", "updated_at",
}

func newMockClient(t *testing.T) (postgres.IClient, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return postgres.NewClient(db, logger.NewNopLogger()), mock
}

func testSubscription() *domainSub.Subscription {
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	return &domainSub.Subscription{
		ID:                 "subs_1",
		CustomerID:         "cus_1",
		PlanID:             "plan_basic",
		PlanName:           "Basic",
		Amount:             decimal.NewFromInt(30),
		BillingCycle:       types.BillingCycleMonthly,
		Status:             types.SubscriptionStatusPending,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		Metadata:           types.Metadata{"source": "test"},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func TestSubscriptionRepository_Create(t *testing.T) {
	client, mock := newMockClient(t)
	repo := NewSubscriptionRepository(client, logger.NewNopLogger())

	mock.ExpectExec("INSERT INTO subscriptions").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), testSubscription()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepository_Create_Duplicate(t *testing.T) {
	client, mock := newMockClient(t)
	repo := NewSubscriptionRepository(client, logger.NewNopLogger())

	mock.ExpectExec("INSERT INTO subscriptions").WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), testSubscription())
	require.Error(t, err)
	assert.True(t, ierr.IsAlreadyExists(err))
}

func TestSubscriptionRepository_Get(t *testing.T) {
	client, mock := newMockClient(t)
	repo := NewSubscriptionRepository(client, logger.NewNopLogger())
	s := testSubscription()

	rows := sqlmock.NewRows(subscriptionColumnNames).AddRow(
		s.ID, s.CustomerID, s.PlanID, s.PlanName, "30.00", "monthly", "ACTIVE",
		s.CurrentPeriodStart, s.CurrentPeriodEnd, false, nil, nil,
		true, nil, "moving", []byte(`{"source":"test"}`), s.CreatedAt, s.UpdatedAt,
	)
	mock.ExpectQuery("SELECT (.+) FROM subscriptions WHERE id = \\$1").WithArgs("subs_1").WillReturnRows(rows)

	got, err := repo.Get(context.Background(), "subs_1")
	require.NoError(t, err)
	assert.Equal(t, "subs_1", got.ID)
	assert.True(t, decimal.NewFromInt(30).Equal(got.Amount))
	assert.Equal(t, types.BillingCycleMonthly, got.BillingCycle)
	assert.Equal(t, types.SubscriptionStatusActive, got.Status)
	assert.Nil(t, got.TrialStart)
	assert.True(t, got.CancelAtPeriodEnd)
	assert.Equal(t, "moving", lo.FromPtr(got.CancellationReason))
	assert.Equal(t, "test", got.Metadata["source"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepository_Get_NotFound(t *testing.T) {
	client, mock := newMockClient(t)
	repo := NewSubscriptionRepository(client, logger.NewNopLogger())

	mock.ExpectQuery("SELECT (.+) FROM subscriptions").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, ierr.IsNotFound(err))
}

func TestSubscriptionRepository_Update_NotFound(t *testing.T) {
	client, mock := newMockClient(t)
	repo := NewSubscriptionRepository(client, logger.NewNopLogger())

	mock.ExpectExec("UPDATE subscriptions SET").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), testSubscription())
	assert.True(t, ierr.IsNotFound(err))
}

func TestSubscriptionRepository_List(t *testing.T) {
	client, mock := newMockClient(t)
	repo := NewSubscriptionRepository(client, logger.NewNopLogger())
	s := testSubscription()

	filter := types.NewSubscriptionFilter()
	filter.CustomerID = "cus_1"
	filter.SubscriptionStatus = []types.SubscriptionStatus{types.SubscriptionStatusActive, types.SubscriptionStatusPending}

	rows := sqlmock.NewRows(subscriptionColumnNames).AddRow(
		s.ID, s.CustomerID, s.PlanID, s.PlanName, "30", "monthly", "PENDING",
		s.CurrentPeriodStart, s.CurrentPeriodEnd, false, nil, nil,
		false, nil, nil, []byte(`{}`), s.CreatedAt, s.UpdatedAt,
	)
	mock.ExpectQuery("SELECT (.+) FROM subscriptions WHERE customer_id = \\$1 AND status = ANY\\(\\$2\\) ORDER BY created_at ASC, id ASC LIMIT \\$3 OFFSET \\$4").
		WithArgs("cus_1", sqlmock.AnyArg(), types.FILTER_DEFAULT_LIMIT, 0).
		WillReturnRows(rows)

	subs, err := repo.List(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, types.SubscriptionStatusPending, subs[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepository_ListSweepFilter(t *testing.T) {
	client, mock := newMockClient(t)
	repo := NewSubscriptionRepository(client, logger.NewNopLogger())
	cutoff := time.Date(2024, time.January, 4, 0, 0, 0, 0, time.UTC)

	filter := &types.SubscriptionFilter{
		QueryFilter:            types.NewNoLimitQueryFilter(),
		SubscriptionStatus:     []types.SubscriptionStatus{types.SubscriptionStatusActive},
		CancelAtPeriodEnd:      lo.ToPtr(false),
		CurrentPeriodEndBefore: &cutoff,
	}

	mock.ExpectQuery("WHERE status = ANY\\(\\$1\\) AND cancel_at_period_end = \\$2 AND current_period_end <= \\$3 ORDER BY created_at ASC, id ASC$").
		WithArgs(sqlmock.AnyArg(), false, cutoff).
		WillReturnRows(sqlmock.NewRows(subscriptionColumnNames))

	subs, err := repo.List(context.Background(), filter)
	require.NoError(t, err)
	assert.Empty(t, subs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionHistoryRepository(t *testing.T) {
	client, mock := newMockClient(t)
	repo := NewSubscriptionHistoryRepository(client, logger.NewNopLogger())
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO subscription_history").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Create(context.Background(), &domainSub.History{
		ID:             "subh_1",
		SubscriptionID: "subs_1",
		Action:         types.HistoryActionCreated,
		NewStatus:      lo.ToPtr(types.SubscriptionStatusPending),
		Details:        "created",
		CreatedAt:      now,
	}))

	rows := sqlmock.NewRows([]string{
		"id", "subscription_id", "action", "previous_status", "new_status",
		"previous_plan_id", "new_plan_id", "details", "metadata", "created_at",
	}).AddRow("subh_1", "subs_1", "created", nil, "PENDING", nil, "plan_basic", "created", []byte(`{}`), now)
	mock.ExpectQuery("SELECT (.+) FROM subscription_history WHERE subscription_id = \\$1").
		WithArgs("subs_1").
		WillReturnRows(rows)

	items, err := repo.ListBySubscription(context.Background(), "subs_1", nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, types.HistoryActionCreated, items[0].Action)
	assert.Nil(t, items[0].PreviousStatus)
	assert.Equal(t, types.SubscriptionStatusPending, *items[0].NewStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}
