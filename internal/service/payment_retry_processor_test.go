package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flexprice/billing/internal/domain/payment"
	"github.com/flexprice/billing/internal/domain/paymentretry"
	"github.com/flexprice/billing/internal/testutil"
	"github.com/flexprice/billing/internal/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type PaymentRetryProcessorSuite struct {
	testutil.BaseServiceTestSuite
	processor PaymentRetryProcessor
}

func TestPaymentRetryProcessor(t *testing.T) {
	suite.Run(t, new(PaymentRetryProcessorSuite))
}

func (s *PaymentRetryProcessorSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.processor = NewPaymentRetryProcessor(newTestServiceParams(&s.BaseServiceTestSuite))
}

func (s *PaymentRetryProcessorSuite) seed(rs ...*paymentretry.PaymentRetry) {
	for _, r := range rs {
		s.Require().NoError(s.GetStores().PaymentRetryRepo.Create(s.GetContext(), r))
	}
}

func (s *PaymentRetryProcessorSuite) get(id string) *paymentretry.PaymentRetry {
	r, err := s.GetStores().PaymentRetryRepo.Get(s.GetContext(), id)
	s.Require().NoError(err)
	return r
}

func (s *PaymentRetryProcessorSuite) TestProcessDueRetries_Success() {
	s.seed(testRetry("pr_1", "pay_1", "subs_1", s.GetNow().Add(-2*time.Hour)))

	gateway := s.GetStores().PaymentGateway
	gateway.On("RetryPayment", mock.Anything, mock.MatchedBy(func(req *payment.RetryRequest) bool {
		return req.PaymentID == "pay_1" && req.AttemptNumber == 1 && req.IdempotencyKey == "pr_1-1"
	})).Return(&payment.RetryResult{Success: true, ProviderRef: "ch_1"}, nil).Once()

	result, err := s.processor.ProcessDueRetries(s.GetContext())
	s.Require().NoError(err)
	s.Equal(types.BillingSweepPaymentRetry, result.Sweep)
	s.Equal(1, result.Processed)
	s.Equal(1, result.Succeeded)

	r := s.get("pr_1")
	s.Equal(types.PaymentRetryStatusSucceeded, r.Status)
	s.Equal(1, r.AttemptNumber)
	gateway.AssertExpectations(s.T())
}

func (s *PaymentRetryProcessorSuite) TestProcessDueRetries_DeclineReschedules() {
	s.seed(testRetry("pr_1", "pay_1", "subs_1", s.GetNow().Add(-2*time.Hour)))
	s.GetStores().PaymentGateway.
		On("RetryPayment", mock.Anything, mock.Anything).
		Return(&payment.RetryResult{Success: false, FailureReason: "insufficient_funds"}, nil)

	result, err := s.processor.ProcessDueRetries(s.GetContext())
	s.Require().NoError(err)
	s.Equal(1, result.Processed)
	s.Equal(1, result.Failed)
	s.Empty(result.Errors)

	r := s.get("pr_1")
	s.Equal(types.PaymentRetryStatusPending, r.Status)
	s.Equal(s.GetNow().Add(2*time.Hour), *r.NextRetryAt)
	s.Equal("insufficient_funds", *r.LastError)
}

func (s *PaymentRetryProcessorSuite) TestProcessDueRetries_GatewayErrorCountsAsFailedAttempt() {
	s.seed(testRetry("pr_1", "pay_1", "subs_1", s.GetNow().Add(-2*time.Hour)))
	s.GetStores().PaymentGateway.
		On("RetryPayment", mock.Anything, mock.Anything).
		Return(nil, errors.New("connection reset"))

	result, err := s.processor.ProcessDueRetries(s.GetContext())
	s.Require().NoError(err)
	s.Equal(1, result.Failed)

	r := s.get("pr_1")
	s.Equal(types.PaymentRetryStatusPending, r.Status)
	s.Equal(1, r.AttemptNumber)
	s.Equal("connection reset", *r.LastError)
}

func (s *PaymentRetryProcessorSuite) TestProcessDueRetries_Exhausts() {
	r := testRetry("pr_1", "pay_1", "subs_1", s.GetNow().AddDate(0, 0, -2))
	r.AttemptNumber = 6
	s.seed(r)
	s.GetStores().PaymentGateway.
		On("RetryPayment", mock.Anything, mock.Anything).
		Return(&payment.RetryResult{Success: false, FailureReason: "insufficient_funds"}, nil)

	result, err := s.processor.ProcessDueRetries(s.GetContext())
	s.Require().NoError(err)
	s.Equal(1, result.Processed)
	s.Equal(1, result.Exhausted)

	got := s.get("pr_1")
	s.Equal(types.PaymentRetryStatusExhausted, got.Status)
	s.Equal(7, got.AttemptNumber)
	s.Nil(got.NextRetryAt)
}

func (s *PaymentRetryProcessorSuite) TestProcessDueRetries_IgnoresRetriesNotDue() {
	s.seed(testRetry("pr_1", "pay_1", "subs_1", s.GetNow()))

	result, err := s.processor.ProcessDueRetries(s.GetContext())
	s.Require().NoError(err)
	s.Zero(result.Processed)
	s.GetStores().PaymentGateway.AssertNotCalled(s.T(), "RetryPayment", mock.Anything, mock.Anything)
}

func (s *PaymentRetryProcessorSuite) TestProcessDueRetries_SkippedWhenLockHeld() {
	s.seed(testRetry("pr_1", "pay_1", "subs_1", s.GetNow().Add(-2*time.Hour)))
	s.GetDB().HoldLock(types.GenerateLockKey(types.LockScopePaymentRetryBatch, nil))

	result, err := s.processor.ProcessDueRetries(s.GetContext())
	s.Require().NoError(err)
	s.True(result.Skipped)
	s.Zero(result.Processed)
	s.Equal(types.PaymentRetryStatusPending, s.get("pr_1").Status)
	s.GetStores().PaymentGateway.AssertNotCalled(s.T(), "RetryPayment", mock.Anything, mock.Anything)
}

func (s *PaymentRetryProcessorSuite) TestProcessDueRetries_LostClaimIsSkipped() {
	s.seed(
		testRetry("pr_1", "pay_1", "subs_1", s.GetNow().Add(-3*time.Hour)),
		testRetry("pr_2", "pay_2", "subs_2", s.GetNow().Add(-2*time.Hour)),
	)

	params := newTestServiceParams(&s.BaseServiceTestSuite)
	params.PaymentRetryRepo = &racingRetryRepo{
		InMemoryPaymentRetryStore: s.GetStores().PaymentRetryRepo,
		lostID:                    "pr_1",
	}
	processor := NewPaymentRetryProcessor(params)

	s.GetStores().PaymentGateway.
		On("RetryPayment", mock.Anything, mock.MatchedBy(func(req *payment.RetryRequest) bool { return req.PaymentID == "pay_2" })).
		Return(&payment.RetryResult{Success: true}, nil).Once()

	result, err := processor.ProcessDueRetries(s.GetContext())
	s.Require().NoError(err)
	s.Equal(1, result.Processed)
	s.Equal(1, result.Succeeded)
	s.GetStores().PaymentGateway.AssertExpectations(s.T())
}

func (s *PaymentRetryProcessorSuite) TestProcessDueRetries_CancelledContextReleasesClaim() {
	s.seed(testRetry("pr_1", "pay_1", "subs_1", s.GetNow().Add(-2*time.Hour)))

	cfg := *s.GetConfig()
	cfg.PaymentRetry.RateLimitPerSec = 0.001
	params := newTestServiceParams(&s.BaseServiceTestSuite)
	params.Config = &cfg
	processor := NewPaymentRetryProcessor(params)

	// the first Wait consumes the burst, the second cannot be satisfied
	// before the context deadline
	s.seed(testRetry("pr_2", "pay_2", "subs_2", s.GetNow().Add(-time.Hour)))
	s.GetStores().PaymentGateway.
		On("RetryPayment", mock.Anything, mock.Anything).
		Return(&payment.RetryResult{Success: true}, nil).Once()

	ctx, cancel := context.WithTimeout(s.GetContext(), 100*time.Millisecond)
	defer cancel()

	result, err := processor.ProcessDueRetries(ctx)
	s.Require().NoError(err)
	s.Equal(1, result.Succeeded)
	s.Equal(1, result.Failed)

	released := s.get("pr_2")
	s.Equal(types.PaymentRetryStatusPending, released.Status)
	s.Zero(released.AttemptNumber)
	s.NotNil(released.NextRetryAt)
}

func (s *PaymentRetryProcessorSuite) TestProcessDueRetries_GatewayPanicReleasesClaim() {
	s.seed(testRetry("pr_1", "pay_1", "subs_1", s.GetNow().Add(-2*time.Hour)))

	gateway := s.GetStores().PaymentGateway
	gateway.On("RetryPayment", mock.Anything, mock.Anything).Panic("gateway exploded").Once()

	result, err := s.processor.ProcessDueRetries(s.GetContext())
	s.Require().NoError(err)
	s.Equal(1, result.Processed)
	s.Equal(1, result.Failed)

	r := s.get("pr_1")
	s.Equal(types.PaymentRetryStatusPending, r.Status)
	s.Zero(r.AttemptNumber)
	s.True(r.IsDue(s.GetNow()))

	// the next batch retries with the same idempotency key
	gateway.On("RetryPayment", mock.Anything, mock.MatchedBy(func(req *payment.RetryRequest) bool {
		return req.AttemptNumber == 1 && req.IdempotencyKey == "pr_1-1"
	})).Return(&payment.RetryResult{Success: true}, nil).Once()

	result, err = s.processor.ProcessDueRetries(s.GetContext())
	s.Require().NoError(err)
	s.Equal(1, result.Succeeded)
	s.Equal(types.PaymentRetryStatusSucceeded, s.get("pr_1").Status)
	gateway.AssertExpectations(s.T())
}

func (s *PaymentRetryProcessorSuite) TestProcessDueRetries_RecordFailureReleasesClaim() {
	s.seed(testRetry("pr_1", "pay_1", "subs_1", s.GetNow().Add(-2*time.Hour)))

	params := newTestServiceParams(&s.BaseServiceTestSuite)
	params.PaymentRetryRepo = &failingAttemptRetryRepo{
		InMemoryPaymentRetryStore: s.GetStores().PaymentRetryRepo,
		err:                       errors.New("connection refused"),
	}
	processor := NewPaymentRetryProcessor(params)

	s.GetStores().PaymentGateway.
		On("RetryPayment", mock.Anything, mock.Anything).
		Return(&payment.RetryResult{Success: false, FailureReason: "insufficient_funds"}, nil).Once()

	result, err := processor.ProcessDueRetries(s.GetContext())
	s.Require().NoError(err)
	s.Equal(1, result.Failed)
	s.Len(result.Errors, 1)

	r := s.get("pr_1")
	s.Equal(types.PaymentRetryStatusPending, r.Status)
	s.Zero(r.AttemptNumber)
	s.Empty(r.RetryHistory)
	s.Equal(s.GetNow(), *r.NextRetryAt)
}

func (s *PaymentRetryProcessorSuite) TestProcessDueRetries_ReleasesStaleClaims() {
	now := s.GetNow()
	s.seed(
		testRetry("pr_stale", "pay_1", "subs_1", now.Add(-3*time.Hour)),
		testRetry("pr_live", "pay_2", "subs_2", now.Add(-2*time.Hour)),
	)

	// claimed by replicas that never recorded an outcome
	store := s.GetStores().PaymentRetryRepo
	won, err := store.Claim(s.GetContext(), "pr_stale", now.Add(-90*time.Minute))
	s.Require().NoError(err)
	s.Require().True(won)
	won, err = store.Claim(s.GetContext(), "pr_live", now.Add(-time.Minute))
	s.Require().NoError(err)
	s.Require().True(won)

	s.GetStores().PaymentGateway.
		On("RetryPayment", mock.Anything, mock.MatchedBy(func(req *payment.RetryRequest) bool { return req.PaymentID == "pay_1" })).
		Return(&payment.RetryResult{Success: true}, nil).Once()

	result, err := s.processor.ProcessDueRetries(s.GetContext())
	s.Require().NoError(err)
	s.Equal(1, result.Processed)
	s.Equal(1, result.Succeeded)

	s.Equal(types.PaymentRetryStatusSucceeded, s.get("pr_stale").Status)
	s.Equal(types.PaymentRetryStatusRetrying, s.get("pr_live").Status)
	s.GetStores().PaymentGateway.AssertExpectations(s.T())
}

// failingAttemptRetryRepo fails every write that records an attempt.
type failingAttemptRetryRepo struct {
	*testutil.InMemoryPaymentRetryStore
	err error
}

func (r *failingAttemptRetryRepo) Update(ctx context.Context, pr *paymentretry.PaymentRetry) error {
	if pr.AttemptNumber > 0 {
		return r.err
	}
	return r.InMemoryPaymentRetryStore.Update(ctx, pr)
}

// racingRetryRepo loses the claim on one campaign, as if another replica
// had won it first.
type racingRetryRepo struct {
	*testutil.InMemoryPaymentRetryStore
	lostID string
}

func (r *racingRetryRepo) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	if id == r.lostID {
		return false, nil
	}
	return r.InMemoryPaymentRetryStore.Claim(ctx, id, now)
}
