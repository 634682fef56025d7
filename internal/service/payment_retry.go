package service

import (
	"context"
	"time"

	"github.com/flexprice/billing/internal/api/dto"
	"github.com/flexprice/billing/internal/domain/paymentretry"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/types"
	"github.com/samber/lo"
)

// PaymentRetryService manages failed-payment recovery campaigns.
type PaymentRetryService interface {
	ScheduleRetry(ctx context.Context, req dto.ScheduleRetryRequest) (*paymentretry.PaymentRetry, error)
	RecordAttempt(ctx context.Context, id string, req dto.RecordAttemptRequest) (*paymentretry.PaymentRetry, error)
	GetDueRetries(ctx context.Context, limit int) ([]*paymentretry.PaymentRetry, error)
	// MarkSucceeded closes the open campaign of a payment that succeeded
	// outside the processor. Returns ErrNotFound when there is none.
	MarkSucceeded(ctx context.Context, paymentID string) (*paymentretry.PaymentRetry, error)
	CancelRetry(ctx context.Context, id string) (*paymentretry.PaymentRetry, error)
	CancelRetriesForSubscription(ctx context.Context, subscriptionID string) (int, error)

	GetRetry(ctx context.Context, id string) (*paymentretry.PaymentRetry, error)
	GetRetryByPaymentID(ctx context.Context, paymentID string) (*paymentretry.PaymentRetry, error)
	ListRetriesForSubscription(ctx context.Context, subscriptionID string) (*dto.ListPaymentRetriesResponse, error)
	GetRetryStats(ctx context.Context) (*dto.PaymentRetryStatsResponse, error)

	// CleanupOldRetries deletes closed campaigns older than the retention window.
	CleanupOldRetries(ctx context.Context) (*types.BatchResult, error)
}

type paymentRetryService struct {
	ServiceParams
}

// NewPaymentRetryService creates a new payment retry service
func NewPaymentRetryService(params ServiceParams) PaymentRetryService {
	return &paymentRetryService{
		ServiceParams: params,
	}
}

// ScheduleRetry is idempotent on the payment id: a second call returns the
// existing campaign unchanged.
func (s *paymentRetryService) ScheduleRetry(ctx context.Context, req dto.ScheduleRetryRequest) (*paymentretry.PaymentRetry, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.PaymentRetryRepo.GetByPaymentID(ctx, req.PaymentID)
	if err == nil {
		s.Logger.Debugw("payment retry already scheduled",
			"payment_retry_id", existing.ID,
			"payment_id", req.PaymentID,
			"status", existing.Status)
		return existing, nil
	}
	if !ierr.IsNotFound(err) {
		return nil, err
	}

	r := paymentretry.New(req.PaymentID, req.InvoiceID, req.SubscriptionID, req.FailureReason, s.retryPolicy(), s.now())
	if err := s.PaymentRetryRepo.Create(ctx, r); err != nil {
		// lost a race with a concurrent schedule for the same payment
		if ierr.IsAlreadyExists(err) {
			return s.PaymentRetryRepo.GetByPaymentID(ctx, req.PaymentID)
		}
		return nil, err
	}

	if s.Metrics != nil {
		s.Metrics.PaymentRetriesScheduled.WithLabelValues(string(r.Metadata.FailureType)).Inc()
	}

	if r.Metadata.Retryable {
		s.Logger.Infow("payment retry scheduled",
			"payment_retry_id", r.ID,
			"payment_id", r.PaymentID,
			"invoice_id", r.InvoiceID,
			"subscription_id", r.SubscriptionID,
			"failure_type", r.Metadata.FailureType,
			"next_retry_at", r.NextRetryAt)
	} else {
		s.Logger.Warnw("payment failure is not retryable, waiting for customer action",
			"payment_retry_id", r.ID,
			"payment_id", r.PaymentID,
			"failure_reason", r.FailureReason)
	}
	return r, nil
}

func (s *paymentRetryService) RecordAttempt(ctx context.Context, id string, req dto.RecordAttemptRequest) (*paymentretry.PaymentRetry, error) {
	r, err := s.PaymentRetryRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.recordAttempt(ctx, r, req.Success, req.Error); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *paymentRetryService) GetDueRetries(ctx context.Context, limit int) ([]*paymentretry.PaymentRetry, error) {
	if limit <= 0 {
		limit = s.Config.PaymentRetry.BatchSize
	}
	return s.PaymentRetryRepo.ListDue(ctx, s.now(), limit)
}

func (s *paymentRetryService) MarkSucceeded(ctx context.Context, paymentID string) (*paymentretry.PaymentRetry, error) {
	r, err := s.PaymentRetryRepo.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if r.IsTerminal() {
		return r, nil
	}

	if err := r.MarkSucceeded(s.now()); err != nil {
		return nil, err
	}
	if err := s.PaymentRetryRepo.Update(ctx, r); err != nil {
		return nil, err
	}

	s.Logger.Infow("payment retry closed by successful payment",
		"payment_retry_id", r.ID,
		"payment_id", paymentID,
		"attempts", r.AttemptNumber)
	return r, nil
}

func (s *paymentRetryService) CancelRetry(ctx context.Context, id string) (*paymentretry.PaymentRetry, error) {
	r, err := s.PaymentRetryRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.Cancel(s.now()); err != nil {
		return nil, err
	}
	if err := s.PaymentRetryRepo.Update(ctx, r); err != nil {
		return nil, err
	}

	s.Logger.Infow("payment retry cancelled", "payment_retry_id", r.ID, "payment_id", r.PaymentID)
	return r, nil
}

func (s *paymentRetryService) CancelRetriesForSubscription(ctx context.Context, subscriptionID string) (int, error) {
	if subscriptionID == "" {
		return 0, ierr.NewError("subscription_id is required").
			WithHint("Please provide a subscription id").
			Mark(ierr.ErrValidation)
	}

	var cancelled int
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		var err error
		cancelled, err = s.cancelOpenRetries(ctx, subscriptionID, s.now())
		return err
	})
	return cancelled, err
}

func (s *paymentRetryService) GetRetry(ctx context.Context, id string) (*paymentretry.PaymentRetry, error) {
	return s.PaymentRetryRepo.Get(ctx, id)
}

func (s *paymentRetryService) GetRetryByPaymentID(ctx context.Context, paymentID string) (*paymentretry.PaymentRetry, error) {
	return s.PaymentRetryRepo.GetByPaymentID(ctx, paymentID)
}

func (s *paymentRetryService) ListRetriesForSubscription(ctx context.Context, subscriptionID string) (*dto.ListPaymentRetriesResponse, error) {
	filter := types.NewPaymentRetryFilter()
	filter.QueryFilter = types.NewNoLimitQueryFilter()
	filter.SubscriptionIDs = []string{subscriptionID}

	items, err := s.PaymentRetryRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &dto.ListPaymentRetriesResponse{Items: items}, nil
}

func (s *paymentRetryService) GetRetryStats(ctx context.Context) (*dto.PaymentRetryStatsResponse, error) {
	counts, err := s.PaymentRetryRepo.CountByStatus(ctx, types.NewPaymentRetryFilter())
	if err != nil {
		return nil, err
	}

	dueFilter := types.NewPaymentRetryFilter()
	dueFilter.QueryFilter = types.NewNoLimitQueryFilter()
	dueFilter.Statuses = []types.PaymentRetryStatus{types.PaymentRetryStatusPending}
	dueFilter.NextRetryBefore = lo.ToPtr(s.now())
	due, err := s.PaymentRetryRepo.CountByStatus(ctx, dueFilter)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, c := range counts {
		total += c
	}
	return &dto.PaymentRetryStatsResponse{
		Total:    total,
		ByStatus: counts,
		Due:      due[types.PaymentRetryStatusPending],
	}, nil
}

func (s *paymentRetryService) CleanupOldRetries(ctx context.Context) (*types.BatchResult, error) {
	started := time.Now()
	result := &types.BatchResult{Sweep: types.BillingSweepPaymentRetryCleanup}

	retention := s.Config.PaymentRetry.RetentionDays
	if retention <= 0 {
		retention = 90
	}
	cutoff := s.now().AddDate(0, 0, -retention)

	deleted, err := s.PaymentRetryRepo.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		s.Logger.Errorw("failed to clean up payment retries", "cutoff", cutoff, "error", err)
		s.Sentry.CaptureException(err)
		return nil, err
	}

	result.Processed = deleted
	result.Succeeded = deleted
	if s.Metrics != nil {
		s.Metrics.PaymentRetriesCleanedTotal.Add(float64(deleted))
	}
	s.finishSweep(result, started)
	return result, nil
}

// recordAttempt applies an attempt outcome and persists the campaign.
func (p ServiceParams) recordAttempt(ctx context.Context, r *paymentretry.PaymentRetry, success bool, attemptErr *string) (*paymentretry.RetryAttempt, error) {
	attempt, err := r.RecordAttempt(success, attemptErr, p.retryPolicy(), p.now())
	if err != nil {
		return nil, err
	}
	if err := p.PaymentRetryRepo.Update(ctx, r); err != nil {
		return nil, err
	}

	if p.Metrics != nil {
		p.Metrics.PaymentRetryAttemptsTotal.WithLabelValues(string(r.Status)).Inc()
	}
	p.Logger.Infow("payment retry attempt recorded",
		"payment_retry_id", r.ID,
		"payment_id", r.PaymentID,
		"attempt_number", attempt.AttemptNumber,
		"success", success,
		"status", r.Status,
		"next_retry_at", r.NextRetryAt)
	return attempt, nil
}

// cancelOpenRetries cancels every open campaign of a subscription. Must be
// called inside the caller's transaction.
func (p ServiceParams) cancelOpenRetries(ctx context.Context, subscriptionID string, now time.Time) (int, error) {
	filter := types.NewPaymentRetryFilter()
	filter.QueryFilter = types.NewNoLimitQueryFilter()
	filter.SubscriptionIDs = []string{subscriptionID}
	filter.Statuses = []types.PaymentRetryStatus{
		types.PaymentRetryStatusPending,
		types.PaymentRetryStatusRetrying,
	}

	open, err := p.PaymentRetryRepo.List(ctx, filter)
	if err != nil {
		return 0, err
	}

	for _, r := range open {
		if err := r.Cancel(now); err != nil {
			return 0, err
		}
		if err := p.PaymentRetryRepo.Update(ctx, r); err != nil {
			return 0, err
		}
	}

	if len(open) > 0 {
		p.Logger.Infow("cancelled open payment retries",
			"subscription_id", subscriptionID,
			"count", len(open))
	}
	return len(open), nil
}
