package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/flexprice/billing/internal/domain/payment"
	"github.com/flexprice/billing/internal/domain/paymentretry"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/types"
	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

// PaymentRetryProcessor re-initiates due payments in batches.
type PaymentRetryProcessor interface {
	// ProcessDueRetries runs one batch. A run that overlaps another one, in
	// this process or on another replica, returns a skipped result.
	ProcessDueRetries(ctx context.Context) (*types.BatchResult, error)
}

type paymentRetryProcessor struct {
	ServiceParams
	running atomic.Bool
	limiter *rate.Limiter
}

// NewPaymentRetryProcessor creates a new payment retry processor
func NewPaymentRetryProcessor(params ServiceParams) PaymentRetryProcessor {
	limit := rate.Inf
	if perSec := params.Config.PaymentRetry.RateLimitPerSec; perSec > 0 {
		limit = rate.Limit(perSec)
	}
	return &paymentRetryProcessor{
		ServiceParams: params,
		limiter:       rate.NewLimiter(limit, 1),
	}
}

func (p *paymentRetryProcessor) ProcessDueRetries(ctx context.Context) (*types.BatchResult, error) {
	result := &types.BatchResult{Sweep: types.BillingSweepPaymentRetry}

	if !p.running.CompareAndSwap(false, true) {
		p.Logger.Infow("payment retry batch already in progress, skipping")
		result.Skipped = true
		p.Metrics.ObserveBatch(result, 0)
		return result, nil
	}
	defer p.running.Store(false)

	started := time.Now()
	lockKey := p.Config.PaymentRetry.BatchLockKey
	if lockKey == "" {
		lockKey = types.GenerateLockKey(types.LockScopePaymentRetryBatch, nil)
	}

	span, ctx := p.Sentry.StartMonitoringSpan(ctx, "payment_retry.batch", map[string]interface{}{
		"batch_size": p.Config.PaymentRetry.BatchSize,
	})
	if span != nil {
		defer span.Finish()
	}

	err := p.runExclusive(ctx, lockKey, result, func(ctx context.Context) error {
		p.releaseStaleClaims(ctx)

		due, err := p.PaymentRetryRepo.ListDue(ctx, p.now(), p.Config.PaymentRetry.BatchSize)
		if err != nil {
			return err
		}

		p.Logger.Infow("processing due payment retries", "count", len(due))
		for _, r := range due {
			r := r
			p.processItem(ctx, result, r.ID, func(ctx context.Context) (sweepOutcome, error) {
				return p.processRetry(ctx, r)
			})
		}
		return nil
	})
	if err != nil {
		p.Logger.Errorw("payment retry batch failed", "error", err)
		p.Sentry.CaptureExceptionWithTags(err, map[string]string{"sweep": string(result.Sweep)})
		return nil, err
	}

	p.finishSweep(result, started)
	return result, nil
}

// processRetry claims one campaign, calls the gateway and records the
// outcome. A gateway error counts as a failed attempt. The claim is handed
// back on every exit that did not record an attempt, panics included.
func (p *paymentRetryProcessor) processRetry(ctx context.Context, r *paymentretry.PaymentRetry) (sweepOutcome, error) {
	won, err := p.PaymentRetryRepo.Claim(ctx, r.ID, p.now())
	if err != nil {
		return outcomeFailed, err
	}
	if !won {
		p.Logger.Debugw("payment retry claimed elsewhere", "payment_retry_id", r.ID)
		return outcomeSkipped, nil
	}
	r.Status = types.PaymentRetryStatusRetrying
	r.NextRetryAt = nil
	claimed := *r

	recorded := false
	defer func() {
		if !recorded {
			p.releaseClaim(ctx, &claimed)
		}
	}()

	if err := p.limiter.Wait(ctx); err != nil {
		return outcomeFailed, ierr.WithError(err).
			WithHint("Payment retry batch was interrupted").
			Mark(ierr.ErrSystem)
	}

	attemptNumber := r.AttemptNumber + 1
	res, callErr := p.PaymentGateway.RetryPayment(ctx, &payment.RetryRequest{
		PaymentID:      r.PaymentID,
		InvoiceID:      r.InvoiceID,
		SubscriptionID: r.SubscriptionID,
		AttemptNumber:  attemptNumber,
		IdempotencyKey: fmt.Sprintf("%s-%d", r.ID, attemptNumber),
	})

	success := callErr == nil && res != nil && res.Success
	var attemptErr *string
	switch {
	case callErr != nil:
		attemptErr = lo.ToPtr(callErr.Error())
		p.Logger.Warnw("payment gateway call failed",
			"payment_retry_id", r.ID,
			"payment_id", r.PaymentID,
			"attempt_number", attemptNumber,
			"error", callErr)
	case res == nil:
		attemptErr = lo.ToPtr("payment gateway returned no result")
	case !res.Success:
		attemptErr = lo.ToPtr(res.FailureReason)
	}

	if _, err := p.recordAttempt(ctx, r, success, attemptErr); err != nil {
		return outcomeFailed, err
	}
	recorded = true

	switch r.Status {
	case types.PaymentRetryStatusSucceeded:
		return outcomeSucceeded, nil
	case types.PaymentRetryStatusExhausted:
		p.Logger.Warnw("payment retry exhausted",
			"payment_retry_id", r.ID,
			"payment_id", r.PaymentID,
			"subscription_id", r.SubscriptionID,
			"attempts", r.AttemptNumber)
		return outcomeExhausted, nil
	default:
		return outcomeFailed, nil
	}
}

// releaseClaim puts the campaign back to pending, due immediately, with the
// attempt count it had when claimed so the next call reuses the same
// idempotency key.
func (p *paymentRetryProcessor) releaseClaim(ctx context.Context, r *paymentretry.PaymentRetry) {
	r.Status = types.PaymentRetryStatusPending
	r.NextRetryAt = lo.ToPtr(p.now())
	r.UpdatedAt = p.now()
	if err := p.PaymentRetryRepo.Update(context.WithoutCancel(ctx), r); err != nil {
		p.Logger.Errorw("failed to release payment retry claim",
			"payment_retry_id", r.ID,
			"error", err)
		return
	}
	p.Logger.Infow("released payment retry claim",
		"payment_retry_id", r.ID,
		"attempt_number", r.AttemptNumber)
}

// releaseStaleClaims hands back campaigns whose processor died between claim
// and record. Runs under the batch lock, so no live claim can be touched.
func (p *paymentRetryProcessor) releaseStaleClaims(ctx context.Context) {
	timeout := p.Config.PaymentRetry.ClaimTimeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}

	now := p.now()
	n, err := p.PaymentRetryRepo.ReleaseStaleClaims(ctx, now.Add(-timeout), now)
	if err != nil {
		p.Logger.Errorw("failed to release stale payment retry claims", "error", err)
		p.Sentry.CaptureException(err)
		return
	}
	if n > 0 {
		p.Logger.Warnw("released stale payment retry claims",
			"count", n,
			"claim_timeout", timeout)
	}
}
