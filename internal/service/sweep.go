package service

import (
	"context"
	"fmt"
	"time"

	"github.com/flexprice/billing/internal/domain/subscription"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/types"
	"github.com/sourcegraph/conc/panics"
)

// maxReportedErrors caps BatchResult.Errors so a failing sweep does not
// return an unbounded payload to the cron API.
const maxReportedErrors = 50

type sweepOutcome int

const (
	outcomeSucceeded sweepOutcome = iota
	outcomeFailed
	outcomeExhausted
	// outcomeSkipped items are not counted, e.g. a retry claimed by another replica.
	outcomeSkipped
)

// runExclusive runs fn while holding the advisory lock of key in a dedicated
// transaction. fn receives the caller's ctx, not the lock transaction, so
// each item is written in its own transaction. The result is marked skipped
// when another replica holds the lock.
func (p ServiceParams) runExclusive(ctx context.Context, key string, result *types.BatchResult, fn func(ctx context.Context) error) error {
	return p.DB.WithTx(ctx, func(lockCtx context.Context) error {
		ok, err := p.DB.TryLockKey(lockCtx, key)
		if err != nil {
			return ierr.WithError(err).
				WithHintf("Failed to acquire lock %s", key).
				Mark(ierr.ErrDatabase)
		}
		if !ok {
			p.Logger.Infow("sweep already running on another replica, skipping",
				"sweep", result.Sweep,
				"lock_key", key)
			result.Skipped = true
			return nil
		}
		return fn(ctx)
	})
}

// processItem runs one sweep item, recovering panics, and folds its outcome
// into result. Failures are logged and reported but never returned.
func (p ServiceParams) processItem(ctx context.Context, result *types.BatchResult, itemID string, fn func(ctx context.Context) (sweepOutcome, error)) {
	var (
		outcome sweepOutcome
		err     error
		pc      panics.Catcher
	)
	pc.Try(func() {
		outcome, err = fn(ctx)
	})
	if r := pc.Recovered(); r != nil {
		outcome = outcomeFailed
		err = ierr.WithError(r.AsError()).
			WithHintf("Panic while processing %s", itemID).
			Mark(ierr.ErrSystem)
	}

	if outcome == outcomeSkipped && err == nil {
		return
	}

	result.Processed++
	if err != nil {
		result.Failed++
		if len(result.Errors) < maxReportedErrors {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", itemID, err))
		}
		p.Logger.Errorw("failed to process sweep item",
			"sweep", result.Sweep,
			"item_id", itemID,
			"error", err)
		p.Sentry.CaptureExceptionWithTags(err, map[string]string{
			"sweep":   string(result.Sweep),
			"item_id": itemID,
		})
		return
	}

	switch outcome {
	case outcomeSucceeded:
		result.Succeeded++
	case outcomeFailed:
		result.Failed++
	case outcomeExhausted:
		result.Exhausted++
	}
}

// finishSweep logs and records metrics for a completed run.
func (p ServiceParams) finishSweep(result *types.BatchResult, started time.Time) {
	took := time.Since(started)
	p.Metrics.ObserveBatch(result, took)
	p.Logger.Infow("sweep completed",
		"sweep", result.Sweep,
		"processed", result.Processed,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"exhausted", result.Exhausted,
		"skipped", result.Skipped,
		"duration_ms", took.Milliseconds())
}

func sweepLockKey(sweep types.BillingSweep) string {
	return types.GenerateLockKey(types.LockScopeSweep, map[string]interface{}{"sweep": string(sweep)})
}

// applyTransition persists a state machine transition: the subscription,
// its history row and its events, in one transaction.
func (p ServiceParams) applyTransition(ctx context.Context, t *subscription.Transition, create bool) error {
	return p.DB.WithTx(ctx, func(ctx context.Context) error {
		if create {
			if err := p.SubRepo.Create(ctx, t.Subscription); err != nil {
				return err
			}
		} else if err := p.SubRepo.Update(ctx, t.Subscription); err != nil {
			return err
		}

		if err := p.SubHistoryRepo.Create(ctx, t.History); err != nil {
			return err
		}
		if len(t.Events) == 0 {
			return nil
		}
		return p.OutboxRepo.Create(ctx, t.Events...)
	})
}
