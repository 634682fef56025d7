package service

import (
	"context"

	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/types"
)

// BillingSweepService runs a periodic batch job by name. It is the single
// entry point used by the Temporal activities, the local cron scheduler and
// the cron API.
type BillingSweepService interface {
	RunSweep(ctx context.Context, sweep types.BillingSweep) (*types.BatchResult, error)
}

type billingSweepService struct {
	ServiceParams
	subscriptions SubscriptionService
	retries       PaymentRetryService
	processor     PaymentRetryProcessor
	outbox        OutboxRelayService
}

func NewBillingSweepService(
	params ServiceParams,
	subscriptions SubscriptionService,
	retries PaymentRetryService,
	processor PaymentRetryProcessor,
	outbox OutboxRelayService,
) BillingSweepService {
	return &billingSweepService{
		ServiceParams: params,
		subscriptions: subscriptions,
		retries:       retries,
		processor:     processor,
		outbox:        outbox,
	}
}

func (s *billingSweepService) RunSweep(ctx context.Context, sweep types.BillingSweep) (*types.BatchResult, error) {
	if err := sweep.Validate(); err != nil {
		return nil, err
	}

	s.Logger.Debugw("running billing sweep", "sweep", sweep)

	switch sweep {
	case types.BillingSweepTrialExpiry:
		return s.subscriptions.ProcessExpiredTrials(ctx)
	case types.BillingSweepRenewal:
		return s.subscriptions.ProcessUpcomingRenewals(ctx)
	case types.BillingSweepPeriodEndCancellation:
		return s.subscriptions.ProcessPeriodEndCancellations(ctx)
	case types.BillingSweepPaymentRetry:
		return s.processor.ProcessDueRetries(ctx)
	case types.BillingSweepPaymentRetryCleanup:
		return s.retries.CleanupOldRetries(ctx)
	case types.BillingSweepOutboxRelay:
		return s.outbox.RelayPendingEvents(ctx)
	default:
		return nil, ierr.NewErrorf("no handler for sweep %s", sweep).
			Mark(ierr.ErrInternal)
	}
}
