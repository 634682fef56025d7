package types

import (
	"fmt"
	"strings"

	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/samber/lo"
)

// TemporalTaskQueue represents a logical grouping of workflows and activities
type TemporalTaskQueue string

const (
	TemporalTaskQueueBilling TemporalTaskQueue = "billing"
)

func (tq TemporalTaskQueue) String() string {
	return string(tq)
}

// BillingSweep names one of the periodic batch jobs.
type BillingSweep string

const (
	BillingSweepTrialExpiry           BillingSweep = "trial_expiry"
	BillingSweepRenewal               BillingSweep = "renewal"
	BillingSweepPeriodEndCancellation BillingSweep = "period_end_cancellation"
	BillingSweepPaymentRetry          BillingSweep = "payment_retry"
	BillingSweepPaymentRetryCleanup   BillingSweep = "payment_retry_cleanup"
	BillingSweepOutboxRelay           BillingSweep = "outbox_relay"
)

var AllBillingSweeps = []BillingSweep{
	BillingSweepTrialExpiry,
	BillingSweepRenewal,
	BillingSweepPeriodEndCancellation,
	BillingSweepPaymentRetry,
	BillingSweepPaymentRetryCleanup,
	BillingSweepOutboxRelay,
}

func (s BillingSweep) String() string {
	return string(s)
}

func (s BillingSweep) Validate() error {
	if lo.Contains(AllBillingSweeps, s) {
		return nil
	}
	return ierr.NewErrorf("invalid billing sweep: %s", s).
		WithHint(fmt.Sprintf("Sweep must be one of: %s", strings.Join(lo.Map(AllBillingSweeps, func(s BillingSweep, _ int) string { return string(s) }), ", "))).
		Mark(ierr.ErrValidation)
}

// BatchResult summarises one sweep or batch run.
type BatchResult struct {
	Sweep     BillingSweep `json:"sweep"`
	Processed int          `json:"processed"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Exhausted int          `json:"exhausted,omitempty"`
	Skipped   bool         `json:"skipped,omitempty"`
	Errors    []string     `json:"errors,omitempty"`
}
