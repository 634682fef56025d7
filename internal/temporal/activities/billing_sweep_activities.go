package activities

import (
	"context"

	"github.com/flexprice/billing/internal/service"
	"github.com/flexprice/billing/internal/temporal/models"
	"github.com/flexprice/billing/internal/types"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

// BillingSweepActivities runs sweeps on behalf of BillingSweepWorkflow.
// When registered with Temporal, methods are called by their method name.
type BillingSweepActivities struct {
	sweepService service.BillingSweepService
}

func NewBillingSweepActivities(sweepService service.BillingSweepService) *BillingSweepActivities {
	return &BillingSweepActivities{
		sweepService: sweepService,
	}
}

// RunSweepActivity runs the sweep named in input.
func (a *BillingSweepActivities) RunSweepActivity(ctx context.Context, input models.BillingSweepWorkflowInput) (*types.BatchResult, error) {
	logger := activity.GetLogger(ctx)

	if err := input.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidInput", err)
	}

	result, err := a.sweepService.RunSweep(ctx, input.Sweep)
	if err != nil {
		logger.Error("Billing sweep failed", "sweep", input.Sweep, "error", err)
		return nil, err
	}

	if result.Failed > 0 {
		logger.Warn("Billing sweep finished with failures",
			"sweep", input.Sweep,
			"failed", result.Failed,
			"processed", result.Processed)
	}
	return result, nil
}
