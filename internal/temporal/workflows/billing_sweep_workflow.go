package workflows

import (
	"time"

	"github.com/flexprice/billing/internal/temporal/models"
	"github.com/flexprice/billing/internal/types"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	// Workflow name - must match the function name
	WorkflowBillingSweep = "BillingSweepWorkflow"
	// Activity names - must match the registered method names
	ActivityRunSweep = "RunSweepActivity"
)

// BillingSweepWorkflow runs one billing sweep as a single activity. Sweeps
// are idempotent and guarded by an advisory lock, so the activity may be
// retried safely.
func BillingSweepWorkflow(ctx workflow.Context, input models.BillingSweepWorkflowInput) (*types.BatchResult, error) {
	if err := input.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidInput", err)
	}

	logger := workflow.GetLogger(ctx)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute * 30,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second * 10,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute * 5,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var result types.BatchResult
	if err := workflow.ExecuteActivity(ctx, ActivityRunSweep, input).Get(ctx, &result); err != nil {
		logger.Error("Billing sweep workflow failed", "sweep", input.Sweep, "error", err)
		return nil, err
	}

	logger.Info("Billing sweep workflow completed",
		"sweep", result.Sweep,
		"processed", result.Processed,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"skipped", result.Skipped)
	return &result, nil
}
