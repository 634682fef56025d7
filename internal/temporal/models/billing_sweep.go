package models

import (
	"fmt"

	"github.com/flexprice/billing/internal/types"
)

// BillingSweepWorkflowInput names the sweep a workflow run executes.
type BillingSweepWorkflowInput struct {
	Sweep types.BillingSweep `json:"sweep"`
}

func (i *BillingSweepWorkflowInput) Validate() error {
	return i.Sweep.Validate()
}

// ScheduleID is the id of the Temporal schedule that starts the sweep.
func ScheduleID(sweep types.BillingSweep) string {
	return fmt.Sprintf("billing-sweep-%s", sweep)
}

// WorkflowID is the id of a manually triggered run of the sweep.
func WorkflowID(sweep types.BillingSweep) string {
	return fmt.Sprintf("billing-sweep-%s-%s", sweep, types.GenerateUUID())
}
