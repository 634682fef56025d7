package cron

import (
	"context"
	"net/http"
	"time"

	"github.com/flexprice/billing/internal/logger"
	"github.com/flexprice/billing/internal/service"
	"github.com/flexprice/billing/internal/types"
	"github.com/gin-gonic/gin"
)

// SweepTrigger runs a sweep somewhere other than the serving process, such
// as a Temporal worker.
type SweepTrigger interface {
	TriggerSweep(ctx context.Context, sweep types.BillingSweep) (*types.BatchResult, error)
}

// BillingCronHandler exposes the billing sweeps to external cron callers
type BillingCronHandler struct {
	sweepService service.BillingSweepService
	trigger      SweepTrigger
	logger       *logger.Logger
}

// NewBillingCronHandler creates a new billing cron handler. When trigger is
// non-nil sweeps are handed to it instead of running in the request.
func NewBillingCronHandler(
	sweepService service.BillingSweepService,
	trigger SweepTrigger,
	logger *logger.Logger,
) *BillingCronHandler {
	return &BillingCronHandler{
		sweepService: sweepService,
		trigger:      trigger,
		logger:       logger,
	}
}

// RunSweep runs the sweep named by the :sweep path parameter and returns
// its batch summary.
func (h *BillingCronHandler) RunSweep(c *gin.Context) {
	sweep := types.BillingSweep(c.Param("sweep"))
	if err := sweep.Validate(); err != nil {
		c.Error(err)
		return
	}

	h.logger.Infow("starting billing sweep cron job",
		"sweep", sweep,
		"time", time.Now().UTC().Format(time.RFC3339))

	var (
		result *types.BatchResult
		err    error
	)
	if h.trigger != nil {
		result, err = h.trigger.TriggerSweep(c.Request.Context(), sweep)
	} else {
		result, err = h.sweepService.RunSweep(c.Request.Context(), sweep)
	}
	if err != nil {
		h.logger.Errorw("billing sweep cron job failed", "sweep", sweep, "error", err)
		c.Error(err)
		return
	}

	h.logger.Infow("completed billing sweep cron job",
		"sweep", sweep,
		"processed", result.Processed,
		"failed", result.Failed)
	c.JSON(http.StatusOK, result)
}

// ListSweeps returns the names of the sweeps that can be triggered.
func (h *BillingCronHandler) ListSweeps(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sweeps": types.AllBillingSweeps})
}
