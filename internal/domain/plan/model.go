package plan

import (
	"context"

	"github.com/flexprice/billing/internal/types"
	"github.com/shopspring/decimal"
)

// Plan is the catalogue view of a plan that subscriptions need.
type Plan struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Price        decimal.Decimal    `json:"price"`
	BillingCycle types.BillingCycle `json:"billing_cycle"`
	TrialEnabled bool               `json:"trial_enabled"`
	TrialDays    int                `json:"trial_days"`
}

// HasTrial reports whether the plan offers a usable trial.
func (p *Plan) HasTrial() bool {
	return p.TrialEnabled && p.TrialDays > 0
}

// Catalogue looks plans up in the catalogue service.
type Catalogue interface {
	// GetPlanByID returns ErrNotFound when the plan does not exist.
	GetPlanByID(ctx context.Context, planID string) (*Plan, error)
}
