package service

import (
	"context"

	"github.com/flexprice/billing/internal/api/dto"
	"github.com/flexprice/billing/internal/domain/proration"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/types"
)

// ProrationService previews the financial effect of plan changes and
// cancellations without changing anything.
type ProrationService interface {
	PreviewPlanChange(ctx context.Context, req dto.ProrationPreviewRequest) (*proration.Result, error)
	PreviewCancellationRefund(ctx context.Context, subscriptionID string) (*dto.CancellationRefundPreview, error)
}

type prorationService struct {
	serviceParams ServiceParams
}

// NewProrationService creates a new proration service.
func NewProrationService(serviceParams ServiceParams) ProrationService {
	return &prorationService{
		serviceParams: serviceParams,
	}
}

func (s *prorationService) PreviewPlanChange(ctx context.Context, req dto.ProrationPreviewRequest) (*proration.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sub, err := s.serviceParams.SubRepo.Get(ctx, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	newPlan, err := s.serviceParams.Catalogue.GetPlanByID(ctx, req.NewPlanID)
	if err != nil {
		return nil, err
	}

	changeDate := s.serviceParams.now()
	if req.ChangeDate != nil {
		changeDate = req.ChangeDate.UTC()
	}

	params := proration.Params{
		OldAmount:    sub.Amount,
		NewAmount:    newPlan.Price,
		PeriodStart:  sub.CurrentPeriodStart,
		PeriodEnd:    sub.CurrentPeriodEnd,
		ChangeDate:   changeDate,
		BillingCycle: newPlan.BillingCycle,
	}

	var result *proration.Result
	if req.Immediate {
		result, err = proration.CalculateImmediateChangeProration(params)
	} else {
		result, err = proration.CalculateProration(params)
	}
	if err != nil {
		return nil, err
	}

	s.serviceParams.Logger.Debugw("proration preview calculated",
		"subscription_id", sub.ID,
		"new_plan_id", newPlan.ID,
		"immediate", req.Immediate,
		"net_amount", result.NetAmount.String())
	return result, nil
}

func (s *prorationService) PreviewCancellationRefund(ctx context.Context, subscriptionID string) (*dto.CancellationRefundPreview, error) {
	sub, err := s.serviceParams.SubRepo.Get(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != types.SubscriptionStatusActive {
		return nil, ierr.NewErrorf("subscription %s is %s", sub.ID, sub.Status).
			WithHint("Refunds are only computed for active subscriptions").
			Mark(ierr.ErrInvalidOperation)
	}

	refund, err := proration.CalculateCancellationRefund(sub.Amount, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, s.serviceParams.now())
	if err != nil {
		return nil, err
	}

	return &dto.CancellationRefundPreview{
		SubscriptionID: sub.ID,
		RefundAmount:   refund.RefundAmount,
		RemainingDays:  refund.RemainingDays,
	}, nil
}
