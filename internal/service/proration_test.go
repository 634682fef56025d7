package service

import (
	"testing"
	"time"

	"github.com/flexprice/billing/internal/api/dto"
	"github.com/flexprice/billing/internal/domain/proration"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/testutil"
	"github.com/flexprice/billing/internal/types"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

type ProrationServiceSuite struct {
	testutil.BaseServiceTestSuite
	service ProrationService
}

func TestProrationService(t *testing.T) {
	suite.Run(t, new(ProrationServiceSuite))
}

func (s *ProrationServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewProrationService(newTestServiceParams(&s.BaseServiceTestSuite))

	s.AddPlan("plan_basic", "30", types.BillingCycleMonthly, 0)
	s.AddPlan("plan_pro", "50", types.BillingCycleMonthly, 0)
	s.Require().NoError(s.GetStores().SubscriptionRepo.Create(s.GetContext(),
		testSubscription("subs_1", "cust_1", types.SubscriptionStatusActive, "30", date(time.January, 1), date(time.January, 31))))
	s.GetClock().Set(date(time.January, 15))
}

func (s *ProrationServiceSuite) TestPreviewPlanChange() {
	tests := []struct {
		name       string
		req        dto.ProrationPreviewRequest
		wantCredit string
		wantCharge string
		wantNet    string
		wantType   proration.ChangeType
		wantNext   time.Time
	}{
		{
			name:       "prorated upgrade at the clock time",
			req:        dto.ProrationPreviewRequest{SubscriptionID: "subs_1", NewPlanID: "plan_pro"},
			wantCredit: "16.00",
			wantCharge: "26.67",
			wantNet:    "10.67",
			wantType:   proration.ChangeTypeUpgrade,
			wantNext:   date(time.January, 31),
		},
		{
			name:       "immediate upgrade",
			req:        dto.ProrationPreviewRequest{SubscriptionID: "subs_1", NewPlanID: "plan_pro", Immediate: true},
			wantCredit: "16.00",
			wantCharge: "50.00",
			wantNet:    "34.00",
			wantType:   proration.ChangeTypeUpgrade,
			wantNext:   date(time.February, 15),
		},
		{
			name:       "explicit change date",
			req:        dto.ProrationPreviewRequest{SubscriptionID: "subs_1", NewPlanID: "plan_pro", ChangeDate: lo.ToPtr(date(time.January, 21))},
			wantCredit: "10.00",
			wantCharge: "16.67",
			wantNet:    "6.67",
			wantType:   proration.ChangeTypeUpgrade,
			wantNext:   date(time.January, 31),
		},
		{
			name:       "same plan",
			req:        dto.ProrationPreviewRequest{SubscriptionID: "subs_1", NewPlanID: "plan_basic"},
			wantCredit: "16.00",
			wantCharge: "16.00",
			wantNet:    "0.00",
			wantType:   proration.ChangeTypeSidegrade,
			wantNext:   date(time.January, 31),
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			res, err := s.service.PreviewPlanChange(s.GetContext(), tt.req)
			s.Require().NoError(err)
			s.Equal(tt.wantCredit, res.CreditAmount.StringFixed(2))
			s.Equal(tt.wantCharge, res.ChargeAmount.StringFixed(2))
			s.Equal(tt.wantNet, res.NetAmount.StringFixed(2))
			s.Equal(tt.wantType, res.ChangeType)
			s.Equal(tt.wantNext, res.NextBillingDate)
		})
	}

	// previews never touch the subscription
	sub, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), "subs_1")
	s.NoError(err)
	s.Equal("plan_basic", sub.PlanID)
	s.Empty(s.GetStores().OutboxRepo.All())
}

func (s *ProrationServiceSuite) TestPreviewPlanChange_Errors() {
	_, err := s.service.PreviewPlanChange(s.GetContext(), dto.ProrationPreviewRequest{SubscriptionID: "subs_1"})
	s.True(ierr.IsValidation(err))

	_, err = s.service.PreviewPlanChange(s.GetContext(), dto.ProrationPreviewRequest{SubscriptionID: "subs_missing", NewPlanID: "plan_pro"})
	s.True(ierr.IsNotFound(err))

	_, err = s.service.PreviewPlanChange(s.GetContext(), dto.ProrationPreviewRequest{
		SubscriptionID: "subs_1",
		NewPlanID:      "plan_pro",
		ChangeDate:     lo.ToPtr(date(time.March, 1)),
	})
	s.True(ierr.IsValidation(err))
}

func (s *ProrationServiceSuite) TestPreviewCancellationRefund() {
	preview, err := s.service.PreviewCancellationRefund(s.GetContext(), "subs_1")
	s.Require().NoError(err)
	s.Equal("subs_1", preview.SubscriptionID)
	s.Equal("16.00", preview.RefundAmount.StringFixed(2))
	s.Equal(16, preview.RemainingDays)

	s.Require().NoError(s.GetStores().SubscriptionRepo.Create(s.GetContext(),
		testSubscription("subs_trial", "cust_2", types.SubscriptionStatusTrial, "30", date(time.January, 1), date(time.January, 31))))
	_, err = s.service.PreviewCancellationRefund(s.GetContext(), "subs_trial")
	s.True(ierr.IsInvalidOperation(err))
}
