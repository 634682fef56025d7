package proration

import (
	"testing"
	"time"

	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(month time.Month, day int) time.Time {
	return time.Date(2024, month, day, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func januaryParams(oldAmount, newAmount string, changeDate time.Time) Params {
	return Params{
		OldAmount:    dec(oldAmount),
		NewAmount:    dec(newAmount),
		PeriodStart:  date(time.January, 1),
		PeriodEnd:    date(time.January, 31),
		ChangeDate:   changeDate,
		BillingCycle: types.BillingCycleMonthly,
	}
}

func TestCalculateProration_Scenarios(t *testing.T) {
	tests := []struct {
		name          string
		oldAmount     string
		newAmount     string
		changeDate    time.Time
		wantRemaining int
		wantCredit    string
		wantCharge    string
		wantNet       string
		wantType      ChangeType
	}{
		{
			name:          "upgrade mid period",
			oldAmount:     "30",
			newAmount:     "50",
			changeDate:    date(time.January, 15),
			wantRemaining: 16,
			wantCredit:    "16",
			wantCharge:    "26.67",
			wantNet:       "10.67",
			wantType:      ChangeTypeUpgrade,
		},
		{
			name:          "downgrade mid period",
			oldAmount:     "50",
			newAmount:     "30",
			changeDate:    date(time.January, 15),
			wantRemaining: 16,
			wantCredit:    "26.67",
			wantCharge:    "16",
			wantNet:       "-10.67",
			wantType:      ChangeTypeDowngrade,
		},
		{
			name:          "change on period end",
			oldAmount:     "30",
			newAmount:     "50",
			changeDate:    date(time.January, 31),
			wantRemaining: 0,
			wantCredit:    "0",
			wantCharge:    "0",
			wantNet:       "0",
			wantType:      ChangeTypeUpgrade,
		},
		{
			name:          "change on period start",
			oldAmount:     "30",
			newAmount:     "60",
			changeDate:    date(time.January, 1),
			wantRemaining: 30,
			wantCredit:    "30",
			wantCharge:    "60",
			wantNet:       "30",
			wantType:      ChangeTypeUpgrade,
		},
		{
			name:          "same price",
			oldAmount:     "30",
			newAmount:     "30",
			changeDate:    date(time.January, 10),
			wantRemaining: 21,
			wantCredit:    "21",
			wantCharge:    "21",
			wantNet:       "0",
			wantType:      ChangeTypeSidegrade,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := CalculateProration(januaryParams(tt.oldAmount, tt.newAmount, tt.changeDate))
			require.NoError(t, err)

			assert.Equal(t, 30, res.TotalDaysInPeriod)
			assert.Equal(t, tt.wantRemaining, res.RemainingDays)
			assert.True(t, dec(tt.wantCredit).Equal(res.CreditAmount), "credit: got %s", res.CreditAmount)
			assert.True(t, dec(tt.wantCharge).Equal(res.ChargeAmount), "charge: got %s", res.ChargeAmount)
			assert.True(t, dec(tt.wantNet).Equal(res.NetAmount), "net: got %s", res.NetAmount)
			assert.Equal(t, tt.wantType, res.ChangeType)
			assert.False(t, res.Immediate)
			assert.Equal(t, date(time.January, 31), res.NextBillingDate)
		})
	}
}

func TestCalculateProration_PartialDayRoundsUp(t *testing.T) {
	changeDate := date(time.January, 15).Add(13 * time.Hour)

	res, err := CalculateProration(januaryParams("30", "50", changeDate))
	require.NoError(t, err)
	assert.Equal(t, 16, res.RemainingDays)
}

func TestCalculateProration_OutsidePeriod(t *testing.T) {
	amounts := [][2]string{{"30", "50"}, {"0", "0"}, {"99.99", "10"}}
	dates := []time.Time{
		date(time.January, 1).Add(-time.Second),
		date(time.January, 31).Add(time.Second),
		date(time.March, 1),
	}

	for _, a := range amounts {
		for _, d := range dates {
			_, err := CalculateProration(januaryParams(a[0], a[1], d))
			require.Error(t, err)
			assert.True(t, ierr.IsValidation(err))

			_, err = CalculateImmediateChangeProration(januaryParams(a[0], a[1], d))
			require.Error(t, err)
			assert.True(t, ierr.IsValidation(err))
		}
	}
}

func TestCalculateProration_InvalidPeriod(t *testing.T) {
	p := januaryParams("30", "50", date(time.January, 1))
	p.PeriodEnd = p.PeriodStart

	_, err := CalculateProration(p)
	require.Error(t, err)
	assert.True(t, ierr.IsValidation(err))
}

func TestCalculateProration_NetMatchesRoundedParts(t *testing.T) {
	amounts := []string{"0", "0.01", "9.99", "29", "30", "49.95", "50", "1234.56"}
	start := date(time.January, 1)

	for _, oldAmount := range amounts {
		for _, newAmount := range amounts {
			for day := 0; day <= 30; day++ {
				res, err := CalculateProration(januaryParams(oldAmount, newAmount, start.AddDate(0, 0, day)))
				require.NoError(t, err)

				require.LessOrEqual(t, res.RemainingDays, res.TotalDaysInPeriod)
				rem := decimal.NewFromInt(int64(res.RemainingDays))
				want := res.NewDailyRate.Mul(rem).Round(2).Sub(res.OldDailyRate.Mul(rem).Round(2))
				assert.True(t, want.Equal(res.NetAmount), "old=%s new=%s day=%d", oldAmount, newAmount, day)

				exact := dec(newAmount).Sub(dec(oldAmount)).Mul(rem).Div(decimal.NewFromInt(int64(res.TotalDaysInPeriod)))
				assert.True(t, exact.Sub(res.NetAmount).Abs().LessThanOrEqual(dec("0.01")))
			}
		}
	}
}

func TestCalculateImmediateChangeProration(t *testing.T) {
	res, err := CalculateImmediateChangeProration(januaryParams("30", "50", date(time.January, 15)))
	require.NoError(t, err)

	assert.True(t, dec("16").Equal(res.CreditAmount))
	assert.True(t, dec("50").Equal(res.ChargeAmount))
	assert.True(t, dec("34").Equal(res.NetAmount))
	assert.Equal(t, date(time.February, 15), res.NextBillingDate)
	assert.True(t, res.Immediate)
}

func TestCalculateImmediateChangeProration_Yearly(t *testing.T) {
	p := januaryParams("30", "50", date(time.January, 15))
	p.BillingCycle = types.BillingCycleYearly

	res, err := CalculateImmediateChangeProration(p)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC), res.NextBillingDate)
}

func TestCalculateImmediateChangeProration_InvalidCycle(t *testing.T) {
	p := januaryParams("30", "50", date(time.January, 15))
	p.BillingCycle = "weekly"

	_, err := CalculateImmediateChangeProration(p)
	require.Error(t, err)
	assert.True(t, ierr.IsValidation(err))
}

func TestCalculateCancellationRefund(t *testing.T) {
	res, err := CalculateCancellationRefund(dec("30"), date(time.January, 1), date(time.January, 31), date(time.January, 15))
	require.NoError(t, err)
	assert.Equal(t, 16, res.RemainingDays)
	assert.True(t, dec("16").Equal(res.RefundAmount))

	res, err = CalculateCancellationRefund(dec("50"), date(time.January, 1), date(time.January, 31), date(time.January, 31))
	require.NoError(t, err)
	assert.True(t, res.RefundAmount.IsZero())

	_, err = CalculateCancellationRefund(dec("50"), date(time.January, 1), date(time.January, 31), date(time.February, 2))
	assert.True(t, ierr.IsValidation(err))
}

func TestGetChangeType(t *testing.T) {
	assert.Equal(t, ChangeTypeUpgrade, GetChangeType(dec("10"), dec("10.01")))
	assert.Equal(t, ChangeTypeDowngrade, GetChangeType(dec("10"), dec("9.99")))
	assert.Equal(t, ChangeTypeSidegrade, GetChangeType(dec("10"), dec("10.00")))
}

func TestShouldApplyProration(t *testing.T) {
	tests := []struct {
		net       string
		threshold string
		want      bool
	}{
		{"10.67", "1", true},
		{"-10.67", "1", true},
		{"1", "1", true},
		{"-1", "1", true},
		{"0.99", "1", false},
		{"-0.5", "1", false},
		{"0.99", "0", false},
		{"4.99", "5", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ShouldApplyProration(dec(tt.net), dec(tt.threshold)), "net=%s threshold=%s", tt.net, tt.threshold)
	}
}

func TestResultToMetadata(t *testing.T) {
	res, err := CalculateProration(januaryParams("30", "50", date(time.January, 15)))
	require.NoError(t, err)

	md := res.ToMetadata()
	assert.Equal(t, "10.67", md["net_amount"])
	assert.Equal(t, "16.00", md["credit_amount"])
	assert.Equal(t, 16, md["remaining_days"])
	assert.Equal(t, "upgrade", md["change_type"])
}
