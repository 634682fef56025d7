// Package proration computes credits and charges for mid-cycle plan changes
// and cancellations. Everything here is pure: no storage, no clock.
package proration

import (
	"math"
	"time"

	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/types"
	"github.com/shopspring/decimal"
)

// currencyPrecision is the number of decimal places every returned amount is rounded to.
const currencyPrecision = 2

// DefaultThreshold is the smallest absolute net amount worth invoicing or crediting.
var DefaultThreshold = decimal.NewFromInt(1)

// ChangeType describes the direction of a plan change by price.
type ChangeType string

const (
	ChangeTypeUpgrade   ChangeType = "upgrade"
	ChangeTypeDowngrade ChangeType = "downgrade"
	ChangeTypeSidegrade ChangeType = "sidegrade"
)

// Params are the inputs of a plan change calculation.
type Params struct {
	OldAmount    decimal.Decimal
	NewAmount    decimal.Decimal
	PeriodStart  time.Time
	PeriodEnd    time.Time
	ChangeDate   time.Time
	BillingCycle types.BillingCycle
}

// Result is the outcome of a plan change calculation. A positive NetAmount
// means the customer owes money, a negative one means they are credited.
type Result struct {
	OldAmount         decimal.Decimal `json:"old_amount"`
	NewAmount         decimal.Decimal `json:"new_amount"`
	OldDailyRate      decimal.Decimal `json:"old_daily_rate"`
	NewDailyRate      decimal.Decimal `json:"new_daily_rate"`
	CreditAmount      decimal.Decimal `json:"credit_amount"`
	ChargeAmount      decimal.Decimal `json:"charge_amount"`
	NetAmount         decimal.Decimal `json:"net_amount"`
	TotalDaysInPeriod int             `json:"total_days_in_period"`
	RemainingDays     int             `json:"remaining_days"`
	PeriodStart       time.Time       `json:"period_start"`
	PeriodEnd         time.Time       `json:"period_end"`
	ChangeDate        time.Time       `json:"change_date"`
	NextBillingDate   time.Time       `json:"next_billing_date"`
	ChangeType        ChangeType      `json:"change_type"`
	Immediate         bool            `json:"immediate"`
}

// ToMetadata flattens the result into a map suitable for JSONB columns.
// Amounts are kept as strings so no precision is lost.
func (r *Result) ToMetadata() types.Metadata {
	return types.Metadata{
		"old_amount":           r.OldAmount.String(),
		"new_amount":           r.NewAmount.String(),
		"old_daily_rate":       r.OldDailyRate.String(),
		"new_daily_rate":       r.NewDailyRate.String(),
		"credit_amount":        r.CreditAmount.StringFixed(currencyPrecision),
		"charge_amount":        r.ChargeAmount.StringFixed(currencyPrecision),
		"net_amount":           r.NetAmount.StringFixed(currencyPrecision),
		"total_days_in_period": r.TotalDaysInPeriod,
		"remaining_days":       r.RemainingDays,
		"period_start":         r.PeriodStart.UTC().Format(time.RFC3339),
		"period_end":           r.PeriodEnd.UTC().Format(time.RFC3339),
		"change_date":          r.ChangeDate.UTC().Format(time.RFC3339),
		"next_billing_date":    r.NextBillingDate.UTC().Format(time.RFC3339),
		"change_type":          string(r.ChangeType),
		"immediate":            r.Immediate,
	}
}

// RefundResult is the unused-time refund of a cancellation.
type RefundResult struct {
	Amount            decimal.Decimal `json:"amount"`
	DailyRate         decimal.Decimal `json:"daily_rate"`
	RefundAmount      decimal.Decimal `json:"refund_amount"`
	TotalDaysInPeriod int             `json:"total_days_in_period"`
	RemainingDays     int             `json:"remaining_days"`
	CancellationDate  time.Time       `json:"cancellation_date"`
}

func (r *RefundResult) ToMetadata() types.Metadata {
	return types.Metadata{
		"amount":               r.Amount.String(),
		"daily_rate":           r.DailyRate.String(),
		"refund_amount":        r.RefundAmount.StringFixed(currencyPrecision),
		"total_days_in_period": r.TotalDaysInPeriod,
		"remaining_days":       r.RemainingDays,
		"cancellation_date":    r.CancellationDate.UTC().Format(time.RFC3339),
	}
}

// CalculateProration prorates both plans over the days left in the period.
// The period keeps its end date, so NextBillingDate is PeriodEnd.
func CalculateProration(p Params) (*Result, error) {
	res, err := prorate(p)
	if err != nil {
		return nil, err
	}

	res.ChargeAmount = round(res.NewDailyRate.Mul(decimal.NewFromInt(int64(res.RemainingDays))))
	res.NetAmount = res.ChargeAmount.Sub(res.CreditAmount)
	res.NextBillingDate = p.PeriodEnd
	return res, nil
}

// CalculateImmediateChangeProration credits the unused days of the old plan
// and charges the full new price because a fresh period starts at ChangeDate.
func CalculateImmediateChangeProration(p Params) (*Result, error) {
	if err := p.BillingCycle.Validate(); err != nil {
		return nil, err
	}

	res, err := prorate(p)
	if err != nil {
		return nil, err
	}

	res.ChargeAmount = round(p.NewAmount)
	res.NetAmount = res.ChargeAmount.Sub(res.CreditAmount)
	res.NextBillingDate = p.BillingCycle.AddTo(p.ChangeDate)
	res.Immediate = true
	return res, nil
}

// CalculateCancellationRefund returns the unused-time refund for a
// subscription cancelled at cancellationDate.
func CalculateCancellationRefund(amount decimal.Decimal, periodStart, periodEnd, cancellationDate time.Time) (*RefundResult, error) {
	if err := validatePeriod(periodStart, periodEnd, cancellationDate); err != nil {
		return nil, err
	}

	totalDays := daysBetween(periodStart, periodEnd)
	remainingDays := daysBetween(cancellationDate, periodEnd)
	rate := dailyRate(amount, totalDays)

	return &RefundResult{
		Amount:            amount,
		DailyRate:         rate,
		RefundAmount:      round(rate.Mul(decimal.NewFromInt(int64(remainingDays)))),
		TotalDaysInPeriod: totalDays,
		RemainingDays:     remainingDays,
		CancellationDate:  cancellationDate,
	}, nil
}

// GetChangeType compares plan prices.
func GetChangeType(oldAmount, newAmount decimal.Decimal) ChangeType {
	switch newAmount.Cmp(oldAmount) {
	case 1:
		return ChangeTypeUpgrade
	case -1:
		return ChangeTypeDowngrade
	default:
		return ChangeTypeSidegrade
	}
}

// ShouldApplyProration reports whether |netAmount| reaches threshold.
// A zero threshold falls back to DefaultThreshold.
func ShouldApplyProration(netAmount, threshold decimal.Decimal) bool {
	if threshold.IsZero() {
		threshold = DefaultThreshold
	}
	return netAmount.Abs().GreaterThanOrEqual(threshold)
}

// prorate computes the shared day counts, daily rates and old-plan credit.
func prorate(p Params) (*Result, error) {
	if err := validatePeriod(p.PeriodStart, p.PeriodEnd, p.ChangeDate); err != nil {
		return nil, err
	}

	totalDays := daysBetween(p.PeriodStart, p.PeriodEnd)
	remainingDays := daysBetween(p.ChangeDate, p.PeriodEnd)
	oldRate := dailyRate(p.OldAmount, totalDays)
	newRate := dailyRate(p.NewAmount, totalDays)

	return &Result{
		OldAmount:         p.OldAmount,
		NewAmount:         p.NewAmount,
		OldDailyRate:      oldRate,
		NewDailyRate:      newRate,
		CreditAmount:      round(oldRate.Mul(decimal.NewFromInt(int64(remainingDays)))),
		TotalDaysInPeriod: totalDays,
		RemainingDays:     remainingDays,
		PeriodStart:       p.PeriodStart,
		PeriodEnd:         p.PeriodEnd,
		ChangeDate:        p.ChangeDate,
		ChangeType:        GetChangeType(p.OldAmount, p.NewAmount),
	}, nil
}

func validatePeriod(periodStart, periodEnd, date time.Time) error {
	if !periodStart.Before(periodEnd) {
		return ierr.NewError("invalid billing period").
			WithHintf("Period start %s must be before period end %s", periodStart.Format(time.RFC3339), periodEnd.Format(time.RFC3339)).
			WithReportableDetails(map[string]interface{}{
				"period_start": periodStart,
				"period_end":   periodEnd,
			}).
			Mark(ierr.ErrValidation)
	}

	if date.Before(periodStart) || date.After(periodEnd) {
		return ierr.NewError("change date is outside the billing period").
			WithHintf("Date %s must fall between %s and %s", date.Format(time.RFC3339), periodStart.Format(time.RFC3339), periodEnd.Format(time.RFC3339)).
			WithReportableDetails(map[string]interface{}{
				"period_start": periodStart,
				"period_end":   periodEnd,
				"date":         date,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// daysBetween counts whole days from a to b, rounding partial days up and
// flooring at zero.
func daysBetween(a, b time.Time) int {
	d := b.Sub(a)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}

func dailyRate(amount decimal.Decimal, days int) decimal.Decimal {
	if days <= 0 {
		return decimal.Zero
	}
	return amount.Div(decimal.NewFromInt(int64(days)))
}

func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(currencyPrecision)
}
