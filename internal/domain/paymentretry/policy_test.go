package paymentretry

import (
	"testing"
	"time"

	"github.com/flexprice/billing/internal/config"
	"github.com/flexprice/billing/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestCalculateRetryDelay_Default(t *testing.T) {
	p := DefaultPolicy()

	expected := []time.Duration{
		time.Hour,
		2 * time.Hour,
		4 * time.Hour,
		8 * time.Hour,
		16 * time.Hour,
		32 * time.Hour,
		64 * time.Hour,
		72 * time.Hour,
		72 * time.Hour,
	}
	for i, want := range expected {
		assert.Equal(t, want, p.CalculateRetryDelay(i+1), "attempt %d", i+1)
	}
}

func TestCalculateRetryDelay_NonDecreasingAndCapped(t *testing.T) {
	p := DefaultPolicy()

	prev := time.Duration(0)
	for n := 1; n <= 200; n++ {
		d := p.CalculateRetryDelay(n)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", n)
		assert.LessOrEqual(t, d, p.MaxDelay, "attempt %d", n)
		prev = d
	}
	assert.Equal(t, p.MaxDelay, p.CalculateRetryDelay(1000))
}

func TestCalculateRetryDelay_BelowOne(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, p.InitialDelay, p.CalculateRetryDelay(0))
	assert.Equal(t, p.InitialDelay, p.CalculateRetryDelay(-3))
}

func TestCanRetry(t *testing.T) {
	p := DefaultPolicy()
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, p.CanRetry(0, now, now))
	assert.True(t, p.CanRetry(p.MaxAttempts-1, now.AddDate(0, 0, -14), now))
	assert.False(t, p.CanRetry(p.MaxAttempts, now, now))
	assert.False(t, p.CanRetry(p.MaxAttempts+1, now, now))
	assert.False(t, p.CanRetry(1, now.AddDate(0, 0, -(p.GracePeriodDays+1)), now))
	assert.False(t, p.CanRetry(1, now.AddDate(0, 0, -p.GracePeriodDays), now))
}

func TestNewPolicy(t *testing.T) {
	p := NewPolicy(config.PaymentRetryConfig{
		InitialDelay:    30 * time.Minute,
		Multiplier:      3,
		MaxDelay:        24 * time.Hour,
		MaxAttempts:     4,
		GracePeriodDays: 10,
	})
	assert.Equal(t, 30*time.Minute, p.InitialDelay)
	assert.Equal(t, 90*time.Minute, p.CalculateRetryDelay(2))
	assert.Equal(t, 4, p.MaxAttempts)

	assert.Equal(t, DefaultPolicy(), NewPolicy(config.PaymentRetryConfig{}))
}

func TestGraceDeadline(t *testing.T) {
	first := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, time.March, 16, 0, 0, 0, 0, time.UTC), DefaultPolicy().GraceDeadline(first))
}

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		reason string
		want   types.PaymentFailureType
	}{
		{"card_declined: insufficient_funds", types.PaymentFailureTypeTemporary},
		{"Your card has insufficient funds.", types.PaymentFailureTypeTemporary},
		{"Gateway Timeout", types.PaymentFailureTypeTemporary},
		{"processing_error", types.PaymentFailureTypeTemporary},
		{"expired_card", types.PaymentFailureTypePermanent},
		{"INVALID_CARD number", types.PaymentFailureTypePermanent},
		{"account closed by bank", types.PaymentFailureTypePermanent},
		{"stolen_card", types.PaymentFailureTypePermanent},
		{"something odd happened", types.PaymentFailureTypeUnknown},
		{"", types.PaymentFailureTypeUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyFailure(tt.reason), tt.reason)
	}

	assert.False(t, IsRetryable(types.PaymentFailureTypePermanent))
	assert.True(t, IsRetryable(types.PaymentFailureTypeTemporary))
	assert.True(t, IsRetryable(types.PaymentFailureTypeUnknown))
}
