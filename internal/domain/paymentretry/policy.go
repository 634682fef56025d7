package paymentretry

import (
	"math"
	"strings"
	"time"

	"github.com/flexprice/billing/internal/config"
	"github.com/flexprice/billing/internal/types"
)

// Policy holds the backoff and grace-period settings of the retry campaign.
type Policy struct {
	InitialDelay    time.Duration
	Multiplier      float64
	MaxDelay        time.Duration
	MaxAttempts     int
	GracePeriodDays int
}

// DefaultPolicy retries up to 7 times, starting after an hour and doubling
// up to 3 days between attempts, within a 15 day grace period.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay:    time.Hour,
		Multiplier:      2,
		MaxDelay:        72 * time.Hour,
		MaxAttempts:     7,
		GracePeriodDays: 15,
	}
}

// NewPolicy reads the policy from configuration, keeping defaults for
// unset values.
func NewPolicy(cfg config.PaymentRetryConfig) Policy {
	p := DefaultPolicy()
	if cfg.InitialDelay > 0 {
		p.InitialDelay = cfg.InitialDelay
	}
	if cfg.Multiplier >= 1 {
		p.Multiplier = cfg.Multiplier
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.GracePeriodDays > 0 {
		p.GracePeriodDays = cfg.GracePeriodDays
	}
	return p
}

// CalculateRetryDelay returns min(initialDelay × multiplier^(attempt−1), maxDelay).
// Attempts below 1 are treated as the first attempt.
func (p Policy) CalculateRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attemptNumber-1))
	if delay >= float64(p.MaxDelay) || math.IsInf(delay, 0) || math.IsNaN(delay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// CanRetry reports whether another attempt is allowed after attempt,
// given when the payment first failed.
func (p Policy) CanRetry(attempt int, firstFailureAt, now time.Time) bool {
	return attempt < p.MaxAttempts && daysSince(firstFailureAt, now) < p.GracePeriodDays
}

// GraceDeadline is the instant after which no automatic retry is made.
func (p Policy) GraceDeadline(firstFailureAt time.Time) time.Time {
	return firstFailureAt.AddDate(0, 0, p.GracePeriodDays)
}

// daysSince counts whole elapsed days.
func daysSince(t, now time.Time) int {
	d := now.Sub(t)
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

var permanentFailureMarkers = []string{
	"invalid_card",
	"invalid card",
	"card_expired",
	"expired_card",
	"card expired",
	"incorrect_number",
	"invalid_account",
	"account_closed",
	"account closed",
	"stolen_card",
	"lost_card",
	"fraudulent",
	"do_not_honor",
	"card_not_supported",
	"pickup_card",
}

var temporaryFailureMarkers = []string{
	"insufficient_funds",
	"insufficient funds",
	"processing_error",
	"processing error",
	"network_error",
	"network error",
	"timeout",
	"timed out",
	"rate_limit",
	"temporarily_unavailable",
	"service unavailable",
	"try_again",
	"try again",
}

// ClassifyFailure is a best-effort heuristic over the failure reason.
// Unmatched reasons are unknown and therefore retryable.
func ClassifyFailure(reason string) types.PaymentFailureType {
	r := strings.ToLower(reason)
	for _, m := range permanentFailureMarkers {
		if strings.Contains(r, m) {
			return types.PaymentFailureTypePermanent
		}
	}
	for _, m := range temporaryFailureMarkers {
		if strings.Contains(r, m) {
			return types.PaymentFailureTypeTemporary
		}
	}
	return types.PaymentFailureTypeUnknown
}

// IsRetryable reports whether a failure type is retried automatically.
func IsRetryable(ft types.PaymentFailureType) bool {
	return ft != types.PaymentFailureTypePermanent
}
