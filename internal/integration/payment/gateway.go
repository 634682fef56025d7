package payment

import (
	"github.com/flexprice/billing/internal/config"
	"github.com/flexprice/billing/internal/domain/payment"
	"github.com/flexprice/billing/internal/logger"
)

// NewGateway returns the gateway for the configured payment provider.
func NewGateway(cfg *config.Configuration, log *logger.Logger) payment.Gateway {
	if cfg.Payment.Provider == config.PaymentProviderStripe {
		return NewStripeGateway(cfg, log)
	}
	return NewHTTPGateway(cfg, log)
}
