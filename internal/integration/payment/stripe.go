package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/flexprice/billing/internal/config"
	"github.com/flexprice/billing/internal/domain/payment"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/logger"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/invoice"
)

// StripeGateway retries a failed payment by paying the Stripe invoice
// again with the customer's default payment method.
type StripeGateway struct {
	invoices invoice.Client
	logger   *logger.Logger
}

func NewStripeGateway(cfg *config.Configuration, log *logger.Logger) *StripeGateway {
	return NewStripeGatewayWithBackend(cfg.Payment.StripeSecretKey, stripe.GetBackend(stripe.APIBackend), log)
}

func NewStripeGatewayWithBackend(key string, backend stripe.Backend, log *logger.Logger) *StripeGateway {
	return &StripeGateway{
		invoices: invoice.Client{B: backend, Key: key},
		logger:   log,
	}
}

func (g *StripeGateway) RetryPayment(ctx context.Context, req *payment.RetryRequest) (*payment.RetryResult, error) {
	params := &stripe.InvoicePayParams{}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("payment_id", req.PaymentID)
	params.AddMetadata("attempt_number", fmt.Sprintf("%d", req.AttemptNumber))

	inv, err := g.invoices.Pay(req.InvoiceID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			reason := string(stripeErr.Code)
			if stripeErr.DeclineCode != "" {
				reason = string(stripeErr.DeclineCode)
			}
			g.logger.Infow("stripe declined payment retry",
				"invoice_id", req.InvoiceID,
				"payment_id", req.PaymentID,
				"reason", reason,
			)
			return &payment.RetryResult{Success: false, FailureReason: reason}, nil
		}

		return nil, ierr.WithError(err).
			WithHintf("Stripe could not pay invoice %s", req.InvoiceID).
			WithReportableDetails(map[string]interface{}{
				"invoice_id": req.InvoiceID,
				"payment_id": req.PaymentID,
			}).
			Mark(ierr.ErrHTTPClient)
	}

	if inv.Status != stripe.InvoiceStatusPaid {
		return &payment.RetryResult{
			Success:       false,
			FailureReason: fmt.Sprintf("invoice %s", inv.Status),
			ProviderRef:   inv.ID,
		}, nil
	}
	return &payment.RetryResult{Success: true, ProviderRef: inv.ID}, nil
}
