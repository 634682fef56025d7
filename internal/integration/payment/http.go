package payment

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/flexprice/billing/internal/config"
	"github.com/flexprice/billing/internal/domain/payment"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/httpclient"
	"github.com/flexprice/billing/internal/logger"
	"github.com/flexprice/billing/internal/types"
	jsoniter "github.com/json-iterator/go"
)

type retryPaymentBody struct {
	InvoiceID      string `json:"invoice_id"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	AttemptNumber  int    `json:"attempt_number"`
}

type retryPaymentResponse struct {
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
	Reference     string `json:"reference,omitempty"`
}

const paymentStatusSucceeded = "succeeded"

// HTTPGateway re-initiates payments through the payment service. Transport
// retries are left to the retry schedule, so the client never retries.
type HTTPGateway struct {
	cfg    config.HTTPServiceConfig
	client httpclient.Client
	logger *logger.Logger
}

func NewHTTPGateway(cfg *config.Configuration, log *logger.Logger) *HTTPGateway {
	return &HTTPGateway{
		cfg: cfg.Payment.HTTP,
		client: httpclient.NewClient(httpclient.Options{
			Timeout: cfg.Payment.HTTP.Timeout,
		}, log),
		logger: log,
	}
}

func (g *HTTPGateway) RetryPayment(ctx context.Context, req *payment.RetryRequest) (*payment.RetryResult, error) {
	body, err := jsoniter.Marshal(retryPaymentBody{
		InvoiceID:      req.InvoiceID,
		SubscriptionID: req.SubscriptionID,
		AttemptNumber:  req.AttemptNumber,
	})
	if err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrInternal)
	}

	h := map[string]string{
		"Content-Type":             "application/json",
		types.HeaderIdempotencyKey: req.IdempotencyKey,
	}
	if g.cfg.APIKey != "" {
		h[types.HeaderAPIKey] = g.cfg.APIKey
	}

	resp, err := g.client.Send(ctx, &httpclient.Request{
		Method:  http.MethodPost,
		URL:     fmt.Sprintf("%s/v1/payments/%s/retry", g.cfg.BaseURL, url.PathEscape(req.PaymentID)),
		Headers: h,
		Body:    body,
	})
	if err != nil {
		return nil, err
	}

	// 402 carries a decline in the regular body.
	if !resp.IsSuccess() && resp.StatusCode != http.StatusPaymentRequired {
		return nil, httpclient.StatusError(resp, "payment", req.PaymentID)
	}

	var out retryPaymentResponse
	if err := jsoniter.Unmarshal(resp.Body, &out); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Payment service returned an unreadable result").
			Mark(ierr.ErrHTTPClient)
	}

	result := &payment.RetryResult{
		Success:       out.Status == paymentStatusSucceeded,
		FailureReason: out.FailureReason,
		ProviderRef:   out.Reference,
	}
	if !result.Success && result.FailureReason == "" {
		result.FailureReason = fmt.Sprintf("payment %s", out.Status)
	}

	g.logger.Debugw("payment retry result",
		"payment_id", req.PaymentID,
		"attempt_number", req.AttemptNumber,
		"success", result.Success,
		"failure_reason", result.FailureReason,
	)
	return result, nil
}
