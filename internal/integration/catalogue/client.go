package catalogue

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/flexprice/billing/internal/config"
	"github.com/flexprice/billing/internal/domain/plan"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/httpclient"
	"github.com/flexprice/billing/internal/logger"
	"github.com/flexprice/billing/internal/types"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type planResponse struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Price        decimal.Decimal    `json:"price"`
	BillingCycle types.BillingCycle `json:"billing_cycle"`
	TrialEnabled bool               `json:"trial_enabled"`
	TrialDays    int                `json:"trial_days"`
}

// Client implements plan.Catalogue against the catalogue service.
type Client struct {
	cfg    config.HTTPServiceConfig
	client httpclient.Client
	logger *logger.Logger
}

// NewClient builds the catalogue client. Lookups are on the request path
// and are not retried.
func NewClient(cfg *config.Configuration, log *logger.Logger) *Client {
	return NewClientWithHTTP(cfg.Catalogue, httpclient.NewClient(httpclient.Options{
		Timeout: cfg.Catalogue.Timeout,
	}, log), log)
}

func NewClientWithHTTP(cfg config.HTTPServiceConfig, client httpclient.Client, log *logger.Logger) *Client {
	return &Client{cfg: cfg, client: client, logger: log}
}

func (c *Client) GetPlanByID(ctx context.Context, planID string) (*plan.Plan, error) {
	resp, err := c.client.Send(ctx, &httpclient.Request{
		Method:  http.MethodGet,
		URL:     fmt.Sprintf("%s/v1/plans/%s", c.cfg.BaseURL, url.PathEscape(planID)),
		Headers: headers(c.cfg.APIKey),
	})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, httpclient.StatusError(resp, "plan", planID)
	}

	var p planResponse
	if err := json.Unmarshal(resp.Body, &p); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Catalogue returned an unreadable plan").
			Mark(ierr.ErrHTTPClient)
	}
	if err := p.BillingCycle.Validate(); err != nil {
		return nil, err
	}

	c.logger.Debugw("fetched plan from catalogue", "plan_id", p.ID)

	return &plan.Plan{
		ID:           p.ID,
		Name:         p.Name,
		Price:        p.Price,
		BillingCycle: p.BillingCycle,
		TrialEnabled: p.TrialEnabled,
		TrialDays:    p.TrialDays,
	}, nil
}

func headers(apiKey string) map[string]string {
	h := map[string]string{"Accept": "application/json"}
	if apiKey != "" {
		h[types.HeaderAPIKey] = apiKey
	}
	return h
}
