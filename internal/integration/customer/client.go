package customer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/flexprice/billing/internal/config"
	"github.com/flexprice/billing/internal/domain/customer"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/httpclient"
	"github.com/flexprice/billing/internal/logger"
	"github.com/flexprice/billing/internal/types"
	jsoniter "github.com/json-iterator/go"
)

// Client implements customer.Lookup against the customer service.
type Client struct {
	cfg    config.HTTPServiceConfig
	client httpclient.Client
	logger *logger.Logger
}

func NewClient(cfg *config.Configuration, log *logger.Logger) *Client {
	return &Client{
		cfg: cfg.Customer,
		client: httpclient.NewClient(httpclient.Options{
			Timeout: cfg.Customer.Timeout,
		}, log),
		logger: log,
	}
}

func (c *Client) GetCustomerByID(ctx context.Context, customerID string) (*customer.Customer, error) {
	h := map[string]string{"Accept": "application/json"}
	if c.cfg.APIKey != "" {
		h[types.HeaderAPIKey] = c.cfg.APIKey
	}

	resp, err := c.client.Send(ctx, &httpclient.Request{
		Method:  http.MethodGet,
		URL:     fmt.Sprintf("%s/v1/customers/%s", c.cfg.BaseURL, url.PathEscape(customerID)),
		Headers: h,
	})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, httpclient.StatusError(resp, "customer", customerID)
	}

	var out customer.Customer
	if err := jsoniter.Unmarshal(resp.Body, &out); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Customer service returned an unreadable customer").
			Mark(ierr.ErrHTTPClient)
	}
	return &out, nil
}
