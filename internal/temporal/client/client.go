package client

import (
	"context"
	"sync"

	"github.com/flexprice/billing/internal/config"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/logger"
	"go.temporal.io/sdk/client"
)

// TemporalClient owns the connection to the Temporal frontend.
type TemporalClient interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsHealthy(ctx context.Context) bool
	// Client returns the SDK client. It is nil before Start.
	Client() client.Client
}

type temporalClient struct {
	cfg    config.TemporalConfig
	logger *logger.Logger

	mu     sync.RWMutex
	client client.Client
}

func NewTemporalClient(cfg *config.Configuration, log *logger.Logger) TemporalClient {
	return &temporalClient{
		cfg:    cfg.Temporal,
		logger: log,
	}
}

func (c *temporalClient) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	cl, err := client.DialContext(ctx, client.Options{
		HostPort:  c.cfg.Address,
		Namespace: c.cfg.Namespace,
		Logger:    c.logger.GetTemporalLogger(),
	})
	if err != nil {
		return ierr.WithError(err).
			WithHintf("Failed to connect to Temporal at %s", c.cfg.Address).
			Mark(ierr.ErrSystem)
	}

	c.client = cl
	c.logger.Infow("connected to temporal",
		"address", c.cfg.Address,
		"namespace", c.cfg.Namespace)
	return nil
}

func (c *temporalClient) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	return nil
}

func (c *temporalClient) IsHealthy(ctx context.Context) bool {
	cl := c.Client()
	if cl == nil {
		return false
	}
	_, err := cl.CheckHealth(ctx, &client.CheckHealthRequest{})
	return err == nil
}

func (c *temporalClient) Client() client.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}
