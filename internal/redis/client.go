package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/flexprice/billing/internal/config"
	"github.com/flexprice/billing/internal/logger"
	"github.com/redis/go-redis/v9"
)

// Client wraps the go-redis client used by the plan cache.
type Client struct {
	rdb *redis.Client
	log *logger.Logger
}

// NewClient connects to Redis, retrying the initial ping with backoff.
func NewClient(cfg config.RedisConfig, log *logger.Logger) (*Client, error) {
	opts := &redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		PoolSize:     cfg.PoolSize,
	}

	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 15 * time.Second
	err := backoff.RetryNotify(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return rdb.Ping(ctx).Err()
	}, b, func(err error, next time.Duration) {
		log.Warnw("redis not ready, retrying", "error", err, "retry_in", next)
	})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("connected to redis", "addr", opts.Addr)

	return &Client{rdb: rdb, log: log}, nil
}

func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
