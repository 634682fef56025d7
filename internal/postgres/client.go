package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/flexprice/billing/internal/config"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/logger"
	_ "github.com/lib/pq"
)

// DBTX is the query surface shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// IClient is the database handle injected into repositories.
type IClient interface {
	// Writer returns the transaction in ctx, or the pool.
	Writer(ctx context.Context) DBTX
	// Reader returns the transaction in ctx, or the pool.
	Reader(ctx context.Context) DBTX
	// WithTx runs fn in a transaction, joining one already in ctx.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	TxFromContext(ctx context.Context) *sql.Tx
	LockKey(ctx context.Context, req LockRequest) error
	TryLockKey(ctx context.Context, key string) (bool, error)
	DB() *sql.DB
}

type txKey struct{}

type Client struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewDB opens the pool and waits for the database with exponential backoff.
func NewDB(cfg *config.Configuration, log *logger.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Postgres.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if cfg.Postgres.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	}
	if cfg.Postgres.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	}
	if cfg.Postgres.ConnMaxLifetimeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.Postgres.ConnMaxLifetimeMinutes) * time.Minute)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	err = backoff.RetryNotify(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return db.PingContext(ctx)
	}, b, func(err error, next time.Duration) {
		log.Warnw("postgres not ready, retrying", "error", err, "retry_in", next)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	log.Infow("connected to postgres", "host", cfg.Postgres.Host, "dbname", cfg.Postgres.DBName)
	return db, nil
}

func NewClient(db *sql.DB, log *logger.Logger) IClient {
	return &Client{db: db, logger: log}
}

func (c *Client) DB() *sql.DB {
	return c.db
}

func (c *Client) Writer(ctx context.Context) DBTX {
	if tx := c.TxFromContext(ctx); tx != nil {
		return tx
	}
	return c.db
}

func (c *Client) Reader(ctx context.Context) DBTX {
	return c.Writer(ctx)
}

func (c *Client) TxFromContext(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}

func (c *Client) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if c.TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to start transaction").
			Mark(ierr.ErrDatabase)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				c.logger.Errorw("failed to rollback transaction", "error", rbErr)
			}
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to commit transaction").
			Mark(ierr.ErrDatabase)
	}
	return nil
}
