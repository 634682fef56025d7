package postgres

import (
	"context"
	"errors"
	"fmt"

	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/types"
	"github.com/lib/pq"
)

type LockRequest = types.LockRequest

// pgLockNotAvailable is SQLSTATE 55P03, raised when lock_timeout expires.
const pgLockNotAvailable = "55P03"

func errNoTransaction(op string) error {
	return ierr.NewErrorf("%s must be called inside a transaction", op).
		WithHint("Advisory locks are transaction scoped").
		Mark(ierr.ErrInternal)
}

// LockKey blocks on the transaction-scoped advisory lock for req.Key, up to
// req.GetTimeout(). A non-positive timeout fails fast when the lock is held.
// The lock is released on commit or rollback.
func (c *Client) LockKey(ctx context.Context, req LockRequest) error {
	tx := c.TxFromContext(ctx)
	if tx == nil {
		return errNoTransaction("LockKey")
	}

	timeout := req.GetTimeout()
	if timeout <= 0 {
		ok, err := c.TryLockKey(ctx, req.Key)
		if err != nil {
			return err
		}
		if !ok {
			return ierr.NewErrorf("lock %s already held", req.Key).
				WithHint("Another operation is in progress, try again later").
				Mark(ierr.ErrAlreadyExists)
		}
		return nil
	}

	// SET LOCAL is undone with the transaction
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", timeout.Milliseconds())); err != nil {
		return ierr.WithError(err).
			WithMessage("failed to set lock timeout").
			Mark(ierr.ErrDatabase)
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, req.Key); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgLockNotAvailable {
			return ierr.WithError(err).
				WithMessage(fmt.Sprintf("failed to acquire lock %s within %v", req.Key, timeout)).
				WithHint("Another operation is in progress, try again later").
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithMessage(fmt.Sprintf("failed to acquire lock %s", req.Key)).
			Mark(ierr.ErrDatabase)
	}

	c.logger.Debugw("acquired advisory lock", "key", req.Key)
	return nil
}

// TryLockKey takes the transaction-scoped advisory lock for key if it is
// free and reports whether it did.
func (c *Client) TryLockKey(ctx context.Context, key string) (bool, error) {
	tx := c.TxFromContext(ctx)
	if tx == nil {
		return false, errNoTransaction("TryLockKey")
	}

	var ok bool
	if err := tx.QueryRowContext(ctx, `SELECT pg_try_advisory_xact_lock(hashtext($1))`, key).Scan(&ok); err != nil {
		return false, ierr.WithError(err).
			WithMessage(fmt.Sprintf("failed to try lock %s", key)).
			Mark(ierr.ErrDatabase)
	}
	return ok, nil
}
