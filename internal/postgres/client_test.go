package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/logger"
	"github.com/flexprice/billing/internal/types"
	"github.com/lib/pq"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockClient(t *testing.T) (IClient, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewClient(db, logger.NewNopLogger()), mock
}

func TestWithTx_Commit(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE subscriptions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := client.WithTx(context.Background(), func(ctx context.Context) error {
		require.NotNil(t, client.TxFromContext(ctx))
		_, err := client.Writer(ctx).ExecContext(ctx, "UPDATE subscriptions SET status = 'ACTIVE'")
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollbackOnError(t *testing.T) {
	client, mock := newMockClient(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := client.WithTx(context.Background(), func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_Nested(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := client.WithTx(context.Background(), func(ctx context.Context) error {
		outer := client.TxFromContext(ctx)
		return client.WithTx(ctx, func(ctx context.Context) error {
			assert.Same(t, outer, client.TxFromContext(ctx))
			return nil
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_BeginFails(t *testing.T) {
	client, mock := newMockClient(t)
	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	err := client.WithTx(context.Background(), func(ctx context.Context) error { return nil })
	assert.True(t, ierr.IsDatabase(err))
}

func TestTryLockKey(t *testing.T) {
	client, mock := newMockClient(t)
	key := types.GenerateLockKey(types.LockScopePaymentRetryBatch, nil)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT pg_try_advisory_xact_lock\\(hashtext\\(\\$1\\)\\)").
		WithArgs(key).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_xact_lock"}).AddRow(false))
	mock.ExpectCommit()

	err := client.WithTx(context.Background(), func(ctx context.Context) error {
		ok, err := client.TryLockKey(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockKey_OutsideTransaction(t *testing.T) {
	client, _ := newMockClient(t)

	_, err := client.TryLockKey(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, client.LockKey(context.Background(), LockRequest{Key: "k"}))
}

func TestLockKey_Timeout(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout = 500").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs("sweep").WillReturnError(&pq.Error{Code: "55P03"})
	mock.ExpectRollback()

	err := client.WithTx(context.Background(), func(ctx context.Context) error {
		return client.LockKey(ctx, LockRequest{Key: "sweep", Timeout: lo.ToPtr(500 * time.Millisecond)})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "within 500ms")
	assert.NoError(t, mock.ExpectationsWereMet())
}
