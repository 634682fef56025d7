package testutil

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"

	"github.com/flexprice/billing/internal/postgres"
)

// MockPostgresClient satisfies postgres.IClient for services backed by the
// in-memory stores. Transactions run fn directly and rollbacks are not
// simulated, so tests that care about atomicity assert on the error only.
type MockPostgresClient struct {
	mu        sync.Mutex
	heldLocks map[string]bool
	txCount   atomic.Int64
}

func NewMockPostgresClient() *MockPostgresClient {
	return &MockPostgresClient{heldLocks: make(map[string]bool)}
}

func (c *MockPostgresClient) Writer(context.Context) postgres.DBTX { return nil }

func (c *MockPostgresClient) Reader(context.Context) postgres.DBTX { return nil }

func (c *MockPostgresClient) TxFromContext(context.Context) *sql.Tx { return nil }

func (c *MockPostgresClient) DB() *sql.DB { return nil }

func (c *MockPostgresClient) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	c.txCount.Add(1)
	return fn(ctx)
}

func (c *MockPostgresClient) LockKey(context.Context, postgres.LockRequest) error {
	return nil
}

// TryLockKey reports false while the key is held through HoldLock.
func (c *MockPostgresClient) TryLockKey(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.heldLocks[key], nil
}

// HoldLock simulates another replica holding the advisory lock on key.
func (c *MockPostgresClient) HoldLock(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heldLocks[key] = true
}

func (c *MockPostgresClient) ReleaseLock(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.heldLocks, key)
}

// TxCount returns how many transactions were started.
func (c *MockPostgresClient) TxCount() int64 {
	return c.txCount.Load()
}
