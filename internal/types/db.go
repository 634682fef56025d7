package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// LockScope represents the scope of a database advisory lock
type LockScope string

const (
	LockScopePaymentRetryBatch LockScope = "payment_retry_batch"
	LockScopeSweep             LockScope = "sweep"
	LockScopeSubscriptionOwner LockScope = "subscription_owner"
)

// LockRequest describes an advisory lock acquisition.
type LockRequest struct {
	Key     string
	Timeout *time.Duration
}

const defaultLockTimeout = 30 * time.Second

// GetTimeout returns the requested timeout, defaulting to 30 seconds.
func (r LockRequest) GetTimeout() time.Duration {
	if r.Timeout == nil {
		return defaultLockTimeout
	}
	return *r.Timeout
}

// GenerateLockKey builds a deterministic key in the form scope:k1=v1:k2=v2.
// Postgres hashtext() hashes it internally.
func GenerateLockKey(scope LockScope, params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(scope))
	for _, k := range keys {
		b.WriteString(fmt.Sprintf(":%s=%v", k, params[k]))
	}

	return b.String()
}
