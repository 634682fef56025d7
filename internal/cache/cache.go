package cache

import (
	"context"
	"time"
)

// Cache is the lookaside cache in front of the catalogue service.
type Cache interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) (interface{}, bool)
	// Set stores value for expiration, using the backend default when zero.
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration)
	Delete(ctx context.Context, key string)
	DeleteByPrefix(ctx context.Context, prefix string)
	Flush(ctx context.Context)
}

// Default expirations when Set is called with zero. Plans change rarely
// and renewals tolerate a few minutes of staleness.
const (
	ExpiryDefaultInMemory = 30 * time.Minute
	ExpiryDefaultRedis    = 5 * time.Minute
)

// Key prefixes
const (
	PrefixPlan = "plan:v1:"
)

func PlanKey(planID string) string {
	return PrefixPlan + planID
}
