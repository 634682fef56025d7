package cache

import (
	"context"
	"errors"
	"time"

	"github.com/flexprice/billing/internal/logger"
	redisClient "github.com/flexprice/billing/internal/redis"
	"github.com/redis/go-redis/v9"
)

const (
	// DeleteRetryDelay is the wait before retrying a failed delete
	DeleteRetryDelay = 100 * time.Millisecond

	// ScanCount is how many keys one SCAN step returns
	ScanCount = 100
)

// RedisCache implements Cache on Redis. Non-string values are stored as
// JSON, so readers decode them with UnmarshalCacheValue.
type RedisCache struct {
	client *redis.Client
	log    *logger.Logger
}

func NewRedisCache(client *redisClient.Client, log *logger.Logger) *RedisCache {
	return &RedisCache{
		client: client.GetClient(),
		log:    log,
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) (interface{}, bool) {
	span := StartCacheSpan(ctx, "redis", "get", map[string]interface{}{"key": key})
	defer FinishSpan(span)

	value, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Errorw("redis GET error", "key", key, "error", err)
			SetSpanError(span, err)
		}
		return nil, false
	}

	SetSpanSuccess(span)
	return value, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) {
	if expiration == 0 {
		expiration = ExpiryDefaultRedis
	}

	var strValue string
	switch v := value.(type) {
	case string:
		strValue = v
	default:
		b, err := json.Marshal(value)
		if err != nil {
			c.log.Errorw("failed to marshal cache value", "key", key, "error", err)
			return
		}
		strValue = string(b)
	}

	if err := c.client.Set(ctx, key, strValue, expiration).Err(); err != nil {
		c.log.Errorw("redis SET error", "key", key, "error", err)
	}
}

// Delete removes key, retrying once on a fresh context.
func (c *RedisCache) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.log.Warnw("redis DEL failed, retrying", "key", key, "error", err)

		retryCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		time.Sleep(DeleteRetryDelay)

		if retryErr := c.client.Del(retryCtx, key).Err(); retryErr != nil {
			c.log.Errorw("redis DEL retry failed", "key", key, "error", retryErr)
		}
	}
}

func (c *RedisCache) DeleteByPrefix(ctx context.Context, prefix string) {
	iter := c.client.Scan(ctx, 0, prefix+"*", ScanCount).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())

		if len(keys) >= 1000 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.log.Errorw("redis DEL batch error", "prefix", prefix, "error", err)
			}
			keys = keys[:0]
		}
	}

	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			c.log.Errorw("redis DEL batch error", "prefix", prefix, "error", err)
		}
	}

	if err := iter.Err(); err != nil {
		c.log.Errorw("redis SCAN error", "prefix", prefix, "error", err)
	}
}

func (c *RedisCache) Flush(ctx context.Context) {
	if err := c.client.FlushDB(ctx).Err(); err != nil {
		c.log.Errorw("redis FLUSHDB error", "error", err)
	}
}
