package cache

import (
	"github.com/flexprice/billing/internal/config"
	"github.com/flexprice/billing/internal/logger"
	redisClient "github.com/flexprice/billing/internal/redis"
)

type CacheType string

const (
	CacheTypeInMemory CacheType = "inmemory"
	CacheTypeRedis    CacheType = "redis"
)

// NewCache builds the configured cache. Redis needs a connected client and
// falls back to in-memory without one.
func NewCache(cfg *config.Configuration, log *logger.Logger, client *redisClient.Client) Cache {
	switch CacheType(cfg.Cache.Type) {
	case CacheTypeRedis:
		if client != nil {
			log.Infow("cache initialized", "type", CacheTypeRedis)
			return NewRedisCache(client, log)
		}
		log.Warnw("redis cache requested without a redis client, using in-memory cache")
	}

	log.Infow("cache initialized", "type", CacheTypeInMemory)
	return NewInMemoryCache()
}
