package catalogue

import (
	"context"
	"time"

	"github.com/flexprice/billing/internal/cache"
	"github.com/flexprice/billing/internal/domain/plan"
	"github.com/flexprice/billing/internal/logger"
	"github.com/flexprice/billing/internal/metrics"
)

// CachedCatalogue caches successful plan lookups. Misses and errors always
// reach the catalogue.
type CachedCatalogue struct {
	next    plan.Catalogue
	cache   cache.Cache
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *logger.Logger
}

func NewCachedCatalogue(next plan.Catalogue, c cache.Cache, ttl time.Duration, m *metrics.Metrics, log *logger.Logger) *CachedCatalogue {
	return &CachedCatalogue{next: next, cache: c, ttl: ttl, metrics: m, logger: log}
}

func (c *CachedCatalogue) GetPlanByID(ctx context.Context, planID string) (*plan.Plan, error) {
	key := cache.PlanKey(planID)
	if v, ok := c.cache.Get(ctx, key); ok {
		if p, ok := cache.UnmarshalCacheValue[plan.Plan](v); ok {
			c.observe("hit")
			cp := *p
			return &cp, nil
		}
		c.logger.Warnw("dropping unreadable cached plan", "plan_id", planID)
		c.cache.Delete(ctx, key)
	}

	c.observe("miss")
	p, err := c.next.GetPlanByID(ctx, planID)
	if err != nil {
		return nil, err
	}

	cp := *p
	c.cache.Set(ctx, key, &cp, c.ttl)
	return p, nil
}

// Invalidate drops one cached plan, or all of them when planID is empty.
func (c *CachedCatalogue) Invalidate(ctx context.Context, planID string) {
	if planID == "" {
		c.cache.DeleteByPrefix(ctx, cache.PrefixPlan)
		return
	}
	c.cache.Delete(ctx, cache.PlanKey(planID))
}

func (c *CachedCatalogue) observe(result string) {
	if c.metrics != nil {
		c.metrics.PlanCacheRequestsTotal.WithLabelValues(result).Inc()
	}
}
