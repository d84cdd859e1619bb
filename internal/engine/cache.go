package engine

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/deduce/internal/compiler"
	"github.com/roach88/deduce/internal/metrics"
)

// DefaultPlanCacheSize is the number of compiled plans kept per DB.
const DefaultPlanCacheSize = 256

// planCache keeps compiled plans keyed by program hash and catalog epoch.
// A catalog change moves the epoch, so plans built against an older
// catalog are never returned.
type planCache struct {
	plans *lru.Cache[string, *compiler.Plan]
}

// newPlanCache returns a cache holding up to size plans. size <= 0
// disables caching.
func newPlanCache(size int) (*planCache, error) {
	if size <= 0 {
		return &planCache{}, nil
	}
	plans, err := lru.New[string, *compiler.Plan](size)
	if err != nil {
		return nil, fmt.Errorf("plan cache: %w", err)
	}
	return &planCache{plans: plans}, nil
}

func planKey(hash string, catalogEpoch int64) string {
	return fmt.Sprintf("%s@%d", hash, catalogEpoch)
}

func (c *planCache) get(hash string, catalogEpoch int64) (*compiler.Plan, bool) {
	if c.plans == nil {
		return nil, false
	}
	p, ok := c.plans.Get(planKey(hash, catalogEpoch))
	if ok {
		metrics.PlanCache.WithLabelValues("hit").Inc()
	} else {
		metrics.PlanCache.WithLabelValues("miss").Inc()
	}
	return p, ok
}

func (c *planCache) add(hash string, catalogEpoch int64, p *compiler.Plan) {
	if c.plans == nil {
		return
	}
	c.plans.Add(planKey(hash, catalogEpoch), p)
}

func (c *planCache) len() int {
	if c.plans == nil {
		return 0
	}
	return c.plans.Len()
}
