package dsp

import (
	"sync"
)

// PlanCache hands out transform plans keyed by length. A pipeline resolves
// its window length per antenna, so plans are created lazily and pooled per
// length for reuse across worker goroutines.
type PlanCache struct {
	mu    sync.Mutex
	pools map[int]*sync.Pool
}

// NewPlanCache creates an empty cache.
func NewPlanCache() *PlanCache {
	return &PlanCache{pools: make(map[int]*sync.Pool)}
}

// Get returns a plan of length n, reusing a released one when available.
func (c *PlanCache) Get(n int) *Plan {
	return c.pool(n).Get().(*Plan)
}

// Put releases a plan for reuse.
func (c *PlanCache) Put(p *Plan) {
	if p == nil {
		return
	}
	c.pool(p.n).Put(p)
}

func (c *PlanCache) pool(n int) *sync.Pool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pools[n]
	if !ok {
		p = &sync.Pool{New: func() any { return NewPlan(n) }}
		c.pools[n] = p
	}
	return p
}
