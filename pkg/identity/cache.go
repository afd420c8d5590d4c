package identity

import (
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// resolveCache caches resolved identities per opaque token for up to
// min(30s, remaining token lifetime), so an entry never outlives the token's
// own expires_at. Resolve returns a hit without consulting storage again;
// Revoke removes the token's entry.
type resolveCache struct {
	cache  *gocache.Cache
	hits   atomic.Int64
	misses atomic.Int64
}

const maxCacheTTL = 30 * time.Second

func newResolveCache() *resolveCache {
	return &resolveCache{cache: gocache.New(maxCacheTTL, 2*maxCacheTTL)}
}

func cacheTTL(remaining time.Duration) time.Duration {
	if remaining < maxCacheTTL {
		if remaining <= 0 {
			return 0
		}
		return remaining
	}
	return maxCacheTTL
}

func (c *resolveCache) get(token string) (Identity, bool) {
	v, ok := c.cache.Get(token)
	if !ok {
		c.misses.Add(1)
		return Identity{}, false
	}
	c.hits.Add(1)
	return v.(Identity), true
}

func (c *resolveCache) set(token string, identity Identity, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.cache.Set(token, identity, ttl)
}

func (c *resolveCache) invalidate(token string) {
	c.cache.Delete(token)
}

// HitRatio reports the cumulative cache hit ratio for C9, 0 when no lookups
// have happened yet.
func (c *resolveCache) HitRatio() float64 {
	hits, misses := c.hits.Load(), c.misses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
