package p2p

import (
	"time"

	cache "github.com/patrickmn/go-cache"
)

// SeenCache remembers hashes for a while so the same block or transaction
// announcement is only processed once. Entries expire on their own, a hash
// can be announced again after the window passes.
type SeenCache struct {
	c *cache.Cache
}

// NewSeenCache constructs a cache that forgets hashes after the ttl.
func NewSeenCache(ttl time.Duration) *SeenCache {
	return &SeenCache{
		c: cache.New(ttl, 2*ttl),
	}
}

// Seen marks the hash and reports whether it was already known.
func (sc *SeenCache) Seen(hash string) bool {
	if _, found := sc.c.Get(hash); found {
		return true
	}

	sc.c.SetDefault(hash, struct{}{})
	return false
}

// Forget drops the hash so a future announcement is processed again.
func (sc *SeenCache) Forget(hash string) {
	sc.c.Delete(hash)
}
