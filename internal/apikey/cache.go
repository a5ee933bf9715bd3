package apikey

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/faucetdb/turnstile/internal/model"
)

// CachedFinder memoizes credential lookups for a bounded time. Misses and
// errors are never cached, so a newly issued key is usable at once.
//
// Only mutations made through a Manager holding this cache are seen before
// an entry expires. Changes written to the store by another process (the CLI
// included) reach this process only after ttl.
type CachedFinder struct {
	next  CredentialFinder
	cache *lru.LRU[string, *model.APIKey]

	mu  sync.Mutex
	gen uint64 // bumped by every invalidation
}

// NewCachedFinder wraps next with an LRU of at most size entries, each
// living for ttl.
func NewCachedFinder(next CredentialFinder, size int, ttl time.Duration) *CachedFinder {
	if size <= 0 {
		size = 256
	}
	return &CachedFinder{
		next:  next,
		cache: lru.NewLRU[string, *model.APIKey](size, nil, ttl),
	}
}

// GetAPIKeyByKey implements CredentialFinder.
func (c *CachedFinder) GetAPIKeyByKey(ctx context.Context, key string) (*model.APIKey, error) {
	if cred, ok := c.cache.Get(key); ok {
		cp := *cred
		return &cp, nil
	}

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	cred, err := c.next.GetAPIKeyByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	// A read that raced an invalidation may hold the old row; serve it once
	// but do not cache it.
	c.mu.Lock()
	if c.gen == gen {
		cp := *cred
		c.cache.Add(key, &cp)
	}
	c.mu.Unlock()
	return cred, nil
}

// Invalidate drops the cached entry for key.
func (c *CachedFinder) Invalidate(key string) {
	c.mu.Lock()
	c.gen++
	c.cache.Remove(key)
	c.mu.Unlock()
}

// Purge drops every cached entry.
func (c *CachedFinder) Purge() {
	c.mu.Lock()
	c.gen++
	c.cache.Purge()
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *CachedFinder) Len() int {
	return c.cache.Len()
}
