package calllog

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 512

// CachedStore fronts a Store with an LRU cache for Get. Records never change
// after they are written, so entries are only invalidated by Prune.
type CachedStore struct {
	Store
	cache *lru.Cache[string, Record]
}

// NewCachedStore wraps store with a cache of size entries (default 512).
func NewCachedStore(store Store, size int) (*CachedStore, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, Record](size)
	if err != nil {
		return nil, fmt.Errorf("calllog: create cache: %w", err)
	}
	return &CachedStore{Store: store, cache: cache}, nil
}

// Append writes through to the underlying store and caches the record.
func (c *CachedStore) Append(ctx context.Context, rec Record) error {
	if err := c.Store.Append(ctx, rec); err != nil {
		return err
	}
	c.cache.Add(rec.CallID, rec)
	return nil
}

// Get serves from the cache when possible.
func (c *CachedStore) Get(ctx context.Context, callID string) (Record, error) {
	if rec, ok := c.cache.Get(callID); ok {
		return rec, nil
	}
	rec, err := c.Store.Get(ctx, callID)
	if err != nil {
		return Record{}, err
	}
	c.cache.Add(callID, rec)
	return rec, nil
}

// Prune deletes from the underlying store and drops every cached entry.
func (c *CachedStore) Prune(ctx context.Context, policy PrunePolicy) (int, error) {
	n, err := c.Store.Prune(ctx, policy)
	c.cache.Purge()
	return n, err
}

// Len returns the number of cached records.
func (c *CachedStore) Len() int {
	return c.cache.Len()
}

var _ Store = (*CachedStore)(nil)
