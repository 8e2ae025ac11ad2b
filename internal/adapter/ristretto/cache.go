// Package ristretto implements the rule cache port using dgraph-io/ristretto
// as a bounded in-process cache.
package ristretto

import (
	"context"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache wraps a ristretto cache as a bounded memo of rule evaluations. Each
// entry costs 1, so MaxCost bounds the entry count.
type Cache struct {
	c *ristretto.Cache[string, bool]
}

// New creates a ristretto-backed rule cache holding at most maxEntries
// results.
func New(maxEntries int64) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, bool]{
		NumCounters: maxEntries * 10, // ~10x expected items
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

// Get retrieves a memoized evaluation result.
func (c *Cache) Get(_ context.Context, key string) (result bool, ok bool) {
	return c.c.Get(key)
}

// Set stores an evaluation result.
func (c *Cache) Set(_ context.Context, key string, result bool) {
	c.c.Set(key, result, 1)
}

// Invalidate drops all entries.
func (c *Cache) Invalidate(_ context.Context) {
	c.c.Clear()
}

// Close shuts down the cache and releases resources.
func (c *Cache) Close() {
	c.c.Close()
}
