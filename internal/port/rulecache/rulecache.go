// Package rulecache defines the bounded cache port for rule-evaluation
// results. Caching is an optimization only: a hit must be bit-for-bit
// equivalent to a fresh evaluation, so keys cover the expression and every
// context field it can read.
package rulecache

import "context"

// Cache is the port interface for memoizing rule evaluations.
type Cache interface {
	Get(ctx context.Context, key string) (result bool, ok bool)
	Set(ctx context.Context, key string, result bool)

	// Invalidate drops all entries; called on policy update and reload.
	Invalidate(ctx context.Context)
}
