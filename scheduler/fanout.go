package scheduler

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// FanOut runs fn(item) for every item concurrently (bounded by limit,
// 0 meaning unbounded), returning the first error encountered and
// cancelling the remaining calls' context. Used for per-peer offline
// bucket polling (C4) and per-member group-offline bucket fetches
// (C6), where the caller wants a "best effort, but report the first
// hard failure" fan-out rather than a full errgroup of independent
// outcomes.
func FanOut[T any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, item T) error) error {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, item := range items {
		item := item
		g.Go(func() error {
			return fn(gctx, item)
		})
	}
	return g.Wait()
}

// Collapser deduplicates concurrent fetches of the same key (a DHT
// bucket address) into a single in-flight call, so a burst of
// requests for a peer's offline store during a UI refresh doesn't
// fan out into redundant DHT round trips.
type Collapser struct {
	group singleflight.Group
}

// NewCollapser creates an empty Collapser.
func NewCollapser() *Collapser {
	return &Collapser{}
}

// Do runs fn for key, sharing the result with any concurrent callers
// using the same key.
func (c *Collapser) Do(key string, fn func() (interface{}, error)) (interface{}, error, bool) {
	return c.group.Do(key, fn)
}

// Forget drops any cached in-flight call for key, so the next Do call
// starts a fresh fetch rather than joining a stale one.
func (c *Collapser) Forget(key string) {
	c.group.Forget(key)
}
