package rules

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Lister is the read side of the store used for refreshes.
type Lister interface {
	ListAll(ctx context.Context) ([]Rule, error)
}

// Snapshot is an immutable view of the whole rule table.
// Version increases by one with every successful refresh.
type Snapshot struct {
	Version uint64
	Rules   []Rule
}

// Cache holds the current Snapshot. Reads are lock-free and never see a
// partially built table; refreshes are serialized.
type Cache struct {
	cur atomic.Pointer[Snapshot]
	sem *semaphore.Weighted
}

func NewCache() *Cache {
	c := &Cache{sem: semaphore.NewWeighted(1)}
	c.cur.Store(&Snapshot{Rules: []Rule{}})
	return c
}

// Read returns the current snapshot. Callers must not modify Rules.
func (c *Cache) Read() Snapshot {
	return *c.cur.Load()
}

// Refresh reloads the full table from src and installs it.
//
// Only one refresh runs at a time; a caller that cannot get its turn before
// ctx ends gets ErrCacheUnavailable. On any failure the previous snapshot
// stays in place.
func (c *Cache) Refresh(ctx context.Context, src Lister) (Snapshot, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return c.Read(), fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	defer c.sem.Release(1)

	all, err := src.ListAll(ctx)
	if err != nil {
		return c.Read(), err
	}
	if all == nil {
		all = []Rule{}
	}
	next := &Snapshot{Version: c.cur.Load().Version + 1, Rules: all}
	c.cur.Store(next)
	return *next, nil
}

// Match returns the rule in channel whose match expression equals trigger.
func (c *Cache) Match(channel, trigger string) (Rule, bool) {
	if trigger == "" {
		return Rule{}, false
	}
	for _, r := range c.cur.Load().Rules {
		if r.Channel == channel && r.MatchExpr == trigger {
			return r, true
		}
	}
	return Rule{}, false
}
