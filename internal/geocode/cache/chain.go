package cache

import (
	"context"
	"errors"
)

// Chain checks tiers in order; the first hit wins and is copied into the
// tiers ahead of it. Writes go to every tier.
type Chain struct {
	tiers []Cache
}

func NewChain(tiers ...Cache) *Chain {
	list := make([]Cache, 0, len(tiers))
	for _, t := range tiers {
		if t != nil {
			list = append(list, t)
		}
	}
	return &Chain{tiers: list}
}

// Get returns the first hit. A failing tier is skipped and its error is
// returned alongside any hit from a later tier.
func (c *Chain) Get(ctx context.Context, key string) (Entry, bool, error) {
	var errs []error
	for i, tier := range c.tiers {
		e, ok, err := tier.Get(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		for _, earlier := range c.tiers[:i] {
			if _, err := earlier.Put(ctx, key, e); err != nil {
				errs = append(errs, err)
			}
		}
		return e, true, errors.Join(errs...)
	}
	return Entry{}, false, errors.Join(errs...)
}

// Put writes to all tiers and reports whether any tier accepted e.
func (c *Chain) Put(ctx context.Context, key string, e Entry) (bool, error) {
	var (
		stored bool
		errs   []error
	)
	for _, tier := range c.tiers {
		ok, err := tier.Put(ctx, key, e)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		stored = stored || ok
	}
	return stored, errors.Join(errs...)
}
