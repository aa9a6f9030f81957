package invalidation

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Fetcher loads the current value for a key from the backend.
type Fetcher func(ctx context.Context, key Key) (any, error)

type entry struct {
	value     any
	fetchedAt time.Time
	stale     bool
}

// Cache is the minimal read-through cache the CRUD layer consumes. Get serves
// the cached value unless the key was invalidated; Invalidate only marks
// staleness, so applying the same signal twice leaves the cache in the same
// state as once.
type Cache struct {
	fetch Fetcher

	mu      sync.Mutex
	entries map[Key]*entry
}

func NewCache(fetch Fetcher) *Cache {
	return &Cache{fetch: fetch, entries: map[Key]*entry{}}
}

// Get returns the cached value for key, fetching on miss or staleness.
func (c *Cache) Get(ctx context.Context, key Key) (any, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && !e.stale {
		v := e.value
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	if c.fetch == nil {
		return nil, errors.New("cache: no fetcher configured")
	}
	v, err := c.fetch(ctx, key)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s", key)
	}
	c.mu.Lock()
	c.entries[key] = &entry{value: v, fetchedAt: time.Now()}
	c.mu.Unlock()
	return v, nil
}

// Peek returns the cached value without fetching.
func (c *Cache) Peek(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.stale {
		return nil, false
	}
	return e.value, true
}

// Invalidate marks the given keys stale. Unknown keys are a no-op.
func (c *Cache) Invalidate(keys ...Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if e, ok := c.entries[k]; ok {
			e.stale = true
		}
	}
}

// Run applies bus instructions until ctx is cancelled.
func (c *Cache) Run(ctx context.Context, bus *Bus) error {
	ch, err := bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case in, ok := <-ch:
			if !ok {
				return nil
			}
			c.Invalidate(in.Keys...)
			log.Debug().Str("component", "invalidation").Int("keys", len(in.Keys)).Msg("applied instruction")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
