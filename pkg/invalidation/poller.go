package invalidation

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Pending decides whether the resource is still in a pending/in-progress
// status and should keep being refetched.
type Pending func(value any) bool

// Poller is the correctness fallback for the push channel: it periodically
// invalidates and refetches a key while its value reports a pending status.
// Because invalidation is idempotent, overlapping with push signals is
// harmless.
type Poller struct {
	cache    *Cache
	key      Key
	interval time.Duration
	pending  Pending
}

func NewPoller(cache *Cache, key Key, interval time.Duration, pending Pending) *Poller {
	return &Poller{cache: cache, key: key, interval: interval, pending: pending}
}

// Run polls until ctx is cancelled or the resource leaves its pending status.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			v, ok := p.cache.Peek(p.key)
			if ok && !p.pending(v) {
				log.Debug().Str("component", "poller").Str("key", string(p.key)).Msg("resource settled, stopping")
				return nil
			}
			p.cache.Invalidate(p.key)
			if _, err := p.cache.Get(ctx, p.key); err != nil {
				// transient; the next tick retries
				log.Debug().Err(err).Str("component", "poller").Str("key", string(p.key)).Msg("refetch failed")
			}
		}
	}
}
