package price

import (
	"context"
	"errors"
	"sync"
	"time"

	logx "pricebot/pkg/logx"
)

// ErrUnavailable is returned when no fresh snapshot exists and the refresh
// this call joined did not produce one.
var ErrUnavailable = errors.New("price data unavailable")

// Fetcher is the upstream used by the cache. *Source implements it.
type Fetcher interface {
	FetchBest(ctx context.Context) (map[string]float64, error)
}

// Snapshot is an immutable price capture. Values is never empty and never
// mutated in place; refreshes replace the whole snapshot.
type Snapshot struct {
	Values    map[string]float64
	FetchedAt time.Time
}

// Cache holds at most one snapshot behind a freshness window.
//
// Fast path: a read lock and a staleness check. Slow path: one refresh
// mutex scoped to the whole cache, with the staleness re-checked after
// acquiring it. A burst of callers that all observe a stale snapshot
// triggers exactly one upstream fetch, and the rest read its result.
type Cache struct {
	fetcher   Fetcher
	freshness time.Duration
	log       logx.Logger
	now       func() time.Time

	mu        sync.RWMutex // guards snap
	refreshMu sync.Mutex   // serializes upstream fetches
	snap      *Snapshot
}

func NewCache(fetcher Fetcher, freshness time.Duration, log logx.Logger) *Cache {
	if freshness <= 0 {
		freshness = 60 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cache{fetcher: fetcher, freshness: freshness, log: log, now: time.Now}
}

// Get returns the current price mapping, refreshing if the snapshot is
// older than the freshness window. On refresh failure the previous
// snapshot is kept for the next attempt but NOT served: a stale cycle
// reports ErrUnavailable rather than silently aging data forever.
func (c *Cache) Get(ctx context.Context) (map[string]float64, error) {
	if s := c.freshSnapshot(); s != nil {
		return s.Values, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Re-check: a concurrent caller may have refreshed while this one was
	// waiting on the lock.
	if s := c.freshSnapshot(); s != nil {
		return s.Values, nil
	}

	values, err := c.fetcher.FetchBest(ctx)
	if err != nil {
		c.log.Warn("price refresh failed", logx.Err(err))
		return nil, ErrUnavailable
	}
	if len(values) == 0 {
		return nil, ErrUnavailable
	}
	snap := &Snapshot{Values: values, FetchedAt: c.now()}
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	return values, nil
}

// Refresh runs the same refresh path as Get, for the background warm tick.
// An unavailable cycle means "no update this tick", not a fault.
func (c *Cache) Refresh(ctx context.Context) {
	_, _ = c.Get(ctx)
}

// Current returns the latest snapshot regardless of freshness, for
// diagnostics only.
func (c *Cache) Current() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return Snapshot{}, false
	}
	return *c.snap, true
}

func (c *Cache) freshSnapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap != nil && c.now().Sub(c.snap.FetchedAt) < c.freshness {
		return c.snap
	}
	return nil
}
