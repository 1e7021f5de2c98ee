package dispatch

import (
	"context"
	"sync"
	"time"

	"orderbot/internal/storage"
)

type dedupWrite struct {
	key   string
	until time.Time
}

// dedupCache suppresses repeats of a key for a window. Lookups are memory
// only; persisted keys are loaded once, when the dispatcher is built.
type dedupCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func newDedupCache() *dedupCache { return &dedupCache{entries: map[string]time.Time{}} }

// load seeds the cache with keys still suppressed in st.
func (c *dedupCache) load(ctx context.Context, st storage.Store, now time.Time, max int) (int, error) {
	live, err := st.LiveDedup(ctx, now, max)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, until := range live {
		if prev, ok := c.entries[k]; !ok || until.After(prev) {
			c.entries[k] = until
		}
	}
	c.pruneLocked(now, max)
	return len(live), nil
}

// reserve marks key for window and reports whether it was free.
func (c *dedupCache) reserve(key string, now time.Time, window time.Duration, max int) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if until, ok := c.entries[key]; ok && now.Before(until) {
		return until, false
	}
	until := now.Add(window)
	c.entries[key] = until
	c.pruneLocked(now, max)
	return until, true
}

// release undoes a reservation for a job that never entered the buffer.
func (c *dedupCache) release(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *dedupCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *dedupCache) pruneLocked(now time.Time, max int) {
	for k, until := range c.entries {
		if !now.Before(until) {
			delete(c.entries, k)
		}
	}
	// Evict earliest expiry first until within cap.
	for max > 0 && len(c.entries) > max {
		var (
			minKey string
			minT   time.Time
		)
		for k, t := range c.entries {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(c.entries, minKey)
	}
}

func persistLoop(ctx context.Context, ch <-chan dedupWrite, st storage.Store) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-ch:
			if !ok {
				return
			}
			cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			_ = st.PutDedup(cctx, w.key, w.until)
			cancel()
		}
	}
}
