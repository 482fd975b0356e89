package seriescache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketlens/internal/store"
)

// Sweep drops expired memory entries. At most once per CleanupEvery, tracked
// by a timestamp persisted in the durable tier, it also purges expired
// durable entries. It returns the number of durable entries purged.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	now := c.opts.Now()

	c.mu.Lock()
	for k, e := range c.mem {
		if !now.Before(e.expiresAt) {
			delete(c.mem, k)
		}
	}
	c.mu.Unlock()

	if c.kv == nil {
		return 0, nil
	}

	last, ok, err := store.GetJSON[int64](ctx, c.kv, cleanupKey)
	if err != nil {
		c.log.Warn("reading last cleanup time", "error", err)
	}
	if ok && now.Sub(time.UnixMilli(last)) < c.opts.CleanupEvery {
		return 0, nil
	}

	keys, err := c.kv.Keys(ctx, seriesPrefix)
	if err != nil {
		return 0, fmt.Errorf("listing durable series: %w", err)
	}
	purged, scanned, skipped := 0, 0, 0
	for _, k := range keys {
		scanned++
		de, ok, err := store.GetJSON[durableEntry](ctx, c.kv, k)
		switch {
		case err != nil && !errors.Is(err, store.ErrDecode):
			// Read failure: the entry may still be live.
			c.log.Warn("reading durable series during sweep", "key", k, "error", err)
			skipped++
			continue
		case err == nil && !ok:
			continue
		case err == nil && now.Before(time.UnixMilli(de.ExpiresAt)):
			continue
		}
		// Expired or undecodable.
		if err := c.kv.Delete(ctx, k); err != nil {
			return purged, fmt.Errorf("purging %s: %w", k, err)
		}
		purged++
	}

	if err := store.SetJSON(ctx, c.kv, cleanupKey, now.UnixMilli()); err != nil {
		return purged, fmt.Errorf("recording cleanup time: %w", err)
	}
	c.log.Info("purged expired durable series", "purged", purged, "scanned", scanned, "skipped", skipped)
	return purged, nil
}

// Run sweeps immediately and then every SweepInterval until ctx is done.
func (c *Cache) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()

	for {
		if _, err := c.Sweep(ctx); err != nil {
			c.log.Warn("series cache sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
