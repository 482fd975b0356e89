package seriescache

import (
	"context"
	"fmt"
	"sort"
	"time"

	"marketlens/internal/domain"
	"marketlens/internal/store"
)

// scheduleLocked arms the flush timer when keys are queued, no flush is
// already scheduled and the fetch pool has a free slot. Fetches in progress
// do not hold back the next flush; a settling fetch reschedules if the pool
// was full.
func (c *Cache) scheduleLocked() {
	if c.timer != nil || c.closed || len(c.queue) == 0 || c.running >= c.opts.BatchSize {
		return
	}
	c.timer = time.AfterFunc(c.opts.BatchWindow, c.flush)
}

// flush starts fetches for the highest-priority queued keys, filling the free
// slots of the fetch pool. Keys left in the queue are picked up by the next
// flush.
func (c *Cache) flush() {
	c.mu.Lock()
	c.timer = nil
	if c.closed {
		c.mu.Unlock()
		return
	}
	batch := c.takeBatchLocked(c.opts.BatchSize - c.running)
	if len(batch) == 0 {
		c.mu.Unlock()
		return
	}
	c.running += len(batch)
	c.counters.Flushes++
	remaining := len(c.queue)
	c.scheduleLocked()
	c.mu.Unlock()

	c.log.Debug("flushing series batch", "keys", len(batch), "remaining", remaining)

	for _, p := range batch {
		c.pool.Go(func() error {
			c.fetchOne(p)
			return nil
		})
	}
}

// takeBatchLocked removes up to n keys from the queue and marks them in
// flight. Higher priority first; equal priorities in queue order.
func (c *Cache) takeBatchLocked(n int) []*pending {
	if n <= 0 {
		return nil
	}
	cands := make([]*pending, 0, len(c.queue))
	for _, p := range c.queue {
		cands = append(cands, p)
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].priority != cands[j].priority {
			return cands[i].priority > cands[j].priority
		}
		return cands[i].seq < cands[j].seq
	})

	batch := cands[:min(len(cands), n)]
	for _, p := range batch {
		delete(c.queue, p.key)
		c.inflight[p.key] = p
	}
	return batch
}

// fetchOne resolves a single key: network fetch, durable write, memory
// write, then waiters and subscribers. Any failure rejects only this key's
// waiters and leaves the key uncached.
func (c *Cache) fetchOne(p *pending) {
	key := p.key
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.FetchTimeout)
	defer cancel()

	data, err := c.fetcher.Fetch(ctx, key.RecordID, key.Interval)
	if err != nil {
		err = fmt.Errorf("fetching series %d/%s: %w", key.RecordID, key.Interval, err)
	}
	if data == nil {
		data = []domain.SeriesPoint{}
	}

	now := c.opts.Now()
	e := entry{data: data, fetchedAt: now, expiresAt: now.Add(c.opts.TTL)}
	if err == nil && c.kv != nil {
		err = store.SetJSON(ctx, c.kv, key.StorageKey(), durableEntry{
			Data:      e.data,
			FetchedAt: e.fetchedAt.UnixMilli(),
			ExpiresAt: e.expiresAt.UnixMilli(),
		})
		if err != nil {
			err = fmt.Errorf("persisting series %d/%s: %w", key.RecordID, key.Interval, err)
		}
	}

	c.mu.Lock()
	if c.inflight[key] == p {
		delete(c.inflight, key)
	}
	c.running--
	c.scheduleLocked()
	waiters := p.waiters
	p.waiters = nil
	c.counters.Fetches++
	if err != nil {
		c.counters.Failures++
	} else {
		c.mem[key] = e
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("series fetch failed",
			"record", key.RecordID, "interval", key.Interval, "waiters", len(waiters), "error", err)
		settle(waiters, result{err: err})
		return
	}

	settle(waiters, result{data: data})
	c.bus.publish(Event{RecordID: key.RecordID, Interval: key.Interval, Data: data})
}
