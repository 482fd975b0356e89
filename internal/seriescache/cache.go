// Package seriescache is a three-tier cache (memory, durable KV, network)
// for historical price series keyed by record id and interval.
//
// Requests for keys that are not cached are queued and flushed in batches
// after a short window. Callers asking for the same key before it is fetched
// share one fetch. A batch is capped; overflow waits for the next flush so
// the upstream never sees more than BatchSize concurrent fetches from here.
// Resolved series are broadcast to subscribers.
package seriescache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"marketlens/internal/domain"
	"marketlens/internal/store"
)

// Defaults for Options fields left zero.
const (
	DefaultTTL           = 5 * time.Minute
	DefaultBatchWindow   = 50 * time.Millisecond
	DefaultBatchSize     = 20
	DefaultCleanupEvery  = time.Hour
	DefaultSweepInterval = time.Minute
	DefaultFetchTimeout  = 30 * time.Second

	// RefreshBoost is added to the priority of a refresh request.
	RefreshBoost = 100
)

// ErrClosed is returned to callers still waiting when the cache is closed.
var ErrClosed = errors.New("series cache closed")

// Fetcher loads a series from the network tier.
type Fetcher interface {
	Fetch(ctx context.Context, recordID int, iv domain.Interval) ([]domain.SeriesPoint, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, recordID int, iv domain.Interval) ([]domain.SeriesPoint, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, recordID int, iv domain.Interval) ([]domain.SeriesPoint, error) {
	return f(ctx, recordID, iv)
}

// Options tunes a Cache. Zero values select the defaults.
type Options struct {
	TTL           time.Duration
	BatchWindow   time.Duration
	BatchSize     int
	CleanupEvery  time.Duration
	SweepInterval time.Duration
	FetchTimeout  time.Duration

	// Now is the clock used for expiry. Defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.BatchWindow <= 0 {
		o.BatchWindow = DefaultBatchWindow
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.CleanupEvery <= 0 {
		o.CleanupEvery = DefaultCleanupEvery
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = DefaultFetchTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Key identifies one cached series.
type Key struct {
	RecordID int
	Interval domain.Interval
}

// StorageKey returns the durable-tier key for k.
func (k Key) StorageKey() string {
	return fmt.Sprintf("%s%d:%s", seriesPrefix, k.RecordID, k.Interval)
}

const (
	seriesPrefix = "series:"
	cleanupKey   = "meta:series-last-cleanup"
)

type entry struct {
	data      []domain.SeriesPoint
	fetchedAt time.Time
	expiresAt time.Time
}

// durableEntry is the JSON shape of an entry in the durable tier.
type durableEntry struct {
	Data      []domain.SeriesPoint `json:"data"`
	FetchedAt int64                `json:"fetchedAt"` // Unix ms
	ExpiresAt int64                `json:"expiresAt"` // Unix ms
}

type result struct {
	data []domain.SeriesPoint
	err  error
}

// pending is one queued or in-flight key with every caller waiting on it.
type pending struct {
	key      Key
	priority int
	seq      uint64
	refresh  bool
	waiters  []chan result
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	MemoryHits  int64 `json:"memoryHits"`
	DurableHits int64 `json:"durableHits"`
	Fetches     int64 `json:"fetches"`
	Failures    int64 `json:"failures"`
	Flushes     int64 `json:"flushes"`
	Entries     int   `json:"entries"`
	Queued      int   `json:"queued"`
	InFlight    int   `json:"inFlight"`
	Subscribers int   `json:"subscribers"`
}

// Cache is the timeseries cache. All methods are safe for concurrent use.
type Cache struct {
	fetcher Fetcher
	kv      store.KV // nil disables the durable tier
	opts    Options
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	mem      map[Key]entry
	queue    map[Key]*pending
	inflight map[Key]*pending
	timer    *time.Timer
	running  int // fetches started and not yet settled
	closed   bool
	seq      uint64
	counters Stats

	pool errgroup.Group
	bus  bus
}

// New creates a Cache. kv may be nil to run without a durable tier.
func New(fetcher Fetcher, kv store.KV, opts Options, log *slog.Logger) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		fetcher:  fetcher,
		kv:       kv,
		opts:     opts.withDefaults(),
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		mem:      make(map[Key]entry),
		queue:    make(map[Key]*pending),
		inflight: make(map[Key]*pending),
		bus:      bus{subs: make(map[int]subscription)},
	}
	c.pool.SetLimit(c.opts.BatchSize)
	return c
}

func mustValid(iv domain.Interval) {
	if !iv.Valid() {
		panic(fmt.Errorf("%w: %q", domain.ErrInvalidInterval, iv))
	}
}

// Request returns the series for (recordID, iv), fetching it if needed.
// It blocks until the key is resolved or ctx is done; cancelling ctx only
// withdraws this caller's interest, the fetch itself proceeds. The returned
// slice is shared and must not be modified. Panics if iv is not a valid
// interval.
func (c *Cache) Request(ctx context.Context, recordID int, iv domain.Interval, priority int) ([]domain.SeriesPoint, error) {
	mustValid(iv)
	return c.await(ctx, Key{recordID, iv}, priority, false)
}

// Refresh evicts the memory entry for (recordID, iv) and requests it again
// at priority+RefreshBoost. It bypasses the durable tier and any fetch
// already in flight; whichever fetch resolves last wins.
func (c *Cache) Refresh(ctx context.Context, recordID int, iv domain.Interval, priority int) ([]domain.SeriesPoint, error) {
	mustValid(iv)
	key := Key{recordID, iv}
	c.mu.Lock()
	delete(c.mem, key)
	c.mu.Unlock()
	return c.await(ctx, key, priority+RefreshBoost, true)
}

// Prefetch queues (recordID, iv) for fetching unless it is already cached.
// It never blocks.
func (c *Cache) Prefetch(recordID int, iv domain.Interval, priority int) {
	mustValid(iv)
	key := Key{recordID, iv}
	c.mu.Lock()
	_, fresh := c.freshLocked(key)
	c.mu.Unlock()
	if fresh {
		return
	}
	go c.lookup(key, priority, false, false)
}

// GetSync returns the series for (recordID, iv) from memory only. It never
// triggers a fetch.
func (c *Cache) GetSync(recordID int, iv domain.Interval) ([]domain.SeriesPoint, bool) {
	mustValid(iv)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freshLocked(Key{recordID, iv})
}

// Clear drops every memory entry and every durable series entry. Queued and
// in-flight fetches are unaffected.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.mem = make(map[Key]entry)
	c.mu.Unlock()

	if c.kv == nil {
		return nil
	}
	keys, err := c.kv.Keys(ctx, seriesPrefix)
	if err != nil {
		return fmt.Errorf("listing durable series: %w", err)
	}
	for _, k := range keys {
		if err := c.kv.Delete(ctx, k); err != nil {
			return fmt.Errorf("clearing durable series: %w", err)
		}
	}
	return nil
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	s := c.counters
	s.Entries = len(c.mem)
	s.Queued = len(c.queue)
	s.InFlight = len(c.inflight)
	c.mu.Unlock()
	s.Subscribers = c.bus.len()
	return s
}

// Close stops scheduled flushes, rejects queued callers with ErrClosed and
// cancels in-flight fetches. Subscriptions are closed.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	queued := c.queue
	c.queue = make(map[Key]*pending)
	c.mu.Unlock()

	c.cancel()
	for _, p := range queued {
		settle(p.waiters, result{err: ErrClosed})
	}
	c.bus.closeAll()
}

func (c *Cache) await(ctx context.Context, key Key, priority int, refresh bool) ([]domain.SeriesPoint, error) {
	data, hit, wait := c.lookup(key, priority, refresh, true)
	if hit {
		return data, nil
	}
	select {
	case r := <-wait:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// lookup walks the tiers for key. On a miss it joins an in-flight fetch or
// queues the key, returning a channel that receives the outcome when
// withWaiter is set.
func (c *Cache) lookup(key Key, priority int, refresh, withWaiter bool) ([]domain.SeriesPoint, bool, <-chan result) {
	c.mu.Lock()
	if data, ok := c.freshLocked(key); ok {
		c.counters.MemoryHits++
		c.mu.Unlock()
		return data, true, nil
	}
	c.mu.Unlock()

	if !refresh && c.kv != nil {
		if data, ok := c.loadDurable(key); ok {
			return data, true, nil
		}
	}

	var ch chan result
	if withWaiter {
		ch = make(chan result, 1)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if data, ok := c.freshLocked(key); ok {
		c.counters.MemoryHits++
		return data, true, nil
	}
	if c.closed {
		if ch != nil {
			ch <- result{err: ErrClosed}
		}
		return nil, false, ch
	}
	if p, ok := c.inflight[key]; ok && !refresh {
		p.addWaiter(ch)
		return nil, false, ch
	}

	p, ok := c.queue[key]
	if !ok {
		c.seq++
		p = &pending{key: key, seq: c.seq}
		c.queue[key] = p
	}
	p.priority = priority
	p.refresh = p.refresh || refresh
	p.addWaiter(ch)
	c.scheduleLocked()
	return nil, false, ch
}

func (p *pending) addWaiter(ch chan result) {
	if ch != nil {
		p.waiters = append(p.waiters, ch)
	}
}

// freshLocked returns the memory entry for key if it has not expired.
func (c *Cache) freshLocked(key Key) ([]domain.SeriesPoint, bool) {
	e, ok := c.mem[key]
	if !ok || !c.opts.Now().Before(e.expiresAt) {
		return nil, false
	}
	return e.data, true
}

// loadDurable reads key from the durable tier and promotes an unexpired
// entry into memory.
func (c *Cache) loadDurable(key Key) ([]domain.SeriesPoint, bool) {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.FetchTimeout)
	defer cancel()

	de, ok, err := store.GetJSON[durableEntry](ctx, c.kv, key.StorageKey())
	if err != nil {
		c.log.Warn("reading durable series", "key", key.StorageKey(), "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	e := entry{
		data:      de.Data,
		fetchedAt: time.UnixMilli(de.FetchedAt),
		expiresAt: time.UnixMilli(de.ExpiresAt),
	}
	if e.data == nil {
		e.data = []domain.SeriesPoint{}
	}
	if !c.opts.Now().Before(e.expiresAt) {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.mem[key]; ok && !cur.fetchedAt.Before(e.fetchedAt) && c.opts.Now().Before(cur.expiresAt) {
		return cur.data, true
	}
	c.mem[key] = e
	c.counters.DurableHits++
	return e.data, true
}

func settle(waiters []chan result, r result) {
	for _, ch := range waiters {
		ch <- r
	}
}
