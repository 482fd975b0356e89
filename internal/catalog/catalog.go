// Package catalog holds the process-wide record set. The set is loaded
// lazily on first use; concurrent callers share a single in-flight load.
package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"marketlens/internal/domain"
)

// Loader produces the full record set.
type Loader interface {
	Load(ctx context.Context) ([]domain.Record, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) ([]domain.Record, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context) ([]domain.Record, error) { return f(ctx) }

// State is the lifecycle of the record set.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

type load struct {
	done chan struct{}
	err  error
}

// Catalog caches the record set produced by a Loader.
type Catalog struct {
	loader Loader
	log    *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    State
	records  []domain.Record
	byID     map[int]int
	loadedAt time.Time
	inflight *load
}

// New creates an uninitialized Catalog.
func New(loader Loader, log *slog.Logger) *Catalog {
	return &Catalog{loader: loader, log: log, now: time.Now}
}

// Records returns the record set, loading it if necessary. Callers arriving
// while a load is running wait for that load. A failed load leaves the
// catalog uninitialized so the next call retries. The returned slice must
// not be modified.
//
// Cancelling ctx abandons the wait but not the load itself.
func (c *Catalog) Records(ctx context.Context) ([]domain.Record, error) {
	c.mu.Lock()
	if c.state == StateReady {
		recs := c.records
		c.mu.Unlock()
		return recs, nil
	}
	l := c.inflight
	if l == nil {
		l = &load{done: make(chan struct{})}
		c.inflight = l
		c.state = StateLoading
		go c.load(context.WithoutCancel(ctx), l)
	}
	c.mu.Unlock()

	select {
	case <-l.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if l.err != nil {
		return nil, l.err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.records, nil
}

func (c *Catalog) load(ctx context.Context, l *load) {
	start := c.now()
	recs, err := c.loader.Load(ctx)

	c.mu.Lock()
	if err != nil {
		c.state = StateUninitialized
		l.err = err
		c.log.Error("loading records failed", "error", err)
	} else {
		byID := make(map[int]int, len(recs))
		for i := range recs {
			byID[recs[i].ID] = i
		}
		c.records = recs
		c.byID = byID
		c.loadedAt = c.now()
		c.state = StateReady
		c.log.Info("records loaded", "count", len(recs), "elapsed", c.now().Sub(start))
	}
	c.inflight = nil
	c.mu.Unlock()
	close(l.done)
}

// Invalidate drops a ready record set so the next Records call reloads it.
// A load already in flight is unaffected.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return
	}
	c.state = StateUninitialized
	c.records = nil
	c.byID = nil
}

// Lookup returns the record with the given id from a ready record set. It
// never triggers a load.
func (c *Catalog) Lookup(id int) (*domain.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return &c.records[i], true
}

// State reports the current lifecycle state.
func (c *Catalog) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LoadedAt returns when the current record set finished loading, or the zero
// time when none is ready.
func (c *Catalog) LoadedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return time.Time{}
	}
	return c.loadedAt
}
