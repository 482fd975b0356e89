package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketlens/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type gatedLoader struct {
	calls atomic.Int32
	gate  chan struct{}
	err   error
}

func (g *gatedLoader) Load(ctx context.Context) ([]domain.Record, error) {
	g.calls.Add(1)
	if g.gate != nil {
		<-g.gate
	}
	if g.err != nil {
		return nil, g.err
	}
	return []domain.Record{
		{ID: 4151, Name: "Abyssal whip"},
		{ID: 995, Name: "Coins"},
	}, nil
}

func TestConcurrentCallersShareOneLoad(t *testing.T) {
	loader := &gatedLoader{gate: make(chan struct{})}
	c := New(loader, discard())

	var wg sync.WaitGroup
	results := make([][]domain.Record, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recs, err := c.Records(context.Background())
			assert.NoError(t, err)
			results[i] = recs
		}()
	}

	require.Eventually(t, func() bool { return c.State() == StateLoading },
		time.Second, time.Millisecond)
	close(loader.gate)
	wg.Wait()

	assert.Equal(t, int32(1), loader.calls.Load())
	for _, recs := range results {
		assert.Len(t, recs, 2)
	}
	assert.Equal(t, StateReady, c.State())
	assert.False(t, c.LoadedAt().IsZero())

	// Ready: no further loads.
	_, err := c.Records(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), loader.calls.Load())
}

func TestFailedLoadResets(t *testing.T) {
	boom := errors.New("upstream down")
	loader := &gatedLoader{err: boom}
	c := New(loader, discard())

	_, err := c.Records(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateUninitialized, c.State())

	loader.err = nil
	recs, err := c.Records(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestCancelledCallerDoesNotCancelLoad(t *testing.T) {
	loader := &gatedLoader{gate: make(chan struct{})}
	c := New(loader, discard())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := c.Records(ctx)
		errc <- err
	}()
	require.Eventually(t, func() bool { return loader.calls.Load() == 1 },
		time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(loader.gate)
	require.Eventually(t, func() bool { return c.State() == StateReady },
		time.Second, time.Millisecond)
}

func TestLookupAndInvalidate(t *testing.T) {
	loader := &gatedLoader{}
	c := New(loader, discard())

	_, ok := c.Lookup(4151)
	assert.False(t, ok, "lookup before load")

	_, err := c.Records(context.Background())
	require.NoError(t, err)

	rec, ok := c.Lookup(4151)
	require.True(t, ok)
	assert.Equal(t, "Abyssal whip", rec.Name)
	_, ok = c.Lookup(1)
	assert.False(t, ok)

	c.Invalidate()
	assert.Equal(t, StateUninitialized, c.State())
	_, ok = c.Lookup(4151)
	assert.False(t, ok)

	_, err = c.Records(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.calls.Load())
}
