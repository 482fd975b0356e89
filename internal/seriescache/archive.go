package seriescache

import (
	"context"

	"marketlens/internal/domain"
)

// SeriesWriter persists resolved series outside the cache.
type SeriesWriter interface {
	WriteSeries(ctx context.Context, recordID int, iv domain.Interval, points []domain.SeriesPoint) error
}

// Archive writes every resolved series to w until ctx is done or the cache
// closes. Write failures are logged and do not stop archiving; events are
// dropped when w falls more than bufSize events behind.
func (c *Cache) Archive(ctx context.Context, w SeriesWriter, bufSize int) error {
	id, ch := c.Subscribe(bufSize)
	defer c.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if len(e.Data) == 0 {
				continue
			}
			if err := w.WriteSeries(ctx, e.RecordID, e.Interval, e.Data); err != nil {
				c.log.Warn("archiving series failed",
					"record", e.RecordID, "interval", e.Interval, "error", err)
				continue
			}
			c.log.Debug("archived series", "record", e.RecordID, "interval", e.Interval, "points", len(e.Data))
		}
	}
}
