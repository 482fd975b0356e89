package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/parquet-go/parquet-go"

	"marketlens/internal/domain"
)

// ParquetArchive keeps every resolved series on disk, one file per record
// and interval, merged by timestamp across writes.
type ParquetArchive struct {
	DataDir string

	mu sync.Mutex
}

// NewParquetArchive creates an archive rooted at the given data directory.
func NewParquetArchive(dataDir string) *ParquetArchive {
	return &ParquetArchive{DataDir: dataDir}
}

// SeriesRecord is the Parquet schema for one series point. Timestamps are
// Unix seconds; missing prices are null.
type SeriesRecord struct {
	Timestamp       int64    `parquet:"timestamp"`
	AvgHighPrice    *float64 `parquet:"avg_high_price,optional"`
	AvgLowPrice     *float64 `parquet:"avg_low_price,optional"`
	HighPriceVolume int64    `parquet:"high_price_volume"`
	LowPriceVolume  int64    `parquet:"low_price_volume"`
}

// WriteSeries merges points into the archive file for (recordID, iv).
// Incoming points replace archived points with the same timestamp.
func (a *ParquetArchive) WriteSeries(_ context.Context, recordID int, iv domain.Interval, points []domain.SeriesPoint) error {
	if len(points) == 0 {
		return nil
	}
	incoming := make([]SeriesRecord, len(points))
	for i, p := range points {
		incoming[i] = SeriesRecord{
			Timestamp:       p.Timestamp,
			AvgHighPrice:    p.AvgHighPrice,
			AvgLowPrice:     p.AvgLowPrice,
			HighPriceVolume: p.HighPriceVolume,
			LowPriceVolume:  p.LowPriceVolume,
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	path := a.seriesPath(recordID, iv)
	existing, _ := readParquetFile[SeriesRecord](path)
	merged := mergeSeriesRecords(existing, incoming)
	if err := writeParquetFile(path, merged); err != nil {
		return fmt.Errorf("writing series %d/%s: %w", recordID, iv, err)
	}
	return nil
}

// ReadSeries returns the archived series for (recordID, iv) ordered by
// timestamp, or ErrNotFound if nothing was archived.
func (a *ParquetArchive) ReadSeries(_ context.Context, recordID int, iv domain.Interval) ([]domain.SeriesPoint, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	path := a.seriesPath(recordID, iv)
	records, err := readParquetFile[SeriesRecord](path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("series %d/%s: %w", recordID, iv, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading series %d/%s: %w", recordID, iv, err)
	}

	points := make([]domain.SeriesPoint, len(records))
	for i, r := range records {
		points[i] = domain.SeriesPoint{
			Timestamp:       r.Timestamp,
			AvgHighPrice:    r.AvgHighPrice,
			AvgLowPrice:     r.AvgLowPrice,
			HighPriceVolume: r.HighPriceVolume,
			LowPriceVolume:  r.LowPriceVolume,
		}
	}
	return points, nil
}

// ListRecords returns the ids of all records archived for iv, ascending.
func (a *ParquetArchive) ListRecords(_ context.Context, iv domain.Interval) ([]int, error) {
	dir := filepath.Join(a.DataDir, "series", string(iv))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var ids []int
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".parquet")
		if e.IsDir() || !ok {
			continue
		}
		if id, err := strconv.Atoi(name); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

// seriesPath returns the filesystem path for a series Parquet file.
// Layout: <dataDir>/series/<interval>/<id>.parquet
func (a *ParquetArchive) seriesPath(recordID int, iv domain.Interval) string {
	return filepath.Join(a.DataDir, "series", string(iv), strconv.Itoa(recordID)+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return parquet.ReadFile[T](path)
}

// mergeSeriesRecords deduplicates records by timestamp, preferring incoming
// records over existing ones. Results are sorted by timestamp.
func mergeSeriesRecords(existing, incoming []SeriesRecord) []SeriesRecord {
	seen := make(map[int64]SeriesRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]SeriesRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
