package store

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"marketlens/internal/domain"
)

// exerciseKV runs the shared KV contract against an implementation.
func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := kv.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok %v, err %v; want absent", ok, err)
	}

	for _, k := range []string{"series:2:1h", "series:1:5m", "columns", "series:last-cleanup"} {
		if err := kv.Set(ctx, k, []byte(`"`+k+`"`)); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}
	if err := kv.Set(ctx, "columns", []byte(`[1]`)); err != nil {
		t.Fatalf("Set(columns) overwrite: %v", err)
	}

	got, ok, err := kv.Get(ctx, "columns")
	if err != nil || !ok {
		t.Fatalf("Get(columns) = ok %v, err %v", ok, err)
	}
	if string(got) != `[1]` {
		t.Errorf("Get(columns) = %s, want [1]", got)
	}

	keys, err := kv.Keys(ctx, "series:")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	want := []string{"series:1:5m", "series:2:1h", "series:last-cleanup"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("Keys(series:) = %v, want %v", keys, want)
	}

	if err := kv.Delete(ctx, "series:1:5m"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := kv.Delete(ctx, "series:1:5m"); err != nil {
		t.Fatalf("Delete (absent): %v", err)
	}
	if _, ok, _ := kv.Get(ctx, "series:1:5m"); ok {
		t.Error("key still present after Delete")
	}
}

func TestSQLiteKV(t *testing.T) {
	kv, err := NewSQLiteKV(filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("NewSQLiteKV: %v", err)
	}
	defer kv.Close()
	exerciseKV(t, kv)
}

func TestSQLiteKVPrefixIsLiteral(t *testing.T) {
	kv, err := NewSQLiteKV(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteKV: %v", err)
	}
	defer kv.Close()
	ctx := context.Background()

	kv.Set(ctx, "a%b", []byte("1"))
	kv.Set(ctx, "axb", []byte("2"))
	keys, err := kv.Keys(ctx, "a%")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "a%b" {
		t.Errorf("Keys(a%%) = %v, want [a%%b]", keys)
	}
}

func TestMemoryKV(t *testing.T) {
	exerciseKV(t, NewMemoryKV())
}

func TestFileKVPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "kv.json")
	log := slog.New(slog.DiscardHandler)

	kv, err := NewFileKV(path, log)
	if err != nil {
		t.Fatalf("NewFileKV: %v", err)
	}
	exerciseKV(t, kv)

	reopened, err := NewFileKV(path, log)
	if err != nil {
		t.Fatalf("NewFileKV (reopen): %v", err)
	}
	got, ok, err := reopened.Get(context.Background(), "columns")
	if err != nil || !ok || string(got) != `[1]` {
		t.Errorf("reopened Get(columns) = %s, %v, %v; want [1]", got, ok, err)
	}
	if _, ok, _ := reopened.Get(context.Background(), "series:1:5m"); ok {
		t.Error("deleted key came back after reopen")
	}
}

func TestFileKVRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileKV(path, slog.New(slog.DiscardHandler)); err == nil {
		t.Error("NewFileKV on corrupt file: expected error")
	}
}

func TestRedisKV(t *testing.T) {
	addr := os.Getenv("MARKETLENS_TEST_REDIS")
	if addr == "" {
		t.Skip("MARKETLENS_TEST_REDIS not set")
	}
	ctx := context.Background()
	kv, err := NewRedisKV(ctx, addr, "", 0, "marketlens-test:"+t.Name()+":")
	if err != nil {
		t.Fatalf("NewRedisKV: %v", err)
	}
	defer kv.Close()
	defer func() {
		keys, _ := kv.Keys(ctx, "")
		for _, k := range keys {
			kv.Delete(ctx, k)
		}
	}()
	exerciseKV(t, kv)
}

func TestGlobEscape(t *testing.T) {
	if got := globEscape(`ns:a*b?[c]\`); got != `ns:a\*b\?\[c\]\\` {
		t.Errorf("globEscape = %q", got)
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	type favs struct {
		IDs []int `json:"ids"`
	}
	if err := SetJSON(ctx, kv, "favorites", favs{IDs: []int{4151, 995}}); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	got, ok, err := GetJSON[favs](ctx, kv, "favorites")
	if err != nil || !ok {
		t.Fatalf("GetJSON = ok %v, err %v", ok, err)
	}
	if !reflect.DeepEqual(got.IDs, []int{4151, 995}) {
		t.Errorf("GetJSON ids = %v", got.IDs)
	}

	if _, ok, err := GetJSON[favs](ctx, kv, "absent"); ok || err != nil {
		t.Errorf("GetJSON(absent) = ok %v, err %v", ok, err)
	}

	kv.Set(ctx, "broken", []byte("{"))
	if _, _, err := GetJSON[favs](ctx, kv, "broken"); !errors.Is(err, ErrDecode) {
		t.Errorf("GetJSON(broken) error = %v, want ErrDecode", err)
	}
}

func f64(v float64) *float64 { return &v }

func TestParquetArchivePath(t *testing.T) {
	a := NewParquetArchive("/data")
	got := a.seriesPath(4151, domain.Interval1h)
	want := filepath.Join("/data", "series", "1h", "4151.parquet")
	if got != want {
		t.Errorf("seriesPath mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func TestParquetArchiveWriteReadMerge(t *testing.T) {
	a := NewParquetArchive(t.TempDir())
	ctx := context.Background()

	if _, err := a.ReadSeries(ctx, 4151, domain.Interval5m); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadSeries before write: err = %v, want ErrNotFound", err)
	}

	first := []domain.SeriesPoint{
		{Timestamp: 300, AvgHighPrice: f64(101), AvgLowPrice: f64(99), HighPriceVolume: 5, LowPriceVolume: 7},
		{Timestamp: 0, AvgHighPrice: f64(100), AvgLowPrice: nil, HighPriceVolume: 1},
	}
	if err := a.WriteSeries(ctx, 4151, domain.Interval5m, first); err != nil {
		t.Fatalf("WriteSeries (first): %v", err)
	}

	second := []domain.SeriesPoint{
		{Timestamp: 300, AvgHighPrice: f64(105), AvgLowPrice: f64(98), HighPriceVolume: 6, LowPriceVolume: 8},
		{Timestamp: 600, AvgHighPrice: nil, AvgLowPrice: f64(97)},
	}
	if err := a.WriteSeries(ctx, 4151, domain.Interval5m, second); err != nil {
		t.Fatalf("WriteSeries (second): %v", err)
	}

	got, err := a.ReadSeries(ctx, 4151, domain.Interval5m)
	if err != nil {
		t.Fatalf("ReadSeries: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ReadSeries returned %d points, want 3", len(got))
	}
	if got[0].Timestamp != 0 || got[1].Timestamp != 300 || got[2].Timestamp != 600 {
		t.Errorf("timestamps = %d,%d,%d; want 0,300,600", got[0].Timestamp, got[1].Timestamp, got[2].Timestamp)
	}
	if got[0].AvgLowPrice != nil {
		t.Errorf("first AvgLowPrice = %v, want nil", *got[0].AvgLowPrice)
	}
	if got[1].AvgHighPrice == nil || *got[1].AvgHighPrice != 105 {
		t.Errorf("merged AvgHighPrice = %v, want 105", got[1].AvgHighPrice)
	}
	if got[2].AvgHighPrice != nil {
		t.Errorf("last AvgHighPrice = %v, want nil", *got[2].AvgHighPrice)
	}

	ids, err := a.ListRecords(ctx, domain.Interval5m)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if !reflect.DeepEqual(ids, []int{4151}) {
		t.Errorf("ListRecords = %v, want [4151]", ids)
	}
	if ids, _ := a.ListRecords(ctx, domain.Interval24h); ids != nil {
		t.Errorf("ListRecords(24h) = %v, want nil", ids)
	}
}
