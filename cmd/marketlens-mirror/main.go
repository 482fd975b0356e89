package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"marketlens/internal/seriescache"
	"marketlens/internal/store"
	"marketlens/internal/stream"
	"marketlens/internal/util"
)

// marketlens-mirror follows a server's series update stream and archives
// every fetched series to local Parquet files.
func main() {
	addr := "localhost:9090"
	if a := os.Getenv("STREAM_ADDR"); a != "" {
		addr = a
	}
	dataDir := os.Getenv("MARKETLENS_ARCHIVE_DIR")

	var (
		record   int
		attempts int
		level    string
	)
	flag.StringVar(&addr, "addr", addr, "marketlens-server gRPC address")
	flag.StringVar(&dataDir, "dir", dataDir, "archive directory")
	flag.IntVar(&record, "record", -1, "mirror one record id only (negative for all)")
	flag.IntVar(&attempts, "attempts", 10, "reconnect attempts before giving up")
	flag.StringVar(&level, "log-level", "info", "log level")
	flag.Parse()

	logger := util.NewLoggerTo(os.Stderr, level, "text")
	util.SetDefault(logger)

	if dataDir == "" {
		fmt.Fprintln(os.Stderr, "archive directory not set (use -dir or MARKETLENS_ARCHIVE_DIR)")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	archive := store.NewParquetArchive(dataDir)
	client := stream.NewClient(addr, logger)

	var written atomic.Int64
	write := func(ev seriescache.Event) error {
		if len(ev.Data) == 0 {
			return nil
		}
		if err := archive.WriteSeries(ctx, ev.RecordID, ev.Interval, ev.Data); err != nil {
			logger.Warn("archiving series", "record", ev.RecordID, "interval", ev.Interval, "error", err)
			return nil
		}
		if n := written.Add(1); n%100 == 0 {
			logger.Info("mirror progress", "written", n)
		}
		return nil
	}

	logger.Info("mirroring series updates", "addr", addr, "dir", dataDir, "record", record)

	// Each successful session resets the attempt budget; the stream ending
	// cleanly (server shutdown) counts as a failure so the mirror reconnects.
	for ctx.Err() == nil {
		err := util.Retry(ctx, attempts, time.Second, func() error {
			start := time.Now()
			err := client.Watch(ctx, record, write)
			if ctx.Err() != nil {
				return util.Permanent(ctx.Err())
			}
			if err == nil {
				err = fmt.Errorf("stream closed by server")
			}
			logger.Warn("watch ended", "error", err, "after", time.Since(start).Round(time.Second))
			if time.Since(start) > time.Minute {
				return nil
			}
			return err
		})
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			logger.Error("giving up", "error", err)
			os.Exit(1)
		}
	}
	slog.Info("mirror stopped", "written", written.Load())
}
