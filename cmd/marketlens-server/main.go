package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"marketlens/internal/api"
	"marketlens/internal/catalog"
	"marketlens/internal/columns"
	"marketlens/internal/config"
	"marketlens/internal/definitions"
	"marketlens/internal/filters"
	"marketlens/internal/httpapi"
	"marketlens/internal/seriescache"
	"marketlens/internal/store"
	"marketlens/internal/stream"
	"marketlens/internal/upstream"
	"marketlens/internal/util"
)

func main() {
	cfgPath := "config/marketlens.yaml"
	if p := os.Getenv("MARKETLENS_CONFIG"); p != "" {
		cfgPath = p
	}
	flag.StringVar(&cfgPath, "config", cfgPath, "path to the YAML config file (empty for defaults)")
	flag.Parse()

	if _, err := os.Stat(cfgPath); cfgPath != "" && os.IsNotExist(err) {
		log.Printf("config %s not found, using defaults", cfgPath)
		cfgPath = ""
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("marketlens-server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	kv, closeKV, err := openKV(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeKV()

	src := upstream.New(cfg.Upstream, logger.With("component", "upstream"))

	cache := seriescache.New(src, kv, seriescache.Options{
		TTL:           cfg.Cache.TTL,
		BatchWindow:   cfg.Cache.BatchWindow,
		BatchSize:     cfg.Cache.BatchSize,
		CleanupEvery:  cfg.Cache.CleanupEvery,
		SweepInterval: cfg.Cache.SweepInterval,
	}, logger.With("component", "seriescache"))
	defer cache.Close()

	cat := catalog.New(src, logger.With("component", "catalog"))
	cr := columns.NewResolver(cache, logger.With("component", "columns"), columns.WithMaxDepth(cfg.Eval.MaxDepth))
	fr := filters.NewResolver(cr, logger.With("component", "filters"))
	defs := definitions.New(kv, logger.With("component", "definitions"))

	dash := httpapi.NewDashboardServer(cat, defs, cache, cr, fr, logger.With("component", "httpapi"))
	updates := stream.NewServer(cache, logger.With("component", "stream"))
	srv := api.NewServer(cfg.Server, dash.Handler(), updates.RegisterGRPC, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return cache.Run(gctx) })
	if dir := cfg.Storage.ArchiveDir; dir != "" {
		archive := store.NewParquetArchive(dir)
		g.Go(func() error { return cache.Archive(gctx, archive, 1024) })
		logger.Info("archiving fetched series", "dir", dir)
	}
	g.Go(func() error {
		// Warm the catalog so the first table request does not wait on it.
		if _, err := cat.Records(gctx); err != nil && gctx.Err() == nil {
			logger.Warn("initial catalog load failed", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		err := srv.ListenAndServe(gctx)
		// Closing the cache ends every open subscription feed.
		cache.Close()
		return err
	})

	logger.Info("marketlens-server starting",
		"http_port", cfg.Server.Port,
		"grpc_port", cfg.Server.GRPCPort,
		"storage", cfg.Storage.Backend,
	)
	return g.Wait()
}

// openKV opens the configured persistence backend. The returned func closes it.
func openKV(ctx context.Context, cfg config.Storage, logger *slog.Logger) (store.KV, func(), error) {
	switch cfg.Backend {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating sqlite dir: %w", err)
		}
		kv, err := store.NewSQLiteKV(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return kv, func() { kv.Close() }, nil
	case "file":
		if err := os.MkdirAll(filepath.Dir(cfg.KVFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating kv dir: %w", err)
		}
		kv, err := store.NewFileKV(cfg.KVFile, logger.With("component", "store"))
		if err != nil {
			return nil, nil, err
		}
		return kv, func() {}, nil
	case "redis":
		kv, err := store.NewRedisKV(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Namespace)
		if err != nil {
			return nil, nil, err
		}
		return kv, func() { kv.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
