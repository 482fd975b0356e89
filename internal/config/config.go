package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for marketlens.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Server   Server   `yaml:"server"`
	Upstream Upstream `yaml:"upstream"`
	Cache    Cache    `yaml:"cache"`
	Eval     Eval     `yaml:"eval"`
	Logging  Logging  `yaml:"logging"`
}

// Storage selects and locates the persistence backend.
type Storage struct {
	Backend    string `yaml:"backend"` // sqlite, file or redis
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	KVFile     string `yaml:"kv_file"`
	ArchiveDir string `yaml:"archive_dir"` // empty disables the Parquet archive
	Redis      Redis  `yaml:"redis"`
}

// Redis holds connection settings for the redis backend.
type Redis struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Upstream configures the price data provider.
type Upstream struct {
	BaseURL         string        `yaml:"base_url"`
	UserAgent       string        `yaml:"user_agent"`
	Timeout         time.Duration `yaml:"timeout"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	MaxAttempts     int           `yaml:"max_attempts"`
}

// Cache tunes the timeseries cache.
type Cache struct {
	TTL           time.Duration `yaml:"ttl"`
	BatchWindow   time.Duration `yaml:"batch_window"`
	BatchSize     int           `yaml:"batch_size"`
	CleanupEvery  time.Duration `yaml:"cleanup_every"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Eval bounds expression evaluation.
type Eval struct {
	MaxDepth int `yaml:"max_depth"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the configuration used for any field a file leaves unset.
func Default() *Config {
	return &Config{
		Storage: Storage{
			Backend:    "sqlite",
			DataDir:    "data",
			SQLitePath: "data/marketlens.db",
			KVFile:     "data/marketlens.json",
			Redis:      Redis{Addr: "localhost:6379", Namespace: "marketlens:"},
		},
		Server: Server{Host: "127.0.0.1", Port: 8080, GRPCPort: 9090},
		Upstream: Upstream{
			BaseURL:         "https://prices.runescape.wiki/api/v1/osrs",
			UserAgent:       "marketlens/1.0",
			Timeout:         15 * time.Second,
			RateLimitPerMin: 120,
			MaxAttempts:     3,
		},
		Cache: Cache{
			TTL:           5 * time.Minute,
			BatchWindow:   50 * time.Millisecond,
			BatchSize:     20,
			CleanupEvery:  time.Hour,
			SweepInterval: time.Minute,
		},
		Eval:    Eval{MaxDepth: 10},
		Logging: Logging{Level: "info", Format: "json"},
	}
}

// Load reads the YAML configuration file at the given path over the
// defaults and then applies environment variable overrides. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite", "file", "redis":
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend)
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if c.Cache.BatchSize < 1 {
		return fmt.Errorf("cache.batch_size must be positive, got %d", c.Cache.BatchSize)
	}
	if c.Eval.MaxDepth < 1 {
		return fmt.Errorf("eval.max_depth must be positive, got %d", c.Eval.MaxDepth)
	}
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Storage.Redis.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Prefixed names take precedence.
	if v := os.Getenv("MARKETLENS_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("MARKETLENS_ARCHIVE_DIR"); v != "" {
		cfg.Storage.ArchiveDir = v
	}
	if v := os.Getenv("MARKETLENS_REDIS_PASSWORD"); v != "" {
		cfg.Storage.Redis.Password = v
	}
	if v := os.Getenv("MARKETLENS_UPSTREAM_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := os.Getenv("MARKETLENS_USER_AGENT"); v != "" {
		cfg.Upstream.UserAgent = v
	}
	if v := os.Getenv("MARKETLENS_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("MARKETLENS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MARKETLENS_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("MARKETLENS_CACHE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MARKETLENS_CACHE_TTL: %w", err)
		}
		cfg.Cache.TTL = ttl
	}
	return nil
}
