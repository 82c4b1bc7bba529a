package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"quotewire/internal/domain"
)

type Config struct {
	App struct {
		Name string `toml:"name"`
	} `toml:"app"`

	Symbols struct {
		List []string `toml:"list"`
	} `toml:"symbols"`

	Ingest struct {
		Addr             string   `toml:"addr"`
		MaxBatchSize     int      `toml:"max_batch_size"`
		TimestampSkewSec int      `toml:"timestamp_skew_sec"`
		RatePerMinute    int      `toml:"rate_per_minute"`
		DependencyTOSec  int      `toml:"dependency_timeout_sec"`
		InternalKeys     []string `toml:"internal_keys"`
		ReadKeys         []string `toml:"read_keys"`
	} `toml:"ingest"`

	Batch struct {
		MaxSize         int `toml:"max_size"`
		FlushIntervalMs int `toml:"flush_interval_ms"`
		MaxFlushRetries int `toml:"max_flush_retries"`
		BackoffBaseMs   int `toml:"backoff_base_ms"`
		BackoffMaxMs    int `toml:"backoff_max_ms"`
	} `toml:"batch"`

	Cache struct {
		Backend string `toml:"backend"` // "redis" | "memory"
		Addr    string `toml:"addr"`
		TTLSec  int    `toml:"ttl_sec"`
	} `toml:"cache"`

	Bus struct {
		Backend string `toml:"backend"` // "redis" | "memory"
		Addr    string `toml:"addr"`
	} `toml:"bus"`

	Storage struct {
		Backend     string `toml:"backend"` // "postgres" | "sqlite"
		PostgresDSN string `toml:"postgres_dsn"`
		SQLitePath  string `toml:"sqlite_path"`
	} `toml:"storage"`

	Stream struct {
		Addr         string `toml:"addr"`
		HeartbeatSec int    `toml:"heartbeat_sec"`
	} `toml:"stream"`

	// Exchanges binds each connector instance to one adapter variant by
	// name. The adapter is chosen here, never inferred from a worker id.
	Exchanges map[string]ExchangeConfig `toml:"exchange"`
}

type ExchangeConfig struct {
	Enabled       bool   `toml:"enabled"`
	Adapter       string `toml:"adapter"` // "binance" | "bybit"
	WsURL         string `toml:"ws_url"`
	MaxReconnects int    `toml:"max_reconnects"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "quotewire"
	}
	if cfg.Ingest.Addr == "" {
		cfg.Ingest.Addr = ":8080"
	}
	if cfg.Ingest.MaxBatchSize <= 0 {
		cfg.Ingest.MaxBatchSize = 100
	}
	if cfg.Ingest.TimestampSkewSec <= 0 {
		cfg.Ingest.TimestampSkewSec = 300
	}
	if cfg.Ingest.RatePerMinute <= 0 {
		cfg.Ingest.RatePerMinute = 300
	}
	if cfg.Ingest.DependencyTOSec <= 0 {
		cfg.Ingest.DependencyTOSec = 5
	}
	if cfg.Batch.MaxSize <= 0 {
		cfg.Batch.MaxSize = 100
	}
	if cfg.Batch.FlushIntervalMs <= 0 {
		cfg.Batch.FlushIntervalMs = 1000
	}
	if cfg.Batch.MaxFlushRetries <= 0 {
		cfg.Batch.MaxFlushRetries = 3
	}
	if cfg.Batch.BackoffBaseMs <= 0 {
		cfg.Batch.BackoffBaseMs = 1000
	}
	if cfg.Batch.BackoffMaxMs <= 0 {
		cfg.Batch.BackoffMaxMs = 10000
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.TTLSec <= 0 {
		cfg.Cache.TTLSec = 60
	}
	if cfg.Bus.Backend == "" {
		cfg.Bus.Backend = "memory"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "sqlite"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/quotewire.db"
	}
	if cfg.Stream.Addr == "" {
		cfg.Stream.Addr = ":8081"
	}
	if cfg.Stream.HeartbeatSec <= 0 {
		cfg.Stream.HeartbeatSec = 30
	}
	for name, ex := range cfg.Exchanges {
		if ex.MaxReconnects <= 0 {
			ex.MaxReconnects = 10
			cfg.Exchanges[name] = ex
		}
	}
}

func validate(cfg *Config) error {
	cfg.Symbols.List = normalizeSymbols(cfg.Symbols.List)
	if len(cfg.Symbols.List) == 0 {
		return errors.New("symbols.list is empty")
	}
	for _, s := range cfg.Symbols.List {
		if !domain.ValidSymbol(s) {
			return fmt.Errorf("symbols.list: %q is not BASE/QUOTE", s)
		}
	}

	if len(cfg.Ingest.InternalKeys) == 0 {
		return errors.New("ingest.internal_keys is empty")
	}

	switch cfg.Cache.Backend {
	case "redis":
		if strings.TrimSpace(cfg.Cache.Addr) == "" {
			return errors.New("cache.addr empty but backend is redis")
		}
	case "memory":
	default:
		return fmt.Errorf("cache.backend: unknown %q", cfg.Cache.Backend)
	}

	switch cfg.Bus.Backend {
	case "redis":
		if strings.TrimSpace(cfg.Bus.Addr) == "" {
			return errors.New("bus.addr empty but backend is redis")
		}
	case "memory":
	default:
		return fmt.Errorf("bus.backend: unknown %q", cfg.Bus.Backend)
	}

	switch cfg.Storage.Backend {
	case "postgres":
		if strings.TrimSpace(cfg.Storage.PostgresDSN) == "" {
			return errors.New("storage.postgres_dsn empty but backend is postgres")
		}
	case "sqlite":
	default:
		return fmt.Errorf("storage.backend: unknown %q", cfg.Storage.Backend)
	}

	for name, ex := range cfg.Exchanges {
		if !ex.Enabled {
			continue
		}
		if strings.TrimSpace(ex.WsURL) == "" {
			return fmt.Errorf("exchange.%s.ws_url empty but enabled", name)
		}
		if strings.TrimSpace(ex.Adapter) == "" {
			return fmt.Errorf("exchange.%s.adapter empty but enabled", name)
		}
	}
	return nil
}

// FlushInterval returns the accumulator flush period.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Batch.FlushIntervalMs) * time.Millisecond
}

// DependencyTimeout bounds each persistence/cache/bus call in the gateway.
func (c *Config) DependencyTimeout() time.Duration {
	return time.Duration(c.Ingest.DependencyTOSec) * time.Second
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := domain.NormalizePair(s)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
