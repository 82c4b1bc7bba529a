package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"quotewire/internal/application/batch"
	"quotewire/internal/application/ingest"
	"quotewire/internal/application/port"
	"quotewire/internal/domain"
	busmemory "quotewire/internal/infrastructure/bus/memory"
	busredis "quotewire/internal/infrastructure/bus/redis"
	cachememory "quotewire/internal/infrastructure/cache/memory"
	cacheredis "quotewire/internal/infrastructure/cache/redis"
	"quotewire/internal/infrastructure/config"
	"quotewire/internal/infrastructure/exchange"
	_ "quotewire/internal/infrastructure/exchange/binance"
	_ "quotewire/internal/infrastructure/exchange/bybit"
	"quotewire/internal/infrastructure/logger"
	"quotewire/internal/infrastructure/ratelimit"
	"quotewire/internal/infrastructure/storage/postgres"
	"quotewire/internal/infrastructure/storage/sqlite"
	"quotewire/internal/interfaces/rest"
	"quotewire/internal/interfaces/stream"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	logLevel := flag.String("log-level", "info", "zerolog level")
	flag.Parse()

	logger.Setup(*logLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// persistence store
	var store port.Store
	switch cfg.Storage.Backend {
	case "postgres":
		store, err = postgres.New(cfg.Storage.PostgresDSN)
	default:
		store, err = sqlite.New(cfg.Storage.SQLitePath)
	}
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("storage init failed")
	}
	defer store.Close()

	// latest-value cache
	var cache port.Cache
	if cfg.Cache.Backend == "redis" {
		cache = cacheredis.New(redis.NewClient(&redis.Options{Addr: cfg.Cache.Addr}))
	} else {
		cache = cachememory.New()
	}
	defer cache.Close()

	// fan-out bus
	var bus port.Bus
	if cfg.Bus.Backend == "redis" {
		bus = busredis.New(redis.NewClient(&redis.Options{Addr: cfg.Bus.Addr}))
	} else {
		bus = busmemory.New()
	}
	defer bus.Close()

	// rate limiter shares the cache's redis when available so gateway
	// replicas count against one window
	var limiter port.RateLimiter
	if cfg.Cache.Backend == "redis" {
		limiter = ratelimit.NewRedisLimiter(
			redis.NewClient(&redis.Options{Addr: cfg.Cache.Addr}),
			cfg.Ingest.RatePerMinute, time.Minute)
	} else {
		limiter = ratelimit.NewMemoryLimiter(cfg.Ingest.RatePerMinute, time.Minute)
	}

	svc := ingest.NewService(store, cache, bus, ingest.Options{
		MaxBatchSize:      cfg.Ingest.MaxBatchSize,
		TimestampSkew:     time.Duration(cfg.Ingest.TimestampSkewSec) * time.Second,
		CacheTTL:          time.Duration(cfg.Cache.TTLSec) * time.Second,
		DependencyTimeout: cfg.DependencyTimeout(),
	})

	keyring := rest.NewKeyring(cfg.Ingest.InternalKeys, cfg.Ingest.ReadKeys)
	gateway := rest.NewServer(cfg.Ingest.Addr, rest.NewHandler(svc, keyring, limiter))

	hub, err := stream.NewHub(ctx, bus)
	if err != nil {
		log.Fatal().Err(err).Msg("stream hub init failed")
	}
	streamSrv := stream.NewServer(cfg.Stream.Addr, hub, streamAuth(keyring),
		time.Duration(cfg.Stream.HeartbeatSec)*time.Second)

	// connectors, one per enabled exchange, each owning its accumulator
	var connectors []*exchange.Connector
	var accumulators []*batch.Accumulator
	for name, ex := range cfg.Exchanges {
		if !ex.Enabled {
			log.Warn().Str("exchange", name).Msg("exchange disabled by config")
			continue
		}
		factory, ok := exchange.Get(ex.Adapter)
		if !ok {
			log.Fatal().Str("exchange", name).Str("adapter", ex.Adapter).Msg("unknown adapter")
		}

		acc := batch.NewAccumulator(name, svc, batch.Options{
			MaxSize:       cfg.Batch.MaxSize,
			FlushInterval: cfg.FlushInterval(),
			MaxRetries:    cfg.Batch.MaxFlushRetries,
			BackoffBase:   time.Duration(cfg.Batch.BackoffBaseMs) * time.Millisecond,
			BackoffMax:    time.Duration(cfg.Batch.BackoffMaxMs) * time.Millisecond,
		})
		accumulators = append(accumulators, acc)

		handler := func(u domain.PriceUpdate) {
			acc.Add(ctx, u)
		}
		conn := exchange.NewConnector(name, ex.WsURL, cfg.Symbols.List, factory(), handler,
			exchange.Options{MaxAttempts: ex.MaxReconnects})
		connectors = append(connectors, conn)

		if err := conn.Connect(ctx); err != nil {
			log.Error().Str("exchange", name).Err(err).Msg("connector start failed")
		}
		log.Info().Str("exchange", name).Str("adapter", ex.Adapter).Msg("connector started")
	}

	errCh := make(chan error, 2)
	go func() { errCh <- gateway.Start() }()
	go func() { errCh <- streamSrv.Start() }()

	log.Info().
		Str("config", *configPath).
		Int("symbols", len(cfg.Symbols.List)).
		Int("connectors", len(connectors)).
		Msg("quotewire started")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server exited")
		}
	}

	// graceful shutdown: stop intake, force a final flush, then stop the
	// delivery tier before the gateway
	shCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	for _, conn := range connectors {
		conn.Disconnect()
	}
	for _, acc := range accumulators {
		if err := acc.Flush(shCtx); err != nil {
			log.Error().Err(err).Msg("final flush failed")
		}
	}
	if err := streamSrv.Shutdown(shCtx); err != nil {
		log.Warn().Err(err).Msg("stream gateway shutdown failed")
	}
	if err := gateway.Shutdown(shCtx); err != nil {
		log.Warn().Err(err).Msg("ingestion gateway shutdown failed")
	}
	log.Info().Msg("quotewire stopped")
}

// streamAuth admits websocket clients holding any known key, via bearer
// header or token query parameter.
func streamAuth(keys *rest.Keyring) stream.AuthFunc {
	return func(r *http.Request) error {
		header := r.Header.Get("Authorization")
		key := strings.TrimPrefix(header, "Bearer ")
		if header == "" {
			key = r.URL.Query().Get("token")
		}
		if key == "" {
			return errors.New("missing key")
		}
		if _, ok := keys.Lookup(key); !ok {
			return errors.New("unknown key")
		}
		return nil
	}
}
