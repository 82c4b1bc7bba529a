package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"quotewire/internal/application/port"
	"quotewire/internal/domain"
)

var (
	// ErrBatchTooLarge rejects oversized batches before any record is
	// processed.
	ErrBatchTooLarge = errors.New("batch exceeds max size")
	// ErrEmptyBatch rejects batches with no records.
	ErrEmptyBatch = errors.New("batch is empty")
)

// Options tunes the ingestion pipeline.
type Options struct {
	MaxBatchSize int
	// TimestampSkew bounds how far a record's timestamp may drift from now.
	TimestampSkew time.Duration
	CacheTTL      time.Duration
	// DependencyTimeout bounds each persistence/cache/bus call
	// independently, so one slow dependency cannot stall the rest.
	DependencyTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = 100
	}
	if o.TimestampSkew <= 0 {
		o.TimestampSkew = 5 * time.Minute
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = time.Minute
	}
	if o.DependencyTimeout <= 0 {
		o.DependencyTimeout = 5 * time.Second
	}
}

// Service validates a batch, persists the valid records, refreshes the
// latest-value cache, and publishes each update to the fan-out bus. Cache
// and bus failures degrade gracefully: they are logged, never surfaced.
type Service struct {
	store port.Store
	cache port.Cache
	bus   port.Bus
	opts  Options

	now func() time.Time
}

func NewService(store port.Store, cache port.Cache, bus port.Bus, opts Options) *Service {
	opts.applyDefaults()
	return &Service{
		store: store,
		cache: cache,
		bus:   bus,
		opts:  opts,
		now:   time.Now,
	}
}

// Ingest runs the full pipeline for one batch and reports definitive
// ingested/failed counts. A store-level failure fails the whole call; no
// cache or bus side effects happen for records that were not persisted.
func (s *Service) Ingest(ctx context.Context, b domain.Batch) (domain.IngestionResult, error) {
	start := s.now()

	if len(b.Updates) == 0 {
		return domain.IngestionResult{}, ErrEmptyBatch
	}
	if len(b.Updates) > s.opts.MaxBatchSize {
		return domain.IngestionResult{}, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(b.Updates), s.opts.MaxBatchSize)
	}

	now := s.now().UTC()
	valid := make([]domain.PriceUpdate, 0, len(b.Updates))
	failed := 0
	for _, u := range b.Updates {
		u.Symbol = domain.NormalizePair(u.Symbol)
		if err := u.Validate(now, s.opts.TimestampSkew); err != nil {
			failed++
			log.Debug().Str("symbol", u.Symbol).Err(err).Msg("record rejected")
			continue
		}
		if u.ProducerID == "" {
			u.ProducerID = b.ProducerID
		}
		valid = append(valid, u)
	}

	persisted := make([]domain.PriceUpdate, 0, len(valid))
	if len(valid) > 0 {
		sctx, cancel := context.WithTimeout(ctx, s.opts.DependencyTimeout)
		errs, err := s.store.AppendBatch(sctx, valid)
		cancel()
		if err != nil {
			return domain.IngestionResult{}, fmt.Errorf("append batch: %w", err)
		}
		for i, u := range valid {
			if i < len(errs) && errs[i] != nil {
				failed++
				log.Warn().Str("symbol", u.Symbol).Err(errs[i]).Msg("record not persisted")
				continue
			}
			persisted = append(persisted, u)
		}
	}

	s.refreshCache(ctx, persisted)
	s.publish(ctx, persisted)

	return domain.IngestionResult{
		Ingested:  len(persisted),
		Failed:    failed,
		LatencyMs: s.now().Sub(start).Milliseconds(),
	}, nil
}

// Flush lets the service act as the in-process downstream of a batch
// accumulator.
func (s *Service) Flush(ctx context.Context, b domain.Batch) (domain.IngestionResult, error) {
	return s.Ingest(ctx, b)
}

// Latest serves the read path: cache first, persistence store on miss.
func (s *Service) Latest(ctx context.Context, symbol string) (domain.CachedPrice, error) {
	symbol = domain.NormalizePair(symbol)

	cctx, cancel := context.WithTimeout(ctx, s.opts.DependencyTimeout)
	cached, err := s.cache.Get(cctx, symbol)
	cancel()
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, port.ErrCacheMiss) {
		log.Warn().Str("symbol", symbol).Err(err).Msg("cache get failed, falling back to store")
	}

	sctx, cancel := context.WithTimeout(ctx, s.opts.DependencyTimeout)
	defer cancel()
	to := s.now().UTC()
	rows, err := s.store.QueryRange(sctx, symbol, to.Add(-24*time.Hour), to)
	if err != nil {
		return domain.CachedPrice{}, fmt.Errorf("query range: %w", err)
	}
	if len(rows) == 0 {
		return domain.CachedPrice{}, port.ErrCacheMiss
	}
	u := rows[len(rows)-1]
	return domain.CachedPrice{
		Symbol:    u.Symbol,
		Price:     u.Price,
		Volume:    u.Volume,
		Timestamp: u.Timestamp,
		Source:    u.Source,
	}, nil
}

// History exposes the store's range query.
func (s *Service) History(ctx context.Context, symbol string, from, to time.Time) ([]domain.PriceUpdate, error) {
	sctx, cancel := context.WithTimeout(ctx, s.opts.DependencyTimeout)
	defer cancel()
	return s.store.QueryRange(sctx, domain.NormalizePair(symbol), from, to)
}

// refreshCache applies freshest-timestamp-wins per symbol: the freshest
// persisted record for each symbol overwrites the cache only when newer than
// the entry already there. Arrival order is irrelevant.
func (s *Service) refreshCache(ctx context.Context, updates []domain.PriceUpdate) {
	freshest := make(map[string]domain.PriceUpdate)
	for _, u := range updates {
		if cur, ok := freshest[u.Symbol]; !ok || u.Timestamp.After(cur.Timestamp) {
			freshest[u.Symbol] = u
		}
	}

	for symbol, u := range freshest {
		cctx, cancel := context.WithTimeout(ctx, s.opts.DependencyTimeout)
		cur, err := s.cache.Get(cctx, symbol)
		if err == nil && !u.Timestamp.After(cur.Timestamp) {
			cancel()
			continue
		}
		entry := domain.CachedPrice{
			Symbol:    u.Symbol,
			Price:     u.Price,
			Volume:    u.Volume,
			Timestamp: u.Timestamp,
			Source:    u.Source,
			ExpiresAt: s.now().UTC().Add(s.opts.CacheTTL),
		}
		if err := s.cache.Set(cctx, symbol, entry, s.opts.CacheTTL); err != nil {
			log.Warn().Str("symbol", symbol).Err(err).Msg("cache set failed, ingest continues")
		}
		cancel()
	}
}

// publish fans each persisted record out to its symbol topic, preserving
// batch order. Publish failures are logged only.
func (s *Service) publish(ctx context.Context, updates []domain.PriceUpdate) {
	for _, u := range updates {
		payload, err := json.Marshal(u)
		if err != nil {
			log.Warn().Str("symbol", u.Symbol).Err(err).Msg("marshal for publish failed")
			continue
		}
		bctx, cancel := context.WithTimeout(ctx, s.opts.DependencyTimeout)
		if err := s.bus.Publish(bctx, domain.Topic(u.Symbol), payload); err != nil {
			log.Warn().Str("symbol", u.Symbol).Err(err).Msg("bus publish failed, ingest continues")
		}
		cancel()
	}
}

var _ port.Flusher = (*Service)(nil)
