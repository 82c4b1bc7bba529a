package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"quotewire/internal/application/port"
	"quotewire/internal/domain"
)

// Store is the append-only postgres persistence backend.
type Store struct {
	db *sql.DB
}

func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS price_updates (
  id BIGSERIAL PRIMARY KEY,
  symbol TEXT NOT NULL,
  price DOUBLE PRECISION NOT NULL,
  volume DOUBLE PRECISION,
  ts TIMESTAMPTZ NOT NULL,
  source TEXT NOT NULL,
  producer_id TEXT NOT NULL DEFAULT '',
  metadata TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_price_updates_symbol_ts ON price_updates(symbol, ts);
`)
	return err
}

// AppendBatch inserts updates in order, reporting a per-record outcome.
func (s *Store) AppendBatch(ctx context.Context, updates []domain.PriceUpdate) ([]error, error) {
	errs := make([]error, len(updates))
	for i, u := range updates {
		var meta any
		if u.Metadata != nil {
			b, err := json.Marshal(u.Metadata)
			if err == nil {
				meta = string(b)
			}
		}
		_, err := s.db.ExecContext(ctx, `
INSERT INTO price_updates(symbol, price, volume, ts, source, producer_id, metadata)
VALUES($1, $2, $3, $4, $5, $6, $7)`,
			u.Symbol, u.Price, nullable(u.Volume), u.Timestamp.UTC(), u.Source, u.ProducerID, meta)
		errs[i] = err
	}
	return errs, nil
}

func (s *Store) QueryRange(ctx context.Context, symbol string, from, to time.Time) ([]domain.PriceUpdate, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT symbol, price, volume, ts, source, producer_id, metadata
FROM price_updates
WHERE symbol = $1 AND ts >= $2 AND ts <= $3
ORDER BY ts ASC`,
		symbol, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PriceUpdate
	for rows.Next() {
		var (
			u      domain.PriceUpdate
			volume sql.NullFloat64
			meta   sql.NullString
		)
		if err := rows.Scan(&u.Symbol, &u.Price, &volume, &u.Timestamp, &u.Source, &u.ProducerID, &meta); err != nil {
			return nil, err
		}
		if volume.Valid {
			v := volume.Float64
			u.Volume = &v
		}
		if meta.Valid && meta.String != "" {
			_ = json.Unmarshal([]byte(meta.String), &u.Metadata)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

var _ port.Store = (*Store)(nil)
