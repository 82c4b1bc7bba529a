package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"quotewire/internal/application/port"
	"quotewire/internal/domain"
)

// Store is the sqlite persistence backend for local and dev runs; it honors
// the same append/range contract as the postgres backend.
type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

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
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  symbol TEXT NOT NULL,
  price REAL NOT NULL,
  volume REAL,
  ts_ms INTEGER NOT NULL,
  source TEXT NOT NULL,
  producer_id TEXT NOT NULL DEFAULT '',
  metadata TEXT,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_updates_symbol_ts ON price_updates(symbol, ts_ms);
`)
	return err
}

func (s *Store) AppendBatch(ctx context.Context, updates []domain.PriceUpdate) ([]error, error) {
	errs := make([]error, len(updates))
	for i, u := range updates {
		var meta any
		if u.Metadata != nil {
			if b, err := json.Marshal(u.Metadata); err == nil {
				meta = string(b)
			}
		}
		_, err := s.db.ExecContext(ctx, `
INSERT INTO price_updates(symbol, price, volume, ts_ms, source, producer_id, metadata, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			u.Symbol, u.Price, nullable(u.Volume), u.Timestamp.UnixMilli(), u.Source, u.ProducerID, meta, time.Now().UnixMilli())
		errs[i] = err
	}
	return errs, nil
}

func (s *Store) QueryRange(ctx context.Context, symbol string, from, to time.Time) ([]domain.PriceUpdate, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT symbol, price, volume, ts_ms, source, producer_id, metadata
FROM price_updates
WHERE symbol = ? AND ts_ms >= ? AND ts_ms <= ?
ORDER BY ts_ms ASC`,
		symbol, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PriceUpdate
	for rows.Next() {
		var (
			u      domain.PriceUpdate
			volume sql.NullFloat64
			tsMs   int64
			meta   sql.NullString
		)
		if err := rows.Scan(&u.Symbol, &u.Price, &volume, &tsMs, &u.Source, &u.ProducerID, &meta); err != nil {
			return nil, err
		}
		u.Timestamp = time.UnixMilli(tsMs).UTC()
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
