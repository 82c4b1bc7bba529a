package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"quotewire/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "quotes.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndQueryRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	vol := 12.5
	updates := []domain.PriceUpdate{
		{Symbol: "BTC/USD", Price: 45000, Volume: &vol, Timestamp: base, Source: "binance", ProducerID: "p1"},
		{Symbol: "BTC/USD", Price: 45100, Timestamp: base.Add(time.Minute), Source: "binance", ProducerID: "p1"},
		{Symbol: "ETH/USD", Price: 3000, Timestamp: base, Source: "binance", ProducerID: "p1"},
	}

	errs, err := s.AppendBatch(ctx, updates)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	for i, e := range errs {
		if e != nil {
			t.Fatalf("record %d: %v", i, e)
		}
	}

	got, err := s.QueryRange(ctx, "BTC/USD", base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].Price != 45000 || got[1].Price != 45100 {
		t.Fatalf("rows not in timestamp order: %+v", got)
	}
	if got[0].Volume == nil || *got[0].Volume != 12.5 {
		t.Errorf("volume not round-tripped: %v", got[0].Volume)
	}
	if got[1].Volume != nil {
		t.Errorf("missing volume should stay nil, got %v", *got[1].Volume)
	}
	if !got[0].Timestamp.Equal(base) {
		t.Errorf("timestamp mismatch: %v", got[0].Timestamp)
	}
}

func TestQueryRangeBoundsAreInclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	var updates []domain.PriceUpdate
	for i := 0; i < 3; i++ {
		updates = append(updates, domain.PriceUpdate{
			Symbol: "BTC/USD", Price: float64(i + 1), Timestamp: base.Add(time.Duration(i) * time.Minute), Source: "t",
		})
	}
	if _, err := s.AppendBatch(ctx, updates); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.QueryRange(ctx, "BTC/USD", base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected inclusive bounds to return 2 rows, got %d", len(got))
	}
}

func TestQueryRangeEmptyResult(t *testing.T) {
	s := newTestStore(t)
	got, err := s.QueryRange(context.Background(), "BTC/USD", time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no rows, got %d", len(got))
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	in := domain.PriceUpdate{
		Symbol:    "BTC/USD",
		Price:     45000,
		Timestamp: ts,
		Source:    "binance",
		Metadata:  map[string]any{"bid": "44999.5", "ask": "45000.5"},
	}
	if _, err := s.AppendBatch(ctx, []domain.PriceUpdate{in}); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.QueryRange(ctx, "BTC/USD", ts.Add(-time.Second), ts.Add(time.Second))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got))
	}
	if got[0].Metadata["bid"] != "44999.5" {
		t.Fatalf("metadata not round-tripped: %+v", got[0].Metadata)
	}
}
