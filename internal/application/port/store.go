package port

import (
	"context"
	"time"

	"quotewire/internal/domain"
)

// Store is the append-only persistence collaborator. AppendBatch reports
// per-record outcomes; the batch transfer itself is one round-trip, not a
// per-record transaction.
type Store interface {
	// AppendBatch persists updates in order. errs has one slot per input
	// record; a nil slot means the record was durably appended.
	AppendBatch(ctx context.Context, updates []domain.PriceUpdate) (errs []error, err error)

	// QueryRange returns updates for symbol within [from, to], ordered by
	// source timestamp ascending.
	QueryRange(ctx context.Context, symbol string, from, to time.Time) ([]domain.PriceUpdate, error)

	Close() error
}
