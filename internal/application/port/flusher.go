package port

import (
	"context"

	"quotewire/internal/domain"
)

// Flusher is the accumulator's downstream: either the in-process ingest use
// case or an HTTP client posting to the ingestion gateway.
type Flusher interface {
	Flush(ctx context.Context, batch domain.Batch) (domain.IngestionResult, error)
}
