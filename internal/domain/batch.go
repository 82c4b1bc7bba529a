package domain

import "time"

// Batch is an ordered, bounded group of updates flushed together to reduce
// write amplification. Order matches upstream arrival order within the
// producing connector.
type Batch struct {
	Updates    []PriceUpdate `json:"updates"`
	CreatedAt  time.Time     `json:"created_at"`
	ProducerID string        `json:"producer_id"`
}

// IngestionResult is returned once per gateway call; never persisted.
type IngestionResult struct {
	Ingested  int   `json:"ingested"`
	Failed    int   `json:"failed"`
	LatencyMs int64 `json:"latency_ms"`
}

// CachedPrice is the latest-value cache entry for one symbol. Only the update
// with the freshest source timestamp is retained (the gateway decides
// freshness, the cache stores unconditionally).
type CachedPrice struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    *float64  `json:"volume,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	ExpiresAt time.Time `json:"expires_at"`
}
