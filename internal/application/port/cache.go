package port

import (
	"context"
	"errors"
	"time"

	"quotewire/internal/domain"
)

// ErrCacheMiss is returned by Cache.Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Cache is the short-TTL latest-value collaborator. Set overwrites
// unconditionally; freshness comparison is the caller's job. Cache failures
// must never fail the write path.
type Cache interface {
	Get(ctx context.Context, symbol string) (domain.CachedPrice, error)
	Set(ctx context.Context, symbol string, value domain.CachedPrice, ttl time.Duration) error
	Del(ctx context.Context, symbol string) error
	Close() error
}
