package memory

import (
	"context"
	"sync"
	"time"

	"quotewire/internal/application/port"
	"quotewire/internal/domain"
)

type entry struct {
	value     domain.CachedPrice
	expiresAt time.Time
}

// Cache is the in-process latest-value store for single-node runs and
// tests. Entries expire passively on read; sync.Map keeps writers to
// different symbols off each other's path.
type Cache struct {
	entries sync.Map // symbol -> entry

	now func() time.Time
}

func New() *Cache {
	return &Cache{now: time.Now}
}

func (c *Cache) Get(_ context.Context, symbol string) (domain.CachedPrice, error) {
	v, ok := c.entries.Load(symbol)
	if !ok {
		return domain.CachedPrice{}, port.ErrCacheMiss
	}
	e := v.(entry)
	if c.now().After(e.expiresAt) {
		c.entries.Delete(symbol)
		return domain.CachedPrice{}, port.ErrCacheMiss
	}
	return e.value, nil
}

func (c *Cache) Set(_ context.Context, symbol string, value domain.CachedPrice, ttl time.Duration) error {
	c.entries.Store(symbol, entry{value: value, expiresAt: c.now().Add(ttl)})
	return nil
}

func (c *Cache) Del(_ context.Context, symbol string) error {
	c.entries.Delete(symbol)
	return nil
}

func (c *Cache) Close() error { return nil }

var _ port.Cache = (*Cache)(nil)
