package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"quotewire/internal/application/port"
	"quotewire/internal/domain"
)

const keyPrefix = "latest:"

// Cache stores the freshest value per symbol under a short TTL. Redis keys
// are independent, so concurrent writers to different symbols never contend.
type Cache struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

func (c *Cache) Get(ctx context.Context, symbol string) (domain.CachedPrice, error) {
	raw, err := c.rdb.Get(ctx, keyPrefix+symbol).Result()
	if errors.Is(err, redis.Nil) {
		return domain.CachedPrice{}, port.ErrCacheMiss
	}
	if err != nil {
		return domain.CachedPrice{}, err
	}
	var entry domain.CachedPrice
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return domain.CachedPrice{}, err
	}
	return entry, nil
}

func (c *Cache) Set(ctx context.Context, symbol string, value domain.CachedPrice, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, keyPrefix+symbol, b, ttl).Err()
}

func (c *Cache) Del(ctx context.Context, symbol string) error {
	return c.rdb.Del(ctx, keyPrefix+symbol).Err()
}

func (c *Cache) Close() error { return c.rdb.Close() }

var _ port.Cache = (*Cache)(nil)
