package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// RateCache is a read-through cache over a domain.RateStore. Deposit
// validation hits the rate table on every call; the cache keeps the hot path
// off PostgreSQL while admin writes invalidate through it.
type RateCache struct {
	rdb   *redis.Client
	store domain.RateStore
	ttl   time.Duration
}

// NewRateCache wraps store with a Redis cache. ttl zero means 5 minutes.
func NewRateCache(c *Client, store domain.RateStore, ttl time.Duration) *RateCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RateCache{rdb: c.Underlying(), store: store, ttl: ttl}
}

func rateKey(duration time.Duration) string {
	return fmt.Sprintf("rate:%d", int64(duration/time.Second))
}

// Get returns the cached rate, falling back to the store on miss. A negative
// cache entry ("-") remembers unsupported maturities for the TTL.
func (c *RateCache) Get(ctx context.Context, duration time.Duration) (uint16, error) {
	val, err := c.rdb.Get(ctx, rateKey(duration)).Result()
	if err == nil {
		if val == "-" {
			return 0, fmt.Errorf("rate %s: %w", duration, domain.ErrNotFound)
		}
		rate, convErr := strconv.ParseUint(val, 10, 16)
		if convErr == nil {
			return uint16(rate), nil
		}
		// Fall through to the store on a corrupt entry.
	} else if err != redis.Nil {
		return 0, fmt.Errorf("redis: rate get %s: %w", duration, err)
	}

	rate, err := c.store.Get(ctx, duration)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			_ = c.rdb.Set(ctx, rateKey(duration), "-", c.ttl).Err()
		}
		return 0, err
	}
	_ = c.rdb.Set(ctx, rateKey(duration), strconv.FormatUint(uint64(rate), 10), c.ttl).Err()
	return rate, nil
}

// Set writes through to the store and refreshes the cache entry.
func (c *RateCache) Set(ctx context.Context, duration time.Duration, rateBps uint16) error {
	if err := c.store.Set(ctx, duration, rateBps); err != nil {
		return err
	}
	_ = c.rdb.Set(ctx, rateKey(duration), strconv.FormatUint(uint64(rateBps), 10), c.ttl).Err()
	return nil
}

// Delete removes the entry from the store and caches the absence.
func (c *RateCache) Delete(ctx context.Context, duration time.Duration) error {
	if err := c.store.Delete(ctx, duration); err != nil {
		return err
	}
	_ = c.rdb.Set(ctx, rateKey(duration), "-", c.ttl).Err()
	return nil
}

// List always reads through to the store; the full table is an admin view,
// not a hot path.
func (c *RateCache) List(ctx context.Context) (map[time.Duration]uint16, error) {
	return c.store.List(ctx)
}

var _ domain.RateStore = (*RateCache)(nil)
