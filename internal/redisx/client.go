package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// FirstSeen marks key and reports whether this call was the first to do so.
func FirstSeen(ctx context.Context, rdb redis.Cmdable, key string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, "1", ttl).Result()
}

// JSONCache stores values as JSON strings.
type JSONCache struct {
	rdb redis.Cmdable
}

func NewJSONCache(rdb redis.Cmdable) *JSONCache { return &JSONCache{rdb: rdb} }

// Get decodes key into v. A missing key is reported as false with no error.
func (c *JSONCache) Get(ctx context.Context, key string, v any) (bool, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

func (c *JSONCache) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.rdb.Set(ctx, key, b, ttl).Err()
}

func (c *JSONCache) Delete(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// Deduper remembers processed event ids per consuming service.
type Deduper struct {
	rdb     redis.Cmdable
	service string
}

func NewDeduper(rdb redis.Cmdable, service string) *Deduper {
	return &Deduper{rdb: rdb, service: service}
}

func (d *Deduper) FirstSeen(ctx context.Context, eventID string) (bool, error) {
	return FirstSeen(ctx, d.rdb, fmt.Sprintf(KeyDedup, d.service, eventID), TTLDedup)
}
