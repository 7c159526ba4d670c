package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// JSONCache stores JSON-encoded values of type T under a common key prefix.
type JSONCache[T any] struct {
	db     redis.UniversalClient
	prefix string
}

// NewJSONCache returns a cache whose keys are "<prefix>:<key>".
func NewJSONCache[T any](client redis.UniversalClient, prefix string) *JSONCache[T] {
	return &JSONCache[T]{db: client, prefix: prefix}
}

// Get returns ErrCacheMiss when the key does not exist.
func (c *JSONCache[T]) Get(ctx context.Context, key string) (T, error) {
	var v T
	raw, err := c.db.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return v, ErrCacheMiss
	}
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		// a value we cannot decode is as good as absent
		_ = c.db.Del(ctx, c.key(key)).Err()
		return v, ErrCacheMiss
	}
	return v, nil
}

// Set stores v with the given ttl. A non-positive ttl skips the write so
// nothing is cached without expiry by accident.
func (c *JSONCache[T]) Set(ctx context.Context, key string, v T, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.db.Set(ctx, c.key(key), raw, ttl).Err()
}

func (c *JSONCache[T]) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return c.db.Del(ctx, full...).Err()
}

func (c *JSONCache[T]) key(k string) string {
	return c.prefix + ":" + k
}
