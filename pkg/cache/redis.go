package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/matzehuels/diagramzoom/pkg/observability"
)

// RedisOptions configures a RedisCache.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisCache is a Cache backed by a redis server.
type RedisCache struct {
	client *redis.Client
	retry  RetryPolicy
}

// NewRedisCache connects and pings the server.
func NewRedisCache(ctx context.Context, opts RedisOptions) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: redis %s: %v", ErrBackend, opts.Addr, err)
	}
	return &RedisCache{client: client, retry: DefaultRetryPolicy}, nil
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := Retry(ctx, c.retry, func() error {
		b, err := c.client.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return Retryable(err)
		}
		data = b
		return err
	})
	if errors.Is(err, redis.Nil) {
		observability.Cache().OnCacheMiss(ctx, keyType(key))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	observability.Cache().OnCacheHit(ctx, keyType(key))
	return data, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	err := Retry(ctx, c.retry, func() error {
		return Retryable(c.client.Set(ctx, key, data, ttl).Err())
	})
	if err == nil {
		observability.Cache().OnCacheSet(ctx, keyType(key), len(data))
	}
	return err
}

// Delete implements Cache.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return Retry(ctx, c.retry, func() error {
		return Retryable(c.client.Del(ctx, key).Err())
	})
}

// Close implements Cache.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ Cache = (*RedisCache)(nil)
