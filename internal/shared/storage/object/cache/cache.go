// Package cache wraps an ObjectStore so repeated link requests for the same
// object reuse a previously signed URL.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"msgvault-backend/internal/shared/storage/object"
	"msgvault-backend/internal/shared/telemetry"
)

// URLCache stores signed URLs with an expiry.
type URLCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, url string, ttl time.Duration) error
}

// Store decorates an ObjectStore with a signed-URL cache. Cache failures never
// fail the call; the inner store is consulted instead.
type Store struct {
	inner object.ObjectStore
	cache URLCache
}

// New wraps inner with cache.
func New(inner object.ObjectStore, cache URLCache) *Store {
	return &Store{inner: inner, cache: cache}
}

func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return s.inner.Put(ctx, key, data, contentType)
}

func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.inner.Open(ctx, key)
}

// SignedURL returns a cached link when one exists. Links are cached for half of
// ttl so a cached URL always has at least ttl/2 validity left.
func (s *Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	cacheKey := fmt.Sprintf("signed-url:%d:%s", int64(ttl/time.Second), key)

	if url, ok, err := s.cache.Get(ctx, cacheKey); err != nil {
		telemetry.Warn("object.cache_get_failed", map[string]any{"object_key": key, "error": err.Error()})
	} else if ok {
		return url, nil
	}

	url, err := s.inner.SignedURL(ctx, key, ttl)
	if err != nil {
		return "", err
	}

	if cacheTTL := ttl / 2; cacheTTL > 0 {
		if err := s.cache.Set(ctx, cacheKey, url, cacheTTL); err != nil {
			telemetry.Warn("object.cache_set_failed", map[string]any{"object_key": key, "error": err.Error()})
		}
	}
	return url, nil
}

var _ object.ObjectStore = (*Store)(nil)

// RedisCache implements URLCache on Redis.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCache creates a cache namespaced under prefix.
func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key, url string, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+key, url, ttl).Err()
}

// Ping checks the Redis connection.
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
