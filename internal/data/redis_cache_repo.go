package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var errEmptyCacheKey = errors.New("cache key cannot be empty")

// RedisCacheRepo is the Redis-backed core.SnapshotCache.
type RedisCacheRepo struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCacheRepo namespaces every key under prefix.
func NewRedisCacheRepo(client redis.UniversalClient, prefix string) *RedisCacheRepo {
	return &RedisCacheRepo{client: client, prefix: prefix}
}

func (r *RedisCacheRepo) fullKey(key string) (string, error) {
	if key == "" {
		return "", errEmptyCacheKey
	}
	return r.prefix + key, nil
}

// Store writes value under key with the given ttl.
func (r *RedisCacheRepo) Store(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	k, err := r.fullKey(key)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, k, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache store %s: %w", key, err)
	}
	return nil
}

// Lookup returns the cached value for key.
func (r *RedisCacheRepo) Lookup(ctx context.Context, key string) ([]byte, bool, error) {
	k, err := r.fullKey(key)
	if err != nil {
		return nil, false, err
	}
	val, err := r.client.Get(ctx, k).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("cache lookup %s: %w", key, err)
	}
	return val, true, nil
}
