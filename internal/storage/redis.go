package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisBackend stores values in Redis, for deployments where SDK state is
// shared across processes. The envelope TTL is authoritative; the native
// Redis expiry is set as well so abandoned keys are eventually reclaimed
// server-side.
type redisBackend struct {
	client *redis.Client
}

func newRedisBackend(url string) (*redisBackend, error) {
	if url == "" {
		return nil, fmt.Errorf("redis backend requires a URL")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &redisBackend{client: redis.NewClient(opt)}, nil
}

// NewRedisBackend wraps an existing client, used by tests with miniredis.
func NewRedisBackend(client *redis.Client) Backend {
	return &redisBackend{client: client}
}

func (r *redisBackend) Open(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (r *redisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (r *redisBackend) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}

func (r *redisBackend) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *redisBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *redisBackend) Close() error {
	return r.client.Close()
}
