package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "cartsync"

type RedisStorage struct {
	client  *redis.Client
	prefix  string
	baseTTL time.Duration
}

// NewRedisStorage stores values under "<prefix>:<key>". A zero ttl keeps values
// forever; otherwise each write gets ttl plus up to four minutes of jitter.
func NewRedisStorage(client *redis.Client, prefix string, ttl time.Duration) *RedisStorage {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStorage{
		client:  client,
		prefix:  prefix,
		baseTTL: ttl,
	}
}

func (r *RedisStorage) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.storageKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

func (r *RedisStorage) Set(ctx context.Context, key string, value []byte) error {
	var ttl time.Duration
	if r.baseTTL > 0 {
		jitter := time.Duration(rand.Intn(5)) * time.Minute
		ttl = r.baseTTL + jitter
	}
	if err := r.client.Set(ctx, r.storageKey(key), value, ttl).Err(); err != nil {
		if isOOM(err) {
			return fmt.Errorf("redis set failed: %w: %v", ErrQuotaExceeded, err)
		}
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisStorage) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.storageKey(key)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisStorage) storageKey(key string) string {
	return fmt.Sprintf("%s:%s", r.prefix, key)
}

// isOOM matches the error redis returns when maxmemory is reached.
func isOOM(err error) bool {
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return strings.HasPrefix(rerr.Error(), "OOM")
	}
	return false
}
