package storage

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Layered reads through a fast cache in front of a durable primary.
// Writes go to the primary and then through to the cache. A read that raced
// the write can still refill the cache with the older value, so the cache
// should be given a TTL.
type Layered struct {
	primary Storage
	cache   Storage
	logger  *zap.Logger
	sfg     singleflight.Group // Prevents cache stampede
}

func NewLayered(primary, cache Storage, logger *zap.Logger) *Layered {
	return &Layered{
		primary: primary,
		cache:   cache,
		logger:  logger,
	}
}

func (l *Layered) Get(ctx context.Context, key string) ([]byte, error) {
	// Use singleflight to prevent multiple concurrent cache misses for same key
	v, err, _ := l.sfg.Do(key, func() (interface{}, error) {
		value, err := l.cache.Get(ctx, key)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrNotFound) {
			l.logger.Warn("cache get error", zap.String("key", key), zap.Error(err))
		}

		value, err = l.primary.Get(ctx, key)
		if err != nil {
			return nil, err
		}

		if errSet := l.cache.Set(ctx, key, value); errSet != nil {
			l.logger.Warn("cache set error", zap.String("key", key), zap.Error(errSet))
		}
		return value, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]byte), nil
}

func (l *Layered) Set(ctx context.Context, key string, value []byte) error {
	if err := l.primary.Set(ctx, key, value); err != nil {
		return err
	}
	// Drop any read in flight so it cannot hand out the value being replaced.
	l.sfg.Forget(key)
	if err := l.cache.Set(ctx, key, value); err != nil {
		l.logger.Warn("cache set error", zap.String("key", key), zap.Error(err))
		l.invalidate(key)
	}
	return nil
}

func (l *Layered) Delete(ctx context.Context, key string) error {
	if err := l.primary.Delete(ctx, key); err != nil {
		return err
	}
	l.invalidate(key)
	return nil
}

func (l *Layered) invalidate(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.cache.Delete(ctx, key); err != nil {
		l.logger.Warn("cache invalidate error", zap.String("key", key), zap.Error(err))
	}
}
